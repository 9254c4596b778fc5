package hostfuncs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tetratelabs/wazero/api"
	"github.com/toolhost-dev/toolhost/wireformat"
)

// maxFSReadBytes caps file contents copied into guest memory.
const maxFSReadBytes = 10 << 20

// FSAccess reads or writes a host file on behalf of a component after a
// filesystem capability check on the cleaned absolute path.
func FSAccess(ctx context.Context, mod api.Module, packed uint64, checker Checker) uint64 {
	fail := func(detail *wireformat.ErrorDetail) uint64 {
		return writeGuestResponse(ctx, mod, wireformat.FSResponseWire{Error: detail})
	}

	requestBytes, ok := readGuestBytes(ctx, mod, packed)
	if !ok {
		return fail(&wireformat.ErrorDetail{Message: "failed to read FS request from guest memory", Type: "internal"})
	}

	var request wireformat.FSRequestWire
	if err := json.Unmarshal(requestBytes, &request); err != nil {
		return fail(&wireformat.ErrorDetail{Message: fmt.Sprintf("malformed FS request: %v", err), Type: "internal"})
	}

	if request.Op != "read" && request.Op != "write" {
		return fail(&wireformat.ErrorDetail{Message: fmt.Sprintf("unknown FS op %q", request.Op), Type: "validation"})
	}

	// The capability check happens on the cleaned path, so traversal
	// tricks are normalized away before matching.
	cleaned := filepath.Clean(request.Path)
	if !filepath.IsAbs(cleaned) {
		return fail(&wireformat.ErrorDetail{Message: "path must be absolute", Type: "validation"})
	}

	componentID := callerID(ctx, mod)
	if err := checker.Check(componentID, "fs", request.Op+":"+cleaned); err != nil {
		slog.WarnContext(ctx, "filesystem access denied",
			"component", componentID, "op", request.Op, "path", cleaned, "error", err)
		return fail(&wireformat.ErrorDetail{Message: err.Error(), Type: "capability", Code: "fs"})
	}

	switch request.Op {
	case "read":
		f, err := os.Open(cleaned)
		if err != nil {
			return fail(&wireformat.ErrorDetail{Message: err.Error(), Type: "config", Code: errnoCode(err)})
		}
		defer func() { _ = f.Close() }()

		data, err := io.ReadAll(io.LimitReader(f, maxFSReadBytes+1))
		if err != nil {
			return fail(&wireformat.ErrorDetail{Message: err.Error(), Type: "internal"})
		}
		truncated := false
		if len(data) > maxFSReadBytes {
			data = data[:maxFSReadBytes]
			truncated = true
		}
		return writeGuestResponse(ctx, mod, wireformat.FSResponseWire{
			Data:      base64.StdEncoding.EncodeToString(data),
			Size:      int64(len(data)),
			Truncated: truncated,
		})

	default: // write
		data, err := base64.StdEncoding.DecodeString(request.Data)
		if err != nil {
			return fail(&wireformat.ErrorDetail{Message: "write data is not valid base64", Type: "validation"})
		}
		if err := os.WriteFile(cleaned, data, 0o644); err != nil {
			return fail(&wireformat.ErrorDetail{Message: err.Error(), Type: "config", Code: errnoCode(err)})
		}
		return writeGuestResponse(ctx, mod, wireformat.FSResponseWire{Size: int64(len(data))})
	}
}

func errnoCode(err error) string {
	switch {
	case os.IsNotExist(err):
		return "ENOENT"
	case os.IsPermission(err):
		return "EACCES"
	default:
		return ""
	}
}
