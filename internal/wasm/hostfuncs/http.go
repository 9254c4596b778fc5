package hostfuncs

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tetratelabs/wazero/api"
	"github.com/toolhost-dev/toolhost/internal/policy"
	"github.com/toolhost-dev/toolhost/wireformat"
)

// maxHTTPBodyBytes caps response bodies copied into guest memory.
const maxHTTPBodyBytes = 10 << 20

// maxRedirects bounds a redirect chain, matching net/http's default.
const maxRedirects = 10

// redirectPolicy re-runs the network capability check on every redirect
// target. A granted host answering 302 cannot steer a component to a
// host it was never granted.
func redirectPolicy(componentID string, checker Checker) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return checker.Check(componentID, "network", req.URL.Hostname())
	}
}

var httpTransport = &http.Transport{
	TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	MaxIdleConns:        16,
	IdleConnTimeout:     30 * time.Second,
	TLSHandshakeTimeout: 10 * time.Second,
}

// HTTPRequest performs an HTTP request on behalf of a component after a
// network capability check against the target host.
func HTTPRequest(ctx context.Context, mod api.Module, packed uint64, checker Checker) uint64 {
	fail := func(detail *wireformat.ErrorDetail) uint64 {
		return writeGuestResponse(ctx, mod, wireformat.HTTPResponseWire{Error: detail})
	}

	requestBytes, ok := readGuestBytes(ctx, mod, packed)
	if !ok {
		return fail(&wireformat.ErrorDetail{Message: "failed to read HTTP request from guest memory", Type: "internal"})
	}

	var request wireformat.HTTPRequestWire
	if err := json.Unmarshal(requestBytes, &request); err != nil {
		return fail(&wireformat.ErrorDetail{Message: fmt.Sprintf("malformed HTTP request: %v", err), Type: "internal"})
	}

	parsedURL, err := url.Parse(request.URL)
	if err != nil || parsedURL.Hostname() == "" {
		return fail(&wireformat.ErrorDetail{Message: fmt.Sprintf("invalid URL %q", request.URL), Type: "config"})
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fail(&wireformat.ErrorDetail{Message: fmt.Sprintf("unsupported scheme %q", parsedURL.Scheme), Type: "config"})
	}

	componentID := callerID(ctx, mod)
	if err := checker.Check(componentID, "network", parsedURL.Hostname()); err != nil {
		slog.WarnContext(ctx, "network egress denied",
			"component", componentID, "host", parsedURL.Hostname(), "error", err)
		return fail(&wireformat.ErrorDetail{Message: err.Error(), Type: "capability", Code: "network"})
	}

	httpCtx, cancel := contextFromWire(ctx, request.Context)
	defer cancel()

	var body io.Reader
	if request.Body != "" {
		decoded, err := base64.StdEncoding.DecodeString(request.Body)
		if err != nil {
			return fail(&wireformat.ErrorDetail{Message: "request body is not valid base64", Type: "validation"})
		}
		body = strings.NewReader(string(decoded))
	}

	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(httpCtx, method, request.URL, body)
	if err != nil {
		return fail(&wireformat.ErrorDetail{Message: err.Error(), Type: "config"})
	}
	for name, values := range request.Headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	client := &http.Client{
		Transport:     httpTransport,
		CheckRedirect: redirectPolicy(componentID, checker),
	}
	resp, err := client.Do(req)
	if err != nil {
		var denial *policy.DenialError
		if errors.As(err, &denial) {
			slog.WarnContext(ctx, "network egress denied on redirect",
				"component", componentID, "host", denial.Requested, "error", denial)
			return fail(&wireformat.ErrorDetail{Message: denial.Error(), Type: "capability", Code: "network"})
		}
		errType := "network"
		if httpCtx.Err() != nil {
			errType = "timeout"
		}
		return fail(&wireformat.ErrorDetail{Message: err.Error(), Type: errType})
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBodyBytes+1))
	if err != nil {
		return fail(&wireformat.ErrorDetail{Message: err.Error(), Type: "network"})
	}
	truncated := false
	if len(respBody) > maxHTTPBodyBytes {
		respBody = respBody[:maxHTTPBodyBytes]
		truncated = true
	}

	return writeGuestResponse(ctx, mod, wireformat.HTTPResponseWire{
		StatusCode:    resp.StatusCode,
		Headers:       resp.Header,
		Body:          base64.StdEncoding.EncodeToString(respBody),
		BodyTruncated: truncated,
	})
}
