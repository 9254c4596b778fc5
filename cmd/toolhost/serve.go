package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/toolhost-dev/toolhost/internal/bridge"
	"github.com/toolhost-dev/toolhost/internal/dispatch"
	"github.com/toolhost-dev/toolhost/internal/policy"
	"github.com/toolhost-dev/toolhost/internal/registry"
	"github.com/toolhost-dev/toolhost/internal/wasm"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve components as MCP tools",
	Long: `Serve loads every component binary in the components directory, watches
it for changes, and exposes the components' tools over the selected MCP
transport. Components start with zero capability grants; use a policy
file to grant network, filesystem or environment access.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("components", "", "directory of component binaries (required)")
	serveCmd.Flags().String("transport", "stdio", "transport: stdio, sse or http")
	serveCmd.Flags().String("listen", ":8080", "listen address for sse and http transports")
	serveCmd.Flags().String("base-url", "", "externally visible base URL for the sse transport")
	serveCmd.Flags().String("policy", "", "policy YAML file with per-component grants and limits")
	serveCmd.Flags().Duration("default-timeout", dispatch.DefaultTimeout, "default per-call deadline")
	serveCmd.Flags().Int("pool", 1, "concurrent sandbox instances per component")
	serveCmd.Flags().Int("memory-limit-mb", wasm.DefaultMemoryLimitMB, "default component memory ceiling")
	serveCmd.Flags().Bool("watch", true, "watch the components directory for changes")
	_ = serveCmd.MarkFlagRequired("components")

	_ = viper.BindPFlag("serve.components", serveCmd.Flags().Lookup("components"))
	_ = viper.BindPFlag("serve.transport", serveCmd.Flags().Lookup("transport"))
	_ = viper.BindPFlag("serve.listen", serveCmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("serve.base_url", serveCmd.Flags().Lookup("base-url"))
	_ = viper.BindPFlag("serve.policy", serveCmd.Flags().Lookup("policy"))
	_ = viper.BindPFlag("serve.default_timeout", serveCmd.Flags().Lookup("default-timeout"))
	_ = viper.BindPFlag("serve.pool", serveCmd.Flags().Lookup("pool"))
	_ = viper.BindPFlag("serve.memory_limit_mb", serveCmd.Flags().Lookup("memory-limit-mb"))
	_ = viper.BindPFlag("serve.watch", serveCmd.Flags().Lookup("watch"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	componentsDir := viper.GetString("serve.components")
	transport := viper.GetString("serve.transport")
	listen := viper.GetString("serve.listen")

	store := policy.NewStore()
	if policyFile := viper.GetString("serve.policy"); policyFile != "" {
		if err := policy.LoadFile(policyFile, store); err != nil {
			return err
		}
		slog.Info("policy applied", "file", policyFile)
	}

	engine := wasm.NewEngine(store, wasm.Config{
		DefaultMemoryLimitMB: viper.GetInt("serve.memory_limit_mb"),
		PoolSize:             viper.GetInt("serve.pool"),
	})
	reg := registry.New(registry.WasmEngine(engine), store, registry.Config{})
	defer func() { _ = reg.Close(context.Background()) }()

	dispatcher := dispatch.New(reg, store, dispatch.Config{
		DefaultTimeout: viper.GetDuration("serve.default_timeout"),
	})
	br := bridge.New(reg, dispatcher, bridge.Config{Name: "toolhost", Version: version})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return br.Run(gctx) })

	// Load after the bridge loop is running so the initial components
	// stream through the same ordered event path as later changes.
	if err := reg.LoadDir(gctx, componentsDir); err != nil {
		stop()
		_ = g.Wait()
		return err
	}

	if viper.GetBool("serve.watch") {
		watcher := registry.NewWatcher(reg, componentsDir, 0)
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if err := serveTransport(g, gctx, br, transport, listen); err != nil {
		stop()
		_ = g.Wait()
		return err
	}

	slog.Info("toolhost serving", "transport", transport, "components", componentsDir)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("shutdown complete")
	return nil
}

// serveTransport attaches the selected transport to the error group.
func serveTransport(g *errgroup.Group, ctx context.Context, br *bridge.Bridge, transport, listen string) error {
	shutdownTimeout := 10 * time.Second

	switch transport {
	case "stdio":
		g.Go(func() error { return br.ServeStdio(ctx) })

	case "sse":
		srv := br.NewSSEServer(viper.GetString("serve.base_url"))
		g.Go(func() error {
			if err := srv.Start(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

	case "http":
		srv := br.NewStreamableHTTPServer()
		g.Go(func() error {
			if err := srv.Start(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

	default:
		return fmt.Errorf("unknown transport %q (want stdio, sse or http)", transport)
	}
	return nil
}
