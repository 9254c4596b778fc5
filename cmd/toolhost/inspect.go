package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolhost-dev/toolhost/internal/policy"
	"github.com/toolhost-dev/toolhost/internal/registry"
	"github.com/toolhost-dev/toolhost/internal/schema"
	"github.com/toolhost-dev/toolhost/internal/wasm"
)

var inspectPretty bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <component.wasm>",
	Short: "Introspect a component binary and print its call schema",
	Long: `Inspect loads one component binary in an isolated sandbox with zero
capability grants, runs the interface introspector, and prints the
resulting call schema as canonical JSON. No server is started.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectPretty, "pretty", false, "indent the schema output")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	path := args[0]

	binary, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading component: %w", err)
	}

	engine := wasm.NewEngine(policy.NewStore(), wasm.Config{})
	component, err := engine.Load(ctx, registry.IDForPath(path), binary, policy.Limits{})
	if err != nil {
		return err
	}
	defer func() { _ = component.Close(context.Background()) }()

	described, err := component.DescribeInterface(ctx)
	if err != nil {
		return fmt.Errorf("describing interface: %w", err)
	}
	raw, err := schema.ParseRawInterface(described)
	if err != nil {
		return err
	}
	callSchema, err := schema.Introspect(raw)
	if err != nil {
		return err
	}

	out := callSchema.CanonicalJSON()
	if inspectPretty {
		var indented bytes.Buffer
		if err := json.Indent(&indented, out, "", "  "); err == nil {
			out = indented.Bytes()
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
