package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mark3labs/katalist/internal/errdefs"
	"github.com/mark3labs/katalist/internal/transform"
)

// TransformConfig captures the inputs of the transform command.
type TransformConfig struct {
	File       string
	SchemaDir  string
	Functions  []string
	ConfigPath string
	WriteNew   bool
	DryRun     bool
	Verbose    bool
}

var transformRunner = runTransform

func newTransformCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transform <file>",
		Short: "Rewrite tagged katalist calls in a Go source file",
		Long: "Rewrite katalist calls tagged with generation options so they decode into the generated schema types, " +
			"and strip the generation options. Running it twice changes nothing.",
		Example: strings.TrimSpace(`  katalist transform ./cmd/app/main.go
  katalist transform ./client.go --functions fetchUser,listUsers --write-new
  katalist transform ./client.go --dry-run`),
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				return newUsageError(fmt.Sprintf("transform: expected one file, got %d\n\n%s", len(args), cmd.UsageString()))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveTransformConfig(cmd, args)
			if err != nil {
				return err
			}
			return transformRunner(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.Bool("write-new", false, "Write <name>.transformed.go next to the source instead of overwriting it")
	flags.StringSlice("functions", nil, "Only rewrite clients constructed in these functions")
	flags.String("schema-dir", "", "Schema directory (defaults to <module root>/schemas)")
	flags.Bool("dry-run", false, "Print the rewritten source without writing it")

	return cmd
}

func resolveTransformConfig(cmd *cobra.Command, args []string) (*TransformConfig, error) {
	fc, path, err := loadConfigFile(cmd)
	if err != nil {
		return nil, err
	}
	cfg := TransformConfig{ConfigPath: path, Functions: fc.Functions}
	setString(&cfg.File, fc.Input)
	setString(&cfg.SchemaDir, fc.SchemaDir)
	setBool(&cfg.WriteNew, fc.WriteNew)
	setBool(&cfg.DryRun, fc.DryRun)
	setBool(&cfg.Verbose, fc.Verbose)

	if len(args) == 1 {
		cfg.File = args[0]
	}
	if err := applyTransformFlagOverrides(cmd.Flags(), &cfg); err != nil {
		return nil, err
	}

	cfg.File = strings.TrimSpace(cfg.File)
	cfg.SchemaDir = strings.TrimSpace(cfg.SchemaDir)
	cfg.Functions = sanitizeList(cfg.Functions)
	if cfg.File == "" {
		return nil, newUsageError("transform: a source file is required (argument or config input)")
	}
	if cfg.DryRun && cfg.WriteNew {
		return nil, newUsageError("transform: --dry-run and --write-new are mutually exclusive")
	}
	return &cfg, nil
}

func applyTransformFlagOverrides(flags *pflag.FlagSet, cfg *TransformConfig) error {
	if err := overrideString(flags, "schema-dir", &cfg.SchemaDir); err != nil {
		return err
	}
	for name, dst := range map[string]*bool{
		"write-new": &cfg.WriteNew,
		"dry-run":   &cfg.DryRun,
		"verbose":   &cfg.Verbose,
	} {
		if err := overrideBool(flags, name, dst); err != nil {
			return err
		}
	}
	if flags.Changed("functions") {
		value, err := flags.GetStringSlice("functions")
		if err != nil {
			return err
		}
		cfg.Functions = value
	}
	return nil
}

func runTransform(ctx context.Context, cfg *TransformConfig) error {
	ctx = clog.WithLogger(ctx, newLogger(os.Stderr, cfg.Verbose))

	eng := &transform.Engine{}
	if cfg.SchemaDir != "" {
		dir, err := resolveSchemaDir(cfg.SchemaDir)
		if err != nil {
			return err
		}
		eng.SchemaDir = dir
	}

	if cfg.DryRun {
		out, err := eng.Render(ctx, cfg.File, cfg.Functions...)
		if err != nil {
			return wrapTransformError(err, cfg.File)
		}
		_, err = os.Stdout.Write(out)
		return err
	}

	before, _ := os.ReadFile(cfg.File)
	out, err := eng.Transform(ctx, cfg.File, cfg.WriteNew, cfg.Functions...)
	if err != nil {
		return wrapTransformError(err, cfg.File)
	}
	if bytes.Equal(before, out) {
		fmt.Fprintf(os.Stdout, "Nothing to rewrite in %s\n", cfg.File)
		return nil
	}
	target := cfg.File
	if cfg.WriteNew {
		target = transform.SiblingPath(cfg.File)
	}
	fmt.Fprintf(os.Stdout, "Transformed %s\n", target)
	return nil
}

func wrapTransformError(err error, file string) error {
	switch {
	case errors.Is(err, errdefs.ErrFileNotFound):
		return newUsageError(fmt.Sprintf("transform: %v", err))
	case errors.Is(err, errdefs.ErrIORead):
		return newUsageError(fmt.Sprintf("transform: %v\nHint: check that %s is a readable file.", err, file))
	case errors.Is(err, errdefs.ErrParse):
		return newUsageError(fmt.Sprintf("transform: %s does not parse: %v", file, err))
	case errors.Is(err, errdefs.ErrModuleNotFound):
		return newUsageError(fmt.Sprintf("transform: %v\nHint: run inside a Go module or pass --schema-dir within one.", err))
	case errors.Is(err, errdefs.ErrIOWrite):
		return wrapOutputError(err, file)
	}
	return err
}
