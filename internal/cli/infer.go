package cli

import (
	"context"
	"errors"
	"fmt"
	"go/token"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mark3labs/katalist"
	"github.com/mark3labs/katalist/internal/emitter/goemitter"
	"github.com/mark3labs/katalist/internal/errdefs"
	"github.com/mark3labs/katalist/internal/modpath"
	"github.com/mark3labs/katalist/internal/schema"
	"github.com/mark3labs/katalist/internal/transform"
)

// InferConfig captures all inputs that influence the infer command after
// merging defaults, config file values, and CLI overrides.
type InferConfig struct {
	Input      string
	Name       string
	SchemaDir  string
	Headers    map[string]string
	ConfigPath string
	DryRun     bool
	Print      bool
	Verbose    bool
}

var inferRunner = runInfer

func newInferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "infer",
		Short: "Synthesize a schema module from a JSON document",
		Long: "Synthesize a goskema schema module from a JSON file or the body of a GET request. " +
			"Options can be provided via flags, config files, or defaults.",
		Example: strings.TrimSpace(`  katalist infer --input user.json --name User
  katalist infer --input https://api.example.com/users/1 --name User --schema-dir ./internal/schemas
  katalist --config katalist.yaml infer --dry-run --print`),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveInferConfig(cmd)
			if err != nil {
				return err
			}
			return inferRunner(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("input", "", "Path or http(s) URL of the JSON document")
	flags.String("name", "", "Exported Go name of the schema (e.g. User)")
	flags.String("schema-dir", "", "Schema directory (defaults to <module root>/schemas)")
	flags.StringToString("header", nil, "Request header for URL inputs (key=value, repeatable)")
	flags.Bool("dry-run", false, "Preview the planned schema module without writing it")
	flags.Bool("print", false, "Print the synthesized descriptor as JSON")

	return cmd
}

func resolveInferConfig(cmd *cobra.Command) (*InferConfig, error) {
	fc, path, err := loadConfigFile(cmd)
	if err != nil {
		return nil, err
	}
	cfg := InferConfig{ConfigPath: path, Headers: fc.Headers}
	setString(&cfg.Input, fc.Input)
	setString(&cfg.Name, fc.Name)
	setString(&cfg.SchemaDir, fc.SchemaDir)
	setBool(&cfg.DryRun, fc.DryRun)
	setBool(&cfg.Print, fc.Print)
	setBool(&cfg.Verbose, fc.Verbose)

	if err := applyInferFlagOverrides(cmd.Flags(), &cfg); err != nil {
		return nil, err
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyInferFlagOverrides(flags *pflag.FlagSet, cfg *InferConfig) error {
	for name, dst := range map[string]*string{
		"input":      &cfg.Input,
		"name":       &cfg.Name,
		"schema-dir": &cfg.SchemaDir,
	} {
		if err := overrideString(flags, name, dst); err != nil {
			return err
		}
	}
	for name, dst := range map[string]*bool{
		"dry-run": &cfg.DryRun,
		"print":   &cfg.Print,
		"verbose": &cfg.Verbose,
	} {
		if err := overrideBool(flags, name, dst); err != nil {
			return err
		}
	}
	if flags.Changed("header") {
		value, err := flags.GetStringToString("header")
		if err != nil {
			return err
		}
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string, len(value))
		}
		for k, v := range value {
			cfg.Headers[k] = v
		}
	}
	return nil
}

func (c *InferConfig) normalize() {
	c.Input = strings.TrimSpace(c.Input)
	c.Name = strings.TrimSpace(c.Name)
	c.SchemaDir = strings.TrimSpace(c.SchemaDir)
}

func (c *InferConfig) validate() error {
	if c.Input == "" {
		return newUsageError("infer: --input is required (set via flag or config file)")
	}
	if c.Name == "" {
		return newUsageError("infer: --name is required (set via flag or config file)")
	}
	if !token.IsIdentifier(c.Name) || !token.IsExported(c.Name) {
		return newUsageError(fmt.Sprintf("infer: --name %q must be an exported Go identifier (e.g. User)", c.Name))
	}
	return nil
}

func runInfer(ctx context.Context, cfg *InferConfig) error {
	ctx = clog.WithLogger(ctx, newLogger(os.Stderr, cfg.Verbose))
	log := clog.FromContext(ctx)

	data, err := readInput(ctx, cfg)
	if err != nil {
		return err
	}

	desc, err := schema.SynthesizeJSON(data, cfg.Name)
	if err != nil {
		if errors.Is(err, errdefs.ErrUnsupportedShape) {
			return newUsageError(fmt.Sprintf("infer: %v\nHint: the document must be an object or a non-empty array of objects.", err))
		}
		return err
	}
	if cfg.Print {
		out, err := json.MarshalIndent(desc, "", "  ")
		if err != nil {
			return fmt.Errorf("infer: encode descriptor: %w", err)
		}
		fmt.Fprintln(os.Stdout, string(out))
	}

	dir, err := resolveSchemaDir(cfg.SchemaDir)
	if err != nil {
		return err
	}
	res, err := goemitter.Emit(ctx, desc, goemitter.Options{
		Dir:    dir,
		Title:  cfg.Name,
		DryRun: cfg.DryRun,
	})
	if err != nil {
		return wrapOutputError(err, dir)
	}
	if cfg.DryRun {
		paths := make([]string, 0, len(res.Planned))
		for _, p := range res.Planned {
			paths = append(paths, p.RelPath)
		}
		printPlan(dir, len(res.Planned), paths)
		return nil
	}
	log.Infof("wrote %s (package %s)", res.Path, res.PackageName)
	fmt.Fprintf(os.Stdout, "Wrote schema %s to %s\n", cfg.Name, res.Path)
	return nil
}

func readInput(ctx context.Context, cfg *InferConfig) ([]byte, error) {
	lower := strings.ToLower(cfg.Input)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		data, err := os.ReadFile(cfg.Input)
		if err != nil {
			return nil, newUsageError(fmt.Sprintf("infer: read input %q: %v", cfg.Input, err))
		}
		return data, nil
	}

	client, err := katalist.NewClient(katalist.Config{Headers: cfg.Headers, Debug: cfg.Verbose})
	if err != nil {
		return nil, fmt.Errorf("infer: %w", err)
	}
	resp, err := client.Get(ctx, cfg.Input)
	if err != nil {
		return nil, fmt.Errorf("infer: fetch %s: %w", cfg.Input, err)
	}
	if resp.Status < http.StatusOK || resp.Status >= http.StatusMultipleChoices {
		return nil, newUsageError(fmt.Sprintf("infer: fetch %s: unexpected status %d", cfg.Input, resp.Status))
	}
	return resp.Body, nil
}

// resolveSchemaDir returns dir as an absolute path, defaulting to the
// schemas directory at the root of the module enclosing the working
// directory, then ./schemas.
func resolveSchemaDir(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}
		if mod, err := modpath.Find(wd); err == nil {
			return filepath.Join(mod.Root, transform.DefaultSchemaDir), nil
		}
		return filepath.Join(wd, transform.DefaultSchemaDir), nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve schema directory: %w", err)
	}
	return abs, nil
}

func printPlan(outDir string, count int, relPaths []string) {
	fmt.Fprintf(os.Stdout, "Planned writes to %s (%d files):\n", outDir, count)
	for _, p := range relPaths {
		fmt.Fprintf(os.Stdout, "- %s\n", p)
	}
}

func wrapOutputError(err error, outDir string) error {
	if errors.Is(err, errdefs.ErrIOWrite) {
		return newUsageError(fmt.Sprintf("output error for %s: %v\nHint: choose a different --schema-dir or check directory permissions.", outDir, err))
	}
	return err
}

func overrideString(flags *pflag.FlagSet, name string, dst *string) error {
	if !flags.Changed(name) {
		return nil
	}
	value, err := flags.GetString(name)
	if err != nil {
		return err
	}
	*dst = strings.TrimSpace(value)
	return nil
}

func overrideBool(flags *pflag.FlagSet, name string, dst *bool) error {
	if !flags.Changed(name) {
		return nil
	}
	value, err := flags.GetBool(name)
	if err != nil {
		return err
	}
	*dst = value
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
