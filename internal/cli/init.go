package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"
)

// InitConfig captures the options for the init command.
type InitConfig struct {
	OutputPath string
	Force      bool
	Verbose    bool
}

const defaultConfigName = "katalist.yaml"

var initRunner = runInit

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a sample katalist configuration file",
		Long:  "Scaffold a commented katalist configuration file that documents available options.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := cmd.Flags().GetString("out")
			if err != nil {
				return err
			}
			force, err := cmd.Flags().GetBool("force")
			if err != nil {
				return err
			}
			verbose, err := cmd.Flags().GetBool("verbose")
			if err != nil {
				return err
			}
			cfg := &InitConfig{
				OutputPath: out,
				Force:      force,
				Verbose:    verbose,
			}
			return initRunner(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String("out", defaultConfigName, "Where to write the sample config file")
	cmd.Flags().Bool("force", false, "Overwrite the target file if it already exists")

	return cmd
}

func runInit(ctx context.Context, cfg *InitConfig) error {
	log := newLogger(os.Stderr, cfg.Verbose)
	ctx = clog.WithLogger(ctx, log)

	out := strings.TrimSpace(cfg.OutputPath)
	if out == "" {
		out = defaultConfigName
	}
	absPath, err := filepath.Abs(out)
	if err != nil {
		return fmt.Errorf("init: resolve output path: %w", err)
	}

	if st, err := os.Stat(absPath); err == nil && !cfg.Force {
		if st.Mode().IsRegular() {
			return newUsageError(fmt.Sprintf("init: %q already exists (use --force to overwrite)", absPath))
		}
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return newUsageError(fmt.Sprintf("init: cannot create parent directory: %v", err))
	}

	content := strings.TrimSpace(sampleConfigYAML) + "\n"

	tmp := absPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return newUsageError(fmt.Sprintf("init: cannot write temp file: %v\nHint: choose a different --out or check directory permissions.", err))
	}
	if err := os.Rename(tmp, absPath); err != nil {
		_ = os.Remove(tmp)
		return newUsageError(fmt.Sprintf("init: cannot place file at %s: %v", absPath, err))
	}
	clog.FromContext(ctx).Debugf("init: wrote %d bytes", len(content))
	fmt.Fprintf(os.Stdout, "Wrote sample config to %s\n", absPath)
	return nil
}

// sampleConfigYAML documents every key the config file accepts.
const sampleConfigYAML = `# katalist configuration (YAML)
# All fields are optional. Command-line flags override config values.

# infer: path or http(s) URL of the JSON document.
# transform: the Go source file to rewrite when no argument is given.
# input: ./testdata/user.json

# infer: exported Go name of the schema. Files are written as <name>.go.
# name: User

# Directory of the generated schema package. Defaults to
# <module root>/schemas.
# schemaDir: ./schemas

# infer: request headers sent when input is a URL.
# headers:
#   Authorization: Bearer ${API_TOKEN}

# transform: only rewrite clients constructed in these functions
# (comma-separated or list).
# functions: [fetchUser, listUsers]

# transform: write <name>.transformed.go instead of overwriting the source.
# writeNew: false

# Preview outputs without writing files.
# dryRun: false

# infer: print the synthesized descriptor as JSON.
# print: false

# Enable verbose logging.
# verbose: false
`
