package katalist

import (
	"context"
	"fmt"
	"go/token"
	"log/slog"
	"net/http"
	"os"

	"github.com/chainguard-dev/clog"
	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"

	"github.com/mark3labs/katalist/internal/format"
)

// Formatter pretty-prints generated and rewritten Go source.
type Formatter = format.Formatter

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Hook observes every response before it is returned to the caller. A
// non-nil error is returned from the verb method alongside the response.
type Hook func(ctx context.Context, resp *Response) error

// OutputSchema embeds a schema name in the client so that every response is
// captured under it.
type OutputSchema struct {
	SchemaName string `validate:"required,goident"`
}

// Config configures a Client.
type Config struct {
	// BaseURL is resolved against relative request URLs.
	BaseURL string `validate:"omitempty,url"`
	// Headers are sent with every request; per-call headers win.
	Headers map[string]string
	// Debug enables debug logging. Defaults to $KATALIST_DEBUG.
	Debug bool
	// SchemaDir receives generated schema modules. Defaults to
	// $KATALIST_SCHEMA_DIR, then <module root of the caller>/schemas.
	SchemaDir string
	// OutputSchema captures every response under a fixed schema name.
	OutputSchema *OutputSchema `validate:"omitempty"`
	// ForceFileTransform rewrites the calling file after every request.
	ForceFileTransform bool
	// TransformToSibling writes rewrites to <name>.transformed.go instead of
	// editing the caller in place.
	TransformToSibling bool

	Transport Doer         `validate:"-"`
	Hooks     []Hook       `validate:"-"`
	Logger    *clog.Logger `validate:"-"`
	Formatter Formatter    `validate:"-"`
}

// envDefaults are read from the environment when the matching Config field
// is unset.
type envDefaults struct {
	Debug     bool   `env:"KATALIST_DEBUG"`
	SchemaDir string `env:"KATALIST_SCHEMA_DIR"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// goident accepts exported Go identifiers, the only names a generated
	// schema type can carry.
	_ = v.RegisterValidation("goident", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return token.IsIdentifier(s) && token.IsExported(s)
	})
	return v
}

// resolve validates cfg and fills defaults from lookuper.
func (cfg Config) resolve(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("katalist: invalid config: %w", err)
	}
	var env envDefaults
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &env, Lookuper: lookuper}); err != nil {
		return cfg, fmt.Errorf("katalist: read environment: %w", err)
	}
	if !cfg.Debug {
		cfg.Debug = env.Debug
	}
	if cfg.SchemaDir == "" {
		cfg.SchemaDir = env.SchemaDir
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = newLogger(cfg.Debug)
	}
	return cfg, nil
}

func newLogger(debug bool) *clog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return clog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
