package goemitter

import (
	"context"
	"fmt"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/mark3labs/katalist/internal/errdefs"
	"github.com/mark3labs/katalist/internal/format"
)

// Options controls how a schema module is rendered and stored.
type Options struct {
	Dir         string // required; schema directory that holds one file per title
	Title       string // required; exported Go identifier
	PackageName string // defaults to the sanitized base name of Dir
	DryRun      bool   // don't write, only plan
	Formatter   format.Formatter
}

// PlannedFile describes a file the emitter intends to write.
type PlannedFile struct {
	RelPath string
	Size    int
	Mode    os.FileMode
}

// Result returns the storage path and the resolved package name.
type Result struct {
	Path        string
	PackageName string
	Planned     []PlannedFile
}

// FileName returns the module file name for title.
func FileName(title string) string { return title + ".go" }

// Emit renders the schema module for desc and writes it to <Dir>/<Title>.go,
// replacing any previous content.
func Emit(ctx context.Context, desc *openapi3.Schema, opts Options) (*Result, error) {
	if desc == nil {
		return nil, fmt.Errorf("goemitter: nil descriptor")
	}
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, fmt.Errorf("goemitter: Dir is required")
	}
	title := strings.TrimSpace(opts.Title)
	if !token.IsIdentifier(title) || !token.IsExported(title) {
		return nil, fmt.Errorf("goemitter: title %q is not an exported Go identifier", opts.Title)
	}
	pkg := strings.TrimSpace(opts.PackageName)
	if pkg == "" {
		pkg = PackageName(opts.Dir)
	}

	src, err := renderModule(pkg, title, desc)
	if err != nil {
		return nil, err
	}
	name := FileName(title)
	formatted, err := format.Default(opts.Formatter).Format(src, name)
	if err != nil {
		return nil, fmt.Errorf("goemitter: format %s: %w", name, err)
	}

	path := filepath.Join(opts.Dir, name)
	res := &Result{
		Path:        path,
		PackageName: pkg,
		Planned:     []PlannedFile{{RelPath: name, Size: len(formatted), Mode: 0o644}},
	}
	if opts.DryRun {
		return res, nil
	}
	if err := writeFile(path, formatted); err != nil {
		return nil, err
	}
	clog.FromContext(ctx).Debugf("wrote schema module %s", path)
	return res, nil
}

// writeFile replaces path atomically via a temp file and rename.
func writeFile(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errdefs.New(errdefs.IOWriteError, filepath.Dir(path), err, "goemitter: create schema directory")
	}
	tmp := path + ".tmp-" + time.Now().Format("20060102150405.000000000")
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return errdefs.New(errdefs.IOWriteError, path, err, "goemitter: write temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errdefs.New(errdefs.IOWriteError, path, err, "goemitter: place schema module")
	}
	return nil
}

// PackageName derives a Go package name from a schema directory.
func PackageName(dir string) string {
	base := strings.ToLower(filepath.Base(filepath.Clean(dir)))
	var b strings.Builder
	for _, r := range base {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	name := b.String()
	if name == "" || (name[0] >= '0' && name[0] <= '9') || token.IsKeyword(name) {
		return "schemas"
	}
	return name
}
