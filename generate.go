package katalist

import (
	"context"
	"os"
	"path/filepath"

	"github.com/mark3labs/katalist/internal/emitter/goemitter"
	"github.com/mark3labs/katalist/internal/modpath"
	"github.com/mark3labs/katalist/internal/schema"
	"github.com/mark3labs/katalist/internal/transform"
)

// GenerateSchema synthesizes a schema from the JSON document data and writes
// <dir>/<title>.go. An empty dir selects ./schemas. It returns the written
// path. Documents that are neither an object nor an array of objects fail
// with ErrUnsupportedShape and nothing is written.
func GenerateSchema(ctx context.Context, data []byte, title, dir string) (string, error) {
	if dir == "" {
		dir = defaultSchemaDir("")
	}
	return generate(ctx, data, title, dir, nil)
}

// TransformFile rewrites the katalist call sites in path. See the transform
// engine for the passes applied; functionNames limits constructor-bound
// clients to those functions.
func TransformFile(ctx context.Context, path string, writeNewFile bool, functionNames ...string) ([]byte, error) {
	return newEngine("", nil).Transform(ctx, path, writeNewFile, functionNames...)
}

func generate(ctx context.Context, data []byte, title, dir string, f Formatter) (string, error) {
	desc, err := schema.SynthesizeJSON(data, title)
	if err != nil {
		return "", err
	}
	res, err := goemitter.Emit(ctx, desc, goemitter.Options{Dir: dir, Title: title, Formatter: f})
	if err != nil {
		return "", err
	}
	return res.Path, nil
}

func newEngine(schemaDir string, f Formatter) *transform.Engine {
	return &transform.Engine{SchemaDir: schemaDir, Formatter: f}
}

func defaultSchemaDir(sourceFile string) string {
	if sourceFile != "" {
		if mod, err := modpath.Find(filepath.Dir(sourceFile)); err == nil {
			return filepath.Join(mod.Root, transform.DefaultSchemaDir)
		}
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, transform.DefaultSchemaDir)
	}
	return transform.DefaultSchemaDir
}
