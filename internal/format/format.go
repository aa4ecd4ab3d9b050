// Package format adapts the goimports formatter to the narrow interface the
// emitter and the transform engine depend on.
package format

import (
	"golang.org/x/tools/imports"
)

// Formatter pretty-prints Go source. filename is used for diagnostics and
// import grouping only; nothing is read from disk.
type Formatter interface {
	Format(src []byte, filename string) ([]byte, error)
}

// Func adapts a plain function to Formatter.
type Func func(src []byte, filename string) ([]byte, error)

func (f Func) Format(src []byte, filename string) ([]byte, error) { return f(src, filename) }

// Imports formats with goimports in format-only mode: imports are sorted and
// grouped but never added or removed, so no module lookup happens.
type Imports struct{}

func (Imports) Format(src []byte, filename string) ([]byte, error) {
	return imports.Process(filename, src, &imports.Options{
		Comments:   true,
		TabIndent:  true,
		TabWidth:   8,
		FormatOnly: true,
	})
}

// Default returns f when it is non-nil and the goimports formatter otherwise.
func Default(f Formatter) Formatter {
	if f == nil {
		return Imports{}
	}
	return f
}
