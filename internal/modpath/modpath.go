// Package modpath maps directories to Go import paths using the nearest
// go.mod file.
package modpath

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"

	"github.com/mark3labs/katalist/internal/errdefs"
)

// Module describes the module enclosing a directory.
type Module struct {
	Root string // absolute directory holding go.mod
	Path string // module path declared in go.mod
}

// Find walks up from dir until it finds a go.mod declaring a module path.
func Find(dir string) (*Module, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errdefs.New(errdefs.ModuleNotFound, dir, err, "modpath: resolve directory")
	}
	for cur := abs; ; {
		data, err := os.ReadFile(filepath.Join(cur, "go.mod"))
		switch {
		case err == nil:
			if mp := modfile.ModulePath(data); mp != "" {
				return &Module{Root: cur, Path: mp}, nil
			}
			return nil, errdefs.New(errdefs.ModuleNotFound, cur, nil, "modpath: go.mod declares no module path")
		case !errors.Is(err, os.ErrNotExist):
			return nil, errdefs.New(errdefs.ModuleNotFound, cur, err, "modpath: read go.mod")
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return nil, errdefs.New(errdefs.ModuleNotFound, abs, nil, "modpath: no go.mod above directory")
		}
		cur = parent
	}
}

// ImportPath returns the import path of the package stored in dir.
func ImportPath(dir string) (string, error) {
	mod, err := Find(dir)
	if err != nil {
		return "", err
	}
	return mod.ImportPath(dir)
}

// ImportPath returns the import path of dir, which must live inside m.
func (m *Module) ImportPath(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errdefs.New(errdefs.ModuleNotFound, dir, err, "modpath: resolve directory")
	}
	rel, err := filepath.Rel(m.Root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errdefs.New(errdefs.ModuleNotFound, abs, err, "modpath: directory is outside module %s", m.Path)
	}
	if rel == "." {
		return m.Path, nil
	}
	return path.Join(m.Path, filepath.ToSlash(rel)), nil
}
