// Package probe guesses which source file called into katalist by reading a
// goroutine stack trace. It is a best-effort heuristic: a miss means "do not
// transform", never an error.
package probe

import (
	"go/build"
	"path/filepath"
	"regexp"
	"runtime"
	"runtime/debug"
	"strings"
)

// LibraryPath is the import path prefix of the katalist packages.
const LibraryPath = "github.com/mark3labs/katalist"

// Frame is one caller frame recovered from a trace.
type Frame struct {
	File       string // slash-separated source path
	Function   string // bare function name, "anonymous" for closures
	Library    bool
	ThirdParty bool
}

// Probe classifies frames. The zero value is not useful; use New.
type Probe struct {
	// ModuleFragments mark paths inside the library's module cache copy.
	ModuleFragments []string
	// SourceDir is the library's own source directory. Non-test files in it
	// and under its internal/ tree belong to the library.
	SourceDir string
	// ThirdPartyFragments mark dependency install locations.
	ThirdPartyFragments []string
	// KnownFragments mark dependencies regardless of where they live.
	KnownFragments []string
}

var (
	// pathToken matches a whole trace line ending in "<path>.go:<line>" plus
	// optional column and "+0x" offset. Paths may contain spaces.
	pathToken = regexp.MustCompile(`^(?:.*?[\s(])??(?:file://)?((?:[A-Za-z]:)?[/\\].*?\.go):\d+(?::\d+)?\)?(?:\s+\+0x[0-9a-fA-F]+)?$`)
	closure   = regexp.MustCompile(`^(func\d+|\d+)$`)
)

// New returns a probe configured for the running binary.
func New() *Probe {
	p := &Probe{
		ModuleFragments:     []string{"/pkg/mod/" + LibraryPath + "@"},
		ThirdPartyFragments: []string{"/pkg/mod/", "/vendor/"},
		KnownFragments: []string{
			"golang.org/x/",
			"github.com/goccy/go-json",
			"github.com/getkin/kin-openapi",
			"github.com/chainguard-dev/clog",
			"/src/runtime/",
			"/src/testing/",
			"/src/net/http/",
		},
	}
	if _, file, _, ok := runtime.Caller(0); ok {
		// This file lives in <root>/internal/probe.
		p.SourceDir = normalize(filepath.Dir(filepath.Dir(filepath.Dir(file))))
	}
	if root := build.Default.GOROOT; root != "" {
		p.ThirdPartyFragments = append(p.ThirdPartyFragments, normalize(root)+"/src/")
	}
	return p
}

// Detect inspects the current goroutine's stack.
func (p *Probe) Detect() (Frame, bool) {
	return p.DetectFromTrace(string(debug.Stack()))
}

// DetectFromTrace returns the first frame in trace that is neither library
// code nor a dependency.
func (p *Probe) DetectFromTrace(trace string) (Frame, bool) {
	for _, f := range p.Frames(trace) {
		if !f.Library && !f.ThirdParty {
			return f, true
		}
	}
	return Frame{}, false
}

// Frames extracts and classifies every source path in trace, in order.
func (p *Probe) Frames(trace string) []Frame {
	var frames []Frame
	prev := ""
	for _, line := range strings.Split(trace, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := pathToken.FindStringSubmatch(line)
		if m == nil || strings.Contains(line, "<autogenerated>") {
			prev = line
			continue
		}
		file := normalize(m[1])
		f := Frame{File: file, Function: funcName(prev)}
		f.Library = p.isLibrary(file, prev)
		f.ThirdParty = !f.Library && p.isThirdParty(file)
		frames = append(frames, f)
		prev = ""
	}
	return frames
}

func (p *Probe) isLibrary(file, fnLine string) bool {
	for _, frag := range p.ModuleFragments {
		if strings.Contains(file, frag) {
			return true
		}
	}
	if pkg := funcPackage(fnLine); pkg == LibraryPath || strings.HasPrefix(pkg, LibraryPath+"/internal/") {
		return !strings.HasSuffix(file, "_test.go")
	}
	if p.SourceDir == "" || strings.HasSuffix(file, "_test.go") {
		return false
	}
	dir := filepath.ToSlash(filepath.Dir(file))
	return dir == p.SourceDir || strings.HasPrefix(dir, p.SourceDir+"/internal/")
}

func (p *Probe) isThirdParty(file string) bool {
	for _, frag := range p.ThirdPartyFragments {
		if strings.Contains(file, frag) {
			return true
		}
	}
	for _, frag := range p.KnownFragments {
		if strings.Contains(file, frag) {
			return true
		}
	}
	return false
}

func normalize(path string) string {
	path = strings.TrimPrefix(path, "file://")
	return strings.ReplaceAll(path, `\`, "/")
}

// funcSymbol trims a trace function line to its symbol:
// "main.(*T).M(0x1, ...)" -> "main.(*T).M".
func funcSymbol(line string) string {
	line = strings.TrimPrefix(line, "created by ")
	if i := strings.Index(line, " in goroutine "); i >= 0 {
		line = line[:i]
	}
	if strings.HasSuffix(line, ")") {
		if i := strings.LastIndex(line, "("); i > 0 {
			line = line[:i]
		}
	}
	// Drop type arguments: "main.Map[...]" -> "main.Map".
	if i := strings.Index(line, "["); i >= 0 {
		if j := strings.LastIndex(line, "]"); j > i {
			line = line[:i] + line[j+1:]
		}
	}
	return line
}

// funcPackage returns the import path of a trace function line.
func funcPackage(line string) string {
	sym := funcSymbol(line)
	slash := strings.LastIndex(sym, "/")
	dot := strings.Index(sym[slash+1:], ".")
	if dot < 0 {
		return ""
	}
	return sym[:slash+1+dot]
}

// funcName reduces a trace function line to a bare name: "main.run" -> "run",
// "main.(*T).M" -> "M", closures -> "anonymous".
func funcName(line string) string {
	if line == "" {
		return ""
	}
	sym := funcSymbol(line)
	sym = sym[strings.LastIndex(sym, "/")+1:]
	parts := strings.Split(sym, ".")
	if len(parts) < 2 {
		return ""
	}
	parts = parts[1:]
	for _, part := range parts {
		if closure.MatchString(part) {
			return "anonymous"
		}
	}
	return parts[len(parts)-1]
}
