package probe

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testProbe() *Probe {
	return &Probe{
		ModuleFragments:     []string{"/pkg/mod/github.com/mark3labs/katalist@"},
		SourceDir:           "/src/katalist",
		ThirdPartyFragments: []string{"/pkg/mod/", "/vendor/", "/usr/local/go/src/"},
		KnownFragments:      []string{"golang.org/x/", "/src/testing/"},
	}
}

const goTrace = `goroutine 1 [running]:
runtime/debug.Stack()
	/usr/local/go/src/runtime/debug/stack.go:26 +0x5e
github.com/mark3labs/katalist/internal/probe.(*Probe).Detect(...)
	/home/dev/go/pkg/mod/github.com/mark3labs/katalist@v0.3.0/internal/probe/probe.go:71
github.com/mark3labs/katalist.(*Client).Get(0xc000010000, {0x1, 0x2}, {0x3, 0x4})
	/home/dev/go/pkg/mod/github.com/mark3labs/katalist@v0.3.0/client.go:88 +0x1d
github.com/goccy/go-json.Unmarshal(...)
	/home/dev/go/pkg/mod/github.com/goccy/go-json@v0.10.5/json.go:12
main.(*server).handle(0xc000020000)
	/home/dev/app/server.go:42 +0x3a
main.main()
	/home/dev/app/main.go:10 +0x1d
`

func TestDetectFromTrace_FirstUserFrame(t *testing.T) {
	t.Parallel()
	f, ok := testProbe().DetectFromTrace(goTrace)
	if !ok {
		t.Fatalf("expected a user frame")
	}
	want := Frame{File: "/home/dev/app/server.go", Function: "handle"}
	if diff := cmp.Diff(want, f); diff != "" {
		t.Fatalf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestDetectFromTrace_LibraryThenUser(t *testing.T) {
	t.Parallel()
	trace := "at file:///src/katalist/client.go:12\nat file:///home/dev/app/main.go:7\n"
	f, ok := testProbe().DetectFromTrace(trace)
	if !ok || f.File != "/home/dev/app/main.go" {
		t.Fatalf("unexpected detection: %+v %v", f, ok)
	}
}

func TestDetectFromTrace_WindowsPaths(t *testing.T) {
	t.Parallel()
	trace := "main.run()\n\tC:\\Users\\dev\\app\\main.go:5 +0x10\n"
	f, ok := testProbe().DetectFromTrace(trace)
	if !ok {
		t.Fatalf("expected detection")
	}
	if f.File != "C:/Users/dev/app/main.go" || f.Function != "run" {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestDetectFromTrace_PathsWithSpaces(t *testing.T) {
	t.Parallel()
	cases := map[string]struct {
		trace string
		want  Frame
	}{
		"unix": {
			trace: "github.com/mark3labs/katalist.(*Client).Get(...)\n\t/src/katalist/client.go:88 +0x1d\n" +
				"main.run(0xc000010000)\n\t/Users/John Doe/src/app/main.go:12 +0x2a\n",
			want: Frame{File: "/Users/John Doe/src/app/main.go", Function: "run"},
		},
		"windows": {
			trace: "main.fetch()\n\tC:\\Users\\John Doe\\app\\main.go:5 +0x10\n",
			want:  Frame{File: "C:/Users/John Doe/app/main.go", Function: "fetch"},
		},
		"file url": {
			trace: "at file:///home/dev/My Projects/app/main.go:7\n",
			want:  Frame{File: "/home/dev/My Projects/app/main.go"},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f, ok := testProbe().DetectFromTrace(tc.trace)
			if !ok {
				t.Fatalf("expected a user frame")
			}
			if diff := cmp.Diff(tc.want, f); diff != "" {
				t.Fatalf("frame mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDetectFromTrace_Misses(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"empty":       "",
		"no paths":    "goroutine 1 [running]:\nmain.main()\n",
		"only deps":   "x()\n\t/home/dev/go/pkg/mod/golang.org/x/tools@v0.1.0/a.go:1\ny()\n\t/usr/local/go/src/testing/testing.go:9\n",
		"vendored":    "z()\n\t/home/dev/app/vendor/github.com/a/b/c.go:3\n",
		"autogen":     "main.(*T).M()\n\t<autogenerated>:1 +0x2\n",
		"library dir": "k()\n\t/src/katalist/internal/transform/engine.go:40\n",
	}
	for name, trace := range cases {
		if f, ok := testProbe().DetectFromTrace(trace); ok {
			t.Errorf("%s: unexpected detection %+v", name, f)
		}
	}
}

func TestFrames_LibraryTestFilesAreUserCode(t *testing.T) {
	t.Parallel()
	trace := `github.com/mark3labs/katalist.(*Client).Get(...)
	/src/katalist/client.go:88
github.com/mark3labs/katalist.TestClientGet(0xc0000)
	/src/katalist/client_test.go:30 +0x44
`
	frames := testProbe().Frames(trace)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %+v", frames)
	}
	if !frames[0].Library || frames[1].Library {
		t.Fatalf("unexpected classification: %+v", frames)
	}
	f, ok := testProbe().DetectFromTrace(trace)
	if !ok || f.File != "/src/katalist/client_test.go" || f.Function != "TestClientGet" {
		t.Fatalf("unexpected detection: %+v %v", f, ok)
	}
}

func TestFuncName(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"main.run(...)":                                 "run",
		"main.main()":                                   "main",
		"main.(*server).handle(0xc000020000)":           "handle",
		"main.T.String(...)":                            "String",
		"main.run.func1()":                              "anonymous",
		"main.run.func2.3()":                            "anonymous",
		"example.com/app/pkg.Fetch[...](0x1)":           "Fetch",
		"created by main.main in goroutine 1":           "main",
		"github.com/mark3labs/katalist.(*Client).Get()": "Get",
		"":                                              "",
	}
	for in, want := range cases {
		if got := funcName(in); got != want {
			t.Errorf("funcName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDetect_FindsThisTest(t *testing.T) {
	t.Parallel()
	f, ok := New().Detect()
	if !ok {
		t.Fatalf("expected to detect the test file")
	}
	if !strings.HasSuffix(f.File, "internal/probe/probe_test.go") {
		t.Fatalf("unexpected file %s", f.File)
	}
	if f.Function != "TestDetect_FindsThisTest" {
		t.Fatalf("unexpected function %q", f.Function)
	}
}
