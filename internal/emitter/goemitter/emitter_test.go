package goemitter

import (
	"context"
	"errors"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/mark3labs/katalist/internal/errdefs"
	"github.com/mark3labs/katalist/internal/schema"
)

func userDescriptor(t *testing.T) *openapi3.Schema {
	t.Helper()
	s, err := schema.SynthesizeJSON([]byte(`{
		"id": 1,
		"user_name": "ada",
		"score": 1.5,
		"admin": false,
		"nickname": null,
		"address": {"city": "Paris"},
		"tags": ["x"],
		"counts": [1, 2],
		"orders": [{"sku": "a"}]
	}`), "User")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	return s
}

func parseModule(t *testing.T, src []byte) *ast.File {
	t.Helper()
	f, err := parser.ParseFile(token.NewFileSet(), "User.go", src, parser.ParseComments)
	if err != nil {
		t.Fatalf("generated module does not parse: %v\n%s", err, src)
	}
	return f
}

func hasField(src, name, typ, tag string) bool {
	re := regexp.MustCompile(`(?m)^\s*` + regexp.QuoteMeta(name) + `\s+` + regexp.QuoteMeta(typ) + `\s+` + regexp.QuoteMeta("`"+tag+"`"))
	return re.MatchString(src)
}

func TestEmit_DryRun_Plan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "schemas")

	res, err := Emit(ctx, userDescriptor(t), Options{Dir: dir, Title: "User", DryRun: true})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if res.Path != filepath.Join(dir, "User.go") {
		t.Fatalf("path mismatch: %s", res.Path)
	}
	if res.PackageName != "schemas" {
		t.Fatalf("package mismatch: %s", res.PackageName)
	}
	if len(res.Planned) != 1 || res.Planned[0].RelPath != "User.go" || res.Planned[0].Size == 0 {
		t.Fatalf("unexpected plan: %+v", res.Planned)
	}
	if _, err := os.Stat(dir); err == nil {
		t.Fatalf("expected no writes on dry-run")
	}
}

func TestEmit_WriteAndContents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "schemas")

	res, err := Emit(ctx, userDescriptor(t), Options{Dir: dir, Title: "User"})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("read module: %v", err)
	}
	f := parseModule(t, data)
	if f.Name.Name != "schemas" {
		t.Fatalf("package name mismatch: %s", f.Name.Name)
	}

	var imports []string
	for _, spec := range f.Imports {
		imports = append(imports, strings.Trim(spec.Path.Value, `"`))
	}
	if strings.Join(imports, ",") != "encoding/json,"+DSLImport {
		t.Fatalf("unexpected imports: %v", imports)
	}

	decls := map[string]bool{}
	ast.Inspect(f, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.ValueSpec:
			for _, name := range n.Names {
				decls["var "+name.Name] = true
			}
		case *ast.TypeSpec:
			decls["type "+n.Name.Name] = true
		}
		return true
	})
	for _, want := range []string{"var UserSchema", "type UserSchemaType"} {
		if !decls[want] {
			t.Fatalf("missing declaration %s in:\n%s", want, data)
		}
	}

	src := string(data)
	for _, want := range []string{
		"// Code generated by katalist. DO NOT EDIT.",
		`Field("user_name", dsl.StringOf[string]()).Required()`,
		`Field("id", dsl.IntOf[int]()).Required()`,
		`Field("score", dsl.FloatOf[float64]()).Required()`,
		`dsl.ArrayOfSchema(dsl.Array[json.Number](dsl.NumberJSON()))`,
	} {
		if !strings.Contains(src, want) {
			t.Errorf("module missing %q:\n%s", want, src)
		}
	}
	for _, f := range [][3]string{
		{"UserName", "string", `json:"user_name"`},
		{"Nickname", "any", `json:"nickname,omitempty"`},
		{"Tags", "[]string", `json:"tags"`},
		{"Counts", "[]int", `json:"counts"`},
	} {
		if !hasField(src, f[0], f[1], f[2]) {
			t.Errorf("module missing field %v:\n%s", f, src)
		}
	}
	if strings.Contains(src, `Field("nickname"`) {
		t.Errorf("null-only field should not be validated:\n%s", src)
	}
}

func TestEmit_OverwritesExisting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "User.go")
	if err := os.WriteFile(path, []byte("package stale\n"), 0o600); err != nil {
		t.Fatalf("prewrite: %v", err)
	}
	s, err := schema.SynthesizeJSON([]byte(`{"a":"b"}`), "User")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if _, err := Emit(ctx, s, Options{Dir: dir, Title: "User", PackageName: "api"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(data), "stale") || !strings.Contains(string(data), "package api") {
		t.Fatalf("expected full regeneration, got:\n%s", data)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestEmit_ArrayRoot(t *testing.T) {
	t.Parallel()
	s, err := schema.SynthesizeJSON([]byte(`[{"id": "a", "child": null}]`), "Items")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	res, err := Emit(context.Background(), s, Options{Dir: t.TempDir(), Title: "Items", DryRun: true})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if res.Path == "" {
		t.Fatalf("expected path")
	}
	src, err := renderModule("schemas", "Items", s)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	parseModule(t, src)
	if !strings.Contains(string(src), "var ItemsSchema = dsl.Array(dsl.Object()") {
		t.Fatalf("unexpected array schema:\n%s", src)
	}
	if !strings.Contains(string(src), "type ItemsSchemaType []struct") {
		t.Fatalf("unexpected array type:\n%s", src)
	}
}

func TestEmit_KeysWithoutTagForm(t *testing.T) {
	t.Parallel()
	s, err := schema.SynthesizeJSON([]byte(`{"a,b": 1, "x`+"`"+`y": "s", "-": true, "ok": 2}`), "Odd")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	res, err := Emit(context.Background(), s, Options{Dir: t.TempDir(), Title: "Odd"})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("read module: %v", err)
	}
	parseModule(t, data)
	src := string(data)
	for _, want := range []string{
		`// key "a,b" cannot be named in a struct tag`,
		"// key \"x`y\" cannot be named in a struct tag",
		"`json:\"-\"`",
		"`json:\"-,\"`",
		"`json:\"ok\"`",
		`Field("a,b", dsl.IntOf[int]()).Required()`,
	} {
		if !strings.Contains(src, want) {
			t.Errorf("module missing %q:\n%s", want, src)
		}
	}
}

func TestTagSafe(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"user_name":  true,
		"avatar-url": true,
		"$ref":       true,
		"a b":        true,
		"héllo":      true,
		"":           false,
		"a,b":        false,
		"x`y":        false,
		`say"hi"`:    false,
		`back\slash`: false,
	}
	for in, want := range cases {
		if got := tagSafe(in); got != want {
			t.Errorf("tagSafe(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestEmit_RejectsBadTitle(t *testing.T) {
	t.Parallel()
	s, _ := schema.SynthesizeJSON([]byte(`{"a":1}`), "user")
	for _, title := range []string{"", "user", "9Lives", "Has Space"} {
		if _, err := Emit(context.Background(), s, Options{Dir: t.TempDir(), Title: title, DryRun: true}); err == nil {
			t.Errorf("expected error for title %q", title)
		}
	}
}

func TestEmit_WriteFailureIsIOWriteError(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	t.Parallel()
	dir := t.TempDir()
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	s, _ := schema.SynthesizeJSON([]byte(`{"a":1}`), "User")
	_, err := Emit(context.Background(), s, Options{Dir: dir, Title: "User"})
	if !errors.Is(err, errdefs.ErrIOWrite) {
		t.Fatalf("expected ErrIOWrite, got %v", err)
	}
}

func TestFieldName(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"id":         "ID",
		"user_id":    "UserID",
		"createdAt":  "CreatedAt",
		"avatar-url": "AvatarURL",
		"2fa":        "F2fa",
		"":           "Field",
		"$schema":    "Schema",
		"HTTPStatus": "HTTPStatus",
	}
	for in, want := range cases {
		if got := FieldName(in); got != want {
			t.Errorf("FieldName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPackageName(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"/x/schemas":     "schemas",
		"./API-Types":    "apitypes",
		"/x/123":         "schemas",
		"/x/type":        "schemas",
		"gen/my_schemas": "my_schemas",
	}
	for in, want := range cases {
		if got := PackageName(in); got != want {
			t.Errorf("PackageName(%q) = %q, want %q", in, got, want)
		}
	}
}
