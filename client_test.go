package katalist

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, cfg Config, env map[string]string) *Client {
	t.Helper()
	c, err := newClient(context.Background(), cfg, envconfig.MapLookuper(env))
	require.NoError(t, err)
	return c
}

func jsonServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// tempModule creates a module example.com/app with main.go holding src.
func tempModule(t *testing.T, src string) (root, mainPath string) {
	t.Helper()
	root = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/app\n\ngo 1.25\n"), 0o600))
	mainPath = filepath.Join(root, "main.go")
	require.NoError(t, os.WriteFile(mainPath, []byte(src), 0o600))
	return root, mainPath
}

const callerSource = `package main

import (
	"context"

	"github.com/mark3labs/katalist"
)

func run(ctx context.Context, client *katalist.Client) error {
	_, err := client.Get(ctx, "/users/1", katalist.Options{GenerateSchema: true, InterfaceName: "User"})
	return err
}
`

func TestClient_GetDecodesAndSendsHeaders(t *testing.T) {
	t.Parallel()
	var gotHeaders http.Header
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders, gotPath = r.Header.Clone(), r.URL.Path
		_, _ = io.WriteString(w, `{"id": 7, "name": "ada"}`)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, Config{
		BaseURL: srv.URL + "/api/",
		Headers: map[string]string{"X-Client": "katalist", "X-Trace": "base"},
	}, nil)
	resp, err := c.Get(context.Background(), "users/7", Options{Headers: map[string]string{"X-Trace": "call"}})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "/api/users/7", gotPath)
	assert.Equal(t, "katalist", gotHeaders.Get("X-Client"))
	assert.Equal(t, "call", gotHeaders.Get("X-Trace"))
	assert.JSONEq(t, `{"id": 7, "name": "ada"}`, resp.Text())

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok, "Data should be a decoded object, got %T", resp.Data)
	assert.Equal(t, "ada", data["name"])

	var v struct {
		ID int `json:"id"`
	}
	require.NoError(t, resp.JSON(&v))
	assert.Equal(t, 7, v.ID)
}

func TestClient_PostEncodesJSON(t *testing.T) {
	t.Parallel()
	var body []byte
	var contentType, method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		contentType, method = r.Header.Get("Content-Type"), r.Method
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, Config{}, nil)
	resp, err := c.Post(context.Background(), srv.URL, map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "application/json", contentType)
	assert.JSONEq(t, `{"name":"ada"}`, string(body))
	assert.Nil(t, resp.Data)

	_, err = c.Put(context.Background(), srv.URL, "raw text")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "raw text", string(body))
	assert.Empty(t, contentType)

	_, err = c.Delete(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, method)
}

func TestClient_GenerateAndTransform(t *testing.T) {
	t.Parallel()
	root, mainPath := tempModule(t, callerSource)
	srv := jsonServer(t, http.StatusOK, `{"id": 1, "name": "ada", "nickname": null}`)

	c := newTestClient(t, Config{}, nil)
	resp, err := c.Get(context.Background(), srv.URL, Options{
		GenerateSchema: true,
		InterfaceName:  "User",
		SourceFile:     mainPath,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	module, err := os.ReadFile(filepath.Join(root, "schemas", "User.go"))
	require.NoError(t, err)
	assert.Contains(t, string(module), "package schemas")
	assert.Contains(t, string(module), "var UserSchema = dsl.Object()")
	assert.Contains(t, string(module), "type UserSchemaType struct")

	rewritten, err := os.ReadFile(mainPath)
	require.NoError(t, err)
	assert.Contains(t, string(rewritten), `katalist.As[schemas.UserSchemaType](client.Get(ctx, "/users/1", katalist.Options{}))`)
	assert.Contains(t, string(rewritten), `"example.com/app/schemas"`)
}

func TestClient_TransformToSibling(t *testing.T) {
	t.Parallel()
	root, mainPath := tempModule(t, callerSource)
	srv := jsonServer(t, http.StatusOK, `{"id": 1}`)

	c := newTestClient(t, Config{TransformToSibling: true}, nil)
	_, err := c.Get(context.Background(), srv.URL, Options{GenerateSchema: true, InterfaceName: "User", SourceFile: mainPath})
	require.NoError(t, err)

	original, err := os.ReadFile(mainPath)
	require.NoError(t, err)
	assert.Equal(t, callerSource, string(original))
	sibling, err := os.ReadFile(filepath.Join(root, "main.transformed.go"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(sibling), "//go:build ignore"))
}

func TestClient_FailuresAreSwallowed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("unsupported shape", func(t *testing.T) {
		t.Parallel()
		root, mainPath := tempModule(t, callerSource)
		srv := jsonServer(t, http.StatusOK, `[1, 2, 3]`)
		c := newTestClient(t, Config{}, nil)
		resp, err := c.Get(ctx, srv.URL, Options{GenerateSchema: true, InterfaceName: "User", SourceFile: mainPath})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.NoFileExists(t, filepath.Join(root, "schemas", "User.go"))
		src, err := os.ReadFile(mainPath)
		require.NoError(t, err)
		assert.Equal(t, callerSource, string(src), "caller must not reference a missing schema")
	})

	t.Run("missing source file", func(t *testing.T) {
		t.Parallel()
		srv := jsonServer(t, http.StatusOK, `{"id": 1}`)
		dir := t.TempDir()
		c := newTestClient(t, Config{SchemaDir: dir}, nil)
		resp, err := c.Get(ctx, srv.URL, Options{
			GenerateSchema: true,
			InterfaceName:  "User",
			SourceFile:     filepath.Join(dir, "gone.go"),
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.FileExists(t, filepath.Join(dir, "User.go"))
	})

	t.Run("invalid interface name", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		srv := jsonServer(t, http.StatusOK, `{"id": 1}`)
		c := newTestClient(t, Config{SchemaDir: dir}, nil)
		_, err := c.Get(ctx, srv.URL, Options{GenerateSchema: true, InterfaceName: "user", SourceFile: filepath.Join(dir, "x.go")})
		require.NoError(t, err)
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("error status", func(t *testing.T) {
		t.Parallel()
		root, mainPath := tempModule(t, callerSource)
		srv := jsonServer(t, http.StatusNotFound, `{"error": "missing"}`)
		c := newTestClient(t, Config{}, nil)
		resp, err := c.Get(ctx, srv.URL, Options{GenerateSchema: true, InterfaceName: "User", SourceFile: mainPath})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.Status)
		assert.NoDirExists(t, filepath.Join(root, "schemas"))
	})
}

func TestClient_InputSchema(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	srv := jsonServer(t, http.StatusCreated, `{"id": 9}`)
	c := newTestClient(t, Config{SchemaDir: dir}, nil)

	_, err := c.Post(context.Background(), srv.URL, map[string]any{"name": "ada", "age": 36}, Options{
		GenerateInputSchema: true,
		InputInterfaceName:  "NewUser",
		SourceFile:          filepath.Join(dir, "unused.go"),
	})
	require.NoError(t, err)

	module, err := os.ReadFile(filepath.Join(dir, "NewUser.go"))
	require.NoError(t, err)
	assert.Contains(t, string(module), `Field("age", dsl.IntOf[int]()).Required()`)
	assert.NoFileExists(t, filepath.Join(dir, "User.go"))
}

func TestClient_EmbeddedOutputSchema(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	srv := jsonServer(t, http.StatusOK, `[{"sku": "a", "qty": 1}, {"sku": "b", "qty": 2.5}]`)
	c := newTestClient(t, Config{SchemaDir: dir, OutputSchema: &OutputSchema{SchemaName: "Order"}}, nil)

	_, err := c.Get(context.Background(), srv.URL, Options{SourceFile: filepath.Join(dir, "caller.go")})
	require.NoError(t, err)

	module, err := os.ReadFile(filepath.Join(dir, "Order.go"))
	require.NoError(t, err)
	assert.Contains(t, string(module), "var OrderSchema = dsl.Array(dsl.Object()")
	assert.Contains(t, string(module), `Field("qty", dsl.FloatOf[float64]()).Required()`)
}

func TestClient_Hooks(t *testing.T) {
	t.Parallel()
	srv := jsonServer(t, http.StatusOK, `{}`)
	var calls atomic.Int32
	boom := errors.New("boom")
	c := newTestClient(t, Config{Hooks: []Hook{
		func(_ context.Context, resp *Response) error {
			calls.Add(1)
			assert.Equal(t, http.StatusOK, resp.Status)
			return nil
		},
		func(context.Context, *Response) error { return boom },
	}}, nil)

	resp, err := c.Get(context.Background(), srv.URL)
	require.ErrorIs(t, err, boom)
	require.NotNil(t, resp)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()
	cases := map[string]Config{
		"bad base url":    {BaseURL: "not a url"},
		"missing name":    {OutputSchema: &OutputSchema{}},
		"unexported name": {OutputSchema: &OutputSchema{SchemaName: "user"}},
		"non identifier":  {OutputSchema: &OutputSchema{SchemaName: "User Info"}},
	}
	for name, cfg := range cases {
		_, err := newClient(context.Background(), cfg, envconfig.MapLookuper(nil))
		assert.Error(t, err, name)
	}
	_, err := newClient(context.Background(), Config{BaseURL: "https://api.example.com", OutputSchema: &OutputSchema{SchemaName: "User"}}, envconfig.MapLookuper(nil))
	assert.NoError(t, err)
}

func TestNewClient_EnvironmentDefaults(t *testing.T) {
	t.Parallel()
	env := map[string]string{"KATALIST_DEBUG": "true", "KATALIST_SCHEMA_DIR": "/tmp/generated"}

	c := newTestClient(t, Config{}, env)
	assert.True(t, c.cfg.Debug)
	assert.Equal(t, "/tmp/generated", c.cfg.SchemaDir)

	c = newTestClient(t, Config{SchemaDir: "explicit"}, env)
	assert.Equal(t, "explicit", c.cfg.SchemaDir)
}

func TestAs(t *testing.T) {
	t.Parallel()
	type user struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	typed, err := As[user](&Response{Status: 200, Body: []byte(`{"id": 3, "name": "ada"}`)}, nil)
	require.NoError(t, err)
	assert.Equal(t, user{ID: 3, Name: "ada"}, typed.Data)
	assert.Equal(t, 200, typed.Status)

	boom := errors.New("boom")
	typed, err = As[user](nil, boom)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, typed)

	typed, err = As[user](&Response{Body: []byte(`not json`)}, nil)
	assert.Error(t, err)
	require.NotNil(t, typed)
	assert.Equal(t, "not json", typed.Text())

	typed, err = As[user](&Response{Status: 204}, nil)
	require.NoError(t, err)
	assert.Zero(t, typed.Data)
}

func TestGenerateSchemaAndTransformFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	path, err := GenerateSchema(ctx, []byte(`{"ok": true}`), "Status", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Status.go"), path)

	_, err = GenerateSchema(ctx, []byte(`[]`), "Empty", dir)
	assert.ErrorIs(t, err, ErrUnsupportedShape)
	assert.NoFileExists(t, filepath.Join(dir, "Empty.go"))

	_, err = TransformFile(ctx, filepath.Join(dir, "missing.go"), false)
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, mainPath := tempModule(t, callerSource)
	out, err := TransformFile(ctx, mainPath, false)
	require.NoError(t, err)
	assert.Contains(t, string(out), "katalist.As[schemas.UserSchemaType](")
}
