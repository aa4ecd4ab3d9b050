// Package katalist is an HTTP client that learns the shape of the JSON it
// receives. A call tagged with Options{GenerateSchema: true} writes a Go
// schema module for the response and rewrites the calling source file so the
// next build decodes into the generated type:
//
//	resp, err := client.Get(ctx, "/users/1", katalist.Options{GenerateSchema: true, InterfaceName: "User"})
//
// becomes
//
//	resp, err := katalist.As[schemas.UserSchemaType](client.Get(ctx, "/users/1", katalist.Options{}))
//
// Generation and rewriting are development-time side effects: their
// failures are logged at debug level and never fail the request.
package katalist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/goccy/go-json"
	"github.com/sethvargo/go-envconfig"

	"github.com/mark3labs/katalist/internal/probe"
	"github.com/mark3labs/katalist/internal/schema"
)

// Client issues requests and runs the generation pipeline on responses.
type Client struct {
	cfg   Config
	log   *clog.Logger
	probe *probe.Probe
}

// NewClient validates cfg and fills unset fields from the environment.
func NewClient(cfg Config) (*Client, error) {
	return newClient(context.Background(), cfg, envconfig.OsLookuper())
}

func newClient(ctx context.Context, cfg Config, lookuper envconfig.Lookuper) (*Client, error) {
	cfg, err := cfg.resolve(ctx, lookuper)
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, log: cfg.Logger, probe: probe.New()}, nil
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, url string, opts ...Options) (*Response, error) {
	return c.do(ctx, http.MethodGet, url, nil, opts)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, url string, opts ...Options) (*Response, error) {
	return c.do(ctx, http.MethodDelete, url, nil, opts)
}

// Post issues a POST request. body is sent as is when it is a []byte,
// string or io.Reader and JSON-encoded otherwise.
func (c *Client) Post(ctx context.Context, url string, body any, opts ...Options) (*Response, error) {
	return c.do(ctx, http.MethodPost, url, body, opts)
}

// Put issues a PUT request with the same body rules as Post.
func (c *Client) Put(ctx context.Context, url string, body any, opts ...Options) (*Response, error) {
	return c.do(ctx, http.MethodPut, url, body, opts)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body any, opts []Options) (*Response, error) {
	ctx = clog.WithLogger(ctx, c.log)
	log := clog.FromContext(ctx)
	o := mergeOptions(opts)

	if err := validate.Struct(o); err != nil {
		log.Debugf("katalist: ignoring generation options: %v", err)
		o.GenerateSchema, o.GenerateInputSchema = false, false
	}

	caller := ""
	if c.wantsGeneration(o) && o.SourceFile == "" {
		if f, ok := c.probe.Detect(); ok {
			o.SourceFile, caller = f.File, f.Function
		} else {
			log.Debugf("katalist: %v", ErrDetectionMiss)
		}
	}

	target, err := c.resolveURL(rawURL)
	if err != nil {
		return nil, err
	}
	payload, contentType, err := encodeBody(body)
	if err != nil {
		return nil, fmt.Errorf("katalist: encode %s body: %w", method, err)
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("katalist: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range o.Headers {
		req.Header.Set(k, v)
	}

	hr, err := c.cfg.Transport.Do(req)
	if err != nil {
		return nil, fmt.Errorf("katalist: %s %s: %w", method, target, err)
	}
	defer hr.Body.Close()
	data, err := io.ReadAll(hr.Body)
	if err != nil {
		return nil, fmt.Errorf("katalist: read %s %s: %w", method, target, err)
	}
	resp := &Response{Status: hr.StatusCode, Header: hr.Header, Body: data}
	if v, err := schema.Decode(data); err == nil {
		resp.Data = v
	}

	if hr.StatusCode >= 200 && hr.StatusCode < 300 {
		c.afterResponse(ctx, o, payload, resp, caller)
	} else if c.wantsGeneration(o) {
		log.Debugf("katalist: status %d, skipping generation", hr.StatusCode)
	}

	for _, h := range c.cfg.Hooks {
		if err := h(ctx, resp); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

func (c *Client) wantsGeneration(o Options) bool {
	return o.GenerateSchema || o.GenerateInputSchema || c.cfg.OutputSchema != nil || c.cfg.ForceFileTransform
}

func (c *Client) resolveURL(raw string) (string, error) {
	if c.cfg.BaseURL == "" {
		return raw, nil
	}
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("katalist: parse base URL: %w", err)
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("katalist: parse URL %q: %w", raw, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "", nil
	case string:
		return []byte(b), "", nil
	case io.Reader:
		data, err := io.ReadAll(b)
		return data, "", err
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

// afterResponse runs output-schema generation, input-schema generation and
// the source rewrite, in that order. Nothing here fails the request.
func (c *Client) afterResponse(ctx context.Context, o Options, reqBody []byte, resp *Response, caller string) {
	log := clog.FromContext(ctx)
	if !c.wantsGeneration(o) {
		return
	}
	dir := c.schemaDir(o.SourceFile)

	title := o.InterfaceName
	if !o.GenerateSchema {
		title = ""
	}
	if title == "" && c.cfg.OutputSchema != nil {
		title = c.cfg.OutputSchema.SchemaName
	}
	written := false
	if title != "" {
		if path, err := generate(ctx, resp.Body, title, dir, c.cfg.Formatter); err != nil {
			log.Debugf("katalist: output schema %s not written: %v", title, err)
		} else {
			written = true
			log.Debugf("katalist: output schema %s written to %s", title, path)
		}
	}

	if o.GenerateInputSchema {
		if len(reqBody) == 0 {
			log.Debugf("katalist: input schema %s skipped: empty request body", o.InputInterfaceName)
		} else if path, err := generate(ctx, reqBody, o.InputInterfaceName, dir, c.cfg.Formatter); err != nil {
			log.Debugf("katalist: input schema %s not written: %v", o.InputInterfaceName, err)
		} else {
			log.Debugf("katalist: input schema %s written to %s", o.InputInterfaceName, path)
		}
	}

	if !o.GenerateSchema && !c.cfg.ForceFileTransform {
		return
	}
	// A tagged call is only rewritten once its schema module exists.
	if o.GenerateSchema && !written {
		log.Debugf("katalist: transform skipped: no schema for %s", title)
		return
	}
	if o.SourceFile == "" {
		log.Debugf("katalist: transform skipped: %v", ErrDetectionMiss)
		return
	}
	log.Debugf("katalist: transforming %s (caller %q)", o.SourceFile, caller)
	eng := newEngine(dir, c.cfg.Formatter)
	if _, err := eng.Transform(ctx, o.SourceFile, c.cfg.TransformToSibling); err != nil {
		log.Debugf("katalist: transform of %s failed: %v", o.SourceFile, err)
	}
}

// schemaDir resolves the configured directory, then <module root of the
// source file>/schemas, then ./schemas.
func (c *Client) schemaDir(sourceFile string) string {
	if strings.TrimSpace(c.cfg.SchemaDir) != "" {
		return c.cfg.SchemaDir
	}
	return defaultSchemaDir(sourceFile)
}
