package katalist

import (
	"net/http"

	"github.com/goccy/go-json"
)

// Response is a fully read HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	// Data is the decoded JSON body, or nil when the body is not JSON.
	Data any
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// Typed is a Response whose body has been decoded into T.
type Typed[T any] struct {
	*Response
	Data T
}

// As decodes a verb method's response into T. Calls rewritten by the
// transform engine take the form
//
//	katalist.As[schemas.UserSchemaType](client.Get(ctx, url, katalist.Options{}))
func As[T any](resp *Response, err error) (*Typed[T], error) {
	if resp == nil {
		return nil, err
	}
	t := &Typed[T]{Response: resp}
	if err != nil {
		return t, err
	}
	if len(resp.Body) == 0 {
		return t, nil
	}
	if err := resp.JSON(&t.Data); err != nil {
		return t, err
	}
	return t, nil
}
