package katalist

// Options is the per-call options record. The transform engine strips the
// generation keys once the schema module exists; Headers stays.
type Options struct {
	// GenerateSchema captures the response body under InterfaceName and
	// rewrites the calling file.
	GenerateSchema bool
	InterfaceName  string `validate:"required_if=GenerateSchema true,omitempty,goident"`

	// GenerateInputSchema captures the request body under InputInterfaceName.
	GenerateInputSchema bool
	InputInterfaceName  string `validate:"required_if=GenerateInputSchema true,omitempty,goident"`

	Headers map[string]string

	// SourceFile is the file to rewrite. Detected from the call stack when
	// empty.
	SourceFile string
}

// mergeOptions folds opts left to right; later non-zero fields win.
func mergeOptions(opts []Options) Options {
	var out Options
	for _, o := range opts {
		if o.GenerateSchema {
			out.GenerateSchema = true
		}
		if o.InterfaceName != "" {
			out.InterfaceName = o.InterfaceName
		}
		if o.GenerateInputSchema {
			out.GenerateInputSchema = true
		}
		if o.InputInterfaceName != "" {
			out.InputInterfaceName = o.InputInterfaceName
		}
		if o.SourceFile != "" {
			out.SourceFile = o.SourceFile
		}
		for k, v := range o.Headers {
			if out.Headers == nil {
				out.Headers = map[string]string{}
			}
			out.Headers[k] = v
		}
	}
	return out
}
