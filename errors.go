package katalist

import "github.com/mark3labs/katalist/internal/errdefs"

// Sentinels for errors.Is. Failures raised after a successful HTTP response
// are logged and swallowed; only GenerateSchema and TransformFile return them.
var (
	ErrUnsupportedShape = errdefs.ErrUnsupportedShape
	ErrIOWrite          = errdefs.ErrIOWrite
	ErrIORead           = errdefs.ErrIORead
	ErrFileNotFound     = errdefs.ErrFileNotFound
	ErrDetectionMiss    = errdefs.ErrDetectionMiss
	ErrParse            = errdefs.ErrParse
	ErrModuleNotFound   = errdefs.ErrModuleNotFound
)
