package engine

import "errors"

// Sentinel errors returned by AudioManager's component lifecycle operations,
// matched with errors.Is by callers (notably the reconciler, which only
// cares whether an operation succeeded but logs these for context).
var (
	ErrUnsupportedFormat = errors.New("engine: unsupported PCM format")
	ErrSinkExists        = errors.New("engine: sink already exists")
	ErrComponentNotFound = errors.New("engine: component not found")
	ErrBindFailed        = errors.New("engine: listening socket bind failed")
)
