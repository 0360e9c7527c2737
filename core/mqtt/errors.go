package mqtt

import "errors"

// ErrTransport wraps publish and subscribe failures.
var ErrTransport = errors.New("transport failure")
