package adapter

import "errors"

// ErrValidation indicates a caller supplied an argument that violates the
// adapter's contract (bad key, value, TTL, or batch array shape). No store
// I/O occurs before this error is returned.
var ErrValidation = errors.New("adapter: validation error")

// ErrTimeout indicates a single store round-trip exceeded its per-call
// deadline.
var ErrTimeout = errors.New("adapter: timeout")

// ErrAdapter indicates a script load or evaluation failure not covered by
// ErrValidation or ErrTimeout, such as a second NOSCRIPT after one reload.
var ErrAdapter = errors.New("adapter: store error")
