package ratelimit

import "errors"

// ErrClosed is returned by Acquire after the limiter has been closed.
var ErrClosed = errors.New("rate limiter closed")
