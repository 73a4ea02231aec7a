// Package observe
// Author: momentics <momentics@gmail.com>
//
// Structured observability backend: an api.Observer that writes events as JSON
// lines through logiface/stumpy, with per-event-name rate limiting for the
// noisy failure categories.
package observe
