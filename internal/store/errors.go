package store

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned after a transient failure has exhausted the
// retry budget. Callers must treat it differently from permanent errors,
// which are surfaced immediately without retry.
var ErrUnavailable = errors.New("store unavailable after retries")

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("key not found")

// transientReplyPrefixes are server replies that indicate a temporarily
// unusable node rather than a caller mistake.
var transientReplyPrefixes = []string{"LOADING", "READONLY", "CLUSTERDOWN", "TRYAGAIN", "MASTERDOWN"}

// isTransient reports whether err is worth retrying: connectivity and
// timeout failures plus a handful of transient server states. Context
// cancellation, missing keys, and command errors are permanent.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, redis.Nil) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	for _, prefix := range transientReplyPrefixes {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") {
		return true
	}
	return false
}
