package scheduler

import "errors"

// ErrDuplicateRequest is returned for a schedule request whose normalized
// content was already accepted inside the dedup TTL window. Safe to treat
// as an idempotent no-op under at-least-once redelivery.
var ErrDuplicateRequest = errors.New("duplicate request")

// ErrMalformedRequest is returned for requests rejected synchronously by
// validation, before any store side effects.
var ErrMalformedRequest = errors.New("malformed request")
