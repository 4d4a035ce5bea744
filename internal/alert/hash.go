package alert

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ContentHash returns a stable hex digest over the normalized request,
// including the operation so that create/update/cancel requests with
// identical payloads never collide.
func (r *ScheduleRequest) ContentHash() string {
	h := sha256.New()
	io.WriteString(h, string(r.Operation))
	io.WriteString(h, "|")
	writeInstance(h, &r.Instance)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash returns a stable hex digest over (instance_id, canonical payload).
func (e *FiringEvent) ContentHash() string {
	h := sha256.New()
	io.WriteString(h, e.InstanceID)
	io.WriteString(h, "|")
	h.Write(canonicalJSON(e.Payload))
	return hex.EncodeToString(h.Sum(nil))
}

// writeInstance writes the normalized instance fields in a fixed order.
// Mutable runtime fields (next_due_at, last_fired_at, status, created_at)
// are excluded: two requests describing the same schedule must hash equal.
func writeInstance(w io.Writer, in *Instance) {
	fmt.Fprintf(w, "%s|%s|%s|%d|%s|%s|",
		in.ID,
		in.Target,
		in.Kind,
		in.IntervalSeconds,
		in.CronExpr,
		strings.Join(in.NotifyTargets, ","),
	)
	w.Write(canonicalJSON(in.Condition))
}

// canonicalJSON compacts a JSON payload so whitespace differences do not
// defeat deduplication. Invalid or empty payloads are hashed as-is.
func canonicalJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
