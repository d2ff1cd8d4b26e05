// Package idempotency replays the stored response of a mutating request retried with the same
// Idempotency-Key, so a client retrying an order submission cannot book stock twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

const DefaultTTL = 24 * time.Hour

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Outcome is the result of reserving a key.
type Outcome int

const (
	// OutcomeReserved means the caller owns the key and must Complete or Release it.
	OutcomeReserved Outcome = iota
	// OutcomeReplay means a stored response exists.
	OutcomeReplay
	// OutcomeInFlight means another request holds the key.
	OutcomeInFlight
)

// Record is a reserved or completed key.
type Record struct {
	Key         string
	Fingerprint string
	Status      Status
	Response    Response
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Response is the replayable part of an HTTP response.
type Response struct {
	Status  int
	Headers map[string][]string
	Body    []byte
}

// Store persists reservations. Implementations must make Reserve atomic per key.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Record, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// ErrFingerprintMismatch reports a key reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key already used for a different request")

func documentID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func newPending(key, fingerprint string, now time.Time, ttl time.Duration) Record {
	return Record{Key: key, Fingerprint: fingerprint, Status: StatusPending, CreatedAt: now, ExpiresAt: now.Add(ttl)}
}

// replayableHeaders drops hop-by-hop and length headers.
func replayableHeaders(header http.Header) map[string][]string {
	out := make(map[string][]string, len(header))
	for name, values := range header {
		switch http.CanonicalHeaderKey(name) {
		case "Content-Length", "Date", "Connection", "Keep-Alive", "Transfer-Encoding", "Trailer", "Upgrade":
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
