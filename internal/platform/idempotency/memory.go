package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps reservations in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	record, ok := s.records[id]
	if !ok || record.expired(now) {
		record = newPending(key, fingerprint, now, ttl)
		s.records[id] = record
		return OutcomeReserved, record, nil
	}
	if record.Fingerprint != fingerprint {
		return 0, Record{}, ErrFingerprintMismatch
	}
	if record.Status == StatusCompleted {
		return OutcomeReplay, record, nil
	}
	return OutcomeInFlight, record, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	record, ok := s.records[id]
	if ok && record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if !ok {
		record = newPending(key, fingerprint, now, ttl)
	}
	record.Status = StatusCompleted
	record.Response = Response{Status: resp.Status, Headers: resp.Headers, Body: append([]byte(nil), resp.Body...)}
	record.ExpiresAt = now.Add(ttl)
	s.records[id] = record
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, documentID(key))
	return nil
}
