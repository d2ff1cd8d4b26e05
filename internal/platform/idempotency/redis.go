package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	redisKeyPrefix      = "idempotency:"
	redisReserveRetries = 3
)

// RedisStore keeps reservations in Redis. Entries expire through the key TTL.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

type redisRecord struct {
	Key             string              `json:"key"`
	Fingerprint     string              `json:"fingerprint"`
	Status          Status              `json:"status"`
	ResponseStatus  int                 `json:"responseStatus,omitempty"`
	ResponseHeaders map[string][]string `json:"responseHeaders,omitempty"`
	ResponseBody    []byte              `json:"responseBody,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	ExpiresAt       time.Time           `json:"expiresAt"`
}

func encodeRedisRecord(r Record) ([]byte, error) {
	return json.Marshal(redisRecord{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          r.Status,
		ResponseStatus:  r.Response.Status,
		ResponseHeaders: r.Response.Headers,
		ResponseBody:    r.Response.Body,
		CreatedAt:       r.CreatedAt,
		ExpiresAt:       r.ExpiresAt,
	})
}

func decodeRedisRecord(raw []byte) (Record, error) {
	var r redisRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return Record{}, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return Record{
		Key:         r.Key,
		Fingerprint: r.Fingerprint,
		Status:      r.Status,
		Response:    Response{Status: r.ResponseStatus, Headers: r.ResponseHeaders, Body: r.ResponseBody},
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
	}, nil
}

// NewRedisClient connects to addr and pings it once.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("idempotency: redis address is required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("idempotency: connect to redis: %w", err)
	}
	return client, nil
}

func NewRedisStore(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	return &RedisStore{client: client, prefix: redisKeyPrefix}, nil
}

func (s *RedisStore) key(key string) string {
	return s.prefix + documentID(key)
}

// Reserve claims the key with SETNX. A key that vanishes between the claim and the read is
// claimed again.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Record, error) {
	id := s.key(key)
	pending := newPending(key, fingerprint, now, ttl)
	payload, err := encodeRedisRecord(pending)
	if err != nil {
		return 0, Record{}, err
	}

	for attempt := 0; attempt < redisReserveRetries; attempt++ {
		claimed, err := s.client.SetNX(ctx, id, payload, ttl).Result()
		if err != nil {
			return 0, Record{}, fmt.Errorf("idempotency: reserve: %w", err)
		}
		if claimed {
			return OutcomeReserved, pending, nil
		}

		raw, err := s.client.Get(ctx, id).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return 0, Record{}, fmt.Errorf("idempotency: read reservation: %w", err)
		}
		existing, err := decodeRedisRecord(raw)
		if err != nil {
			return 0, Record{}, err
		}
		if existing.Fingerprint != fingerprint {
			return 0, Record{}, ErrFingerprintMismatch
		}
		if existing.Status == StatusCompleted {
			return OutcomeReplay, existing, nil
		}
		return OutcomeInFlight, existing, nil
	}
	return 0, Record{}, errors.New("idempotency: reservation kept expiring")
}

// Complete stores resp under an optimistic WATCH so a concurrent reuse of the key with a different
// fingerprint is detected.
func (s *RedisStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	id := s.key(key)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		record := newPending(key, fingerprint, now, ttl)
		raw, err := tx.Get(ctx, id).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("idempotency: read reservation: %w", err)
		default:
			existing, err := decodeRedisRecord(raw)
			if err != nil {
				return err
			}
			if existing.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			record.CreatedAt = existing.CreatedAt
		}
		record.Status = StatusCompleted
		record.Response = resp

		payload, err := encodeRedisRecord(record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, id, payload, ttl)
			return nil
		})
		return err
	}, id)
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}
