/*
Copyright 2024 QZD Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package qzd

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/qzd-finance/qzd/internal/cache"
	redlock "github.com/qzd-finance/qzd/internal/lock"
	"github.com/qzd-finance/qzd/model"
)

// NonceStore remembers consumed request nonces.
type NonceStore interface {
	// Consume marks nonce as used and reports whether it was fresh.
	Consume(ctx context.Context, nonce string) (bool, error)
}

// IdempotencyStore keeps the cached response of every completed scope.
type IdempotencyStore interface {
	Get(ctx context.Context, scope string) (model.IdempotencyRecord, bool, error)
	Put(ctx context.Context, scope string, record model.IdempotencyRecord) error
	// Lock serializes check-then-act sequences on one scope.
	Lock(ctx context.Context, scope string) (unlock func(), err error)
}

const sweepEvery = 1024

type memoryNonceStore struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	ttl   time.Duration
	now   func() time.Time
	calls int
}

// NewMemoryNonceStore returns a process-local nonce set. A zero ttl never forgets a nonce.
func NewMemoryNonceStore(ttl time.Duration) NonceStore {
	return &memoryNonceStore{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (s *memoryNonceStore) Consume(_ context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.calls++
	if s.ttl > 0 && s.calls%sweepEvery == 0 {
		for n, at := range s.seen {
			if now.Sub(at) >= s.ttl {
				delete(s.seen, n)
			}
		}
	}

	if at, ok := s.seen[nonce]; ok && (s.ttl == 0 || now.Sub(at) < s.ttl) {
		return false, nil
	}
	s.seen[nonce] = now
	return true, nil
}

type memoryIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]model.IdempotencyRecord
	ttl     time.Duration
	now     func() time.Time
	locks   *keyedMutex
}

// NewMemoryIdempotencyStore returns a process-local record store. A zero ttl keeps records forever.
func NewMemoryIdempotencyStore(ttl time.Duration) IdempotencyStore {
	return &memoryIdempotencyStore{
		records: make(map[string]model.IdempotencyRecord),
		ttl:     ttl,
		now:     time.Now,
		locks:   newKeyedMutex(),
	}
}

func (s *memoryIdempotencyStore) Get(_ context.Context, scope string) (model.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[scope]
	if !ok {
		return model.IdempotencyRecord{}, false, nil
	}
	if s.ttl > 0 && s.now().Sub(rec.CreatedAt) >= s.ttl {
		delete(s.records, scope)
		return model.IdempotencyRecord{}, false, nil
	}
	rec.Response = append([]byte(nil), rec.Response...)
	return rec, true, nil
}

func (s *memoryIdempotencyStore) Put(_ context.Context, scope string, record model.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.Response = append([]byte(nil), record.Response...)
	s.records[scope] = record
	return nil
}

func (s *memoryIdempotencyStore) Lock(_ context.Context, scope string) (func(), error) {
	return s.locks.Lock(scope), nil
}

// keyedMutex hands out one mutex per key and forgets it once nobody holds it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

const (
	nonceKeyPrefix       = "qzd:nonce:"
	idempotencyKeyPrefix = "qzd:idem:"

	scopeLockTimeout = 30 * time.Second
	scopeLockWait    = 10 * time.Second
)

type redisNonceStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisNonceStore shares consumed nonces across processes through SETNX.
func NewRedisNonceStore(client redis.UniversalClient, ttl time.Duration) NonceStore {
	return &redisNonceStore{client: client, ttl: ttl}
}

func (s *redisNonceStore) Consume(ctx context.Context, nonce string) (bool, error) {
	return s.client.SetNX(ctx, nonceKeyPrefix+nonce, time.Now().UTC().Unix(), s.ttl).Result()
}

type redisIdempotencyStore struct {
	client redis.UniversalClient
	cache  cache.Cache
	ttl    time.Duration
}

// NewRedisIdempotencyStore keeps records in Redis behind a local cache and locks scopes with a Redis lock.
func NewRedisIdempotencyStore(client redis.UniversalClient, ttl time.Duration) IdempotencyStore {
	return &redisIdempotencyStore{client: client, cache: cache.NewRedisCache(client), ttl: ttl}
}

func (s *redisIdempotencyStore) Get(ctx context.Context, scope string) (model.IdempotencyRecord, bool, error) {
	var rec model.IdempotencyRecord
	err := s.cache.Get(ctx, idempotencyKeyPrefix+scope, &rec)
	if errors.Is(err, cache.ErrMiss) {
		return model.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return model.IdempotencyRecord{}, false, err
	}
	return rec, true, nil
}

func (s *redisIdempotencyStore) Put(ctx context.Context, scope string, record model.IdempotencyRecord) error {
	return s.cache.Set(ctx, idempotencyKeyPrefix+scope, record, s.ttl)
}

func (s *redisIdempotencyStore) Lock(ctx context.Context, scope string) (func(), error) {
	release, err := redlock.AcquireScope(ctx, s.client, scope, scopeLockTimeout, scopeLockWait)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := release(context.Background()); err != nil {
			logrus.Warnf("failed to release scope lock %s: %v", scope, err)
		}
	}, nil
}
