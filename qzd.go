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
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/qzd-finance/qzd/config"
	"github.com/qzd-finance/qzd/fraud"
	redis_db "github.com/qzd-finance/qzd/internal/redis-db"
	"github.com/qzd-finance/qzd/ledger"
	"github.com/qzd-finance/qzd/model"
)

// Qzd owns every table of the ledger core: accounts, journal, ledger, issuances, vouchers,
// users and fraud state. All operations are safe for concurrent use.
type Qzd struct {
	config     *config.Configuration
	security   *SecurityManager
	journal    *Journal
	accounts   *accountBook
	ledger     *ledger.Ledger
	issuances  *ledger.IssuanceBook
	fraud      *fraud.Engine
	vouchers   *voucherBook
	users      *userStore
	metrics    *Metrics
	queue      *Queue
	redis      redis.UniversalClient
	faults     *FaultInjector
	now        func() time.Time
	ownedRedis *redis_db.Redis
}

type options struct {
	redis redis.UniversalClient
	queue *Queue
	now   func() time.Time
}

// Option customizes NewQzd.
type Option func(*options)

// WithRedis supplies the client used by the redis store backend.
func WithRedis(client redis.UniversalClient) Option {
	return func(o *options) { o.redis = client }
}

// WithQueue supplies the asynq queue used for webhooks and maintenance tasks.
func WithQueue(queue *Queue) Option {
	return func(o *options) { o.queue = queue }
}

// WithClock overrides the clock used for timestamps, limits and fraud windows.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewQzd builds the service from cnf. cnf must already carry defaults.
func NewQzd(cnf *config.Configuration, opts ...Option) (*Qzd, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	publicKey, err := config.DecodePublicKey(cnf.Security.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("security public key: %w", err)
	}

	validators, err := ledger.ValidatorSetFromConfig(cnf.Ledger)
	if err != nil {
		return nil, err
	}

	q := &Qzd{
		config:  cnf,
		metrics: NewMetrics(),
		queue:   o.queue,
		redis:   o.redis,
		faults:  NewFaultInjector(),
		now:     o.now,
	}

	if err := q.setupSecurity(publicKey); err != nil {
		return nil, err
	}

	if q.queue == nil && cnf.Redis.Dns != "" {
		q.queue, err = NewQueue(cnf)
		if err != nil {
			return nil, err
		}
	}

	q.ledger = ledger.NewLedger(validators)
	q.issuances = ledger.NewIssuanceBook(q.ledger, cnf.Ledger.Asset)
	q.accounts = newAccountBook(map[string]int64{
		model.KYCBasic: cnf.Accounts.BasicDailyLimit,
		model.KYCFull:  cnf.Accounts.FullDailyLimit,
	}, o.now)
	q.vouchers = newVoucherBook()
	q.users = newUserStore()
	q.fraud = fraud.NewEngine(fraud.RulesFromConfig(cnf.Fraud),
		fraud.WithClock(o.now),
		fraud.WithSink(fraud.AlertSinkFunc(q.onAlert)),
	)
	q.journal = NewJournal(&journalExecutor{q: q}, JournalHooks{
		OnSuccess:   q.onPosted,
		OnRecovered: q.onRecovered,
		OnFailure:   q.onDeadLetter,
	}, cnf.Journal.MaxWorkers)
	q.journal.now = o.now

	logrus.Infof("%s ready: %d validators, issuance threshold %d, store backend %s",
		cnf.ProjectName, len(validators.IDs()), validators.Threshold(), cnf.Security.StoreBackend)
	return q, nil
}

func (q *Qzd) setupSecurity(publicKey []byte) error {
	cnf := q.config
	nonceTTL := time.Duration(cnf.Security.NonceTTLSeconds) * time.Second
	idemTTL := time.Duration(cnf.Security.IdempotencyTTLSeconds) * time.Second

	switch cnf.Security.StoreBackend {
	case config.StoreBackendRedis:
		if q.redis == nil {
			client, err := redis_db.NewRedisClient(redis_db.SplitAddresses(cnf.Redis.Dns), cnf.Redis.SkipTLSVerify)
			if err != nil {
				return err
			}
			q.ownedRedis = client
			q.redis = client.Client()
		}
		q.security = NewSecurityManager(publicKey, NewRedisNonceStore(q.redis, nonceTTL), NewRedisIdempotencyStore(q.redis, idemTTL))
	default:
		q.security = NewSecurityManager(publicKey, NewMemoryNonceStore(nonceTTL), NewMemoryIdempotencyStore(idemTTL))
	}
	q.security.now = q.now
	return nil
}

// Config returns the configuration the service was built with.
func (q *Qzd) Config() *config.Configuration {
	return q.config
}

// Security returns the request security manager.
func (q *Qzd) Security() *SecurityManager {
	return q.security
}

// Metrics returns the service metrics.
func (q *Qzd) Metrics() *Metrics {
	return q.metrics
}

// Queue returns the asynq queue, or nil when Redis is not configured.
func (q *Qzd) Queue() *Queue {
	return q.queue
}

// Faults returns the fault injector used to simulate crashes.
func (q *Qzd) Faults() *FaultInjector {
	return q.faults
}

// ValidateMutation authenticates a state-changing request. See SecurityManager.ValidateMutation.
func (q *Qzd) ValidateMutation(ctx context.Context, meta RequestMeta, body []byte) (MutationContext, error) {
	return q.security.ValidateMutation(ctx, meta, body)
}

// Close releases the queue and any redis client the service created itself.
func (q *Qzd) Close() error {
	var firstErr error
	if q.queue != nil {
		if err := q.queue.Close(); err != nil {
			firstErr = err
		}
	}
	if q.ownedRedis != nil {
		if err := q.ownedRedis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func logAndRecordError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	logrus.Error(msg, ": ", err)
	return err
}
