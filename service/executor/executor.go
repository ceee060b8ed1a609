// Package executor performs outbound Solana calls triggered by chain events.
// Every action lives in a pending arena under an opaque id until it reaches a
// terminal state, so callers can await or abort it at any point. Attempts are
// rate limited, run behind a circuit breaker, and retried with exponential
// backoff when the failure looks transient.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/solwatch/service/backoff"
	"github.com/brojonat/solwatch/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Kind identifies the outbound call an action performs.
type Kind int

const (
	KindQueryBalance Kind = iota
	KindQueryLargestHolders
	KindSubmitTransaction
)

func (k Kind) String() string {
	switch k {
	case KindQueryBalance:
		return "query_balance"
	case KindQueryLargestHolders:
		return "query_largest_holders"
	case KindSubmitTransaction:
		return "submit_transaction"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of a pending action.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// terminal reports whether no further attempts will run.
func (s Status) terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusAborted
}

var (
	// ErrAborted is returned by Wait for actions cancelled via Abort.
	ErrAborted = errors.New("action aborted")

	// ErrUnknownAction is returned for ids not present in the arena.
	ErrUnknownAction = errors.New("unknown action id")
)

// TokenHolder is one entry from a largest-holders query.
type TokenHolder struct {
	Address  solana.PublicKey
	Amount   string
	Decimals uint8
}

// Request describes the call an action should perform. Exactly the fields
// relevant to Kind are consulted.
type Request struct {
	Kind Kind

	// Account is the wallet for balance queries or the mint for
	// largest-holder queries.
	Account solana.PublicKey

	// Transaction is the signed transaction for submissions.
	Transaction *solana.Transaction
}

// Result carries the outcome of a succeeded action.
type Result struct {
	Lamports  uint64
	Holders   []TokenHolder
	Signature solana.Signature
}

// RPCClient is the outbound call surface the executor depends on.
// This adapter interface allows us to control the surface and makes testing
// easier; NewSolanaClient wraps the real node client.
type RPCClient interface {
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	GetTokenLargestAccounts(ctx context.Context, mint solana.PublicKey) ([]TokenHolder, error)
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// Options configures an Executor.
type Options struct {
	// MaxAttempts is the total attempt budget per action. Defaults to 3.
	MaxAttempts int

	// Backoff is the delay policy between attempts.
	Backoff backoff.Policy

	// CallTimeout is the per-attempt deadline. Defaults to 10s.
	CallTimeout time.Duration

	// RateLimit and RateBurst configure the client-side request limiter.
	// Defaults: 10 req/s, burst 20.
	RateLimit float64
	RateBurst int
}

// pendingAction is one arena entry. All fields are guarded by the executor
// mutex except done, which is closed exactly once on reaching a terminal
// state.
type pendingAction struct {
	id       uint64
	req      Request
	status   Status
	attempts int
	result   Result
	err      error
	cancel   context.CancelFunc
	done     chan struct{}
}

// Executor runs actions against a Solana node.
type Executor struct {
	client      RPCClient
	maxAttempts int
	policy      backoff.Policy
	callTimeout time.Duration

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	logger  *slog.Logger
	metrics *metrics.Metrics

	// sleep is swapped out in tests to observe backoff delays.
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*pendingAction
}

// New creates an Executor. If m is nil, no metrics are recorded.
func New(client RPCClient, opts Options, logger *slog.Logger, m *metrics.Metrics) *Executor {
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	limit := opts.RateLimit
	if limit <= 0 {
		limit = 10
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 20
	}

	e := &Executor{
		client:      client,
		maxAttempts: attempts,
		policy:      opts.Backoff,
		callTimeout: callTimeout,
		limiter:     rate.NewLimiter(rate.Limit(limit), burst),
		logger:      logger,
		metrics:     m,
		pending:     make(map[uint64]*pendingAction),
	}
	e.sleep = e.sleepFor
	e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "solana-rpc",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return e
}

// Submit registers the action in the arena and starts attempts in the
// background. The returned id stays valid until Forget or process exit.
func (e *Executor) Submit(ctx context.Context, req Request) uint64 {
	actx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.nextID++
	pa := &pendingAction{
		id:     e.nextID,
		req:    req,
		status: StatusPending,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.pending[pa.id] = pa
	e.mu.Unlock()

	e.logger.Info("action submitted",
		"action_id", pa.id,
		"kind", req.Kind.String(),
	)

	go e.run(actx, pa)
	return pa.id
}

// Execute runs an action synchronously: Submit plus Wait.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	id := e.Submit(ctx, req)
	return e.Wait(ctx, id)
}

// Wait blocks until the action reaches a terminal state.
func (e *Executor) Wait(ctx context.Context, id uint64) (Result, error) {
	e.mu.Lock()
	pa, ok := e.pending[id]
	e.mu.Unlock()
	if !ok {
		return Result{}, ErrUnknownAction
	}

	select {
	case <-pa.done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return pa.result, pa.err
}

// Status reports the action's current state and attempt count.
func (e *Executor) Status(id uint64) (Status, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pa, ok := e.pending[id]
	if !ok {
		return 0, 0, ErrUnknownAction
	}
	return pa.status, pa.attempts, nil
}

// Abort cancels a pending action. The in-flight attempt's context is
// cancelled; an action already terminal is left untouched.
func (e *Executor) Abort(id uint64) error {
	e.mu.Lock()
	pa, ok := e.pending[id]
	if !ok {
		e.mu.Unlock()
		return ErrUnknownAction
	}
	if pa.status.terminal() {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	pa.cancel()
	e.logger.Info("action abort requested", "action_id", id)
	return nil
}

// Forget drops a terminal action from the arena.
func (e *Executor) Forget(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pa, ok := e.pending[id]; ok && pa.status.terminal() {
		delete(e.pending, id)
	}
}

// run drives one action through its attempt budget. Attempts are assumed
// idempotent at the node: balance reads trivially, submissions because a
// duplicate send of the same signed transaction comes back as already
// processed, which the submit path maps to success.
func (e *Executor) run(ctx context.Context, pa *pendingAction) {
	defer pa.cancel()

	kind := pa.req.Kind.String()

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		e.setRunning(pa, attempt)

		res, err := e.attempt(ctx, pa.req)
		if err == nil {
			if e.metrics != nil {
				e.metrics.RecordActionAttempt(kind, "ok")
			}
			e.finish(pa, StatusSucceeded, res, nil)
			return
		}
		lastErr = err
		if e.metrics != nil {
			e.metrics.RecordActionAttempt(kind, "error")
		}

		if ctx.Err() != nil {
			e.finish(pa, StatusAborted, Result{}, fmt.Errorf("%w: %w", ErrAborted, ctx.Err()))
			return
		}
		if !Retryable(err) {
			e.logger.Warn("action failed with non-retryable error",
				"action_id", pa.id,
				"kind", kind,
				"attempt", attempt,
				"error", err,
			)
			e.finish(pa, StatusFailed, Result{}, err)
			return
		}
		if attempt == e.maxAttempts {
			break
		}

		delay := e.policy.Delay(attempt - 1)
		e.logger.Warn("action attempt failed, retrying",
			"action_id", pa.id,
			"kind", kind,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if e.metrics != nil {
			e.metrics.RecordActionRetry(kind, retryReason(err))
		}
		if err := e.sleep(ctx, delay); err != nil {
			e.finish(pa, StatusAborted, Result{}, fmt.Errorf("%w: %w", ErrAborted, err))
			return
		}
	}

	e.finish(pa, StatusFailed, Result{},
		fmt.Errorf("exhausted %d attempts: %w", e.maxAttempts, lastErr))
}

// attempt performs one rate-limited, breaker-guarded call under the
// per-attempt deadline.
func (e *Executor) attempt(ctx context.Context, req Request) (Result, error) {
	if !e.limiter.Allow() {
		if e.metrics != nil {
			e.metrics.RecordRateLimitWait()
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return Result{}, err
		}
	}

	actx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	out, err := e.breaker.Execute(func() (interface{}, error) {
		return e.call(actx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			if e.metrics != nil {
				e.metrics.RecordBreakerOpen()
			}
		}
		return Result{}, err
	}
	return out.(Result), nil
}

func (e *Executor) call(ctx context.Context, req Request) (Result, error) {
	switch req.Kind {
	case KindQueryBalance:
		lamports, err := e.client.GetBalance(ctx, req.Account)
		if err != nil {
			return Result{}, err
		}
		return Result{Lamports: lamports}, nil

	case KindQueryLargestHolders:
		holders, err := e.client.GetTokenLargestAccounts(ctx, req.Account)
		if err != nil {
			return Result{}, err
		}
		return Result{Holders: holders}, nil

	case KindSubmitTransaction:
		if req.Transaction == nil {
			return Result{}, errors.New("invalid request: submit action missing transaction")
		}
		sig, err := e.client.SendTransaction(ctx, req.Transaction)
		if err != nil {
			// The node rejecting a duplicate send means an earlier
			// ambiguous attempt actually landed; the signature is known
			// from the signed transaction itself.
			if alreadyProcessed(err) && len(req.Transaction.Signatures) > 0 {
				return Result{Signature: req.Transaction.Signatures[0]}, nil
			}
			return Result{}, err
		}
		return Result{Signature: sig}, nil

	default:
		return Result{}, fmt.Errorf("unknown action kind %d", req.Kind)
	}
}

func (e *Executor) setRunning(pa *pendingAction, attempt int) {
	e.mu.Lock()
	pa.status = StatusRunning
	pa.attempts = attempt
	e.mu.Unlock()
}

// finish records the terminal state exactly once.
func (e *Executor) finish(pa *pendingAction, status Status, res Result, err error) {
	e.mu.Lock()
	if pa.status.terminal() {
		e.mu.Unlock()
		return
	}
	pa.status = status
	pa.result = res
	pa.err = err
	e.mu.Unlock()
	close(pa.done)

	if e.metrics != nil {
		e.metrics.RecordActionTerminal(pa.req.Kind.String(), status.String())
	}
	e.logger.Info("action finished",
		"action_id", pa.id,
		"kind", pa.req.Kind.String(),
		"status", status.String(),
		"attempts", pa.attempts,
		"error", err,
	)
}

func (e *Executor) sleepFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
