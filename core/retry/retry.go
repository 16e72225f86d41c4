/*
Package retry wraps storage operations with bounded exponential-backoff retry.

Only faults classified as retryable (network, rate limit, server error) are
retried; everything else propagates immediately. When the connectivity probe
reports the service offline, operations can be deferred into a FIFO queue and
replayed once connectivity returns.
*/
package retry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roomops/roomops/core/faults"
	"github.com/roomops/roomops/core/logger"
)

// ErrQueued is returned by Execute when the operation was not attempted but
// placed into the offline queue instead.
var ErrQueued = errors.New("operation queued for replay")

// ConnectivityProbe reports whether the backend is reachable. The default
// probe always reports online.
type ConnectivityProbe interface {
	Online() bool
}

type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }

// Config configures an Executor. The zero value is usable.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first one. Default 3.
	MaxAttempts int
	// BaseDelay is the wait before the first retry, doubled for every further retry. Default 1s.
	BaseDelay time.Duration
	// Jitter randomizes the backoff delays. Off by default, which mirrors the
	// plain doubling schedule; note that correlated failures then retry in
	// lockstep.
	Jitter bool
	// Classifier records every failure. Optional.
	Classifier *faults.Classifier
	// Probe decides whether operations are attempted at all. Optional.
	Probe ConnectivityProbe
	// QueueOffline enables the offline queue. Without it, offline operations
	// fail with a network fault right away.
	QueueOffline bool
}

type queuedOperation struct {
	label string
	op    func(ctx context.Context) error
}

// Executor retries operations with exponential backoff and optionally defers
// them while offline.
type Executor struct {
	config Config

	mutex sync.Mutex
	queue []queuedOperation
}

// New creates an executor from the given configuration, filling in defaults.
func New(config Config) *Executor {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	if config.Probe == nil {
		config.Probe = alwaysOnline{}
	}
	return &Executor{config: config}
}

// Execute runs op, retrying retryable failures up to the configured attempt
// ceiling. The returned error is always a classified *faults.Fault, except for
// ErrQueued when the operation was deferred into the offline queue.
func (e *Executor) Execute(ctx context.Context, label string, op func(ctx context.Context) error) error {
	if !e.config.Probe.Online() {
		if e.config.QueueOffline {
			e.enqueue(label, op)
			return ErrQueued
		}
		return e.process(ctx, label, faults.New(faults.Network, "backend is offline"))
	}
	return e.attempt(ctx, label, op)
}

func (e *Executor) attempt(ctx context.Context, label string, op func(ctx context.Context) error) error {
	rlog := logger.FromContext(ctx)
	attempt := 0

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = e.config.BaseDelay
	schedule.Multiplier = 2
	schedule.MaxElapsedTime = 0
	if e.config.Jitter {
		schedule.RandomizationFactor = 0.5
	} else {
		schedule.RandomizationFactor = 0
	}
	schedule.Reset()

	wrapped := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		fault := faults.Classify(err)
		if !fault.Retryable {
			return backoff.Permanent(fault)
		}
		rlog.WithError(fault).Warnf("%s: attempt %d of %d failed", label, attempt, e.config.MaxAttempts)
		return fault
	}

	err := backoff.Retry(wrapped,
		backoff.WithContext(backoff.WithMaxRetries(schedule, uint64(e.config.MaxAttempts-1)), ctx))
	if err == nil {
		return nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	return e.process(ctx, label, err)
}

// process routes a failure through the classifier, if one is configured
func (e *Executor) process(ctx context.Context, label string, err error) error {
	if e.config.Classifier != nil {
		return e.config.Classifier.Process(ctx, label, err)
	}
	fault := faults.Classify(err)
	if fault.Operation == "" {
		fault.Operation = label
	}
	return fault
}

func (e *Executor) enqueue(label string, op func(ctx context.Context) error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.queue = append(e.queue, queuedOperation{label: label, op: op})
}

// QueueLength returns the number of operations waiting for replay.
func (e *Executor) QueueLength() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return len(e.queue)
}

// Replay runs all currently queued operations in FIFO submission order. It is
// meant to be called when the connectivity probe reports the backend online
// again. An operation that fails on replay with a retryable fault is
// re-queued at the tail; persistent failures can therefore starve strict
// ordering. Replay returns the number of operations that succeeded.
func (e *Executor) Replay(ctx context.Context) int {
	e.mutex.Lock()
	pending := e.queue
	e.queue = nil
	e.mutex.Unlock()

	rlog := logger.FromContext(ctx)
	succeeded := 0
	for _, queued := range pending {
		err := e.attempt(ctx, queued.label, queued.op)
		if err == nil {
			succeeded++
			continue
		}
		fault := faults.Classify(err)
		if fault.Retryable {
			rlog.WithError(fault).Warnf("%s: replay failed, re-queueing", queued.label)
			e.mutex.Lock()
			e.queue = append(e.queue, queued)
			e.mutex.Unlock()
		} else {
			rlog.WithError(fault).Warnf("%s: replay failed, dropping", queued.label)
		}
	}
	return succeeded
}
