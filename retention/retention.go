// Package retention decides when an idle node should be torn down.
//
// A check runs either periodically or when a task completes on a node whose retention is zero.
// Checks are mutually exclusive: a check that finds another one in progress is skipped, not queued.
// A node that is past its retention time is kept if the Policy says the fleet still needs it, and
// otherwise recorded by the Auditor then marked pending delete. Marking is one-way.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gammadia/nimbus/metrics"
)

// Node is the view of a fleet node the engine needs.
type Node interface {
	Name() string
	IsPendingDelete() bool
	MarkPendingDelete()
	// IsConnecting tells whether the node is still being brought up.
	IsConnecting() bool
	IsIdle() bool
	IdleSince() time.Time
	// Retention is how long the node may stay idle. Zero means it is never reused, negative means forever.
	Retention() time.Duration
	IsOfflineByUser() bool
}

type Policy interface {
	// ShouldRetain tells whether removing node would breach the fleet minimum.
	ShouldRetain(node Node) (bool, error)
}

type Auditor interface {
	Record(node Node) error
}

type Config struct {
	Policy   Policy
	Auditor  Auditor
	Logger   *slog.Logger
	Clock    func() time.Time
	Disabled bool
}

type Engine struct {
	config Config
	log    *slog.Logger
	busy   atomic.Bool
}

func New(config Config) *Engine {
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Engine{
		config: config,
		log:    config.Logger,
	}
}

// Check evaluates node and reports whether the evaluation ran.
// It returns false without doing anything when another check holds the lock or the engine is disabled.
func (e *Engine) Check(node Node) (bool, error) {
	if e.config.Disabled {
		return false, nil
	}

	if !e.busy.CompareAndSwap(false, true) {
		if node != nil {
			e.log.Info("Retention check already in progress, skipping", "node", node.Name())
		}
		metrics.RetentionDecisions.WithLabelValues("skipped").Inc()
		return false, nil
	}
	defer e.busy.Store(false)

	return true, e.check(node)
}

// TaskCompleted runs a check right away for nodes that must not be reused.
func (e *Engine) TaskCompleted(node Node) (bool, error) {
	if node == nil || node.Retention() != 0 {
		return false, nil
	}
	return e.Check(node)
}

// Run checks every node returned by nodes at each interval until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration, nodes func() []Node) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, node := range nodes() {
				if _, err := e.Check(node); err != nil {
					e.log.Warn("Retention check failed", "node", node.Name(), "error", err)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) check(node Node) error {
	if node == nil || node.IsPendingDelete() || node.IsConnecting() {
		return nil
	}

	retention := node.Retention()
	if retention < 0 {
		return nil
	}
	if retention != 0 && !node.IsIdle() {
		return nil
	}
	if node.IsOfflineByUser() {
		return nil
	}

	log := e.log.With("node", node.Name(), "retention", retention)

	idleSince := node.IdleSince()
	if retention != 0 && e.config.Clock().Sub(idleSince) <= retention {
		return nil
	}

	if e.config.Policy != nil {
		retain, err := e.config.Policy.ShouldRetain(node)
		if err != nil {
			metrics.RetentionDecisions.WithLabelValues("error").Inc()
			return fmt.Errorf("failed to evaluate fleet minimum for node '%s': %w", node.Name(), err)
		}
		if retain {
			log.Debug("Keeping node to meet minimum requirements", "idle-since", idleSince)
			metrics.RetentionDecisions.WithLabelValues("retained").Inc()
			return nil
		}
	}

	log.Info("Scheduling node for termination", "idle-since", idleSince)
	if e.config.Auditor != nil {
		if err := e.config.Auditor.Record(node); err != nil {
			log.Warn("Failed to record node configuration", "error", err)
		}
	}
	node.MarkPendingDelete()
	metrics.RetentionDecisions.WithLabelValues("pending-delete").Inc()
	return nil
}
