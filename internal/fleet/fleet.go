// Package fleet implements the fleet orchestrator (C9): enumerate
// active users, run the per-user pipeline for each sequentially, and
// reclaim memory between users so peak usage stays bounded on small
// hosts. A per-user failure is isolated — it is recorded against that
// user and the fleet continues to the next one.
package fleet

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sync/errgroup"

	"github.com/stokedbloke/gigglepipe/internal/classifier"
	"github.com/stokedbloke/gigglepipe/internal/datastore"
	"github.com/stokedbloke/gigglepipe/internal/logging"
	"github.com/stokedbloke/gigglepipe/internal/metrics"
	"github.com/stokedbloke/gigglepipe/internal/pipeline"
	"github.com/stokedbloke/gigglepipe/internal/upstream"
)

// Filter narrows the enumerated user set. A nil/zero Filter selects
// every user with an active upstream credential. When both IDs and
// Emails are set, IDs are resolved first, in the order given, then
// Emails, also in order; duplicates are not de-duplicated against each
// other since an operator naming the same user twice is their call.
type Filter struct {
	IDs    []string
	Emails []string
}

func (f Filter) empty() bool { return len(f.IDs) == 0 && len(f.Emails) == 0 }

// Result summarizes one fleet run.
type Result struct {
	Succeeded []string
	Failed    map[string]error
}

// AnyFailed reports whether at least one user's run ended in error,
// the signal cmd uses to choose exit code 1 over 0.
func (r *Result) AnyFailed() bool { return len(r.Failed) > 0 }

// Orchestrator runs C8 over a fleet of users.
type Orchestrator struct {
	Store    datastore.Interface
	Runner   *pipeline.Runner
	Upstream *upstream.Client
	Metrics  *metrics.Pipeline // optional; nil disables metrics recording
}

// New builds an Orchestrator sharing the process-global store, pipeline
// runner, and upstream client across every user it processes.
func New(store datastore.Interface, runner *pipeline.Runner, upstreamClient *upstream.Client) *Orchestrator {
	return &Orchestrator{Store: store, Runner: runner, Upstream: upstreamClient}
}

// RunNightly runs the previous local day for every user matching filter.
func (o *Orchestrator) RunNightly(ctx context.Context, filter Filter) (*Result, error) {
	return o.run(ctx, "nightly", filter, func(ctx context.Context, userID string) error {
		return o.Runner.RunNightly(ctx, userID)
	})
}

// RunUpdateToday tops up today for every user matching filter.
func (o *Orchestrator) RunUpdateToday(ctx context.Context, filter Filter) (*Result, error) {
	return o.run(ctx, "update_today", filter, func(ctx context.Context, userID string) error {
		return o.Runner.RunUpdateToday(ctx, userID)
	})
}

func (o *Orchestrator) run(ctx context.Context, mode string, filter Filter, step func(context.Context, string) error) (*Result, error) {
	users, err := o.enumerate(ctx, filter)
	if err != nil {
		return nil, err
	}

	result := &Result{Failed: make(map[string]error)}
	log := logging.With("component", "fleet")
	log.Info("fleet run starting", "mode", mode, "user_count", len(users))

	// teardown runs releaseBetweenUsers for the just-finished user
	// concurrently with the next user's step, but the defer below
	// ensures a cancelled run still waits for that in-flight release to
	// land before this method returns — graceful shutdown rather than
	// an abandoned goroutine.
	var teardown errgroup.Group
	defer func() { _ = teardown.Wait() }()

	for i, userID := range users {
		if err := ctx.Err(); err != nil {
			log.Warn("fleet run cancelled", "remaining_users", len(users)-i)
			break
		}

		began := time.Now()
		err := step(ctx, userID)
		if o.Metrics != nil {
			o.Metrics.RecordRunDuration(mode, time.Since(began).Seconds())
		}

		if err != nil {
			// The per-user ProcessingLog already recorded this failure
			// (pipeline.Runner.run always flushes before returning); the
			// fleet's job is only to not let it propagate further.
			log.Error("user run failed", "user_id", userID, "err", err)
			result.Failed[userID] = err
			if o.Metrics != nil {
				o.Metrics.RecordFleetUserRun("failed")
			}
		} else {
			result.Succeeded = append(result.Succeeded, userID)
			if o.Metrics != nil {
				o.Metrics.RecordFleetUserRun("ok")
			}
		}

		// Wait for the previous user's teardown before starting this
		// one's, preserving the sequential-processing contract while
		// still modeling the release as the async step it conceptually
		// is (it outlives the step() call that triggered it).
		_ = teardown.Wait()
		teardown.Go(func() error {
			o.releaseBetweenUsers(userID)
			return nil
		})
	}

	log.Info("fleet run complete", "succeeded", len(result.Succeeded), "failed", len(result.Failed))
	return result, nil
}

// enumerate resolves filter to an ordered list of user ids (repeats are
// kept): every active user when filter is empty, otherwise
// the explicit id list followed by the explicit email list, each
// preserving the order the operator gave.
func (o *Orchestrator) enumerate(ctx context.Context, filter Filter) ([]string, error) {
	if filter.empty() {
		users, err := o.Store.ListActiveUsers(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(users))
		for i, u := range users {
			ids[i] = u.ID
		}
		return ids, nil
	}

	var ids []string
	for _, id := range filter.IDs {
		ids = append(ids, id)
	}
	for _, email := range filter.Emails {
		u, err := o.Store.GetUserByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		ids = append(ids, u.ID)
	}
	return ids, nil
}

// releaseBetweenUsers implements the per-user teardown the design notes
// and §5 require: clear the classifier's scratch state, release the
// shared HTTP client's idle connections, run GC to completion, and
// request an OS-level heap trim. A memory probe is logged so operators
// can watch peak usage on small hosts.
func (o *Orchestrator) releaseBetweenUsers(userID string) {
	o.Upstream.ReleaseConnections()
	classifier.ReleaseSegmentMemory() // runs GC to completion and requests an OS heap trim

	if vm, err := mem.VirtualMemory(); err == nil {
		logging.With("component", "fleet").Debug("memory after user",
			"user_id", userID, "used_percent", vm.UsedPercent, "available_bytes", vm.Available)
	}
}
