package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wordware-roast-be/internal/pkg/logger"
	"wordware-roast-be/internal/repository/unitofwork"
	"wordware-roast-be/pkg/events"
)

var ErrPersistenceFailure = errors.New("analysis persistence failed")

type pendingOutput struct {
	seq    int
	output map[string]interface{}
}

// analysisPersister owns the analysis blob of one run. Outputs are queued by
// the read loop without waiting and written one at a time, in arrival order,
// by a single worker. Each queued output is an independent write attempt.
type analysisPersister struct {
	uowFactory   unitofwork.RepositoryFactory
	publisher    IPublisherService
	logger       logger.ILogger
	tier         Tier
	username     string
	runID        string
	writeTimeout time.Duration

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []pendingOutput
	closed bool

	// analysis is the last blob known to be in the store: the snapshot read
	// at the start of the run, then every successfully written merge.
	analysis map[string]interface{}

	// latest is the most recent output received; latestSaved tells whether
	// it has been confirmed written.
	latest      pendingOutput
	latestSaved bool

	attempts  int
	failures  int
	rollbacks int
}

func newAnalysisPersister(
	uowFactory unitofwork.RepositoryFactory,
	publisher IPublisherService,
	log logger.ILogger,
	tier Tier,
	username, runID string,
	prior map[string]interface{},
	writeTimeout time.Duration,
) *analysisPersister {
	p := &analysisPersister{
		uowFactory:   uowFactory,
		publisher:    publisher,
		logger:       log,
		tier:         tier,
		username:     username,
		runID:        runID,
		writeTimeout: writeTimeout,
		analysis:     copyAnalysis(prior),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Submit queues an output mapping for persistence and returns immediately.
func (p *analysisPersister) Submit(output map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.latest = pendingOutput{seq: p.latest.seq + 1, output: output}
	p.latestSaved = false
	p.queue = append(p.queue, p.latest)
	p.cond.Signal()
}

// Close stops accepting outputs. The worker drains what is queued and exits.
func (p *analysisPersister) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// run is the worker loop; it returns once Close was called and the queue is empty.
func (p *analysisPersister) run(ctx context.Context) error {
	for {
		item, ok := p.next()
		if !ok {
			return nil
		}
		_ = p.persist(ctx, item)
	}
}

func (p *analysisPersister) next() (pendingOutput, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return pendingOutput{}, false
	}
	item := p.queue[0]
	p.queue = p.queue[1:]
	return item, true
}

// finalPass retries the latest output once if it was received but never
// confirmed written. Call only after the worker has exited.
func (p *analysisPersister) finalPass(ctx context.Context) {
	p.mu.Lock()
	latest, saved := p.latest, p.latestSaved
	p.mu.Unlock()
	if latest.seq == 0 || saved {
		return
	}
	p.logger.Warn("AnalysisPersister", "Retrying unconfirmed analysis before close", map[string]interface{}{
		"run_id":   p.runID,
		"username": p.username,
	})
	_ = p.persist(ctx, latest)
}

// persist shallow-merges output over the stored analysis (new keys win) and
// writes it together with the completed flags. On failure the tier flags are
// reset in a separate compensating write; the analysis column is not touched.
func (p *analysisPersister) persist(ctx context.Context, item pendingOutput) error {
	p.mu.Lock()
	p.attempts++
	merged := mergeAnalysis(p.analysis, item.output)
	p.mu.Unlock()

	err := p.write(ctx, p.tier.completeFields(merged))
	if err == nil {
		p.mu.Lock()
		p.analysis = merged
		if item.seq == p.latest.seq {
			p.latestSaved = true
		}
		p.mu.Unlock()

		p.logger.Info("AnalysisPersister", "Analysis saved to database", map[string]interface{}{
			"run_id":   p.runID,
			"username": p.username,
			"tier":     p.tier.Name,
			"keys":     len(merged),
		})
		p.publish(ctx, events.TypeRunCompleted, nil)
		return nil
	}

	p.mu.Lock()
	p.failures++
	p.rollbacks++
	p.mu.Unlock()

	p.logger.Error("AnalysisPersister", "Error saving analysis, rolling back status", map[string]interface{}{
		"run_id":   p.runID,
		"username": p.username,
		"tier":     p.tier.Name,
		"error":    err.Error(),
	})

	if rbErr := p.write(ctx, p.tier.resetFields()); rbErr != nil {
		p.logger.Error("AnalysisPersister", "Compensating status reset failed", map[string]interface{}{
			"run_id":   p.runID,
			"username": p.username,
			"error":    rbErr.Error(),
		})
	}
	p.publish(ctx, events.TypeRunRolledBack, map[string]interface{}{"error": err.Error()})
	return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
}

// write runs on a context detached from the stream so a timeout or a caller
// disconnect does not cut a database write in half.
func (p *analysisPersister) write(ctx context.Context, fields map[string]interface{}) (err error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.writeTimeout)
	defer cancel()

	uow := p.uowFactory.NewUnitOfWork(writeCtx)
	if err := uow.Begin(writeCtx); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = uow.Rollback()
		}
	}()

	if err = uow.UserRepository().UpdateFields(writeCtx, p.username, fields); err != nil {
		return err
	}
	return uow.Commit()
}

func (p *analysisPersister) publish(ctx context.Context, eventType string, extra map[string]interface{}) {
	if p.publisher == nil {
		return
	}
	data := map[string]interface{}{
		"run_id":   p.runID,
		"username": p.username,
		"tier":     p.tier.Name,
	}
	for k, v := range extra {
		data[k] = v
	}
	if err := p.publisher.Publish(ctx, events.New(eventType, data)); err != nil {
		p.logger.Warn("AnalysisPersister", "Failed to publish run event", map[string]interface{}{"error": err.Error()})
	}
}

type persisterStats struct {
	Attempts  int
	Failures  int
	Rollbacks int
	Saved     bool
	Received  bool
}

func (p *analysisPersister) stats() persisterStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return persisterStats{
		Attempts:  p.attempts,
		Failures:  p.failures,
		Rollbacks: p.rollbacks,
		Saved:     p.latest.seq > 0 && p.latestSaved,
		Received:  p.latest.seq > 0,
	}
}

func mergeAnalysis(base, output map[string]interface{}) map[string]interface{} {
	merged := copyAnalysis(base)
	for k, v := range output {
		merged[k] = v
	}
	return merged
}

func copyAnalysis(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
