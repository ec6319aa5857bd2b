package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"wordware-roast-be/internal/dto"
	"wordware-roast-be/internal/entity"
	"wordware-roast-be/internal/pkg/logger"
	"wordware-roast-be/internal/repository/contract"
	"wordware-roast-be/internal/repository/specification"
	"wordware-roast-be/internal/repository/unitofwork"
	"wordware-roast-be/pkg/events"
	"wordware-roast-be/pkg/wordware"
	"wordware-roast-be/pkg/wordware/stream"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUserNotFound        = contract.ErrUserNotFound
	ErrUpstreamUnavailable = wordware.ErrUpstreamUnavailable
	ErrStreamTimeout       = errors.New("wordware stream timed out")
	ErrCallerGone          = errors.New("caller disconnected")
)

const readBufferSize = 32 * 1024

type RunStatus int

const (
	RunStatusReady RunStatus = iota
	RunStatusAlreadyInProgress
)

type RunOutcome string

const (
	OutcomeCompleted     RunOutcome = "completed"
	OutcomeTimeout       RunOutcome = "timeout"
	OutcomeUpstreamError RunOutcome = "upstream_error"
	OutcomeCallerGone    RunOutcome = "caller_gone"
)

type WordwareOptions struct {
	StreamTimeout     time.Duration
	DedupGraceWindow  time.Duration
	FallbackThreshold int
	WriteTimeout      time.Duration
	LockTTL           time.Duration
}

func (o WordwareOptions) withDefaults() WordwareOptions {
	if o.StreamTimeout <= 0 {
		o.StreamTimeout = 5 * time.Minute
	}
	if o.DedupGraceWindow <= 0 {
		o.DedupGraceWindow = 3 * time.Minute
	}
	if o.FallbackThreshold <= 0 {
		o.FallbackThreshold = stream.DefaultFallbackThreshold
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.LockTTL <= 0 {
		o.LockTTL = o.StreamTimeout + time.Minute
	}
	return o
}

type IWordwareService interface {
	// Prepare validates the subject, applies the dedup guard, marks the tier
	// started and opens the upstream stream. A Run with
	// RunStatusAlreadyInProgress carries no stream and needs no Close.
	Prepare(ctx context.Context, req dto.RunRequest) (*Run, error)
	GetStatus(ctx context.Context, username string) (*dto.RunStatusResponse, error)
}

type wordwareService struct {
	uowFactory   unitofwork.RepositoryFactory
	runner       wordware.Runner
	lock         contract.RunLock
	publisher    IPublisherService
	logger       logger.ILogger
	traceLogger  logger.ILogger
	freePromptID string
	fullPromptID string
	opts         WordwareOptions
	tracer       trace.Tracer
	now          func() time.Time
}

func NewWordwareService(
	uowFactory unitofwork.RepositoryFactory,
	runner wordware.Runner,
	lock contract.RunLock,
	publisher IPublisherService,
	log logger.ILogger,
	traceLog logger.ILogger,
	freePromptID, fullPromptID string,
	opts WordwareOptions,
) IWordwareService {
	if traceLog == nil {
		traceLog = log
	}
	return &wordwareService{
		uowFactory:   uowFactory,
		runner:       runner,
		lock:         lock,
		publisher:    publisher,
		logger:       log,
		traceLogger:  traceLog,
		freePromptID: freePromptID,
		fullPromptID: fullPromptID,
		opts:         opts.withDefaults(),
		tracer:       otel.Tracer("wordware-roast-be/internal/service"),
		now:          time.Now,
	}
}

func (s *wordwareService) tierFor(full bool) Tier {
	if full {
		return NewPaidTier(s.fullPromptID)
	}
	return NewFreeTier(s.freePromptID)
}

func (s *wordwareService) Prepare(ctx context.Context, req dto.RunRequest) (*Run, error) {
	runID := uuid.NewString()
	tier := s.tierFor(req.Full)

	s.logger.Info("WordwareService", "Received request", map[string]interface{}{
		"run_id":   runID,
		"username": req.Username,
		"tier":     tier.Name,
	})

	uow := s.uowFactory.NewUnitOfWork(ctx)
	user, err := uow.UserRepository().FindOne(ctx, specification.ByUsername{Username: req.Username})
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", req.Username, err)
	}
	if user == nil {
		s.logger.Error("WordwareService", "User not found", map[string]interface{}{"run_id": runID, "username": req.Username})
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, req.Username)
	}

	now := s.now()
	if tier.InProgress(user, now, s.opts.DedupGraceWindow) {
		s.logger.Warn("WordwareService", "Wordware already started or completed", map[string]interface{}{
			"run_id":   runID,
			"username": user.Username,
			"tier":     tier.Name,
		})
		return &Run{Status: RunStatusAlreadyInProgress, RunID: runID, Username: user.Username, Tier: tier.Name}, nil
	}

	lockKey := user.Username + ":" + tier.Name
	acquired, err := s.lock.Acquire(ctx, lockKey, runID, s.opts.LockTTL)
	if err != nil {
		// The lock is advisory on top of the status flags; a lock backend outage must not block runs.
		s.logger.Warn("WordwareService", "Run lock unavailable, continuing without it", map[string]interface{}{
			"run_id": runID,
			"error":  err.Error(),
		})
		lockKey = ""
	} else if !acquired {
		s.logger.Warn("WordwareService", "Run lock held by another request", map[string]interface{}{
			"run_id":   runID,
			"username": user.Username,
			"tier":     tier.Name,
		})
		return &Run{Status: RunStatusAlreadyInProgress, RunID: runID, Username: user.Username, Tier: tier.Name}, nil
	}

	run := &Run{
		Status:   RunStatusReady,
		RunID:    runID,
		Username: user.Username,
		Tier:     tier.Name,
		svc:      s,
		user:     user,
		tier:     tier,
		lockKey:  lockKey,
	}

	// Marked before the upstream call so a crash mid-call reads as "in progress".
	if err := uow.UserRepository().UpdateFields(ctx, user.Username, tier.startFields(now)); err != nil {
		run.release()
		return nil, fmt.Errorf("mark %s run started: %w", tier.Name, err)
	}
	s.publish(ctx, events.TypeRunStarted, run.eventData(nil))

	s.logger.Info("WordwareService", "Using prompt", map[string]interface{}{
		"run_id":    runID,
		"prompt_id": tier.PromptID,
		"tier":      tier.Name,
		"tweets":    len(user.Tweets),
	})

	// The run outlives the HTTP handler: the body is streamed after the
	// handler returns, so only values (not cancellation) are inherited.
	run.ctx, run.cancel = context.WithCancelCause(context.WithoutCancel(ctx))

	body, err := s.runner.Run(run.ctx, tier.PromptID, wordware.Inputs{
		Tweets:         FormatTweets(user.Username, user.Tweets),
		ProfilePicture: user.ProfilePicture,
		ProfileInfo:    user.FullProfile,
		Version:        wordware.PromptVersion,
	})
	if err != nil {
		run.release()
		if !errors.Is(err, ErrUpstreamUnavailable) {
			err = fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		s.logger.Error("WordwareService", "No reader or API call failed", map[string]interface{}{
			"run_id": runID,
			"error":  err.Error(),
		})
		s.publish(ctx, events.TypeRunFailed, run.eventData(map[string]interface{}{"error": err.Error()}))
		return nil, err
	}
	run.body = body

	return run, nil
}

func (s *wordwareService) GetStatus(ctx context.Context, username string) (*dto.RunStatusResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	user, err := uow.UserRepository().FindOne(ctx, specification.ByUsername{Username: username})
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", username, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}

	return &dto.RunStatusResponse{
		Username: user.Username,
		Free: dto.TierStatus{
			Started:     user.WordwareStarted,
			Completed:   user.WordwareCompleted,
			StartedTime: user.WordwareStartedTime,
		},
		Paid: dto.TierStatus{
			Started:     user.PaidWordwareStarted,
			Completed:   user.PaidWordwareCompleted,
			StartedTime: user.PaidWordwareStartedTime,
		},
		HasAnalysis: len(user.Analysis) > 0,
		Analysis:    user.Analysis,
	}, nil
}

func (s *wordwareService) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.New(eventType, data)); err != nil {
		s.logger.Warn("WordwareService", "Failed to publish run event", map[string]interface{}{"error": err.Error()})
	}
}

// Run is one request's stream, owned by a single goroutine from Prepare to
// the end of Stream. Nothing in it is shared with other requests.
type Run struct {
	Status   RunStatus
	RunID    string
	Username string
	Tier     string

	svc     *wordwareService
	user    *entity.User
	tier    Tier
	lockKey string

	ctx    context.Context
	cancel context.CancelCauseFunc
	body   io.ReadCloser

	bodyOnce    sync.Once
	releaseOnce sync.Once
}

// RunResult summarizes a finished stream.
type RunResult struct {
	RunID           string
	Outcome         RunOutcome
	Err             error
	Stream          stream.Stats
	RelayedBytes    int
	OutputsReceived bool
	Persisted       bool
	PersistAttempts int
	PersistFailures int
	Rollbacks       int
	Duration        time.Duration
}

// Cancel aborts the upstream read; Stream returns with OutcomeCallerGone.
func (r *Run) Cancel() {
	if r.cancel != nil {
		r.cancel(ErrCallerGone)
	}
}

// Close releases the upstream connection and lock of a run whose Stream was
// never called. Safe to call more than once and after Stream.
func (r *Run) Close() {
	r.release()
}

// Stream drives the upstream body through the pipeline into sink until the
// body ends, the timeout fires, the caller goes away or the read fails. It
// returns only after every persistence attempt has finished, and always
// releases the upstream body and closes the relay exactly once.
func (r *Run) Stream(sink stream.Sink) (result *RunResult) {
	s := r.svc
	startedAt := time.Now()
	result = &RunResult{RunID: r.RunID}

	ctx, span := s.tracer.Start(r.ctx, "wordware.run", trace.WithAttributes(
		attribute.String("run.id", r.RunID),
		attribute.String("run.tier", r.tier.Name),
	))
	defer span.End()

	relay := stream.NewRelay(sink)
	persister := newAnalysisPersister(s.uowFactory, s.publisher, s.logger, r.tier, r.user.Username, r.RunID, r.user.Analysis, s.opts.WriteTimeout)

	var outstanding errgroup.Group
	outstanding.Go(func() error { return persister.run(ctx) })

	pipeline := stream.NewPipeline(relay, s.opts.FallbackThreshold, stream.Hooks{
		OnMalformed: func(line string, err error) {
			s.logger.Warn("WordwareService", "Dropping malformed record", map[string]interface{}{
				"run_id": r.RunID,
				"error":  err.Error(),
				"line":   truncate(line, 256),
			})
		},
		OnTransition: func(rec stream.Record, tr stream.Transition) {
			r.logTransition(rec, tr)
		},
		OnOutputs: func(rec stream.Record) {
			s.logger.Info("WordwareService", "✨ Wordware outputs received, now persisting", map[string]interface{}{
				"run_id": r.RunID,
				"keys":   len(rec.Output()),
			})
			persister.Submit(rec.Output())
		},
	})

	timer := time.AfterFunc(s.opts.StreamTimeout, func() { r.cancel(ErrStreamTimeout) })

	defer func() {
		timer.Stop()
		r.closeBody()

		// Completion barrier: no response close while a write is in flight.
		persister.Close()
		_ = outstanding.Wait()
		persister.finalPass(ctx)

		if err := relay.Close(); err != nil {
			s.logger.Warn("WordwareService", "Closing output relay failed", map[string]interface{}{"run_id": r.RunID, "error": err.Error()})
		}
		r.release()

		ps := persister.stats()
		result.Stream = pipeline.Stats()
		result.RelayedBytes = len(relay.Text())
		result.OutputsReceived = ps.Received
		result.Persisted = ps.Saved
		result.PersistAttempts = ps.Attempts
		result.PersistFailures = ps.Failures
		result.Rollbacks = ps.Rollbacks
		result.Duration = time.Since(startedAt)

		r.finish(ctx, span, result)
	}()

	result.Outcome, result.Err = r.readLoop(ctx, pipeline, timer)
	return result
}

func (r *Run) readLoop(ctx context.Context, pipeline *stream.Pipeline, timer *time.Timer) (RunOutcome, error) {
	s := r.svc
	buf := make([]byte, readBufferSize)
	firstByte := true

	for {
		if cause := context.Cause(ctx); cause != nil {
			return outcomeFor(cause), cause
		}

		n, err := r.body.Read(buf)
		if n > 0 {
			if firstByte {
				// The deadline counts from the first byte; until then the same
				// budget guards against an upstream that never answers.
				firstByte = false
				timer.Reset(s.opts.StreamTimeout)
			}
			s.traceLogger.Debug("WordwareStream", "Received chunk", map[string]interface{}{
				"run_id": r.RunID,
				"bytes":  n,
				"chunk":  string(buf[:n]),
			})
			if ferr := pipeline.Feed(buf[:n]); ferr != nil {
				return OutcomeCallerGone, ferr
			}
		}

		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			if ferr := pipeline.Finish(); ferr != nil {
				return OutcomeCallerGone, ferr
			}
			return OutcomeCompleted, nil
		}
		if cause := context.Cause(ctx); cause != nil {
			return outcomeFor(cause), cause
		}
		return OutcomeUpstreamError, fmt.Errorf("read upstream: %w", err)
	}
}

func outcomeFor(cause error) RunOutcome {
	switch {
	case errors.Is(cause, ErrStreamTimeout):
		return OutcomeTimeout
	case errors.Is(cause, ErrCallerGone):
		return OutcomeCallerGone
	default:
		return OutcomeUpstreamError
	}
}

func (r *Run) logTransition(rec stream.Record, tr stream.Transition) {
	s := r.svc
	details := map[string]interface{}{"run_id": r.RunID, "label": rec.Label}

	switch {
	case tr == stream.TransitionForcedOpen:
		s.logger.Warn("WordwareService", "No output generation seen, forcing output scope open", map[string]interface{}{
			"run_id":    r.RunID,
			"threshold": s.opts.FallbackThreshold,
		})
	case rec.Kind == stream.KindGeneration && rec.State == stream.StateStart:
		s.logger.Debug("WordwareService", "NEW GENERATION - "+rec.Label, details)
	case rec.Kind == stream.KindGeneration:
		s.logger.Debug("WordwareService", "END GENERATION - "+rec.Label, details)
	}
}

func (r *Run) finish(ctx context.Context, span trace.Span, result *RunResult) {
	s := r.svc

	span.SetAttributes(
		attribute.String("run.outcome", string(result.Outcome)),
		attribute.Int("stream.records", result.Stream.Classified),
		attribute.Int("stream.malformed", result.Stream.Malformed),
		attribute.Int("stream.forwarded", result.Stream.Forwarded),
		attribute.Bool("stream.forced_open", result.Stream.ForcedOpen),
		attribute.Int("persist.attempts", result.PersistAttempts),
		attribute.Int("persist.rollbacks", result.Rollbacks),
	)
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, string(result.Outcome))
	}

	details := map[string]interface{}{
		"run_id":           r.RunID,
		"username":         r.Username,
		"tier":             r.tier.Name,
		"outcome":          result.Outcome,
		"records":          result.Stream.Classified,
		"malformed":        result.Stream.Malformed,
		"forwarded":        result.Stream.Forwarded,
		"relayed_bytes":    result.RelayedBytes,
		"generations":      result.Stream.Generations,
		"outputs_received": result.OutputsReceived,
		"persisted":        result.Persisted,
		"duration_ms":      result.Duration.Milliseconds(),
	}

	switch result.Outcome {
	case OutcomeCompleted:
		s.logger.Info("WordwareService", "Stream finished", details)
	case OutcomeTimeout:
		// Flags stay as last written; the grace window catches a retry.
		s.logger.Warn("WordwareService", "Stream timed out", details)
		s.publish(ctx, events.TypeRunTimedOut, r.eventData(nil))
	default:
		if result.Err != nil {
			details["error"] = result.Err.Error()
		}
		s.logger.Warn("WordwareService", "Stream ended early", details)
		if result.Outcome == OutcomeUpstreamError {
			s.publish(ctx, events.TypeRunFailed, r.eventData(map[string]interface{}{"error": details["error"]}))
		}
	}
}

func (r *Run) eventData(extra map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{
		"run_id":   r.RunID,
		"username": r.Username,
		"tier":     r.Tier,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

func (r *Run) closeBody() {
	r.bodyOnce.Do(func() {
		if r.body != nil {
			_ = r.body.Close()
		}
	})
}

func (r *Run) release() {
	r.releaseOnce.Do(func() {
		r.closeBody()
		if r.cancel != nil {
			r.cancel(context.Canceled)
		}
		if r.lockKey != "" && r.svc != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.svc.lock.Release(ctx, r.lockKey, r.RunID); err != nil {
				r.svc.logger.Warn("WordwareService", "Failed to release run lock", map[string]interface{}{
					"run_id": r.RunID,
					"error":  err.Error(),
				})
			}
		}
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
