package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IshaanNene/specwatch/internal/audit"
	"github.com/IshaanNene/specwatch/internal/config"
	"github.com/IshaanNene/specwatch/internal/observability"
	"github.com/IshaanNene/specwatch/internal/storage"
	"github.com/IshaanNene/specwatch/internal/types"
)

// DepsFactory builds the collaborators for one attempt. It is called again
// for every retry so each attempt starts with a fresh browser.
type DepsFactory func(ctx context.Context, rc RunContext) (*Deps, error)

// Supervisor runs the configured models one after another and retries a
// failed model a bounded number of times.
type Supervisor struct {
	cfg     *config.Config
	sites   config.Sites
	store   CheckpointStore
	history RunHistory
	newDeps DepsFactory
	opts    Options
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewSupervisor(cfg *config.Config, sites config.Sites, store CheckpointStore, newDeps DepsFactory, metrics *observability.Metrics, logger *slog.Logger) *Supervisor {
	s := &Supervisor{
		cfg:     cfg,
		sites:   sites,
		store:   store,
		newDeps: newDeps,
		opts: Options{
			MaxPages: cfg.Campaign.MaxPages,
			DryRun:   cfg.Campaign.DryRun,
			Audit:    cfg.Campaign.Audit,
		},
		metrics: metrics,
		logger:  logger.With("component", "supervisor"),
		now:     time.Now,
	}
	if h, ok := store.(RunHistory); ok {
		s.history = h
	}
	return s
}

func (s *Supervisor) maxRetries() int {
	if s.cfg.Supervisor.MaxRetries < 1 {
		return 1
	}
	return s.cfg.Supervisor.MaxRetries
}

// Run resumes the model list from the persisted checkpoint and runs every
// remaining model. The checkpoint is rewound to the first model once the
// list is complete.
func (s *Supervisor) Run(ctx context.Context) error {
	models := s.cfg.Campaign.Models
	if len(models) == 0 {
		return &types.ConfigError{Field: "campaign.models", Err: fmt.Errorf("no models configured")}
	}

	cp, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading checkpoint: %w", err)
	}
	if cp.ModelIndex < 0 || cp.ModelIndex >= len(models) {
		cp = types.Checkpoint{}
	}
	if cp.RetryCount >= s.maxRetries() {
		model := models[cp.ModelIndex]
		s.recorderFor(model).Abort(cp.RetryCount)
		s.logger.Error("retry budget already spent", "model", model, "retries", cp.RetryCount)
		cp.RetryCount = 0
		s.save(ctx, s.store, cp)
		return fmt.Errorf("model %s: %w", model, types.ErrRetriesExhausted)
	}

	for i := cp.ModelIndex; i < len(models); i++ {
		if err := s.runModel(ctx, s.store, i, models[i], &cp); err != nil {
			return err
		}
		cp = types.Checkpoint{ModelIndex: i + 1}
		if i+1 == len(models) {
			cp.ModelIndex = 0
		}
		s.save(ctx, s.store, cp)
	}
	s.logger.Info("all models complete", "models", len(models))
	return nil
}

// RunOne runs a single model under the same retry bound without touching the
// persisted campaign position.
func (s *Supervisor) RunOne(ctx context.Context, model string) error {
	var cp types.Checkpoint
	return s.runModel(ctx, &MemoryCheckpointStore{}, 0, model, &cp)
}

// Replay runs the reprocess-queue pass for one model.
func (s *Supervisor) Replay(ctx context.Context, model string) (Summary, error) {
	site, err := s.sites.Lookup(model)
	if err != nil {
		return Summary{}, err
	}
	rc := s.runContext(NewRunID(), 0, model, *site, 1)
	deps, err := s.newDeps(ctx, rc)
	if err != nil {
		return Summary{}, err
	}
	defer deps.Close()
	campaign := NewCampaign(s.cfg, rc, deps, s.recorderFor(model), s.metrics, s.logger)
	return campaign.Replay(ctx)
}

func (s *Supervisor) runModel(ctx context.Context, store CheckpointStore, index int, model string, cp *types.Checkpoint) error {
	recorder := s.recorderFor(model)
	site, err := s.sites.Lookup(model)
	if err != nil {
		s.logger.Error("model not runnable", "model", model, "error", err)
		recorder.Restart(err)
		return err
	}

	runID := NewRunID()
	for {
		rc := s.runContext(runID, index, model, *site, cp.RetryCount+1)
		sum, err := s.attempt(ctx, rc, recorder)
		s.record(ctx, rc, sum, err)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.metrics.CampaignFailures.Add(1)
		recorder.Restart(err)
		recorder.Summary(sum.Vehicles, sum.Pages, "error: "+err.Error())
		if types.IsFatal(err) {
			s.logger.Error("campaign failed with a configuration error", "model", model, "error", err)
			return err
		}

		cp.ModelIndex = index
		cp.RetryCount++
		if cp.RetryCount >= s.maxRetries() {
			recorder.Abort(cp.RetryCount)
			s.logger.Error("campaign aborted", "model", model, "retries", cp.RetryCount, "error", err)
			cp.RetryCount = 0
			s.save(ctx, store, *cp)
			return fmt.Errorf("model %s: %w: %v", model, types.ErrRetriesExhausted, err)
		}
		s.save(ctx, store, *cp)
		s.logger.Warn("campaign failed, restarting", "model", model, "retry", cp.RetryCount, "error", err)
	}
}

func (s *Supervisor) attempt(ctx context.Context, rc RunContext, recorder *audit.Recorder) (Summary, error) {
	s.metrics.CampaignAttempts.Add(1)
	deps, err := s.newDeps(ctx, rc)
	if err != nil {
		return Summary{}, err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			s.logger.Debug("releasing campaign resources", "error", err)
		}
	}()
	return NewCampaign(s.cfg, rc, deps, recorder, s.metrics, s.logger).Run(ctx)
}

func (s *Supervisor) runContext(runID string, index int, model string, site config.Site, attempt int) RunContext {
	return RunContext{
		RunID:      runID,
		Model:      model,
		ModelIndex: index,
		Attempt:    attempt,
		Site:       site,
		Paths:      storage.NewPaths(s.cfg.Storage.DataDir, s.cfg.Storage.AuditDir, model),
		Options:    s.opts,
		StartedAt:  s.now(),
	}
}

func (s *Supervisor) recorderFor(model string) *audit.Recorder {
	p := storage.NewPaths(s.cfg.Storage.DataDir, s.cfg.Storage.AuditDir, model)
	return audit.NewRecorder(p.AuditDir, s.opts.Audit, s.logger)
}

func (s *Supervisor) save(ctx context.Context, store CheckpointStore, cp types.Checkpoint) {
	cp.UpdatedAt = s.now()
	if err := store.Save(ctx, cp); err != nil {
		s.logger.Error("saving checkpoint", "error", err)
	}
}

func (s *Supervisor) record(ctx context.Context, rc RunContext, sum Summary, runErr error) {
	if s.history == nil {
		return
	}
	r := types.RunRecord{
		RunID:      rc.RunID,
		Model:      rc.Model,
		Attempt:    rc.Attempt,
		StartedAt:  rc.StartedAt,
		FinishedAt: s.now(),
		Status:     "ok",
		Vehicles:   sum.Vehicles,
		Pages:      sum.Pages,
		ExitReason: sum.ExitReason,
	}
	if runErr != nil {
		r.Status, r.Error = "failed", runErr.Error()
	}
	if err := s.history.RecordRun(context.WithoutCancel(ctx), r); err != nil {
		s.logger.Warn("recording run history", "error", err)
	}
}
