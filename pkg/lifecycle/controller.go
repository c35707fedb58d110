// Package lifecycle owns the personalized-model state machine. All reads
// and writes of the per-profile ModelStatus go through one mutex-guarded
// controller, so a completing trainer and a concurrent scoring call never
// observe partial state.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/episense/episense/pkg/logx"
	"github.com/episense/episense/pkg/model"
	"github.com/episense/episense/pkg/trainer"
)

// ModelTrainer produces personalized models; satisfied by *trainer.Trainer.
type ModelTrainer interface {
	Train(ctx context.Context, episodes []model.EpisodeRecord, checkIns []model.DailyCheckIn, progress func(float64)) (*trainer.Model, error)
}

// Config controls when training starts and retries.
type Config struct {
	Threshold    int           `json:"threshold"`     // usable episodes before first training
	RetrainEvery int           `json:"retrain_every"` // new episodes since last success
	Cooldown     time.Duration `json:"cooldown"`      // wait after a failure before retrying
}

// DefaultConfig returns the standard lifecycle parameters. 20 episodes is
// the smallest history that still leaves the trainer a usable holdout.
func DefaultConfig() Config {
	return Config{
		Threshold:    20,
		RetrainEvery: 5,
		Cooldown:     6 * time.Hour,
	}
}

// Controller is the single writer of the ModelStatus value.
type Controller struct {
	mu      sync.Mutex
	cfg     Config
	logger  *logx.Logger
	trainer ModelTrainer

	status    model.ModelStatus
	active    *trainer.Model
	trainedOn int // episode count at the last successful training
	failedAt  time.Time
	training  bool // one in-flight training task at most
}

// New creates a controller in the ruleBased initial state.
func New(cfg Config, tr ModelTrainer, logger *logx.Logger) *Controller {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 20
	}
	if cfg.RetrainEvery <= 0 {
		cfg.RetrainEvery = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 6 * time.Hour
	}
	return &Controller{
		cfg:     cfg,
		trainer: tr,
		logger:  logger,
		status:  model.ModelStatus{State: model.StateRuleBased},
	}
}

// Status returns a copy of the current model status.
func (c *Controller) Status() model.ModelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ActiveModel returns the trained model when scoring should use it, nil
// otherwise.
func (c *Controller) ActiveModel() *trainer.Model {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.State != model.StateModelActive {
		return nil
	}
	return c.active
}

// MaybeTrain starts an asynchronous training task when a qualifying
// condition holds: first crossing of the sufficiency threshold, enough new
// episodes since the last success, or cooldown elapsed after a failure.
// A trigger while training is in flight is coalesced, not queued. Returns
// whether a task was started.
func (c *Controller) MaybeTrain(ctx context.Context, episodes []model.EpisodeRecord, checkIns []model.DailyCheckIn) bool {
	c.mu.Lock()
	if c.training || !c.eligibleLocked(len(episodes)) {
		c.mu.Unlock()
		return false
	}
	c.training = true
	c.status = model.ModelStatus{State: model.StateTraining}
	c.mu.Unlock()

	eps := append([]model.EpisodeRecord(nil), episodes...)
	cis := append([]model.DailyCheckIn(nil), checkIns...)
	go c.runTraining(ctx, eps, cis)
	return true
}

// eligibleLocked evaluates the transition guards of the state machine.
func (c *Controller) eligibleLocked(episodeCount int) bool {
	switch c.status.State {
	case model.StateRuleBased:
		return episodeCount >= c.cfg.Threshold
	case model.StateModelFailed:
		return episodeCount >= c.cfg.Threshold && time.Since(c.failedAt) >= c.cfg.Cooldown
	case model.StateModelActive:
		return episodeCount-c.trainedOn >= c.cfg.RetrainEvery
	default:
		return false
	}
}

// runTraining executes one training task to completion and updates the
// status atomically on finish.
func (c *Controller) runTraining(ctx context.Context, episodes []model.EpisodeRecord, checkIns []model.DailyCheckIn) {
	m, err := c.trainer.Train(ctx, episodes, checkIns, c.onProgress)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.training = false

	if err != nil {
		c.failedAt = time.Now()
		c.status = model.ModelStatus{
			State:     model.StateModelFailed,
			LastError: err.Error(),
		}
		if c.logger != nil {
			c.logger.Warn("model training failed", "error", err, "episodes", len(episodes))
		}
		return
	}

	c.active = m
	c.trainedOn = len(episodes)
	c.status = model.ModelStatus{
		State:       model.StateModelActive,
		Confidence:  m.Confidence,
		LastTrained: m.TrainedAt,
	}
	if c.logger != nil {
		c.logger.Info("personalized model active", "confidence", m.Confidence, "episodes", len(episodes))
	}
}

// onProgress records incremental trainingModel(progress) updates.
func (c *Controller) onProgress(p float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.State == model.StateTraining {
		c.status.Progress = p
	}
}
