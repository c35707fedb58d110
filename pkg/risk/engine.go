// Package risk orchestrates feature extraction and scoring into the
// RiskScore and 24h forecast surfaces the presentation layer consumes.
// A calculation never returns an error: missing or failed inputs lower
// confidence instead.
package risk

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/episense/episense/pkg/feature"
	"github.com/episense/episense/pkg/lifecycle"
	"github.com/episense/episense/pkg/logx"
	"github.com/episense/episense/pkg/model"
	"github.com/episense/episense/pkg/scorer"
	"github.com/episense/episense/pkg/telem"
	"github.com/episense/episense/pkg/trainer"
)

// TopFactorCount bounds the attribution list on a RiskScore.
const TopFactorCount = 5

// DefaultRefreshThrottle is the minimum spacing between auto-refresh runs.
const DefaultRefreshThrottle = 5 * time.Minute

// Sink receives completed risk scores for the companion-device channel.
// Delivery is fire-and-forget; errors are logged, never surfaced.
type Sink interface {
	SendRiskScore(score model.RiskScore) error
}

// Recorder receives scoring observations for the metrics layer.
type Recorder interface {
	ObserveScore(score model.RiskScore, duration time.Duration)
	ObserveModelState(state model.ModelState)
}

// Input bundles one scoring call's data. Embeds the extractor input;
// AllCheckIns carries the full check-in history the trainer reconstructs
// days from.
type Input struct {
	feature.Input
	AllCheckIns []model.DailyCheckIn
}

// Engine is the risk aggregator. It owns the observable scoring state and
// drives the forecast generator; the model lifecycle stays with the
// controller.
type Engine struct {
	mu        sync.RWMutex
	logger    *logx.Logger
	extractor *feature.Extractor
	lifecycle *lifecycle.Controller
	sink      Sink
	recorder  Recorder
	store     *telem.Store

	throttle    time.Duration
	lastRefresh time.Time
	calculating bool

	currentRisk    *model.RiskScore
	hourlyForecast []model.HourlyForecastPoint
}

// New creates a new risk engine. Sink, recorder and store may be nil.
func New(extractor *feature.Extractor, lc *lifecycle.Controller, sink Sink, recorder Recorder, store *telem.Store, logger *logx.Logger) *Engine {
	return &Engine{
		logger:    logger,
		extractor: extractor,
		lifecycle: lc,
		sink:      sink,
		recorder:  recorder,
		store:     store,
		throttle:  DefaultRefreshThrottle,
	}
}

// Calculate produces a point-in-time risk score. It triggers (but never
// waits for) model training when the history qualifies, so the first call
// above threshold still scores rule-based.
func (e *Engine) Calculate(ctx context.Context, in Input) model.RiskScore {
	started := time.Now()

	e.lifecycle.MaybeTrain(ctx, in.Episodes, in.AllCheckIns)

	factors := e.extractor.Extract(in.Input)

	var overall float64
	source := model.SourceRuleBased
	active := e.lifecycle.ActiveModel()
	if active != nil {
		overall = active.Predict(e.extractor.Vector(in.Input))
		source = model.SourcePersonalizedModel
	} else {
		overall = scorer.Score(factors)
	}

	top := topFactors(factors)
	at := in.At
	if at.IsZero() {
		at = started
	}

	score := model.RiskScore{
		GeneratedAt:     at,
		OverallRisk:     overall,
		RiskLevel:       model.LevelForRisk(overall),
		Confidence:      e.confidence(in, active),
		Source:          source,
		TopFactors:      top,
		Recommendations: recommendations(top),
	}

	if e.recorder != nil {
		e.recorder.ObserveScore(score, time.Since(started))
		e.recorder.ObserveModelState(e.lifecycle.Status().State)
	}
	if e.store != nil {
		e.store.AddSample(telem.Sample{
			Timestamp:  score.GeneratedAt,
			Risk:       score.OverallRisk,
			Confidence: score.Confidence,
			Source:     string(score.Source),
		})
	}

	return score
}

// Refresh runs one asynchronous scoring cycle: calculate, regenerate the
// hourly forecast, publish to the companion sink and update the
// observables. Runs are throttled; a refresh while one is in flight or
// inside the throttle window is dropped. Returns whether a run started.
func (e *Engine) Refresh(ctx context.Context, in Input, hours []model.ForecastHour) bool {
	e.mu.Lock()
	if e.calculating || time.Since(e.lastRefresh) < e.throttle {
		e.mu.Unlock()
		return false
	}
	e.calculating = true
	e.lastRefresh = time.Now()
	e.mu.Unlock()

	go e.runRefresh(ctx, in, hours)
	return true
}

// SetThrottle overrides the refresh spacing; intended for configuration.
func (e *Engine) SetThrottle(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d > 0 {
		e.throttle = d
	}
}

// runRefresh is the body of one refresh cycle.
func (e *Engine) runRefresh(ctx context.Context, in Input, hours []model.ForecastHour) {
	score := e.Calculate(ctx, in)

	var forecast []model.HourlyForecastPoint
	if len(hours) > 0 {
		forecast = e.Forecast24h(in, hours)
	}

	e.mu.Lock()
	e.currentRisk = &score
	if forecast != nil {
		e.hourlyForecast = forecast
	}
	e.calculating = false
	e.mu.Unlock()

	if e.sink != nil {
		if err := e.sink.SendRiskScore(score); err != nil && e.logger != nil {
			e.logger.Warn("companion push failed", "error", err)
		}
	}

	if e.logger != nil {
		e.logger.Debug("risk refresh complete",
			"risk", score.OverallRisk,
			"level", string(score.RiskLevel),
			"source", string(score.Source),
			"confidence", score.Confidence,
		)
	}
}

// CurrentRisk returns the most recent score, if any refresh has completed.
func (e *Engine) CurrentRisk() (model.RiskScore, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.currentRisk == nil {
		return model.RiskScore{}, false
	}
	return *e.currentRisk, true
}

// HourlyForecast returns a copy of the latest 24h risk curve.
func (e *Engine) HourlyForecast() []model.HourlyForecastPoint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.HourlyForecastPoint, len(e.hourlyForecast))
	copy(out, e.hourlyForecast)
	return out
}

// IsCalculating reports whether a refresh cycle is in flight.
func (e *Engine) IsCalculating() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.calculating
}

// ModelStatus exposes the lifecycle controller's current status.
func (e *Engine) ModelStatus() model.ModelStatus {
	return e.lifecycle.Status()
}

// confidence scores data-source completeness, blended with the trainer's
// calibration when the personalized model produced the estimate. It is
// non-decreasing in history depth and in the number of present sources.
func (e *Engine) confidence(in Input, active *trainer.Model) float64 {
	c := 0.15 + 0.45*math.Min(float64(len(in.Episodes))/30, 1)
	if in.Weather != nil {
		c += 0.10
	}
	if in.Health != nil {
		c += 0.10
	}
	if in.CheckIn != nil {
		c += 0.10
	}
	if active != nil {
		c = 0.6*c + 0.4*active.Confidence
	}
	if c > 1 {
		c = 1
	}
	return c
}

// topFactors orders factors by descending contribution and caps the list.
func topFactors(factors []model.RiskFactor) []model.RiskFactor {
	sorted := make([]model.RiskFactor, len(factors))
	copy(sorted, factors)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Contribution > sorted[j].Contribution })
	if len(sorted) > TopFactorCount {
		sorted = sorted[:TopFactorCount]
	}
	return sorted
}

// adviceByFactor maps factor IDs to advisory strings. Ordering follows the
// factor ordering; duplicates collapse.
var adviceByFactor = map[string]string{
	feature.FactorPressure:  "A barometric pressure swing is underway; keep rescue medication within reach",
	feature.FactorInterval:  "You are approaching your typical episode interval; plan a lighter day",
	feature.FactorSchedule:  "This matches a time window where your episodes have clustered before",
	feature.FactorSleep:     "Short sleep is raising your risk; prioritize rest tonight",
	feature.FactorStress:    "Stress is elevated; schedule a relaxation break today",
	feature.FactorHydration: "Hydration is low; drink water regularly through the day",
	feature.FactorCaffeine:  "Keep caffeine close to your usual amount to avoid intake swings",
	feature.FactorCycle:     "Your current cycle phase is associated with elevated risk for you",
}

// recommendations derives deduplicated advisories from the ordered top
// factors.
func recommendations(top []model.RiskFactor) []string {
	var out []string
	seen := make(map[string]bool, len(top))
	for _, f := range top {
		advice, ok := adviceByFactor[f.ID]
		if !ok || seen[advice] {
			continue
		}
		seen[advice] = true
		out = append(out, advice)
	}
	return out
}
