// Package trainer builds the personalized risk model from a user's
// accumulated history. Training runs off the scoring critical path; the
// rule-based scorer remains the fallback whenever training has not
// succeeded.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sajari/regression"

	"github.com/episense/episense/pkg/feature"
	"github.com/episense/episense/pkg/logx"
	"github.com/episense/episense/pkg/model"
)

// Training failure classes. All of them surface to the lifecycle controller
// as a modelFailed transition, never to a scoring caller.
var (
	ErrInsufficientData = errors.New("trainer: not enough labeled days to train")
	ErrDegenerateLabels = errors.New("trainer: label distribution is degenerate")
)

// Config controls dataset construction and validation.
type Config struct {
	MinSamples      int           `json:"min_samples"`      // minimum labeled days
	MinClassCount   int           `json:"min_class_count"`  // minimum positives and negatives
	HoldoutFraction float64       `json:"holdout_fraction"` // chronological tail held out
	LabelHorizon    time.Duration `json:"label_horizon"`    // episode-within window
}

// DefaultConfig returns the standard training parameters.
func DefaultConfig() Config {
	return Config{
		MinSamples:      30,
		MinClassCount:   3,
		HoldoutFraction: 0.25,
		LabelHorizon:    24 * time.Hour,
	}
}

// Model is a trained linear probability model over the extractor's feature
// vector. Predictions are clipped to [0,1].
type Model struct {
	FeatureNames []string  `json:"feature_names"`
	Weights      []float64 `json:"weights"`
	Bias         float64   `json:"bias"`
	Confidence   float64   `json:"confidence"` // holdout calibration, [0,1]
	R2           float64   `json:"r2"`
	TrainedAt    time.Time `json:"trained_at"`
	SampleCount  int       `json:"sample_count"`
}

// Predict returns the model's risk estimate for a feature vector.
func (m *Model) Predict(vec []float64) float64 {
	p := m.Bias
	for i, w := range m.Weights {
		if i < len(vec) {
			p += w * vec[i]
		}
	}
	if math.IsNaN(p) {
		return 0
	}
	return math.Max(0, math.Min(1, p))
}

// Sample is one labeled day of reconstructed history.
type Sample struct {
	Day      time.Time
	Features []float64
	Label    float64 // 1 when an episode started within the label horizon
}

// Trainer builds datasets and fits personalized models.
type Trainer struct {
	cfg       Config
	extractor *feature.Extractor
	logger    *logx.Logger
}

// New creates a new trainer
func New(cfg Config, extractor *feature.Extractor, logger *logx.Logger) *Trainer {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 30
	}
	if cfg.MinClassCount <= 0 {
		cfg.MinClassCount = 3
	}
	if cfg.HoldoutFraction <= 0 || cfg.HoldoutFraction >= 0.5 {
		cfg.HoldoutFraction = 0.25
	}
	if cfg.LabelHorizon <= 0 {
		cfg.LabelHorizon = 24 * time.Hour
	}
	return &Trainer{cfg: cfg, extractor: extractor, logger: logger}
}

// BuildDataset reconstructs one labeled feature vector per day across the
// episode history, enriched with whatever same-day check-in and
// episode-attached weather data exists for that day.
func (t *Trainer) BuildDataset(episodes []model.EpisodeRecord, checkIns []model.DailyCheckIn) []Sample {
	if len(episodes) == 0 {
		return nil
	}

	sorted := make([]model.EpisodeRecord, len(episodes))
	copy(sorted, episodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartTime.Before(sorted[j].StartTime) })

	byDay := make(map[string]model.DailyCheckIn, len(checkIns))
	for _, c := range checkIns {
		byDay[dayKey(c.Date)] = c
	}

	first := dayStart(sorted[0].StartTime)
	last := dayStart(sorted[len(sorted)-1].StartTime)

	var samples []Sample
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		// Features are evaluated at a fixed evening instant so the label
		// window covers the following night and day.
		at := day.Add(20 * time.Hour)

		in := feature.Input{
			Episodes: episodesBefore(sorted, at),
			Weather:  weatherForDay(sorted, day),
			At:       at,
		}
		if c, ok := byDay[dayKey(day)]; ok {
			ci := c
			in.CheckIn = &ci
			in.RecentCheckIns = recentCheckIns(checkIns, day, 7)
		}

		label := 0.0
		for _, ep := range sorted {
			if ep.StartTime.After(at) && !ep.StartTime.After(at.Add(t.cfg.LabelHorizon)) {
				label = 1.0
				break
			}
		}

		samples = append(samples, Sample{Day: day, Features: t.extractor.Vector(in), Label: label})
	}

	return samples
}

// Train fits the model and validates it on a chronological holdout. The
// progress callback receives coarse [0,1] updates and may be nil.
func (t *Trainer) Train(ctx context.Context, episodes []model.EpisodeRecord, checkIns []model.DailyCheckIn, progress func(float64)) (*Model, error) {
	report := func(p float64) {
		if progress != nil {
			progress(p)
		}
	}
	report(0.05)

	samples := t.BuildDataset(episodes, checkIns)
	report(0.25)

	if len(samples) < t.cfg.MinSamples {
		return nil, fmt.Errorf("%w: %d days, need %d", ErrInsufficientData, len(samples), t.cfg.MinSamples)
	}

	positives := 0
	for _, s := range samples {
		if s.Label > 0.5 {
			positives++
		}
	}
	negatives := len(samples) - positives
	if positives < t.cfg.MinClassCount || negatives < t.cfg.MinClassCount {
		return nil, fmt.Errorf("%w: %d positive, %d negative days", ErrDegenerateLabels, positives, negatives)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	split := len(samples) - int(float64(len(samples))*t.cfg.HoldoutFraction)
	train, holdout := samples[:split], samples[split:]

	// Signals the user never logged produce constant zero columns, which
	// make the normal equations singular. Fit only the informative ones.
	active := informativeFeatures(train)
	if len(active) == 0 {
		return nil, errors.New("trainer: no informative features in history")
	}

	var r regression.Regression
	r.SetObserved("episode_within_24h")
	for i, idx := range active {
		r.SetVar(i, feature.VectorNames[idx])
	}
	for _, s := range train {
		r.Train(regression.DataPoint(s.Label, project(s.Features, active)))
	}
	if err := r.Run(); err != nil {
		return nil, fmt.Errorf("trainer: regression failed: %w", err)
	}
	report(0.70)

	coeffs := r.GetCoeffs()
	if len(coeffs) < 1+len(active) {
		return nil, fmt.Errorf("trainer: regression produced %d coefficients, want %d", len(coeffs), 1+len(active))
	}
	for _, c := range coeffs {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, errors.New("trainer: regression produced non-finite coefficients")
		}
	}

	weights := make([]float64, len(feature.VectorNames))
	for i, idx := range active {
		weights[idx] = coeffs[i+1]
	}

	m := &Model{
		FeatureNames: append([]string(nil), feature.VectorNames...),
		Bias:         coeffs[0],
		Weights:      weights,
		R2:           r.R2,
		TrainedAt:    time.Now(),
		SampleCount:  len(samples),
	}

	m.Confidence = t.calibrate(m, holdout)
	report(1.0)

	if t.logger != nil {
		t.logger.Info("personalized model trained",
			"samples", len(samples),
			"positives", positives,
			"r2", m.R2,
			"confidence", m.Confidence,
		)
	}
	return m, nil
}

// calibrate scores the holdout split and derives the model confidence from
// classification accuracy discounted by fit quality.
func (t *Trainer) calibrate(m *Model, holdout []Sample) float64 {
	if len(holdout) == 0 {
		return 0.5
	}
	correct := 0
	for _, s := range holdout {
		pred := 0.0
		if m.Predict(s.Features) >= 0.5 {
			pred = 1.0
		}
		if pred == s.Label {
			correct++
		}
	}
	accuracy := float64(correct) / float64(len(holdout))
	r2 := m.R2
	if r2 < 0 || math.IsNaN(r2) {
		r2 = 0
	}
	if r2 > 1 {
		r2 = 1
	}
	conf := 0.6*accuracy + 0.4*r2
	return math.Max(0, math.Min(1, conf))
}

// informativeFeatures returns the indices of feature columns that vary
// across the training split.
func informativeFeatures(train []Sample) []int {
	if len(train) == 0 {
		return nil
	}
	var active []int
	for col := range train[0].Features {
		first := train[0].Features[col]
		for _, s := range train[1:] {
			if s.Features[col] != first {
				active = append(active, col)
				break
			}
		}
	}
	return active
}

// project extracts the active columns of a full-width feature vector.
func project(features []float64, active []int) []float64 {
	out := make([]float64, len(active))
	for i, idx := range active {
		out[i] = features[idx]
	}
	return out
}

// episodesBefore returns the episodes that had started strictly before the
// given instant, so historical feature vectors never see the future.
func episodesBefore(sorted []model.EpisodeRecord, at time.Time) []model.EpisodeRecord {
	n := sort.Search(len(sorted), func(i int) bool { return !sorted[i].StartTime.Before(at) })
	return sorted[:n]
}

// weatherForDay returns the weather snapshot attached to an episode that
// started on the given day, if any was captured.
func weatherForDay(sorted []model.EpisodeRecord, day time.Time) *model.WeatherSnapshot {
	for _, ep := range sorted {
		if ep.Weather != nil && dayKey(ep.StartTime) == dayKey(day) {
			w := *ep.Weather
			return &w
		}
	}
	return nil
}

// recentCheckIns returns the check-ins in the trailing window before day.
func recentCheckIns(checkIns []model.DailyCheckIn, day time.Time, days int) []model.DailyCheckIn {
	var out []model.DailyCheckIn
	cutoff := day.AddDate(0, 0, -days)
	for _, c := range checkIns {
		if c.Date.Before(day) && !c.Date.Before(cutoff) {
			out = append(out, c)
		}
	}
	return out
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func dayKey(t time.Time) string { return t.Format("2006-01-02") }
