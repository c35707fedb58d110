// Package feature extracts risk factors from episode history and the
// optional weather, wearable and check-in signals. Every factor is computed
// independently; a signal that is absent or malformed is omitted, never an
// error.
package feature

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/episense/episense/pkg/logx"
	"github.com/episense/episense/pkg/model"
)

// Per-factor contribution caps. No single signal can push the overall risk
// by more than its cap.
const (
	CapPressure  = 0.30
	CapInterval  = 0.25
	CapSleep     = 0.20
	CapStress    = 0.20
	CapHydration = 0.15
	CapCaffeine  = 0.15
	CapCycle     = 0.15
	CapSchedule  = 0.10
)

// DefaultPressureBaseline is the population-default 24h pressure swing (hPa)
// used until the user has at least one weather-tagged episode.
const DefaultPressureBaseline = 6.0

// DefaultCaffeineCups is the assumed daily intake when no recent check-ins
// exist to compute a personal rolling average.
const DefaultCaffeineCups = 2.0

// minScheduleEpisodes is the history size below which weekday/time-of-day
// propensity has no statistical support.
const minScheduleEpisodes = 5

// Factor IDs, also the feature names of the trained model's vector.
const (
	FactorPressure  = "pressure"
	FactorInterval  = "interval"
	FactorSchedule  = "schedule"
	FactorSleep     = "sleep"
	FactorStress    = "stress"
	FactorHydration = "hydration"
	FactorCaffeine  = "caffeine"
	FactorCycle     = "cycle"
)

// VectorNames is the fixed feature order shared by the extractor and the
// personalized model. Index i of Vector() holds the raw severity of
// VectorNames[i], zero when the signal is absent.
var VectorNames = []string{
	FactorPressure, FactorInterval, FactorSchedule, FactorSleep,
	FactorStress, FactorHydration, FactorCaffeine, FactorCycle,
}

// caps maps factor ID to its contribution cap.
var caps = map[string]float64{
	FactorPressure:  CapPressure,
	FactorInterval:  CapInterval,
	FactorSchedule:  CapSchedule,
	FactorSleep:     CapSleep,
	FactorStress:    CapStress,
	FactorHydration: CapHydration,
	FactorCaffeine:  CapCaffeine,
	FactorCycle:     CapCycle,
}

// Cap returns the contribution cap for a factor ID, zero for unknown IDs.
func Cap(id string) float64 { return caps[id] }

// Input bundles everything a single extraction sees. Only Episodes is
// required; every other field may be nil or empty.
type Input struct {
	Episodes       []model.EpisodeRecord
	Weather        *model.WeatherSnapshot
	Health         *model.HealthSnapshot
	CheckIn        *model.DailyCheckIn
	RecentCheckIns []model.DailyCheckIn // trailing days, for the caffeine rolling average
	At             time.Time            // scoring instant; zero means now
}

// Extractor turns raw inputs into capped risk factors and model feature
// vectors.
type Extractor struct {
	logger *logx.Logger
}

// New creates a new feature extractor
func New(logger *logx.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract returns one capped RiskFactor per recognized signal. Factors with
// no data support are omitted rather than forced to zero.
func (e *Extractor) Extract(in Input) []model.RiskFactor {
	at := in.At
	if at.IsZero() {
		at = time.Now()
	}

	var factors []model.RiskFactor
	add := func(f model.RiskFactor, ok bool) {
		if ok && f.Contribution > 0 {
			factors = append(factors, f)
		}
	}

	add(e.pressureFactor(in.Episodes, in.Weather))
	add(e.intervalFactor(in.Episodes, at))
	add(e.scheduleFactor(in.Episodes, at))
	add(e.sleepFactor(in.Health))
	add(e.stressFactor(in.CheckIn))
	add(e.hydrationFactor(in.CheckIn))
	add(e.caffeineFactor(in.CheckIn, in.RecentCheckIns))
	add(e.cycleFactor(in.Health))

	return factors
}

// Vector returns the raw severities (pre-cap, each in [0,1]) in VectorNames
// order, with zero standing in for absent signals. This is the input shape
// of the personalized model.
func (e *Extractor) Vector(in Input) []float64 {
	at := in.At
	if at.IsZero() {
		at = time.Now()
	}

	v := make([]float64, len(VectorNames))
	set := func(idx int, f model.RiskFactor, ok bool) {
		if ok {
			v[idx] = f.Contribution / caps[f.ID]
		}
	}

	{
		f, ok := e.pressureFactor(in.Episodes, in.Weather)
		set(0, f, ok)
	}
	{
		f, ok := e.intervalFactor(in.Episodes, at)
		set(1, f, ok)
	}
	{
		f, ok := e.scheduleFactor(in.Episodes, at)
		set(2, f, ok)
	}
	{
		f, ok := e.sleepFactor(in.Health)
		set(3, f, ok)
	}
	{
		f, ok := e.stressFactor(in.CheckIn)
		set(4, f, ok)
	}
	{
		f, ok := e.hydrationFactor(in.CheckIn)
		set(5, f, ok)
	}
	{
		f, ok := e.caffeineFactor(in.CheckIn, in.RecentCheckIns)
		set(6, f, ok)
	}
	{
		f, ok := e.cycleFactor(in.Health)
		set(7, f, ok)
	}

	return v
}

// pressureFactor scores the current 24h pressure swing against the user's
// historical swing at episode onset, falling back to a population default.
func (e *Extractor) pressureFactor(episodes []model.EpisodeRecord, w *model.WeatherSnapshot) (model.RiskFactor, bool) {
	if w == nil {
		return model.RiskFactor{}, false
	}
	delta := math.Abs(w.PressureDelta24)
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return model.RiskFactor{}, false
	}

	baseline := pressureBaseline(episodes)
	raw := clamp01(delta / (2 * baseline))

	return model.RiskFactor{
		ID:           FactorPressure,
		Name:         "Barometric pressure swing",
		Contribution: CapPressure * raw,
		Explanation:  fmt.Sprintf("Pressure changed %.1f hPa over 24h (your typical onset swing is %.1f hPa)", w.PressureDelta24, baseline),
	}, true
}

// pressureBaseline is the median absolute 24h delta across weather-tagged
// episodes, or the population default when none exist.
func pressureBaseline(episodes []model.EpisodeRecord) float64 {
	var deltas []float64
	for _, ep := range episodes {
		if ep.Weather == nil {
			continue
		}
		d := math.Abs(ep.Weather.PressureDelta24)
		if math.IsNaN(d) || math.IsInf(d, 0) {
			continue
		}
		deltas = append(deltas, d)
	}
	if len(deltas) == 0 {
		return DefaultPressureBaseline
	}
	m := median(deltas)
	if m < 1.0 {
		// Guard against a near-zero baseline blowing up the ratio.
		m = 1.0
	}
	return m
}

// intervalFactor rises as the time since the last episode approaches the
// user's typical inter-episode gap.
func (e *Extractor) intervalFactor(episodes []model.EpisodeRecord, at time.Time) (model.RiskFactor, bool) {
	if len(episodes) < 2 {
		return model.RiskFactor{}, false
	}

	sorted := make([]model.EpisodeRecord, len(episodes))
	copy(sorted, episodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartTime.Before(sorted[j].StartTime) })

	gaps := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		gap := sorted[i].StartTime.Sub(sorted[i-1].StartTime).Hours()
		if gap > 0 {
			gaps = append(gaps, gap)
		}
	}
	if len(gaps) == 0 {
		return model.RiskFactor{}, false
	}
	typical := median(gaps)
	if typical <= 0 {
		return model.RiskFactor{}, false
	}

	last := sorted[len(sorted)-1]
	lastEnd := last.StartTime
	if last.EndTime != nil {
		lastEnd = *last.EndTime
	}
	elapsed := at.Sub(lastEnd).Hours()
	if elapsed < 0 {
		return model.RiskFactor{}, false
	}

	// Zero up to half the typical gap, saturating at 1.5x the gap.
	ratio := elapsed / typical
	raw := clamp01(ratio - 0.5)

	return model.RiskFactor{
		ID:           FactorInterval,
		Name:         "Episode interval",
		Contribution: CapInterval * raw,
		Explanation:  fmt.Sprintf("%.0f hours since your last episode; your typical gap is %.0f hours", elapsed, typical),
	}, true
}

// scheduleFactor measures how over-represented the current weekday and
// time-of-day bucket are in the user's episode history.
func (e *Extractor) scheduleFactor(episodes []model.EpisodeRecord, at time.Time) (model.RiskFactor, bool) {
	if len(episodes) < minScheduleEpisodes {
		return model.RiskFactor{}, false
	}

	weekdayHits := 0
	bucketHits := 0
	for _, ep := range episodes {
		if ep.StartTime.Weekday() == at.Weekday() {
			weekdayHits++
		}
		if timeBucket(ep.StartTime) == timeBucket(at) {
			bucketHits++
		}
	}

	n := float64(len(episodes))
	// Lift over uniform expectation (1/7 per weekday, 1/4 per 6h bucket).
	weekdayLift := (float64(weekdayHits) / n) * 7
	bucketLift := (float64(bucketHits) / n) * 4
	lift := math.Max(weekdayLift, bucketLift)
	raw := clamp01((lift - 1) / 2)

	return model.RiskFactor{
		ID:           FactorSchedule,
		Name:         "Timing pattern",
		Contribution: CapSchedule * raw,
		Explanation:  fmt.Sprintf("Episodes cluster around this time: %d of %d fell on a %s, %d in this time of day", weekdayHits, len(episodes), at.Weekday(), bucketHits),
	}, true
}

// timeBucket maps an instant to one of four 6h day segments.
func timeBucket(t time.Time) int { return t.Hour() / 6 }

// sleepFactor maps last night's sleep to a deficit severity. 7.5h or more
// scores zero; 4h or less saturates.
func (e *Extractor) sleepFactor(h *model.HealthSnapshot) (model.RiskFactor, bool) {
	if h == nil || h.SleepHours == nil {
		return model.RiskFactor{}, false
	}
	hours := *h.SleepHours
	if math.IsNaN(hours) || hours < 0 || hours > 24 {
		return model.RiskFactor{}, false
	}
	raw := clamp01((7.5 - hours) / 3.5)

	return model.RiskFactor{
		ID:           FactorSleep,
		Name:         "Sleep deficit",
		Contribution: CapSleep * raw,
		Explanation:  fmt.Sprintf("You slept %.1f hours last night", hours),
	}, true
}

// stressFactor maps the 1-5 self-reported stress scale linearly.
func (e *Extractor) stressFactor(c *model.DailyCheckIn) (model.RiskFactor, bool) {
	if c == nil || c.StressLevel < 1 || c.StressLevel > 5 {
		return model.RiskFactor{}, false
	}
	raw := float64(c.StressLevel-1) / 4

	return model.RiskFactor{
		ID:           FactorStress,
		Name:         "Stress level",
		Contribution: CapStress * raw,
		Explanation:  fmt.Sprintf("Today's stress level is %d of 5", c.StressLevel),
	}, true
}

// hydrationFactor maps the 1-5 hydration scale inversely.
func (e *Extractor) hydrationFactor(c *model.DailyCheckIn) (model.RiskFactor, bool) {
	if c == nil || c.Hydration < 1 || c.Hydration > 5 {
		return model.RiskFactor{}, false
	}
	raw := float64(5-c.Hydration) / 4

	return model.RiskFactor{
		ID:           FactorHydration,
		Name:         "Hydration",
		Contribution: CapHydration * raw,
		Explanation:  fmt.Sprintf("Today's hydration level is %d of 5", c.Hydration),
	}, true
}

// caffeineFactor is U-shaped around the user's recent rolling average: both
// excess intake and abrupt withdrawal raise risk.
func (e *Extractor) caffeineFactor(c *model.DailyCheckIn, recent []model.DailyCheckIn) (model.RiskFactor, bool) {
	if c == nil || c.CaffeineCups < 0 {
		return model.RiskFactor{}, false
	}

	baseline := DefaultCaffeineCups
	if len(recent) > 0 {
		sum := 0.0
		for _, r := range recent {
			sum += float64(r.CaffeineCups)
		}
		baseline = sum / float64(len(recent))
	}

	cups := float64(c.CaffeineCups)
	diff := cups - baseline

	var raw float64
	var explanation string
	switch {
	case diff > 0:
		raw = clamp01(diff / 4)
		explanation = fmt.Sprintf("Caffeine intake of %d cups is above your recent average of %.1f", c.CaffeineCups, baseline)
	case diff < 0 && baseline >= 1:
		raw = clamp01(-diff / 3)
		explanation = fmt.Sprintf("Caffeine intake of %d cups is below your recent average of %.1f; withdrawal can trigger episodes", c.CaffeineCups, baseline)
	default:
		return model.RiskFactor{}, false
	}

	return model.RiskFactor{
		ID:           FactorCaffeine,
		Name:         "Caffeine change",
		Contribution: CapCaffeine * raw,
		Explanation:  explanation,
	}, true
}

// phaseWeights is the prior risk weight per cycle phase. EpisodeRecord does
// not carry historical phase, so this stays a fixed prior rather than a
// per-user correlation.
var phaseWeights = map[model.CyclePhase]float64{
	model.PhaseMenstrual:    1.0,
	model.PhasePremenstrual: 0.8,
	model.PhaseLuteal:       0.6,
	model.PhaseOvulation:    0.4,
	model.PhaseFollicular:   0.2,
}

// cycleFactor contributes during phases associated with elevated risk.
func (e *Extractor) cycleFactor(h *model.HealthSnapshot) (model.RiskFactor, bool) {
	if h == nil || h.CyclePhase == "" {
		return model.RiskFactor{}, false
	}
	weight, known := phaseWeights[h.CyclePhase]
	if !known {
		return model.RiskFactor{}, false
	}

	return model.RiskFactor{
		ID:           FactorCycle,
		Name:         "Cycle phase",
		Contribution: CapCycle * weight,
		Explanation:  fmt.Sprintf("Current cycle phase is %s", h.CyclePhase),
	}, true
}

// median returns the middle value of an unsorted slice. The slice is copied.
func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
