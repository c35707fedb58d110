// Package model defines the domain types shared by the episense risk engine
package model

import (
	"math"
	"time"
)

// EpisodeRecord is a single recorded health episode. Records are immutable
// once saved; the risk engine only ever reads collections of them.
type EpisodeRecord struct {
	ID            string           `json:"id"`
	StartTime     time.Time        `json:"start_time"`
	EndTime       *time.Time       `json:"end_time,omitempty"` // nil while the episode is open
	Severity      int              `json:"severity"`           // 1-10
	Location      string           `json:"location,omitempty"`
	Symptoms      map[string]bool  `json:"symptoms,omitempty"`
	Triggers      map[string]bool  `json:"triggers,omitempty"`
	Interventions map[string]bool  `json:"interventions,omitempty"`
	Note          string           `json:"note,omitempty"`
	Weather       *WeatherSnapshot `json:"weather,omitempty"` // conditions at onset, if captured
}

// WeatherSnapshot holds point-in-time atmospheric conditions.
type WeatherSnapshot struct {
	Timestamp       time.Time `json:"timestamp"`
	TemperatureC    float64   `json:"temperature_c"`
	PressureHPa     float64   `json:"pressure_hpa"`
	PressureDelta24 float64   `json:"pressure_delta_24h"` // hPa change over the trailing 24h
	ConditionCode   string    `json:"condition_code,omitempty"`
	Precipitation   bool      `json:"precipitation"`
	Latitude        float64   `json:"lat,omitempty"`
	Longitude       float64   `json:"lon,omitempty"`
}

// ForecastHour is one hourly weather projection.
type ForecastHour struct {
	Date            time.Time `json:"date"`
	Hour            int       `json:"hour"` // local hour, 0-23
	TemperatureC    float64   `json:"temperature_c"`
	PressureHPa     float64   `json:"pressure_hpa"`
	PressureDelta24 float64   `json:"pressure_delta_24h"`
	ConditionCode   string    `json:"condition_code,omitempty"`
	Precipitation   bool      `json:"precipitation"`
}

// Snapshot converts a forecast hour to the weather snapshot the extractor
// consumes, stamped at the hour it describes.
func (f ForecastHour) Snapshot() WeatherSnapshot {
	at := time.Date(f.Date.Year(), f.Date.Month(), f.Date.Day(), f.Hour, 0, 0, 0, f.Date.Location())
	return WeatherSnapshot{
		Timestamp:       at,
		TemperatureC:    f.TemperatureC,
		PressureHPa:     f.PressureHPa,
		PressureDelta24: f.PressureDelta24,
		ConditionCode:   f.ConditionCode,
		Precipitation:   f.Precipitation,
	}
}

// CyclePhase is an optional menstrual-cycle indicator from the health provider.
type CyclePhase string

const (
	PhaseMenstrual    CyclePhase = "menstrual"
	PhaseFollicular   CyclePhase = "follicular"
	PhaseOvulation    CyclePhase = "ovulation"
	PhaseLuteal       CyclePhase = "luteal"
	PhasePremenstrual CyclePhase = "premenstrual"
)

// HealthSnapshot holds point-in-time wearable metrics. Any field may be
// missing when the provider cannot supply it; pointers mark optionality.
type HealthSnapshot struct {
	Timestamp        time.Time  `json:"timestamp"`
	SleepHours       *float64   `json:"sleep_hours,omitempty"`
	HRVMs            *float64   `json:"hrv_ms,omitempty"`
	RestingHeartRate *float64   `json:"resting_hr,omitempty"`
	StepCount        *int       `json:"steps,omitempty"`
	CyclePhase       CyclePhase `json:"cycle_phase,omitempty"`
}

// DailyCheckIn is the self-reported daily state. At most one exists per
// calendar day; a later save for the same day overwrites the earlier one.
type DailyCheckIn struct {
	Date         time.Time `json:"date"` // normalized to midnight local
	StressLevel  int       `json:"stress_level"`  // 1-5
	Hydration    int       `json:"hydration"`     // 1-5
	CaffeineCups int       `json:"caffeine_cups"` // >= 0
}

// RiskFactor is one explanatory signal contributing to a risk estimate.
// Factors are ephemeral and recomputed on every scoring call.
type RiskFactor struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"` // 0 <= contribution <= per-factor cap
	Explanation  string  `json:"explanation"`
}

// RiskLevel bands an overall risk value for display.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskSevere   RiskLevel = "severe"
)

// LevelForRisk maps overallRisk in [0,1] to its band.
func LevelForRisk(risk float64) RiskLevel {
	switch {
	case risk < 0.25:
		return RiskLow
	case risk < 0.50:
		return RiskModerate
	case risk < 0.75:
		return RiskHigh
	default:
		return RiskSevere
	}
}

// PredictionSource identifies which scoring path produced a RiskScore.
type PredictionSource string

const (
	SourceRuleBased         PredictionSource = "ruleBased"
	SourcePersonalizedModel PredictionSource = "personalizedModel"
)

// RiskScore is a point-in-time risk estimate with attribution.
type RiskScore struct {
	GeneratedAt     time.Time        `json:"generated_at"`
	OverallRisk     float64          `json:"overall_risk"` // [0,1]
	RiskLevel       RiskLevel        `json:"risk_level"`
	Confidence      float64          `json:"confidence"` // [0,1]
	Source          PredictionSource `json:"prediction_source"`
	TopFactors      []RiskFactor     `json:"top_factors"` // descending contribution, capped
	Recommendations []string         `json:"recommendations"`
}

// RiskPercentage returns the overall risk rounded to a whole percentage.
func (rs RiskScore) RiskPercentage() int {
	return int(math.Round(rs.OverallRisk * 100))
}

// HourlyForecastPoint is one hour of the 24h risk projection.
type HourlyForecastPoint struct {
	Hour time.Time `json:"hour"`
	Risk float64   `json:"risk"` // [0,1]
}

// ModelState enumerates the personalized-model lifecycle states.
type ModelState string

const (
	StateRuleBased   ModelState = "ruleBased"
	StateTraining    ModelState = "trainingModel"
	StateModelActive ModelState = "modelActive"
	StateModelFailed ModelState = "modelFailed"
)

// ModelStatus is the process-wide, per-profile model lifecycle value. It is
// mutated only by the lifecycle controller.
type ModelStatus struct {
	State       ModelState `json:"state"`
	Progress    float64    `json:"progress,omitempty"`   // [0,1], meaningful while training
	Confidence  float64    `json:"confidence,omitempty"` // [0,1], meaningful while active
	LastTrained time.Time  `json:"last_trained,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}
