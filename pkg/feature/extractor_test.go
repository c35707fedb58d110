package feature

import (
	"math"
	"testing"
	"time"

	"github.com/episense/episense/pkg/logx"
	"github.com/episense/episense/pkg/model"
)

func newTestExtractor() *Extractor {
	return New(logx.New("error"))
}

func factorByID(factors []model.RiskFactor, id string) (model.RiskFactor, bool) {
	for _, f := range factors {
		if f.ID == id {
			return f, true
		}
	}
	return model.RiskFactor{}, false
}

func TestExtractEmptyInput(t *testing.T) {
	e := newTestExtractor()
	factors := e.Extract(Input{})
	if len(factors) != 0 {
		t.Fatalf("expected no factors for empty input, got %d", len(factors))
	}
}

func TestPressureFactorMonotoneAndCapped(t *testing.T) {
	e := newTestExtractor()

	prev := -1.0
	for _, delta := range []float64{0.5, 2, 6, 12, 25, 80} {
		w := &model.WeatherSnapshot{PressureDelta24: delta}
		f, ok := e.pressureFactor(nil, w)
		if !ok {
			t.Fatalf("pressure factor absent for delta %v", delta)
		}
		if f.Contribution < prev {
			t.Fatalf("contribution decreased: delta %v gave %v after %v", delta, f.Contribution, prev)
		}
		if f.Contribution > CapPressure {
			t.Fatalf("contribution %v exceeds cap %v", f.Contribution, CapPressure)
		}
		prev = f.Contribution
	}
}

func TestPressureBaselineFromHistory(t *testing.T) {
	episodes := []model.EpisodeRecord{
		{Weather: &model.WeatherSnapshot{PressureDelta24: -4}},
		{Weather: &model.WeatherSnapshot{PressureDelta24: 8}},
		{Weather: &model.WeatherSnapshot{PressureDelta24: 12}},
	}
	if got := pressureBaseline(episodes); got != 8 {
		t.Fatalf("expected median baseline 8, got %v", got)
	}
	if got := pressureBaseline(nil); got != DefaultPressureBaseline {
		t.Fatalf("expected population default %v, got %v", DefaultPressureBaseline, got)
	}
}

func TestPressureFactorInvalidDelta(t *testing.T) {
	e := newTestExtractor()
	w := &model.WeatherSnapshot{PressureDelta24: math.NaN()}
	if _, ok := e.pressureFactor(nil, w); ok {
		t.Fatalf("expected NaN delta to be discarded")
	}
}

func TestStressMapping(t *testing.T) {
	e := newTestExtractor()

	cases := []struct {
		level    int
		expected float64
		present  bool
	}{
		{1, 0, true}, // raw zero, dropped by Extract but reported here
		{3, CapStress * 0.5, true},
		{5, CapStress, true},
		{0, 0, false},
		{9, 0, false},
	}

	for _, c := range cases {
		f, ok := e.stressFactor(&model.DailyCheckIn{StressLevel: c.level, Hydration: 3})
		if ok != c.present {
			t.Fatalf("stress %d presence = %v, want %v", c.level, ok, c.present)
		}
		if ok && math.Abs(f.Contribution-c.expected) > 1e-9 {
			t.Fatalf("stress %d contribution = %v, want %v", c.level, f.Contribution, c.expected)
		}
	}
}

func TestHydrationMapping(t *testing.T) {
	e := newTestExtractor()

	f, ok := e.hydrationFactor(&model.DailyCheckIn{StressLevel: 3, Hydration: 1})
	if !ok || math.Abs(f.Contribution-CapHydration) > 1e-9 {
		t.Fatalf("hydration 1 should contribute the cap, got %v (ok=%v)", f.Contribution, ok)
	}

	f, _ = e.hydrationFactor(&model.DailyCheckIn{StressLevel: 3, Hydration: 5})
	if f.Contribution != 0 {
		t.Fatalf("hydration 5 should contribute zero, got %v", f.Contribution)
	}
}

func TestCaffeineUShape(t *testing.T) {
	e := newTestExtractor()
	recent := []model.DailyCheckIn{
		{CaffeineCups: 3}, {CaffeineCups: 3}, {CaffeineCups: 3},
	}

	excess, ok := e.caffeineFactor(&model.DailyCheckIn{StressLevel: 3, Hydration: 3, CaffeineCups: 8}, recent)
	if !ok || excess.Contribution != CapCaffeine {
		t.Fatalf("8 cups over a 3-cup average should saturate, got %v (ok=%v)", excess.Contribution, ok)
	}

	withdrawal, ok := e.caffeineFactor(&model.DailyCheckIn{StressLevel: 3, Hydration: 3, CaffeineCups: 0}, recent)
	if !ok || withdrawal.Contribution != CapCaffeine {
		t.Fatalf("withdrawal from a 3-cup average should saturate, got %v (ok=%v)", withdrawal.Contribution, ok)
	}

	if _, ok := e.caffeineFactor(&model.DailyCheckIn{StressLevel: 3, Hydration: 3, CaffeineCups: 3}, recent); ok {
		t.Fatalf("intake at the rolling average should not produce a factor")
	}
}

func TestSleepFactor(t *testing.T) {
	e := newTestExtractor()

	full := 8.0
	f, _ := e.sleepFactor(&model.HealthSnapshot{SleepHours: &full})
	if f.Contribution != 0 {
		t.Fatalf("8h sleep should contribute zero, got %v", f.Contribution)
	}

	short := 4.0
	f, ok := e.sleepFactor(&model.HealthSnapshot{SleepHours: &short})
	if !ok || f.Contribution != CapSleep {
		t.Fatalf("4h sleep should saturate at %v, got %v", CapSleep, f.Contribution)
	}

	if _, ok := e.sleepFactor(&model.HealthSnapshot{}); ok {
		t.Fatalf("missing sleep duration should omit the factor")
	}
}

func TestIntervalFactor(t *testing.T) {
	e := newTestExtractor()

	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	end1 := t0.Add(2 * time.Hour)
	t1 := t0.Add(48 * time.Hour)
	end2 := t1.Add(2 * time.Hour)
	episodes := []model.EpisodeRecord{
		{StartTime: t0, EndTime: &end1, Severity: 5},
		{StartTime: t1, EndTime: &end2, Severity: 6},
	}

	// Elapsed 1.5x the typical 48h gap saturates the factor.
	f, ok := e.intervalFactor(episodes, end2.Add(72*time.Hour))
	if !ok || math.Abs(f.Contribution-CapInterval) > 1e-9 {
		t.Fatalf("expected saturated interval factor %v, got %v (ok=%v)", CapInterval, f.Contribution, ok)
	}

	// Right after an episode the factor is present but zero.
	f, ok = e.intervalFactor(episodes, end2.Add(time.Hour))
	if !ok || f.Contribution != 0 {
		t.Fatalf("expected zero contribution just after an episode, got %v (ok=%v)", f.Contribution, ok)
	}

	if _, ok := e.intervalFactor(episodes[:1], end2); ok {
		t.Fatalf("single episode should not support an interval factor")
	}
}

func TestScheduleFactor(t *testing.T) {
	e := newTestExtractor()

	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) // a Monday morning
	var episodes []model.EpisodeRecord
	for i := 0; i < 6; i++ {
		episodes = append(episodes, model.EpisodeRecord{StartTime: base.AddDate(0, 0, 7*i), Severity: 5})
	}

	f, ok := e.scheduleFactor(episodes, base.AddDate(0, 0, 42))
	if !ok || math.Abs(f.Contribution-CapSchedule) > 1e-9 {
		t.Fatalf("all-Monday history scored on a Monday should saturate at %v, got %v (ok=%v)", CapSchedule, f.Contribution, ok)
	}

	if _, ok := e.scheduleFactor(episodes[:3], base); ok {
		t.Fatalf("expected no schedule factor below %d episodes", minScheduleEpisodes)
	}
}

func TestCycleFactor(t *testing.T) {
	e := newTestExtractor()

	f, ok := e.cycleFactor(&model.HealthSnapshot{CyclePhase: model.PhaseMenstrual})
	if !ok || math.Abs(f.Contribution-CapCycle) > 1e-9 {
		t.Fatalf("menstrual phase should saturate at %v, got %v (ok=%v)", CapCycle, f.Contribution, ok)
	}

	if _, ok := e.cycleFactor(&model.HealthSnapshot{}); ok {
		t.Fatalf("missing phase should omit the factor")
	}
	if _, ok := e.cycleFactor(&model.HealthSnapshot{CyclePhase: "waxing_gibbous"}); ok {
		t.Fatalf("unknown phase should omit the factor")
	}
}

func TestExtractOmitsAbsentSignals(t *testing.T) {
	e := newTestExtractor()

	in := Input{
		Weather: &model.WeatherSnapshot{PressureDelta24: 10},
		CheckIn: &model.DailyCheckIn{StressLevel: 5, Hydration: 1, CaffeineCups: 8},
		At:      time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
	factors := e.Extract(in)

	for _, id := range []string{FactorSleep, FactorCycle, FactorInterval, FactorSchedule} {
		if _, found := factorByID(factors, id); found {
			t.Fatalf("factor %s should be omitted without its input", id)
		}
	}
	for _, id := range []string{FactorPressure, FactorStress, FactorHydration, FactorCaffeine} {
		if _, found := factorByID(factors, id); !found {
			t.Fatalf("factor %s should be present", id)
		}
	}
}

func TestCapsNeverExceeded(t *testing.T) {
	e := newTestExtractor()

	short := 0.0
	in := Input{
		Weather: &model.WeatherSnapshot{PressureDelta24: 500},
		Health:  &model.HealthSnapshot{SleepHours: &short, CyclePhase: model.PhaseMenstrual},
		CheckIn: &model.DailyCheckIn{StressLevel: 5, Hydration: 1, CaffeineCups: 40},
		At:      time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}

	for _, f := range e.Extract(in) {
		if f.Contribution > Cap(f.ID)+1e-12 {
			t.Fatalf("factor %s contribution %v exceeds cap %v", f.ID, f.Contribution, Cap(f.ID))
		}
	}
}

func TestVectorShapeAndRange(t *testing.T) {
	e := newTestExtractor()

	short := 3.0
	in := Input{
		Weather: &model.WeatherSnapshot{PressureDelta24: 9},
		Health:  &model.HealthSnapshot{SleepHours: &short},
		CheckIn: &model.DailyCheckIn{StressLevel: 4, Hydration: 2, CaffeineCups: 6},
		At:      time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}

	v := e.Vector(in)
	if len(v) != len(VectorNames) {
		t.Fatalf("vector length %d, want %d", len(v), len(VectorNames))
	}
	for i, val := range v {
		if val < 0 || val > 1 {
			t.Fatalf("feature %s out of range: %v", VectorNames[i], val)
		}
	}

	empty := e.Vector(Input{At: in.At})
	for i, val := range empty {
		if val != 0 {
			t.Fatalf("feature %s should be zero for empty input, got %v", VectorNames[i], val)
		}
	}
}
