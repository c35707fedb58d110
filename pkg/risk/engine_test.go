package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/episense/episense/pkg/feature"
	"github.com/episense/episense/pkg/lifecycle"
	"github.com/episense/episense/pkg/logx"
	"github.com/episense/episense/pkg/model"
	"github.com/episense/episense/pkg/trainer"
)

// fakeTrainer stands in for the real trainer so engine tests control when
// and with what result training completes.
type fakeTrainer struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
	model   *trainer.Model
	err     error
}

func (f *fakeTrainer) Train(ctx context.Context, episodes []model.EpisodeRecord, checkIns []model.DailyCheckIn, progress func(float64)) (*trainer.Model, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.model, f.err
}

func (f *fakeTrainer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSink struct {
	mu     sync.Mutex
	scores []model.RiskScore
}

func (s *fakeSink) SendRiskScore(score model.RiskScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores = append(s.scores, score)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scores)
}

func newTestEngine(ft *fakeTrainer) *Engine {
	logger := logx.New("error")
	lc := lifecycle.New(lifecycle.DefaultConfig(), ft, logger)
	return New(feature.New(logger), lc, nil, nil, nil, logger)
}

func testEpisodes(n int) []model.EpisodeRecord {
	base := time.Date(2025, 6, 1, 22, 0, 0, 0, time.UTC)
	out := make([]model.EpisodeRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.EpisodeRecord{
			StartTime: base.AddDate(0, 0, i*3),
			Severity:  5,
		})
	}
	return out
}

func waitForModelState(t *testing.T, e *Engine, want model.ModelState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.ModelStatus().State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("engine never reached model state %s, last %s", want, e.ModelStatus().State)
}

// A brand-new profile scores zero risk from the rule-based path with floor
// confidence and no factors.
func TestCalculateEmptyHistory(t *testing.T) {
	e := newTestEngine(&fakeTrainer{})

	score := e.Calculate(context.Background(), Input{})

	if score.OverallRisk != 0 {
		t.Fatalf("empty history risk = %v, want 0", score.OverallRisk)
	}
	if score.RiskLevel != model.RiskLow {
		t.Fatalf("empty history level = %s, want %s", score.RiskLevel, model.RiskLow)
	}
	if score.Source != model.SourceRuleBased {
		t.Fatalf("empty history source = %s, want %s", score.Source, model.SourceRuleBased)
	}
	if score.Confidence != 0.15 {
		t.Fatalf("empty history confidence = %v, want 0.15", score.Confidence)
	}
	if len(score.TopFactors) != 0 || len(score.Recommendations) != 0 {
		t.Fatalf("empty history should produce no factors or advice: %+v", score)
	}
}

// The first call over the episode threshold triggers training but still
// scores rule-based; once training completes, later calls use the model.
func TestCalculateTriggersTrainingWithoutWaiting(t *testing.T) {
	ft := &fakeTrainer{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		model: &trainer.Model{
			Weights:    make([]float64, len(feature.VectorNames)),
			Bias:       0.42,
			Confidence: 0.8,
			TrainedAt:  time.Now(),
		},
	}
	e := newTestEngine(ft)
	in := Input{Input: feature.Input{Episodes: testEpisodes(25), At: time.Now()}}

	score := e.Calculate(context.Background(), in)
	if score.Source != model.SourceRuleBased {
		t.Fatalf("first call must score rule-based, got %s", score.Source)
	}

	<-ft.started
	if st := e.ModelStatus(); st.State != model.StateTraining {
		t.Fatalf("expected training in flight, state %s", st.State)
	}

	close(ft.release)
	waitForModelState(t, e, model.StateModelActive)

	score = e.Calculate(context.Background(), in)
	if score.Source != model.SourcePersonalizedModel {
		t.Fatalf("post-training call should use the model, got %s", score.Source)
	}
	if score.OverallRisk != 0.42 {
		t.Fatalf("model path risk = %v, want the model bias 0.42", score.OverallRisk)
	}
	if ft.callCount() != 1 {
		t.Fatalf("trainer called %d times, want 1", ft.callCount())
	}
}

// A stressed, dehydrated, caffeine-spiking check-in surfaces those factors
// with matching advice.
func TestCalculateSurfacesCheckInFactors(t *testing.T) {
	e := newTestEngine(&fakeTrainer{})

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	var recent []model.DailyCheckIn
	for i := 1; i <= 7; i++ {
		recent = append(recent, model.DailyCheckIn{
			Date: day.AddDate(0, 0, -i), StressLevel: 2, Hydration: 4, CaffeineCups: 2,
		})
	}
	in := Input{Input: feature.Input{
		CheckIn:        &model.DailyCheckIn{Date: day, StressLevel: 5, Hydration: 1, CaffeineCups: 8},
		RecentCheckIns: recent,
		At:             day.Add(12 * time.Hour),
	}}

	score := e.Calculate(context.Background(), in)

	ids := make(map[string]bool)
	for _, f := range score.TopFactors {
		ids[f.ID] = true
	}
	for _, want := range []string{feature.FactorStress, feature.FactorHydration, feature.FactorCaffeine} {
		if !ids[want] {
			t.Fatalf("factor %s missing from top factors %v", want, score.TopFactors)
		}
	}
	if len(score.Recommendations) == 0 {
		t.Fatalf("elevated factors should produce recommendations")
	}
	if score.OverallRisk <= 0 {
		t.Fatalf("elevated factors should raise risk above zero, got %v", score.OverallRisk)
	}
}

// Confidence never increases when a data source disappears.
func TestConfidenceMonotoneInSources(t *testing.T) {
	e := newTestEngine(&fakeTrainer{})

	sleep := 6.0
	full := Input{Input: feature.Input{
		Episodes: testEpisodes(10),
		Weather:  &model.WeatherSnapshot{PressureDelta24: 5},
		Health:   &model.HealthSnapshot{SleepHours: &sleep},
		CheckIn:  &model.DailyCheckIn{StressLevel: 3, Hydration: 3},
		At:       time.Now(),
	}}

	base := e.Calculate(context.Background(), full).Confidence

	drop := []func(*Input){
		func(in *Input) { in.Weather = nil },
		func(in *Input) { in.Health = nil },
		func(in *Input) { in.CheckIn = nil },
		func(in *Input) { in.Episodes = nil },
	}
	for i, fn := range drop {
		reduced := full
		fn(&reduced)
		if got := e.Calculate(context.Background(), reduced).Confidence; got >= base {
			t.Fatalf("dropping source %d should lower confidence: %v >= %v", i, got, base)
		}
	}
}

func TestTopFactorsCappedAndOrdered(t *testing.T) {
	e := newTestEngine(&fakeTrainer{})

	short := 4.0
	in := Input{Input: feature.Input{
		Episodes: testEpisodes(10),
		Weather:  &model.WeatherSnapshot{PressureDelta24: 20},
		Health:   &model.HealthSnapshot{SleepHours: &short, CyclePhase: model.PhaseMenstrual},
		CheckIn:  &model.DailyCheckIn{StressLevel: 5, Hydration: 1, CaffeineCups: 9},
		At:       testEpisodes(10)[9].StartTime.Add(90 * time.Hour),
	}}

	score := e.Calculate(context.Background(), in)

	if len(score.TopFactors) != TopFactorCount {
		t.Fatalf("expected the factor list capped at %d, got %d", TopFactorCount, len(score.TopFactors))
	}
	for i := 1; i < len(score.TopFactors); i++ {
		if score.TopFactors[i].Contribution > score.TopFactors[i-1].Contribution {
			t.Fatalf("top factors not in descending order: %+v", score.TopFactors)
		}
	}
}

func TestRefreshThrottleAndObservables(t *testing.T) {
	sink := &fakeSink{}
	logger := logx.New("error")
	lc := lifecycle.New(lifecycle.DefaultConfig(), &fakeTrainer{}, logger)
	e := New(feature.New(logger), lc, sink, nil, nil, logger)
	e.SetThrottle(time.Hour)

	in := Input{Input: feature.Input{
		Weather: &model.WeatherSnapshot{PressureDelta24: 8},
		At:      time.Now(),
	}}

	if !e.Refresh(context.Background(), in, nil) {
		t.Fatalf("first refresh should start")
	}
	if e.Refresh(context.Background(), in, nil) {
		t.Fatalf("second refresh inside the throttle window should be dropped")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := e.CurrentRisk(); ok && !e.IsCalculating() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	score, ok := e.CurrentRisk()
	if !ok {
		t.Fatalf("refresh never published a current risk")
	}
	if score.OverallRisk <= 0 {
		t.Fatalf("pressure swing should produce a positive risk, got %v", score.OverallRisk)
	}
	if sink.count() != 1 {
		t.Fatalf("sink received %d scores, want 1", sink.count())
	}
}

func TestRecommendationsDeduplicate(t *testing.T) {
	top := []model.RiskFactor{
		{ID: feature.FactorStress, Contribution: 0.2},
		{ID: feature.FactorStress, Contribution: 0.1},
		{ID: "unknown-signal", Contribution: 0.05},
	}

	out := recommendations(top)
	if len(out) != 1 {
		t.Fatalf("expected one deduplicated advisory, got %v", out)
	}
}
