package risk

import (
	"github.com/episense/episense/pkg/model"
	"github.com/episense/episense/pkg/scorer"
)

// Forecast24h projects risk across the hourly weather forecast. Each hour's
// weather is substituted into the extractor while health and check-in data
// are held constant for the day, and the scoring path currently selected by
// the model status is applied to every hour. The model status is read once
// so the whole curve comes from one path; forecasting never mutates status
// or triggers training.
func (e *Engine) Forecast24h(in Input, hours []model.ForecastHour) []model.HourlyForecastPoint {
	if len(hours) > 24 {
		hours = hours[:24]
	}

	active := e.lifecycle.ActiveModel()

	points := make([]model.HourlyForecastPoint, 0, len(hours))
	for _, h := range hours {
		snapshot := h.Snapshot()

		hourIn := in.Input
		hourIn.Weather = &snapshot
		hourIn.At = snapshot.Timestamp

		var risk float64
		if active != nil {
			risk = active.Predict(e.extractor.Vector(hourIn))
		} else {
			risk = scorer.Score(e.extractor.Extract(hourIn))
		}

		points = append(points, model.HourlyForecastPoint{
			Hour: snapshot.Timestamp,
			Risk: risk,
		})
	}

	return points
}
