// Package provider declares the external collaborator interfaces the risk
// core consumes. Every provider may be absent or failing; the core treats
// that as a missing signal, never an error.
package provider

import (
	"context"

	"github.com/episense/episense/pkg/model"
)

// WeatherProvider supplies current conditions and the hourly forecast.
type WeatherProvider interface {
	// Current returns present conditions, or nil when unavailable.
	Current(ctx context.Context) (*model.WeatherSnapshot, error)
	// FetchForecast returns up to 24 hourly projections for a location.
	FetchForecast(ctx context.Context, lat, lon float64) ([]model.ForecastHour, error)
}

// HealthProvider supplies wearable metrics.
type HealthProvider interface {
	// IsAuthorized reports whether the user granted health-data access.
	IsAuthorized() bool
	// LatestSnapshot returns the newest metrics, or nil when none exist
	// or authorization was declined.
	LatestSnapshot(ctx context.Context) (*model.HealthSnapshot, error)
}

// CheckInStore persists daily self-reports. At most one check-in exists per
// calendar day; saving again for the same day overwrites.
type CheckInStore interface {
	LoadToday(ctx context.Context) (*model.DailyCheckIn, error)
	LoadRange(ctx context.Context, days int) ([]model.DailyCheckIn, error)
	Save(ctx context.Context, checkIn model.DailyCheckIn) error
}

// NoopHealthProvider stands in on platforms without a wearable bridge.
type NoopHealthProvider struct{}

// IsAuthorized always reports false.
func (NoopHealthProvider) IsAuthorized() bool { return false }

// LatestSnapshot always returns no data.
func (NoopHealthProvider) LatestSnapshot(ctx context.Context) (*model.HealthSnapshot, error) {
	return nil, nil
}
