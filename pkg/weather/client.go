// Package weather implements the WeatherProvider against an
// Open-Meteo-style HTTP forecast API. Failures here are tolerated by the
// core; callers treat them as a missing signal.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/episense/episense/pkg/logx"
	"github.com/episense/episense/pkg/model"
	"github.com/episense/episense/pkg/retry"
)

// DefaultBaseURL is the public Open-Meteo endpoint.
const DefaultBaseURL = "https://api.open-meteo.com"

// Config holds weather client configuration.
type Config struct {
	BaseURL   string        `json:"base_url"`
	Timeout   time.Duration `json:"timeout"`
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
}

// DefaultConfig returns default weather client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 10 * time.Second,
	}
}

// Client fetches hourly forecasts and current conditions.
type Client struct {
	config Config
	http   *http.Client
	runner *retry.Runner
	logger *logx.Logger
}

// NewClient creates a new weather client
func NewClient(config Config, logger *logx.Logger) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
		runner: retry.NewRunner(retry.DefaultConfig()),
		logger: logger,
	}
}

// forecastResponse mirrors the hourly payload of the forecast API.
type forecastResponse struct {
	Hourly struct {
		Time            []string  `json:"time"`
		Temperature     []float64 `json:"temperature_2m"`
		SurfacePressure []float64 `json:"surface_pressure"`
		Precipitation   []float64 `json:"precipitation"`
		WeatherCode     []int     `json:"weather_code"`
	} `json:"hourly"`
}

// FetchForecast returns the next 24 hourly projections for a location. The
// request includes the trailing day so each hour carries its own 24h
// pressure delta.
func (c *Client) FetchForecast(ctx context.Context, lat, lon float64) ([]model.ForecastHour, error) {
	resp, err := c.fetch(ctx, lat, lon)
	if err != nil {
		return nil, err
	}

	hours, _, err := c.decodeHours(resp, time.Now())
	return hours, err
}

// Current returns present conditions at the configured location, or nil
// when the API cannot supply them.
func (c *Client) Current(ctx context.Context) (*model.WeatherSnapshot, error) {
	resp, err := c.fetch(ctx, c.config.Latitude, c.config.Longitude)
	if err != nil {
		return nil, err
	}

	_, current, err := c.decodeHours(resp, time.Now())
	return current, err
}

// fetch performs the HTTP request with retries.
func (c *Client) fetch(ctx context.Context, lat, lon float64) (*forecastResponse, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("hourly", "temperature_2m,surface_pressure,precipitation,weather_code")
	q.Set("past_days", "1")
	q.Set("forecast_days", "2")
	q.Set("timezone", "auto")
	endpoint := fmt.Sprintf("%s/v1/forecast?%s", c.config.BaseURL, q.Encode())

	var decoded forecastResponse
	err := c.runner.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("weather: unexpected status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&decoded)
	})
	if err != nil {
		return nil, fmt.Errorf("weather: forecast fetch failed: %w", err)
	}
	return &decoded, nil
}

// decodeHours converts the raw payload into the next 24 forecast hours plus
// the snapshot for the current hour.
func (c *Client) decodeHours(resp *forecastResponse, now time.Time) ([]model.ForecastHour, *model.WeatherSnapshot, error) {
	h := resp.Hourly
	n := len(h.Time)
	if n == 0 || len(h.Temperature) != n || len(h.SurfacePressure) != n {
		return nil, nil, fmt.Errorf("weather: malformed hourly payload")
	}

	// Locate the current hour in the series.
	nowHour := now.Truncate(time.Hour)
	idx := -1
	times := make([]time.Time, n)
	for i, raw := range h.Time {
		t, err := time.ParseInLocation("2006-01-02T15:04", raw, now.Location())
		if err != nil {
			return nil, nil, fmt.Errorf("weather: bad hour timestamp %q: %w", raw, err)
		}
		times[i] = t
		if !t.After(nowHour) {
			idx = i
		}
	}
	if idx < 0 {
		return nil, nil, fmt.Errorf("weather: payload has no current hour")
	}

	delta24 := func(i int) float64 {
		if i < 24 {
			return 0
		}
		return h.SurfacePressure[i] - h.SurfacePressure[i-24]
	}
	precip := func(i int) bool {
		return i < len(h.Precipitation) && h.Precipitation[i] > 0
	}
	code := func(i int) string {
		if i < len(h.WeatherCode) {
			return strconv.Itoa(h.WeatherCode[i])
		}
		return ""
	}

	current := &model.WeatherSnapshot{
		Timestamp:       times[idx],
		TemperatureC:    h.Temperature[idx],
		PressureHPa:     h.SurfacePressure[idx],
		PressureDelta24: delta24(idx),
		ConditionCode:   code(idx),
		Precipitation:   precip(idx),
	}

	var hours []model.ForecastHour
	for i := idx + 1; i < n && len(hours) < 24; i++ {
		hours = append(hours, model.ForecastHour{
			Date:            times[i],
			Hour:            times[i].Hour(),
			TemperatureC:    h.Temperature[i],
			PressureHPa:     h.SurfacePressure[i],
			PressureDelta24: delta24(i),
			ConditionCode:   code(i),
			Precipitation:   precip(i),
		})
	}

	return hours, current, nil
}
