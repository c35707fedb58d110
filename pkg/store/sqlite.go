// Package store persists the episode log and daily check-ins in a local
// sqlite database. The risk core never touches this package directly; it
// only consumes the typed slices the daemon loads from here.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/episense/episense/pkg/logx"
	"github.com/episense/episense/pkg/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS episodes (
	id            TEXT PRIMARY KEY,
	start_time    INTEGER NOT NULL,
	end_time      INTEGER,
	severity      INTEGER NOT NULL,
	location      TEXT,
	symptoms      TEXT,
	triggers      TEXT,
	interventions TEXT,
	note          TEXT,
	weather       TEXT
);
CREATE INDEX IF NOT EXISTS idx_episodes_start ON episodes(start_time);

CREATE TABLE IF NOT EXISTS checkins (
	day       TEXT PRIMARY KEY,
	stress    INTEGER NOT NULL,
	hydration INTEGER NOT NULL,
	caffeine  INTEGER NOT NULL
);
`

// Store wraps the sqlite database.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (creating if needed) the database at path.
func Open(path string, logger *logx.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// SaveEpisode inserts or updates an episode. Updates exist only to close an
// open episode; saved fields are otherwise immutable by convention.
func (s *Store) SaveEpisode(ctx context.Context, ep model.EpisodeRecord) error {
	symptoms, _ := json.Marshal(ep.Symptoms)
	triggers, _ := json.Marshal(ep.Triggers)
	interventions, _ := json.Marshal(ep.Interventions)

	var weather []byte
	if ep.Weather != nil {
		weather, _ = json.Marshal(ep.Weather)
	}

	var end *int64
	if ep.EndTime != nil {
		v := ep.EndTime.Unix()
		end = &v
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO episodes
		(id, start_time, end_time, severity, location, symptoms, triggers, interventions, note, weather)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.StartTime.Unix(), end, ep.Severity, ep.Location,
		string(symptoms), string(triggers), string(interventions), ep.Note, nullableString(weather),
	)
	if err != nil {
		return fmt.Errorf("store: save episode %s: %w", ep.ID, err)
	}
	return nil
}

// ListEpisodes returns all episodes ordered by start time ascending.
func (s *Store) ListEpisodes(ctx context.Context) ([]model.EpisodeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, start_time, end_time, severity, location, symptoms, triggers, interventions, note, weather
		FROM episodes ORDER BY start_time ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list episodes: %w", err)
	}
	defer rows.Close()

	var episodes []model.EpisodeRecord
	for rows.Next() {
		var (
			ep                            model.EpisodeRecord
			start                         int64
			end                           sql.NullInt64
			symptoms, triggers, intervens string
			note, location, weather       sql.NullString
		)
		if err := rows.Scan(&ep.ID, &start, &end, &ep.Severity, &location,
			&symptoms, &triggers, &intervens, &note, &weather); err != nil {
			return nil, fmt.Errorf("store: scan episode: %w", err)
		}
		ep.StartTime = time.Unix(start, 0)
		if end.Valid {
			t := time.Unix(end.Int64, 0)
			ep.EndTime = &t
		}
		ep.Location = location.String
		ep.Note = note.String
		json.Unmarshal([]byte(symptoms), &ep.Symptoms)
		json.Unmarshal([]byte(triggers), &ep.Triggers)
		json.Unmarshal([]byte(intervens), &ep.Interventions)
		if weather.Valid && weather.String != "" {
			var w model.WeatherSnapshot
			if json.Unmarshal([]byte(weather.String), &w) == nil {
				ep.Weather = &w
			}
		}
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}

// CountEpisodes returns the number of saved episodes.
func (s *Store) CountEpisodes(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count episodes: %w", err)
	}
	return n, nil
}

// Save stores a daily check-in, overwriting any earlier entry for the same
// calendar day.
func (s *Store) Save(ctx context.Context, c model.DailyCheckIn) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkins (day, stress, hydration, caffeine)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET stress=excluded.stress, hydration=excluded.hydration, caffeine=excluded.caffeine`,
		c.Date.Format("2006-01-02"), c.StressLevel, c.Hydration, c.CaffeineCups,
	)
	if err != nil {
		return fmt.Errorf("store: save check-in: %w", err)
	}
	return nil
}

// LoadToday returns today's check-in, or nil when none was saved.
func (s *Store) LoadToday(ctx context.Context) (*model.DailyCheckIn, error) {
	return s.loadDay(ctx, time.Now())
}

// LoadRange returns the check-ins of the trailing window, oldest first.
func (s *Store) LoadRange(ctx context.Context, days int) ([]model.DailyCheckIn, error) {
	cutoff := time.Now().AddDate(0, 0, -days).Format("2006-01-02")
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, stress, hydration, caffeine FROM checkins
		WHERE day >= ? ORDER BY day ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: load check-in range: %w", err)
	}
	defer rows.Close()

	var out []model.DailyCheckIn
	for rows.Next() {
		c, err := scanCheckIn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListCheckIns returns every saved check-in, oldest first.
func (s *Store) ListCheckIns(ctx context.Context) ([]model.DailyCheckIn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, stress, hydration, caffeine FROM checkins ORDER BY day ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list check-ins: %w", err)
	}
	defer rows.Close()

	var out []model.DailyCheckIn
	for rows.Next() {
		c, err := scanCheckIn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) loadDay(ctx context.Context, day time.Time) (*model.DailyCheckIn, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT day, stress, hydration, caffeine FROM checkins WHERE day = ?`,
		day.Format("2006-01-02"))

	var (
		dayStr                  string
		stress, hydration, cups int
	)
	if err := row.Scan(&dayStr, &stress, &hydration, &cups); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: load check-in: %w", err)
	}
	date, _ := time.ParseInLocation("2006-01-02", dayStr, time.Local)
	return &model.DailyCheckIn{Date: date, StressLevel: stress, Hydration: hydration, CaffeineCups: cups}, nil
}

func scanCheckIn(rows *sql.Rows) (model.DailyCheckIn, error) {
	var (
		dayStr                  string
		stress, hydration, cups int
	)
	if err := rows.Scan(&dayStr, &stress, &hydration, &cups); err != nil {
		return model.DailyCheckIn{}, fmt.Errorf("store: scan check-in: %w", err)
	}
	date, _ := time.ParseInLocation("2006-01-02", dayStr, time.Local)
	return model.DailyCheckIn{Date: date, StressLevel: stress, Hydration: hydration, CaffeineCups: cups}, nil
}

func nullableString(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
