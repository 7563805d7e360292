// Package archive keeps finished sessions in a SQLite database for
// cross-session analysis.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/user/breathlab/internal/nback"
	"github.com/user/breathlab/internal/session"
)

// Archive is a SQLite-backed session archive.
type Archive struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens or creates the archive at path.
func Open(ctx context.Context, path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close closes the database.
func (a *Archive) Close() error { return a.db.Close() }

const timeLayout = time.RFC3339Nano

// Insert stores a result, replacing an earlier copy of the same session.
func (a *Archive) Insert(ctx context.Context, res *session.Result) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id := string(res.SessionID)
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to replace session: %w", err)
	}

	var rate sql.NullFloat64
	if res.CorrectRate != nil {
		rate = sql.NullFloat64{Float64: *res.CorrectRate, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, participant, level, trial, status, started_at, ended_at, correct_rate, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, res.Participant, res.Level.String(), res.Trial, res.Status,
		res.StartedAt.UTC().Format(timeLayout), res.EndedAt.UTC().Format(timeLayout),
		rate, len(res.Warnings)); err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	for i, r := range res.Responses {
		var rt sql.NullFloat64
		if r.Reaction.Kind == nback.PressedSpace {
			rt = sql.NullFloat64{Float64: r.Reaction.ReactionTime, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO responses (session_id, seq, outcome, selected, reaction, reaction_time, stimulus, presentation_id, at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i, string(r.Outcome), r.Selected, string(r.Reaction.Kind), rt,
			r.Stimulus, string(r.Presentation), r.At.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("failed to insert response %d: %w", i, err)
		}
	}

	for i, rec := range res.CollectedData {
		var rr sql.NullInt64
		if rec.RespiratoryRate != nil {
			rr = sql.NullInt64{Int64: int64(*rec.RespiratoryRate), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO samples (session_id, seq, pupil_size, respiratory_rate, state)
			VALUES (?, ?, ?, ?, ?)`,
			id, i, rec.PupilSize, rr, rec.State.String()); err != nil {
			return fmt.Errorf("failed to insert sample %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// LevelStats aggregates the non-trial sessions of one level. Averages are nil
// when there was nothing to average.
type LevelStats struct {
	Level           nback.Level `json:"level"`
	Sessions        int         `json:"sessions"`
	CorrectRate     *float64    `json:"correct_rate"`
	ReactionTime    *float64    `json:"reaction_time"`
	PupilSize       *float64    `json:"pupil_size"`
	RespiratoryRate *float64    `json:"respiratory_rate"`
}

// Stats aggregates per level, optionally restricted to one participant.
func (a *Archive) Stats(ctx context.Context, participant string) ([]LevelStats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	byLevel := map[string]*LevelStats{}
	get := func(name string) (*LevelStats, error) {
		if s, ok := byLevel[name]; ok {
			return s, nil
		}
		l, err := nback.ParseLevel(name)
		if err != nil {
			return nil, err
		}
		s := &LevelStats{Level: l}
		byLevel[name] = s
		return s, nil
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT level, COUNT(*), AVG(correct_rate)
		FROM sessions
		WHERE trial = 0 AND (? = '' OR participant = ?)
		GROUP BY level`, participant, participant)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	if err := scanRows(rows, func() error {
		var level string
		var n int
		var avg sql.NullFloat64
		if err := rows.Scan(&level, &n, &avg); err != nil {
			return err
		}
		s, err := get(level)
		if err != nil {
			return err
		}
		s.Sessions = n
		s.CorrectRate = nullable(avg)
		return nil
	}); err != nil {
		return nil, err
	}

	rows, err = a.db.QueryContext(ctx, `
		SELECT s.level, AVG(r.reaction_time)
		FROM responses r JOIN sessions s ON s.id = r.session_id
		WHERE s.trial = 0 AND r.reaction = 'pressed_space' AND (? = '' OR s.participant = ?)
		GROUP BY s.level`, participant, participant)
	if err != nil {
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	if err := scanRows(rows, func() error {
		var level string
		var avg sql.NullFloat64
		if err := rows.Scan(&level, &avg); err != nil {
			return err
		}
		s, err := get(level)
		if err != nil {
			return err
		}
		s.ReactionTime = nullable(avg)
		return nil
	}); err != nil {
		return nil, err
	}

	rows, err = a.db.QueryContext(ctx, `
		SELECT s.level, AVG(m.pupil_size), AVG(m.respiratory_rate)
		FROM samples m JOIN sessions s ON s.id = m.session_id
		WHERE s.trial = 0 AND (? = '' OR s.participant = ?)
		GROUP BY s.level`, participant, participant)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	if err := scanRows(rows, func() error {
		var level string
		var pupil, rate sql.NullFloat64
		if err := rows.Scan(&level, &pupil, &rate); err != nil {
			return err
		}
		s, err := get(level)
		if err != nil {
			return err
		}
		s.PupilSize = nullable(pupil)
		s.RespiratoryRate = nullable(rate)
		return nil
	}); err != nil {
		return nil, err
	}

	out := make([]LevelStats, 0, len(byLevel))
	for _, s := range byLevel {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

// Count returns the number of archived sessions.
func (a *Archive) Count(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

func scanRows(rows *sql.Rows, fn func() error) error {
	defer rows.Close()
	for rows.Next() {
		if err := fn(); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
	}
	return rows.Err()
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

var _ session.Archiver = (*Archive)(nil)
