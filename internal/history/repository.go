// Package history stores finished battles and recovery restarts in SQLite
// and answers the queries behind the API's battle list and summary.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/mergebot/internal/results"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Filter controls which battles List returns.
type Filter struct {
	Outcome results.Outcome // optional
	Since   time.Time       // optional: ended at or after
	Limit   int             // default 50, max 200
	Offset  int
}

// ListResult is one page of battles, newest first.
type ListResult struct {
	Battles []results.BattleResult `json:"battles"`
	Total   int                    `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// Summary aggregates every stored battle.
type Summary struct {
	Battles       int        `json:"battles"`
	Wins          int        `json:"wins"`
	Losses        int        `json:"losses"`
	Surrenders    int        `json:"surrenders"`
	WinRate       float64    `json:"win_rate"`
	AvgDurationMS int64      `json:"avg_duration_ms"`
	AvgRounds     float64    `json:"avg_rounds"`
	TotalMerges   int        `json:"total_merges"`
	LastBattleAt  *time.Time `json:"last_battle_at,omitempty"`
}

// Restart levels, matching the restarts.level CHECK constraint.
const (
	LevelApp      = "app"
	LevelEmulator = "emulator"
)

// Restart is one recovery action taken by the automation loop.
type Restart struct {
	Serial    string    `json:"serial,omitempty"`
	Level     string    `json:"level"`
	Reason    string    `json:"reason"`
	OK        bool      `json:"ok"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository is the battle history store.
type Repository interface {
	results.Sink
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Summary(ctx context.Context) (*Summary, error)
	RecordRestart(ctx context.Context, r Restart) error
}

// SQLiteRepository implements Repository on the battles and restarts tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over a migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts a battle. An empty ID is generated.
func (r *SQLiteRepository) Record(ctx context.Context, b results.BattleResult) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if !b.Outcome.Valid() {
		return fmt.Errorf("inserting battle %s: invalid outcome %q", b.ID, b.Outcome)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO battles (id, serial, mode, started_at, ended_at, duration_ms, outcome,
		                      rounds, merges, wins, losses, streak)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Serial, b.Mode,
		b.StartedAt.UTC().Format(time.RFC3339Nano), b.EndedAt.UTC().Format(time.RFC3339Nano),
		b.DurationMS, string(b.Outcome),
		b.Rounds, b.Merges, b.Wins, b.Losses, b.Streak,
	)
	if err != nil {
		return fmt.Errorf("inserting battle: %w", err)
	}
	return nil
}

// RecordRestart inserts a restart row.
func (r *SQLiteRepository) RecordRestart(ctx context.Context, rs Restart) error {
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = time.Now().UTC()
	}
	ok := 0
	if rs.OK {
		ok = 1
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO restarts (serial, level, reason, ok, created_at) VALUES (?, ?, ?, ?, ?)`,
		rs.Serial, rs.Level, rs.Reason, ok, rs.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting restart: %w", err)
	}
	return nil
}

// List returns battles matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "ended_at >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM battles " + where //nolint:gosec // WHERE built from placeholders
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting battles: %w", err)
	}

	query := `SELECT id, serial, mode, started_at, ended_at, duration_ms, outcome,
	                 rounds, merges, wins, losses, streak
	          FROM battles ` + where + ` ORDER BY ended_at DESC LIMIT ? OFFSET ?` //nolint:gosec // WHERE built from placeholders
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying battles: %w", err)
	}
	defer rows.Close()

	battles := []results.BattleResult{}
	for rows.Next() {
		var b results.BattleResult
		var started, ended, outcome string
		if err := rows.Scan(&b.ID, &b.Serial, &b.Mode, &started, &ended, &b.DurationMS, &outcome,
			&b.Rounds, &b.Merges, &b.Wins, &b.Losses, &b.Streak); err != nil {
			return nil, fmt.Errorf("scanning battle: %w", err)
		}
		b.Outcome = results.Outcome(outcome)
		if b.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if b.EndedAt, err = parseTime(ended); err != nil {
			return nil, err
		}
		battles = append(battles, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating battles: %w", err)
	}

	return &ListResult{Battles: battles, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Summary aggregates all battles.
func (r *SQLiteRepository) Summary(ctx context.Context) (*Summary, error) {
	var s Summary
	var avgDur, avgRounds sql.NullFloat64
	var merges sql.NullInt64
	var last sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(outcome = 'win'), 0),
		       COALESCE(SUM(outcome = 'lose'), 0),
		       COALESCE(SUM(outcome = 'surrender'), 0),
		       AVG(duration_ms), AVG(rounds), SUM(merges), MAX(ended_at)
		FROM battles`).Scan(&s.Battles, &s.Wins, &s.Losses, &s.Surrenders, &avgDur, &avgRounds, &merges, &last)
	if err != nil {
		return nil, fmt.Errorf("summarising battles: %w", err)
	}
	if s.Battles > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Battles)
	}
	s.AvgDurationMS = int64(avgDur.Float64)
	s.AvgRounds = avgRounds.Float64
	s.TotalMerges = int(merges.Int64)
	if last.Valid {
		t, err := parseTime(last.String)
		if err != nil {
			return nil, err
		}
		s.LastBattleAt = &t
	}
	return &s, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
