package dream

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store persists DreamResults keyed by dream_id. Two dreams of the same
// scenario in the same wall-clock second share an id; the later write wins,
// which is acceptable because dream identity is advisory.
type Store struct {
	DB *sql.DB
}

// Metadata is the lightweight listing view of a stored dream.
type Metadata struct {
	DreamID       string  `json:"dream_id"`
	ScenarioType  string  `json:"scenario_type"`
	Timestamp     int64   `json:"timestamp"`
	RiskScore     float64 `json:"risk_score"`
	ImpactSummary string  `json:"impact_summary"`
}

func (s *Store) Save(ctx context.Context, result Result) error {
	record, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal dream record: %w", err)
	}
	ts := time.Unix(result.Timestamp, 0).UTC().Format(time.RFC3339)
	_, err = s.DB.ExecContext(ctx,
		`INSERT OR REPLACE INTO dreams(dream_id,scenario_type,ts,risk_score,impact_summary,record_json) VALUES (?,?,?,?,?,?)`,
		result.DreamID, result.ScenarioType, ts, result.RiskScore, result.ImpactSummary, string(record))
	return err
}

// Load returns the full record, or (nil, nil) when the id is unknown.
func (s *Store) Load(ctx context.Context, dreamID string) (*Result, error) {
	var record string
	err := s.DB.QueryRowContext(ctx, `SELECT record_json FROM dreams WHERE dream_id=?`, dreamID).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var result Result
	if err := json.Unmarshal([]byte(record), &result); err != nil {
		return nil, fmt.Errorf("decode dream record %s: %w", dreamID, err)
	}
	return &result, nil
}

// List returns metadata for stored dreams, newest first, with summaries
// truncated to 100 characters.
func (s *Store) List(ctx context.Context) ([]Metadata, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT dream_id,scenario_type,ts,risk_score,impact_summary FROM dreams ORDER BY ts DESC, dream_id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Metadata{}
	for rows.Next() {
		var m Metadata
		var ts string
		if err := rows.Scan(&m.DreamID, &m.ScenarioType, &ts, &m.RiskScore, &m.ImpactSummary); err != nil {
			return nil, err
		}
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			m.Timestamp = parsed.Unix()
		}
		m.ImpactSummary = truncateSummary(m.ImpactSummary, 100)
		out = append(out, m)
	}
	return out, rows.Err()
}

// truncateSummary cuts at a rune boundary so the listing never carries a
// split multi-byte character.
func truncateSummary(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
