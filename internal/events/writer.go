// Package events records the outcome of every processed ticket event so
// operators can inspect what the pipeline actually did.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Record is one processed-event log entry.
type Record struct {
	ID         int64          `json:"id"`
	Timestamp  string         `json:"ts"`
	DeliveryID string         `json:"delivery_id,omitempty"`
	Provider   string         `json:"provider"`
	IssueID    string         `json:"issue_id,omitempty"`
	EventType  string         `json:"event_type"`
	Status     string         `json:"status"`
	Detail     map[string]any `json:"detail,omitempty"`
}

func (w Writer) Append(ctx context.Context, deliveryID, provider, issueID, eventType, status string, detail map[string]any) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if detail == nil {
		detail = map[string]any{}
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal event detail: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO events(ts,delivery_id,provider,issue_id,event_type,status,detail_json) VALUES (?,?,?,?,?,?,?)`,
		ts, nullable(deliveryID), provider, nullable(issueID), eventType, status, string(data))
	return err
}

// Recent returns the latest entries, newest first.
func (w Writer) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := w.DB.QueryContext(ctx, `SELECT id,ts,COALESCE(delivery_id,''),provider,COALESCE(issue_id,''),event_type,status,detail_json FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		var detail string
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.DeliveryID, &r.Provider, &r.IssueID, &r.EventType, &r.Status, &detail); err != nil {
			return nil, err
		}
		if detail != "" && detail != "{}" {
			_ = json.Unmarshal([]byte(detail), &r.Detail)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
