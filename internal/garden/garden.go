// Package garden is the outbound transport to the 3D visualization host. It
// speaks a small fixed trigger vocabulary; the host owns everything about
// rendering. Every call is best effort with a bounded retry.
package garden

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Color is an RGB triple in [0,1] per channel.
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// priorityColors maps unified priority (1 lowest, 5 highest) to the plant
// tint used for growth triggers.
var priorityColors = map[int]Color{
	5: {R: 1.0, G: 0.2, B: 0.2},
	4: {R: 1.0, G: 0.6, B: 0.1},
	3: {R: 0.3, G: 0.8, B: 0.3},
	2: {R: 0.4, G: 0.6, B: 0.4},
	1: {R: 0.5, G: 0.5, B: 0.5},
}

// PriorityColor returns the tint for a unified priority, defaulting to the
// neutral green.
func PriorityColor(priority int) Color {
	if c, ok := priorityColors[priority]; ok {
		return c
	}
	return priorityColors[3]
}

// VineStyle shapes how a dependency vine renders by relation type.
type VineStyle struct {
	Color     Color   `json:"color"`
	Thickness float64 `json:"thickness"`
	HasThorns bool    `json:"has_thorns"`
	Animation string  `json:"animation"`
}

var vineStyles = map[string]VineStyle{
	"blocked_by": {Color: Color{R: 0.8, G: 0.1, B: 0.1}, Thickness: 0.15, HasThorns: true, Animation: "pulse_warning"},
	"blocks":     {Color: Color{R: 0.8, G: 0.4, B: 0.1}, Thickness: 0.12, HasThorns: true, Animation: "pulse_slow"},
	"relates_to": {Color: Color{R: 0.3, G: 0.7, B: 0.3}, Thickness: 0.08, HasThorns: false, Animation: "none"},
	"parent":     {Color: Color{R: 0.4, G: 0.3, B: 0.2}, Thickness: 0.2, HasThorns: false, Animation: "none"},
	"child":      {Color: Color{R: 0.5, G: 0.8, B: 0.5}, Thickness: 0.06, HasThorns: false, Animation: "none"},
}

func styleFor(relationType string) VineStyle {
	if s, ok := vineStyles[relationType]; ok {
		return s
	}
	return vineStyles["relates_to"]
}

// VineEdge is one dependency edge for a bulk vine sync.
type VineEdge struct {
	FromID       string `json:"from_id"`
	ToID         string `json:"to_id"`
	RelationType string `json:"relation_type"`
}

// Options configure a Client.
type Options struct {
	BaseURL       string
	RetryAttempts int
	RetryDelay    time.Duration
	Timeout       time.Duration
	Logger        *zap.Logger
}

// Client delivers trigger calls to the visualization host. Failed calls are
// retried with linear backoff (attempt N waits N times the base delay) up
// to the configured attempt count, then abandoned.
type Client struct {
	baseURL  string
	attempts int
	delay    time.Duration
	client   *http.Client
	logger   *zap.Logger

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(opts Options) *Client {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		baseURL:  opts.BaseURL,
		attempts: opts.RetryAttempts,
		delay:    opts.RetryDelay,
		client:   &http.Client{Timeout: opts.Timeout},
		logger:   opts.Logger,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) trigger(ctx context.Context, name string, params map[string]any) error {
	body, err := json.Marshal(map[string]any{"trigger": name, "params": params})
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		lastErr = c.post(ctx, name, body)
		if lastErr == nil {
			return nil
		}
		c.logger.Warn("garden trigger attempt failed",
			zap.String("trigger", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.attempts),
			zap.Error(lastErr))
		if attempt < c.attempts {
			if err := c.sleep(ctx, c.delay*time.Duration(attempt)); err != nil {
				return err
			}
		}
	}
	c.logger.Error("garden trigger abandoned", zap.String("trigger", name), zap.Error(lastErr))
	return fmt.Errorf("garden trigger %s: %w", name, lastErr)
}

func (c *Client) post(ctx context.Context, name string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/triggers/"+name, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("status %d", res.StatusCode)
	}
	return nil
}

// Grow spawns growth on a branch: a completed issue blooming into the tree.
func (c *Client) Grow(ctx context.Context, branchID, growthType string, modifier float64, color Color, epicID string) error {
	return c.trigger(ctx, "grow", map[string]any{
		"branch_id":       branchID,
		"growth_type":     growthType,
		"growth_modifier": modifier,
		"color":           color,
		"epic_id":         epicID,
	})
}

// Shrink reverses growth for a reopened issue.
func (c *Client) Shrink(ctx context.Context, branchID string) error {
	return c.trigger(ctx, "shrink", map[string]any{"branch_id": branchID})
}

func (c *Client) AddThorns(ctx context.Context, branchID, epicID string) error {
	return c.trigger(ctx, "add_thorns", map[string]any{"branch_id": branchID, "epic_id": epicID})
}

func (c *Client) RemoveThorns(ctx context.Context, branchID string) error {
	return c.trigger(ctx, "remove_thorns", map[string]any{"branch_id": branchID})
}

// SetWeather applies an ambient weather state: sunny, cloudy, or storm.
func (c *Client) SetWeather(ctx context.Context, state string) error {
	return c.trigger(ctx, "set_weather", map[string]any{"state": state})
}

// SetTime maps sprint progress in [0,1] onto time of day.
func (c *Client) SetTime(ctx context.Context, progress float64) error {
	return c.trigger(ctx, "set_time", map[string]any{"progress": progress})
}

// GhostOverlay spawns the translucent overlay for a dream. Intensity is the
// opacity hint in [0,1], clamped to a 0.1 floor so the overlay is never
// invisible.
func (c *Client) GhostOverlay(ctx context.Context, dreamID string, intensity float64) error {
	if intensity < 0.1 {
		intensity = 0.1
	}
	if intensity > 1 {
		intensity = 1
	}
	return c.trigger(ctx, "ghost_overlay", map[string]any{"dream_id": dreamID, "intensity": intensity})
}

// GhostGrowth marks one simulated issue inside an active dream overlay.
func (c *Client) GhostGrowth(ctx context.Context, dreamID, issueID, effect string) error {
	return c.trigger(ctx, "ghost_growth", map[string]any{
		"dream_id": dreamID,
		"issue_id": issueID,
		"effect":   effect,
	})
}

// ClearGhosts removes every ghost element of a dream overlay.
func (c *Client) ClearGhosts(ctx context.Context, dreamID string) error {
	return c.trigger(ctx, "clear_ghosts", map[string]any{"dream_id": dreamID})
}

// SpawnVine connects two plants with a dependency vine styled by relation
// type.
func (c *Client) SpawnVine(ctx context.Context, fromID, toID, relationType string) error {
	style := styleFor(relationType)
	return c.trigger(ctx, "spawn_vine", map[string]any{
		"vine_id":       vineID(fromID, toID, relationType),
		"from_id":       fromID,
		"to_id":         toID,
		"relation_type": relationType,
		"style":         style,
	})
}

func (c *Client) RemoveVine(ctx context.Context, fromID, toID, relationType string) error {
	return c.trigger(ctx, "remove_vine", map[string]any{
		"vine_id": vineID(fromID, toID, relationType),
	})
}

// SyncVines replaces the full vine set in one call, used after processing
// an event that changed dependency edges.
func (c *Client) SyncVines(ctx context.Context, edges []VineEdge) error {
	if edges == nil {
		edges = []VineEdge{}
	}
	return c.trigger(ctx, "sync_vines", map[string]any{"dependencies": edges})
}

func vineID(fromID, toID, relationType string) string {
	return fmt.Sprintf("vine_%s_%s_%s", fromID, toID, relationType)
}
