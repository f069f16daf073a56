package dream

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Forecaster turns a numeric simulation into a short narrative. An
// implementation must never fail the dream: on any problem it returns the
// deterministic fallback text.
type Forecaster interface {
	Forecast(ctx context.Context, result Result, snap SprintSnapshot) string
}

// GeminiForecaster asks Gemini for a 2-3 sentence forecast, bounded by a
// strict timeout.
type GeminiForecaster struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func NewGeminiForecaster(ctx context.Context, apiKey, model string, timeout time.Duration, logger *zap.Logger) (*GeminiForecaster, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiForecaster{client: client, model: model, timeout: timeout, logger: logger}, nil
}

func (f *GeminiForecaster) Forecast(ctx context.Context, result Result, snap SprintSnapshot) string {
	prompt := fmt.Sprintf(`You are a project management AI advisor. Based on this simulation data, provide a concise 2-3 sentence forecast of the likely outcome.

Scenario: %s
Original velocity: %.1f issues/sprint
Projected velocity: %.1f issues/sprint
Risk score: %.2f (0=safe, 1=critical)
Affected issues count: %d
Team size: %d
Days remaining: %d

Respond with ONLY the forecast text, no formatting or headers.`,
		result.ScenarioType,
		result.OriginalVelocity,
		result.ProjectedVelocity,
		result.RiskScore,
		len(result.AffectedIssues),
		len(snap.TeamMembers),
		snap.DaysRemaining)

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	res, err := f.client.Models.GenerateContent(ctx, f.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.4),
		MaxOutputTokens: 256,
	})
	if err != nil {
		f.logger.Warn("gemini forecast failed, using fallback", zap.Error(err))
		return FallbackSummary(result)
	}
	text := strings.TrimSpace(res.Text())
	if text == "" {
		return FallbackSummary(result)
	}
	return text
}

// FallbackSummary builds a deterministic narrative from the numeric fields
// alone.
func FallbackSummary(result Result) string {
	riskLevel := "high"
	switch {
	case result.RiskScore < 0.3:
		riskLevel = "low"
	case result.RiskScore < 0.7:
		riskLevel = "moderate"
	}
	velocityChange := math.Abs(result.ProjectedVelocity - result.OriginalVelocity)

	switch result.ScenarioType {
	case ScenarioResourceStress:
		return fmt.Sprintf("Removing resources would reduce velocity by %.1f issues/sprint (%s risk). %d issues would become unassigned.",
			velocityChange, riskLevel, len(result.AffectedIssues))
	case ScenarioScopeCreep:
		return fmt.Sprintf("Adding %d issues mid-sprint creates %s risk. Projected velocity drops to %.1f.",
			result.ScenarioParams.AdditionalIssues, riskLevel, result.ProjectedVelocity)
	case ScenarioPriorityShift:
		return fmt.Sprintf("Shifting %d%% of resources would deprioritize %d issues (%s risk).",
			result.ScenarioParams.ShiftPercentage, len(result.AffectedIssues), riskLevel)
	default:
		return fmt.Sprintf("Simulation complete. Risk: %s.", riskLevel)
	}
}
