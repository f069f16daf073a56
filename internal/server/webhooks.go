package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"bloompath/internal/classify"
	"bloompath/internal/queue"
)

// WebhookAck is the fast acknowledgment returned before any processing
// happens. Trackers retry on slow responses, so the handler's only
// synchronous work is verify, parse, classify and enqueue.
type WebhookAck struct {
	Status     string `json:"status" example:"queued"`
	Issue      string `json:"issue,omitempty" example:"PROJ-123"`
	EventType  string `json:"event_type,omitempty" example:"completed"`
	DeliveryID string `json:"delivery_id,omitempty"`
}

func registerWebhooks(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:      "jira-webhook",
		Method:           http.MethodPost,
		Path:             "/webhooks/jira",
		Summary:          "Jira webhook intake",
		SkipValidateBody: true,
		Errors:           []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		RawBody []byte
	}) (*struct {
		Body WebhookAck `json:"body"`
	}, error) {
		return handleWebhook(ctx, cfg, "jira", input.RawBody, "")
	})

	huma.Register(api, huma.Operation{
		OperationID:      "linear-webhook",
		Method:           http.MethodPost,
		Path:             "/webhooks/linear",
		Summary:          "Linear webhook intake",
		SkipValidateBody: true,
		Errors:           []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Signature string `header:"Linear-Signature"`
		RawBody   []byte
	}) (*struct {
		Body WebhookAck `json:"body"`
	}, error) {
		return handleWebhook(ctx, cfg, "linear", input.RawBody, input.Signature)
	})
}

func handleWebhook(ctx context.Context, cfg Config, providerName string, payload []byte, signature string) (*struct {
	Body WebhookAck `json:"body"`
}, error) {
	prov, apiErr := cfg.providerFor(providerName)
	if apiErr != nil {
		return nil, apiErr
	}
	if !prov.VerifyWebhookSignature(payload, signature) {
		cfg.Logger.Warn("webhook signature rejected", zap.String("provider", providerName))
		return nil, newAPIError(http.StatusUnauthorized, "invalid_signature", "webhook signature verification failed", nil)
	}
	t, err := prov.ParseWebhook(payload)
	if err != nil {
		return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}

	var event classify.Event
	switch providerName {
	case "jira":
		event = cfg.Classifier.ClassifyJira(payload)
	case "linear":
		event = cfg.Classifier.ClassifyLinear(payload)
	default:
		event = classify.Event{Type: classify.EventUpdated}
	}

	deliveryID, err := cfg.Queue.Enqueue(queue.Item{
		Provider:   providerName,
		Ticket:     t,
		Event:      event,
		EnqueuedAt: time.Now(),
	})
	if err != nil {
		cfg.Logger.Error("enqueue failed",
			zap.String("provider", providerName),
			zap.String("issue_id", t.ID),
			zap.Error(err))
		return nil, newAPIError(http.StatusServiceUnavailable, "queue_unavailable", err.Error(), nil)
	}
	cfg.Logger.Info("webhook queued",
		zap.String("provider", providerName),
		zap.String("issue_id", t.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("delivery_id", deliveryID))
	return &struct {
		Body WebhookAck `json:"body"`
	}{Body: WebhookAck{
		Status:     "queued",
		Issue:      t.ID,
		EventType:  string(event.Type),
		DeliveryID: deliveryID,
	}}, nil
}
