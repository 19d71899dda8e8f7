package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/meditrack/reminder-api/internal/config"
	"github.com/meditrack/reminder-api/internal/model"
	apperrors "github.com/meditrack/reminder-api/pkg/errors"
)

// PushSender posts to the push gateway, which fans out to the actual
// provider. Provider SDK details stay behind the gateway.
type PushSender struct {
	gatewayURL string
	apiKey     string
	client     *http.Client
}

func NewPushSender(cfg config.PushConfig) *PushSender {
	return &PushSender{
		gatewayURL: cfg.GatewayURL,
		apiKey:     cfg.APIKey,
		client:     &http.Client{},
	}
}

type pushPayload struct {
	Token string        `json:"token"`
	Title string        `json:"title"`
	Body  string        `json:"body"`
	Data  model.JSONMap `json:"data,omitempty"`
}

func (s *PushSender) Send(ctx context.Context, recipient, title, body string, data model.JSONMap) error {
	if recipient == "" {
		return apperrors.NewValidation("push token is empty", nil)
	}

	payload, err := json.Marshal(pushPayload{
		Token: recipient,
		Title: title,
		Body:  body,
		Data:  data,
	})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return apperrors.NewChannel("push", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return apperrors.NewChannel("push", fmt.Errorf("gateway returned %d", resp.StatusCode))
	}
	return nil
}
