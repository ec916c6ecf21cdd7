package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/tenantwatch/argus/internal/httpclient"
)

type ProgressUpdate struct {
	RunID    string `json:"run_id"`
	TenantID string `json:"tenant_id"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}

// ProgressBroadcaster posts run status transitions to a configured webhook.
// With an empty webhook URL every broadcast is a no-op, so callers never
// need to guard the calls.
type ProgressBroadcaster struct {
	webhookURL string
	token      string
	httpClient *http.Client
	mu         sync.Mutex
}

func NewProgressBroadcaster(webhookURL, token string) *ProgressBroadcaster {
	return &ProgressBroadcaster{
		webhookURL: webhookURL,
		token:      token,
		httpClient: httpclient.NewInstrumentedClient(0),
	}
}

func (b *ProgressBroadcaster) Broadcast(ctx context.Context, update ProgressUpdate) error {
	if b == nil || b.webhookURL == "" {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	payload := map[string]interface{}{
		"event":   "run.status",
		"payload": update,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast payload: %w", err)
	}

	ctx = httpclient.WithTarget(ctx, "webhook")

	req, err := http.NewRequestWithContext(ctx, "POST", b.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to broadcast: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("broadcast failed with status %d", resp.StatusCode)
	}

	return nil
}
