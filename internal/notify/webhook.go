package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/spec-kit/sla-service/pkg/util/errorutil"
)

// WebhookTransport POSTs JSON messages with a bounded timeout and a shared
// outbound rate limit.
type WebhookTransport struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewWebhookTransport builds a transport. perSecond <= 0 disables limiting.
func NewWebhookTransport(timeout time.Duration, perSecond float64) *WebhookTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = int(perSecond) + 1
	}
	return &WebhookTransport{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
	}
}

// PostMessage sends msg to target, overriding its channel.
func (t *WebhookTransport) PostMessage(ctx context.Context, target, channel string, msg Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return apperrors.NewNotificationError("notification rate limit wait aborted", err)
	}

	msg.Channel = channel
	body, err := json.Marshal(msg)
	if err != nil {
		return apperrors.NewNotificationError("encode notification", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return apperrors.NewNotificationError("build notification request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return apperrors.NewNotificationError("notification request failed", err)
	}
	defer func() { _, _ = io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.NewNotificationError(fmt.Sprintf("webhook returned %d", resp.StatusCode), nil)
	}
	return nil
}
