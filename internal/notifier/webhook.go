package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pilot-net/urlcheck/internal/secrets"
	"github.com/pilot-net/urlcheck/pkg/types"
)

// WebhookSender posts a markdown-formatted alert to a chat webhook
// (dingtalk-style: access_token passed as a query parameter).
type WebhookSender struct {
	webhookURL  string
	tokenSecretRef string
	credentials secrets.CredentialStore
	client      *http.Client
}

// NewWebhookSender builds a sender against webhookURL. If tokenSecretRef is
// set, the resolved credential is appended as the access_token query
// parameter on every send (resolved fresh each time so credential rotation
// takes effect without a restart).
func NewWebhookSender(webhookURL, tokenSecretRef string, credentials secrets.CredentialStore) *WebhookSender {
	return &WebhookSender{
		webhookURL:     webhookURL,
		tokenSecretRef: tokenSecretRef,
		credentials:    credentials,
		client:         &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookSender) Kind() types.ChannelKind { return types.ChannelDingding }

type webhookPayload struct {
	MsgType  string `json:"msgtype"`
	Markdown struct {
		Title string `json:"title"`
		Text  string `json:"text"`
	} `json:"markdown"`
}

// SendReport posts an ad-hoc subject/body pair to the webhook, used by the
// report generator rather than the per-event alert path.
func (w *WebhookSender) SendReport(ctx context.Context, subject, body string) error {
	var payload webhookPayload
	payload.MsgType = "markdown"
	payload.Markdown.Title = subject
	payload.Markdown.Text = body

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling report payload: %w", err)
	}

	target := w.webhookURL
	if w.tokenSecretRef != "" && w.credentials != nil {
		token, err := w.credentials.GetSecret(ctx, w.tokenSecretRef)
		if err != nil {
			return fmt.Errorf("resolving webhook token: %w", err)
		}
		u, err := url.Parse(w.webhookURL)
		if err != nil {
			return fmt.Errorf("parsing webhook url: %w", err)
		}
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
		target = u.String()
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("report webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Send posts the event to the configured webhook with a 10-second timeout.
func (w *WebhookSender) Send(ctx context.Context, event types.AlertEvent) error {
	target := w.webhookURL
	if w.tokenSecretRef != "" && w.credentials != nil {
		token, err := w.credentials.GetSecret(ctx, w.tokenSecretRef)
		if err != nil {
			return fmt.Errorf("resolving webhook token: %w", err)
		}
		u, err := url.Parse(w.webhookURL)
		if err != nil {
			return fmt.Errorf("parsing webhook url: %w", err)
		}
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
		target = u.String()
	}

	var payload webhookPayload
	payload.MsgType = "markdown"
	payload.Markdown.Title = string(event.Kind) + " " + event.TaskName
	payload.Markdown.Text = event.Message

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
