package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alphagov/notifications-api-sub002/internal/models"
	"go.uber.org/zap"
)

// Providers recorded against a sent event.
const (
	ProviderCBCProxy = "cbc-proxy"
	ProviderLogOnly  = "log-only"
)

type CBCSender interface {
	SendCAP(ctx context.Context, ev *models.BroadcastEvent, document []byte) error
	Provider() string
}

// CBCClient hands CAP documents to the cell broadcast proxy. With no base URL
// it only logs what it would have sent.
type CBCClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewCBCClient(baseURL string, timeout time.Duration, log *zap.Logger) *CBCClient {
	return &CBCClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

func (c *CBCClient) Provider() string {
	if c.baseURL == "" {
		return ProviderLogOnly
	}
	return ProviderCBCProxy
}

func (c *CBCClient) SendCAP(ctx context.Context, ev *models.BroadcastEvent, document []byte) error {
	if c.baseURL == "" {
		c.log.Info("cbc proxy not configured, broadcast logged only",
			zap.String("broadcast_event_id", ev.ID.String()),
			zap.String("message_type", string(ev.MessageType)),
			zap.Int("cap_bytes", len(document)),
		)
		return nil
	}

	url := fmt.Sprintf("%s/broadcasts/%s", c.baseURL, ev.MessageType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(document))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/cap+xml")
	req.Header.Set("X-Broadcast-Event-Id", ev.ID.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cbc proxy unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("cbc proxy returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
