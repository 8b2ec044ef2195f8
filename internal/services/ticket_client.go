package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrTicketingDisabled = errors.New("ticketing client is not configured")

// Ticket types
const (
	TicketTypeIncident = "incident"
	TicketTypeQuestion = "question"
	TicketTypeProblem  = "problem"
)

type Ticket struct {
	Subject    string `json:"subject"`
	Message    string `json:"message"`
	TicketType string `json:"ticket_type"`
	P1         bool   `json:"p1"`
}

type Ticketer interface {
	SendTicket(ctx context.Context, ticket Ticket) error
}

// TicketClient posts tickets to the support desk API.
type TicketClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *zap.Logger
}

func NewTicketClient(baseURL, apiKey string, timeout time.Duration, log *zap.Logger) *TicketClient {
	return &TicketClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

func (c *TicketClient) SendTicket(ctx context.Context, ticket Ticket) error {
	if c.baseURL == "" {
		return ErrTicketingDisabled
	}

	body, err := json.Marshal(ticket)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/v2/tickets", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ticketing service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ticketing service returned %d: %s", resp.StatusCode, string(b))
	}

	c.log.Info("ticket created", zap.String("subject", ticket.Subject), zap.String("ticket_type", ticket.TicketType))
	return nil
}
