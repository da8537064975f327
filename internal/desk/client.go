package desk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Ticket mirrors the gateway's ticket document.
type Ticket struct {
	TicketID    string `json:"ticket_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Category    string `json:"category"`
	Status      string `json:"status"`
	User        string `json:"user"`
	Resolution  string `json:"resolution"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Client talks to the service-desk gateway's REST surface.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// SessionSecret requests a short-lived client secret used as the bearer
// token when dialing the realtime endpoint.
func (c *Client) SessionSecret(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/session", strings.NewReader("{}"))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request session secret: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("session secret endpoint returned %s", resp.Status)
	}

	var payload struct {
		Value  string `json:"value"`
		Client struct {
			Secret string `json:"secret"`
		} `json:"client_secret"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode session secret: %w", err)
	}
	if payload.Value != "" {
		return payload.Value, nil
	}
	if payload.Client.Secret != "" {
		return payload.Client.Secret, nil
	}
	return "", fmt.Errorf("session secret response missing secret")
}

// ListTickets fetches tickets, optionally filtered by status ("all" or
// empty means no filter).
func (c *Client) ListTickets(ctx context.Context, status string) ([]Ticket, error) {
	endpoint := c.baseURL + "/api/tickets"
	if status != "" && status != "all" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ticket endpoint returned %s", resp.Status)
	}

	var tickets []Ticket
	if err := json.NewDecoder(resp.Body).Decode(&tickets); err != nil {
		return nil, fmt.Errorf("decode tickets: %w", err)
	}
	return tickets, nil
}
