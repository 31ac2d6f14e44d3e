package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Gateway forwards send requests to an external messenger automation
// gateway over HTTP. The gateway owns the actual WhatsApp and Telegram
// sessions; Herald only hands it work and reads back the verdict.
type Gateway struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewGateway creates a driver talking to the given gateway base URL.
// token is sent as a bearer token when non-empty.
func NewGateway(baseURL, token string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type gatewaySendRequest struct {
	ProfileID string `json:"profile_id"`
	ContactID string `json:"contact_id"`
	PhoneID   string `json:"phone_id"`
	Channel   string `json:"channel"`
	Template  string `json:"template"`
}

type gatewaySendResponse struct {
	Delivered     bool   `json:"delivered"`
	Error         string `json:"error,omitempty"`
	LoginRequired bool   `json:"login_required,omitempty"`
}

// Send posts one attempt to the gateway and reports its verdict
func (g *Gateway) Send(ctx context.Context, req Request) (Outcome, error) {
	body, err := json.Marshal(gatewaySendRequest{
		ProfileID: req.ProfileID,
		ContactID: req.ContactID,
		PhoneID:   req.PhoneID,
		Channel:   string(req.Channel),
		Template:  req.Template,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to encode send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/send", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to build send request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Outcome{}, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Read a little of the body for the error message
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Outcome{}, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out gatewaySendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Outcome{}, fmt.Errorf("failed to decode gateway response: %w", err)
	}

	return Outcome{Delivered: out.Delivered, Err: out.Error, LoginRequired: out.LoginRequired}, nil
}
