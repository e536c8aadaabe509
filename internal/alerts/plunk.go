package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultPlunkURL = "https://api.useplunk.com/v1/send"

// PlunkConfig holds the Plunk transactional API settings.
type PlunkConfig struct {
	APIKey  string
	From    string
	APIURL  string
	ReplyTo string
}

// PlunkMailer sends mail through the Plunk HTTP API.
type PlunkMailer struct {
	cfg    PlunkConfig
	client *http.Client
}

// NewPlunkMailer returns a mailer; a nil client gets a 10s timeout default.
func NewPlunkMailer(cfg PlunkConfig, client *http.Client) (*PlunkMailer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("plunk not configured: set PLUNK_API_KEY")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultPlunkURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &PlunkMailer{cfg: cfg, client: client}, nil
}

type plunkSendBody struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	From    string `json:"from,omitempty"`
	Reply   string `json:"reply,omitempty"`
}

// Send performs the HTTP request to the Plunk API.
func (m *PlunkMailer) Send(ctx context.Context, env EmailEnvelope) error {
	b, err := json.Marshal(plunkSendBody{
		To:      env.To,
		Subject: env.Subject,
		Body:    env.Body,
		From:    m.cfg.From,
		Reply:   m.cfg.ReplyTo,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.APIURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if msg, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096)); readErr == nil && len(msg) > 0 {
			return fmt.Errorf("plunk send failed: status=%d body=%s", resp.StatusCode, msg)
		}
		return fmt.Errorf("plunk send failed: status=%d", resp.StatusCode)
	}
	return nil
}
