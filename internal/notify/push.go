package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrPushRejected = errors.New("push gateway rejected message")

// TokenSource looks up the device token registered for a patient. An empty
// token means the patient has no device and is not notified.
type TokenSource interface {
	GetDeviceToken(ctx context.Context, patientID uuid.UUID) (string, error)
}

// PushSender delivers notifications through an FCM-style HTTP push gateway
type PushSender struct {
	endpoint   string
	serverKey  string
	tokens     TokenSource
	httpClient *http.Client
	log        zerolog.Logger
}

// NewPushSender creates a new push sender
func NewPushSender(endpoint, serverKey string, tokens TokenSource, logger zerolog.Logger) (*PushSender, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("push endpoint must be set")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source must be set")
	}

	return &PushSender{
		endpoint:  endpoint,
		serverKey: serverKey,
		tokens:    tokens,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: logger,
	}, nil
}

// PushMessage is the request body sent to the gateway
type PushMessage struct {
	To           string           `json:"to"`
	Notification PushNotification `json:"notification"`
}

// PushNotification is the visible part of a push message
type PushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// PushResponse represents the gateway response
type PushResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

// Send pushes title and body to the patient's registered device.
func (p *PushSender) Send(ctx context.Context, patientID uuid.UUID, title, body string) error {
	token, err := p.tokens.GetDeviceToken(ctx, patientID)
	if err != nil {
		return fmt.Errorf("lookup device token: %w", err)
	}
	if token == "" {
		p.log.Debug().Str("patient_id", patientID.String()).Msg("no device token, skipping push")
		return nil
	}

	message := PushMessage{
		To: token,
		Notification: PushNotification{
			Title: title,
			Body:  body,
		},
	}
	return p.sendMessage(ctx, message)
}

func (p *PushSender) sendMessage(ctx context.Context, message PushMessage) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if p.serverKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.serverKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w (status %d): %s", ErrPushRejected, resp.StatusCode, string(body))
	}

	var pushResp PushResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &pushResp); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	if pushResp.Failure > 0 {
		reason := "unknown"
		if len(pushResp.Results) > 0 && pushResp.Results[0].Error != "" {
			reason = pushResp.Results[0].Error
		}
		return fmt.Errorf("%w: %s", ErrPushRejected, reason)
	}

	return nil
}
