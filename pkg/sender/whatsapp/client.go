// Package whatsapp sends outbound messages through a WAHA-compatible
// WhatsApp HTTP gateway. The account identifier is the gateway session
// name.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"herald/internal/models"
	"herald/pkg/sender"
)

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type sendTextRequest struct {
	Session string `json:"session"`
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
}

type sendMediaRequest struct {
	Session string    `json:"session"`
	ChatID  string    `json:"chatId"`
	Caption string    `json:"caption,omitempty"`
	File    mediaFile `json:"file"`
}

type mediaFile struct {
	URL      string `json:"url"`
	MimeType string `json:"mimetype,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error,omitempty"`
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Channel() models.Channel {
	return models.ChannelWhatsApp
}

func (c *Client) Send(ctx context.Context, accountIdentifier, recipientKey string, payload models.Payload) (*sender.Result, error) {
	wa := payload.WhatsApp
	if wa == nil {
		return &sender.Result{
			Category: sender.CategoryPermanent,
			Message:  "payload is not a whatsapp payload",
		}, nil
	}

	chatID := recipientKey + "@c.us"

	if wa.MediaURL != "" {
		return c.post(ctx, "/api/sendImage", sendMediaRequest{
			Session: accountIdentifier,
			ChatID:  chatID,
			Caption: wa.Text,
			File:    mediaFile{URL: wa.MediaURL, MimeType: wa.MediaMime},
		})
	}

	return c.post(ctx, "/api/sendText", sendTextRequest{
		Session: accountIdentifier,
		ChatID:  chatID,
		Text:    wa.Text,
	})
}

func (c *Client) post(ctx context.Context, endpoint string, payload interface{}) (*sender.Result, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var body sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil && resp.StatusCode < 300 {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	category := sender.CategoryForStatus(resp.StatusCode)
	result := &sender.Result{
		Category:  category,
		MessageID: body.MessageID,
	}
	if category != sender.CategorySuccess {
		result.Message = fmt.Sprintf("gateway returned status %d: %s", resp.StatusCode, body.Error)
	}
	return result, nil
}
