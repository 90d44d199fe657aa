// Package instagram sends direct messages through a Graph-style messaging
// gateway. The account identifier is the sending account's page ID.
package instagram

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

type sendRequest struct {
	Recipient recipient `json:"recipient"`
	Message   message   `json:"message"`
}

type recipient struct {
	ID string `json:"id"`
}

type message struct {
	Text string `json:"text"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Error     *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Channel() models.Channel {
	return models.ChannelInstagramDM
}

func (c *Client) Send(ctx context.Context, accountIdentifier, recipientKey string, payload models.Payload) (*sender.Result, error) {
	ig := payload.Instagram
	if ig == nil {
		return &sender.Result{
			Category: sender.CategoryPermanent,
			Message:  "payload is not an instagram payload",
		}, nil
	}

	body := sendRequest{
		Recipient: recipient{ID: recipientKey},
		Message:   message{Text: ig.Text},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, accountIdentifier)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var decoded sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && resp.StatusCode < 300 {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	category := sender.CategoryForStatus(resp.StatusCode)
	result := &sender.Result{
		Category:  category,
		MessageID: decoded.MessageID,
	}
	if category != sender.CategorySuccess {
		detail := ""
		if decoded.Error != nil {
			detail = decoded.Error.Message
		}
		result.Message = fmt.Sprintf("gateway returned status %d: %s", resp.StatusCode, detail)
	}
	return result, nil
}
