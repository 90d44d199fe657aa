// Package classify adapts an external intent classification service. The
// dispatch engine only cares whether an inbound reply is an opt-out; every
// other intent passes through opaquely.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"herald/internal/models"
)

// Classifier turns inbound reply text into an intent.
type Classifier interface {
	Classify(ctx context.Context, text string) (models.Intent, error)
}

// HTTPClassifier calls an external classification service.
type HTTPClassifier struct {
	serviceURL string
	client     *http.Client
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Intent string `json:"intent"`
}

func NewHTTPClassifier(serviceURL string, timeout time.Duration) *HTTPClassifier {
	return &HTTPClassifier{
		serviceURL: serviceURL,
		client:     &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClassifier) Classify(ctx context.Context, text string) (models.Intent, error) {
	jsonData, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return models.IntentUnknown, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return models.IntentUnknown, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return models.IntentUnknown, fmt.Errorf("classification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.IntentUnknown, fmt.Errorf("classification service returned status %d", resp.StatusCode)
	}

	var decoded classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return models.IntentUnknown, fmt.Errorf("failed to decode response: %w", err)
	}

	if decoded.Intent == "" {
		return models.IntentUnknown, nil
	}
	return models.Intent(decoded.Intent), nil
}

// KeywordClassifier is the fallback used when no classification service is
// configured. It only recognizes unambiguous opt-out phrasing.
type KeywordClassifier struct{}

var optOutKeywords = []string{
	"stop", "unsubscribe", "opt out", "opt-out", "remove me", "no more messages",
}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

func (c *KeywordClassifier) Classify(_ context.Context, text string) (models.Intent, error) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, keyword := range optOutKeywords {
		if normalized == keyword || strings.HasPrefix(normalized, keyword+" ") {
			return models.IntentOptOut, nil
		}
	}
	return models.IntentUnknown, nil
}
