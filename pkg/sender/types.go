// Package sender defines the provider-facing contract for delivering one
// message through a sending account, plus the outcome taxonomy the
// dispatcher acts on.
package sender

import (
	"context"

	"herald/internal/models"
)

// Category classifies a send outcome.
type Category string

const (
	CategorySuccess     Category = "success"
	CategoryTransient   Category = "transient_error"
	CategoryPermanent   Category = "permanent_error"
	CategoryAuth        Category = "auth_error"
	CategoryRateLimited Category = "rate_limited"
)

// Result is the provider's answer to a send attempt. RateLimited is a
// transient outcome that additionally cools the session down.
type Result struct {
	Category  Category `json:"category"`
	MessageID string   `json:"messageId,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// Retryable reports whether the outcome should re-enter the backoff path.
func (r *Result) Retryable() bool {
	return r.Category == CategoryTransient || r.Category == CategoryRateLimited
}

// Sender delivers a payload to a recipient through a specific provider
// account. Implementations classify their own failures; a returned error
// means the provider could not be reached at all and is treated as
// transient.
type Sender interface {
	Channel() models.Channel
	Send(ctx context.Context, accountIdentifier, recipientKey string, payload models.Payload) (*Result, error)
}

// CategoryForStatus maps an HTTP status from a provider gateway to an
// outcome category. Shared by the channel clients.
func CategoryForStatus(status int) Category {
	switch {
	case status >= 200 && status < 300:
		return CategorySuccess
	case status == 401 || status == 403:
		return CategoryAuth
	case status == 429:
		return CategoryRateLimited
	case status >= 400 && status < 500:
		return CategoryPermanent
	}
	return CategoryTransient
}
