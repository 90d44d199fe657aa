package validation

import (
	"fmt"
	"strings"
	"unicode"

	"herald/internal/constants"
	"herald/internal/errors"
	"herald/internal/models"
)

// ValidateJobDraft enforces the enqueue contract: a known channel, a
// recipient key shaped for that channel, and a payload variant that
// matches the channel and its size limits. Invalid drafts are rejected
// before anything is stored.
func ValidateJobDraft(draft models.JobDraft) error {
	if !draft.Channel.Valid() {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown channel: %s", draft.Channel))
	}

	if draft.CampaignID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "campaign ID cannot be empty")
	}
	if len(draft.CampaignID) > constants.MaxCampaignIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("campaign ID too long (max %d characters)", constants.MaxCampaignIDLength))
	}

	if err := ValidateRecipientKey(draft.Channel, draft.RecipientKey); err != nil {
		return err
	}

	if draft.MaxAttempts < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "max attempts must be non-negative")
	}

	return ValidatePayload(draft.Channel, draft.Payload)
}

// ValidateRecipientKey checks the channel-specific recipient format: a
// phone number for WhatsApp, a handle or user ID for Instagram.
func ValidateRecipientKey(channel models.Channel, recipientKey string) error {
	if recipientKey == "" {
		return errors.New(errors.ErrCodeInvalidInput, "recipient key cannot be empty")
	}
	if len(recipientKey) > constants.MaxRecipientKeyLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("recipient key too long (max %d characters)", constants.MaxRecipientKeyLength))
	}

	switch channel {
	case models.ChannelWhatsApp:
		return validatePhoneNumber(recipientKey)
	case models.ChannelInstagramDM:
		return validateHandle(recipientKey)
	}
	return nil
}

// ValidatePayload checks that exactly the channel's variant is set and
// within its size bounds.
func ValidatePayload(channel models.Channel, payload models.Payload) error {
	if payload.Empty() {
		return errors.New(errors.ErrCodeInvalidInput, "payload cannot be empty")
	}

	variant, err := payload.Variant()
	if err != nil {
		return errors.New(errors.ErrCodeInvalidInput, err.Error())
	}
	if variant != channel {
		return errors.New(errors.ErrCodeValidationFailed,
			fmt.Sprintf("payload variant %s does not match channel %s", variant, channel))
	}

	switch channel {
	case models.ChannelWhatsApp:
		wa := payload.WhatsApp
		if wa.Text == "" && wa.MediaURL == "" {
			return errors.New(errors.ErrCodeValidationFailed, "whatsapp payload needs text or media")
		}
		if len(wa.Text) > constants.MaxWhatsAppTextLength {
			return errors.New(errors.ErrCodeValidationFailed,
				fmt.Sprintf("whatsapp text too long (max %d characters)", constants.MaxWhatsAppTextLength))
		}
		if wa.MediaURL != "" && !strings.HasPrefix(wa.MediaURL, "https://") {
			return errors.New(errors.ErrCodeValidationFailed, "media URL must use https")
		}
	case models.ChannelInstagramDM:
		ig := payload.Instagram
		if ig.Text == "" {
			return errors.New(errors.ErrCodeValidationFailed, "instagram payload needs text")
		}
		if len(ig.Text) > constants.MaxInstagramTextLength {
			return errors.New(errors.ErrCodeValidationFailed,
				fmt.Sprintf("instagram text too long (max %d characters)", constants.MaxInstagramTextLength))
		}
	}
	return nil
}

// ValidateSessionDraft checks an onboarding request.
func ValidateSessionDraft(draft models.SessionDraft) error {
	if !draft.Channel.Valid() {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown channel: %s", draft.Channel))
	}
	if draft.AccountIdentifier == "" {
		return errors.New(errors.ErrCodeInvalidInput, "account identifier cannot be empty")
	}
	if len(draft.AccountIdentifier) > constants.MaxAccountIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("account identifier too long (max %d characters)", constants.MaxAccountIDLength))
	}
	if draft.HourlyLimit < 0 || draft.DailyLimit < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "limits must be non-negative")
	}
	if len(draft.WarmupCurve) > 0 {
		if err := draft.WarmupCurve.Validate(); err != nil {
			return errors.New(errors.ErrCodeInvalidInput, err.Error())
		}
	}
	return nil
}

func validatePhoneNumber(phone string) error {
	cleaned := strings.TrimPrefix(phone, "+")

	if len(cleaned) < constants.MinPhoneNumberLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("phone number must be at least %d digits", constants.MinPhoneNumberLength))
	}
	if len(cleaned) > 20 {
		return errors.New(errors.ErrCodeInvalidInput, "phone number too long (max 20 digits)")
	}

	for _, char := range cleaned {
		if !unicode.IsDigit(char) {
			return errors.New(errors.ErrCodeInvalidInput, "phone number must contain only digits")
		}
	}
	return nil
}

func validateHandle(handle string) error {
	cleaned := strings.TrimPrefix(handle, "@")
	if cleaned == "" {
		return errors.New(errors.ErrCodeInvalidInput, "handle cannot be empty")
	}
	for _, char := range cleaned {
		if !unicode.IsLetter(char) && !unicode.IsDigit(char) && char != '_' && char != '.' {
			return errors.New(errors.ErrCodeInvalidInput,
				"handle must contain only letters, numbers, underscores, and dots")
		}
	}
	return nil
}
