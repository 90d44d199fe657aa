package models

import (
	"encoding/json"
	"fmt"
)

// Payload is the channel-tagged message body. Exactly one variant is set,
// matching the job's channel.
type Payload struct {
	WhatsApp  *WhatsAppPayload  `json:"whatsapp,omitempty"`
	Instagram *InstagramPayload `json:"instagram,omitempty"`
}

// WhatsAppPayload carries text and an optional media reference.
type WhatsAppPayload struct {
	Text      string `json:"text,omitempty"`
	MediaURL  string `json:"mediaUrl,omitempty"`
	MediaMime string `json:"mediaMime,omitempty"`
}

// InstagramPayload carries a plain text direct message.
type InstagramPayload struct {
	Text string `json:"text"`
}

// Variant returns the channel the payload is shaped for, or an error when
// the tagged union is empty or ambiguous.
func (p Payload) Variant() (Channel, error) {
	switch {
	case p.WhatsApp != nil && p.Instagram != nil:
		return "", fmt.Errorf("payload sets more than one channel variant")
	case p.WhatsApp != nil:
		return ChannelWhatsApp, nil
	case p.Instagram != nil:
		return ChannelInstagramDM, nil
	}
	return "", fmt.Errorf("payload is empty")
}

// Empty reports whether no variant is set.
func (p Payload) Empty() bool {
	return p.WhatsApp == nil && p.Instagram == nil
}

// Encode serializes the payload for storage.
func (p Payload) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(data), nil
}

// DecodePayload deserializes a stored payload.
func DecodePayload(raw string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Payload{}, fmt.Errorf("failed to decode payload: %w", err)
	}
	return p, nil
}
