package models

import (
	"encoding/json"
	"fmt"
)

// WarmupCurve maps a session's age in days to its maximum daily volume.
// Entries must be sorted by day and non-decreasing in volume; past the last
// entry the final plateau value applies. Read-only after definition.
type WarmupCurve []WarmupStep

// WarmupStep is one point on a warm-up curve.
type WarmupStep struct {
	Day    int `json:"day"`
	Volume int `json:"volume"`
}

// Validate enforces ordering and monotonicity.
func (c WarmupCurve) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("warmup curve must have at least one step")
	}
	for i, step := range c {
		if step.Day < 0 {
			return fmt.Errorf("warmup step %d: day must be non-negative", i)
		}
		if step.Volume < 0 {
			return fmt.Errorf("warmup step %d: volume must be non-negative", i)
		}
		if i > 0 {
			if step.Day <= c[i-1].Day {
				return fmt.Errorf("warmup step %d: days must be strictly increasing", i)
			}
			if step.Volume < c[i-1].Volume {
				return fmt.Errorf("warmup step %d: volumes must be non-decreasing", i)
			}
		}
	}
	return nil
}

// VolumeForDay returns the curve value for the given age in days. Days
// before the first step use the first step's volume; days past the last
// step stay at the final plateau.
func (c WarmupCurve) VolumeForDay(day int) int {
	if len(c) == 0 {
		return 0
	}
	volume := c[0].Volume
	for _, step := range c {
		if day < step.Day {
			break
		}
		volume = step.Volume
	}
	return volume
}

// Encode serializes the curve for storage.
func (c WarmupCurve) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode warmup curve: %w", err)
	}
	return string(data), nil
}

// DecodeWarmupCurve deserializes a stored curve.
func DecodeWarmupCurve(raw string) (WarmupCurve, error) {
	if raw == "" {
		return nil, nil
	}
	var c WarmupCurve
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("failed to decode warmup curve: %w", err)
	}
	return c, nil
}
