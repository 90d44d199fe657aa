package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWarmupCurveValidate(t *testing.T) {
	tests := []struct {
		name    string
		curve   WarmupCurve
		wantErr bool
	}{
		{
			name:  "valid curve",
			curve: WarmupCurve{{Day: 0, Volume: 20}, {Day: 2, Volume: 40}},
		},
		{
			name:  "single step",
			curve: WarmupCurve{{Day: 0, Volume: 100}},
		},
		{
			name:  "flat volumes allowed",
			curve: WarmupCurve{{Day: 0, Volume: 50}, {Day: 3, Volume: 50}},
		},
		{
			name:    "empty",
			curve:   WarmupCurve{},
			wantErr: true,
		},
		{
			name:    "duplicate day",
			curve:   WarmupCurve{{Day: 1, Volume: 20}, {Day: 1, Volume: 40}},
			wantErr: true,
		},
		{
			name:    "days out of order",
			curve:   WarmupCurve{{Day: 5, Volume: 20}, {Day: 2, Volume: 40}},
			wantErr: true,
		},
		{
			name:    "decreasing volume",
			curve:   WarmupCurve{{Day: 0, Volume: 40}, {Day: 2, Volume: 20}},
			wantErr: true,
		},
		{
			name:    "negative day",
			curve:   WarmupCurve{{Day: -1, Volume: 20}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.curve.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWarmupCurveEncodeDecode(t *testing.T) {
	curve := WarmupCurve{{Day: 0, Volume: 20}, {Day: 4, Volume: 100}}

	raw, err := curve.Encode()
	require.NoError(t, err)

	decoded, err := DecodeWarmupCurve(raw)
	require.NoError(t, err)
	assert.Equal(t, curve, decoded)

	empty, err := DecodeWarmupCurve("")
	require.NoError(t, err)
	assert.Nil(t, empty)
}
