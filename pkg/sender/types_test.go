package sender

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Category
	}{
		{200, CategorySuccess},
		{201, CategorySuccess},
		{204, CategorySuccess},
		{400, CategoryPermanent},
		{401, CategoryAuth},
		{403, CategoryAuth},
		{404, CategoryPermanent},
		{422, CategoryPermanent},
		{429, CategoryRateLimited},
		{500, CategoryTransient},
		{502, CategoryTransient},
		{503, CategoryTransient},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CategoryForStatus(tt.status), "status %d", tt.status)
	}
}

func TestResultRetryable(t *testing.T) {
	assert.True(t, (&Result{Category: CategoryTransient}).Retryable())
	assert.True(t, (&Result{Category: CategoryRateLimited}).Retryable())
	assert.False(t, (&Result{Category: CategorySuccess}).Retryable())
	assert.False(t, (&Result{Category: CategoryPermanent}).Retryable())
	assert.False(t, (&Result{Category: CategoryAuth}).Retryable())
}
