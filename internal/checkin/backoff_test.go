package checkin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 1 * time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{3, 8 * time.Minute},
		{4, 16 * time.Minute},
		{5, 30 * time.Minute},
		{6, 30 * time.Minute},
		{100, 30 * time.Minute},
		{-1, 1 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BackoffDelay(tt.retryCount), "retryCount=%d", tt.retryCount)
	}
}
