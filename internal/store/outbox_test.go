package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextRetryTime(t *testing.T) {
	now := time.Now()

	first := nextRetryTime(1)
	assert.WithinDuration(t, now.Add(2*time.Second), first, time.Second)

	third := nextRetryTime(3)
	assert.WithinDuration(t, now.Add(8*time.Second), third, time.Second)

	// Backoff is capped at five minutes.
	capped := nextRetryTime(20)
	assert.WithinDuration(t, now.Add(5*time.Minute), capped, time.Second)
}
