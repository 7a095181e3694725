package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDateOfUsesIST(t *testing.T) {
	// 20:00 UTC is already the next day in India.
	utc := time.Date(2024, 3, 31, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-04-01", DateOf(utc))

	early := time.Date(2024, 3, 31, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-31", DateOf(early))
}

func TestFixedClock(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, IST)
	clock := FixedClock(at)
	assert.True(t, at.Equal(clock()))
}
