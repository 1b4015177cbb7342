package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMock(t *testing.T) {
	start := time.Date(2024, 3, 15, 23, 59, 0, 0, time.UTC)
	m := NewMock(start)
	assert.Equal(t, start, m.Now())

	m.Advance(2 * time.Minute)
	assert.Equal(t, time.Date(2024, 3, 16, 0, 1, 0, 0, time.UTC), m.Now())

	m.SetNow(start)
	assert.Equal(t, start, m.Now())
}
