package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonotonicTimestamp_UnsetByDefault(t *testing.T) {
	m := NewMonotonicTimestamp()
	_, set := m.Get()
	assert.False(t, set)
}

func TestMonotonicTimestamp_FirstAdvanceAlwaysSucceeds(t *testing.T) {
	m := NewMonotonicTimestamp()
	now := time.Now()
	assert.True(t, m.Advance(now))
	got, set := m.Get()
	assert.True(t, set)
	assert.Equal(t, now, got)
}

func TestMonotonicTimestamp_NeverMovesBackward(t *testing.T) {
	m := NewMonotonicTimestamp()
	later := time.Now()
	earlier := later.Add(-time.Minute)

	assert.True(t, m.Advance(later))
	assert.False(t, m.Advance(earlier), "an older timestamp must not move the tracker backward")

	got, _ := m.Get()
	assert.Equal(t, later, got)
}

func TestMonotonicTimestamp_EqualTimestampDoesNotAdvance(t *testing.T) {
	m := NewMonotonicTimestamp()
	now := time.Now()
	assert.True(t, m.Advance(now))
	assert.False(t, m.Advance(now))
}

func TestMonotonicTimestamp_ConcurrentAdvanceConvergesOnMax(t *testing.T) {
	m := NewMonotonicTimestamp()
	base := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Advance(base.Add(time.Duration(i) * time.Second))
		}(i)
	}
	wg.Wait()

	got, set := m.Get()
	assert.True(t, set)
	assert.Equal(t, base.Add(49*time.Second), got)
}
