package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *clock) {
	clk := &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New("bridge", threshold, cooldown)
	b.nowFn = clk.Now
	return b, clk
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, clk := newTestBreaker(2, time.Minute)
	boom := errors.New("boom")

	assert.ErrorIs(t, b.Do(func() error { return boom }, nil), boom)
	assert.Equal(t, StateClosed, b.State())
	assert.ErrorIs(t, b.Do(func() error { return boom }, nil), boom)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Do(func() error { called = true; return nil }, nil)
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)

	clk.now = clk.now.Add(2 * time.Minute)
	assert.NoError(t, b.Do(func() error { return nil }, nil))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerIgnoresUncountedErrors(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	notFound := errors.New("not found")
	for i := 0; i < 3; i++ {
		err := b.Do(func() error { return notFound }, func(err error) bool { return !errors.Is(err, notFound) })
		assert.ErrorIs(t, err, notFound)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)
	boom := errors.New("boom")
	_ = b.Do(func() error { return boom }, nil)
	_ = b.Do(func() error { return nil }, nil)
	_ = b.Do(func() error { return boom }, nil)
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenAllowsSingleProbe(t *testing.T) {
	b, clk := newTestBreaker(1, time.Second)
	boom := errors.New("boom")
	_ = b.Do(func() error { return boom }, nil)
	require.Equal(t, StateOpen, b.State())
	clk.now = clk.now.Add(2 * time.Second)

	err := b.Do(func() error {
		assert.Equal(t, StateHalfOpen, b.State())
		assert.ErrorIs(t, b.Do(func() error { return nil }, nil), ErrOpen)
		return boom
	}, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Do(func() error { return nil }, nil), ErrOpen)
}

func TestStateChangeCallback(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	var seen []State
	b.OnStateChange(func(name string, from, to State) {
		assert.Equal(t, "bridge", name)
		seen = append(seen, to)
	})
	_ = b.Do(func() error { return errors.New("boom") }, nil)
	assert.Equal(t, []State{StateOpen}, seen)
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "UNKNOWN", State(9).String())
}
