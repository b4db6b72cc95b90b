package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BurstThenBlocked(t *testing.T) {
	l := newLimiter(3, time.Second)

	for i := 0; i < 3; i++ {
		assert.True(t, l.allow(), "frame %d within burst", i)
	}
	assert.False(t, l.allow())
}

func TestLimiter_RefillsOverTime(t *testing.T) {
	l := newLimiter(2, 100*time.Millisecond)

	require.True(t, l.allow())
	require.True(t, l.allow())
	require.False(t, l.allow())

	time.Sleep(120 * time.Millisecond)
	assert.True(t, l.allow())
}

func TestLimiter_IdleDoesNotBankTokens(t *testing.T) {
	l := newLimiter(2, 100*time.Millisecond)

	time.Sleep(250 * time.Millisecond)
	require.True(t, l.allow())

	l.mu.Lock()
	tokens := l.tokens
	l.mu.Unlock()
	assert.Less(t, tokens, 2.0, "tokens must cap at the burst size")
}

func TestNewLimiter_DisabledSettings(t *testing.T) {
	assert.Nil(t, newLimiter(0, time.Second))
	assert.Nil(t, newLimiter(-1, time.Second))
	assert.Nil(t, newLimiter(5, 0))
}
