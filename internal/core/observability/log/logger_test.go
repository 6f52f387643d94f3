package log

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"":        LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
	}
	for input, want := range cases {
		got, err := ParseLevel(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLogger_LevelFiltering(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewWithCore(core, LevelWarn)

	logger.Info("dropped")
	logger.Warn("kept", String("code", "Problem"), Uint64("socket_id", 7), Error(errors.New("boom")))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "kept", entry.Message)
	assert.Equal(t, "Problem", entry.ContextMap()["code"])
	assert.EqualValues(t, 7, entry.ContextMap()["socket_id"])

	logger.SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, logger.GetLevel())
	logger.Debug("now visible")
	assert.Equal(t, 2, logs.Len())
}

func TestLogger_With(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewWithCore(core, LevelDebug).With(String("peer", "server"))

	logger.Info("hello")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "server", logs.All()[0].ContextMap()["peer"])
}

func TestProvideFallsBackToNop(t *testing.T) {
	assert.NotNil(t, Provide())
}

func TestLogger_FieldTypes(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewWithCore(core, LevelDebug)

	logger.Info("typed",
		Bool("metrics", true),
		Duration("timeout", 5*time.Second),
		Int("count", 3),
		Int64("max_message_size", 1<<20),
		Error(nil))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, true, fields["metrics"])
	assert.Equal(t, 5*time.Second, fields["timeout"])
	assert.EqualValues(t, 3, fields["count"])
	assert.EqualValues(t, 1<<20, fields["max_message_size"])
}

func TestProvideReturnsFirstLogger(t *testing.T) {
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			New(LevelInfo)
		}()
		go func() {
			defer wg.Done()
			assert.NotNil(t, Provide())
		}()
	}
	wg.Wait()

	first := Provide()
	New(LevelDebug)
	assert.Same(t, first, Provide())
}
