package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/workflow-notifier/internal/logger"
)

func TestNewSetsGlobalLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"debug":    zerolog.DebugLevel,
		"Warn":     zerolog.WarnLevel,
		"ERROR":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
	}

	for input, want := range cases {
		t.Run("level_"+input, func(t *testing.T) {
			prev := zerolog.GlobalLevel()
			t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

			var buf bytes.Buffer
			_, err := logger.New("production", input, &buf)
			require.NoError(t, err)
			assert.Equal(t, want, zerolog.GlobalLevel())
		})
	}
}

func TestNewInvalidLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	_, err := logger.New("production", "not-a-level")
	assert.Error(t, err)
}

func TestComponentTagsEntries(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	var buf bytes.Buffer
	base, err := logger.New("production", "info", &buf)
	require.NoError(t, err)

	l := logger.Component(*base, "dispatcher")
	l.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "dispatcher", entry["component"])
	assert.Equal(t, "workflow-notifier", entry["service"])
}

func TestOrNopReplacesZeroLogger(t *testing.T) {
	var zero zerolog.Logger
	l := logger.OrNop(zero)
	assert.Equal(t, zerolog.Disabled, l.GetLevel())
}
