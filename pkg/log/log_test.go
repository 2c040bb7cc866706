package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, emit func()) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})
	emit()

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	return line
}

func TestWithComponent(t *testing.T) {
	line := capture(t, func() {
		l := WithComponent("pool")
		l.Info().Msg("hello")
	})
	assert.Equal(t, "pool", line["component"])
	assert.Equal(t, "hello", line["message"])
}

func TestCorrelationFieldHelpers(t *testing.T) {
	cases := []struct {
		field string
		emit  func()
	}{
		{"thread_id", func() { l := WithThreadID("t-1"); l.Info().Msg("x") }},
		{"user_id", func() { l := WithUserID("u-1"); l.Info().Msg("x") }},
		{"provider", func() { l := WithProvider("openai"); l.Info().Msg("x") }},
	}
	for _, tc := range cases {
		t.Run(tc.field, func(t *testing.T) {
			line := capture(t, tc.emit)
			assert.Contains(t, line, tc.field)
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	ld := WithComponent("x")
	ld.Debug().Msg("suppressed")
	assert.Zero(t, buf.Len())

	lw := WithComponent("x")
	lw.Warn().Msg("emitted")
	assert.NotZero(t, buf.Len())
}
