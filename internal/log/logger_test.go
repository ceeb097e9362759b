package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_JSON(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })
	var buf bytes.Buffer
	Setup(&buf, "prod", "")

	log.Debug().Msg("hidden")
	log.Info().Str("room_id", "123456").Msg("room created")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	assert.Equal(t, "room created", entry["message"])
	assert.Equal(t, "123456", entry["room_id"])
	assert.Equal(t, "chatroom", entry["service"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestSetup_Level(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })
	tests := []struct {
		env, level string
		want       zerolog.Level
	}{
		{"dev", "", zerolog.DebugLevel},
		{"prod", "", zerolog.InfoLevel},
		{"prod", "warn", zerolog.WarnLevel},
		{"dev", "bogus", zerolog.DebugLevel},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		Setup(&buf, tt.env, tt.level)
		assert.Equal(t, tt.want, zerolog.GlobalLevel(), "%s/%s", tt.env, tt.level)
	}
}
