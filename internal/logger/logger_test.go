package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	log := New()
	assert.NotEqual(t, zerolog.Disabled, log.GetLevel())
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Str("external_id", "18f2a").Msg("fact inserted")

	out := buf.String()
	assert.Contains(t, out, "fact inserted")
	assert.Contains(t, out, `"external_id":"18f2a"`)
}

func TestNewWithOptions(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		wantLevel zerolog.Level
		wantJSON  bool
	}{
		{"defaults", Options{}, zerolog.InfoLevel, false},
		{"json debug", Options{Level: "debug", Format: "json"}, zerolog.DebugLevel, true},
		{"upper case", Options{Level: "WARN", Format: "JSON"}, zerolog.WarnLevel, true},
		{"unknown level", Options{Level: "loud"}, zerolog.InfoLevel, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			log := NewWithOptions(buf, tt.opts)
			assert.Equal(t, tt.wantLevel, log.GetLevel())

			log.Error().Msg("boom")
			require.NotZero(t, buf.Len())
			if tt.wantJSON {
				assert.Equal(t, byte('{'), buf.Bytes()[0])
			} else {
				assert.NotEqual(t, byte('{'), buf.Bytes()[0])
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithOptions(buf, Options{Level: "error", Format: FormatJSON})

	log.Info().Msg("quiet")
	assert.Zero(t, buf.Len())

	log.Error().Msg("loud")
	assert.Contains(t, buf.String(), "loud")
}

func TestWithContext(t *testing.T) {
	ctx := WithContext(context.Background(), New())
	assert.NotNil(t, ctx.Value(LoggerKey))
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))

	log := FromContext(ctx)
	log.Info().Msg("test")

	assert.NotZero(t, buf.Len())
}

func TestFromContext_DefaultLogger(t *testing.T) {
	log := FromContext(context.Background())
	assert.NotEqual(t, zerolog.Disabled, log.GetLevel())
}

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := WithFields(NewWithWriter(buf), map[string]interface{}{
		"run_id": "123",
		"stage":  "fetch",
	})
	log.Info().Msg("test message")

	out := buf.String()
	assert.Contains(t, out, `"run_id":"123"`)
	assert.Contains(t, out, `"stage":"fetch"`)
}
