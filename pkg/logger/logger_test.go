package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewLogger(t *testing.T) {
	log := NewLogger()
	assert.NotNil(t, log)
	assert.IsType(t, &zerologLogger{}, log)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("WARN"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, zerolog.FatalLevel, ParseLevel("fatal"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("info"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}

func TestWithFieldReturnsNewLogger(t *testing.T) {
	base := NewLogger()
	derived := base.WithField("component", "planner")
	assert.NotNil(t, derived)
	assert.NotSame(t, base, derived)
}

func TestWithFieldsDoesNotMutateReceiver(t *testing.T) {
	base := NewLogger()
	derived := base.WithFields(map[string]interface{}{"a": 1, "b": 2})
	assert.NotNil(t, derived)
	assert.NotSame(t, base, derived)
}
