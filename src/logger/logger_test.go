package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, &buf, false, "")

	l.Info("hidden %d", 1)
	assert.Empty(t, buf.String())

	l.Warn("shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")
	assert.Contains(t, buf.String(), "WARN")
}

func TestLoggerPrefixSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(INFO, &buf, false, "")
	child := l.WithPrefix("Pacer")

	child.Info("tick")
	assert.Contains(t, buf.String(), "[Pacer] tick")

	buf.Reset()
	l.SetLevel(ERROR)
	child.Warn("late")
	assert.Empty(t, buf.String())
	assert.Equal(t, ERROR, child.GetLevel())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("Warning"))
	assert.Equal(t, ERROR, ParseLevel(" ERROR "))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}
