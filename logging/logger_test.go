package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggingFromConfig(t *testing.T) {
	l, err := NewLoggingFromConfig("testapp", Config{
		Output:   CONSOLE,
		Level:    zapcore.InfoLevel,
		Interval: 5 * time.Second,
	})
	require.NoError(t, err)
	require.NotNil(t, l)

	root := l.GetLogger()
	require.Equal(t, 5*time.Second, root.Interval())

	child := l.GetChildLogger("component")
	require.Equal(t, 5*time.Second, child.Interval())
}

func TestNewLoggingFromConfig_InvalidOutput(t *testing.T) {
	_, err := NewLoggingFromConfig("testapp", Config{Output: "invalid"})
	require.Error(t, err)
}

func TestNewLoggingFromConfig_Journal(t *testing.T) {
	l, err := NewLoggingFromConfig("", Config{Output: JOURNAL})
	require.NoError(t, err)
	require.NotNil(t, l)
}
