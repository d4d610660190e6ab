package diagnostics

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestTailCapturesLoggedLines(t *testing.T) {
	tail := NewTail(10)
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.AddHook(tail)

	logger.Info("first")
	logger.Warn("second")

	lines := tail.Drain()
	require.Len(t, lines, 2)
	require.True(t, strings.Contains(lines[0], "first"))
	require.True(t, strings.Contains(lines[1], "second"))
}

func TestTailDropsOldestWhenFull(t *testing.T) {
	tail := NewTail(2)
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.AddHook(tail)

	logger.Info("one")
	logger.Info("two")
	logger.Info("three")

	lines := tail.Drain()
	require.Len(t, lines, 2)
	require.True(t, strings.Contains(lines[0], "two"))
	require.True(t, strings.Contains(lines[1], "three"))
}

func TestTailDrainEmptiesTheBuffer(t *testing.T) {
	tail := NewTail(5)
	logger := logrus.New()
	logger.AddHook(tail)
	logger.Info("hello")

	require.NotEmpty(t, tail.Drain())
	require.Empty(t, tail.Drain())
	require.True(t, tail.IsEmpty())
}

func TestTailLevelsIncludesAll(t *testing.T) {
	tail := NewTail(1)
	require.Equal(t, logrus.AllLevels, tail.Levels())
}
