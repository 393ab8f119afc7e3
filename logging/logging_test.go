package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLevel(t *testing.T) {
	cases := []struct {
		verbose int
		want    zapcore.Level
	}{
		{-1, zapcore.WarnLevel},
		{0, zapcore.WarnLevel},
		{1, zapcore.InfoLevel},
		{2, zapcore.InfoLevel},
		{3, zapcore.DebugLevel},
		{4, zapcore.DebugLevel},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Level(tc.verbose), "verbose %d", tc.verbose)
	}
}

func TestNew(t *testing.T) {
	for _, json := range []bool{false, true} {
		log, err := New(3, json)
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.DebugLevel))

		log, err = New(0, json)
		require.NoError(t, err)
		assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
	}
}
