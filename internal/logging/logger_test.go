package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		want    zapcore.Level
		wantErr bool
	}{
		{name: "dev default", cfg: Config{Development: true}, want: zapcore.DebugLevel},
		{name: "prod default", cfg: Config{}, want: zapcore.InfoLevel},
		{name: "explicit", cfg: Config{Level: " warn "}, want: zapcore.WarnLevel},
		{name: "bad", cfg: Config{Level: "loud"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.cfg.ParseLevel()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNewAppliesLevel(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Level: "error"}, zap.String("service", "results-harvester"))
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.True(t, logger.Core().Enabled(zapcore.ErrorLevel))

	dev, err := New(Config{Development: true})
	require.NoError(t, err)
	require.True(t, dev.Core().Enabled(zapcore.DebugLevel))
}

func TestNewRejectsBadLevel(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Level: "verbose"})
	require.Error(t, err)
}

func TestBatchAddsFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	Batch(zap.New(core), "b-1", "1323").Info("chunk done")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "b-1", fields["batch_id"])
	require.Equal(t, "1323", fields["exam_code"])
}
