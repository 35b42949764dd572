package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		level   zapcore.Level
		wantErr bool
	}{
		{"default", Default(), zapcore.InfoLevel, false},
		{"json_debug", Config{Level: "debug", Format: "json"}, zapcore.DebugLevel, false},
		{"empty", Config{}, zapcore.InfoLevel, false},
		{"bad_level", Config{Level: "loud"}, 0, true},
		{"bad_format", Config{Format: "xml"}, 0, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				assert.NotNil(t, Must(tt.cfg))
				return
			}
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(tt.level))
			assert.False(t, l.Core().Enabled(tt.level-1))
		})
	}
}
