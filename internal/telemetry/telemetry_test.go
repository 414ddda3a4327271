package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStopAll(t *testing.T) {
	errFlush := errors.New("flush timed out")

	tests := []struct {
		name      string
		failing   map[string]bool
		wantOrder []string
		wantErr   []string
	}{
		{
			name:      "clean",
			wantOrder: []string{"metric", "trace"},
		},
		{
			name:      "every failure reported",
			failing:   map[string]bool{"trace": true, "metric": true},
			wantOrder: []string{"metric", "trace"},
			wantErr:   []string{"metric exporter shutdown", "trace exporter shutdown"},
		},
		{
			name:      "failure does not skip the rest",
			failing:   map[string]bool{"metric": true},
			wantOrder: []string{"metric", "trace"},
			wantErr:   []string{"metric exporter shutdown"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var order []string
			exporterFor := func(signal string) exporter {
				return exporter{signal: signal, stop: func(context.Context) error {
					order = append(order, signal)
					if tt.failing[signal] {
						return errFlush
					}
					return nil
				}}
			}

			err := stopAll([]exporter{exporterFor("trace"), exporterFor("metric")})(context.Background())
			require.Equal(t, tt.wantOrder, order)

			if len(tt.wantErr) == 0 {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, errFlush)
			for _, msg := range tt.wantErr {
				require.ErrorContains(t, err, msg)
			}
		})
	}
}

func TestStopAll_NothingRunning(t *testing.T) {
	require.NoError(t, stopAll(nil)(context.Background()))
}
