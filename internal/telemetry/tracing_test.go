package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/expense-intake/internal/common"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), common.TelemetryConfig{Disabled: true}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_UnsupportedProtocolDegrades(t *testing.T) {
	cfg := common.TelemetryConfig{ServiceName: "test", Protocol: "carrier-pigeon"}
	shutdown, err := Init(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	cases := map[string]string{
		"always_on":                "AlwaysOnSampler",
		"always_off":               "AlwaysOffSampler",
		"traceidratio":             "TraceIDRatioBased{0.5}",
		"parentbased_traceidratio": "ParentBased{root:TraceIDRatioBased{0.5}",
		"bogus":                    "ParentBased{root:AlwaysOnSampler",
	}
	for name, want := range cases {
		got := Sampler(name, "0.5").Description()
		assert.True(t, strings.HasPrefix(got, want), "%s: %s", name, got)
	}
	// an unparsable ratio samples everything
	assert.Equal(t, "AlwaysOnSampler", Sampler("traceidratio", "lots").Description())
}
