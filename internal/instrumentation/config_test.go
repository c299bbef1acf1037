package instrumentation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(env map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	config := configFromEnv(mapLookup(nil))

	assert.True(t, config.Enabled)
	assert.Equal(t, "inboxpilot", config.Resource.ServiceName)
	assert.Equal(t, ExporterPrometheus, config.MetricsExporter)
	assert.Equal(t, ExporterNone, config.TracingExporter)
	assert.InDelta(t, 0.1, config.TraceSamplingRate, 1e-9)
	assert.Equal(t, "/metrics", config.MetricsPath)
	assert.False(t, config.DetailedLabels)
	assert.True(t, config.Audit.Enabled)
	assert.False(t, config.Audit.IncludePII)
	assert.NoError(t, config.Validate())
}

func TestConfigFromEnv(t *testing.T) {
	config := configFromEnv(mapLookup(map[string]string{
		"OTEL_SERVICE_NAME":           "test-service",
		"INSTRUMENTATION_ENABLED":     "false",
		"METRICS_EXPORTER":            "stdout",
		"TRACING_EXPORTER":            "otlp",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "collector:4318",
		"OTEL_TRACES_SAMPLER_ARG":     "0.5",
		"METRICS_DETAILED_LABELS":     "true",
		"POD_NAMESPACE":               "agents",
		"HOSTNAME":                    "inboxpilot-0",
		"AUDIT_LOGGING_INCLUDE_PII":   "yes",
	}))

	assert.False(t, config.Enabled)
	assert.Equal(t, "test-service", config.Resource.ServiceName)
	assert.Equal(t, "agents", config.Resource.K8sNamespace, "falls back to POD_NAMESPACE")
	assert.Equal(t, "inboxpilot-0", config.Resource.K8sPodName, "falls back to HOSTNAME")
	assert.Equal(t, ExporterStdout, config.MetricsExporter)
	assert.Equal(t, ExporterOTLP, config.TracingExporter)
	assert.Equal(t, "collector:4318", config.OTLP.Endpoint)
	assert.InDelta(t, 0.5, config.TraceSamplingRate, 1e-9)
	assert.True(t, config.DetailedLabels)
	assert.False(t, config.Audit.IncludePII, "unparsable booleans keep the default")
	assert.NoError(t, config.Validate())
}

func TestConfigFromEnv_EmptyValuesKeepDefaults(t *testing.T) {
	config := configFromEnv(mapLookup(map[string]string{
		"K8S_NAMESPACE":           "",
		"POD_NAMESPACE":           "fallback",
		"OTEL_TRACES_SAMPLER_ARG": "nope",
		"METRICS_EXPORTER":        "",
	}))

	assert.Equal(t, "fallback", config.Resource.K8sNamespace)
	assert.InDelta(t, 0.1, config.TraceSamplingRate, 1e-9)
	assert.Equal(t, ExporterPrometheus, config.MetricsExporter)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		errContains string
	}{
		{
			name:   "zero config",
			config: Config{},
		},
		{
			name: "otlp tracing",
			config: Config{
				MetricsExporter: ExporterPrometheus,
				TracingExporter: ExporterOTLP,
				OTLP:            OTLPConfig{Endpoint: "localhost:4318"},
			},
		},
		{
			name:        "negative sampling rate",
			config:      Config{TraceSamplingRate: -0.5},
			errContains: "TraceSamplingRate",
		},
		{
			name:        "sampling rate above 1",
			config:      Config{TraceSamplingRate: 1.5},
			errContains: "TraceSamplingRate",
		},
		{
			name:        "unknown metrics exporter",
			config:      Config{MetricsExporter: "invalid"},
			errContains: "MetricsExporter",
		},
		{
			name:        "unknown tracing exporter",
			config:      Config{TracingExporter: "prometheus"},
			errContains: "TracingExporter",
		},
		{
			name:        "endpoint with scheme",
			config:      Config{OTLP: OTLPConfig{Endpoint: "http://localhost:4318"}},
			errContains: "Endpoint",
		},
		{
			name:        "relative metrics path",
			config:      Config{MetricsPath: "metrics"},
			errContains: "MetricsPath",
		},
		{
			name:        "otlp tracing without endpoint",
			config:      Config{TracingExporter: ExporterOTLP},
			errContains: "OTEL_EXPORTER_OTLP_ENDPOINT",
		},
		{
			name:        "otlp metrics without endpoint",
			config:      Config{MetricsExporter: ExporterOTLP},
			errContains: "OTEL_EXPORTER_OTLP_ENDPOINT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}
