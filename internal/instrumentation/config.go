package instrumentation

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Exporter names accepted by MetricsExporter and TracingExporter.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

// Config configures a Provider.
type Config struct {
	// Enabled turns metrics and tracing on. A disabled Provider hands out
	// no-op recorders.
	Enabled bool

	Resource ResourceConfig

	MetricsExporter string `validate:"omitempty,oneof=prometheus otlp stdout"`
	TracingExporter string `validate:"omitempty,oneof=otlp stdout none"`

	OTLP OTLPConfig

	// TraceSamplingRate is the ratio of root spans that are sampled.
	TraceSamplingRate float64 `validate:"gte=0,lte=1"`

	// MetricsPath is the scrape path of the metrics server.
	MetricsPath string `validate:"omitempty,startswith=/"`

	// DetailedLabels records remote tool names verbatim instead of folding
	// them into their provider.
	DetailedLabels bool

	Audit AuditLoggingConfig
}

// ResourceConfig holds the attributes attached to every metric and span.
type ResourceConfig struct {
	ServiceName    string
	ServiceVersion string
	// InstanceID defaults to the hostname.
	InstanceID   string
	K8sNamespace string
	K8sPodName   string
}

// OTLPConfig configures the OTLP/HTTP exporters.
type OTLPConfig struct {
	// Endpoint is the collector's host:port, without a scheme.
	Endpoint string `validate:"omitempty,hostname_port"`
	// Insecure disables TLS. Development only.
	Insecure bool
}

// AuditLoggingConfig configures the AuditLogger.
type AuditLoggingConfig struct {
	Enabled bool
	// IncludePII logs raw user IDs instead of their hashes.
	IncludePII bool
}

// DefaultConfig reads the configuration from the environment.
func DefaultConfig() Config {
	return configFromEnv(os.LookupEnv)
}

type lookupFunc func(key string) (string, bool)

func configFromEnv(lookup lookupFunc) Config {
	env := envReader(lookup)
	return Config{
		Enabled: env.boolean("INSTRUMENTATION_ENABLED", true),
		Resource: ResourceConfig{
			ServiceName:    env.str("inboxpilot", "OTEL_SERVICE_NAME"),
			ServiceVersion: "unknown",
			InstanceID:     env.str("", "OTEL_SERVICE_INSTANCE_ID"),
			K8sNamespace:   env.str("", "K8S_NAMESPACE", "POD_NAMESPACE"),
			K8sPodName:     env.str("", "K8S_POD_NAME", "HOSTNAME"),
		},
		MetricsExporter: env.str(ExporterPrometheus, "METRICS_EXPORTER"),
		TracingExporter: env.str(ExporterNone, "TRACING_EXPORTER"),
		OTLP: OTLPConfig{
			Endpoint: env.str("", "OTEL_EXPORTER_OTLP_ENDPOINT"),
			Insecure: env.boolean("OTEL_EXPORTER_OTLP_INSECURE", false),
		},
		TraceSamplingRate: env.float("OTEL_TRACES_SAMPLER_ARG", 0.1),
		MetricsPath:       env.str("/metrics", "PROMETHEUS_ENDPOINT"),
		DetailedLabels:    env.boolean("METRICS_DETAILED_LABELS", false),
		Audit: AuditLoggingConfig{
			Enabled:    env.boolean("AUDIT_LOGGING_ENABLED", true),
			IncludePII: env.boolean("AUDIT_LOGGING_INCLUDE_PII", false),
		},
	}
}

// envReader reads typed values. Unset, empty and unparsable variables fall
// back to the default.
type envReader lookupFunc

// str returns the first non-empty variable of keys.
func (e envReader) str(def string, keys ...string) string {
	for _, key := range keys {
		if v, ok := e(key); ok && v != "" {
			return v
		}
	}
	return def
}

func (e envReader) boolean(key string, def bool) bool {
	if v, err := strconv.ParseBool(e.str("", key)); err == nil {
		return v
	}
	return def
}

func (e envReader) float(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(e.str("", key), 64); err == nil {
		return v
	}
	return def
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid instrumentation config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid instrumentation config: %w", err)
	}

	if c.OTLP.Endpoint == "" && (c.MetricsExporter == ExporterOTLP || c.TracingExporter == ExporterOTLP) {
		return fmt.Errorf("invalid instrumentation config: OTLP exporter requires OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	return nil
}
