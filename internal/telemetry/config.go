package telemetry

// Config selects whether and where run spans are exported.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Enabled false installs a noop tracer.
	Enabled bool
	// Endpoint is the OTLP/HTTP collector (host:port). Empty records spans
	// without exporting them.
	Endpoint   string
	Insecure   bool
	SampleRate float64
}

// DefaultConfig has tracing off.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "orchestra",
		ServiceVersion: "dev",
		Environment:    "development",
		SampleRate:     1.0,
	}
}

// ConfigForEndpoint turns tracing on when endpoint is set and samples every run.
func ConfigForEndpoint(endpoint, version string) Config {
	cfg := DefaultConfig()
	cfg.Enabled = endpoint != ""
	cfg.Endpoint = endpoint
	if version != "" {
		cfg.ServiceVersion = version
	}
	return cfg
}
