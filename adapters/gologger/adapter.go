package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// DefaultLoggerName is used when callers resolve without a name.
const DefaultLoggerName = "integrations"

// Resolve picks provider over logger over nop, naming the logger
// DefaultLoggerName when name is blank.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultLoggerName
	}
	resolvedProvider, resolvedLogger := glog.Resolve(name, provider, logger)
	return resolvedProvider, glog.Ensure(resolvedLogger)
}

// WithIntegration scopes logger to one integration. Loggers that cannot carry
// fields are returned unchanged.
func WithIntegration(logger glog.Logger, integrationID string, providerID string) glog.Logger {
	logger = glog.Ensure(logger)
	fieldsLogger, ok := logger.(glog.FieldsLogger)
	if !ok {
		return logger
	}
	fields := map[string]any{}
	if value := strings.TrimSpace(integrationID); value != "" {
		fields["integration_id"] = value
	}
	if value := strings.TrimSpace(providerID); value != "" {
		fields["provider_id"] = value
	}
	if len(fields) == 0 {
		return logger
	}
	return fieldsLogger.WithFields(fields)
}

func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the glog pair and returns the go-job bridges for the
// refresh worker queue.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}
