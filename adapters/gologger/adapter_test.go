package gologger

import (
	"context"
	"testing"

	glog "github.com/goliatone/go-logger/glog"
)

func TestResolveDeterministicFallback(t *testing.T) {
	loggerOnly := &capturingLogger{id: "logger"}
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{logger: providerLogger}

	_, resolved := Resolve("integrations", provider, loggerOnly)
	got := resolved.(*capturingLogger)
	if got.id != "provider" {
		t.Fatalf("expected provider logger precedence, got %q", got.id)
	}

	resolvedProvider, resolved := Resolve("", nil, loggerOnly)
	got = resolved.(*capturingLogger)
	if got.id != "logger" {
		t.Fatalf("expected direct logger when provider is nil, got %q", got.id)
	}
	if resolvedProvider == nil {
		t.Fatalf("expected provider wrapper from logger")
	}

	_, resolved = Resolve("integrations", nil, nil)
	if resolved == nil {
		t.Fatalf("expected nop logger fallback")
	}
}

func TestResolveUsesDefaultNameWhenBlank(t *testing.T) {
	provider := &capturingProvider{logger: &capturingLogger{id: "provider"}}
	Resolve("  ", provider, nil)
	if provider.lastName != DefaultLoggerName {
		t.Fatalf("expected logger name %q, got %q", DefaultLoggerName, provider.lastName)
	}
}

func TestWithIntegrationAttachesFields(t *testing.T) {
	base := &capturingLogger{id: "base"}
	scoped := WithIntegration(base, "int-1", "notion")
	got, ok := scoped.(*capturingLogger)
	if !ok {
		t.Fatalf("expected capturing logger, got %T", scoped)
	}
	if got.fields["integration_id"] != "int-1" || got.fields["provider_id"] != "notion" {
		t.Fatalf("unexpected fields: %#v", got.fields)
	}

	unchanged := WithIntegration(base, " ", "")
	if unchanged != glog.Logger(base) {
		t.Fatalf("expected logger without fields to be returned unchanged")
	}
	if WithIntegration(nil, "int-1", "") == nil {
		t.Fatalf("expected nop logger for nil input")
	}
}

func TestGoJobBridgeCompatibility(t *testing.T) {
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{logger: providerLogger}

	_, _, jobProvider, jobLogger := ResolveForJob("integrations.refresh", provider, nil)
	if jobProvider == nil {
		t.Fatalf("expected go-job provider bridge")
	}
	if jobLogger == nil {
		t.Fatalf("expected go-job logger bridge")
	}

	bridged := jobProvider.GetLogger("integrations.refresh")
	bridged.Info("refresh queued", "integration_id", "int-1")

	captured := providerLogger.lastInfo
	if captured.msg != "refresh queued" {
		t.Fatalf("expected bridged message, got %q", captured.msg)
	}
	if captured.args[0] != "integration_id" || captured.args[1] != "int-1" {
		t.Fatalf("expected bridged args, got %#v", captured.args)
	}
}

var (
	_ glog.Logger         = (*capturingLogger)(nil)
	_ glog.FieldsLogger   = (*capturingLogger)(nil)
	_ glog.LoggerProvider = (*capturingProvider)(nil)
)

type capturingProvider struct {
	logger   *capturingLogger
	lastName string
}

func (p *capturingProvider) GetLogger(name string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	p.lastName = name
	return p.logger
}

type infoCall struct {
	msg  string
	args []any
}

type capturingLogger struct {
	id       string
	fields   map[string]any
	lastInfo infoCall
}

func (l *capturingLogger) Trace(string, ...any) {}
func (l *capturingLogger) Debug(string, ...any) {}
func (l *capturingLogger) Warn(string, ...any)  {}
func (l *capturingLogger) Error(string, ...any) {}
func (l *capturingLogger) Fatal(string, ...any) {}

func (l *capturingLogger) Info(msg string, args ...any) {
	l.lastInfo = infoCall{
		msg:  msg,
		args: append([]any(nil), args...),
	}
}

func (l *capturingLogger) WithContext(context.Context) glog.Logger {
	return l
}

func (l *capturingLogger) WithFields(fields map[string]any) glog.Logger {
	merged := map[string]any{}
	for key, value := range l.fields {
		merged[key] = value
	}
	for key, value := range fields {
		merged[key] = value
	}
	return &capturingLogger{id: l.id, fields: merged}
}
