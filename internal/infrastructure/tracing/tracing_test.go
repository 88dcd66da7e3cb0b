package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-blemulator/internal/infrastructure/config"
)

func TestSetup_Disabled(t *testing.T) {
	tp, shutdown, err := Setup(context.Background(), config.TracingConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	_, span := tp.Tracer("test").Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Error("disabled tracing produced a recording span")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestSetup_UnsupportedExporter(t *testing.T) {
	_, _, err := Setup(context.Background(), config.TracingConfig{Enabled: true, Exporter: "jaeger"}, "test")
	if err == nil {
		t.Error("Setup() with unsupported exporter succeeded, want error")
	}
}

func TestSetup_StdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.TracingConfig{Enabled: true, Exporter: "stdout", SampleRatio: 1}

	tp, shutdown, err := setup(context.Background(), cfg, "1.2.3", &buf)
	if err != nil {
		t.Fatalf("setup() error = %v", err)
	}

	_, span := tp.Tracer("test").Start(context.Background(), "blesim.connect")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"blesim.connect", "blemulator", "1.2.3"} {
		if !strings.Contains(out, want) {
			t.Errorf("exported spans missing %q", want)
		}
	}
}

func TestSetup_ZeroRatioSamplesNothing(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.TracingConfig{Enabled: true, Exporter: "stdout", SampleRatio: 0}

	tp, shutdown, err := setup(context.Background(), cfg, "test", &buf)
	if err != nil {
		t.Fatalf("setup() error = %v", err)
	}

	_, span := tp.Tracer("test").Start(context.Background(), "blesim.enable")
	if span.IsRecording() {
		t.Error("span recorded with sample ratio 0")
	}
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("exported %d bytes, want none", buf.Len())
	}
}
