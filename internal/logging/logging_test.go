package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(Config{})

	Info().Str("field", "F1").Msg("field loaded")

	out := buf.String()
	if !strings.Contains(out, `"message":"field loaded"`) {
		t.Fatalf("missing message in %s", out)
	}
	if !strings.Contains(out, `"field":"F1"`) {
		t.Fatalf("missing field in %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCtxAddsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Output: &buf})
	defer Init(Config{})

	ctx := ContextWithCorrelationID(context.Background(), "abc12345")
	Ctx(ctx).Info().Msg("select")

	if !strings.Contains(buf.String(), `"correlation_id":"abc12345"`) {
		t.Fatalf("correlation id not logged: %s", buf.String())
	}
}

func TestNewCorrelationIDLength(t *testing.T) {
	id := NewCorrelationID()
	if len(id) != 8 {
		t.Fatalf("len = %d, want 8", len(id))
	}
	if CorrelationIDFromContext(context.Background()) != "" {
		t.Fatal("empty context should have no id")
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Output: &buf})
	defer Init(Config{})

	log := WithComponent("archive")
	log.Info().Msg("archive opened")

	if !strings.Contains(buf.String(), `"component":"archive"`) {
		t.Fatalf("component not logged: %s", buf.String())
	}
}
