package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerValidatesConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{name: "nil config uses defaults", cfg: nil, wantErr: false},
		{name: "valid console", cfg: &Config{Level: "debug", Format: "console"}, wantErr: false},
		{name: "bad format", cfg: &Config{Level: "info", Format: "xml"}, wantErr: true},
		{name: "bad level", cfg: &Config{Level: "loud", Format: "json"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLogger(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestContextFieldsAttached(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = WithUserID(ctx, "alice")

	tl.Info(ctx, "pipeline started")

	entries := tl.FilterMessage("pipeline started").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	fields := map[string]string{}
	for _, f := range entries[0].Context {
		if f.Type == zapcore.StringType {
			fields[f.Key] = f.String
		}
	}
	if fields["request.id"] != "req-123" {
		t.Errorf("request.id = %q, want req-123", fields["request.id"])
	}
	if fields["user.id"] != "alice" {
		t.Errorf("user.id = %q, want alice", fields["user.id"])
	}
}

func TestChildLoggers(t *testing.T) {
	tl := NewTestLogger()

	child := tl.With(zap.String("component", "reranker")).Named("rerank")
	child.Warn(context.Background(), "low candidate count")

	tl.AssertLogged(t, zapcore.WarnLevel, "low candidate count")
}

func TestFromContextFallsBackToNop(t *testing.T) {
	l := FromContext(context.Background())
	if l == nil {
		t.Fatal("FromContext returned nil")
	}
	// Must not panic.
	l.Info(context.Background(), "ignored")

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	got := FromContext(ctx)
	if got != tl.Logger {
		t.Error("FromContext did not return stored logger")
	}
}
