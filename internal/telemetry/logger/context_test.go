package logger

import (
	"context"
	"testing"
)

func TestWithLogger_FromContext(t *testing.T) {
	l, buf := newBuffered(t, "info", "json")

	ctx := WithLogger(context.Background(), l)
	FromContext(ctx).Info("test message")

	if buf.Len() == 0 {
		t.Error("Logger from context should produce output")
	}
}

func TestFromContext_Default(t *testing.T) {
	if l := FromContext(context.Background()); l == nil {
		t.Error("FromContext should return default logger, got nil")
	}
}
