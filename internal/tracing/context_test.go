package tracing

import (
	"context"
	"testing"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestWithTraceID(t *testing.T) {
	ctx := context.Background()
	traceID := "test-trace-id"

	ctx = WithTraceID(ctx, traceID)

	retrieved := GetTraceID(ctx)
	if retrieved != traceID {
		t.Errorf("Expected trace ID %s, got %s", traceID, retrieved)
	}
}

func TestWithRequestID(t *testing.T) {
	ctx := context.Background()

	ctx = WithRequestID(ctx, "req-123")

	if GetRequestID(ctx) != "req-123" {
		t.Errorf("Expected request ID req-123, got %s", GetRequestID(ctx))
	}
}

func TestWithToolName(t *testing.T) {
	ctx := context.Background()

	ctx = WithToolName(ctx, "add")

	if GetToolName(ctx) != "add" {
		t.Errorf("Expected tool name add, got %s", GetToolName(ctx))
	}
}

func TestGetTraceIDEmpty(t *testing.T) {
	ctx := context.Background()

	if GetTraceID(ctx) != "" {
		t.Error("Expected empty trace ID from bare context")
	}
	if GetRequestID(ctx) != "" {
		t.Error("Expected empty request ID from bare context")
	}
}

func TestFromContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-abc")
	ctx = WithRequestID(ctx, "req-abc")
	ctx = WithToolName(ctx, "greet")

	tc := FromContext(ctx)

	if tc.TraceID != "trace-abc" {
		t.Errorf("Expected trace ID trace-abc, got %s", tc.TraceID)
	}
	if tc.RequestID != "req-abc" {
		t.Errorf("Expected request ID req-abc, got %s", tc.RequestID)
	}
	if tc.ToolName != "greet" {
		t.Errorf("Expected tool name greet, got %s", tc.ToolName)
	}
}

func TestNewContext(t *testing.T) {
	tc := &TraceContext{
		TraceID:   "trace-abc",
		RequestID: "req-abc",
	}

	ctx := NewContext(context.Background(), tc)

	if GetTraceID(ctx) != "trace-abc" {
		t.Error("Trace ID not propagated")
	}
	if GetRequestID(ctx) != "req-abc" {
		t.Error("Request ID not propagated")
	}
	if GetToolName(ctx) != "" {
		t.Error("Unexpected tool name")
	}
}

func TestNewRequestContext(t *testing.T) {
	ctx := NewRequestContext(context.Background())

	if GetTraceID(ctx) == "" {
		t.Error("NewRequestContext did not assign a trace ID")
	}
}
