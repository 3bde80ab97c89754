package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func decodeLast(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var m map[string]any
	if err := json.Unmarshal(lines[len(lines)-1], &m); err != nil {
		t.Fatalf("decode log line %q: %v", lines[len(lines)-1], err)
	}
	return m
}

func TestSlogBridge_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", Service: "wmsd", Component: "test"}, &buf)
	log := NewSlog(&zl)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithPath(ctx, "day1")
	ctx = WithOperation(ctx, "GetMap")
	log.InfoContext(ctx, "rendered", "layer", "edge_layer", "width", 256, "err", errors.New("x"))

	m := decodeLast(t, &buf)
	want := map[string]any{
		"msg":        "rendered",
		"request_id": "req-1",
		"path":       "day1",
		"operation":  "GetMap",
		"layer":      "edge_layer",
		"service":    "wmsd",
		"level":      "info",
	}
	for k, v := range want {
		if m[k] != v {
			t.Fatalf("field %q=%v want %v (line %v)", k, m[k], v, m)
		}
	}
	if m["width"] != float64(256) {
		t.Fatalf("width=%v", m["width"])
	}
}

func TestSlogBridge_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn"}, &buf)
	log := NewSlog(&zl)

	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record written at warn level: %s", buf.String())
	}
	log.Warn("kept")
	if m := decodeLast(t, &buf); m["msg"] != "kept" || m["level"] != "warn" {
		t.Fatalf("unexpected record %v", m)
	}
}

func TestSlogBridge_Groups(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info"}, &buf)
	log := NewSlog(&zl).WithGroup("redis").With("addr", "localhost:6379")

	log.Info("connected")
	m := decodeLast(t, &buf)
	if m["redis.addr"] != "localhost:6379" {
		t.Fatalf("group prefix missing: %v", m)
	}
}

func TestRequestID(t *testing.T) {
	if RequestID(context.Background()) != "" {
		t.Fatal("expected empty request id")
	}
	ctx := WithRequestID(context.Background(), "")
	if id := RequestID(ctx); len(id) != 16 {
		t.Fatalf("generated id %q", id)
	}
}
