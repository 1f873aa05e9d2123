package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	pkgerrors "github.com/angelmondragon/pactsign-backend/pkg/errors"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: "debug", Output: buf})

	ctx := context.Background()
	ctx = log.WithRequestID(ctx, "req-123")
	ctx = log.WithContractID(ctx, "contract-1")

	log.Error(ctx, "boom", errors.New("boom"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v (%s)", err, buf.String())
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("expected request_id to be preserved; entry=%s", buf.String())
	}
	if entry["contract_id"] != "contract-1" {
		t.Fatalf("expected contract_id; entry=%s", buf.String())
	}
	if entry["service"] != "test" {
		t.Fatalf("expected service field; entry=%s", buf.String())
	}
	if _, ok := entry["stack"]; !ok {
		t.Fatalf("expected stack trace on error; entry=%s", buf.String())
	}
}

func TestLoggerWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: "debug", Output: buf, WarnStack: true})
	log.Warn(context.Background(), "warny")
	if !bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("expected stack when warn stack enabled")
	}

	buf.Reset()
	quiet := New(Options{ServiceName: "test", Output: buf})
	quiet.Warn(context.Background(), "warny")
	if bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("did not expect stack when warn stack disabled")
	}
}

func TestWithOutboxEntryAddsFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})
	ctx := log.WithOutboxEntry(context.Background(), "entry-1", "completed")
	log.Info(ctx, "sent")

	if !bytes.Contains(buf.Bytes(), []byte("\"outbox_id\":\"entry-1\"")) {
		t.Fatalf("expected outbox_id; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"template\":\"completed\"")) {
		t.Fatalf("expected template; entry=%s", buf.String())
	}
}

func TestWithActorAddsCallerFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})
	log.Info(log.WithActor(context.Background(), "user-9", "admin"), "request.complete")

	for _, want := range []string{`"user_id":"user-9"`, `"actor_role":"admin"`} {
		if !bytes.Contains(buf.Bytes(), []byte(want)) {
			t.Fatalf("expected %s; entry=%s", want, buf.String())
		}
	}
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})
	log.Debug(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug to be filtered at info level, got %s", buf.String())
	}
}

func TestLevelOptionEnablesDebug(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: "DEBUG", Output: buf})
	log.Debug(context.Background(), "visible")
	if !bytes.Contains(buf.Bytes(), []byte(`"level":"debug"`)) {
		t.Fatalf("expected debug entry, got %s", buf.String())
	}

	buf.Reset()
	quiet := New(Options{ServiceName: "test", Level: "nonsense", Output: buf})
	quiet.Debug(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("unknown level should fall back to info, got %s", buf.String())
	}
}

func TestParseLevelDefaults(t *testing.T) {
	if lvl := ParseLevel(""); lvl != zerolog.InfoLevel {
		t.Fatalf("expected default info level, got %v", lvl)
	}
	if lvl := ParseLevel("invalid"); lvl != zerolog.InfoLevel {
		t.Fatalf("invalid level should fallback to info, got %v", lvl)
	}
	if lvl := ParseLevel(" WARN "); lvl != zerolog.WarnLevel {
		t.Fatalf("expected warn level, got %v", lvl)
	}
}

func TestErrorTagsTypedErrors(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})
	log.Error(context.Background(), "sign failed", pkgerrors.New(pkgerrors.CodeConflict, "contract modified concurrently"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry["error_code"] != "CONFLICT" || entry["retryable"] != true {
		t.Fatalf("expected conflict tags; entry=%s", buf.String())
	}
}

func TestContextFieldsDoNotLeakBetweenBranches(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})
	root := log.WithField(context.Background(), "job", "contract-expiration")
	_ = log.WithContractID(root, "c-1")

	log.Info(root, "tick")
	if bytes.Contains(buf.Bytes(), []byte("contract_id")) {
		t.Fatalf("child field leaked into parent context: %s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"job":"contract-expiration"`)) {
		t.Fatalf("expected job field: %s", buf.String())
	}
}
