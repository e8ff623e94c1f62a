package router

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"aiworker/internal/assistant"
	"aiworker/pkg/types"
)

// stubValidator records its arguments and returns a fixed result
type stubValidator struct {
	result  *types.ValidationResult
	err     error
	panics  bool
	content string
	level   string
}

func (s *stubValidator) ValidateDocument(ctx context.Context, content, securityLevel string) (*types.ValidationResult, error) {
	if s.panics {
		panic("validator exploded")
	}
	s.content = content
	s.level = securityLevel
	return s.result, s.err
}

type stubResponder struct {
	reply   string
	err     error
	message string
	doc     *string
	history []json.RawMessage
}

func (s *stubResponder) GenerateChatReply(ctx context.Context, message string, documentContent *string, history []json.RawMessage) (string, error) {
	s.message = message
	s.doc = documentContent
	s.history = history
	return s.reply, s.err
}

func newStubRouter() (*Router, *stubValidator, *stubResponder) {
	v := &stubValidator{result: &types.ValidationResult{IsValid: true, Issues: []types.Issue{}, Suggestions: []string{}}}
	c := &stubResponder{reply: "reply"}
	return NewRouter(v, c, nil, nil), v, c
}

func TestRouter_Ping(t *testing.T) {
	r, _, _ := newStubRouter()

	env := r.Route(context.Background(), "conn", []byte(`{"type":"ping"}`))

	if env.Type != types.EnvelopeTypePong {
		t.Fatalf("Expected pong, got %s", env.Type)
	}
	if env.Result != nil || env.Message != "" {
		t.Errorf("Pong should carry no payload: %+v", env)
	}
	if _, err := time.Parse(time.RFC3339Nano, env.Timestamp); err != nil {
		t.Errorf("Invalid timestamp %q: %v", env.Timestamp, err)
	}
}

func TestRouter_ErrorEnvelopes(t *testing.T) {
	tests := []struct {
		name        string
		frame       string
		wantMessage string
	}{
		{"unknown type", `{"type":"launch"}`, `Unknown request type: "launch"`},
		{"absent type", `{"content":"hello"}`, `Unknown request type: ""`},
		{"case sensitive", `{"type":"PING"}`, `Unknown request type: "PING"`},
		{"outbound type inbound", `{"type":"pong"}`, `Unknown request type: "pong"`},
		{"malformed json", `{"type":`, "Invalid JSON: "},
		{"not json", `hello there`, "Invalid JSON: "},
		{"array frame", `[1,2,3]`, "Invalid JSON: "},
		{"non-string type", `{"type":42}`, "Invalid JSON: "},
		{"non-string message", `{"type":"chat","message":5}`, "Invalid JSON: "},
		{"capitalized type key", `{"Type":"ping"}`, `Unknown request type: ""`},
		{"upper case type key", `{"TYPE":"ping"}`, `Unknown request type: ""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, _ := newStubRouter()
			env := r.Route(context.Background(), "conn", []byte(tt.frame))

			if env.Type != types.EnvelopeTypeError {
				t.Fatalf("Expected error envelope, got %s", env.Type)
			}
			if !strings.HasPrefix(env.Message, tt.wantMessage) {
				t.Errorf("Expected message starting with %q, got %q", tt.wantMessage, env.Message)
			}
			if env.Timestamp == "" {
				t.Error("Error envelope must carry a timestamp")
			}
		})
	}
}

func TestRouter_MatchesFieldNamesExactly(t *testing.T) {
	r, v, c := newStubRouter()

	env := r.Route(context.Background(), "conn", []byte(`{"type":"ping","TYPE":"bogus"}`))
	if env.Type != types.EnvelopeTypePong {
		t.Errorf("Expected pong when type is exact, got %+v", env)
	}

	r.Route(context.Background(), "conn", []byte(`{"type":"analyze","Content":"ignored","content":"used"}`))
	if v.content != "used" {
		t.Errorf("Expected exact content key, got %q", v.content)
	}

	r.Route(context.Background(), "conn", []byte(`{"type":"chat","Message":"ignored"}`))
	if c.message != "" {
		t.Errorf("Differently cased message key should be ignored, got %q", c.message)
	}
}

func TestRouter_AnalyzeDefaults(t *testing.T) {
	r, v, _ := newStubRouter()

	env := r.Route(context.Background(), "conn", []byte(`{"type":"analyze"}`))

	if env.Type != types.EnvelopeTypeAnalysis {
		t.Fatalf("Expected analysis, got %s", env.Type)
	}
	if v.content != "" {
		t.Errorf("Expected empty content, got %q", v.content)
	}
	if v.level != types.DefaultSecurityLevel {
		t.Errorf("Expected default security level, got %q", v.level)
	}
}

func TestRouter_AnalyzePassesFields(t *testing.T) {
	r, v, _ := newStubRouter()

	r.Route(context.Background(), "conn", []byte(`{"type":"analyze","content":"본문입니다.","security_level":"대외비"}`))

	if v.content != "본문입니다." || v.level != "대외비" {
		t.Errorf("Unexpected arguments content=%q level=%q", v.content, v.level)
	}
}

func TestRouter_ChatPassesHistoryThrough(t *testing.T) {
	r, _, c := newStubRouter()

	env := r.Route(context.Background(), "conn",
		[]byte(`{"type":"chat","message":"hi","document_content":"doc","history":[{"role":"user"},"x"]}`))

	if env.Type != types.EnvelopeTypeChat || env.Result != "reply" {
		t.Fatalf("Unexpected envelope %+v", env)
	}
	if c.message != "hi" {
		t.Errorf("Expected message hi, got %q", c.message)
	}
	if c.doc == nil || *c.doc != "doc" {
		t.Errorf("Expected document content, got %v", c.doc)
	}
	if len(c.history) != 2 {
		t.Errorf("Expected 2 history entries, got %d", len(c.history))
	}
}

func TestRouter_ChatWithoutDocument(t *testing.T) {
	r, _, c := newStubRouter()

	r.Route(context.Background(), "conn", []byte(`{"type":"chat","message":"hello"}`))

	if c.doc != nil {
		t.Errorf("Expected nil document content, got %q", *c.doc)
	}
}

func TestRouter_HandlerFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(v *stubValidator, c *stubResponder)
		frame string
	}{
		{"validator error", func(v *stubValidator, c *stubResponder) { v.err = errors.New("backend down") }, `{"type":"analyze","content":"x"}`},
		{"validator panic", func(v *stubValidator, c *stubResponder) { v.panics = true }, `{"type":"analyze","content":"x"}`},
		{"nil result", func(v *stubValidator, c *stubResponder) { v.result = nil }, `{"type":"analyze","content":"x"}`},
		{"responder error", func(v *stubValidator, c *stubResponder) { c.err = errors.New("model timeout") }, `{"type":"chat","message":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, v, c := newStubRouter()
			tt.setup(v, c)

			env := r.Route(context.Background(), "conn", []byte(tt.frame))

			if env.Type != types.EnvelopeTypeError {
				t.Fatalf("Expected error envelope, got %s", env.Type)
			}
			if env.Message != ProcessingErrorMessage {
				t.Errorf("Expected generic processing message, got %q", env.Message)
			}
		})
	}
}

func TestRouter_RateLimit(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)
	r := NewRouter(&stubValidator{}, &stubResponder{}, limiter, nil)

	for i := 0; i < 2; i++ {
		if env := r.Route(context.Background(), "conn", []byte(`{"type":"ping"}`)); env.Type != types.EnvelopeTypePong {
			t.Fatalf("Frame %d should be allowed, got %s", i, env.Type)
		}
	}

	env := r.Route(context.Background(), "conn", []byte(`{"type":"ping"}`))
	if env.Type != types.EnvelopeTypeError || !strings.Contains(env.Message, "Rate limit") {
		t.Errorf("Expected rate limit error, got %+v", env)
	}

	if env := r.Route(context.Background(), "other", []byte(`{"type":"ping"}`)); env.Type != types.EnvelopeTypePong {
		t.Errorf("Other connections must not be limited, got %s", env.Type)
	}

	r.Forget("conn")
	if env := r.Route(context.Background(), "conn", []byte(`{"type":"ping"}`)); env.Type != types.EnvelopeTypePong {
		t.Errorf("Forgotten connection should start a new window, got %s", env.Type)
	}
}

func TestRouter_WithRealCollaborators(t *testing.T) {
	r := NewRouter(assistant.NewValidator(), assistant.NewResponder(), nil, nil)

	env := r.Route(context.Background(), "conn", []byte(`{"type":"analyze","content":"Hi","security_level":"일반"}`))
	result, ok := env.Result.(*types.ValidationResult)
	if !ok {
		t.Fatalf("Expected *ValidationResult, got %T", env.Result)
	}
	if result.IsValid {
		t.Error("Short content should not be valid")
	}
	if len(result.Issues) == 0 || result.Issues[0].Type != "length" || result.Issues[0].Severity != types.SeverityError {
		t.Errorf("Expected length error issue, got %+v", result.Issues)
	}

	env = r.Route(context.Background(), "conn", []byte(`{"type":"chat","message":"hello"}`))
	if reply, _ := env.Result.(string); env.Type != types.EnvelopeTypeChat || reply == "" {
		t.Errorf("Expected non-empty chat reply, got %+v", env)
	}
}

func TestEncode(t *testing.T) {
	data := Encode(types.NewPongEnvelope())

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Encoded envelope is not JSON: %v", err)
	}
	if decoded["type"] != "pong" {
		t.Errorf("Unexpected type %v", decoded["type"])
	}
}

func TestEncode_Unencodable(t *testing.T) {
	env := &types.Envelope{Type: types.EnvelopeTypeChat, Result: make(chan int), Timestamp: types.Now()}

	var decoded types.Envelope
	if err := json.Unmarshal(Encode(env), &decoded); err != nil {
		t.Fatalf("Fallback is not JSON: %v", err)
	}
	if decoded.Type != types.EnvelopeTypeError || decoded.Message != ProcessingErrorMessage {
		t.Errorf("Expected processing error fallback, got %+v", decoded)
	}
}

func TestRouter_DispatchSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	v := &stubValidator{err: errors.New("backend down")}
	r := NewRouter(v, &stubResponder{reply: "ok"}, nil, nil).WithTracerProvider(tp)

	frames := []struct {
		frame    string
		wantCode codes.Code
	}{
		{`{"type":"ping"}`, codes.Ok},
		{`{"type":`, codes.Error},
		{`{"type":"launch"}`, codes.Error},
		{`{"type":"analyze","content":"x"}`, codes.Error},
		{`{"type":"chat","message":"hi"}`, codes.Ok},
	}
	for _, f := range frames {
		r.Route(context.Background(), "conn-7", []byte(f.frame))
	}

	spans := recorder.Ended()
	if len(spans) != len(frames) {
		t.Fatalf("Expected one span per frame (%d), got %d", len(frames), len(spans))
	}
	for i, span := range spans {
		if span.Name() != "aiworker.dispatch" {
			t.Errorf("Span %d: unexpected name %q", i, span.Name())
		}
		if span.Status().Code != frames[i].wantCode {
			t.Errorf("Span %d (%s): expected status %v, got %v", i, frames[i].frame, frames[i].wantCode, span.Status().Code)
		}

		var connID string
		for _, kv := range span.Attributes() {
			if kv.Key == "aiworker.connection_id" {
				connID = kv.Value.AsString()
			}
		}
		if connID != "conn-7" {
			t.Errorf("Span %d: expected connection id attribute, got %q", i, connID)
		}
	}
}
