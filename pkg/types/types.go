package types

import (
	"encoding/json"
	"time"
)

// Request types accepted on the WebSocket endpoint
const (
	RequestTypeAnalyze = "analyze"
	RequestTypeChat    = "chat"
	RequestTypePing    = "ping"
)

// Envelope types sent to clients. The set is closed.
const (
	EnvelopeTypeAnalysis = "analysis"
	EnvelopeTypeChat     = "chat"
	EnvelopeTypePong     = "pong"
	EnvelopeTypeError    = "error"
)

// Issue severities reported by document validation
const (
	SeverityError      = "error"
	SeverityWarning    = "warning"
	SeveritySuggestion = "suggestion"
)

// DefaultSecurityLevel is applied when an analyze request carries no security_level ("general").
const DefaultSecurityLevel = "일반"

// TimestampLayout is the ISO-8601 layout used for every outbound timestamp.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Request is an inbound envelope. Only Type is interpreted by the router;
// the remaining fields belong to the handler selected by Type.
type Request struct {
	Type            string            `json:"type"`
	Content         string            `json:"content"`
	SecurityLevel   string            `json:"security_level"`
	Message         string            `json:"message"`
	DocumentContent *string           `json:"document_content"`
	History         []json.RawMessage `json:"history"`
}

// Envelope is an outbound message. Result carries the analysis or chat payload,
// Message the text of an error envelope.
type Envelope struct {
	Type      string      `json:"type"`
	Result    interface{} `json:"result,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// MarshalJSON always writes result for analysis and chat envelopes, even
// when the chat reply is empty.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Type == EnvelopeTypeAnalysis || e.Type == EnvelopeTypeChat {
		return json.Marshal(struct {
			Type      string      `json:"type"`
			Result    interface{} `json:"result"`
			Timestamp string      `json:"timestamp"`
		}{e.Type, e.Result, e.Timestamp})
	}
	type plain Envelope
	return json.Marshal(plain(e))
}

// Position is a half-open character range inside the analyzed content.
type Position struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Issue is a single finding produced by document validation.
type Issue struct {
	Type     string   `json:"type"`
	Severity string   `json:"severity"`
	Message  string   `json:"message"`
	Position Position `json:"position"`
}

// ValidationResult is the payload of an analysis envelope.
type ValidationResult struct {
	IsValid         bool     `json:"is_valid"`
	Issues          []Issue  `json:"issues"`
	Suggestions     []string `json:"suggestions"`
	ComplianceScore float64  `json:"compliance_score"`
	Timestamp       string   `json:"timestamp"`
}

// ConnectionRecord is one row of the connection audit log.
type ConnectionRecord struct {
	ID          string     `json:"id"`
	RemoteAddr  string     `json:"remote_addr"`
	UserAgent   string     `json:"user_agent"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CloseReason string     `json:"close_reason,omitempty"`
	FramesIn    int64      `json:"frames_in"`
	FramesOut   int64      `json:"frames_out"`
}

// FormatTimestamp renders t in TimestampLayout (UTC).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Now returns the current time as an outbound timestamp.
func Now() string {
	return FormatTimestamp(time.Now())
}

func NewAnalysisEnvelope(result *ValidationResult) *Envelope {
	return &Envelope{Type: EnvelopeTypeAnalysis, Result: result, Timestamp: Now()}
}

func NewChatEnvelope(reply string) *Envelope {
	return &Envelope{Type: EnvelopeTypeChat, Result: reply, Timestamp: Now()}
}

func NewPongEnvelope() *Envelope {
	return &Envelope{Type: EnvelopeTypePong, Timestamp: Now()}
}

func NewErrorEnvelope(message string) *Envelope {
	return &Envelope{Type: EnvelopeTypeError, Message: message, Timestamp: Now()}
}
