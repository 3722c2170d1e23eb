package inference

import (
	"encoding/json"
	"strings"
)

// Kind discriminates the response shapes the endpoint has produced across
// its deployment generations.
type Kind string

const (
	// KindText is a synchronous reply with plain text.
	KindText Kind = "text"
	// KindBlocks is a synchronous reply carrying a Block Kit payload
	// alongside its text fallback.
	KindBlocks Kind = "blocks"
	// KindAck is an asynchronous acknowledgement: the request was accepted
	// and the real answer arrives out of band.
	KindAck Kind = "ack"
	// KindError is a failed call, local or remote.
	KindError Kind = "error"
)

// Result is the parsed outcome of one inference call.
type Result struct {
	Kind   Kind
	Text   string
	Blocks json.RawMessage // set only for KindBlocks
	Err    string          // set only for KindError
}

// ErrorResult wraps a failure string as a Result.
func ErrorResult(msg string) Result {
	return Result{Kind: KindError, Err: msg}
}

// wireResponse covers all three response generations:
//
//	{"reply": "..."}
//	{"reply": "...", "blocks": [...]}
//	{"ok": bool, "reply": {"text": ...}|null, "error": string|null}
//
// The presence of "ok" selects the third generation.
type wireResponse struct {
	OK     *bool           `json:"ok"`
	Reply  json.RawMessage `json:"reply"`
	Blocks json.RawMessage `json:"blocks"`
	Error  *string         `json:"error"`
}

// ParseResponse resolves a raw response body into a Result. This is the only
// place response shapes are probed; everything downstream switches on Kind.
func ParseResponse(raw []byte) Result {
	var wire wireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return ErrorResult("malformed inference response: " + err.Error())
	}

	if wire.OK != nil {
		return parseSyncAsync(wire)
	}

	text := replyText(wire.Reply)
	if len(wire.Blocks) > 0 && !isJSONNull(wire.Blocks) {
		return Result{Kind: KindBlocks, Text: text, Blocks: wire.Blocks}
	}
	return Result{Kind: KindText, Text: text}
}

// parseSyncAsync handles the {ok, reply, error} generation.
func parseSyncAsync(wire wireResponse) Result {
	if !*wire.OK {
		msg := "unknown error"
		if wire.Error != nil && *wire.Error != "" {
			msg = *wire.Error
		}
		return ErrorResult(msg)
	}
	text := replyText(wire.Reply)
	if text == "" {
		// Accepted without a reply: the answer arrives later.
		return Result{Kind: KindAck}
	}
	return Result{Kind: KindText, Text: text}
}

// replyText extracts the reply text whether the field is a bare string or an
// object with a "text" member.
func replyText(raw json.RawMessage) string {
	if len(raw) == 0 || isJSONNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.Text)
	}
	return ""
}

func isJSONNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}

func marshalRequest(wire wireRequest) ([]byte, error) {
	return json.Marshal(wire)
}
