// Package stratum implements the client side of the Stratum V1 mining
// protocol: connection lifecycle, newline framing, message dispatch and
// request construction.
package stratum

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// Methods used on the wire.
const (
	MethodSubscribe     = "mining.subscribe"
	MethodAuthorize     = "mining.authorize"
	MethodSubmit        = "mining.submit"
	MethodNotify        = "mining.notify"
	MethodSetDifficulty = "mining.set_difficulty"
	MethodSetExtranonce = "mining.set_extranonce"
)

// Request ids. The pool echoes them back; they are fixed per method.
const (
	SubscribeID = 1
	AuthorizeID = 1
	SubmitID    = 4
)

// SubmitWorkerName is the worker field sent with every share.
const SubmitWorkerName = "generic"

// Message represents a Stratum JSON-RPC message
type Message struct {
	ID     any    `json:"id"`
	Method string `json:"method,omitempty"`
	Params []any  `json:"params,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// Error represents a Stratum error response. Pools send it either as an
// object or as the classic [code, message, data] array.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Common Stratum error codes
const (
	ErrorOther          = 20
	ErrorJobNotFound    = 21
	ErrorDuplicateShare = 22
	ErrorLowDifficulty  = 23
	ErrorUnauthorized   = 24
	ErrorNotSubscribed  = 25
	ErrorParseError     = -32700
)

func (e *Error) Error() string {
	return fmt.Sprintf("stratum error %d: %s", e.Code, e.Message)
}

func parseError(data []byte) (*Error, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	var raw any
	if err := decode(data, &raw); err != nil {
		return nil, err
	}
	e := &Error{Code: ErrorOther}
	switch v := raw.(type) {
	case map[string]any:
		e.Code = intValue(v["code"])
		e.Message, _ = v["message"].(string)
		e.Data = v["data"]
	case []any:
		if len(v) > 0 {
			e.Code = intValue(v[0])
		}
		if len(v) > 1 {
			e.Message, _ = v[1].(string)
		}
		if len(v) > 2 {
			e.Data = v[2]
		}
	case string:
		e.Message = v
	default:
		e.Message = string(data)
	}
	return e, nil
}

// wireMessage defers error decoding so the object, array and bare string
// forms can all be accepted.
type wireMessage struct {
	ID     any             `json:"id"`
	Method string          `json:"method"`
	Params []any           `json:"params"`
	Result any             `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// ParseMessage parses a JSON-RPC message from bytes. Numbers are kept as
// json.Number so 64-bit header words survive intact.
func ParseMessage(data []byte) (*Message, error) {
	var w wireMessage
	if err := decode(data, &w); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	e, err := parseError(w.Error)
	if err != nil {
		return nil, fmt.Errorf("failed to parse error field: %w", err)
	}
	return &Message{
		ID:     w.ID,
		Method: w.Method,
		Params: w.Params,
		Result: w.Result,
		Error:  e,
	}, nil
}

func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// MarshalMessage marshals a message to JSON bytes
func MarshalMessage(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

// NewRequest creates a new request message
func NewRequest(id any, method string, params []any) *Message {
	return &Message{
		ID:     id,
		Method: method,
		Params: params,
	}
}

// NewSubscribeRequest builds mining.subscribe.
func NewSubscribeRequest(userAgent string) *Message {
	return NewRequest(SubscribeID, MethodSubscribe, []any{userAgent})
}

// NewAuthorizeRequest builds mining.authorize.
func NewAuthorizeRequest(user, password string) *Message {
	return NewRequest(AuthorizeID, MethodAuthorize, []any{user, password})
}

// NewSubmitRequest builds mining.submit with the nonce as 16 hex digits.
func NewSubmitRequest(jobID, nonceHex string) *Message {
	return NewRequest(SubmitID, MethodSubmit, []any{SubmitWorkerName, jobID, nonceHex})
}

// NewResponse creates a new response message
func NewResponse(id any, result any) *Message {
	return &Message{
		ID:     id,
		Result: result,
	}
}

// NewErrorResponse creates a new error response message
func NewErrorResponse(id any, code int, message string) *Message {
	return &Message{
		ID: id,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	}
}

// NewNotification creates a new notification message
func NewNotification(method string, params []any) *Message {
	return &Message{
		Method: method,
		Params: params,
	}
}

// IsNotification returns true if the message carries a method
func (m *Message) IsNotification() bool {
	return m.Method != ""
}

// IsResponse returns true if the message carries a result or an error
func (m *Message) IsResponse() bool {
	return m.Result != nil || m.Error != nil
}

// IntID returns the numeric request id, if any.
func (m *Message) IntID() (int, bool) {
	switch m.ID.(type) {
	case json.Number, float64, int:
		return intValue(m.ID), true
	}
	return 0, false
}

// SubmitParams is a decoded mining.submit request.
type SubmitParams struct {
	Worker string
	JobID  string
	Nonce  string
}

// ParseSubmitRequest parses mining.submit parameters
func ParseSubmitRequest(params []any) (*SubmitParams, error) {
	if len(params) < 3 {
		return nil, fmt.Errorf("insufficient parameters")
	}
	var out SubmitParams
	var ok bool
	if out.Worker, ok = params[0].(string); !ok {
		return nil, fmt.Errorf("worker must be string")
	}
	if out.JobID, ok = params[1].(string); !ok {
		return nil, fmt.Errorf("job_id must be string")
	}
	if out.Nonce, ok = params[2].(string); !ok || len(out.Nonce) != 16 {
		return nil, fmt.Errorf("nonce must be a 16 digit hex string")
	}
	return &out, nil
}

// ParseSubscribeResult extracts extranonce1 and the extranonce2 size from a
// subscribe result of the form [subscriptions, extranonce1, size].
func ParseSubscribeResult(result []any) (SessionParams, bool) {
	if len(result) < 3 {
		return SessionParams{}, false
	}
	en1, ok := result[1].(string)
	if !ok {
		return SessionParams{}, false
	}
	b, err := hexDecode(en1)
	if err != nil {
		return SessionParams{}, false
	}
	size, err := parseUint64(result[2])
	if err != nil {
		return SessionParams{}, false
	}
	return SessionParams{ExtraNonce1: b, ExtraNonce2Size: int(size)}, true
}

// ParseSetDifficulty reads the difficulty from mining.set_difficulty params.
func ParseSetDifficulty(params []any) (float64, error) {
	if len(params) < 1 {
		return 0, fmt.Errorf("insufficient parameters")
	}
	switch v := params[0].(type) {
	case json.Number:
		return v.Float64()
	case float64:
		return v, nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("difficulty must be numeric, got %T", params[0])
	}
}

func intValue(v any) int {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, _ := n.Float64()
			return int(f)
		}
		return int(i)
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}
