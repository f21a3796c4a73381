package dispatch

import (
	"encoding/json"

	"github.com/nerrad567/periphctl/internal/module"
)

// Protocol error messages. Clients match on these strings.
const (
	MsgParseFailed     = "Failed to parse JSON"
	MsgInvalidAPIKey   = "Invalid API key"
	MsgModuleNotFound  = "Module not found"
	MsgUnknownCommand  = "Unknown command"
	MsgNotInitialized  = "Module not initialized"
	MsgTimeout         = "Command timed out"
	MsgCancelled       = "Command cancelled"
	MsgInvalidParamFmt = "Invalid parameter: %s"
	MsgHardwareFmt     = "Hardware error: %s"
	MsgInternal        = "Internal error"
)

// Request is one command batch as received on the wire.
type Request struct {
	APIKey   string    `json:"api_key"`
	Commands []Command `json:"commands"`
}

// Command addresses one module command.
type Command struct {
	Module  string        `json:"module"`
	Command string        `json:"command"`
	Params  module.Params `json:"params,omitempty"`
}

// Response is the reply to one batch: either index-aligned results or a
// batch-level error, never both.
type Response struct {
	Results []Outcome
	Error   string
}

// OK reports whether the batch was accepted.
func (r Response) OK() bool { return r.Error == "" }

// MarshalJSON writes {"results": [...]} or {"error": "..."}.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{r.Error})
	}
	results := r.Results
	if results == nil {
		results = []Outcome{}
	}
	return json.Marshal(struct {
		Results []Outcome `json:"results"`
	}{results})
}

// Outcome is the result of one command: data on success, an error message
// otherwise.
type Outcome struct {
	Result module.Result
	Error  string
}

// Failure returns an error outcome.
func Failure(msg string) Outcome { return Outcome{Error: msg} }

// Success returns a data outcome.
func Success(r module.Result) Outcome { return Outcome{Result: r} }

// OK reports whether the command succeeded.
func (o Outcome) OK() bool { return o.Error == "" }

// Data returns the JSON-ready value of a successful result: nil, int64,
// []byte (encoded as base64) or []int64.
func (o Outcome) Data() any {
	switch o.Result.Kind() {
	case module.KindInt:
		v, _ := o.Result.Int()
		return v
	case module.KindBytes:
		b, _ := o.Result.Bytes()
		return b
	case module.KindInts:
		v, _ := o.Result.Ints()
		return v
	default:
		return nil
	}
}

// MarshalJSON writes {"data": ...} or {"error": "..."}.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Error != "" {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{o.Error})
	}
	return json.Marshal(struct {
		Data any `json:"data"`
	}{o.Data()})
}
