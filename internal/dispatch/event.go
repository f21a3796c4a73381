package dispatch

import "time"

// EventCommandExecuted is the event type published for every Record.
const EventCommandExecuted = "command.executed"

// Event is the transport-neutral form of a Record, broadcast to websocket
// clients and published on MQTT. Params and data are left out; the error
// message is included for failed commands.
type Event struct {
	RequestID  string `json:"request_id"`
	Source     string `json:"source"`
	Index      int    `json:"index"`
	Module     string `json:"module"`
	Command    string `json:"command"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	DurationUS int64  `json:"duration_us"`
	Timestamp  string `json:"timestamp"`
}

// NewEvent converts rec.
func NewEvent(rec Record) Event {
	return Event{
		RequestID:  rec.RequestID,
		Source:     rec.Source,
		Index:      rec.Index,
		Module:     rec.Module,
		Command:    rec.Command,
		OK:         rec.Outcome.OK(),
		Error:      rec.Outcome.Error,
		DurationUS: rec.Duration.Microseconds(),
		Timestamp:  rec.Started.UTC().Format(time.RFC3339Nano),
	}
}

// Status returns "ok" or "error", the label used by metrics and telemetry.
func (r Record) Status() string {
	if r.Outcome.OK() {
		return "ok"
	}
	return "error"
}
