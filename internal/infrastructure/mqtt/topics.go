package mqtt

import (
	"fmt"
	"strings"
)

// Topic leaves under <prefix>/<device_id>/.
const (
	leafExecute = "execute"
	leafResults = "results"
	leafStatus  = "status"
	leafEvents  = "events"
)

// Topics builds the topic tree of one controller:
//
//	<prefix>/<device_id>/execute[/<correlation>]   command batches in
//	<prefix>/<device_id>/results[/<correlation>]   batch responses out
//	<prefix>/<device_id>/status                    retained online/offline, LWT
//	<prefix>/<device_id>/events/<type>             executed-command events
type Topics struct {
	base string
}

// NewTopics validates prefix and deviceID and returns the topic builder.
// Neither may contain MQTT wildcards; slashes around the prefix are trimmed.
func NewTopics(prefix, deviceID string) (Topics, error) {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" || deviceID == "" {
		return Topics{}, fmt.Errorf("%w: prefix and device id are required", ErrInvalidTopic)
	}
	if strings.ContainsAny(prefix, "+#") || strings.ContainsAny(deviceID, "+#/") {
		return Topics{}, fmt.Errorf("%w: %q/%q contains wildcard or separator", ErrInvalidTopic, prefix, deviceID)
	}
	return Topics{base: prefix + "/" + deviceID}, nil
}

// Base returns "<prefix>/<device_id>".
func (t Topics) Base() string { return t.base }

// Execute returns the plain command topic.
func (t Topics) Execute() string { return t.base + "/" + leafExecute }

// ExecuteFilter matches Execute and every correlated execute topic.
func (t Topics) ExecuteFilter() string { return t.Execute() + "/#" }

// Results returns the response topic for a batch received on execTopic:
// a batch on execute/<c> is answered on results/<c>, a plain execute on
// results.
func (t Topics) Results(execTopic string) string {
	if c := t.Correlation(execTopic); c != "" {
		return t.base + "/" + leafResults + "/" + c
	}
	return t.base + "/" + leafResults
}

// Correlation returns the part of execTopic after ".../execute/", or "".
func (t Topics) Correlation(execTopic string) string {
	rest, ok := strings.CutPrefix(execTopic, t.Execute()+"/")
	if !ok {
		return ""
	}
	return rest
}

// Status returns the retained online/offline topic, also used as LWT.
func (t Topics) Status() string { return t.base + "/" + leafStatus }

// Event returns the topic for one event type, e.g. "command.executed".
func (t Topics) Event(eventType string) string {
	return t.base + "/" + leafEvents + "/" + eventType
}
