package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// StatusRecordingCompleted is the canonical status for a finished recording.
// Only events carrying this status are forwarded to the download queue.
const StatusRecordingCompleted = "RECORDING_MEETING_COMPLETED"

// ErrBadPayload marks payloads that could not be parsed as any known webhook
// shape. Handlers map it to a 400 response; it is never retried.
var ErrBadPayload = errors.New("bad webhook payload")

// Event is the canonical recording event produced by Parse. UUID and HostID
// are guaranteed non-empty whenever Status is StatusRecordingCompleted.
type Event struct {
	Status       string
	UUID         string
	HostID       string
	DelaySeconds *int
}

// Parse normalizes a raw webhook body into an Event. Zoom has shipped three
// incompatible notification shapes over time; each is handled as an explicit
// case. Form encoding is attempted first because the two legacy shapes are
// form-encoded; JSON is attempted only when form parsing cannot establish a
// "type" or "status" field.
func Parse(body []byte) (*Event, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrBadPayload)
	}

	if form, ok := parseForm(string(body)); ok {
		if form.Has("type") {
			return parseLegacyForm(form)
		}
		if form.Has("status") {
			return parseCanonicalForm(form)
		}
	}
	return parseJSON(body)
}

// parseForm accepts only bodies that look like form data: at least one k=v
// pair and no query-parse errors.
func parseForm(body string) (url.Values, bool) {
	if !strings.Contains(body, "=") {
		return nil, false
	}
	form, err := url.ParseQuery(body)
	if err != nil {
		return nil, false
	}
	return form, true
}

// parseLegacyForm handles the oldest shape: a "type" field plus a "content"
// field holding a JSON string with the meeting uuid and host id.
func parseLegacyForm(form url.Values) (*Event, error) {
	if !form.Has("content") {
		return nil, fmt.Errorf("%w: payload missing 'content' value", ErrBadPayload)
	}
	var content struct {
		UUID   string `json:"uuid"`
		HostID string `json:"host_id"`
	}
	if err := json.Unmarshal([]byte(form.Get("content")), &content); err != nil {
		return nil, fmt.Errorf("%w: failed to parse payload 'content' value: %v", ErrBadPayload, err)
	}
	if content.UUID == "" || content.HostID == "" {
		return nil, fmt.Errorf("%w: 'content' missing uuid or host_id", ErrBadPayload)
	}
	return &Event{
		Status:       form.Get("type"),
		UUID:         content.UUID,
		HostID:       content.HostID,
		DelaySeconds: formDelay(form),
	}, nil
}

// parseCanonicalForm handles form bodies that already use the canonical
// field names and passes them through unchanged.
func parseCanonicalForm(form url.Values) (*Event, error) {
	ev := &Event{
		Status:       form.Get("status"),
		UUID:         form.Get("uuid"),
		HostID:       form.Get("host_id"),
		DelaySeconds: formDelay(form),
	}
	if ev.Status == StatusRecordingCompleted && (ev.UUID == "" || ev.HostID == "") {
		return nil, fmt.Errorf("%w: completed event missing uuid or host_id", ErrBadPayload)
	}
	return ev, nil
}

// parseJSON handles the current webhook schema: a top-level "event" naming
// the notification type and a "payload" holding the meeting object. A body
// with "event" but no "payload" (e.g. endpoint validation pings) is treated
// as already canonical and returned without field extraction.
func parseJSON(body []byte) (*Event, error) {
	var doc struct {
		Event   *string         `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(body, &doc); err != nil || doc.Event == nil {
		return nil, fmt.Errorf("%w: unrecognized payload format", ErrBadPayload)
	}

	status := *doc.Event
	if len(doc.Payload) == 0 {
		return &Event{Status: status}, nil
	}

	var payload struct {
		Meeting      json.RawMessage `json:"meeting"`
		Object       json.RawMessage `json:"object"`
		DelaySeconds *int            `json:"delay_seconds"`
	}
	if err := json.Unmarshal(doc.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: unrecognized payload format: %v", ErrBadPayload, err)
	}
	// older new-style payloads nest the meeting under "meeting" instead of "object"
	obj := payload.Object
	if len(obj) == 0 {
		obj = payload.Meeting
	}

	lower := strings.ToLower(status)
	if !strings.Contains(lower, "recording") || !strings.Contains(lower, "completed") {
		// valid but not actionable; keep the raw event string
		return &Event{Status: status, DelaySeconds: payload.DelaySeconds}, nil
	}

	var meeting struct {
		UUID   string `json:"uuid"`
		HostID string `json:"host_id"`
	}
	if len(obj) == 0 {
		return nil, fmt.Errorf("%w: completed event missing meeting object", ErrBadPayload)
	}
	if err := json.Unmarshal(obj, &meeting); err != nil {
		return nil, fmt.Errorf("%w: unrecognized meeting object: %v", ErrBadPayload, err)
	}
	if meeting.UUID == "" || meeting.HostID == "" {
		return nil, fmt.Errorf("%w: completed event missing uuid or host_id", ErrBadPayload)
	}
	return &Event{
		Status:       StatusRecordingCompleted,
		UUID:         meeting.UUID,
		HostID:       meeting.HostID,
		DelaySeconds: payload.DelaySeconds,
	}, nil
}

func formDelay(form url.Values) *int {
	if !form.Has("delay_seconds") {
		return nil
	}
	n, err := strconv.Atoi(form.Get("delay_seconds"))
	if err != nil {
		return nil
	}
	return &n
}
