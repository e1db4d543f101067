package runner

import (
	"encoding/json"
	"strings"
)

// Marker protocol: the runner script frames its structured result as a
// single line tagged with a fixed marker key, so tool output and npm
// noise on the same stream can never be mistaken for the envelope.
const (
	// ResultMarker prefixes the success envelope on stdout.
	ResultMarker = "__KAZI_RESULT__"

	// ErrorMarker prefixes the error envelope on stderr.
	ErrorMarker = "__KAZI_ERROR__"
)

// resultEnvelope is the success message: {"output": <any JSON value>}.
type resultEnvelope struct {
	Output json.RawMessage `json:"output"`
}

// errorEnvelope is the error message: {"message": "..."}.
type errorEnvelope struct {
	Message string `json:"message"`
}

// ExtractResult scans stdout for the result marker and returns the
// decoded output value. ok is false when no well-formed envelope is
// present (the lenient fallback path).
func ExtractResult(stdout string) (output any, ok bool) {
	payload, found := markedPayload(stdout, ResultMarker)
	if !found {
		return nil, false
	}
	var env resultEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, false
	}
	var value any
	if len(env.Output) == 0 {
		return nil, true
	}
	if err := json.Unmarshal(env.Output, &value); err != nil {
		return nil, false
	}
	return value, true
}

// ExtractError scans stderr for the error marker and returns the
// structured error message.
func ExtractError(stderr string) (message string, ok bool) {
	payload, found := markedPayload(stderr, ErrorMarker)
	if !found {
		return "", false
	}
	var env errorEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return "", false
	}
	return env.Message, true
}

// markedPayload returns the JSON payload of the last line carrying the
// marker. The last occurrence wins: a chatty tool that happens to echo a
// marker cannot shadow the runner's own final envelope.
func markedPayload(stream, marker string) (string, bool) {
	payload := ""
	found := false
	for _, line := range strings.Split(stream, "\n") {
		line = strings.TrimSpace(line)
		if idx := strings.Index(line, marker); idx >= 0 {
			payload = line[idx+len(marker):]
			found = true
		}
	}
	return payload, found
}
