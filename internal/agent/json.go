package agent

import "encoding/json"

// rawJSON wraps already-encoded JSON bytes so they marshal verbatim as
// part of a larger structure, instead of being re-escaped as a string.
func rawJSON(b []byte) json.RawMessage {
	return json.RawMessage(b)
}
