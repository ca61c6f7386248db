// Package rpcproto defines the wire message shapes shared by the RPC
// server and its clients (spec.md §4.5): a JSON request frame, a JSON
// response frame, and the conventions around the optional trailing bytes
// frame used for bulk `read` payloads.
//
// Grounded on the teacher's velox/cookieauth JSON request/response shapes
// (flat JSON objects, no protobuf) generalized to spec.md's command set, and
// on uber-kraken's lib/torrent/scheduler/conn/message.go for the framing
// discipline this wire format borrows (length-prefixed frames) even though
// the payload here is JSON rather than protobuf.
package rpcproto

import "encoding/json"

// MaxReadSize is the hard ceiling on a single `read` request's size field
// (spec.md §4.5: "0 ≤ size ≤ 4 MiB").
const MaxReadSize = 4 * 1024 * 1024

// Request is one client->server JSON frame. Only the fields relevant to Cmd
// are populated; the rest are left at their zero value.
type Request struct {
	Cmd      string   `json:"cmd"`
	ID       string   `json:"id,omitempty"`
	Torrent  string   `json:"torrent,omitempty"`
	Path     string   `json:"path,omitempty"`
	Offset   int64    `json:"offset,omitempty"`
	Size     int64    `json:"size,omitempty"`
	Mode     string   `json:"mode,omitempty"`
	TimeoutS float64  `json:"timeout_s,omitempty"`
	MaxFiles int      `json:"max_files,omitempty"`
	MaxDepth int      `json:"max_depth,omitempty"`
	MaxDirs  int      `json:"max_dirs,omitempty"`
	DryRun   bool     `json:"dry_run,omitempty"`
	KeepPins bool     `json:"keep_pins,omitempty"`
	Basename string   `json:"basename,omitempty"`
	Trackers []string `json:"trackers,omitempty"`
}

// Response is one server->client JSON frame, optionally followed by exactly
// one bytes frame of DataLen bytes (only when OK is true and DataLen > 0).
// Fields carries the command-specific payload and is flattened into the
// top-level JSON object alongside id/ok/error/data_len.
type Response struct {
	ID      string
	OK      bool
	Error   string
	DataLen int
	Fields  map[string]interface{}
}

// MarshalJSON flattens Fields alongside the envelope keys into one object.
func (r Response) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(r.Fields)+4)
	for k, v := range r.Fields {
		m[k] = v
	}
	m["id"] = r.ID
	m["ok"] = r.OK
	if r.Error != "" {
		m["error"] = r.Error
	}
	if r.DataLen > 0 {
		m["data_len"] = r.DataLen
	}
	return json.Marshal(m)
}

// OK builds a successful response with the given id and payload fields.
func OK(id string, fields map[string]interface{}) Response {
	return Response{ID: id, OK: true, Fields: fields}
}

// Err builds a failed response with the given id and error token.
func Err(id, token string) Response {
	return Response{ID: id, OK: false, Error: token}
}
