package rpc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"

	"github.com/torrentfs/torrentfsd/internal/rpcproto"
)

// maxFrameSize bounds an incoming JSON frame; generous enough for any
// legitimate request (the bulk data itself travels in a separate, unbounded
// bytes frame written directly by the server, never read from a client).
const maxFrameSize = 1 << 20

// readFrame reads one length-prefixed frame from conn: a 4-byte big-endian
// length followed by that many bytes. Grounded on uber-kraken's
// lib/torrent/scheduler/conn/message.go readMessage, adapted from protobuf
// framing to this daemon's JSON/bytes framing (spec.md §4.5).
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("rpc: frame of %d bytes exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeFrame writes data as one length-prefixed frame.
func writeFrame(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// readRequest reads and decodes one request frame.
func readRequest(conn net.Conn) (rpcproto.Request, error) {
	raw, err := readFrame(conn)
	if err != nil {
		return rpcproto.Request{}, err
	}
	var req rpcproto.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return rpcproto.Request{}, fmt.Errorf("rpc: decoding request: %w", err)
	}
	return req, nil
}

// writeResponse writes one response frame, followed by a bytes frame when
// payload is non-nil (only valid for ok=true responses with data_len>0).
func writeResponse(conn net.Conn, resp rpcproto.Response, payload []byte) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("rpc: encoding response: %w", err)
	}
	if err := writeFrame(conn, data); err != nil {
		return err
	}
	if payload != nil {
		return writeFrame(conn, payload)
	}
	return nil
}
