// Package dekaf implements §4.8: a wire-level Kafka read adapter that
// exposes Flow collections as topics. It speaks the subset of the Kafka
// protocol needed by a consumer-only client: ApiVersions, Metadata,
// SaslHandshake, SaslAuthenticate, ListOffsets, Fetch, FindCoordinator,
// JoinGroup, SyncGroup, Heartbeat, LeaveGroup, OffsetFetch, OffsetCommit
// (§6 "Wire-level Kafka interface"). There is no Kafka implementation in
// the retrieval pack to ground wire-framing on, so the frame/request
// envelope follows the protocol exactly as documented in §4.8 and is
// kept as small as the supported API set requires.
package dekaf

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ApiKey identifies a Kafka request type (a small subset of the full
// protocol, per §6).
type ApiKey int16

const (
	ApiProduce          ApiKey = 0
	ApiFetch            ApiKey = 1
	ApiListOffsets      ApiKey = 2
	ApiMetadata         ApiKey = 3
	ApiOffsetCommit     ApiKey = 8
	ApiOffsetFetch      ApiKey = 9
	ApiFindCoordinator   ApiKey = 10
	ApiJoinGroup        ApiKey = 11
	ApiHeartbeat        ApiKey = 12
	ApiLeaveGroup       ApiKey = 13
	ApiSyncGroup        ApiKey = 14
	ApiApiVersions      ApiKey = 18
	ApiSaslHandshake    ApiKey = 17
	ApiSaslAuthenticate ApiKey = 36
)

// RequestHeader is the envelope preceding every request body: api key,
// api version, correlation id, and an optional client id (§4.8
// "Session").
type RequestHeader struct {
	ApiKey        ApiKey
	ApiVersion    int16
	CorrelationID int32
	ClientID      string
}

// ResponseHeader precedes every response body.
type ResponseHeader struct {
	CorrelationID int32
}

// MaxFrameSize bounds a single request/response frame to guard against a
// corrupt or hostile length prefix.
const MaxFrameSize = 100 << 20

// ReadFrame reads one int32-length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	var n = int32(binary.BigEndian.Uint32(lenBuf[:]))
	if n < 0 || n > MaxFrameSize {
		return nil, fmt.Errorf("dekaf: invalid frame length %d", n)
	}
	var buf = make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteFrame writes payload as one int32-length-prefixed frame to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// decoder is a minimal cursor over a Kafka request buffer; the protocol
// uses a mix of fixed-width ints, length-prefixed strings (int16 length)
// and compact/nullable variants are intentionally not supported since
// this adapter only needs to parse the older, fixed-framing message
// versions sufficient for a passive consumer (§4.8).
type decoder struct {
	buf []byte
	pos int
}

func newDecoder(buf []byte) *decoder { return &decoder{buf: buf} }

func (d *decoder) remaining() int { return len(d.buf) - d.pos }

func (d *decoder) int16() (int16, error) {
	if d.remaining() < 2 {
		return 0, io.ErrUnexpectedEOF
	}
	var v = int16(binary.BigEndian.Uint16(d.buf[d.pos:]))
	d.pos += 2
	return v, nil
}

func (d *decoder) int32() (int32, error) {
	if d.remaining() < 4 {
		return 0, io.ErrUnexpectedEOF
	}
	var v = int32(binary.BigEndian.Uint32(d.buf[d.pos:]))
	d.pos += 4
	return v, nil
}

func (d *decoder) int64() (int64, error) {
	if d.remaining() < 8 {
		return 0, io.ErrUnexpectedEOF
	}
	var v = int64(binary.BigEndian.Uint64(d.buf[d.pos:]))
	d.pos += 8
	return v, nil
}

// string_ reads a Kafka-style nullable string: int16 length (-1 means
// null) followed by that many bytes.
func (d *decoder) string_() (string, error) {
	n, err := d.int16()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", nil
	}
	if d.remaining() < int(n) {
		return "", io.ErrUnexpectedEOF
	}
	var s = string(d.buf[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s, nil
}

func (d *decoder) bytes(n int) ([]byte, error) {
	if d.remaining() < n {
		return nil, io.ErrUnexpectedEOF
	}
	var b = d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// encoder builds a response payload using the same primitive widths.
type encoder struct {
	buf []byte
}

func (e *encoder) int16(v int16) { e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(v)) }
func (e *encoder) int32(v int32) { e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(v)) }
func (e *encoder) int64(v int64) { e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(v)) }

func (e *encoder) string_(s string) {
	e.int16(int16(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) nullableBytes(b []byte) {
	if b == nil {
		e.int32(-1)
		return
	}
	e.int32(int32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) bytes(b []byte) { e.buf = append(e.buf, b...) }

// parseRequestHeader decodes the request envelope shared by every API
// key (§4.8 "Session").
func parseRequestHeader(d *decoder) (RequestHeader, error) {
	var h RequestHeader
	apiKey, err := d.int16()
	if err != nil {
		return h, fmt.Errorf("reading api key: %w", err)
	}
	apiVersion, err := d.int16()
	if err != nil {
		return h, fmt.Errorf("reading api version: %w", err)
	}
	correlationID, err := d.int32()
	if err != nil {
		return h, fmt.Errorf("reading correlation id: %w", err)
	}
	clientID, err := d.string_()
	if err != nil {
		return h, fmt.Errorf("reading client id: %w", err)
	}
	h.ApiKey = ApiKey(apiKey)
	h.ApiVersion = apiVersion
	h.CorrelationID = correlationID
	h.ClientID = clientID
	return h, nil
}

func writeResponseHeader(e *encoder, correlationID int32) {
	e.int32(correlationID)
}
