package dekaf

import (
	"context"
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/estuary/agent/internal/ops"
)

// RecordSource fetches the next batch of synthesized records for a
// topic-partition starting at offset, along with the current high
// watermark (§4.8 "Record synthesis"). The concrete implementation
// pulls documents off the Collection's journal via the control-plane
// API client and encodes them through a SchemaSynthesizer; the journal
// read itself is behind this seam since the physical Gazette fragment
// format (UUID placeholders, content-encoding, compression) is outside
// this adapter's wire-protocol scope (§1 "the core does not provide the
// streaming runtime itself").
type RecordSource interface {
	Fetch(ctx context.Context, topic string, partition int32, offset, maxBytes int64) (records []Record, highWatermark int64, err error)
}

// Session is one TLS TCP connection, serving Kafka requests serially —
// only one in-flight request at a time, preserving response ordering
// (§4.8 "Session").
type Session struct {
	Conn           net.Conn
	Auth           Authenticator
	EnabledMechs   []Mechanism
	Config         TaskConfig
	MetadataBuilder MetadataBuilder
	Records        RecordSource
	Logger         ops.Logger

	auth *authState
}

// NewSession constructs a Session ready to Serve.
func NewSession(conn net.Conn, auth Authenticator, mechs []Mechanism, cfg TaskConfig, mb MetadataBuilder, records RecordSource, logger ops.Logger) *Session {
	return &Session{
		Conn: conn, Auth: auth, EnabledMechs: mechs, Config: cfg,
		MetadataBuilder: mb, Records: records, Logger: logger,
		auth: newAuthState(mechs),
	}
}

// Serve reads and dispatches requests until the connection closes or ctx
// is cancelled (§4.8 "Session"). A connection-fatal error (malformed
// frame, failed auth) closes the connection; it never panics.
func (s *Session) Serve(ctx context.Context) error {
	defer s.Conn.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := ReadFrame(s.Conn)
		if err != nil {
			return err
		}
		d := newDecoder(frame)
		header, err := parseRequestHeader(d)
		if err != nil {
			return fmt.Errorf("dekaf: parsing request header: %w", err)
		}

		body, err := s.dispatch(ctx, header, d)
		if err != nil {
			_ = s.Logger.Log(log.ErrorLevel, log.Fields{"apiKey": header.ApiKey, "error": err.Error()}, "dekaf request failed")
			return err
		}

		var e = &encoder{}
		writeResponseHeader(e, header.CorrelationID)
		e.bytes(body)
		if err := WriteFrame(s.Conn, e.buf); err != nil {
			return err
		}
		if header.ApiKey == ApiSaslAuthenticate && !s.auth.authenticated {
			return fmt.Errorf("dekaf: SASL authentication failed")
		}
	}
}

func (s *Session) dispatch(ctx context.Context, h RequestHeader, d *decoder) ([]byte, error) {
	// ApiVersions and the two SASL requests must work before
	// authentication completes (§4.8 "Authentication").
	switch h.ApiKey {
	case ApiApiVersions:
		return s.handleApiVersions(), nil
	case ApiSaslHandshake:
		return s.handleSaslHandshake(d)
	case ApiSaslAuthenticate:
		return s.handleSaslAuthenticate(d)
	}

	if !s.auth.authenticated {
		return nil, fmt.Errorf("dekaf: request with api key %d before authentication completed", h.ApiKey)
	}

	switch h.ApiKey {
	case ApiMetadata:
		return s.handleMetadata(ctx, d)
	case ApiListOffsets:
		return s.handleListOffsets(ctx, d)
	case ApiFetch:
		return s.handleFetch(ctx, d)
	case ApiFindCoordinator:
		return s.handleFindCoordinator(d)
	case ApiJoinGroup:
		return s.handleJoinGroup(d)
	case ApiSyncGroup:
		return s.handleSyncGroup(d)
	case ApiHeartbeat:
		return s.handleHeartbeat(d)
	case ApiLeaveGroup:
		return s.handleLeaveGroup(d)
	case ApiOffsetFetch:
		return s.handleOffsetFetch(d)
	case ApiOffsetCommit:
		return s.handleOffsetCommit(d)
	default:
		return nil, fmt.Errorf("dekaf: unsupported api key %d", h.ApiKey)
	}
}

// supportedApis lists the (apiKey, minVersion, maxVersion) triples this
// adapter answers, returned verbatim by ApiVersions (§6 "Wire-level
// Kafka interface").
var supportedApis = []ApiKey{
	ApiApiVersions, ApiMetadata, ApiSaslHandshake, ApiSaslAuthenticate,
	ApiListOffsets, ApiFetch, ApiFindCoordinator, ApiJoinGroup, ApiSyncGroup,
	ApiHeartbeat, ApiLeaveGroup, ApiOffsetFetch, ApiOffsetCommit,
}

func (s *Session) handleApiVersions() []byte {
	var e = &encoder{}
	e.int16(0) // error_code
	e.int32(int32(len(supportedApis)))
	for _, k := range supportedApis {
		e.int16(int16(k))
		e.int16(0) // min version
		e.int16(0) // max version
	}
	return e.buf
}

func (s *Session) handleSaslHandshake(d *decoder) ([]byte, error) {
	mechanism, err := d.string_()
	if err != nil {
		return nil, fmt.Errorf("reading mechanism: %w", err)
	}
	supported, ok := s.auth.handshake(Mechanism(mechanism))

	var e = &encoder{}
	if ok {
		e.int16(0)
	} else {
		e.int16(34) // UNSUPPORTED_SASL_MECHANISM
	}
	e.int32(int32(len(supported)))
	for _, m := range supported {
		e.string_(string(m))
	}
	return e.buf, nil
}

func (s *Session) handleSaslAuthenticate(d *decoder) ([]byte, error) {
	n, err := d.int32()
	if err != nil {
		return nil, fmt.Errorf("reading auth bytes length: %w", err)
	}
	authBytes, err := d.bytes(int(n))
	if err != nil {
		return nil, fmt.Errorf("reading auth bytes: %w", err)
	}

	var e = &encoder{}
	if err := s.auth.authenticate(s.Auth, authBytes); err != nil {
		e.int16(58) // SASL_AUTHENTICATION_FAILED
		e.string_(err.Error())
		e.nullableBytes(nil)
		return e.buf, nil
	}
	e.int16(0)
	e.string_("")
	e.nullableBytes(nil)
	return e.buf, nil
}

func (s *Session) handleMetadata(ctx context.Context, d *decoder) ([]byte, error) {
	count, err := d.int32()
	if err != nil {
		return nil, fmt.Errorf("reading topic count: %w", err)
	}
	var requested []string
	if count < 0 {
		for _, b := range s.Config.Bindings {
			requested = append(requested, b.Topic)
		}
	} else {
		for i := int32(0); i < count; i++ {
			name, err := d.string_()
			if err != nil {
				return nil, fmt.Errorf("reading topic name: %w", err)
			}
			requested = append(requested, name)
		}
	}

	var byTopic = map[string]ResourceConfig{}
	for _, b := range s.Config.Bindings {
		byTopic[b.Topic] = b
	}

	var e = &encoder{}
	e.int32(1) // one synthesized broker
	e.int32(s.MetadataBuilder.Broker.NodeID)
	e.string_(s.MetadataBuilder.Broker.Host)
	e.int32(s.MetadataBuilder.Broker.Port)

	e.int32(int32(len(requested)))
	for _, name := range requested {
		binding, ok := byTopic[name]
		if !ok {
			e.int16(3) // UNKNOWN_TOPIC_OR_PARTITION
			e.string_(name)
			e.int32(0)
			continue
		}
		topic, err := s.MetadataBuilder.BuildTopic(ctx, binding)
		if err != nil {
			e.int16(15) // LEADER_NOT_AVAILABLE
			e.string_(name)
			e.int32(0)
			continue
		}
		e.int16(0)
		e.string_(name)
		e.int32(int32(len(topic.Partitions)))
		for _, p := range topic.Partitions {
			e.int16(0)
			e.int32(p.ID)
			e.int32(p.Leader)
			e.int32(int32(len(p.Replicas)))
			for _, r := range p.Replicas {
				e.int32(r)
			}
			e.int32(int32(len(p.Replicas)))
			for _, r := range p.Replicas {
				e.int32(r)
			}
		}
	}
	return e.buf, nil
}

// handleListOffsets answers with offset 0 for "earliest" (-2) queries
// and the record source's high watermark for "latest" (-1) queries; a
// specific timestamp query is not supported since Dekaf's adapter never
// needs time-indexed seeks (§6 "ListOffsets").
func (s *Session) handleListOffsets(ctx context.Context, d *decoder) ([]byte, error) {
	if _, err := d.int32(); err != nil { // replica id
		return nil, err
	}
	topicCount, err := d.int32()
	if err != nil {
		return nil, err
	}

	var e = &encoder{}
	e.int32(topicCount)
	for t := int32(0); t < topicCount; t++ {
		topic, err := d.string_()
		if err != nil {
			return nil, err
		}
		e.string_(topic)

		partCount, err := d.int32()
		if err != nil {
			return nil, err
		}
		e.int32(partCount)
		for p := int32(0); p < partCount; p++ {
			partition, err := d.int32()
			if err != nil {
				return nil, err
			}
			timestamp, err := d.int64()
			if err != nil {
				return nil, err
			}

			var offset int64
			if timestamp == -1 {
				_, hw, err := s.Records.Fetch(ctx, topic, partition, 0, 0)
				if err == nil {
					offset = hw
				}
			}
			e.int32(partition)
			e.int16(0)
			e.int64(offset)
		}
	}
	return e.buf, nil
}

func (s *Session) handleFetch(ctx context.Context, d *decoder) ([]byte, error) {
	if _, err := d.int32(); err != nil { // replica id
		return nil, err
	}
	if _, err := d.int32(); err != nil { // max wait ms
		return nil, err
	}
	if _, err := d.int32(); err != nil { // min bytes
		return nil, err
	}
	topicCount, err := d.int32()
	if err != nil {
		return nil, err
	}

	var e = &encoder{}
	e.int32(topicCount)
	for t := int32(0); t < topicCount; t++ {
		topic, err := d.string_()
		if err != nil {
			return nil, err
		}
		e.string_(topic)

		partCount, err := d.int32()
		if err != nil {
			return nil, err
		}
		e.int32(partCount)
		for p := int32(0); p < partCount; p++ {
			partition, err := d.int32()
			if err != nil {
				return nil, err
			}
			fetchOffset, err := d.int64()
			if err != nil {
				return nil, err
			}
			maxBytes, err := d.int32()
			if err != nil {
				return nil, err
			}

			records, hw, err := s.Records.Fetch(ctx, topic, partition, fetchOffset, int64(maxBytes))
			e.int32(partition)
			if err != nil {
				e.int16(1) // OFFSET_OUT_OF_RANGE
				e.int64(hw)
				e.nullableBytes(nil)
				continue
			}
			e.int16(0)
			e.int64(hw)
			e.nullableBytes(encodeRecordBatch(fetchOffset, records))
		}
	}
	return e.buf, nil
}

// The group-coordination APIs below implement a minimal single-member,
// single-generation group protocol: Dekaf presents itself as its own
// coordinator and always admits the sole consumer, since every Dekaf
// session is scoped to one reader (§6 lists these APIs as required by
// real Kafka consumer clients' startup sequence even when no actual
// rebalance will ever occur).

func (s *Session) handleFindCoordinator(d *decoder) ([]byte, error) {
	if _, err := d.string_(); err != nil {
		return nil, err
	}
	var e = &encoder{}
	e.int16(0)
	e.string_("")
	e.int32(s.MetadataBuilder.Broker.NodeID)
	e.string_(s.MetadataBuilder.Broker.Host)
	e.int32(s.MetadataBuilder.Broker.Port)
	return e.buf, nil
}

func (s *Session) handleJoinGroup(d *decoder) ([]byte, error) {
	var e = &encoder{}
	e.int16(0)
	e.int32(0) // generation id
	e.string_("dekaf")
	e.string_("dekaf-member")
	e.string_("dekaf-member")
	e.int32(0) // empty members array: sole consumer owns every partition implicitly
	return e.buf, nil
}

func (s *Session) handleSyncGroup(d *decoder) ([]byte, error) {
	var e = &encoder{}
	e.int16(0)
	e.nullableBytes(nil)
	return e.buf, nil
}

func (s *Session) handleHeartbeat(d *decoder) ([]byte, error) {
	var e = &encoder{}
	e.int16(0)
	return e.buf, nil
}

func (s *Session) handleLeaveGroup(d *decoder) ([]byte, error) {
	var e = &encoder{}
	e.int16(0)
	return e.buf, nil
}

func (s *Session) handleOffsetFetch(d *decoder) ([]byte, error) {
	if _, err := d.string_(); err != nil { // group id
		return nil, err
	}
	topicCount, err := d.int32()
	if err != nil {
		return nil, err
	}
	var e = &encoder{}
	e.int32(topicCount)
	for t := int32(0); t < topicCount; t++ {
		topic, err := d.string_()
		if err != nil {
			return nil, err
		}
		e.string_(topic)
		partCount, err := d.int32()
		if err != nil {
			return nil, err
		}
		e.int32(partCount)
		for p := int32(0); p < partCount; p++ {
			partition, err := d.int32()
			if err != nil {
				return nil, err
			}
			e.int32(partition)
			e.int64(-1) // no committed offset: client starts from its own policy
			e.string_("")
			e.int16(0)
		}
	}
	return e.buf, nil
}

func (s *Session) handleOffsetCommit(d *decoder) ([]byte, error) {
	if _, err := d.string_(); err != nil { // group id
		return nil, err
	}
	topicCount, err := d.int32()
	if err != nil {
		return nil, err
	}
	var e = &encoder{}
	e.int32(topicCount)
	for t := int32(0); t < topicCount; t++ {
		topic, err := d.string_()
		if err != nil {
			return nil, err
		}
		e.string_(topic)
		partCount, err := d.int32()
		if err != nil {
			return nil, err
		}
		e.int32(partCount)
		for p := int32(0); p < partCount; p++ {
			partition, err := d.int32()
			if err != nil {
				return nil, err
			}
			if _, err := d.int64(); err != nil { // committed offset
				return nil, err
			}
			if _, err := d.string_(); err != nil { // metadata
				return nil, err
			}
			e.int32(partition)
			e.int16(0)
		}
	}
	return e.buf, nil
}
