package dekaf

import (
	"encoding/binary"
	"hash/crc32"
)

// castagnoli is Kafka's record-batch checksum polynomial (CRC-32C). No
// CRC32C implementation exists in the retrieval pack, but the algorithm
// is a two-line call against the standard library's crc32 package with
// the Castagnoli table, so no third-party dependency is warranted here
// (see DESIGN.md's stdlib-justification ledger).
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// encodeRecordBatch assembles a single Kafka record batch (magic byte 2)
// containing records, starting at baseOffset. Compression and
// transactional/idempotent-producer fields are not supported; every
// batch is plain, single-producer, non-transactional (§4.8's adapter is
// consumer-only and never itself produces to a real broker).
func encodeRecordBatch(baseOffset int64, records []Record) []byte {
	if len(records) == 0 {
		return nil
	}

	var recordsBuf []byte
	for i, r := range records {
		recordsBuf = append(recordsBuf, encodeRecord(int64(i), r)...)
	}

	// Batch body, everything after the leading base-offset+batch-length
	// fields, starting at the partition-leader-epoch.
	var body []byte
	body = appendInt32(body, -1)      // partition leader epoch
	body = append(body, 2)            // magic byte
	body = appendInt32(body, 0)       // crc placeholder, patched below
	body = appendInt16(body, 0)       // attributes: no compression, no transaction
	body = appendInt32(body, int32(len(records)-1)) // last offset delta
	body = appendInt64(body, 0)       // first timestamp
	body = appendInt64(body, 0)       // max timestamp
	body = appendInt64(body, -1)      // producer id
	body = appendInt16(body, -1)      // producer epoch
	body = appendInt32(body, -1)      // base sequence
	body = appendInt32(body, int32(len(records)))
	body = append(body, recordsBuf...)

	// Patch the CRC over everything from attributes onward (Kafka's CRC
	// covers the batch body from the attributes field through the end).
	var crcOffset = 4 + 1 // partition leader epoch (4) + magic (1)
	var crc = crc32.Checksum(body[crcOffset+4:], castagnoli)
	binary.BigEndian.PutUint32(body[crcOffset:crcOffset+4], crc)

	var out []byte
	out = appendInt64(out, baseOffset)
	out = appendInt32(out, int32(len(body)))
	out = append(out, body...)
	return out
}

// encodeRecord encodes a single record using Kafka's varint-length record
// format (key/value length-prefixed with zigzag varints, empty headers).
func encodeRecord(offsetDelta int64, r Record) []byte {
	var rec []byte
	rec = append(rec, 0) // attributes
	rec = appendVarint(rec, 0) // timestamp delta
	rec = appendVarint(rec, offsetDelta)
	rec = appendVarintBytes(rec, r.Key)
	rec = appendVarintBytes(rec, r.Value)
	rec = appendVarint(rec, 0) // header count

	var out []byte
	out = appendVarint(out, int64(len(rec)))
	out = append(out, rec...)
	return out
}

func appendInt16(b []byte, v int16) []byte { return binary.BigEndian.AppendUint16(b, uint16(v)) }
func appendInt32(b []byte, v int32) []byte { return binary.BigEndian.AppendUint32(b, uint32(v)) }
func appendInt64(b []byte, v int64) []byte { return binary.BigEndian.AppendUint64(b, uint64(v)) }

// appendVarint encodes v as a Kafka-style zigzag varint.
func appendVarint(b []byte, v int64) []byte {
	var zigzag = uint64((v << 1) ^ (v >> 63))
	for zigzag >= 0x80 {
		b = append(b, byte(zigzag)|0x80)
		zigzag >>= 7
	}
	return append(b, byte(zigzag))
}

// appendVarintBytes writes a nullable byte string: -1 for nil, else its
// varint length followed by the bytes.
func appendVarintBytes(b []byte, v []byte) []byte {
	if v == nil {
		return appendVarint(b, -1)
	}
	b = appendVarint(b, int64(len(v)))
	return append(b, v...)
}
