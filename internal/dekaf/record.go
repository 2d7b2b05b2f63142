package dekaf

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/hamba/avro/v2"

	"github.com/estuary/agent/internal/apierrors"
	"github.com/estuary/agent/internal/models"
	"github.com/estuary/agent/internal/names"
)

// DeletionMode selects how a deleted document is represented on the
// synthesized Kafka topic (§4.8 "Deletion mode").
type DeletionMode string

const (
	DeletionModeKafka DeletionMode = "kafka"
	DeletionModeCDC   DeletionMode = "cdc"
)

// isDeletedField is the synthetic field cdc mode adds to every record
// and forbids users from declaring themselves (§4.8).
const isDeletedField = "_is_deleted"

// avroIdentifierRe is Avro's "name" production: a letter or underscore
// followed by letters, digits, or underscores (§4.8 "Field folding").
var avroIdentifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// foldFieldName replaces '/' with '_' ahead of Avro emission, matching
// how Flow's own field names are derived from JSON-pointer locations
// (§4.8 "Field folding").
func foldFieldName(field string) string {
	return strings.ReplaceAll(field, "/", "_")
}

// validateFoldedName rejects a folded field name that fails the Avro
// identifier grammar, pointing the user at the projection mechanism
// (§4.8 "reject any folded name that fails the Avro identifier regex").
func validateFoldedName(collection names.Catalog, original, folded string) error {
	if !avroIdentifierRe.MatchString(folded) {
		return apierrors.InvalidArgument(names.Scope(collection, names.JSONPointer(original)),
			"field %q folds to %q, which is not a valid Avro identifier; "+
				"declare an explicit projection with a compatible field name", original, folded)
	}
	return nil
}

// SchemaSynthesizer builds the Avro schema for a topic from a
// Collection's read-schema and deletion mode, and encodes/decodes
// individual records against it (§4.8 "Record synthesis").
type SchemaSynthesizer struct {
	Mode DeletionMode
}

// BuildSchema synthesizes an Avro record schema from the collection's
// projections, folding field names and validating them, and
// (in cdc mode) appending the `_is_deleted` int field (1 on deletes, 0
// otherwise). A full
// recursive JSON-Schema-to-Avro compiler is out of scope; Dekaf works
// off the flattened `projections` the validator already computed for
// the collection's built spec, one Avro field per projection (§4.8,
// §4.4 step 3).
func (s SchemaSynthesizer) BuildSchema(collection names.Catalog, projections []models.Projection) (avro.Schema, error) {
	var fields []map[string]any
	var seen = map[string]bool{}

	for _, p := range projections {
		var folded = foldFieldName(p.Field)
		if err := validateFoldedName(collection, p.Field, folded); err != nil {
			return nil, err
		}
		if s.Mode == DeletionModeCDC && folded == isDeletedField {
			return nil, apierrors.InvalidArgument(names.Scope(collection, names.JSONPointer(p.Field)),
				"field %q is reserved by cdc deletion mode and cannot be user-defined", p.Field)
		}
		if seen[folded] {
			continue
		}
		seen[folded] = true
		fields = append(fields, map[string]any{
			"name": folded,
			"type": []string{"null", "string"},
		})
	}

	if s.Mode == DeletionModeCDC {
		fields = append(fields, map[string]any{
			"name": isDeletedField,
			"type": "int",
		})
	}

	var doc = map[string]any{
		"type":   "record",
		"name":   avroRecordName(collection),
		"fields": fields,
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding synthesized avro schema: %w", err)
	}
	schema, err := avro.Parse(string(encoded))
	if err != nil {
		return nil, fmt.Errorf("parsing synthesized avro schema for %q: %w", collection, err)
	}
	return schema, nil
}

// avroRecordName derives a valid Avro record name from a catalog name by
// folding it the same way field names are folded.
func avroRecordName(collection names.Catalog) string {
	var folded = foldFieldName(string(collection))
	folded = strings.ReplaceAll(folded, "-", "_")
	folded = strings.ReplaceAll(folded, ".", "_")
	if folded == "" || (folded[0] >= '0' && folded[0] <= '9') {
		folded = "_" + folded
	}
	return folded
}

// Document is a single source document read off a Collection's journal,
// carrying the metadata Dekaf needs to decide deletion handling (§4.8).
type Document struct {
	Key      []any
	Fields   map[string]any
	Deleted  bool
}

// Record is a synthesized Kafka record: a key (the collection's
// composite key, concatenated and primitively typed) and a possibly-nil
// value (§4.8 "Record synthesis").
type Record struct {
	Key   []byte
	Value []byte
}

// Encode synthesizes one Kafka record from doc per the configured
// deletion mode (§4.8 "Deletion mode").
func (s SchemaSynthesizer) Encode(schema avro.Schema, doc Document) (Record, error) {
	key, err := encodeKey(doc.Key)
	if err != nil {
		return Record{}, fmt.Errorf("encoding record key: %w", err)
	}

	if s.Mode == DeletionModeKafka && doc.Deleted {
		return Record{Key: key, Value: nil}, nil
	}

	var fields = make(map[string]any, len(doc.Fields)+1)
	for k, v := range doc.Fields {
		fields[foldFieldName(k)] = v
	}
	if s.Mode == DeletionModeCDC {
		if doc.Deleted {
			fields[isDeletedField] = 1
		} else {
			fields[isDeletedField] = 0
		}
	}

	value, err := avro.Marshal(schema, fields)
	if err != nil {
		return Record{}, fmt.Errorf("avro-encoding record value: %w", err)
	}
	return Record{Key: key, Value: value}, nil
}

// encodeKey concatenates a composite key's primitively-typed components
// into a single byte string, matching Flow's own packed-tuple key
// encoding closely enough for Kafka consumers that only need key
// equality/partitioning, not a byte-exact round trip with the runtime's
// internal encoding (§4.8 "Record synthesis").
func encodeKey(key []any) ([]byte, error) {
	var parts = make([]string, 0, len(key))
	for _, k := range key {
		encoded, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		parts = append(parts, string(encoded))
	}
	return []byte(strings.Join(parts, "\x00")), nil
}
