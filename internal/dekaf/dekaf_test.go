package dekaf

import (
	"testing"

	"github.com/hamba/avro/v2"
	"github.com/stretchr/testify/require"

	"github.com/estuary/agent/internal/models"
)

func TestFieldFoldingAndValidation(t *testing.T) {
	require.Equal(t, "a_b_c", foldFieldName("a/b/c"))
	require.NoError(t, validateFoldedName("cats/noms", "a/b", "a_b"))
	require.Error(t, validateFoldedName("cats/noms", "1bad", "1bad"))
}

func TestCDCModeForbidsUserDefinedIsDeletedField(t *testing.T) {
	var s = SchemaSynthesizer{Mode: DeletionModeCDC}
	_, err := s.BuildSchema("cats/noms", []models.Projection{
		{Field: "key"}, {Field: "_is_deleted"},
	})
	require.Error(t, err)
}

// TestDeletionModes reproduces §8 scenario 6: given a create and a
// delete document, kafka mode tombstones the delete while cdc mode
// carries an explicit _is_deleted flag on both.
func TestDeletionModes(t *testing.T) {
	var projections = []models.Projection{{Field: "key"}}

	t.Run("kafka mode tombstones deletes", func(t *testing.T) {
		var s = SchemaSynthesizer{Mode: DeletionModeKafka}
		schema, err := s.BuildSchema("cats/noms", projections)
		require.NoError(t, err)

		created, err := s.Encode(schema, Document{Key: []any{"a"}, Fields: map[string]any{"key": "a"}, Deleted: false})
		require.NoError(t, err)
		require.NotNil(t, created.Value)

		deleted, err := s.Encode(schema, Document{Key: []any{"b"}, Fields: map[string]any{"key": "b"}, Deleted: true})
		require.NoError(t, err)
		require.Nil(t, deleted.Value)
	})

	t.Run("cdc mode carries an explicit flag", func(t *testing.T) {
		var s = SchemaSynthesizer{Mode: DeletionModeCDC}
		schema, err := s.BuildSchema("cats/noms", projections)
		require.NoError(t, err)

		created, err := s.Encode(schema, Document{Key: []any{"a"}, Fields: map[string]any{"key": "a"}, Deleted: false})
		require.NoError(t, err)
		require.NotNil(t, created.Value)

		deleted, err := s.Encode(schema, Document{Key: []any{"b"}, Fields: map[string]any{"key": "b"}, Deleted: true})
		require.NoError(t, err)
		require.NotNil(t, deleted.Value)

		var decodedCreated, decodedDeleted map[string]any
		require.NoError(t, avro.Unmarshal(schema, created.Value, &decodedCreated))
		require.NoError(t, avro.Unmarshal(schema, deleted.Value, &decodedDeleted))
		require.Equal(t, int32(0), decodedCreated[isDeletedField])
		require.Equal(t, int32(1), decodedDeleted[isDeletedField])
	})
}

func TestSASLHandshakeListsMechanismsByPrecedence(t *testing.T) {
	var a = newAuthState([]Mechanism{MechanismPlain, MechanismScramSHA256})
	supported, ok := a.handshake(MechanismPlain)
	require.True(t, ok)
	require.Equal(t, []Mechanism{MechanismScramSHA256, MechanismPlain}, supported)
}

func TestSASLHandshakeRejectsUnsupportedMechanism(t *testing.T) {
	var a = newAuthState([]Mechanism{MechanismPlain})
	_, ok := a.handshake(MechanismScramSHA512)
	require.False(t, ok)
}

type fakeAuthenticator struct{ principal string }

func (f fakeAuthenticator) Authenticate(mechanism Mechanism, authBytes []byte) (string, error) {
	return f.principal, nil
}

func TestPlainAuthenticationSucceeds(t *testing.T) {
	var a = newAuthState([]Mechanism{MechanismPlain})
	_, ok := a.handshake(MechanismPlain)
	require.True(t, ok)

	require.NoError(t, a.authenticate(fakeAuthenticator{principal: "cats/"}, []byte("\x00cats/\x00secret")))
	require.True(t, a.authenticated)
	require.Equal(t, "cats/", a.principal)
}

func TestRecordBatchEncodesNonEmptyBatch(t *testing.T) {
	var batch = encodeRecordBatch(0, []Record{{Key: []byte("a"), Value: []byte("v1")}})
	require.NotEmpty(t, batch)
	require.Nil(t, encodeRecordBatch(0, nil))
}
