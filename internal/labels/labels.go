// Package labels defines the well-known label names stamped onto journal
// and shard templates assembled by the publication pipeline (§4.4, §4.5).
package labels

// JournalSpec template labels.
const (
	// Collection is the catalog name of the Collection this journal holds.
	Collection = "flow.dev/collection"
	// FieldPrefix prefixes a logical partition field of the Collection
	// implemented by this journal.
	FieldPrefix = "flow.dev/field/"
	// KeyBegin and KeyEnd bound the hashed-key range owned by this journal,
	// hex-encoded, used by split-on-key-hash shard templates (§4.4 step 6).
	KeyBegin = "flow.dev/key-begin"
	KeyEnd   = "flow.dev/key-end"
	// ContentType records the expected content-type of documents appended
	// to this journal.
	ContentType = "flow.dev/content-type"
)

// ShardSpec template labels.
const (
	// TaskName is the catalog name of the task (capture, derivation, or
	// materialization) executed by this shard.
	TaskName = "flow.dev/task-name"
	// TaskType distinguishes capture / derivation / materialization shards.
	TaskType = "flow.dev/task-type"
	// SplitSource names the shard this shard was split from, if any.
	SplitSource = "flow.dev/split-source"
	// SplitTarget names the shard this shard is being split into, if any.
	SplitTarget = "flow.dev/split-target"
	// LogLevel is the minimum ops.Logger level this shard should emit.
	LogLevel = "flow.dev/log-level"
)

// TaskTypes enumerates valid TaskType label values.
const (
	TaskTypeCapture        = "capture"
	TaskTypeDerivation     = "derivation"
	TaskTypeMaterialization = "materialization"
)
