package dekaf

import (
	"context"

	"github.com/estuary/agent/internal/names"
)

// ResourceConfig binds one Kafka topic to a Flow Collection, the
// per-binding resource configuration a Materialize-shaped connector
// config would carry for Dekaf (§4.8 "each DekafResourceConfig binds a
// Collection to a Kafka topic name").
type ResourceConfig struct {
	Topic      string       `json:"topic"`
	Collection names.Catalog `json:"collection"`
	Deletions  DeletionMode `json:"deletions"`
}

// TaskConfig is Dekaf's own endpoint config: the control-plane base URL
// to fetch specs from, the data-plane's token, and the topic bindings
// (§4.8's introductory "standalone binary... is a client of the control
// plane").
type TaskConfig struct {
	ControlPlaneURL string           `json:"controlPlaneUrl"`
	AuthToken       string           `json:"authToken"`
	Bindings        []ResourceConfig `json:"bindings"`
}

// Partition describes one partition's broker assignment, synthesized by
// a JournalLister (§4.8 "Topic metadata").
type Partition struct {
	ID       int32
	Leader   int32
	Replicas []int32
}

// Topic is the synthesized metadata for one Dekaf-exposed collection.
type Topic struct {
	Name       string
	Collection names.Catalog
	Partitions []Partition
}

// Broker is a single entry of the cluster's broker list, synthesized
// from the data-plane's broker address (§4.8 "Topic metadata").
type Broker struct {
	NodeID int32
	Host   string
	Port   int32
}

// JournalLister synthesizes a Collection's partition layout. The
// concrete implementation asks the APIClient for the Collection's built
// JournalTemplate and derives one partition per partition field it
// declares (one partition if it declares none); it does not list the
// Collection's journals.
type JournalLister interface {
	ListPartitions(ctx context.Context, collection names.Catalog) ([]Partition, error)
}

// MetadataBuilder assembles Metadata responses for the bound topics of a
// single Dekaf task.
type MetadataBuilder struct {
	Broker   Broker
	Journals JournalLister
}

// BuildTopic synthesizes one topic's metadata.
func (m MetadataBuilder) BuildTopic(ctx context.Context, binding ResourceConfig) (Topic, error) {
	partitions, err := m.Journals.ListPartitions(ctx, binding.Collection)
	if err != nil {
		return Topic{}, err
	}
	for i := range partitions {
		partitions[i].Leader = m.Broker.NodeID
		partitions[i].Replicas = []int32{m.Broker.NodeID}
	}
	return Topic{Name: binding.Topic, Collection: binding.Collection, Partitions: partitions}, nil
}
