package snapshot

import (
	"errors"
	"testing"
	"time"

	"github.com/estuary/agent/internal/names"
	"github.com/stretchr/testify/require"
)

func testSnapshot(taken time.Time) *Snapshot {
	return New(taken,
		[]Collection{{JournalTemplateName: "acmeCo/orders/", CollectionName: "acmeCo/orders", DataPlaneID: 1}},
		[]Task{{ShardTemplateID: "acmeCo/capture/", TaskName: "acmeCo/capture", SpecType: names.SpecTypeCapture, DataPlaneID: 1}},
		nil, nil,
	)
}

func TestCollectionAndTaskLookup(t *testing.T) {
	var snap = testSnapshot(time.Now())

	c, ok := snap.CollectionByName("acmeCo/orders")
	require.True(t, ok)
	require.EqualValues(t, 1, c.DataPlaneID)

	_, ok = snap.CollectionByName("acmeCo/missing")
	require.False(t, ok)

	task, ok := snap.TaskByShardPrefix("acmeCo/capture/1234")
	require.True(t, ok)
	require.Equal(t, names.Catalog("acmeCo/capture"), task.TaskName)
}

// TestEvaluateSnapshotSafety is the property of §8: a policy failure
// against a snapshot newer than the request is terminal.
func TestEvaluateSnapshotSafety(t *testing.T) {
	var now = time.Now()
	var cache = NewCache(testSnapshot(now))

	var iat = now.Add(-time.Minute) // request predates the snapshot
	var decision = Evaluate(cache, iat, func(s *Snapshot) (struct{}, error) {
		return struct{}{}, errors.New("denied")
	})

	require.False(t, decision.OK)
	require.True(t, decision.Terminal)
}

func TestEvaluateRetriesWhenRequestIsNewer(t *testing.T) {
	var now = time.Now()
	var cache = NewCache(testSnapshot(now))

	var iat = now.Add(time.Minute) // request postdates the snapshot
	var decision = Evaluate(cache, iat, func(s *Snapshot) (struct{}, error) {
		return struct{}{}, errors.New("denied")
	})

	require.False(t, decision.OK)
	require.False(t, decision.Terminal)
	require.Greater(t, decision.RetryAfter, time.Duration(0))
}

func TestEvaluateHardStaleTriggersRefresh(t *testing.T) {
	var taken = time.Now().Add(-MaxInterval - time.Minute)
	var cache = NewCache(testSnapshot(taken))

	var decision = Evaluate(cache, time.Now(), func(s *Snapshot) (struct{}, error) {
		return struct{}{}, nil
	})
	require.False(t, decision.OK)
	require.False(t, decision.Terminal)

	select {
	case <-cache.Current().RefreshRequested():
	default:
		t.Fatal("expected refresh to have been requested")
	}
}

func TestEvaluateSuccess(t *testing.T) {
	var cache = NewCache(testSnapshot(time.Now()))
	var decision = Evaluate(cache, time.Now(), func(s *Snapshot) (string, error) {
		return "ok", nil
	})
	require.True(t, decision.OK)
	require.Equal(t, "ok", decision.Value)
}
