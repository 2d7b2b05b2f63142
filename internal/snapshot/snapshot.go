// Package snapshot implements the process-wide, periodically-refreshed
// authorization projection of §4.3: a point-in-time view of the live
// catalog (collections, tasks, and grant edges) that the authz policy
// evaluates against, with a refresh protocol that never blocks requests.
//
// Grounded on crates/agent/src/api/snapshot.rs: the Rust original guards
// the struct with a RwLock and a oneshot refresh channel taken by the
// first evaluator that decides to refresh. Go expresses the same swap
// with atomic.Pointer (lock-free reads after the pointer load, matching
// §5 "Snapshot reads are lock-free after the read-lock is taken") and a
// closed broadcast channel in place of the one-shot sender, since closing
// is idempotent-safe to race on via sync.Once.
package snapshot

import (
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/estuary/agent/internal/names"
)

// MinInterval is the minimum time between snapshot refreshes (§4.3).
const MinInterval = 20 * time.Second

// MaxInterval is the hard-stale threshold past which clients must retry
// rather than proceed on a possibly-outdated snapshot (§4.3).
const MaxInterval = 300 * time.Second

// Collection is the authorization-relevant state of a live Collection,
// indexed on JournalTemplateName (§4.3 "SnapshotCollection").
type Collection struct {
	JournalTemplateName names.Prefix
	CollectionName      names.Catalog
	DataPlaneID         int64
}

// Task is the authorization-relevant state of a live task (capture,
// derivation, or materialization), indexed on ShardTemplateID (§4.3
// "SnapshotTask").
type Task struct {
	ShardTemplateID names.Prefix
	TaskName        names.Catalog
	SpecType        names.SpecType
	DataPlaneID     int64
}

// RoleGrant and UserGrant mirror role_grants/user_grants rows (§6),
// carried in deduplicated, closed (transitively-expanded) form per §4.3.
type RoleGrant struct {
	SubjectRole string
	ObjectRole  string
	Capability  string
}

type UserGrant struct {
	UserID     string
	ObjectRole string
	Capability string
}

// Snapshot is an immutable, point-in-time projection of the live catalog.
// A new Snapshot entirely replaces the prior one on refresh; fields are
// never mutated in place once published.
type Snapshot struct {
	Taken time.Time

	collections     []Collection // sorted by JournalTemplateName
	collectionsByName []int      // indices into collections, sorted by CollectionName

	tasks     []Task // sorted by ShardTemplateID
	tasksByName []int // indices into tasks, sorted by TaskName

	RoleGrants []RoleGrant
	UserGrants []UserGrant

	// refresh is closed to signal "a refresh has been requested against
	// this generation"; refreshOnce guards against closing it twice.
	refresh     chan struct{}
	refreshOnce *sync.Once
}

// New builds a Snapshot from unsorted rows, establishing the sorted
// indices Resolve/CollectionByName/TaskByName depend on.
func New(taken time.Time, collections []Collection, tasks []Task, roleGrants []RoleGrant, userGrants []UserGrant) *Snapshot {
	var cs = append([]Collection(nil), collections...)
	sort.Slice(cs, func(i, j int) bool { return cs[i].JournalTemplateName < cs[j].JournalTemplateName })
	var csIdx = make([]int, len(cs))
	for i := range csIdx {
		csIdx[i] = i
	}
	sort.Slice(csIdx, func(i, j int) bool { return cs[csIdx[i]].CollectionName < cs[csIdx[j]].CollectionName })

	var ts = append([]Task(nil), tasks...)
	sort.Slice(ts, func(i, j int) bool { return ts[i].ShardTemplateID < ts[j].ShardTemplateID })
	var tsIdx = make([]int, len(ts))
	for i := range tsIdx {
		tsIdx[i] = i
	}
	sort.Slice(tsIdx, func(i, j int) bool { return ts[tsIdx[i]].TaskName < ts[tsIdx[j]].TaskName })

	return &Snapshot{
		Taken:             taken,
		collections:       cs,
		collectionsByName: csIdx,
		tasks:             ts,
		tasksByName:       tsIdx,
		RoleGrants:        append([]RoleGrant(nil), roleGrants...),
		UserGrants:        append([]UserGrant(nil), userGrants...),
		refresh:           make(chan struct{}),
		refreshOnce:       new(sync.Once),
	}
}

// CollectionByName binary-searches for a Collection by its catalog name.
func (s *Snapshot) CollectionByName(name names.Catalog) (Collection, bool) {
	i := sort.Search(len(s.collectionsByName), func(i int) bool {
		return s.collections[s.collectionsByName[i]].CollectionName >= name
	})
	if i < len(s.collectionsByName) && s.collections[s.collectionsByName[i]].CollectionName == name {
		return s.collections[s.collectionsByName[i]], true
	}
	return Collection{}, false
}

// CollectionByJournalPrefix resolves the Collection owning a journal
// template prefix, by longest-match over the sorted JournalTemplateName
// index.
func (s *Snapshot) CollectionByJournalPrefix(journal string) (Collection, bool) {
	var prefixes = make([]names.Prefix, len(s.collections))
	for i, c := range s.collections {
		prefixes[i] = c.JournalTemplateName
	}
	longest, ok := names.LongestMatching(prefixes, names.Catalog(journal))
	if !ok {
		return Collection{}, false
	}
	for _, c := range s.collections {
		if c.JournalTemplateName == longest {
			return c, true
		}
	}
	return Collection{}, false
}

// TaskByName binary-searches for a Task by its catalog name.
func (s *Snapshot) TaskByName(name names.Catalog) (Task, bool) {
	i := sort.Search(len(s.tasksByName), func(i int) bool {
		return s.tasks[s.tasksByName[i]].TaskName >= name
	})
	if i < len(s.tasksByName) && s.tasks[s.tasksByName[i]].TaskName == name {
		return s.tasks[s.tasksByName[i]], true
	}
	return Task{}, false
}

// TaskByShardPrefix resolves the Task owning a shard template prefix.
func (s *Snapshot) TaskByShardPrefix(shard string) (Task, bool) {
	var prefixes = make([]names.Prefix, len(s.tasks))
	for i, t := range s.tasks {
		prefixes[i] = t.ShardTemplateID
	}
	longest, ok := names.LongestMatching(prefixes, names.Catalog(shard))
	if !ok {
		return Task{}, false
	}
	for _, t := range s.tasks {
		if t.ShardTemplateID == longest {
			return t, true
		}
	}
	return Task{}, false
}

// requestRefresh closes the refresh channel exactly once per generation,
// waking the dedicated refresh task (§4.3).
func (s *Snapshot) requestRefresh() {
	s.refreshOnce.Do(func() { close(s.refresh) })
}

// RefreshRequested returns a channel that is closed once this generation's
// refresh has been requested; the refresh task selects on it.
func (s *Snapshot) RefreshRequested() <-chan struct{} { return s.refresh }

// Cache is the atomically-swapped, process-wide holder of the current
// Snapshot (§4.3, §5, §9 "Global mutable state").
type Cache struct {
	ptr atomic.Pointer[Snapshot]
}

// NewCache seeds a Cache with an initial Snapshot, as required at startup
// with explicit seed values (§9).
func NewCache(initial *Snapshot) *Cache {
	var c = new(Cache)
	c.ptr.Store(initial)
	return c
}

// Current returns the currently-published Snapshot.
func (c *Cache) Current() *Snapshot { return c.ptr.Load() }

// Replace atomically swaps in a freshly-built Snapshot, as done by the
// dedicated refresh task on each refresh cycle (§4.3).
func (c *Cache) Replace(next *Snapshot) { c.ptr.Store(next) }

// jitter returns a random 0.5-10s jitter duration, used both for the
// MAX_INTERVAL retry-after and the MIN_INTERVAL remainder (§4.3).
func jitter() time.Duration {
	return 500*time.Millisecond + time.Duration(rand.Int63n(int64(9500*time.Millisecond)))
}

// Decision is the outcome of Evaluate: either the policy succeeded, or
// the caller must wait RetryAfter and re-enter (unless Terminal is set,
// meaning the failure can never be resolved by retrying).
type Decision[T any] struct {
	OK         bool
	Value      T
	Terminal   bool
	TerminalErr error
	RetryAfter time.Duration
}

// Evaluate implements §4.3's evaluate(policy) contract: given a request's
// issued-at time, run policy against the current snapshot, triggering a
// refresh and/or computing a retry-after as needed. Snapshot reads never
// block: the caller receives a RetryAfter instead of waiting in-process
// (§5 "never blocks requests").
func Evaluate[T any](c *Cache, iat time.Time, policy func(*Snapshot) (T, error)) Decision[T] {
	var snap = c.Current()

	if iat.After(snap.Taken.Add(MaxInterval)) {
		snap.requestRefresh()
		return Decision[T]{RetryAfter: jitter()}
	}

	value, err := policy(snap)
	if err == nil {
		return Decision[T]{OK: true, Value: value}
	}

	if snap.Taken.After(iat) {
		// The snapshot is newer than the request: it could not have
		// observed an authorizing state, so retrying will never help
		// (§4.3, §8 "Snapshot safety").
		return Decision[T]{Terminal: true, TerminalErr: err}
	}

	var elapsed = time.Since(snap.Taken)
	var retry time.Duration
	if elapsed < MinInterval {
		retry = MinInterval - elapsed
	} else {
		snap.requestRefresh()
		retry = 0
	}
	return Decision[T]{RetryAfter: retry + jitter()}
}
