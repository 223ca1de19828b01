package reconcile

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/cadence/engine/internal/memo"
)

// View owns the latest snapshot of each memo source and recomputes the merged
// list whenever any one of them changes. Subscribers receive every recomputed
// list; slow subscribers drop intermediate snapshots rather than blocking the
// producer.
type View struct {
	mu           sync.RWMutex
	local        []memo.LocalMemoRecord
	remote       []memo.RemoteMemoRecord
	remoteLoaded bool
	external     []memo.ExternalMemoRecord
	merged       []memo.MergedMemo

	subscribers map[int64]*viewSubscriber
	nextID      int64
	bufferSize  int
	onEvict     func(memoID string)
}

type viewSubscriber struct {
	id     int64
	stream chan []memo.MergedMemo
}

// ViewConfig describes optional view behavior.
type ViewConfig struct {
	// OnEvict is invoked once for every memo id that leaves the merged list
	// between recomputation passes. Playback uses it to release handles.
	OnEvict func(memoID string)
}

// NewView constructs an empty view. The remote source starts in the
// not-yet-loaded state.
func NewView(cfg ViewConfig) *View {
	return &View{
		subscribers: make(map[int64]*viewSubscriber),
		bufferSize:  16,
		onEvict:     cfg.OnEvict,
	}
}

// SetLocal replaces the local source snapshot and recomputes.
func (v *View) SetLocal(records []memo.LocalMemoRecord) {
	v.mu.Lock()
	v.local = records
	v.recomputeLocked()
	v.mu.Unlock()
}

// SetRemote replaces the remote source snapshot and recomputes. The first
// call moves the view out of the loading state.
func (v *View) SetRemote(records []memo.RemoteMemoRecord) {
	v.mu.Lock()
	v.remote = records
	v.remoteLoaded = true
	v.recomputeLocked()
	v.mu.Unlock()
}

// SetExternal replaces the external source snapshot and recomputes.
func (v *View) SetExternal(records []memo.ExternalMemoRecord) {
	v.mu.Lock()
	v.external = records
	v.recomputeLocked()
	v.mu.Unlock()
}

// Merged returns the current merged list.
func (v *View) Merged() []memo.MergedMemo {
	v.mu.RLock()
	defer v.mu.RUnlock()
	snapshot := make([]memo.MergedMemo, len(v.merged))
	copy(snapshot, v.merged)
	return snapshot
}

// RemoteLoaded reports whether the durable-store projection has delivered at
// least one snapshot.
func (v *View) RemoteLoaded() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.remoteLoaded
}

// Subscribe registers for merged-list updates until ctx is done or the
// returned cancel function runs.
func (v *View) Subscribe(ctx context.Context) (<-chan []memo.MergedMemo, func()) {
	subscriber := &viewSubscriber{
		stream: make(chan []memo.MergedMemo, v.bufferSize),
	}
	v.mu.Lock()
	v.nextID++
	subscriber.id = v.nextID
	v.subscribers[subscriber.id] = subscriber
	v.mu.Unlock()

	cleanup := func() {
		v.mu.Lock()
		delete(v.subscribers, subscriber.id)
		v.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (v *View) recomputeLocked() {
	var remote []memo.RemoteMemoRecord
	if v.remoteLoaded {
		remote = v.remote
	}
	next := Merge(v.local, remote, v.external)

	if v.onEvict != nil {
		surviving := make(map[string]bool, len(next))
		for _, entry := range next {
			surviving[entry.ID] = true
		}
		for _, entry := range v.merged {
			if !surviving[entry.ID] {
				v.onEvict(entry.ID)
			}
		}
	}

	v.merged = next
	for _, subscriber := range v.subscribers {
		snapshot := make([]memo.MergedMemo, len(next))
		copy(snapshot, next)
		select {
		case subscriber.stream <- snapshot:
		default:
		}
	}
}
