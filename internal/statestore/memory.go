package statestore

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go-agent-worker/internal/core"
)

type memoryWatcher struct {
	pattern core.Glob
	ch      chan core.StateUpdate
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[core.AgentID]core.AgentState
	versions map[core.AgentID]int64
	watchers map[*memoryWatcher]struct{}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[core.AgentID]core.AgentState),
		versions: make(map[core.AgentID]int64),
		watchers: make(map[*memoryWatcher]struct{}),
	}
}

func cloneState(s core.AgentState) core.AgentState {
	if s.Data != nil {
		s.Data = append([]byte{}, s.Data...)
	}
	return s
}

func (s *MemoryStore) Put(ctx context.Context, state core.AgentState) (core.AgentState, error) {
	if err := ctx.Err(); err != nil {
		return core.AgentState{}, err
	}
	if err := state.AgentID.Validate(); err != nil {
		return core.AgentState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Versions survive Delete so an ETag is never reused for an id.
	ver := s.versions[state.AgentID] + 1
	s.versions[state.AgentID] = ver
	state.ETag = strconv.FormatInt(ver, 10)
	s.entries[state.AgentID] = cloneState(state)
	s.notify(core.StateUpdate{AgentID: state.AgentID, ETag: state.ETag})
	return cloneState(state), nil
}

func (s *MemoryStore) Get(ctx context.Context, id core.AgentID) (core.AgentState, error) {
	if err := ctx.Err(); err != nil {
		return core.AgentState{}, err
	}
	s.mu.Lock()
	st, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return core.AgentState{}, fmt.Errorf("%w: %s", core.ErrStateNotFound, id)
	}
	return cloneState(st), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id core.AgentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return nil
	}
	delete(s.entries, id)
	s.notify(core.StateUpdate{AgentID: id, Deleted: true})
	return nil
}

// notify must be called with s.mu held. Watchers that are not keeping up
// miss the update.
func (s *MemoryStore) notify(upd core.StateUpdate) {
	name := upd.AgentID.String()
	for w := range s.watchers {
		if !w.pattern.Match(name) {
			continue
		}
		select {
		case w.ch <- upd:
		default:
		}
	}
}

// Watch streams updates until ctx is done, then closes the channel. Patterns
// follow Redis glob rules, so "*" also crosses "/".
func (s *MemoryStore) Watch(ctx context.Context, pattern string) (<-chan core.StateUpdate, error) {
	glob, err := core.CompileGlob(pattern)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := &memoryWatcher{pattern: glob, ch: make(chan core.StateUpdate, 16)}
	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, w)
		close(w.ch)
		s.mu.Unlock()
	}()
	return w.ch, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
