package assistant

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basketly/engage/internal/profile"
)

type fakeRuntime struct {
	mu       sync.Mutex
	byPhone  map[string]Assistant
	creates  int
	failFind error
	conflict bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{byPhone: map[string]Assistant{}}
}

func (f *fakeRuntime) Create(ctx context.Context, p profile.Profile) (Assistant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.conflict {
		if _, ok := f.byPhone[p.Phone]; !ok {
			f.byPhone[p.Phone] = Assistant{ID: "asst_conflict"}
		}
		return Assistant{}, ErrAlreadyExists
	}
	if existing, ok := f.byPhone[p.Phone]; ok {
		return Assistant{}, errors.Join(ErrAlreadyExists, errors.New(existing.ID))
	}
	a := Assistant{ID: "asst_" + p.Phone}
	f.byPhone[p.Phone] = a
	return a, nil
}

func (f *fakeRuntime) FindByPhone(ctx context.Context, phone string) (Assistant, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFind != nil {
		return Assistant{}, false, f.failFind
	}
	a, ok := f.byPhone[phone]
	return a, ok, nil
}

type fakeBindingStore struct {
	mu       sync.Mutex
	bindings map[uuid.UUID]string
	readErr  error
	// winner, when set, claims every binding before the caller's write lands.
	winner string
}

func newFakeBindingStore() *fakeBindingStore {
	return &fakeBindingStore{bindings: map[uuid.UUID]string{}}
}

func (f *fakeBindingStore) AssistantID(ctx context.Context, id uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return "", f.readErr
	}
	return f.bindings[id], nil
}

func (f *fakeBindingStore) Bind(ctx context.Context, id uuid.UUID, assistantID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.winner != "" {
		f.bindings[id] = f.winner
		return f.winner, nil
	}
	if existing, ok := f.bindings[id]; ok {
		return existing, nil
	}
	f.bindings[id] = assistantID
	return assistantID, nil
}

func TestEnsureBindingProvisionsOnce(t *testing.T) {
	runtime := newFakeRuntime()
	store := newFakeBindingStore()
	mgr := NewManager(nil, runtime, store)
	convID := uuid.New()
	p := profile.Profile{Phone: "+31612345678"}

	first, err := mgr.EnsureBinding(context.Background(), convID, p)
	require.NoError(t, err)
	assert.Equal(t, "asst_+31612345678", first)

	second, err := mgr.EnsureBinding(context.Background(), convID, p)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, runtime.creates)
}

func TestEnsureBindingConcurrentConverges(t *testing.T) {
	runtime := newFakeRuntime()
	store := newFakeBindingStore()
	mgr := NewManager(nil, runtime, store)
	convID := uuid.New()
	p := profile.Profile{Phone: "+31612345678"}

	const callers = 8
	results := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := mgr.EnsureBinding(context.Background(), convID, p)
			assert.NoError(t, err)
			results[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range results {
		assert.Equal(t, results[0], id)
	}
}

func TestEnsureBindingConflictIsSuccess(t *testing.T) {
	runtime := newFakeRuntime()
	runtime.conflict = true
	store := newFakeBindingStore()
	mgr := NewManager(nil, runtime, store)

	id, err := mgr.EnsureBinding(context.Background(), uuid.New(), profile.Profile{Phone: "+31600000000"})
	require.NoError(t, err)
	assert.Equal(t, "asst_conflict", id)
}

func TestEnsureBindingRuntimeDown(t *testing.T) {
	runtime := newFakeRuntime()
	runtime.failFind = errors.New("runtime unreachable")
	mgr := NewManager(nil, runtime, newFakeBindingStore())

	_, err := mgr.EnsureBinding(context.Background(), uuid.New(), profile.Profile{Phone: "+31600000000"})
	assert.ErrorIs(t, err, ErrBindingFailed)
}

func TestEnsureBindingStoreReadError(t *testing.T) {
	store := newFakeBindingStore()
	store.readErr = errors.New("db down")
	mgr := NewManager(nil, newFakeRuntime(), store)

	_, err := mgr.EnsureBinding(context.Background(), uuid.New(), profile.Profile{Phone: "+31600000000"})
	assert.ErrorIs(t, err, ErrBindingFailed)
}

func TestEnsureBindingAdoptsRaceWinner(t *testing.T) {
	runtime := newFakeRuntime()
	store := newFakeBindingStore()
	store.winner = "asst_winner"
	mgr := NewManager(nil, runtime, store)

	id, err := mgr.EnsureBinding(context.Background(), uuid.New(), profile.Profile{Phone: "+31600000001"})
	require.NoError(t, err)
	assert.Equal(t, "asst_winner", id)
}
