// ABOUTME: Tests for thread provisioning and the per-user lock
// ABOUTME: Covers new and reused sessions, outages, sliding TTL and concurrent first messages

package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/assistant-relay/internal/assistant"
	"github.com/2389/assistant-relay/internal/session"
)

func TestProvisioner_NewUser(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore(t)
	backend := assistant.NewMockBackend()
	backend.ThreadIDs = []string{"th_abc"}

	p := NewProvisioner(store, backend, ProvisionOptions{TTL: 12 * time.Hour}, nil)

	threadID, isNew, err := p.Provision(ctx, "5511999999999")
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "th_abc", threadID)

	assert.Equal(t, 1, backend.Calls().CreateThread)
	assert.Equal(t, []putCall{{UserID: "5511999999999", ThreadID: "th_abc", TTL: 12 * time.Hour}}, store.putCalls())
}

func TestProvisioner_DefaultTTL(t *testing.T) {
	store := newRecordingStore(t)
	p := NewProvisioner(store, assistant.NewMockBackend(), ProvisionOptions{}, nil)

	_, _, err := p.Provision(context.Background(), "u")
	require.NoError(t, err)
	require.Len(t, store.putCalls(), 1)
	assert.Equal(t, session.DefaultTTL, store.putCalls()[0].TTL)
}

func TestProvisioner_ReusesLiveSession(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore(t)
	require.NoError(t, store.MemoryStore.Put(ctx, "u", "th_existing", time.Hour))
	backend := assistant.NewMockBackend()

	p := NewProvisioner(store, backend, ProvisionOptions{TTL: time.Hour}, nil)

	for i := 0; i < 3; i++ {
		threadID, isNew, err := p.Provision(ctx, "u")
		require.NoError(t, err)
		assert.False(t, isNew)
		assert.Equal(t, "th_existing", threadID)
	}

	assert.Equal(t, 0, backend.Calls().CreateThread)
	assert.Empty(t, store.putCalls())
	assert.Equal(t, 0, store.touches, "fixed expiry never touches")
}

func TestProvisioner_SlidingTTLTouches(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore(t)
	require.NoError(t, store.MemoryStore.Put(ctx, "u", "th_existing", time.Hour))

	p := NewProvisioner(store, assistant.NewMockBackend(), ProvisionOptions{TTL: time.Hour, SlidingTTL: true}, nil)

	_, isNew, err := p.Provision(ctx, "u")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, 1, store.touches)
}

func TestProvisioner_StoreUnavailable(t *testing.T) {
	store := newRecordingStore(t)
	store.down = true
	backend := assistant.NewMockBackend()

	p := NewProvisioner(store, backend, ProvisionOptions{}, nil)

	_, _, err := p.Provision(context.Background(), "u")
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrUnavailable)
	assert.Equal(t, 0, backend.Calls().CreateThread, "an outage must not look like a missing session")
}

func TestProvisioner_CreateThreadFails(t *testing.T) {
	store := newRecordingStore(t)
	backend := assistant.NewMockBackend()
	backend.CreateThreadErr = &assistant.TransportError{Op: "create thread", Err: errors.New("dial tcp: timeout")}

	p := NewProvisioner(store, backend, ProvisionOptions{}, nil)

	_, _, err := p.Provision(context.Background(), "u")
	require.Error(t, err)
	assert.Equal(t, 1, backend.Calls().CreateThread, "thread creation is not retried")
	assert.Empty(t, store.putCalls())
}

func TestProvisioner_SerializedFirstMessages(t *testing.T) {
	store := newRecordingStore(t)
	backend := assistant.NewMockBackend()
	p := NewProvisioner(store, backend, ProvisionOptions{Serialize: true}, nil)

	const n = 10
	threads := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			threadID, _, err := p.Provision(context.Background(), "same-user")
			assert.NoError(t, err)
			threads[i] = threadID
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, backend.Calls().CreateThread)
	for _, th := range threads {
		assert.Equal(t, threads[0], th)
	}
	assert.Equal(t, 0, p.locks.size(), "locks are released after use")
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	unlockA := k.Lock("a")
	unlockB := k.Lock("b") // different key does not block
	assert.Equal(t, 2, k.size())

	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}

	unlockA()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the released key")
	}

	unlockB()
	assert.Eventually(t, func() bool { return k.size() == 0 }, time.Second, time.Millisecond)
}
