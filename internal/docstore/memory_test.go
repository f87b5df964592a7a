// internal/docstore/memory_test.go
package docstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCreateAndGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, "room:AAAA")
	assert.ErrorIs(t, err, ErrNotFound)

	rev, err := m.Put(ctx, "room:AAAA", []byte(`{"a":1}`), CreateRevision)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	doc, err := m.Get(ctx, "room:AAAA")
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Revision)
	assert.JSONEq(t, `{"a":1}`, string(doc.Value))

	// Creating the same key again must conflict.
	_, err = m.Put(ctx, "room:AAAA", []byte(`{"a":2}`), CreateRevision)
	assert.ErrorIs(t, err, ErrRevisionConflict)
}

func TestMemoryCompareAndSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	rev, err := m.Put(ctx, "k", []byte(`1`), CreateRevision)
	require.NoError(t, err)

	// Stale revision loses.
	_, err = m.Put(ctx, "k", []byte(`2`), rev+5)
	assert.ErrorIs(t, err, ErrRevisionConflict)

	rev2, err := m.Put(ctx, "k", []byte(`2`), rev)
	require.NoError(t, err)
	assert.Equal(t, rev+1, rev2)

	// The old revision is now stale.
	_, err = m.Put(ctx, "k", []byte(`3`), rev)
	assert.ErrorIs(t, err, ErrRevisionConflict)

	_, err = m.Put(ctx, "missing", []byte(`1`), 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	assert.ErrorIs(t, m.Delete(ctx, "bet:missing"), ErrNotFound)

	_, err := m.Put(ctx, "bet:1", []byte(`{}`), CreateRevision)
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, "bet:1"))

	_, err = m.Get(ctx, "bet:1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRevisionsStrictlyIncrease(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "k"
			// Blind CAS loops racing each other.
			for n := 0; n < 50; n++ {
				for {
					doc, err := m.Get(ctx, key)
					var expected int64
					if err == nil {
						expected = doc.Revision
					}
					if _, err := m.Put(ctx, key, []byte(fmt.Sprintf(`%d`, i)), expected); err == nil {
						break
					}
				}
			}
		}(i)
	}
	wg.Wait()

	doc, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(8*50), doc.Revision)
}

func TestMemorySubscribeOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var mu sync.Mutex
	var seen []int64
	done := make(chan struct{})

	unsub, err := m.Subscribe(ctx, "k", func(doc Document) {
		mu.Lock()
		seen = append(seen, doc.Revision)
		if len(seen) == 20 {
			close(done)
		}
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	rev := CreateRevision
	for i := 0; i < 20; i++ {
		var err error
		rev, err = m.Put(ctx, "k", []byte(`{}`), rev)
		require.NoError(t, err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for 20 notifications")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, r := range seen {
		if r != int64(i+1) {
			t.Fatalf("notification %d carried revision %d, want %d", i, r, i+1)
		}
	}
}

func TestMemoryUnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	delivered := make(chan int64, 16)
	unsub, err := m.Subscribe(ctx, "k", func(doc Document) {
		delivered <- doc.Revision
	})
	require.NoError(t, err)

	rev, err := m.Put(ctx, "k", []byte(`{}`), CreateRevision)
	require.NoError(t, err)

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("first notification never arrived")
	}

	unsub()
	_, err = m.Put(ctx, "k", []byte(`{}`), rev)
	require.NoError(t, err)

	select {
	case r := <-delivered:
		t.Fatalf("received revision %d after unsubscribe", r)
	case <-time.After(100 * time.Millisecond):
	}
}
