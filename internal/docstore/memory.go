// internal/docstore/memory.go
package docstore

import (
	"context"
	"sync"
)

// Memory is an in-process Store. It backs tests and single-node deployments
// that run without Postgres.
type Memory struct {
	mu   sync.Mutex
	docs map[string]Document
	subs map[string]map[int]*memorySub
	next int
}

// memorySub buffers committed documents for one subscriber. The queue is
// appended under the store lock (never blocking Put) and drained by a
// dedicated goroutine, preserving per-key revision order.
type memorySub struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Document
	closed bool
}

func newMemorySub() *memorySub {
	s := &memorySub{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memorySub) push(doc Document) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, doc)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

// pop blocks until a document is queued or the subscription closes.
func (s *memorySub) pop() (Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.queue) == 0 {
		return Document{}, false
	}
	doc := s.queue[0]
	s.queue = s.queue[1:]
	return doc, true
}

func (s *memorySub) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]Document),
		subs: make(map[string]map[int]*memorySub),
	}
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, key string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[key]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

// Put implements Store. Subscriber queues are appended while holding the
// store lock, which is what guarantees per-key revision ordering.
func (m *Memory) Put(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, exists := m.docs[key]
	if expected == CreateRevision {
		if exists {
			return 0, ErrRevisionConflict
		}
	} else {
		if !exists {
			return 0, ErrNotFound
		}
		if cur.Revision != expected {
			return 0, ErrRevisionConflict
		}
	}

	doc := Document{Key: key, Value: append([]byte(nil), value...), Revision: cur.Revision + 1}
	m.docs[key] = doc

	for _, sub := range m.subs[key] {
		sub.push(doc)
	}
	return doc.Revision, nil
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[key]; !ok {
		return ErrNotFound
	}
	delete(m.docs, key)
	return nil
}

// Subscribe implements Store.
func (m *Memory) Subscribe(ctx context.Context, key string, fn func(Document)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := newMemorySub()

	m.mu.Lock()
	if m.subs[key] == nil {
		m.subs[key] = make(map[int]*memorySub)
	}
	id := m.next
	m.next++
	m.subs[key][id] = sub
	m.mu.Unlock()

	go func() {
		for {
			doc, ok := sub.pop()
			if !ok {
				return
			}
			fn(doc)
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[key], id)
			m.mu.Unlock()
			sub.close()
		})
	}

	// Tie the subscription to ctx so callers that only cancel the context
	// still release the drain goroutine.
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()

	return unsubscribe, nil
}
