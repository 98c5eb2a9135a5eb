package attachments

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-admin/internal/audit"
	"github.com/odyssey-erp/odyssey-admin/internal/platform/blob"
)

// memRepo mirrors PgRepository with a single mutex standing in for the
// attachment row lock.
type memRepo struct {
	mu        sync.Mutex
	items     map[int64]Attachment
	links     map[int64]map[Owner]bool
	purges    map[int64]*Purge
	nextID    int64
	nextPurge int64
	createErr error
}

func newMemRepo() *memRepo {
	return &memRepo{
		items:  map[int64]Attachment{},
		links:  map[int64]map[Owner]bool{},
		purges: map[int64]*Purge{},
	}
}

func (m *memRepo) Create(_ context.Context, a Attachment) (Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return Attachment{}, m.createErr
	}
	m.nextID++
	a.ID = m.nextID
	a.CreatedAt = time.Now()
	m.items[a.ID] = a
	return a, nil
}

func (m *memRepo) Get(_ context.Context, id int64) (Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return Attachment{}, ErrNotFound
	}
	return a, nil
}

func (m *memRepo) Attach(_ context.Context, owner Owner, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	if m.links[id] == nil {
		m.links[id] = map[Owner]bool{}
	}
	m.links[id][owner] = true
	return nil
}

func (m *memRepo) Detach(_ context.Context, owner Owner, id int64) (DetachResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || !m.links[id][owner] {
		return DetachResult{}, nil
	}
	delete(m.links[id], owner)
	res := DetachResult{Removed: true}
	if p := m.deleteIfUnowned(a); p != nil {
		res.Deleted = true
		res.Purge = *p
	}
	return res, nil
}

func (m *memRepo) deleteIfUnowned(a Attachment) *Purge {
	if len(m.links[a.ID]) > 0 {
		return nil
	}
	delete(m.items, a.ID)
	delete(m.links, a.ID)
	m.nextPurge++
	p := &Purge{ID: m.nextPurge, Path: a.Path}
	m.purges[p.ID] = p
	cp := *p
	return &cp
}

func (m *memRepo) OwnedIDs(_ context.Context, owner Owner, collection string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, owners := range m.links {
		if owners[owner] && (collection == "" || m.items[id].Collection == collection) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memRepo) List(ctx context.Context, owner Owner, collection string) ([]Attachment, error) {
	ids, _ := m.OwnedIDs(ctx, owner, collection)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Attachment, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.items[id])
	}
	return out, nil
}

func (m *memRepo) Owners(_ context.Context, id int64) ([]Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Owner
	for o := range m.links[id] {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (m *memRepo) PurgeOrphan(_ context.Context, id int64) (*Purge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return m.deleteIfUnowned(a), nil
}

func (m *memRepo) Orphans(_ context.Context, before time.Time, limit int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, a := range m.items {
		if len(m.links[id]) == 0 && a.CreatedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *memRepo) PendingPurges(_ context.Context, limit int) ([]Purge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Purge
	for _, p := range m.purges {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) CompletePurge(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.purges, id)
	return nil
}

func (m *memRepo) FailPurge(_ context.Context, id int64, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.purges[id]; ok {
		p.Attempts++
	}
	return nil
}

func (m *memRepo) linkCount(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links[id])
}

func (m *memRepo) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.purges)
}

// memStore is an in-memory blob.Store that can be told to fail deletes.
type memStore struct {
	mu          sync.Mutex
	objects     map[string][]byte
	deletes     int
	failDeletes int
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (s *memStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return key, nil
}

func (s *memStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDeletes > 0 {
		s.failDeletes--
		return errors.Join(blob.ErrStorage, errors.New("backend offline"))
	}
	if _, ok := s.objects[path]; ok {
		s.deletes++
	}
	delete(s.objects, path)
	return nil
}

func (s *memStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStore) has(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[path]
	return ok
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureSink) Emit(_ context.Context, e audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureSink) actions() []audit.Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audit.Action, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Action)
	}
	return out
}

type countingObserver struct {
	mu     sync.Mutex
	ops    map[string]int
	purges map[string]int
}

func (o *countingObserver) AttachmentOp(op, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ops == nil {
		o.ops = map[string]int{}
	}
	o.ops[op+"/"+result]++
}

func (o *countingObserver) PurgeResult(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.purges == nil {
		o.purges = map[string]int{}
	}
	o.purges[result]++
}

var (
	pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R', 0, 0, 0, 1, 0, 0, 0, 1, 8, 6, 0, 0, 0}
	pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")
)
