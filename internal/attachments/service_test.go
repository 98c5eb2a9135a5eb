package attachments

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-admin/internal/audit"
)

var (
	postA = Owner{Type: "posts", ID: 1}
	postB = Owner{Type: "posts", ID: 2}
)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *memRepo, *memStore) {
	t.Helper()
	repo := newMemRepo()
	store := newMemStore()
	m := NewManager(repo, store, Config{MaxBytes: 1024, Allowed: []string{"image/*", "application/pdf"}}, nil, opts...)
	return m, repo, store
}

func uploadPNG(t *testing.T, m *Manager) Attachment {
	t.Helper()
	a, err := m.Upload(context.Background(), UploadInput{Reader: bytes.NewReader(pngBytes), Filename: "dot.png", DeclaredType: "image/png"})
	require.NoError(t, err)
	return a
}

func TestUploadStoresSniffedType(t *testing.T) {
	clock := func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) }
	m, _, store := newTestManager(t, WithClock(clock))

	a, err := m.Upload(context.Background(), UploadInput{
		Reader:       bytes.NewReader(pdfBytes),
		Filename:     `C:\tmp\invoice.pdf`,
		DeclaredType: "application/octet-stream",
		Collection:   "Invoices",
		Metadata:     map[string]any{"title": "March"},
	})
	require.NoError(t, err)
	require.Equal(t, "application/pdf", a.MimeType)
	require.Equal(t, "invoice.pdf", a.OriginalFilename)
	require.Equal(t, "invoices", a.Collection)
	require.Equal(t, int64(len(pdfBytes)), a.Size)
	require.Len(t, a.Checksum, 64)
	require.True(t, strings.HasPrefix(a.Path, "invoices/2024/03/"), a.Path)
	require.True(t, strings.HasSuffix(a.Path, ".pdf"), a.Path)
	require.Equal(t, "application/octet-stream", a.Metadata["declared_type"])
	require.Equal(t, "March", a.Metadata["title"])
	require.True(t, store.has(a.Path))
}

func TestUploadRejectsForgedType(t *testing.T) {
	m, repo, store := newTestManager(t)
	_, err := m.Upload(context.Background(), UploadInput{
		Reader:       strings.NewReader("just some plain text pretending to be an image"),
		Filename:     "photo.png",
		DeclaredType: "image/png",
	})
	require.ErrorIs(t, err, ErrUnsupportedMediaType)
	require.Zero(t, store.count())
	require.Empty(t, repo.items)
}

func TestUploadLimits(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Upload(ctx, UploadInput{Reader: bytes.NewReader(nil)})
	require.ErrorIs(t, err, ErrEmptyUpload)

	_, err = m.Upload(ctx, UploadInput{})
	require.ErrorIs(t, err, ErrEmptyUpload)

	big := append(append([]byte{}, pngBytes...), make([]byte, 2048)...)
	_, err = m.Upload(ctx, UploadInput{Reader: bytes.NewReader(big)})
	require.ErrorIs(t, err, ErrTooLarge)

	_, err = m.Upload(ctx, UploadInput{Reader: bytes.NewReader(pngBytes), Collection: "../etc"})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestUploadRemovesBlobWhenInsertFails(t *testing.T) {
	m, repo, store := newTestManager(t)
	repo.createErr = errors.New("insert failed")
	_, err := m.Upload(context.Background(), UploadInput{Reader: bytes.NewReader(pngBytes)})
	require.Error(t, err)
	require.Zero(t, store.count())
}

func TestAttachDetachIdempotent(t *testing.T) {
	sink := &captureSink{}
	m, repo, _ := newTestManager(t, WithSink(sink))
	ctx := context.Background()
	a := uploadPNG(t, m)

	require.NoError(t, m.Attach(ctx, postA, a.ID))
	require.NoError(t, m.Attach(ctx, postA, a.ID))
	require.Equal(t, 1, repo.linkCount(a.ID))

	require.NoError(t, m.Attach(ctx, postB, a.ID))
	removed, err := m.Detach(ctx, postA, a.ID)
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = m.Detach(ctx, postA, a.ID)
	require.NoError(t, err)
	require.False(t, removed)

	require.Contains(t, sink.actions(), audit.ActionAttached)
	require.Contains(t, sink.actions(), audit.ActionDetached)
}

func TestAttachValidation(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	require.ErrorIs(t, m.Attach(ctx, Owner{Type: "Posts!", ID: 1}, 1), ErrInvalidOwner)
	require.ErrorIs(t, m.Attach(ctx, Owner{Type: "posts"}, 1), ErrInvalidOwner)
	require.ErrorIs(t, m.Attach(ctx, postA, 99), ErrNotFound)
}

func TestReferenceCountedDeletion(t *testing.T) {
	m, repo, store := newTestManager(t)
	ctx := context.Background()
	a := uploadPNG(t, m)
	require.NoError(t, m.Attach(ctx, postA, a.ID))
	require.NoError(t, m.Attach(ctx, postB, a.ID))

	removed, err := m.Detach(ctx, postA, a.ID)
	require.NoError(t, err)
	require.True(t, removed)
	_, err = m.Get(ctx, a.ID)
	require.NoError(t, err, "still owned by B")
	require.True(t, store.has(a.Path))

	removed, err = m.Detach(ctx, postB, a.ID)
	require.NoError(t, err)
	require.True(t, removed)
	_, err = m.Get(ctx, a.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.False(t, store.has(a.Path))
	require.Zero(t, repo.pending())
}

func TestConcurrentDetachDeletesOnce(t *testing.T) {
	m, _, store := newTestManager(t)
	ctx := context.Background()
	a := uploadPNG(t, m)
	require.NoError(t, m.Attach(ctx, postA, a.ID))
	require.NoError(t, m.Attach(ctx, postB, a.ID))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, o := range []Owner{postA, postB} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = m.Detach(ctx, o, a.ID)
		}()
	}
	wg.Wait()
	require.NoError(t, errors.Join(errs...))
	require.Equal(t, 1, store.deletes)
	require.Zero(t, store.count())
}

func TestDetachAll(t *testing.T) {
	m, _, store := newTestManager(t)
	ctx := context.Background()
	shared := uploadPNG(t, m)
	own, err := m.Upload(ctx, UploadInput{Reader: bytes.NewReader(pdfBytes), Collection: "docs"})
	require.NoError(t, err)
	require.NoError(t, m.Attach(ctx, postA, shared.ID))
	require.NoError(t, m.Attach(ctx, postB, shared.ID))
	require.NoError(t, m.Attach(ctx, postA, own.ID))

	n, err := m.DetachAll(ctx, postA, "docs")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.False(t, store.has(own.Path))

	n, err = m.DetachAll(ctx, postA, "")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.True(t, store.has(shared.Path), "B still references the shared file")

	list, err := m.List(ctx, postB, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestPurgeRetryAfterStorageFailure(t *testing.T) {
	obs := &countingObserver{}
	m, repo, store := newTestManager(t, WithObserver(obs))
	ctx := context.Background()
	a := uploadPNG(t, m)
	require.NoError(t, m.Attach(ctx, postA, a.ID))

	store.failDeletes = 1
	removed, err := m.Detach(ctx, postA, a.ID)
	require.True(t, removed)
	require.ErrorIs(t, err, ErrStorage)
	require.True(t, store.has(a.Path))
	require.Equal(t, 1, repo.pending())

	done, err := m.ProcessPurges(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, done)
	require.False(t, store.has(a.Path))
	require.Zero(t, repo.pending())
	require.Equal(t, 1, obs.purges["error"])
	require.Equal(t, 1, obs.purges["ok"])
}

func TestSweepOrphans(t *testing.T) {
	now := time.Now()
	m, repo, store := newTestManager(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	orphan := uploadPNG(t, m)
	kept := uploadPNG(t, m)
	require.NoError(t, m.Attach(ctx, postA, kept.ID))

	swept, err := m.SweepOrphans(ctx, time.Hour, 0)
	require.NoError(t, err)
	require.Zero(t, swept, "recent uploads are left alone")

	m.now = func() time.Time { return now.Add(2 * time.Hour) }
	swept, err = m.SweepOrphans(ctx, time.Hour, 0)
	require.NoError(t, err)
	require.Equal(t, 1, swept)
	require.False(t, store.has(orphan.Path))
	require.True(t, store.has(kept.Path))
	_, err = repo.Get(ctx, kept.ID)
	require.NoError(t, err)
}

func TestUploadForAndOpen(t *testing.T) {
	m, repo, _ := newTestManager(t)
	ctx := context.Background()
	a, err := m.UploadFor(ctx, postA, UploadInput{Reader: bytes.NewReader(pngBytes), Collection: "cover"})
	require.NoError(t, err)
	require.Equal(t, 1, repo.linkCount(a.ID))

	_, rc, err := m.Open(ctx, a.ID)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, pngBytes, got)

	_, err = m.UploadFor(ctx, Owner{Type: "posts"}, UploadInput{Reader: bytes.NewReader(pngBytes)})
	require.ErrorIs(t, err, ErrInvalidOwner)
}

func TestAllowList(t *testing.T) {
	allow := NewAllowList([]string{"image/*", "Application/PDF; charset=binary", ""})
	require.True(t, allow.Allows("image/png"))
	require.True(t, allow.Allows("application/pdf"))
	require.False(t, allow.Allows("text/plain"))
	require.False(t, allow.Allows(""))
	require.False(t, NewAllowList(nil).Allows("image/png"))
	require.True(t, NewAllowList([]string{"*/*"}).Allows("text/plain"))
}
