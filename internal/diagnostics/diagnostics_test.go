package diagnostics

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingStore struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (r *recordingStore) Put(_ context.Context, name string, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	return r.err
}

type blockingStore struct{ release chan struct{} }

func (b blockingStore) Put(context.Context, string, []byte) error {
	<-b.release
	return nil
}

var card = imaging.New(20, 10, color.White)

func TestSinkWritesToStore(t *testing.T) {
	store := &recordingStore{}
	s := NewSink(store, 4, time.Second, zap.NewNop())
	s.Save(context.Background(), "req-1", card)
	s.Close()

	assert.Equal(t, []string{"req-1.jpg"}, store.names)
}

func TestSinkIgnoresStoreErrors(t *testing.T) {
	store := &recordingStore{err: errors.New("bucket missing")}
	s := NewSink(store, 4, time.Second, zap.NewNop())
	s.Save(context.Background(), "a", card)
	s.Save(context.Background(), "b", card)
	s.Close()

	assert.Len(t, store.names, 2)
}

func TestSinkDropsWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	s := NewSink(blockingStore{release: release}, 1, time.Second, zap.NewNop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			s.Save(context.Background(), "x", card)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Save blocked on a full queue")
	}
	close(release)
	s.Close()
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	s := NewSink(FileStore{Dir: dir}, 1, time.Second, zap.NewNop())
	s.Save(context.Background(), "card", image.NewNRGBA(image.Rect(0, 0, 2, 2)))
	s.Close()

	info, err := os.Stat(filepath.Join(dir, "card.jpg"))
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
