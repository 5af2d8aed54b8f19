// Package diagnostics persists corrected card images for offline review.
// Persistence is best effort: it never blocks a request and failures are
// only logged.
package diagnostics

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// Store writes one encoded image under name.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
}

// FileStore writes images below a local directory.
type FileStore struct {
	Dir string
}

// Put implements Store.
func (f FileStore) Put(_ context.Context, name string, data []byte) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("create diagnostics dir: %w", err)
	}
	return os.WriteFile(filepath.Join(f.Dir, name), data, 0o644)
}

// GCSStore writes images to a Cloud Storage bucket.
type GCSStore struct {
	Client *storage.Client
	Bucket string
	Prefix string
}

// Put implements Store.
func (g GCSStore) Put(ctx context.Context, name string, data []byte) error {
	object := strings.TrimSuffix(g.Prefix, "/")
	if object != "" {
		object += "/"
	}
	object += name

	w := g.Client.Bucket(g.Bucket).Object(object).NewWriter(ctx)
	w.ContentType = "image/jpeg"
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", g.Bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize gs://%s/%s: %w", g.Bucket, object, err)
	}
	return nil
}

type job struct {
	name string
	img  image.Image
}

// Sink queues images for a background writer and drops them when the
// queue is full. It implements normalize.Sink.
type Sink struct {
	store   Store
	queue   chan job
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
	once    sync.Once
}

// NewSink starts the background writer.
func NewSink(store Store, queueSize int, timeout time.Duration, logger *zap.Logger) *Sink {
	if queueSize <= 0 {
		queueSize = 16
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &Sink{
		store:   store,
		queue:   make(chan job, queueSize),
		timeout: timeout,
		logger:  logger.Named("diagnostics"),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Save enqueues img without blocking.
func (s *Sink) Save(_ context.Context, name string, img image.Image) {
	select {
	case s.queue <- job{name: name, img: img}:
	default:
		s.logger.Debug("diagnostics queue full, dropping image", zap.String("name", name))
	}
}

func (s *Sink) run() {
	defer s.wg.Done()
	for j := range s.queue {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, j.img, &jpeg.Options{Quality: 90}); err != nil {
			s.logger.Warn("encode diagnostics image", zap.String("name", j.name), zap.Error(err))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.store.Put(ctx, j.name+".jpg", buf.Bytes()); err != nil {
			s.logger.Warn("persist diagnostics image", zap.String("name", j.name), zap.Error(err))
		}
		cancel()
	}
}

// Close drains the queue and stops the writer. Save must not be called
// after Close.
func (s *Sink) Close() {
	s.once.Do(func() { close(s.queue) })
	s.wg.Wait()
}
