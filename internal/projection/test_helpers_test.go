package projection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/feirinha/internal/changefeed"
	"github.com/MarcoPoloResearchLab/feirinha/internal/shopping"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const (
	convergeTimeout = 2 * time.Second
	convergeTick    = 10 * time.Millisecond
)

var errSourceUnavailable = errors.New("source unavailable")

type testHarness struct {
	service *shopping.Service
	feed    *changefeed.Feed
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	dsn := fmt.Sprintf("file:projection_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(shopping.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	feed := changefeed.NewFeed(16)
	t.Cleanup(func() {
		feed.Close()
		_ = sqlDB.Close()
	})

	service, err := shopping.NewService(shopping.ServiceConfig{
		Database:   db,
		IDProvider: shopping.NewUUIDProvider(),
		Publisher:  feed,
	})
	if err != nil {
		t.Fatalf("failed to construct shopping service: %v", err)
	}
	return &testHarness{service: service, feed: feed}
}

func (h *testHarness) mountList(t *testing.T, listID, viewerID string) *ListView {
	t.Helper()
	view, err := MountListView(context.Background(), ListViewConfig{
		ListID:   listID,
		ViewerID: viewerID,
		Source:   h.service,
		Feed:     h.feed,
	})
	if err != nil {
		t.Fatalf("failed to mount list view: %v", err)
	}
	t.Cleanup(view.Unmount)
	return view
}

func (h *testHarness) mountCollection(t *testing.T, viewerID string) *CollectionView {
	t.Helper()
	view, err := MountCollectionView(context.Background(), CollectionViewConfig{
		ViewerID: viewerID,
		Source:   h.service,
		Feed:     h.feed,
	})
	if err != nil {
		t.Fatalf("failed to mount collection view: %v", err)
	}
	t.Cleanup(view.Unmount)
	return view
}

// flakySource delegates to a real source until failing is switched on.
type flakySource struct {
	ListSource
	failing atomic.Bool
}

func (s *flakySource) ListItems(ctx context.Context, listID, viewerID string) ([]shopping.Item, error) {
	if s.failing.Load() {
		return nil, errSourceUnavailable
	}
	return s.ListSource.ListItems(ctx, listID, viewerID)
}

// gatedSource blocks the second ListItems call until release is closed.
type gatedSource struct {
	ListSource
	mu       sync.Mutex
	calls    int
	entered  chan struct{}
	release  chan struct{}
	finished chan struct{}
}

func newGatedSource(inner ListSource) *gatedSource {
	return &gatedSource{
		ListSource: inner,
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
		finished:   make(chan struct{}),
	}
}

func (s *gatedSource) ListItems(ctx context.Context, listID, viewerID string) ([]shopping.Item, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	if call != 2 {
		return s.ListSource.ListItems(ctx, listID, viewerID)
	}
	close(s.entered)
	<-s.release
	defer close(s.finished)
	return s.ListSource.ListItems(context.Background(), listID, viewerID)
}

func itemNames(items []shopping.Item) []string {
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.Product.Name)
	}
	return names
}

func pointerTo[T any](value T) *T {
	return &value
}
