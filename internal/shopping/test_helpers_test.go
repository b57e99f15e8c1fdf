package shopping

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/feirinha/internal/changefeed"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequentialIDProvider struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func (p *sequentialIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("%s-%03d", p.prefix, p.next), nil
}

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []changefeed.Event
}

func (p *recordingPublisher) Publish(event changefeed.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) Events() []changefeed.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]changefeed.Event(nil), p.events...)
}

type staticAccounts map[string]bool

func (a staticAccounts) AccountExists(_ context.Context, userID string) (bool, error) {
	return a[userID], nil
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:shopping_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *recordingPublisher) {
	t.Helper()
	db := openTestDatabase(t)
	publisher := &recordingPublisher{}
	clock := &steppingClock{current: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequentialIDProvider{prefix: "id"},
		Publisher:  publisher,
	})
	if err != nil {
		t.Fatalf("failed to construct shopping service: %v", err)
	}
	return service, db, publisher
}

func mustCreateList(t *testing.T, service *Service, userID, name string) List {
	t.Helper()
	list, err := service.CreateList(context.Background(), userID, name)
	if err != nil {
		t.Fatalf("failed to create list: %v", err)
	}
	return list
}

func mustShareList(t *testing.T, service *Service, list List, granteeID string) Share {
	t.Helper()
	share, err := service.ShareList(context.Background(), list.ID, list.CreatorID, granteeID)
	if err != nil {
		t.Fatalf("failed to share list: %v", err)
	}
	return share
}

func listNames(lists []List) []string {
	names := make([]string, 0, len(lists))
	for _, list := range lists {
		names = append(names, list.Name)
	}
	return names
}
