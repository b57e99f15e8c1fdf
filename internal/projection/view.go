// Package projection keeps live, disposable read models of lists in sync with the store.
//
// A view is mounted against a store source and a change feed. It fetches the
// current state, subscribes to the rows it depends on and re-fetches the affected
// aggregate every time a matching change notification arrives. Unmount releases
// every subscription and stops further commits.
package projection

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/feirinha/internal/changefeed"
	"go.uber.org/zap"
)

var (
	ErrMissingSource = errors.New("projection: store source is required")
	ErrMissingFeed   = errors.New("projection: change feed is required")
	ErrMissingViewer = errors.New("projection: viewer identifier is required")
	ErrMissingListID = errors.New("projection: list identifier is required")
)

// Feed is the change-notification collaborator views subscribe to.
type Feed interface {
	Subscribe(ctx context.Context, filter changefeed.Filter) (*changefeed.Subscription, error)
}

// lifecycle holds the teardown state shared by every view kind.
type lifecycle struct {
	ctx           context.Context
	cancel        context.CancelFunc
	subscriptions []*changefeed.Subscription
	unmountOnce   sync.Once
	done          chan struct{}
	logger        *zap.Logger
}

func newLifecycle(parent context.Context, logger *zap.Logger) *lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &lifecycle{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (l *lifecycle) subscribe(feed Feed, filters ...changefeed.Filter) error {
	for _, filter := range filters {
		subscription, err := feed.Subscribe(l.ctx, filter)
		if err != nil {
			return err
		}
		l.subscriptions = append(l.subscriptions, subscription)
	}
	return nil
}

// release cancels in-flight fetches and drops every subscription. markDead runs
// first so that no fetch completing afterwards can commit.
func (l *lifecycle) release(markDead func()) {
	l.unmountOnce.Do(func() {
		markDead()
		l.cancel()
		for _, subscription := range l.subscriptions {
			subscription.Unsubscribe()
		}
	})
}

func normalizeIdentifier(raw string, missing error) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", missing
	}
	return trimmed, nil
}
