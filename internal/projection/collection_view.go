package projection

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/feirinha/internal/changefeed"
	"github.com/MarcoPoloResearchLab/feirinha/internal/shopping"
	"go.uber.org/zap"
)

// CollectionSource is the store surface the collection view reads from.
type CollectionSource interface {
	ListVisibleLists(ctx context.Context, userID string) ([]shopping.List, error)
}

// CollectionViewConfig describes the collection view to mount.
type CollectionViewConfig struct {
	ViewerID  string
	Source    CollectionSource
	Feed      Feed
	Logger    *zap.Logger
	OnRefresh func(CollectionSnapshot)
}

// CollectionSnapshot is a copy of the viewer's visible lists.
type CollectionSnapshot struct {
	Lists     []shopping.List
	Version   uint64
	LastError error
}

// CollectionView is a mounted projection of every list visible to one viewer.
type CollectionView struct {
	viewerID  string
	source    CollectionSource
	onRefresh func(CollectionSnapshot)
	life      *lifecycle

	mu       sync.Mutex
	alive    bool
	snapshot CollectionSnapshot
}

// MountCollectionView watches every list and share change and re-fetches the
// visible collection on each one. Visibility depends on share rows of lists the
// viewer did not create, so both subscriptions are unscoped.
func MountCollectionView(ctx context.Context, cfg CollectionViewConfig) (*CollectionView, error) {
	if cfg.Source == nil {
		return nil, ErrMissingSource
	}
	if cfg.Feed == nil {
		return nil, ErrMissingFeed
	}
	viewerID, err := normalizeIdentifier(cfg.ViewerID, ErrMissingViewer)
	if err != nil {
		return nil, err
	}

	view := &CollectionView{
		viewerID:  viewerID,
		source:    cfg.Source,
		onRefresh: cfg.OnRefresh,
		life:      newLifecycle(ctx, cfg.Logger),
		alive:     true,
	}

	if err := view.life.subscribe(cfg.Feed,
		changefeed.Filter{Table: changefeed.TableLists},
		changefeed.Filter{Table: changefeed.TableShares},
	); err != nil {
		view.Unmount()
		return nil, err
	}

	lists, err := cfg.Source.ListVisibleLists(view.life.ctx, viewerID)
	if err != nil {
		view.Unmount()
		return nil, err
	}
	view.snapshot = CollectionSnapshot{Lists: lists, Version: 1}

	go view.run()
	return view, nil
}

// Snapshot returns a copy of the current projection.
func (v *CollectionView) Snapshot() CollectionSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshot.clone()
}

// Unmount stops the view. It is safe to call more than once.
func (v *CollectionView) Unmount() {
	v.life.release(func() {
		v.mu.Lock()
		v.alive = false
		v.mu.Unlock()
	})
}

// Done is closed once the event loop has exited.
func (v *CollectionView) Done() <-chan struct{} {
	return v.life.done
}

func (v *CollectionView) run() {
	defer close(v.life.done)
	defer v.Unmount()

	listEvents := v.life.subscriptions[0].Events()
	shareEvents := v.life.subscriptions[1].Events()
	for {
		select {
		case <-v.life.ctx.Done():
			return
		case _, ok := <-listEvents:
			if !ok {
				return
			}
		case _, ok := <-shareEvents:
			if !ok {
				return
			}
		}
		v.refresh()
	}
}

func (v *CollectionView) refresh() {
	lists, err := v.source.ListVisibleLists(v.life.ctx, v.viewerID)

	v.mu.Lock()
	if !v.alive || v.life.ctx.Err() != nil {
		v.mu.Unlock()
		return
	}
	if err != nil {
		v.life.logger.Debug("collection view refresh failed",
			zap.String("viewer_id", v.viewerID),
			zap.Error(err),
		)
		v.snapshot.LastError = err
	} else {
		v.snapshot.Lists = lists
		v.snapshot.LastError = nil
	}
	v.snapshot.Version++
	published := v.snapshot.clone()
	v.mu.Unlock()

	if v.onRefresh != nil {
		v.onRefresh(published)
	}
}

func (s CollectionSnapshot) clone() CollectionSnapshot {
	out := s
	out.Lists = append([]shopping.List(nil), s.Lists...)
	return out
}
