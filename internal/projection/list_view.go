package projection

import (
	"context"
	"errors"
	"sync"

	"github.com/MarcoPoloResearchLab/feirinha/internal/changefeed"
	"github.com/MarcoPoloResearchLab/feirinha/internal/shopping"
	"go.uber.org/zap"
)

const trendObservationLimit = 2

// ListSource is the store surface a list detail view reads from.
type ListSource interface {
	ViewList(ctx context.Context, listID, viewerID string) (shopping.List, error)
	ListItems(ctx context.Context, listID, viewerID string) ([]shopping.Item, error)
	ListShares(ctx context.Context, listID, viewerID string) ([]shopping.Share, error)
	RecentPriceObservations(ctx context.Context, productID, brand, userID string, limit int) ([]shopping.PriceObservation, error)
}

// ListViewConfig describes the view to mount.
type ListViewConfig struct {
	ListID    string
	ViewerID  string
	Source    ListSource
	Feed      Feed
	Logger    *zap.Logger
	OnRefresh func(ListSnapshot)
}

// ListSnapshot is a copy of the list detail projection.
type ListSnapshot struct {
	List         shopping.List
	Items        []shopping.Item
	Shares       []shopping.Share
	Total        float64
	CheckedCount int
	// Trends is keyed by item id and only holds items with a comparable price history.
	Trends map[string]shopping.PriceTrend
	// Version increases with every committed refresh.
	Version uint64
	// Gone reports that the list was deleted or is no longer visible to the viewer.
	Gone      bool
	LastError error
}

// ListView is a mounted list detail projection.
type ListView struct {
	listID    string
	viewerID  string
	source    ListSource
	onRefresh func(ListSnapshot)
	life      *lifecycle

	mu       sync.Mutex
	alive    bool
	snapshot ListSnapshot
}

// MountListView subscribes to the list row, its items and its shares, loads the
// baseline projection and starts the event loop. Events that arrive while the
// baseline loads are applied afterwards, so no change is lost between the two.
func MountListView(ctx context.Context, cfg ListViewConfig) (*ListView, error) {
	if cfg.Source == nil {
		return nil, ErrMissingSource
	}
	if cfg.Feed == nil {
		return nil, ErrMissingFeed
	}
	listID, err := normalizeIdentifier(cfg.ListID, ErrMissingListID)
	if err != nil {
		return nil, err
	}
	viewerID, err := normalizeIdentifier(cfg.ViewerID, ErrMissingViewer)
	if err != nil {
		return nil, err
	}

	view := &ListView{
		listID:    listID,
		viewerID:  viewerID,
		source:    cfg.Source,
		onRefresh: cfg.OnRefresh,
		life:      newLifecycle(ctx, cfg.Logger),
		alive:     true,
	}

	if err := view.life.subscribe(cfg.Feed,
		changefeed.Filter{Table: changefeed.TableLists, Field: changefeed.FieldID, Value: listID},
		changefeed.Filter{Table: changefeed.TableItems, Field: changefeed.FieldListID, Value: listID},
		changefeed.Filter{Table: changefeed.TableShares, Field: changefeed.FieldListID, Value: listID},
	); err != nil {
		view.Unmount()
		return nil, err
	}

	baseline, err := view.fetchAll(view.life.ctx)
	if err != nil {
		view.Unmount()
		return nil, err
	}
	baseline.Version = 1
	view.snapshot = baseline

	go view.run()
	return view, nil
}

// Snapshot returns a copy of the current projection.
func (v *ListView) Snapshot() ListSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshot.clone()
}

// Unmount stops the view. It is safe to call more than once and from OnRefresh.
func (v *ListView) Unmount() {
	v.life.release(func() {
		v.mu.Lock()
		v.alive = false
		v.mu.Unlock()
	})
}

// Done is closed once the event loop has exited.
func (v *ListView) Done() <-chan struct{} {
	return v.life.done
}

func (v *ListView) run() {
	defer close(v.life.done)
	defer v.Unmount()

	subscriptions := v.life.subscriptions
	listEvents := subscriptions[0].Events()
	itemEvents := subscriptions[1].Events()
	shareEvents := subscriptions[2].Events()
	for {
		select {
		case <-v.life.ctx.Done():
			return
		case _, ok := <-listEvents:
			if !ok {
				return
			}
			v.refreshList()
		case _, ok := <-itemEvents:
			if !ok {
				return
			}
			v.refreshItems()
		case _, ok := <-shareEvents:
			if !ok {
				return
			}
			v.refreshShares()
		}
	}
}

func (v *ListView) refreshList() {
	list, err := v.source.ViewList(v.life.ctx, v.listID, v.viewerID)
	if err != nil {
		v.fail("list", err, lostAccess(err))
		return
	}
	v.commit(func(snapshot *ListSnapshot) {
		snapshot.List = list
		snapshot.Gone = false
	})
}

func (v *ListView) refreshItems() {
	items, trends, err := v.fetchItems(v.life.ctx)
	if err != nil {
		v.fail("items", err, lostAccess(err))
		return
	}
	v.commit(func(snapshot *ListSnapshot) {
		applyItems(snapshot, items, trends)
	})
}

func (v *ListView) refreshShares() {
	shares, err := v.source.ListShares(v.life.ctx, v.listID, v.viewerID)
	if err != nil {
		v.fail("shares", err, lostAccess(err))
		return
	}
	v.commit(func(snapshot *ListSnapshot) {
		snapshot.Shares = shares
	})
}

// lostAccess reports whether a fetch failed because the list was deleted or the
// viewer's share was revoked. A revocation only emits a share event, so every
// aggregate treats these errors alike.
func lostAccess(err error) bool {
	return errors.Is(err, shopping.ErrNotFound) || errors.Is(err, shopping.ErrPermissionDenied)
}

// LoadListSnapshot reads one detail projection without subscribing to the feed.
func LoadListSnapshot(ctx context.Context, source ListSource, listID, viewerID string) (ListSnapshot, error) {
	if source == nil {
		return ListSnapshot{}, ErrMissingSource
	}
	listID, err := normalizeIdentifier(listID, ErrMissingListID)
	if err != nil {
		return ListSnapshot{}, err
	}
	viewerID, err = normalizeIdentifier(viewerID, ErrMissingViewer)
	if err != nil {
		return ListSnapshot{}, err
	}
	reader := &ListView{listID: listID, viewerID: viewerID, source: source}
	snapshot, err := reader.fetchAll(ctx)
	if err != nil {
		return ListSnapshot{}, err
	}
	snapshot.Version = 1
	return snapshot, nil
}

func (v *ListView) fetchAll(ctx context.Context) (ListSnapshot, error) {
	list, err := v.source.ViewList(ctx, v.listID, v.viewerID)
	if err != nil {
		return ListSnapshot{}, err
	}
	items, trends, err := v.fetchItems(ctx)
	if err != nil {
		return ListSnapshot{}, err
	}
	shares, err := v.source.ListShares(ctx, v.listID, v.viewerID)
	if err != nil {
		return ListSnapshot{}, err
	}
	snapshot := ListSnapshot{List: list, Shares: shares}
	applyItems(&snapshot, items, trends)
	return snapshot, nil
}

// fetchItems loads the item set and the viewer's price trend for every item
// carrying both a brand and a price.
func (v *ListView) fetchItems(ctx context.Context) ([]shopping.Item, map[string]shopping.PriceTrend, error) {
	items, err := v.source.ListItems(ctx, v.listID, v.viewerID)
	if err != nil {
		return nil, nil, err
	}
	trends := make(map[string]shopping.PriceTrend)
	for _, item := range items {
		brand := item.BrandName()
		if brand == "" || item.Price == nil {
			continue
		}
		observations, err := v.source.RecentPriceObservations(ctx, item.ProductID, brand, v.viewerID, trendObservationLimit)
		if err != nil {
			return nil, nil, err
		}
		if trend, ok := shopping.ComparePrices(observations); ok {
			trends[item.ID] = trend
		}
	}
	return items, trends, nil
}

func applyItems(snapshot *ListSnapshot, items []shopping.Item, trends map[string]shopping.PriceTrend) {
	snapshot.Items = items
	snapshot.Trends = trends
	snapshot.Total = shopping.TotalPrice(items)
	snapshot.CheckedCount = shopping.CheckedCount(items)
}

// commit applies a successful fetch unless the view was unmounted meanwhile.
func (v *ListView) commit(apply func(*ListSnapshot)) {
	v.mu.Lock()
	if !v.alive {
		v.mu.Unlock()
		return
	}
	apply(&v.snapshot)
	v.snapshot.LastError = nil
	v.snapshot.Version++
	published := v.snapshot.clone()
	v.mu.Unlock()

	if v.onRefresh != nil {
		v.onRefresh(published)
	}
}

// fail records a background fetch error and keeps the previous projection.
func (v *ListView) fail(aggregate string, err error, gone bool) {
	v.mu.Lock()
	if !v.alive || v.life.ctx.Err() != nil {
		v.mu.Unlock()
		return
	}
	v.life.logger.Debug("list view refresh failed",
		zap.String("list_id", v.listID),
		zap.String("viewer_id", v.viewerID),
		zap.String("aggregate", aggregate),
		zap.Error(err),
	)
	v.snapshot.LastError = err
	if gone {
		v.snapshot.Gone = true
	}
	v.snapshot.Version++
	published := v.snapshot.clone()
	v.mu.Unlock()

	if v.onRefresh != nil {
		v.onRefresh(published)
	}
}

func (s ListSnapshot) clone() ListSnapshot {
	out := s
	out.Items = append([]shopping.Item(nil), s.Items...)
	out.Shares = append([]shopping.Share(nil), s.Shares...)
	out.Trends = make(map[string]shopping.PriceTrend, len(s.Trends))
	for itemID, trend := range s.Trends {
		out.Trends[itemID] = trend
	}
	return out
}
