package server

import (
	"time"

	"github.com/MarcoPoloResearchLab/feirinha/internal/projection"
	"github.com/MarcoPoloResearchLab/feirinha/internal/shopping"
)

type listPayload struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatorID string    `json:"creator_id"`
	CreatedAt time.Time `json:"created_at"`
	IsCreator bool      `json:"is_creator"`
}

type trendPayload struct {
	PreviousPrice float64 `json:"previous_price"`
	LatestPrice   float64 `json:"latest_price"`
	PercentChange float64 `json:"percent_change"`
	Direction     string  `json:"direction"`
}

type itemPayload struct {
	ID          string        `json:"id"`
	ListID      string        `json:"list_id"`
	ProductID   string        `json:"product_id"`
	ProductName string        `json:"product_name"`
	Quantity    float64       `json:"quantity"`
	Unit        string        `json:"unit"`
	Brand       *string       `json:"brand,omitempty"`
	Price       *float64      `json:"price,omitempty"`
	Checked     bool          `json:"checked"`
	CreatedAt   time.Time     `json:"created_at"`
	Trend       *trendPayload `json:"trend,omitempty"`
}

type listDetailPayload struct {
	List         listPayload      `json:"list"`
	Items        []itemPayload    `json:"items"`
	Shares       []shopping.Share `json:"shares"`
	Total        float64          `json:"total"`
	CheckedCount int              `json:"checked_count"`
	Version      uint64           `json:"version"`
	Stale        bool             `json:"stale"`
}

type collectionPayload struct {
	Lists   []listPayload `json:"lists"`
	Version uint64        `json:"version"`
	Stale   bool          `json:"stale"`
}

type listGonePayload struct {
	ListID string `json:"list_id"`
}

type heartbeatPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

func newListPayload(list shopping.List, viewerID string) listPayload {
	return listPayload{
		ID:        list.ID,
		Name:      list.Name,
		OwnerID:   list.OwnerID,
		CreatorID: list.CreatorID,
		CreatedAt: list.CreatedAt,
		IsCreator: list.IsCreator(viewerID),
	}
}

func newListPayloads(lists []shopping.List, viewerID string) []listPayload {
	payloads := make([]listPayload, 0, len(lists))
	for _, list := range lists {
		payloads = append(payloads, newListPayload(list, viewerID))
	}
	return payloads
}

func newItemPayload(item shopping.Item, trend *shopping.PriceTrend) itemPayload {
	payload := itemPayload{
		ID:          item.ID,
		ListID:      item.ListID,
		ProductID:   item.ProductID,
		ProductName: item.Product.Name,
		Quantity:    item.Quantity,
		Unit:        item.Unit,
		Brand:       item.Brand,
		Price:       item.Price,
		Checked:     item.Checked,
		CreatedAt:   item.CreatedAt,
	}
	if trend != nil {
		payload.Trend = &trendPayload{
			PreviousPrice: trend.PreviousPrice,
			LatestPrice:   trend.LatestPrice,
			PercentChange: trend.PercentChange,
			Direction:     string(trend.Direction()),
		}
	}
	return payload
}

func newListDetailPayload(snapshot projection.ListSnapshot, viewerID string) listDetailPayload {
	items := make([]itemPayload, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		var trend *shopping.PriceTrend
		if found, ok := snapshot.Trends[item.ID]; ok {
			trend = &found
		}
		items = append(items, newItemPayload(item, trend))
	}
	shares := snapshot.Shares
	if shares == nil {
		shares = []shopping.Share{}
	}
	return listDetailPayload{
		List:         newListPayload(snapshot.List, viewerID),
		Items:        items,
		Shares:       shares,
		Total:        snapshot.Total,
		CheckedCount: snapshot.CheckedCount,
		Version:      snapshot.Version,
		Stale:        snapshot.LastError != nil,
	}
}

func newCollectionPayload(snapshot projection.CollectionSnapshot, viewerID string) collectionPayload {
	return collectionPayload{
		Lists:   newListPayloads(snapshot.Lists, viewerID),
		Version: snapshot.Version,
		Stale:   snapshot.LastError != nil,
	}
}
