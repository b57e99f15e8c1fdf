package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/feirinha/internal/projection"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	streamEventListSnapshot       = "list-snapshot"
	streamEventCollectionSnapshot = "collection-snapshot"
	streamEventListGone           = "list-gone"
	streamEventHeartbeat          = "heartbeat"
)

// offerLatest replaces any pending value in a one-slot channel so a slow
// stream writer only ever sees the newest projection. It assumes one sender.
func offerLatest[T any](updates chan T, value T) {
	for {
		select {
		case updates <- value:
			return
		default:
		}
		select {
		case <-updates:
		default:
		}
	}
}

func (h *httpHandler) handleListStream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	listID := c.Param("id")
	updates := make(chan projection.ListSnapshot, 1)

	view, err := projection.MountListView(c.Request.Context(), projection.ListViewConfig{
		ListID:   listID,
		ViewerID: userID,
		Source:   h.lists,
		Feed:     h.feed,
		Logger:   h.logger,
		OnRefresh: func(snapshot projection.ListSnapshot) {
			offerLatest(updates, snapshot)
		},
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	defer view.Unmount()

	h.logger.Debug("list stream opened", zap.String("list_id", listID), zap.String("user_id", userID))
	h.startStream(c)
	h.writeEvent(c, streamEventListSnapshot, newListDetailPayload(view.Snapshot(), userID))

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-view.Done():
			return
		case snapshot := <-updates:
			if snapshot.Gone {
				h.writeEvent(c, streamEventListGone, listGonePayload{ListID: listID})
				return
			}
			h.writeEvent(c, streamEventListSnapshot, newListDetailPayload(snapshot, userID))
		case now := <-heartbeat.C:
			h.writeEvent(c, streamEventHeartbeat, heartbeatPayload{Timestamp: now.UTC()})
		}
	}
}

func (h *httpHandler) handleCollectionStream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	updates := make(chan projection.CollectionSnapshot, 1)

	view, err := projection.MountCollectionView(c.Request.Context(), projection.CollectionViewConfig{
		ViewerID: userID,
		Source:   h.lists,
		Feed:     h.feed,
		Logger:   h.logger,
		OnRefresh: func(snapshot projection.CollectionSnapshot) {
			offerLatest(updates, snapshot)
		},
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	defer view.Unmount()

	h.startStream(c)
	h.writeEvent(c, streamEventCollectionSnapshot, newCollectionPayload(view.Snapshot(), userID))

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-view.Done():
			return
		case snapshot := <-updates:
			h.writeEvent(c, streamEventCollectionSnapshot, newCollectionPayload(snapshot, userID))
		case now := <-heartbeat.C:
			h.writeEvent(c, streamEventHeartbeat, heartbeatPayload{Timestamp: now.UTC()})
		}
	}
}

func (h *httpHandler) startStream(c *gin.Context) {
	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
}

func (h *httpHandler) writeEvent(c *gin.Context, event string, payload any) {
	c.SSEvent(event, payload)
	c.Writer.Flush()
}
