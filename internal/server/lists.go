package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/feirinha/internal/projection"
	"github.com/MarcoPoloResearchLab/feirinha/internal/shopping"
	"github.com/gin-gonic/gin"
)

type listNamePayload struct {
	Name string `json:"name"`
}

type shareRequestPayload struct {
	UserID string `json:"user_id"`
}

type addItemPayload struct {
	ProductName string   `json:"product_name"`
	Quantity    float64  `json:"quantity"`
	Unit        string   `json:"unit"`
	Brand       string   `json:"brand"`
	Price       *float64 `json:"price"`
}

type checkItemPayload struct {
	Checked *bool `json:"checked"`
}

func (h *httpHandler) handleListVisibleLists(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	lists, err := h.lists.ListVisibleLists(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lists": newListPayloads(lists, userID)})
}

func (h *httpHandler) handleCreateList(c *gin.Context) {
	var request listNamePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userID := c.GetString(userIDContextKey)
	list, err := h.lists.CreateList(c.Request.Context(), userID, request.Name)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newListPayload(list, userID))
}

// handleListDetail reads one snapshot of the list without opening a view.
func (h *httpHandler) handleListDetail(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	snapshot, err := projection.LoadListSnapshot(c.Request.Context(), h.lists, c.Param("id"), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newListDetailPayload(snapshot, userID))
}

func (h *httpHandler) handleRenameList(c *gin.Context) {
	var request listNamePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userID := c.GetString(userIDContextKey)
	list, err := h.lists.RenameList(c.Request.Context(), c.Param("id"), userID, request.Name)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newListPayload(list, userID))
}

func (h *httpHandler) handleDeleteList(c *gin.Context) {
	if err := h.lists.DeleteList(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey)); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleShareList(c *gin.Context) {
	var request shareRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	share, err := h.lists.ShareList(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey), request.UserID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, share)
}

// handleRevokeShare lets the grantee leave a list and the creator remove anyone.
func (h *httpHandler) handleRevokeShare(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.GetString(userIDContextKey)
	share, err := h.lists.GetShare(ctx, c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	if share.UserID != userID {
		list, err := h.lists.ViewList(ctx, share.ListID, userID)
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
		if !list.IsCreator(userID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "shopping.revoke_share.permission_denied"})
			return
		}
	}
	if err := h.lists.RevokeShare(ctx, share.ID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAddItem(c *gin.Context) {
	var request addItemPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	item, err := h.lists.AddItem(c.Request.Context(), shopping.AddItemRequest{
		ListID:      c.Param("id"),
		UserID:      c.GetString(userIDContextKey),
		ProductName: request.ProductName,
		Quantity:    request.Quantity,
		Unit:        request.Unit,
		Brand:       request.Brand,
		Price:       request.Price,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newItemPayload(item, nil))
}

func (h *httpHandler) handleSetItemChecked(c *gin.Context) {
	var request checkItemPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Checked == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	item, err := h.lists.SetItemChecked(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey), *request.Checked)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newItemPayload(item, nil))
}

func (h *httpHandler) handleRemoveItem(c *gin.Context) {
	if err := h.lists.RemoveItem(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey)); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
