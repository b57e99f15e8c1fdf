package shopping

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/feirinha/internal/changefeed"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opAddItem                 = "shopping.add_item"
	opSetItemChecked          = "shopping.set_item_checked"
	opRemoveItem              = "shopping.remove_item"
	opListItems               = "shopping.list_items"
	opRecentPriceObservations = "shopping.recent_price_observations"

	reasonInvalidProductName = "invalid_product_name"
	reasonInvalidQuantity    = "invalid_quantity"
	reasonInvalidPrice       = "invalid_price"
	reasonInvalidItemID      = "invalid_item_id"
	reasonItemNotFound       = "item_not_found"
	reasonProductLookup      = "product_lookup_failed"

	maxUnitLength = 32
)

// AddItem finds or creates the product by case-insensitive name, inserts the item,
// and records a price observation when both brand and price are given.
func (s *Service) AddItem(ctx context.Context, request AddItemRequest) (Item, error) {
	listID, err := normalizeIdentifier(opAddItem, reasonInvalidListID, request.ListID)
	if err != nil {
		return Item{}, err
	}
	userID, err := normalizeIdentifier(opAddItem, reasonInvalidUserID, request.UserID)
	if err != nil {
		return Item{}, err
	}
	productName := strings.TrimSpace(request.ProductName)
	if productName == "" || len(productName) > maxNameLength {
		return Item{}, newServiceError(opAddItem, reasonInvalidProductName, ErrInvalidInput, nil)
	}
	quantity := request.Quantity
	if quantity < 0 {
		return Item{}, newServiceError(opAddItem, reasonInvalidQuantity, ErrInvalidInput, nil)
	}
	if quantity == 0 {
		quantity = defaultQuantity
	}
	unit := strings.TrimSpace(request.Unit)
	if unit == "" {
		unit = defaultUnit
	}
	if len(unit) > maxUnitLength {
		return Item{}, newServiceError(opAddItem, "invalid_unit", ErrInvalidInput, nil)
	}
	if request.Price != nil && *request.Price < 0 {
		return Item{}, newServiceError(opAddItem, reasonInvalidPrice, ErrInvalidInput, nil)
	}
	brand := strings.TrimSpace(request.Brand)

	var (
		item           Item
		productCreated bool
		observation    *PriceObservation
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadVisibleList(ctx, tx, opAddItem, listID, userID); err != nil {
			return err
		}

		product, created, err := s.findOrCreateProduct(ctx, tx, productName)
		if err != nil {
			return err
		}
		productCreated = created

		itemID, err := s.newID(opAddItem)
		if err != nil {
			return err
		}
		item = Item{
			ID:        itemID,
			ListID:    listID,
			ProductID: product.ID,
			Quantity:  quantity,
			Unit:      unit,
			CreatedAt: s.now(),
		}
		if brand != "" {
			item.Brand = pointerTo(brand)
		}
		if request.Price != nil {
			item.Price = pointerTo(*request.Price)
		}
		if err := tx.Omit("Product").Create(&item).Error; err != nil {
			return s.storeFailure(opAddItem, reasonInsertFailed, err, zap.String(fieldListID, listID))
		}
		item.Product = product

		if brand != "" && request.Price != nil {
			observation = &PriceObservation{
				ProductID:  product.ID,
				Brand:      brand,
				UserID:     userID,
				Price:      *request.Price,
				RecordedAt: s.now(),
			}
			if err := tx.Create(observation).Error; err != nil {
				return s.storeFailure(opAddItem, reasonInsertFailed, err, zap.String("product_id", product.ID))
			}
		}
		return nil
	})
	if txErr != nil {
		return Item{}, txErr
	}

	events := make([]changefeed.Event, 0, 3)
	if productCreated {
		events = append(events, changefeed.Event{
			Table: changefeed.TableProducts, Type: changefeed.EventInsert, ID: item.ProductID,
		})
	}
	events = append(events, changefeed.Event{
		Table: changefeed.TableItems, Type: changefeed.EventInsert, ID: item.ID, ListID: item.ListID, UserID: userID,
	})
	if observation != nil {
		events = append(events, changefeed.Event{
			Table: changefeed.TablePriceObservations, Type: changefeed.EventInsert, ID: item.ProductID, UserID: userID,
		})
	}
	s.publish(events...)
	return item, nil
}

// SetItemChecked marks the item as fulfilled or pending. Any user who can see the list may do so.
func (s *Service) SetItemChecked(ctx context.Context, itemID, userID string, checked bool) (Item, error) {
	item, err := s.loadVisibleItem(ctx, opSetItemChecked, itemID, userID)
	if err != nil {
		return Item{}, err
	}

	result := s.db.WithContext(ctx).Model(&Item{}).Where(queryID, item.ID).Update("checked", checked)
	if result.Error != nil {
		return Item{}, s.storeFailure(opSetItemChecked, reasonUpdateFailed, result.Error, zap.String("item_id", item.ID))
	}
	if result.RowsAffected == 0 {
		return Item{}, newServiceError(opSetItemChecked, reasonItemNotFound, ErrNotFound, nil)
	}
	item.Checked = checked

	s.publish(changefeed.Event{
		Table: changefeed.TableItems, Type: changefeed.EventUpdate, ID: item.ID, ListID: item.ListID, UserID: userID,
	})
	return item, nil
}

// RemoveItem deletes the item. Any user who can see the list may do so.
func (s *Service) RemoveItem(ctx context.Context, itemID, userID string) error {
	item, err := s.loadVisibleItem(ctx, opRemoveItem, itemID, userID)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).Where(queryID, item.ID).Delete(&Item{})
	if result.Error != nil {
		return s.storeFailure(opRemoveItem, reasonDeleteFailed, result.Error, zap.String("item_id", item.ID))
	}
	if result.RowsAffected == 0 {
		return newServiceError(opRemoveItem, reasonItemNotFound, ErrNotFound, nil)
	}

	s.publish(changefeed.Event{
		Table: changefeed.TableItems, Type: changefeed.EventDelete, ID: item.ID, ListID: item.ListID, UserID: userID,
	})
	return nil
}

// ListItems returns the items of a visible list, pending first and newest first within each group.
func (s *Service) ListItems(ctx context.Context, listID, viewerID string) ([]Item, error) {
	listID, err := normalizeIdentifier(opListItems, reasonInvalidListID, listID)
	if err != nil {
		return nil, err
	}
	if _, err := s.loadVisibleList(ctx, s.db, opListItems, listID, viewerID); err != nil {
		return nil, err
	}

	items := make([]Item, 0)
	if err := s.db.WithContext(ctx).
		Preload("Product").
		Where(queryListID, listID).
		Order("checked ASC, created_at DESC, id DESC").
		Find(&items).Error; err != nil {
		return nil, s.storeFailure(opListItems, reasonQueryFailed, err, zap.String(fieldListID, listID))
	}
	return items, nil
}

// RecentPriceObservations returns up to limit observations for the product, brand
// and user triple, newest first.
func (s *Service) RecentPriceObservations(ctx context.Context, productID, brand, userID string, limit int) ([]PriceObservation, error) {
	if limit <= 0 {
		limit = 2
	}
	observations := make([]PriceObservation, 0, limit)
	if err := s.db.WithContext(ctx).
		Where("product_id = ? AND brand = ? AND user_id = ?", productID, strings.TrimSpace(brand), userID).
		Order("recorded_at DESC, id DESC").
		Limit(limit).
		Find(&observations).Error; err != nil {
		return nil, s.storeFailure(opRecentPriceObservations, reasonQueryFailed, err,
			zap.String("product_id", productID), zap.String(fieldUserID, userID))
	}
	return observations, nil
}

func (s *Service) loadVisibleItem(ctx context.Context, operation, itemID, userID string) (Item, error) {
	itemID, err := normalizeIdentifier(operation, reasonInvalidItemID, itemID)
	if err != nil {
		return Item{}, err
	}
	var item Item
	err = s.db.WithContext(ctx).Preload("Product").Where(queryID, itemID).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Item{}, newServiceError(operation, reasonItemNotFound, ErrNotFound, err)
	}
	if err != nil {
		return Item{}, s.storeFailure(operation, reasonQueryFailed, err, zap.String("item_id", itemID))
	}
	if _, err := s.loadVisibleList(ctx, s.db, operation, item.ListID, userID); err != nil {
		return Item{}, err
	}
	return item, nil
}

func (s *Service) findOrCreateProduct(ctx context.Context, tx *gorm.DB, name string) (Product, bool, error) {
	key := productNameKey(name)
	var product Product
	err := tx.WithContext(ctx).Where("name_key = ?", key).Take(&product).Error
	if err == nil {
		return product, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Product{}, false, s.storeFailure(opAddItem, reasonProductLookup, err, zap.String("product_name", name))
	}

	productID, err := s.newID(opAddItem)
	if err != nil {
		return Product{}, false, err
	}
	product = Product{ID: productID, Name: name, NameKey: key}
	if err := tx.WithContext(ctx).Create(&product).Error; err != nil {
		return Product{}, false, s.storeFailure(opAddItem, reasonInsertFailed, err, zap.String("product_name", name))
	}
	return product, true, nil
}

func pointerTo[T any](value T) *T {
	v := value
	return &v
}
