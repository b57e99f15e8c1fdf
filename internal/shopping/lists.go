package shopping

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/feirinha/internal/changefeed"
	"github.com/MarcoPoloResearchLab/feirinha/internal/database/dberr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opListVisibleLists = "shopping.list_visible_lists"
	opCreateList       = "shopping.create_list"
	opViewList         = "shopping.view_list"
	opRenameList       = "shopping.rename_list"
	opDeleteList       = "shopping.delete_list"
	opShareList        = "shopping.share_list"
	opRevokeShare      = "shopping.revoke_share"
	opGetShare         = "shopping.get_share"
	opListShares       = "shopping.list_shares"

	reasonAlreadyShared    = "already_shared"
	reasonGranteeIsCreator = "grantee_is_creator"
	reasonGranteeNotFound  = "grantee_not_found"
	reasonShareNotFound    = "share_not_found"
	reasonInvalidShareID   = "invalid_share_id"
)

// ListVisibleLists returns every list the user created or holds a share for, newest first.
func (s *Service) ListVisibleLists(ctx context.Context, userID string) ([]List, error) {
	userID, err := normalizeIdentifier(opListVisibleLists, reasonInvalidUserID, userID)
	if err != nil {
		return nil, err
	}

	sharedListIDs := s.db.Model(&Share{}).Select(fieldListID).Where("user_id = ?", userID)
	lists := make([]List, 0)
	if err := s.db.WithContext(ctx).
		Where("creator_id = ? OR id IN (?)", userID, sharedListIDs).
		Order(orderNewestList).
		Find(&lists).Error; err != nil {
		return nil, s.storeFailure(opListVisibleLists, reasonQueryFailed, err, zap.String(fieldUserID, userID))
	}
	return lists, nil
}

// CreateList inserts a list created and owned by userID.
func (s *Service) CreateList(ctx context.Context, userID, name string) (List, error) {
	userID, err := normalizeIdentifier(opCreateList, reasonInvalidUserID, userID)
	if err != nil {
		return List{}, err
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		trimmed = defaultListName
	}
	if len(trimmed) > maxNameLength {
		return List{}, newServiceError(opCreateList, reasonInvalidName, ErrInvalidInput, nil)
	}

	listID, err := s.newID(opCreateList)
	if err != nil {
		return List{}, err
	}
	list := List{
		ID:        listID,
		Name:      trimmed,
		OwnerID:   userID,
		CreatorID: userID,
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&list).Error; err != nil {
		return List{}, s.storeFailure(opCreateList, reasonInsertFailed, err, zap.String(fieldUserID, userID))
	}

	s.publish(changefeed.Event{
		Table:  changefeed.TableLists,
		Type:   changefeed.EventInsert,
		ID:     list.ID,
		ListID: list.ID,
		UserID: userID,
	})
	return list, nil
}

// ViewList returns the list when the viewer may see it.
func (s *Service) ViewList(ctx context.Context, listID, viewerID string) (List, error) {
	listID, err := normalizeIdentifier(opViewList, reasonInvalidListID, listID)
	if err != nil {
		return List{}, err
	}
	return s.loadVisibleList(ctx, s.db, opViewList, listID, viewerID)
}

// RenameList changes the list name. Only the creator may rename a list.
func (s *Service) RenameList(ctx context.Context, listID, requesterID, newName string) (List, error) {
	listID, err := normalizeIdentifier(opRenameList, reasonInvalidListID, listID)
	if err != nil {
		return List{}, err
	}
	list, err := s.loadList(ctx, s.db, opRenameList, listID)
	if err != nil {
		return List{}, err
	}
	if !list.IsCreator(requesterID) {
		return List{}, newServiceError(opRenameList, reasonPermissionDenied, ErrPermissionDenied, nil)
	}
	trimmed := strings.TrimSpace(newName)
	if trimmed == "" || len(trimmed) > maxNameLength {
		return List{}, newServiceError(opRenameList, reasonInvalidName, ErrInvalidInput, nil)
	}

	result := s.db.WithContext(ctx).Model(&List{}).Where(queryID, listID).Update("name", trimmed)
	if result.Error != nil {
		return List{}, s.storeFailure(opRenameList, reasonUpdateFailed, result.Error, zap.String(fieldListID, listID))
	}
	if result.RowsAffected == 0 {
		return List{}, newServiceError(opRenameList, reasonListNotFound, ErrNotFound, nil)
	}
	list.Name = trimmed

	s.publish(changefeed.Event{
		Table:  changefeed.TableLists,
		Type:   changefeed.EventUpdate,
		ID:     list.ID,
		ListID: list.ID,
		UserID: requesterID,
	})
	return list, nil
}

// DeleteList removes the list together with its items and shares. Only the creator may delete.
func (s *Service) DeleteList(ctx context.Context, listID, requesterID string) error {
	listID, err := normalizeIdentifier(opDeleteList, reasonInvalidListID, listID)
	if err != nil {
		return err
	}

	var events []changefeed.Event
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		list, err := s.loadList(ctx, tx, opDeleteList, listID)
		if err != nil {
			return err
		}
		if !list.IsCreator(requesterID) {
			return newServiceError(opDeleteList, reasonPermissionDenied, ErrPermissionDenied, nil)
		}

		var items []Item
		if err := tx.Where(queryListID, listID).Find(&items).Error; err != nil {
			return s.storeFailure(opDeleteList, reasonQueryFailed, err, zap.String(fieldListID, listID))
		}
		var shares []Share
		if err := tx.Where(queryListID, listID).Find(&shares).Error; err != nil {
			return s.storeFailure(opDeleteList, reasonQueryFailed, err, zap.String(fieldListID, listID))
		}

		if err := tx.Where(queryListID, listID).Delete(&Item{}).Error; err != nil {
			return s.storeFailure(opDeleteList, reasonDeleteFailed, err, zap.String(fieldListID, listID))
		}
		if err := tx.Where(queryListID, listID).Delete(&Share{}).Error; err != nil {
			return s.storeFailure(opDeleteList, reasonDeleteFailed, err, zap.String(fieldListID, listID))
		}
		if err := tx.Where(queryID, listID).Delete(&List{}).Error; err != nil {
			return s.storeFailure(opDeleteList, reasonDeleteFailed, err, zap.String(fieldListID, listID))
		}

		for _, item := range items {
			events = append(events, changefeed.Event{
				Table: changefeed.TableItems, Type: changefeed.EventDelete, ID: item.ID, ListID: listID,
			})
		}
		for _, share := range shares {
			events = append(events, changefeed.Event{
				Table: changefeed.TableShares, Type: changefeed.EventDelete, ID: share.ID, ListID: listID, UserID: share.UserID,
			})
		}
		events = append(events, changefeed.Event{
			Table: changefeed.TableLists, Type: changefeed.EventDelete, ID: listID, ListID: listID, UserID: requesterID,
		})
		return nil
	})
	if txErr != nil {
		return txErr
	}

	s.publish(events...)
	return nil
}

// ShareList grants granteeID read/write access. Only the creator may share, and a
// second grant for the same user fails with ErrAlreadyShared.
func (s *Service) ShareList(ctx context.Context, listID, granterID, granteeID string) (Share, error) {
	listID, err := normalizeIdentifier(opShareList, reasonInvalidListID, listID)
	if err != nil {
		return Share{}, err
	}
	granteeID, err = normalizeIdentifier(opShareList, reasonInvalidUserID, granteeID)
	if err != nil {
		return Share{}, err
	}

	list, err := s.loadList(ctx, s.db, opShareList, listID)
	if err != nil {
		return Share{}, err
	}
	if !list.IsCreator(granterID) {
		return Share{}, newServiceError(opShareList, reasonPermissionDenied, ErrPermissionDenied, nil)
	}
	if list.IsCreator(granteeID) {
		return Share{}, newServiceError(opShareList, reasonGranteeIsCreator, ErrInvalidInput, nil)
	}
	if s.accounts != nil {
		exists, err := s.accounts.AccountExists(ctx, granteeID)
		if err != nil {
			return Share{}, s.storeFailure(opShareList, reasonQueryFailed, err, zap.String(fieldUserID, granteeID))
		}
		if !exists {
			return Share{}, newServiceError(opShareList, reasonGranteeNotFound, ErrNotFound, nil)
		}
	}

	var existing Share
	err = s.db.WithContext(ctx).Where(queryListUser, listID, granteeID).Take(&existing).Error
	if err == nil {
		return Share{}, newServiceError(opShareList, reasonAlreadyShared, ErrAlreadyShared, nil)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Share{}, s.storeFailure(opShareList, reasonQueryFailed, err, zap.String(fieldListID, listID))
	}

	shareID, err := s.newID(opShareList)
	if err != nil {
		return Share{}, err
	}
	share := Share{
		ID:       shareID,
		ListID:   listID,
		UserID:   granteeID,
		SharedAt: s.now(),
	}
	// The unique (list_id, user_id) index rejects a grant that raced the lookup above.
	if err := s.db.WithContext(ctx).Create(&share).Error; err != nil {
		if dberr.IsUniqueViolation(err) {
			return Share{}, newServiceError(opShareList, reasonAlreadyShared, ErrAlreadyShared, err)
		}
		return Share{}, s.storeFailure(opShareList, reasonInsertFailed, err, zap.String(fieldListID, listID))
	}

	s.publish(changefeed.Event{
		Table:  changefeed.TableShares,
		Type:   changefeed.EventInsert,
		ID:     share.ID,
		ListID: share.ListID,
		UserID: share.UserID,
	})
	return share, nil
}

// GetShare loads one share by id.
func (s *Service) GetShare(ctx context.Context, shareID string) (Share, error) {
	shareID, err := normalizeIdentifier(opGetShare, reasonInvalidShareID, shareID)
	if err != nil {
		return Share{}, err
	}
	var share Share
	err = s.db.WithContext(ctx).Where(queryID, shareID).Take(&share).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Share{}, newServiceError(opGetShare, reasonShareNotFound, ErrNotFound, err)
	}
	if err != nil {
		return Share{}, s.storeFailure(opGetShare, reasonQueryFailed, err, zap.String("share_id", shareID))
	}
	return share, nil
}

// RevokeShare deletes the share row. Callers apply their own access policy.
func (s *Service) RevokeShare(ctx context.Context, shareID string) error {
	share, err := s.GetShare(ctx, shareID)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).Where(queryID, share.ID).Delete(&Share{})
	if result.Error != nil {
		return s.storeFailure(opRevokeShare, reasonDeleteFailed, result.Error, zap.String("share_id", share.ID))
	}
	if result.RowsAffected == 0 {
		return newServiceError(opRevokeShare, reasonShareNotFound, ErrNotFound, nil)
	}

	s.publish(changefeed.Event{
		Table:  changefeed.TableShares,
		Type:   changefeed.EventDelete,
		ID:     share.ID,
		ListID: share.ListID,
		UserID: share.UserID,
	})
	return nil
}

// ListShares returns the shares of a list the viewer may see, oldest first.
func (s *Service) ListShares(ctx context.Context, listID, viewerID string) ([]Share, error) {
	listID, err := normalizeIdentifier(opListShares, reasonInvalidListID, listID)
	if err != nil {
		return nil, err
	}
	if _, err := s.loadVisibleList(ctx, s.db, opListShares, listID, viewerID); err != nil {
		return nil, err
	}

	shares := make([]Share, 0)
	if err := s.db.WithContext(ctx).
		Where(queryListID, listID).
		Order("shared_at ASC, id ASC").
		Find(&shares).Error; err != nil {
		return nil, s.storeFailure(opListShares, reasonQueryFailed, err, zap.String(fieldListID, listID))
	}
	return shares, nil
}
