package membership

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CategoryCommunity marks a contact row as a group membership.
const CategoryCommunity = 2

// Contact is one row of a user's contact list.
type Contact struct {
	ID       int64     `gorm:"primaryKey;autoIncrement"`
	OwnerID  int64     `gorm:"not null;uniqueIndex:idx_contact_owner_dst_cate"`
	DstObj   int64     `gorm:"not null;uniqueIndex:idx_contact_owner_dst_cate"`
	Cate     int       `gorm:"not null;uniqueIndex:idx_contact_owner_dst_cate"`
	Memo     string    `gorm:"size:255"`
	CreateAt time.Time `gorm:"autoCreateTime"`
}

func (Contact) TableName() string {
	return "contacts"
}

// GormStore records memberships as community contacts.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Groups(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	if err := s.db.WithContext(ctx).
		Model(&Contact{}).
		Where("owner_id = ? AND cate = ?", userID, CategoryCommunity).
		Order("dst_obj").
		Pluck("dst_obj", &ids).Error; err != nil {
		return nil, fmt.Errorf("load groups for user %d: %w", userID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}

func (s *GormStore) Join(ctx context.Context, userID, groupID int64) error {
	if err := validIDs(userID, groupID); err != nil {
		return err
	}
	contact := &Contact{OwnerID: userID, DstObj: groupID, Cate: CategoryCommunity}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(contact).Error; err != nil {
		return fmt.Errorf("join group %d: %w", groupID, err)
	}
	return nil
}

func (s *GormStore) Leave(ctx context.Context, userID, groupID int64) error {
	if err := validIDs(userID, groupID); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).
		Where("owner_id = ? AND dst_obj = ? AND cate = ?", userID, groupID, CategoryCommunity).
		Delete(&Contact{}).Error; err != nil {
		return fmt.Errorf("leave group %d: %w", groupID, err)
	}
	return nil
}
