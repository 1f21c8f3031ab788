// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the hotel partition leases that give a
// single worker affinity over a hotel's queue.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-rate-engine/internal/domain"
)

// AcquireLease grants owner the partition of hotelID until now+ttl. It
// succeeds when the partition is free, expired, or already held by owner,
// and reports false when another live owner holds it.
func AcquireLease(ctx context.Context, db *gorm.DB, hotelID, owner string, now time.Time, ttl time.Duration) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.PartitionLease{}).
		Where("hotel_id = ? AND (owner = ? OR expires_at < ?)", hotelID, owner, now).
		Updates(map[string]any{"owner": owner, "expires_at": now.Add(ttl)})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	err := db.WithContext(ctx).Create(&domain.PartitionLease{
		HotelID:   hotelID,
		Owner:     owner,
		ExpiresAt: now.Add(ttl),
	}).Error
	switch {
	case err == nil:
		return true, nil
	case isUniqueViolation(err):
		return false, nil
	default:
		return false, err
	}
}

// RenewLease extends a lease still held by owner. It returns ErrLeaseLost
// if the lease expired and was taken over.
func RenewLease(ctx context.Context, db *gorm.DB, hotelID, owner string, now time.Time, ttl time.Duration) error {
	res := db.WithContext(ctx).
		Model(&domain.PartitionLease{}).
		Where("hotel_id = ? AND owner = ?", hotelID, owner).
		Update("expires_at", now.Add(ttl))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// ReleaseLease frees a partition held by owner. Releasing a lease that was
// already lost is a no-op.
func ReleaseLease(ctx context.Context, db *gorm.DB, hotelID, owner string) error {
	return db.WithContext(ctx).
		Where("hotel_id = ? AND owner = ?", hotelID, owner).
		Delete(&domain.PartitionLease{}).Error
}

// ErrLeaseLost reports that a partition lease is no longer held by the caller.
var ErrLeaseLost = errors.New("partition lease lost")
