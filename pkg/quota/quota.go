package quota

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stashdav/stashdav/internal/logger"
	"github.com/stashdav/stashdav/pkg/store"
)

// ExceededError reports a reservation that would push usage past the limit.
type ExceededError struct {
	Limit int64
	Used  int64
	Need  int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: limit=%d used=%d need=%d", e.Limit, e.Used, e.Need)
}

// Engine tracks per-principal byte usage. Reservations are made before blobs
// are written and reversed when the metadata commit fails; trashed bytes stay
// reserved until permanent delete.
type Engine struct {
	store        *store.Store
	defaultLimit int64
	log          zerolog.Logger
}

func New(s *store.Store, defaultLimit int64) *Engine {
	return &Engine{
		store:        s,
		defaultLimit: defaultLimit,
		log:          logger.New("quota"),
	}
}

// Ensure creates the principal's quota row with the default limit if missing.
func (e *Engine) Ensure(ctx context.Context, ownerID uint) error {
	q := store.Quota{OwnerID: ownerID, LimitBytes: e.defaultLimit}
	return e.store.DB().WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&q).Error
}

func (e *Engine) Get(ctx context.Context, ownerID uint) (*store.Quota, error) {
	if err := e.Ensure(ctx, ownerID); err != nil {
		return nil, err
	}
	var q store.Quota
	if err := e.store.DB().WithContext(ctx).First(&q, "owner_id = ?", ownerID).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

// Check reports whether a reservation of delta bytes would fit. Advisory
// only; Reserve is the race-safe variant.
func (e *Engine) Check(ctx context.Context, ownerID uint, delta int64) error {
	q, err := e.Get(ctx, ownerID)
	if err != nil {
		return err
	}
	if delta > 0 && q.UsedBytes+delta > q.LimitBytes {
		return &ExceededError{Limit: q.LimitBytes, Used: q.UsedBytes, Need: delta}
	}
	return nil
}

// Reserve atomically claims n bytes, failing with ExceededError when they do
// not fit. The conditional update makes concurrent reservations serialize on
// the quota row, so two uploads can never jointly overshoot the limit.
func (e *Engine) Reserve(ctx context.Context, ownerID uint, n int64) error {
	if n <= 0 {
		return nil
	}
	if err := e.Ensure(ctx, ownerID); err != nil {
		return err
	}
	res := e.store.DB().WithContext(ctx).Model(&store.Quota{}).
		Where("owner_id = ? AND used_bytes + ? <= limit_bytes", ownerID, n).
		Update("used_bytes", gorm.Expr("used_bytes + ?", n))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		q, err := e.Get(ctx, ownerID)
		if err != nil {
			return err
		}
		return &ExceededError{Limit: q.LimitBytes, Used: q.UsedBytes, Need: n}
	}
	return nil
}

// Add increments usage without checking the limit.
func (e *Engine) Add(ctx context.Context, ownerID uint, n int64) error {
	return e.AddTx(e.store.DB().WithContext(ctx), ownerID, n)
}

// AddTx is Add inside an existing transaction.
func (e *Engine) AddTx(tx *gorm.DB, ownerID uint, n int64) error {
	if n <= 0 {
		return nil
	}
	return tx.Model(&store.Quota{}).
		Where("owner_id = ?", ownerID).
		Update("used_bytes", gorm.Expr("used_bytes + ?", n)).Error
}

// Sub decrements usage, clamping at zero.
func (e *Engine) Sub(ctx context.Context, ownerID uint, n int64) error {
	return e.SubTx(e.store.DB().WithContext(ctx), ownerID, n)
}

// SubTx is Sub inside an existing transaction.
func (e *Engine) SubTx(tx *gorm.DB, ownerID uint, n int64) error {
	if n <= 0 {
		return nil
	}
	return tx.Model(&store.Quota{}).
		Where("owner_id = ?", ownerID).
		Update("used_bytes", gorm.Expr("MAX(0, used_bytes - ?)", n)).Error
}

// Adjust moves usage from oldSize to newSize. Growth reserves the delta and
// may fail with ExceededError; shrinking always succeeds, even over quota.
func (e *Engine) Adjust(ctx context.Context, ownerID uint, oldSize, newSize int64) error {
	switch {
	case newSize > oldSize:
		return e.Reserve(ctx, ownerID, newSize-oldSize)
	case newSize < oldSize:
		return e.Sub(ctx, ownerID, oldSize-newSize)
	default:
		return nil
	}
}

// Recompute resets usage to the actual sum of record sizes, trash included.
func (e *Engine) Recompute(ctx context.Context, ownerID uint) (int64, error) {
	if err := e.Ensure(ctx, ownerID); err != nil {
		return 0, err
	}
	total, err := e.store.SumSize(ctx, ownerID, true)
	if err != nil {
		return 0, err
	}
	err = e.store.DB().WithContext(ctx).Model(&store.Quota{}).
		Where("owner_id = ?", ownerID).
		Update("used_bytes", total).Error
	if err != nil {
		return 0, err
	}
	e.log.Info().Uint("owner", ownerID).Int64("used", total).Msg("quota recomputed")
	return total, nil
}

// SetLimit updates a principal's byte limit. Usage is untouched; it may end
// up above the new limit, which only blocks further growth.
func (e *Engine) SetLimit(ctx context.Context, ownerID uint, limit int64) error {
	if err := e.Ensure(ctx, ownerID); err != nil {
		return err
	}
	return e.store.DB().WithContext(ctx).Model(&store.Quota{}).
		Where("owner_id = ?", ownerID).
		Update("limit_bytes", limit).Error
}
