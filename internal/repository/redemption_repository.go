package repository

import (
	"context"
	"time"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/models"

	"gorm.io/gorm"
)

// RedemptionRepository defines data access for Redemption rows
type RedemptionRepository interface {
	Create(ctx context.Context, redemption *models.Redemption) error
	GetByID(ctx context.Context, id string) (*models.Redemption, error)
	GetByBurnTxHash(ctx context.Context, txHash string) (*models.Redemption, error)
	Update(ctx context.Context, redemption *models.Redemption) error

	// UpdateStatusIf is the compare-and-transition primitive for
	// redemption state, mirroring BridgeRepository.UpdateStatusIf.
	UpdateStatusIf(ctx context.Context, id string, from []models.RedemptionStatus, to models.RedemptionStatus, updates map[string]interface{}) (bool, error)

	// GetNeedingRetry returns redemptions flagged for confirmation retry
	GetNeedingRetry(ctx context.Context) ([]*models.Redemption, error)

	// GetWithPendingPayouts returns redemptions whose XRPL payout was
	// submitted but not yet observed as ledger-validated.
	GetWithPendingPayouts(ctx context.Context) ([]*models.Redemption, error)
}

type redemptionRepository struct {
	db *gorm.DB
}

// NewRedemptionRepository creates a new RedemptionRepository instance
func NewRedemptionRepository(db *gorm.DB) RedemptionRepository {
	return &redemptionRepository{db: db}
}

func (r *redemptionRepository) Create(ctx context.Context, redemption *models.Redemption) error {
	return r.db.WithContext(ctx).Create(redemption).Error
}

func (r *redemptionRepository) GetByID(ctx context.Context, id string) (*models.Redemption, error) {
	var redemption models.Redemption
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&redemption).Error; err != nil {
		return nil, err
	}
	return &redemption, nil
}

func (r *redemptionRepository) GetByBurnTxHash(ctx context.Context, txHash string) (*models.Redemption, error) {
	var redemption models.Redemption
	if err := r.db.WithContext(ctx).Where("burn_tx_hash = ?", txHash).First(&redemption).Error; err != nil {
		return nil, err
	}
	return &redemption, nil
}

func (r *redemptionRepository) Update(ctx context.Context, redemption *models.Redemption) error {
	return r.db.WithContext(ctx).Save(redemption).Error
}

func (r *redemptionRepository) UpdateStatusIf(ctx context.Context, id string, from []models.RedemptionStatus, to models.RedemptionStatus, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = to
	updates["updated_at"] = time.Now()

	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	res := r.db.WithContext(ctx).
		Model(&models.Redemption{}).
		Where("id = ? AND status IN ?", id, fromStrs).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *redemptionRepository) GetNeedingRetry(ctx context.Context) ([]*models.Redemption, error) {
	var redemptions []*models.Redemption
	err := r.db.WithContext(ctx).
		Where("needs_retry = ? AND status IN ?", true, []string{
			string(models.RedemptionStatusFailed),
			string(models.RedemptionStatusConfirming),
		}).
		Order("created_at ASC").
		Find(&redemptions).Error
	return redemptions, err
}

func (r *redemptionRepository) GetWithPendingPayouts(ctx context.Context) ([]*models.Redemption, error) {
	var redemptions []*models.Redemption
	err := r.db.WithContext(ctx).
		Where("status = ? AND payout_tx_hash <> ''", string(models.RedemptionStatusPayoutSubmitted)).
		Find(&redemptions).Error
	return redemptions, err
}
