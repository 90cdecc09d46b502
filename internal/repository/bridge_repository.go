package repository

import (
	"context"
	"time"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/models"

	"gorm.io/gorm"
)

// BridgeRepository defines data access for BridgeRequest rows.
//
// UpdateStatusIf is the compare-and-transition primitive every state
// change goes through: the UPDATE is conditioned on the current
// persisted status so racing triggers (duplicate ledger event,
// reconciliation resume) cannot both win.
type BridgeRepository interface {
	Create(ctx context.Context, request *models.BridgeRequest) error
	GetByID(ctx context.Context, id string) (*models.BridgeRequest, error)
	GetByAgentAddress(ctx context.Context, agentAddress string) (*models.BridgeRequest, error)
	Update(ctx context.Context, request *models.BridgeRequest) error

	// UpdateStatusIf transitions id from one of the given statuses,
	// applying extra column updates atomically. Returns false when the
	// row was not in an accepted status (someone else transitioned it).
	UpdateStatusIf(ctx context.Context, id string, from []models.BridgeStatus, to models.BridgeStatus, updates map[string]interface{}) (bool, error)

	// GetPendingBridges returns non-terminal bridges still waiting for
	// their XRPL payment (agent address must stay subscribed).
	GetPendingBridges(ctx context.Context) ([]*models.BridgeRequest, error)

	// GetStuckBridges returns bridges left in a resumable intermediate
	// state by a crash or a transient failure.
	GetStuckBridges(ctx context.Context) ([]*models.BridgeRequest, error)

	// GetConfirmedWithoutProof returns bridges at xrpl_confirmed that
	// never had a proof recorded.
	GetConfirmedWithoutProof(ctx context.Context) ([]*models.BridgeRequest, error)

	// GetExpired returns non-terminal bridges past their expiry
	GetExpired(ctx context.Context, now time.Time) ([]*models.BridgeRequest, error)

	CountByStatus(ctx context.Context) (map[models.BridgeStatus]int64, error)
}

type bridgeRepository struct {
	db *gorm.DB
}

// NewBridgeRepository creates a new BridgeRepository instance
func NewBridgeRepository(db *gorm.DB) BridgeRepository {
	return &bridgeRepository{db: db}
}

func (r *bridgeRepository) Create(ctx context.Context, request *models.BridgeRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *bridgeRepository) GetByID(ctx context.Context, id string) (*models.BridgeRequest, error) {
	var request models.BridgeRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&request).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *bridgeRepository) GetByAgentAddress(ctx context.Context, agentAddress string) (*models.BridgeRequest, error) {
	var request models.BridgeRequest
	err := r.db.WithContext(ctx).
		Where("agent_address = ?", agentAddress).
		Order("created_at DESC").
		First(&request).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *bridgeRepository) Update(ctx context.Context, request *models.BridgeRequest) error {
	return r.db.WithContext(ctx).Save(request).Error
}

func (r *bridgeRepository) UpdateStatusIf(ctx context.Context, id string, from []models.BridgeStatus, to models.BridgeStatus, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = to
	updates["updated_at"] = time.Now()

	res := r.db.WithContext(ctx).
		Model(&models.BridgeRequest{}).
		Where("id = ? AND status IN ?", id, statusStrings(from)).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *bridgeRepository) GetPendingBridges(ctx context.Context) ([]*models.BridgeRequest, error) {
	var requests []*models.BridgeRequest
	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{
			string(models.BridgeStatusAwaitingPayment),
		}).
		Find(&requests).Error
	return requests, err
}

func (r *bridgeRepository) GetStuckBridges(ctx context.Context) ([]*models.BridgeRequest, error) {
	var requests []*models.BridgeRequest
	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{
			string(models.BridgeStatusGeneratingProof),
			string(models.BridgeStatusProofGenerated),
			string(models.BridgeStatusMinting),
			string(models.BridgeStatusVaultMinting),
		}).
		Find(&requests).Error
	return requests, err
}

func (r *bridgeRepository) GetConfirmedWithoutProof(ctx context.Context) ([]*models.BridgeRequest, error) {
	var requests []*models.BridgeRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND (proof IS NULL OR proof = '')", string(models.BridgeStatusXRPLConfirmed)).
		Find(&requests).Error
	return requests, err
}

func (r *bridgeRepository) GetExpired(ctx context.Context, now time.Time) ([]*models.BridgeRequest, error) {
	var requests []*models.BridgeRequest
	err := r.db.WithContext(ctx).
		Where("status NOT IN ? AND expires_at < ?", []string{
			string(models.BridgeStatusCompleted),
			string(models.BridgeStatusFailed),
			string(models.BridgeStatusCancelled),
			string(models.BridgeStatusVaultMintFailed),
		}, now).
		Find(&requests).Error
	return requests, err
}

func (r *bridgeRepository) CountByStatus(ctx context.Context) (map[models.BridgeStatus]int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&models.BridgeRequest{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[models.BridgeStatus]int64, len(rows))
	for _, rw := range rows {
		out[models.BridgeStatus(rw.Status)] = rw.N
	}
	return out, nil
}

func statusStrings(statuses []models.BridgeStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
