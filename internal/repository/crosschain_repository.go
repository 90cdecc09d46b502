package repository

import (
	"context"
	"time"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/models"

	"gorm.io/gorm"
)

// CrossChainRepository defines data access for jobs, legs and quotes
type CrossChainRepository interface {
	// CreateJobWithLegs atomically creates one job row and its ordered
	// leg rows inside a single transaction.
	CreateJobWithLegs(ctx context.Context, job *models.CrossChainJob, legs []models.CrossChainLeg) error

	GetJobByID(ctx context.Context, id string) (*models.CrossChainJob, error)
	GetJobsByWallet(ctx context.Context, wallet string) ([]*models.CrossChainJob, error)
	GetLegByID(ctx context.Context, id string) (*models.CrossChainLeg, error)
	GetLegsByJobID(ctx context.Context, jobID string) ([]models.CrossChainLeg, error)

	// UpdateLeg persists leg changes and writes the derived job
	// status/current-leg projection in the same transaction.
	UpdateLeg(ctx context.Context, leg *models.CrossChainLeg, jobStatus models.JobStatus, currentLeg int) error

	// UpdateJobStatusIf compare-and-transitions a job (cancel path)
	UpdateJobStatusIf(ctx context.Context, id string, from []models.JobStatus, to models.JobStatus) (bool, error)

	CreateQuote(ctx context.Context, quote *models.RouteQuote) error
	GetQuoteByID(ctx context.Context, id string) (*models.RouteQuote, error)
}

type crossChainRepository struct {
	db *gorm.DB
}

// NewCrossChainRepository creates a new CrossChainRepository instance
func NewCrossChainRepository(db *gorm.DB) CrossChainRepository {
	return &crossChainRepository{db: db}
}

func (r *crossChainRepository) CreateJobWithLegs(ctx context.Context, job *models.CrossChainJob, legs []models.CrossChainLeg) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		for i := range legs {
			legs[i].JobID = job.ID
			if err := tx.Create(&legs[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *crossChainRepository) GetJobByID(ctx context.Context, id string) (*models.CrossChainJob, error) {
	var job models.CrossChainJob
	err := r.db.WithContext(ctx).
		Preload("Legs", func(db *gorm.DB) *gorm.DB { return db.Order("leg_index ASC") }).
		Where("id = ?", id).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *crossChainRepository) GetJobsByWallet(ctx context.Context, wallet string) ([]*models.CrossChainJob, error) {
	var jobs []*models.CrossChainJob
	err := r.db.WithContext(ctx).
		Preload("Legs", func(db *gorm.DB) *gorm.DB { return db.Order("leg_index ASC") }).
		Where("wallet_address = ?", wallet).
		Order("created_at DESC").
		Find(&jobs).Error
	return jobs, err
}

func (r *crossChainRepository) GetLegByID(ctx context.Context, id string) (*models.CrossChainLeg, error) {
	var leg models.CrossChainLeg
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&leg).Error; err != nil {
		return nil, err
	}
	return &leg, nil
}

func (r *crossChainRepository) GetLegsByJobID(ctx context.Context, jobID string) ([]models.CrossChainLeg, error) {
	var legs []models.CrossChainLeg
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("leg_index ASC").
		Find(&legs).Error
	return legs, err
}

func (r *crossChainRepository) UpdateLeg(ctx context.Context, leg *models.CrossChainLeg, jobStatus models.JobStatus, currentLeg int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(leg).Error; err != nil {
			return err
		}
		return tx.Model(&models.CrossChainJob{}).
			Where("id = ?", leg.JobID).
			Updates(map[string]interface{}{
				"status":      jobStatus,
				"current_leg": currentLeg,
				"updated_at":  time.Now(),
			}).Error
	})
}

func (r *crossChainRepository) UpdateJobStatusIf(ctx context.Context, id string, from []models.JobStatus, to models.JobStatus) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}
	res := r.db.WithContext(ctx).
		Model(&models.CrossChainJob{}).
		Where("id = ? AND status IN ?", id, fromStrs).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *crossChainRepository) CreateQuote(ctx context.Context, quote *models.RouteQuote) error {
	return r.db.WithContext(ctx).Create(quote).Error
}

func (r *crossChainRepository) GetQuoteByID(ctx context.Context, id string) (*models.RouteQuote, error) {
	var quote models.RouteQuote
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&quote).Error; err != nil {
		return nil, err
	}
	return &quote, nil
}
