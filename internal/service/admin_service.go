package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"ledger-api/internal/models"
	"ledger-api/internal/repository"
)

// AdminService covers the configuration surface that only admin tokens
// can reach. Every change is recorded in the security audit log.
type AdminService interface {
	UpsertCommission(ctx context.Context, adminID int64, setting *models.CommissionSetting) error
	ListCommissions(ctx context.Context) ([]*models.CommissionSetting, error)
}

type adminService struct {
	commissions repository.CommissionRepository
	audit       AuditService
	logger      *logrus.Logger
}

func NewAdminService(commissions repository.CommissionRepository, audit AuditService, logger *logrus.Logger) AdminService {
	return &adminService{commissions: commissions, audit: audit, logger: logger}
}

func (s *adminService) UpsertCommission(ctx context.Context, adminID int64, setting *models.CommissionSetting) error {
	if err := s.commissions.Upsert(ctx, setting); err != nil {
		return err
	}
	s.audit.CommissionChanged(ctx, adminID, setting)
	s.logger.WithFields(logrus.Fields{
		"admin_id":         adminID,
		"transaction_type": setting.TransactionType,
		"currency":         setting.Currency,
	}).Info("Commission setting updated")
	return nil
}

func (s *adminService) ListCommissions(ctx context.Context) ([]*models.CommissionSetting, error) {
	return s.commissions.List(ctx)
}
