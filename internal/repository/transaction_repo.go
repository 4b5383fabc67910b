package repository

import (
	"context"
	"errors"
	"time"

	"marketpay/internal/model"
	"marketpay/pkg/idgen"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrTransactionNotFound = errors.New("交易不存在")

// TransactionRepository 交易台账
//
// 台账是结算事件的唯一事实来源：只有 RecordOrUpdate 返回"状态发生了变化"
// 时才允许发布事件，重复回调在这里被吸收掉。
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// RecordOrUpdateParams 一次回调携带的台账写入参数
type RecordOrUpdateParams struct {
	ExternalTransactionID string
	ReferenceID           string
	PurchaseKind          model.PurchaseKind
	Status                string
	Amount                int64
	OwnerUserID           int64
	PayerUserID           int64
	PaidAt                *time.Time
}

// RecordOrUpdate 按渠道事件ID落账，返回本次调用是否改变了状态
//
// 【关键点】并发安全的三种情形：
//  1. 首次回调：插入新行（OnConflict DoNothing 吸收并发插入），状态变化
//  2. 重复回调（状态相同）：不更新，返回 changed=false
//  3. 状态推进：条件更新 WHERE status = 旧值，RowsAffected=0 说明
//     并发写者已经先改过，同样返回 changed=false
//
// 终态（APPROVED/REJECTED）不可回退，迟到的 PENDING 直接忽略。
func (r *TransactionRepository) RecordOrUpdate(ctx context.Context, tx *gorm.DB, p *RecordOrUpdateParams) (*model.Transaction, bool, error) {
	if tx == nil {
		tx = r.db
	}

	existing, err := r.getByExternalID(ctx, tx, p.ExternalTransactionID)
	if err != nil && !errors.Is(err, ErrTransactionNotFound) {
		return nil, false, err
	}

	if existing == nil {
		trans := &model.Transaction{
			TransactionNo:         idgen.GenerateTransactionNo(),
			ExternalTransactionID: p.ExternalTransactionID,
			ReferenceID:           p.ReferenceID,
			PurchaseKind:          string(p.PurchaseKind),
			Status:                p.Status,
			Amount:                p.Amount,
			OwnerUserID:           p.OwnerUserID,
			PayerUserID:           p.PayerUserID,
			PaidAt:                p.PaidAt,
		}
		result := tx.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "external_transaction_id"}},
				DoNothing: true,
			}).
			Create(trans)
		if result.Error != nil {
			return nil, false, result.Error
		}
		if result.RowsAffected > 0 {
			return trans, true, nil
		}
		// 并发插入落空，转入更新路径
		existing, err = r.getByExternalID(ctx, tx, p.ExternalTransactionID)
		if err != nil {
			return nil, false, err
		}
	}

	if existing.Status == p.Status || model.IsTerminalTransactionStatus(existing.Status) {
		return existing, false, nil
	}

	updates := map[string]interface{}{
		"status":        p.Status,
		"amount":        p.Amount,
		"payer_user_id": p.PayerUserID,
	}
	if p.PaidAt != nil {
		updates["paid_at"] = p.PaidAt
	}

	result := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("external_transaction_id = ? AND status = ?", p.ExternalTransactionID, existing.Status).
		Updates(updates)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 0 {
		// 并发写者先改了状态，本次不算变化
		current, err := r.getByExternalID(ctx, tx, p.ExternalTransactionID)
		if err != nil {
			return nil, false, err
		}
		return current, false, nil
	}

	existing.Status = p.Status
	existing.Amount = p.Amount
	existing.PayerUserID = p.PayerUserID
	if p.PaidAt != nil {
		existing.PaidAt = p.PaidAt
	}
	return existing, true, nil
}

// GetByExternalID 按渠道事件ID查询（幂等检查、运维查询）
func (r *TransactionRepository) GetByExternalID(ctx context.Context, externalID string) (*model.Transaction, error) {
	return r.getByExternalID(ctx, r.db, externalID)
}

func (r *TransactionRepository) getByExternalID(ctx context.Context, tx *gorm.DB, externalID string) (*model.Transaction, error) {
	var trans model.Transaction
	err := tx.WithContext(ctx).Where("external_transaction_id = ?", externalID).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}
