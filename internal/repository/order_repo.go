package repository

import (
	"context"
	"errors"
	"time"

	"marketpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrOrderNotFound      = errors.New("订单不存在")
	ErrOrderStatusInvalid = errors.New("订单状态不合法")
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Where("order_no = ?", orderNo).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// UpdateStatus 推进履约状态（条件更新，防并发回退）
func (r *OrderRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, orderID int64, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrOrderStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND status = ?", orderID, fromStatus).
		Update("status", toStatus)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderStatusInvalid
	}
	return nil
}

// InsertPaymentApplication 登记交易生效标记
//
// 返回 false 表示该交易已经对某个订单生效过（唯一索引落空），
// 调用方按幂等跳过处理。
func (r *OrderRepository) InsertPaymentApplication(ctx context.Context, tx *gorm.DB, app *model.OrderPaymentApplication) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_id"}},
			DoNothing: true,
		}).
		Create(app)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkPaidWithProvider 支付成功叠加标记（不触碰履约状态）
func (r *OrderRepository) MarkPaidWithProvider(ctx context.Context, tx *gorm.DB, orderID int64, transactionID string, paidAt time.Time) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"paid_with_provider":     true,
			"payment_failed":         false,
			"payment_pending":        false,
			"payment_transaction_id": transactionID,
			"paid_at":                paidAt,
		}).Error
}

// MarkPaymentFailed 支付失败叠加标记，履约处置留给运营
func (r *OrderRepository) MarkPaymentFailed(ctx context.Context, tx *gorm.DB, orderID int64, transactionID string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"payment_failed":         true,
			"payment_pending":        false,
			"payment_transaction_id": transactionID,
		}).Error
}

// ApplyPaymentOutcome 终态结算的事务单元：登记生效标记 + 写支付叠加字段
//
// 返回 false 表示该交易已生效过，叠加字段未被触碰（幂等跳过）。
// 标记和字段更新同事务，消费者崩溃不会留下"已标记未生效"的半截状态。
func (r *OrderRepository) ApplyPaymentOutcome(ctx context.Context, orderID int64, ev *model.PaymentOutcomeEvent) (bool, error) {
	applied := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		ok, err := r.InsertPaymentApplication(ctx, tx, &model.OrderPaymentApplication{
			OrderID:       orderID,
			TransactionID: ev.TransactionID,
			Status:        ev.Status,
		})
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		switch ev.Status {
		case model.TransactionStatusApproved:
			paidAt := time.Now()
			if ev.PaidAt != nil {
				paidAt = *ev.PaidAt
			}
			if err := r.MarkPaidWithProvider(ctx, tx, orderID, ev.TransactionID, paidAt); err != nil {
				return err
			}
		case model.TransactionStatusRejected:
			if err := r.MarkPaymentFailed(ctx, tx, orderID, ev.TransactionID); err != nil {
				return err
			}
		}

		applied = true
		return nil
	})
	return applied, err
}

// MarkPaymentPending 渠道尚未给出终态
//
// 新的支付尝试进入处理中即顶掉旧的失败标记：pending 和 failed
// 不允许同时为真，叠加字段要能让运营一眼看出订单当下在哪个状态。
func (r *OrderRepository) MarkPaymentPending(ctx context.Context, orderID int64) error {
	return r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND paid_with_provider = ?", orderID, false).
		Updates(map[string]interface{}{
			"payment_pending": true,
			"payment_failed":  false,
		}).Error
}

