package repository

import (
	"context"
	"errors"

	"marketpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrReservationNotFound = errors.New("预订不存在")

type ReservationRepository struct {
	db *gorm.DB
}

func NewReservationRepository(db *gorm.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

func (r *ReservationRepository) GetByID(ctx context.Context, id int64) (*model.Reservation, error) {
	var reservation model.Reservation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&reservation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	return &reservation, nil
}

// InsertPaymentRecord 追加一条支付历史
//
// TransactionID 唯一索引是幂等键：重复投递时插入落空，返回 false。
func (r *ReservationRepository) InsertPaymentRecord(ctx context.Context, tx *gorm.DB, record *model.PaymentRecord) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_id"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpdatePaymentState 回写聚合上的支付派生字段
//
// 只允许结算服务在重算不变量之后调用，和 InsertPaymentRecord
// 必须在同一个事务里。
func (r *ReservationRepository) UpdatePaymentState(ctx context.Context, tx *gorm.DB, reservation *model.Reservation) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Reservation{}).
		Where("id = ?", reservation.ID).
		Updates(map[string]interface{}{
			"amount_paid":           reservation.AmountPaid,
			"remaining_amount":      reservation.RemainingAmount,
			"is_paid":               reservation.IsPaid,
			"has_pending_amount":    reservation.HasPendingAmount,
			"awaiting_confirmation": reservation.AwaitingConfirmation,
			"payment_type":          reservation.PaymentType,
			"receipt_path":          reservation.ReceiptPath,
			"status":                reservation.Status,
		}).Error
}

// ApplyPayment 入账的事务单元：追加历史 + 回写派生字段
//
// 调用方先在内存里对聚合做完 ApplyPayment/RecomputePayment，
// 这里只在历史插入成功（非重复）时才持久化聚合，保证
// AmountPaid = Σ PaymentRecord.Amount 在任何落库结果下都成立。
// 返回 false 表示该交易已入账过，聚合未被触碰。
func (r *ReservationRepository) ApplyPayment(ctx context.Context, updated *model.Reservation, record *model.PaymentRecord) (bool, error) {
	applied := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		ok, err := r.InsertPaymentRecord(ctx, tx, record)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := r.UpdatePaymentState(ctx, tx, updated); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// MarkAwaitingConfirmation 渠道 PENDING：只打标记，不动金额
func (r *ReservationRepository) MarkAwaitingConfirmation(ctx context.Context, reservationID int64) error {
	return r.db.WithContext(ctx).
		Model(&model.Reservation{}).
		Where("id = ? AND is_paid = ?", reservationID, false).
		Update("awaiting_confirmation", true).Error
}

