package model

import (
	"time"
)

// ============================================================================
// 预订状态常量
// ============================================================================

const (
	ReservationStatusPending   = "PENDING"
	ReservationStatusActive    = "ACTIVE"
	ReservationStatusCancelled = "CANCELLED"
)

// 预订支付方式
const (
	PaymentTypeProvider = "PROVIDER" // 在线渠道支付
	PaymentTypeCash     = "CASH"     // 到店现金（由前台录入，不走本系统）
)

// Reservation 预订聚合
//
// 【不变量】支付字段之间的关系必须始终成立：
//
//	RemainingAmount = max(TotalAmount - AmountPaid, 0)
//	IsPaid          ⇔ RemainingAmount == 0
//	HasPendingAmount⇔ RemainingAmount > 0
//	AmountPaid      = Σ PaymentRecord.Amount
//
// 任何对 AmountPaid 的修改都必须伴随一条 PaymentRecord，
// 并且只能通过 ApplyPayment / RecomputePayment 走，不允许散落的字段赋值。
type Reservation struct {
	ID                   int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ReservationNo        string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"reservation_no"`
	UserID               int64      `gorm:"index;not null" json:"user_id"`
	ExternalBusinessID   string     `gorm:"type:varchar(64);index;not null" json:"external_business_id"`
	Status               string     `gorm:"type:varchar(20);index;not null" json:"status"`
	TotalAmount          int64      `gorm:"not null" json:"total_amount"`           // 应付总额（分）
	AmountPaid           int64      `gorm:"not null;default:0" json:"amount_paid"`  // 已付总额
	RemainingAmount      int64      `gorm:"not null" json:"remaining_amount"`       // 待付余额
	IsPaid               bool       `gorm:"not null;default:false" json:"is_paid"`
	HasPendingAmount     bool       `gorm:"not null;default:true" json:"has_pending_amount"`
	AwaitingConfirmation bool       `gorm:"not null;default:false" json:"awaiting_confirmation"` // 渠道 PENDING 中
	IsDeposit            bool       `gorm:"not null;default:false" json:"is_deposit"`            // 本次收的是定金
	PaymentType          string     `gorm:"type:varchar(20)" json:"payment_type"`
	ReceiptPath          string     `gorm:"type:varchar(256)" json:"receipt_path"`
	CheckIn              *time.Time `json:"check_in"`
	CheckOut             *time.Time `json:"check_out"`
	CreatedAt            time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Reservation) TableName() string {
	return "reservation"
}

// ApplyPayment 入账一笔已确认的支付并重算派生字段
func (r *Reservation) ApplyPayment(amount int64) {
	r.AmountPaid += amount
	r.AwaitingConfirmation = false
	r.RecomputePayment()
}

// RecomputePayment 重算派生字段，保证不变量成立
func (r *Reservation) RecomputePayment() {
	remaining := r.TotalAmount - r.AmountPaid
	if remaining < 0 {
		remaining = 0
	}
	r.RemainingAmount = remaining
	r.IsPaid = remaining == 0
	r.HasPendingAmount = remaining > 0
}

// PaymentRecord 预订支付历史（只追加）
//
// TransactionID 唯一索引即消费端的幂等键：
// 同一笔交易重复投递时第二次插入会落空，直接跳过。
type PaymentRecord struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ReservationID int64     `gorm:"index;not null" json:"reservation_id"`
	TransactionID string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_id"`
	Date          time.Time `gorm:"not null" json:"date"`
	Amount        int64     `gorm:"not null" json:"amount"` // 失败尝试记 0，不影响 AmountPaid
	PaymentType   string    `gorm:"type:varchar(20);not null" json:"payment_type"`
	Description   string    `gorm:"type:varchar(256)" json:"description"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (PaymentRecord) TableName() string {
	return "reservation_payment_record"
}
