package model

import (
	"time"
)

// ============================================================================
// 订单履约状态
// ============================================================================
//
// 【两条正交的轴】
//
// 履约轴：RECEIVED → PREPARING → READY → [DELIVERING] → DELIVERED
// 支付轴：PaidWithProvider / PaymentFailed / PaymentPending
//
// 支付结果是叠加信号，不挤进履约状态机：
// 支付成功不会推动出餐，支付失败也不自动取消订单（留给运营判断）。
// ============================================================================

const (
	OrderStatusReceived   = "RECEIVED"
	OrderStatusPreparing  = "PREPARING"
	OrderStatusReady      = "READY"
	OrderStatusDelivering = "DELIVERING"
	OrderStatusDelivered  = "DELIVERED"
)

var ValidStatusTransitions = map[string][]string{
	OrderStatusReceived:   {OrderStatusPreparing},
	OrderStatusPreparing:  {OrderStatusReady},
	OrderStatusReady:      {OrderStatusDelivering, OrderStatusDelivered},
	OrderStatusDelivering: {OrderStatusDelivered},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Order 订单聚合
type Order struct {
	ID                 int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo            string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	UserID             int64      `gorm:"index;not null" json:"user_id"`                          // 下单顾客
	ExternalBusinessID string     `gorm:"type:varchar(64);index;not null" json:"external_business_id"` // 收款商家
	Amount             int64      `gorm:"not null" json:"amount"`
	Status             string     `gorm:"type:varchar(20);index;not null" json:"status"` // 履约状态
	PaidWithProvider   bool       `gorm:"not null;default:false" json:"paid_with_provider"`
	PaymentFailed      bool       `gorm:"not null;default:false" json:"payment_failed"`
	PaymentPending     bool       `gorm:"not null;default:false" json:"payment_pending"`
	PaymentTransactionID string   `gorm:"type:varchar(64)" json:"payment_transaction_id"` // 最近一次生效的交易
	PaidAt             *time.Time `json:"paid_at"`
	CreatedAt          time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "marketplace_order"
}

// OrderPaymentApplication 订单已生效交易记录
// 消费端的幂等标记：同一笔交易只允许对订单生效一次
type OrderPaymentApplication struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID       int64     `gorm:"index;not null" json:"order_id"`
	TransactionID string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_id"`
	Status        string    `gorm:"type:varchar(20);not null" json:"status"` // 生效时的事件状态
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (OrderPaymentApplication) TableName() string {
	return "order_payment_application"
}
