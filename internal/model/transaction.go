package model

import (
	"time"
)

// ============================================================================
// 交易状态常量
// ============================================================================

const (
	TransactionStatusPending  = "PENDING"  // 渠道尚未给出终态
	TransactionStatusApproved = "APPROVED" // 支付成功
	TransactionStatusRejected = "REJECTED" // 支付失败/被拒
)

// IsTerminalTransactionStatus 终态一旦写入不再变更（审计要求）
func IsTerminalTransactionStatus(status string) bool {
	return status == TransactionStatusApproved || status == TransactionStatusRejected
}

// ============================================================================
// 交易台账实体
// ============================================================================

// Transaction 交易台账表
// 记录每一次支付尝试及其终态，是结算事件的唯一事实来源
//
// 【重要】台账表设计原则：
// 1. 只追加、只更新状态，不删除 —— 保证审计可追溯
// 2. 以渠道事件ID唯一索引 —— 回调重复投递时天然去重
// 3. 终态（APPROVED/REJECTED）不可回退 —— 迟到的 PENDING 回调直接忽略
type Transaction struct {
	ID                    int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo         string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`          // 内部流水号（全局唯一）
	ExternalTransactionID string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"external_transaction_id"` // 渠道事件ID（data.id）
	ReferenceID           string     `gorm:"type:varchar(64);index;not null" json:"reference_id"`                  // 关联的订单/预订ID
	PurchaseKind          string     `gorm:"type:varchar(20);not null" json:"purchase_kind"`                       // ORDER / RESERVATION
	Status                string     `gorm:"type:varchar(20);index;not null" json:"status"`                        // 交易状态
	Amount                int64      `gorm:"not null" json:"amount"`                                               // 金额（分）
	OwnerUserID           int64      `gorm:"index;not null" json:"owner_user_id"`                                  // 收款商家的内部用户ID
	PayerUserID           int64      `gorm:"not null" json:"payer_user_id"`                                        // 付款人
	PaidAt                *time.Time `json:"paid_at"`
	CreatedAt             time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "payment_transaction"
}
