package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage 事务性发件箱
//
// 台账状态变更和事件入箱在同一个数据库事务里落库，
// 由 OutboxSender 异步投递到结算主题；台账写失败则不会有事件。
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"` // 台账流水号（分区键）
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`       // 按购买类型路由出的主题
	Payload    string    `gorm:"type:text;not null" json:"payload"`            // 序列化后的 PaymentOutcomeEvent
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}
