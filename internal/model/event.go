package model

import (
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// 购买类型（封闭的标签联合）
// ============================================================================
//
// 【为什么不用自由字符串？】
//
// 事件里的 kind 决定路由和消费方，如果到处用裸字符串比较，
// 拼写错误只会在运行时悄悄丢消息。这里统一在边界上解析成
// PurchaseKind，解析失败立即报错，后续代码只处理两个合法值。
// ============================================================================

type PurchaseKind string

const (
	PurchaseKindOrder       PurchaseKind = "ORDER"       // 点餐订单
	PurchaseKindReservation PurchaseKind = "RESERVATION" // 住宿预订
)

// 两个结算队列的路由主题（与消费方约定，不可随意改名）
const (
	TopicOrderSettlement       = "pago.pedido"
	TopicReservationSettlement = "pago.reserva"
)

var ErrInvalidPurchaseKind = errors.New("无效的购买类型")

// ParsePurchaseKind 在系统边界解析购买类型
func ParsePurchaseKind(s string) (PurchaseKind, error) {
	switch PurchaseKind(s) {
	case PurchaseKindOrder:
		return PurchaseKindOrder, nil
	case PurchaseKindReservation:
		return PurchaseKindReservation, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPurchaseKind, s)
	}
}

// Topic 返回该购买类型对应的结算主题
func (k PurchaseKind) Topic() (string, error) {
	switch k {
	case PurchaseKindOrder:
		return TopicOrderSettlement, nil
	case PurchaseKindReservation:
		return TopicReservationSettlement, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPurchaseKind, string(k))
	}
}

// PaymentOutcomeEvent 支付结果事件（总线消息体）
//
// 消息不可变，可能被重复投递；消费方必须按 TransactionID 幂等处理。
type PaymentOutcomeEvent struct {
	TransactionID     string       `json:"transaction_id"`      // 台账流水号（幂等键）
	ReferenceID       string       `json:"reference_id"`        // 订单或预订的ID
	Kind              PurchaseKind `json:"kind"`                // ORDER / RESERVATION
	Status            string       `json:"status"`              // APPROVED / REJECTED / PENDING
	Amount            int64        `json:"amount"`              // 金额（分）
	ProviderPaymentID string       `json:"provider_payment_id"` // 支付渠道的支付ID
	PayerUserID       int64        `json:"payer_user_id"`       // 付款人
	PaidAt            *time.Time   `json:"paid_at,omitempty"`   // 支付完成时间（非终态为空）
}
