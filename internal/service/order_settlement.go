package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"marketpay/internal/model"
	"marketpay/internal/repository"
)

// orderStore 订单聚合的持久化入口（测试用假实现替换）
type orderStore interface {
	GetByID(ctx context.Context, id int64) (*model.Order, error)
	ApplyPaymentOutcome(ctx context.Context, orderID int64, ev *model.PaymentOutcomeEvent) (bool, error)
	MarkPaymentPending(ctx context.Context, orderID int64) error
}

// OrderSettlement 订单侧的支付结算状态机
//
// 【幂等契约】事件可能被重复投递，生效与否由
// order_payment_application 的唯一键裁决；重复应用是成功的空操作。
// 支付结果只写叠加字段，永远不回退履约状态。
type OrderSettlement struct {
	orders orderStore
}

func NewOrderSettlement(orders orderStore) *OrderSettlement {
	return &OrderSettlement{orders: orders}
}

// Apply 把一条支付结果事件应用到订单
func (s *OrderSettlement) Apply(ctx context.Context, ev *model.PaymentOutcomeEvent) error {
	if ev.Kind != model.PurchaseKindOrder {
		return fmt.Errorf("%w: kind=%q", ErrKindMismatch, ev.Kind)
	}

	orderID, err := parseReferenceID(ev)
	if err != nil {
		return err
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			// 订单可能还没被同步过来，交给重投
			return fmt.Errorf("%w: order=%d", ErrAggregateNotFound, orderID)
		}
		return fmt.Errorf("查询订单失败: %w", err)
	}

	switch ev.Status {
	case model.TransactionStatusPending:
		if order.PaidWithProvider {
			// 迟到的 PENDING，不能盖掉已成功的支付
			return nil
		}
		if order.PaymentFailed && order.PaymentTransactionID == ev.TransactionID {
			// 同一笔交易的终态已生效，乱序重投的 PENDING 不再回摆
			return nil
		}
		if err := s.orders.MarkPaymentPending(ctx, orderID); err != nil {
			return fmt.Errorf("标记支付处理中失败: %w", err)
		}
		return nil

	case model.TransactionStatusApproved, model.TransactionStatusRejected:
		applied, err := s.orders.ApplyPaymentOutcome(ctx, orderID, ev)
		if err != nil {
			return fmt.Errorf("应用支付结果失败: %w", err)
		}
		if !applied {
			log.Printf("[OrderSettlement] 交易已生效过，幂等跳过: order=%d transaction=%s", orderID, ev.TransactionID)
			return nil
		}
		log.Printf("[OrderSettlement] 支付结果已生效: order=%d transaction=%s status=%s", orderID, ev.TransactionID, ev.Status)
		return nil

	default:
		return fmt.Errorf("%w: status=%q", ErrMalformedEvent, ev.Status)
	}
}
