package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"marketpay/internal/model"
	"marketpay/internal/repository"

	"gorm.io/gorm"
)

// ============================================================================
// 回调处理
// ============================================================================

var (
	ErrNotificationInvalid = errors.New("回调内容不合法")
	ErrUnknownReference    = errors.New("无法识别的业务引用")
)

// 渠道支付状态 -> 台账状态
//
// 渠道侧状态较细（approved/rejected/cancelled/in_process/pending...），
// 台账只关心三个结算语义。
func mapProviderStatus(providerStatus string) string {
	switch strings.ToLower(providerStatus) {
	case "approved":
		return model.TransactionStatusApproved
	case "rejected", "cancelled", "refunded", "charged_back":
		return model.TransactionStatusRejected
	default:
		return model.TransactionStatusPending
	}
}

// ParseExternalReference 解析业务引用 "pedido_<id>" / "reserva_<id>"
//
// 创建支付时由结账路径写入 external_reference，回调原样带回，
// 是把渠道事件路由回订单/预订的唯一线索。
func ParseExternalReference(ref string) (model.PurchaseKind, string, error) {
	switch {
	case strings.HasPrefix(ref, "pedido_"):
		return model.PurchaseKindOrder, strings.TrimPrefix(ref, "pedido_"), nil
	case strings.HasPrefix(ref, "reserva_"):
		return model.PurchaseKindReservation, strings.TrimPrefix(ref, "reserva_"), nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownReference, ref)
	}
}

// PaymentNotification 一次回调携带的支付数据
type PaymentNotification struct {
	DataID            string     // 渠道事件ID（data.id）
	RequestID         string     // x-request-id 头
	ProviderStatus    string     // 渠道侧状态
	Amount            int64      // 金额（分）
	ExternalReference string     // pedido_<id> / reserva_<id>
	OwnerUserID       int64      // 收款商家
	PayerUserID       int64      // 付款人
	PaidAt            *time.Time // 渠道给出的支付时间
}

// settlementLedger 台账写入口（测试用假实现替换）
type settlementLedger interface {
	RecordOrUpdate(ctx context.Context, tx *gorm.DB, p *repository.RecordOrUpdateParams) (*model.Transaction, bool, error)
}

// eventOutbox 发件箱写入口
type eventOutbox interface {
	Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error
}

// WebhookService 回调落账 + 事件入箱
type WebhookService struct {
	db        *gorm.DB
	validator *SignatureValidator
	ledger    settlementLedger
	outbox    eventOutbox
}

func NewWebhookService(db *gorm.DB, validator *SignatureValidator, ledger settlementLedger, outbox eventOutbox) *WebhookService {
	return &WebhookService{
		db:        db,
		validator: validator,
		ledger:    ledger,
		outbox:    outbox,
	}
}

// ValidateSignature 透出给 handler 的签名校验
func (s *WebhookService) ValidateSignature(signatureHeader, requestID, dataID string) error {
	return s.validator.Validate(signatureHeader, requestID, dataID)
}

// Process 处理一次已通过签名校验的回调
//
// 【关键点】台账更新和事件入箱在同一个数据库事务里：
// 台账写失败就没有事件；状态没变化（重复回调）也没有事件。
// 投递由 OutboxSender 异步负责，不阻塞回调路径。
func (s *WebhookService) Process(ctx context.Context, n *PaymentNotification) error {
	if n.DataID == "" {
		return fmt.Errorf("%w: 缺少 data.id", ErrNotificationInvalid)
	}

	kind, referenceID, err := ParseExternalReference(n.ExternalReference)
	if err != nil {
		return err
	}

	topic, err := kind.Topic()
	if err != nil {
		return err
	}

	status := mapProviderStatus(n.ProviderStatus)

	return s.db.Transaction(func(tx *gorm.DB) error {
		trans, changed, err := s.ledger.RecordOrUpdate(ctx, tx, &repository.RecordOrUpdateParams{
			ExternalTransactionID: n.DataID,
			ReferenceID:           referenceID,
			PurchaseKind:          kind,
			Status:                status,
			Amount:                n.Amount,
			OwnerUserID:           n.OwnerUserID,
			PayerUserID:           n.PayerUserID,
			PaidAt:                n.PaidAt,
		})
		if err != nil {
			return fmt.Errorf("台账落账失败: %w", err)
		}

		if !changed {
			// 重复回调或迟到的非终态，台账吸收掉，不再发事件
			log.Printf("[Webhook] 状态无变化，跳过事件发布: dataID=%s status=%s", n.DataID, status)
			return nil
		}

		event := &model.PaymentOutcomeEvent{
			TransactionID:     trans.TransactionNo,
			ReferenceID:       referenceID,
			Kind:              kind,
			Status:            status,
			Amount:            trans.Amount,
			ProviderPaymentID: n.DataID,
			PayerUserID:       trans.PayerUserID,
			PaidAt:            trans.PaidAt,
		}
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("序列化结算事件失败: %w", err)
		}

		if err := s.outbox.Create(ctx, tx, &model.OutboxMessage{
			MessageKey: trans.TransactionNo,
			Topic:      topic,
			Payload:    string(payload),
			Status:     model.OutboxStatusPending,
		}); err != nil {
			return fmt.Errorf("事件入箱失败: %w", err)
		}

		log.Printf("[Webhook] 台账已更新并入箱: dataID=%s status=%s topic=%s", n.DataID, status, topic)
		return nil
	})
}
