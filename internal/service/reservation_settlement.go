package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"marketpay/internal/infrastructure/lock"
	"marketpay/internal/model"
	"marketpay/internal/repository"
	"marketpay/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// reservationStore 预订聚合的持久化入口（测试用假实现替换）
type reservationStore interface {
	GetByID(ctx context.Context, id int64) (*model.Reservation, error)
	ApplyPayment(ctx context.Context, updated *model.Reservation, record *model.PaymentRecord) (bool, error)
	MarkAwaitingConfirmation(ctx context.Context, reservationID int64) error
}

// reservationLocker 按预订维度串行化入账
type reservationLocker interface {
	WithLock(ctx context.Context, reservationID int64, fn func() error) error
}

// RedisReservationLocker 基于 Redis 分布式锁的串行化实现
type RedisReservationLocker struct {
	client *redis.Client
}

func NewRedisReservationLocker(client *redis.Client) *RedisReservationLocker {
	return &RedisReservationLocker{client: client}
}

func (l *RedisReservationLocker) WithLock(ctx context.Context, reservationID int64, fn func() error) error {
	dl := lock.NewReservationLock(l.client, reservationID, uuid.NewString())
	if err := dl.Lock(ctx, 100*time.Millisecond, 50); err != nil {
		return fmt.Errorf("获取预订结算锁失败: %w", err)
	}
	defer dl.Unlock(ctx)
	return fn()
}

// ReservationSettlement 预订侧的支付结算状态机
//
// 【不变量】AmountPaid = Σ PaymentRecord.Amount 必须在并发投递下成立，
// 所以同一预订的入账用分布式锁串行化，锁内先读再算再写。
// 幂等由 PaymentRecord.TransactionID 唯一键兜底。
type ReservationSettlement struct {
	reservations reservationStore
	locker       reservationLocker
	now          func() time.Time
}

func NewReservationSettlement(reservations reservationStore, locker reservationLocker) *ReservationSettlement {
	return &ReservationSettlement{
		reservations: reservations,
		locker:       locker,
		now:          time.Now,
	}
}

// Apply 把一条支付结果事件应用到预订
func (s *ReservationSettlement) Apply(ctx context.Context, ev *model.PaymentOutcomeEvent) error {
	if ev.Kind != model.PurchaseKindReservation {
		return fmt.Errorf("%w: kind=%q", ErrKindMismatch, ev.Kind)
	}

	reservationID, err := parseReferenceID(ev)
	if err != nil {
		return err
	}

	return s.locker.WithLock(ctx, reservationID, func() error {
		return s.applyLocked(ctx, reservationID, ev)
	})
}

func (s *ReservationSettlement) applyLocked(ctx context.Context, reservationID int64, ev *model.PaymentOutcomeEvent) error {
	reservation, err := s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, repository.ErrReservationNotFound) {
			return fmt.Errorf("%w: reservation=%d", ErrAggregateNotFound, reservationID)
		}
		return fmt.Errorf("查询预订失败: %w", err)
	}

	switch ev.Status {
	case model.TransactionStatusPending:
		// 渠道还在处理中：只打等待标记，金额一分不动
		if err := s.reservations.MarkAwaitingConfirmation(ctx, reservationID); err != nil {
			return fmt.Errorf("标记待确认失败: %w", err)
		}
		return nil

	case model.TransactionStatusApproved:
		paidAt := s.now()
		if ev.PaidAt != nil {
			paidAt = *ev.PaidAt
		}
		record := &model.PaymentRecord{
			ReservationID: reservationID,
			TransactionID: ev.TransactionID,
			Date:          paidAt,
			Amount:        ev.Amount,
			PaymentType:   model.PaymentTypeProvider,
			Description:   fmt.Sprintf("渠道支付入账 payment=%s", ev.ProviderPaymentID),
		}

		reservation.ApplyPayment(ev.Amount)
		reservation.Status = model.ReservationStatusActive
		reservation.PaymentType = model.PaymentTypeProvider
		if reservation.ReceiptPath == "" {
			reservation.ReceiptPath = fmt.Sprintf("receipts/%s.pdf", idgen.GenerateReceiptNo())
		}

		applied, err := s.reservations.ApplyPayment(ctx, reservation, record)
		if err != nil {
			return fmt.Errorf("预订入账失败: %w", err)
		}
		if !applied {
			log.Printf("[ReservationSettlement] 交易已入账过，幂等跳过: reservation=%d transaction=%s", reservationID, ev.TransactionID)
			return nil
		}
		log.Printf("[ReservationSettlement] 入账成功: reservation=%d transaction=%s amount=%d paid=%d remaining=%d",
			reservationID, ev.TransactionID, ev.Amount, reservation.AmountPaid, reservation.RemainingAmount)
		return nil

	case model.TransactionStatusRejected:
		// 失败尝试记入历史（金额 0，不影响 AmountPaid），便于排查
		record := &model.PaymentRecord{
			ReservationID: reservationID,
			TransactionID: ev.TransactionID,
			Date:          s.now(),
			Amount:        0,
			PaymentType:   model.PaymentTypeProvider,
			Description:   fmt.Sprintf("渠道支付被拒 payment=%s", ev.ProviderPaymentID),
		}

		reservation.AwaitingConfirmation = false
		reservation.RecomputePayment()

		applied, err := s.reservations.ApplyPayment(ctx, reservation, record)
		if err != nil {
			return fmt.Errorf("记录失败尝试失败: %w", err)
		}
		if !applied {
			log.Printf("[ReservationSettlement] 失败尝试已记录过，幂等跳过: reservation=%d transaction=%s", reservationID, ev.TransactionID)
		}
		return nil

	default:
		return fmt.Errorf("%w: status=%q", ErrMalformedEvent, ev.Status)
	}
}
