package service

import (
	"context"
	"fmt"
	"testing"

	"marketpay/internal/model"
	"marketpay/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReservationStore struct {
	reservations map[int64]*model.Reservation
	records      map[string]*model.PaymentRecord // transactionID -> 历史
}

func newFakeReservationStore(reservations ...*model.Reservation) *fakeReservationStore {
	f := &fakeReservationStore{
		reservations: make(map[int64]*model.Reservation),
		records:      make(map[string]*model.PaymentRecord),
	}
	for _, r := range reservations {
		f.reservations[r.ID] = r
	}
	return f
}

func (f *fakeReservationStore) GetByID(_ context.Context, id int64) (*model.Reservation, error) {
	r, ok := f.reservations[id]
	if !ok {
		return nil, repository.ErrReservationNotFound
	}
	// 返回副本，模拟"锁内重新读取"的语义
	copied := *r
	return &copied, nil
}

func (f *fakeReservationStore) ApplyPayment(_ context.Context, updated *model.Reservation, record *model.PaymentRecord) (bool, error) {
	if _, dup := f.records[record.TransactionID]; dup {
		return false, nil
	}
	f.records[record.TransactionID] = record
	f.reservations[updated.ID] = updated
	return true, nil
}

func (f *fakeReservationStore) MarkAwaitingConfirmation(_ context.Context, reservationID int64) error {
	r := f.reservations[reservationID]
	if !r.IsPaid {
		r.AwaitingConfirmation = true
	}
	return nil
}

func (f *fakeReservationStore) paidSum() int64 {
	var sum int64
	for _, rec := range f.records {
		sum += rec.Amount
	}
	return sum
}

// 进程内锁桩：记录加锁次数，直接执行闭包
type inlineLocker struct {
	calls int
}

func (l *inlineLocker) WithLock(_ context.Context, _ int64, fn func() error) error {
	l.calls++
	return fn()
}

func reservationEvent(txn string, status string, amount int64) *model.PaymentOutcomeEvent {
	return &model.PaymentOutcomeEvent{
		TransactionID: txn,
		ReferenceID:   "9",
		Kind:          model.PurchaseKindReservation,
		Status:        status,
		Amount:        amount,
	}
}

func newTestReservation(total int64) *model.Reservation {
	r := &model.Reservation{
		ID:          9,
		TotalAmount: total,
		Status:      model.ReservationStatusPending,
	}
	r.RecomputePayment()
	return r
}

func assertPaymentInvariants(t *testing.T, store *fakeReservationStore, r *model.Reservation) {
	t.Helper()
	expected := r.TotalAmount - r.AmountPaid
	if expected < 0 {
		expected = 0
	}
	assert.Equal(t, expected, r.RemainingAmount)
	assert.Equal(t, expected == 0, r.IsPaid)
	assert.Equal(t, expected > 0, r.HasPendingAmount)
	assert.Equal(t, store.paidSum(), r.AmountPaid, "已付总额必须等于历史金额之和")
}

// 定金 400 + 尾款 600 的分期场景
func TestReservationSettlementPartialThenFull(t *testing.T) {
	store := newFakeReservationStore(newTestReservation(1000))
	locker := &inlineLocker{}
	svc := NewReservationSettlement(store, locker)

	require.NoError(t, svc.Apply(context.Background(), reservationEvent("TXN1", model.TransactionStatusApproved, 400)))

	r := store.reservations[9]
	assert.Equal(t, int64(400), r.AmountPaid)
	assert.Equal(t, int64(600), r.RemainingAmount)
	assert.False(t, r.IsPaid)
	assert.True(t, r.HasPendingAmount)
	assert.Equal(t, model.ReservationStatusActive, r.Status)
	assertPaymentInvariants(t, store, r)

	require.NoError(t, svc.Apply(context.Background(), reservationEvent("TXN2", model.TransactionStatusApproved, 600)))

	r = store.reservations[9]
	assert.Equal(t, int64(1000), r.AmountPaid)
	assert.Equal(t, int64(0), r.RemainingAmount)
	assert.True(t, r.IsPaid)
	assert.False(t, r.HasPendingAmount)
	assertPaymentInvariants(t, store, r)

	// 每次入账都在预订锁内进行
	assert.Equal(t, 2, locker.calls)
}

// 同一笔交易重复投递：金额只入账一次
func TestReservationSettlementIdempotentReplay(t *testing.T) {
	store := newFakeReservationStore(newTestReservation(1000))
	svc := NewReservationSettlement(store, &inlineLocker{})
	ev := reservationEvent("TXN1", model.TransactionStatusApproved, 400)

	require.NoError(t, svc.Apply(context.Background(), ev))
	require.NoError(t, svc.Apply(context.Background(), ev))

	r := store.reservations[9]
	assert.Equal(t, int64(400), r.AmountPaid)
	assert.Len(t, store.records, 1)
	assertPaymentInvariants(t, store, r)
}

// 任意成功事件序列下不变量都成立
func TestReservationSettlementInvariantOverSequence(t *testing.T) {
	store := newFakeReservationStore(newTestReservation(5000))
	svc := NewReservationSettlement(store, &inlineLocker{})

	amounts := []int64{1200, 800, 800, 2200}
	for i, amount := range amounts {
		ev := reservationEvent(fmt.Sprintf("TXN%d", i), model.TransactionStatusApproved, amount)
		require.NoError(t, svc.Apply(context.Background(), ev))
		assertPaymentInvariants(t, store, store.reservations[9])
	}

	r := store.reservations[9]
	assert.Equal(t, int64(5000), r.AmountPaid)
	assert.True(t, r.IsPaid)
}

func TestReservationSettlementApprovedIssuesReceipt(t *testing.T) {
	store := newFakeReservationStore(newTestReservation(1000))
	svc := NewReservationSettlement(store, &inlineLocker{})

	require.NoError(t, svc.Apply(context.Background(), reservationEvent("TXN1", model.TransactionStatusApproved, 1000)))

	r := store.reservations[9]
	assert.NotEmpty(t, r.ReceiptPath)
	assert.Equal(t, model.PaymentTypeProvider, r.PaymentType)

	rec := store.records["TXN1"]
	require.NotNil(t, rec)
	assert.Equal(t, int64(1000), rec.Amount)
	assert.Equal(t, int64(9), rec.ReservationID)
}

// 被拒的尝试留下金额 0 的历史，不触碰已付金额
func TestReservationSettlementRejected(t *testing.T) {
	base := newTestReservation(1000)
	base.AwaitingConfirmation = true
	store := newFakeReservationStore(base)
	svc := NewReservationSettlement(store, &inlineLocker{})

	require.NoError(t, svc.Apply(context.Background(), reservationEvent("TXN1", model.TransactionStatusRejected, 400)))

	r := store.reservations[9]
	assert.Equal(t, int64(0), r.AmountPaid)
	assert.False(t, r.IsPaid)
	assert.False(t, r.AwaitingConfirmation)
	assert.Equal(t, model.ReservationStatusPending, r.Status)

	rec := store.records["TXN1"]
	require.NotNil(t, rec)
	assert.Equal(t, int64(0), rec.Amount)
	assertPaymentInvariants(t, store, r)
}

func TestReservationSettlementPending(t *testing.T) {
	store := newFakeReservationStore(newTestReservation(1000))
	svc := NewReservationSettlement(store, &inlineLocker{})

	require.NoError(t, svc.Apply(context.Background(), reservationEvent("TXN1", model.TransactionStatusPending, 400)))

	r := store.reservations[9]
	assert.True(t, r.AwaitingConfirmation)
	assert.Equal(t, int64(0), r.AmountPaid)
	assert.Empty(t, store.records, "PENDING 不留支付历史")
}

func TestReservationSettlementAggregateNotFound(t *testing.T) {
	svc := NewReservationSettlement(newFakeReservationStore(), &inlineLocker{})

	err := svc.Apply(context.Background(), reservationEvent("TXN1", model.TransactionStatusApproved, 400))
	assert.ErrorIs(t, err, ErrAggregateNotFound)
}

func TestReservationSettlementKindMismatch(t *testing.T) {
	locker := &inlineLocker{}
	svc := NewReservationSettlement(newFakeReservationStore(), locker)

	ev := reservationEvent("TXN1", model.TransactionStatusApproved, 400)
	ev.Kind = model.PurchaseKindOrder
	assert.ErrorIs(t, svc.Apply(context.Background(), ev), ErrKindMismatch)
	// 类型不匹配在加锁之前就被拒
	assert.Zero(t, locker.calls)
}

func TestReservationSettlementMalformedReference(t *testing.T) {
	svc := NewReservationSettlement(newFakeReservationStore(), &inlineLocker{})

	ev := reservationEvent("TXN1", model.TransactionStatusApproved, 400)
	ev.ReferenceID = "reserva_9"
	assert.ErrorIs(t, svc.Apply(context.Background(), ev), ErrMalformedEvent)
}
