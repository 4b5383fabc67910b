package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReservationApplyPayment(t *testing.T) {
	r := &Reservation{TotalAmount: 1000}
	r.RecomputePayment()

	assert.Equal(t, int64(1000), r.RemainingAmount)
	assert.False(t, r.IsPaid)
	assert.True(t, r.HasPendingAmount)

	r.AwaitingConfirmation = true
	r.ApplyPayment(400)

	assert.Equal(t, int64(400), r.AmountPaid)
	assert.Equal(t, int64(600), r.RemainingAmount)
	assert.False(t, r.IsPaid)
	assert.True(t, r.HasPendingAmount)
	assert.False(t, r.AwaitingConfirmation, "入账即结束等待确认")

	r.ApplyPayment(600)

	assert.Equal(t, int64(1000), r.AmountPaid)
	assert.Equal(t, int64(0), r.RemainingAmount)
	assert.True(t, r.IsPaid)
	assert.False(t, r.HasPendingAmount)
}

// 超付不允许出现负余额
func TestReservationRecomputeClampsNegative(t *testing.T) {
	r := &Reservation{TotalAmount: 1000}
	r.ApplyPayment(1200)

	assert.Equal(t, int64(1200), r.AmountPaid)
	assert.Equal(t, int64(0), r.RemainingAmount)
	assert.True(t, r.IsPaid)
	assert.False(t, r.HasPendingAmount)
}

func TestReservationZeroTotal(t *testing.T) {
	r := &Reservation{TotalAmount: 0}
	r.RecomputePayment()

	assert.True(t, r.IsPaid)
	assert.False(t, r.HasPendingAmount)
}
