package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTerminalTransactionStatus(t *testing.T) {
	assert.True(t, IsTerminalTransactionStatus(TransactionStatusApproved))
	assert.True(t, IsTerminalTransactionStatus(TransactionStatusRejected))
	assert.False(t, IsTerminalTransactionStatus(TransactionStatusPending))
	assert.False(t, IsTerminalTransactionStatus(""))
	assert.False(t, IsTerminalTransactionStatus("approved"))
}

func TestHandshakeExpiredBefore(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := &AuthorizationHandshake{CreatedAt: created}
	ttl := 15 * time.Minute

	assert.False(t, h.ExpiredBefore(created.Add(14*time.Minute), ttl))
	assert.False(t, h.ExpiredBefore(created.Add(15*time.Minute), ttl))
	assert.True(t, h.ExpiredBefore(created.Add(15*time.Minute+time.Second), ttl))
}
