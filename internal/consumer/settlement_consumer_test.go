package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"marketpay/internal/model"
	"marketpay/internal/service"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeApplier struct {
	err  error
	seen []*model.PaymentOutcomeEvent
}

func (f *fakeApplier) Apply(_ context.Context, ev *model.PaymentOutcomeEvent) error {
	f.seen = append(f.seen, ev)
	return f.err
}

func TestClassify(t *testing.T) {
	// 成功（含幂等跳过）→ 确认
	assert.Equal(t, DispositionAck, Classify(nil))

	// 消息本身有问题 → 死信，重试无意义
	assert.Equal(t, DispositionDeadLetter, Classify(service.ErrMalformedEvent))
	assert.Equal(t, DispositionDeadLetter, Classify(service.ErrKindMismatch))
	assert.Equal(t, DispositionDeadLetter, Classify(fmt.Errorf("包一层: %w", service.ErrMalformedEvent)))

	// 暂时性故障 → 重投
	assert.Equal(t, DispositionRetry, Classify(service.ErrAggregateNotFound))
	assert.Equal(t, DispositionRetry, Classify(fmt.Errorf("包一层: %w", service.ErrAggregateNotFound)))
	assert.Equal(t, DispositionRetry, Classify(errors.New("connection reset")))
}

func TestDispositionString(t *testing.T) {
	assert.Equal(t, "ack", DispositionAck.String())
	assert.Equal(t, "retry", DispositionRetry.String())
	assert.Equal(t, "dead-letter", DispositionDeadLetter.String())
}

func TestHandleDecodesAndApplies(t *testing.T) {
	applier := &fakeApplier{}
	c := NewSettlementConsumer("order", model.TopicOrderSettlement, nil, applier)

	payload, err := json.Marshal(&model.PaymentOutcomeEvent{
		TransactionID: "TXN1001",
		ReferenceID:   "42",
		Kind:          model.PurchaseKindOrder,
		Status:        model.TransactionStatusApproved,
		Amount:        2500,
	})
	require.NoError(t, err)

	disposition := c.handle(context.Background(), &sarama.ConsumerMessage{Value: payload})
	assert.Equal(t, DispositionAck, disposition)

	require.Len(t, applier.seen, 1)
	assert.Equal(t, "TXN1001", applier.seen[0].TransactionID)
	assert.Equal(t, int64(2500), applier.seen[0].Amount)
}

// 解不开的消息直接判死信，不碰结算服务
func TestHandleBadPayloadGoesToDeadLetter(t *testing.T) {
	applier := &fakeApplier{}
	c := NewSettlementConsumer("order", model.TopicOrderSettlement, nil, applier)

	disposition := c.handle(context.Background(), &sarama.ConsumerMessage{Value: []byte("{not json")})
	assert.Equal(t, DispositionDeadLetter, disposition)
	assert.Empty(t, applier.seen)
}

func TestHandleTranslatesApplierErrors(t *testing.T) {
	payload, err := json.Marshal(&model.PaymentOutcomeEvent{
		TransactionID: "TXN1001",
		ReferenceID:   "42",
		Kind:          model.PurchaseKindOrder,
		Status:        model.TransactionStatusApproved,
	})
	require.NoError(t, err)

	cases := []struct {
		applyErr error
		want     Disposition
	}{
		{nil, DispositionAck},
		{service.ErrAggregateNotFound, DispositionRetry},
		{service.ErrKindMismatch, DispositionDeadLetter},
		{errors.New("db down"), DispositionRetry},
	}
	for _, tc := range cases {
		c := NewSettlementConsumer("order", model.TopicOrderSettlement, nil, &fakeApplier{err: tc.applyErr})
		got := c.handle(context.Background(), &sarama.ConsumerMessage{Value: payload})
		assert.Equal(t, tc.want, got, "applyErr=%v", tc.applyErr)
	}
}
