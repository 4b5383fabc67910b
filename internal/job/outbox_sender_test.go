package job

import (
	"context"
	"errors"
	"testing"

	"marketpay/internal/config"
	"marketpay/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type sentEvent struct {
	topic, key, value string
}

func newTestSender(t *testing.T) (*OutboxSender, sqlmock.Sqlmock, *[]sentEvent) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	cfg := &config.Config{Business: config.BusinessConfig{
		OutboxPollIntervalMs: 50,
		OutboxBatchSize:      10,
		MaxRetryCount:        3,
	}}

	sender := NewOutboxSender(db, cfg)
	sent := &[]sentEvent{}
	sender.send = func(topic, key, value string) error {
		*sent = append(*sent, sentEvent{topic, key, value})
		return nil
	}
	return sender, mock, sent
}

func TestShipBatchPublishesAndMarksSent(t *testing.T) {
	sender, mock, sent := newTestSender(t)

	rows := sqlmock.NewRows([]string{"id", "message_key", "topic", "payload", "status", "retry_count"}).
		AddRow(1, "TXN1", model.TopicOrderSettlement, `{"transaction_id":"TXN1"}`, model.OutboxStatusPending, 0)
	mock.ExpectQuery("SELECT (.+) FROM `outbox_message`").WillReturnRows(rows)
	mock.ExpectExec("UPDATE `outbox_message`").WillReturnResult(sqlmock.NewResult(0, 1))

	sender.shipBatch(context.Background())

	require.Len(t, *sent, 1)
	assert.Equal(t, model.TopicOrderSettlement, (*sent)[0].topic)
	assert.Equal(t, "TXN1", (*sent)[0].key)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 发送失败：累计重试次数，事件留在 PENDING 等下一轮
func TestShipFailureIncrementsRetry(t *testing.T) {
	sender, mock, _ := newTestSender(t)
	sender.send = func(_, _, _ string) error { return errors.New("broker unavailable") }

	mock.ExpectExec("UPDATE `outbox_message`").WillReturnResult(sqlmock.NewResult(0, 1))

	sender.ship(context.Background(), &model.OutboxMessage{
		ID:         7,
		Topic:      model.TopicReservationSettlement,
		RetryCount: 0,
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

// 重试超限：标记 FAILED 留给人工，不再占用投递带宽
func TestShipExhaustedRetriesMarksFailed(t *testing.T) {
	sender, mock, _ := newTestSender(t)
	sender.send = func(_, _, _ string) error { return errors.New("broker unavailable") }

	mock.ExpectExec("UPDATE `outbox_message`").WillReturnResult(sqlmock.NewResult(0, 1))

	sender.ship(context.Background(), &model.OutboxMessage{
		ID:         7,
		Topic:      model.TopicReservationSettlement,
		RetryCount: 2, // 本次失败后达到 MaxRetryCount=3
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewOutboxSenderDefaults(t *testing.T) {
	sqlDB, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sender := NewOutboxSender(db, &config.Config{})
	assert.Positive(t, sender.interval)
	assert.Positive(t, sender.batchSize)
}
