package job

import (
	"context"
	"log"
	"time"

	"marketpay/internal/config"
	"marketpay/internal/infrastructure/mq"
	"marketpay/internal/model"
	"marketpay/internal/repository"

	"gorm.io/gorm"
)

// OutboxSender 结算事件投递任务
//
// 回调路径只负责把 PaymentOutcomeEvent 和台账变更写进同一个事务，
// 真正发到结算主题（pago.pedido / pago.reserva）由本任务轮询完成，
// 渠道回调不被 Kafka 的可用性拖住。
//
// 【投递语义】at-least-once：发送成功和标记 SENT 之间进程崩溃，
// 重启后同一事件会再发一次。消费端按 TransactionID 幂等，重复发布
// 无害；反过来"标记了却没发出去"才是丢钱事故，所以先发后标记。
type OutboxSender struct {
	db         *gorm.DB
	outboxRepo *repository.OutboxRepository
	cfg        *config.Config
	send       func(topic, key, value string) error
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, cfg *config.Config) *OutboxSender {
	interval := time.Duration(cfg.Business.OutboxPollIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	batchSize := cfg.Business.OutboxBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	return &OutboxSender{
		db:         db,
		outboxRepo: repository.NewOutboxRepository(db),
		cfg:        cfg,
		send:       mq.SendMessage,
		stopCh:     make(chan struct{}),
		interval:   interval,
		batchSize:  batchSize,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	log.Printf("[OutboxSender] 结算事件投递任务启动: interval=%v batch=%d", s.interval, s.batchSize)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[OutboxSender] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			log.Println("[OutboxSender] 任务停止")
			return
		case <-ticker.C:
			s.shipBatch(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) shipBatch(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		log.Printf("[OutboxSender] 查询待投递事件失败: %v", err)
		return
	}

	for _, msg := range messages {
		s.ship(ctx, msg)
	}
}

// ship 投递单条结算事件
//
// 失败累计重试次数，超限标记 FAILED 留给人工处理——
// 台账状态已经落库，事件绝不允许被静默丢弃。
func (s *OutboxSender) ship(ctx context.Context, msg *model.OutboxMessage) {
	if err := s.send(msg.Topic, msg.MessageKey, msg.Payload); err != nil {
		log.Printf("[OutboxSender] 结算事件发送失败: id=%d topic=%s err=%v", msg.ID, msg.Topic, err)

		if msg.RetryCount+1 >= s.cfg.Business.MaxRetryCount {
			if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
				log.Printf("[OutboxSender] 标记失败状态失败: id=%d err=%v", msg.ID, err)
			} else {
				log.Printf("[OutboxSender] 事件超过最大重试次数，标记为失败: id=%d topic=%s", msg.ID, msg.Topic)
			}
			return
		}

		if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
			log.Printf("[OutboxSender] 增加重试次数失败: id=%d err=%v", msg.ID, err)
		}
		return
	}

	if err := s.outboxRepo.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); err != nil {
		// 发出去了但没标记成功：下轮会重发，靠消费端幂等兜住
		log.Printf("[OutboxSender] 标记已发送失败: id=%d err=%v", msg.ID, err)
		return
	}
	log.Printf("[OutboxSender] 结算事件已投递: id=%d topic=%s key=%s", msg.ID, msg.Topic, msg.MessageKey)
}
