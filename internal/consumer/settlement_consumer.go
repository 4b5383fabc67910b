package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"marketpay/internal/infrastructure/mq"
	"marketpay/internal/model"
	"marketpay/internal/service"

	"github.com/IBM/sarama"
)

// ============================================================================
// 结算消费者
// ============================================================================
//
// 【消费契约】处理函数返回一个明确的处置结果，而不是靠抛错触发重投：
//
//	Ack        处理成功（包括幂等跳过）→ 提交位点
//	Retry      暂时性故障（聚合没找到、数据库抖动）→ 不提交位点，
//	           中断本次会话，总线按 at-least-once 重新投递
//	DeadLetter 消息本身有问题（JSON 坏、类型不匹配）→ 原样转进
//	           <topic>.dlq 再提交位点，留给人工处理
//
// 绝不允许"吞掉错误然后提交"——那等于把钱的状态静默丢掉。
// ============================================================================

type Disposition int

const (
	DispositionAck Disposition = iota
	DispositionRetry
	DispositionDeadLetter
)

func (d Disposition) String() string {
	switch d {
	case DispositionAck:
		return "ack"
	case DispositionRetry:
		return "retry"
	case DispositionDeadLetter:
		return "dead-letter"
	default:
		return "unknown"
	}
}

// OutcomeApplier 结算状态机入口（OrderSettlement / ReservationSettlement）
type OutcomeApplier interface {
	Apply(ctx context.Context, ev *model.PaymentOutcomeEvent) error
}

// Classify 把结算服务的错误翻译成处置结果
func Classify(err error) Disposition {
	if err == nil {
		return DispositionAck
	}
	if errors.Is(err, service.ErrMalformedEvent) || errors.Is(err, service.ErrKindMismatch) {
		return DispositionDeadLetter
	}
	// 聚合暂不可用、存储故障等一律重投，宁可重复也不丢
	return DispositionRetry
}

// errRetryRequested 用于中断 ConsumeClaim，让会话在未提交位点处重建
var errRetryRequested = errors.New("消息请求重投")

// SettlementConsumer 绑定单个主题的消费组成员
type SettlementConsumer struct {
	name    string
	topic   string
	group   sarama.ConsumerGroup
	applier OutcomeApplier
}

func NewSettlementConsumer(name, topic string, group sarama.ConsumerGroup, applier OutcomeApplier) *SettlementConsumer {
	return &SettlementConsumer{
		name:    name,
		topic:   topic,
		group:   group,
		applier: applier,
	}
}

// Start 消费循环，ctx 取消后退出
func (c *SettlementConsumer) Start(ctx context.Context) {
	log.Printf("[%s] 结算消费者启动: topic=%s", c.name, c.topic)

	for {
		err := c.group.Consume(ctx, []string{c.topic}, c)
		if ctx.Err() != nil {
			log.Printf("[%s] 收到停止信号，消费者退出", c.name)
			return
		}
		if err != nil && !errors.Is(err, errRetryRequested) {
			log.Printf("[%s] 消费会话异常: %v", c.name, err)
		}
		// 重投请求或会话重平衡后稍作等待再续
		select {
		case <-ctx.Done():
			log.Printf("[%s] 收到停止信号，消费者退出", c.name)
			return
		case <-time.After(time.Second):
		}
	}
}

// Close 关闭底层消费组
func (c *SettlementConsumer) Close() error {
	return c.group.Close()
}

func (c *SettlementConsumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *SettlementConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim 逐条处理分区消息
func (c *SettlementConsumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		disposition := c.handle(sess.Context(), message)

		switch disposition {
		case DispositionAck:
			sess.MarkMessage(message, "")

		case DispositionDeadLetter:
			dlqTopic := c.topic + ".dlq"
			if err := mq.SendRaw(dlqTopic, message.Key, message.Value); err != nil {
				// 死信都发不出去就别提交位点了，按重投处理
				log.Printf("[%s] 转死信失败，改为重投: offset=%d err=%v", c.name, message.Offset, err)
				return errRetryRequested
			}
			log.Printf("[%s] 消息已转死信: topic=%s offset=%d", c.name, dlqTopic, message.Offset)
			sess.MarkMessage(message, "")

		case DispositionRetry:
			// 不提交位点，中断会话，消息会被重新投递
			log.Printf("[%s] 请求重投: offset=%d", c.name, message.Offset)
			return errRetryRequested
		}
	}
	return nil
}

func (c *SettlementConsumer) handle(ctx context.Context, message *sarama.ConsumerMessage) Disposition {
	ev := &model.PaymentOutcomeEvent{}
	if err := json.Unmarshal(message.Value, ev); err != nil {
		log.Printf("[%s] 事件反序列化失败: offset=%d err=%v", c.name, message.Offset, err)
		return DispositionDeadLetter
	}

	err := c.applier.Apply(ctx, ev)
	disposition := Classify(err)
	if err != nil {
		log.Printf("[%s] 处理结果: transaction=%s disposition=%s err=%v",
			c.name, ev.TransactionID, disposition, err)
	}
	return disposition
}

var _ sarama.ConsumerGroupHandler = (*SettlementConsumer)(nil)
