package service

import (
	"errors"
	"fmt"
	"strconv"

	"marketpay/internal/model"
)

// ============================================================================
// 结算消费共用定义
// ============================================================================
//
// 消费端的错误分三类，消费者层按这个分类决定消息去向：
//   - ErrMalformedEvent / ErrKindMismatch：消息本身有问题，重试无意义 → 死信
//   - ErrAggregateNotFound 及其他错误：暂时性故障 → 请求重投
//   - nil：处理成功（包括幂等跳过）→ 确认
// ============================================================================

var (
	ErrAggregateNotFound = errors.New("结算目标聚合不存在")
	ErrKindMismatch      = errors.New("事件类型与消费者不匹配")
	ErrMalformedEvent    = errors.New("结算事件内容不合法")
)

// parseReferenceID 把事件里的业务引用解析成聚合ID
func parseReferenceID(ev *model.PaymentOutcomeEvent) (int64, error) {
	id, err := strconv.ParseInt(ev.ReferenceID, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: reference_id=%q", ErrMalformedEvent, ev.ReferenceID)
	}
	return id, nil
}
