package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【为什么需要分布式锁？】
//
// 场景：总线对同一预订重复投递两条支付事件（at-least-once 是常态），
// 两个消费者实例同时处理
//
// 如果没有分布式锁：
//   实例1: 读 AmountPaid=400 -> 入账600 -> AmountPaid=1000   OK
//   实例2: 读 AmountPaid=400 -> 入账600 -> AmountPaid=1000   历史却有两条记录，不变量被破坏！
//
// 加了分布式锁（按预订维度）：
//   实例1: 获取锁 -> 入账 -> 释放锁
//   实例2: 等待... -> 获取锁 -> 发现交易已生效 -> 幂等跳过
//
// 【Redis 分布式锁原理】
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（防止死锁）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：使用 Lua 脚本保证原子性
//   - 先检查 value 是否是自己的
//   - 再删除 key
//
// ============================================================================

var (
	ErrLockFailed  = errors.New("获取分布式锁失败")
	ErrLockExpired = errors.New("锁已过期")
)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁的 value（用于验证锁的持有者）
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	// SET key value NX EX timeout
	// NX: 只有 key 不存在时才设置
	// EX: 设置过期时间，防止死锁（持有锁的进程崩溃时，锁会自动释放）
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		// 等待一段时间后重试
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
//
// 【关键点】使用 Lua 脚本保证"检查+删除"操作的原子性
//
// 为什么要检查 value？
//
//	场景：A 获取锁 -> A 处理超时，锁自动过期 -> B 获取锁 -> A 执行完毕，调用 Unlock
//	如果不检查 value，A 会把 B 的锁删掉！
func (l *DistributedLock) Unlock(ctx context.Context) error {
	// Lua 脚本：检查 value 是否匹配，匹配则删除
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// ============================================================================
// 便捷函数：按聚合维度的结算锁
// ============================================================================

// NewReservationLock 创建预订结算锁（按预订维度）
//
// 【设计思考】为什么按预订维度加锁？
//
// 预订的支付历史有强不变量 AmountPaid = Σ PaymentRecord.Amount，
// 同一预订的入账必须串行；不同预订之间没有共享状态，可以并发。
// 全局锁会把消费吞吐压到单线程，按预订加锁是并发度和正确性的平衡点。
func NewReservationLock(client *redis.Client, reservationID int64, owner string) *DistributedLock {
	key := fmt.Sprintf("settle:lock:reservation:%d", reservationID)
	// value 使用消费者生成的 owner 标识，便于追踪是哪次消费持有锁
	return NewDistributedLock(client, key, owner, 30*time.Second)
}

