package job

import (
	"context"
	"log"
	"time"

	"marketpay/internal/config"
	"marketpay/internal/provider"
	"marketpay/internal/repository"
	"marketpay/internal/service"

	"gorm.io/gorm"
)

// TokenRefreshJob 定期刷新即将过期的商家凭证
//
// 和请求流量完全解耦：单个凭证刷新失败只记日志，
// 下个周期会再次扫到它。人工重连和本任务可能并发写同一把凭证，
// 凭证表按复合键 last-writer-wins，不需要额外协调。
type TokenRefreshJob struct {
	oauthService *service.OAuthService
	interval     time.Duration
	batchSize    int
	stopCh       chan struct{}
}

func NewTokenRefreshJob(db *gorm.DB, cfg *config.Config) *TokenRefreshJob {
	credRepo := repository.NewCredentialRepository(db)
	mpClient := provider.NewMercadoPagoClient(&cfg.MercadoPago)
	usersClient := provider.NewUserDirectoryClient(&cfg.Users)

	interval := time.Duration(cfg.Business.RefreshIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 30 * time.Minute
	}

	return &TokenRefreshJob{
		oauthService: service.NewOAuthService(credRepo, mpClient, usersClient,
			cfg.Business.HandshakeTTL(), cfg.Business.RefreshLead()),
		interval:  interval,
		batchSize: 100,
		stopCh:    make(chan struct{}),
	}
}

func (j *TokenRefreshJob) Start(ctx context.Context) {
	log.Println("[TokenRefreshJob] 凭证刷新任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[TokenRefreshJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[TokenRefreshJob] 任务停止")
			return
		case <-ticker.C:
			j.refreshOnce(ctx)
		}
	}
}

func (j *TokenRefreshJob) Stop() {
	close(j.stopCh)
}

func (j *TokenRefreshJob) refreshOnce(ctx context.Context) {
	refreshed, err := j.oauthService.RefreshExpiring(ctx, j.batchSize)
	if err != nil {
		log.Printf("[TokenRefreshJob] 本轮刷新失败: %v", err)
		return
	}
	if refreshed > 0 {
		log.Printf("[TokenRefreshJob] 本轮刷新 %d 把凭证", refreshed)
	}
}

// HandshakeSweepJob 清理超过 TTL 的授权握手
//
// 握手在回调时按 TTL 判定过期，这里只是兜底清库，
// 防止没人回调的 state 行无限堆积（也顺带关掉重放窗口）。
type HandshakeSweepJob struct {
	credRepo *repository.CredentialRepository
	ttl      time.Duration
	interval time.Duration
	stopCh   chan struct{}
}

func NewHandshakeSweepJob(db *gorm.DB, cfg *config.Config) *HandshakeSweepJob {
	return &HandshakeSweepJob{
		credRepo: repository.NewCredentialRepository(db),
		ttl:      cfg.Business.HandshakeTTL(),
		interval: 10 * time.Minute,
		stopCh:   make(chan struct{}),
	}
}

func (j *HandshakeSweepJob) Start(ctx context.Context) {
	log.Println("[HandshakeSweepJob] 握手清理任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[HandshakeSweepJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[HandshakeSweepJob] 任务停止")
			return
		case <-ticker.C:
			j.sweepOnce(ctx)
		}
	}
}

func (j *HandshakeSweepJob) Stop() {
	close(j.stopCh)
}

func (j *HandshakeSweepJob) sweepOnce(ctx context.Context) {
	deleted, err := j.credRepo.DeleteExpiredHandshakes(ctx, time.Now().Add(-j.ttl))
	if err != nil {
		log.Printf("[HandshakeSweepJob] 清理失败: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("[HandshakeSweepJob] 清理 %d 条过期握手", deleted)
	}
}
