package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"marketpay/internal/model"
	"marketpay/internal/provider"
	"marketpay/internal/repository"
)

// ============================================================================
// 商家 OAuth 凭证生命周期
// ============================================================================

var (
	ErrUnknownHandshake     = errors.New("授权握手不存在或已过期")
	ErrCredentialExchange   = errors.New("渠道凭证交换失败")
	ErrMissingBusinessID    = errors.New("缺少商家标识")
	ErrMissingAuthorization = errors.New("缺少授权码或 state")
)

// credentialStore 凭证与握手的持久化入口（测试用假实现替换）
type credentialStore interface {
	Upsert(ctx context.Context, cred *model.OAuthCredential) error
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]*model.OAuthCredential, error)
	UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken, publicKey string, expiresAt time.Time, liveMode bool) error
	CreateHandshake(ctx context.Context, h *model.AuthorizationHandshake) error
	ConsumeHandshake(ctx context.Context, state string) (*model.AuthorizationHandshake, error)
}

// tokenExchanger 渠道 OAuth 接口
type tokenExchanger interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*provider.TokenResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*provider.TokenResponse, error)
}

// userDirectory 内部用户服务
type userDirectory interface {
	LookupByEmail(ctx context.Context, email string) (int64, error)
}

// OAuthService 发起授权、处理回调、定期刷新
type OAuthService struct {
	store        credentialStore
	exchanger    tokenExchanger
	users        userDirectory
	handshakeTTL time.Duration
	refreshLead  time.Duration
	now          func() time.Time
}

func NewOAuthService(store credentialStore, exchanger tokenExchanger, users userDirectory, handshakeTTL, refreshLead time.Duration) *OAuthService {
	return &OAuthService{
		store:        store,
		exchanger:    exchanger,
		users:        users,
		handshakeTTL: handshakeTTL,
		refreshLead:  refreshLead,
		now:          time.Now,
	}
}

// Initiate 发起授权：登记握手并返回带 state 的授权链接
//
// purchaseKind 非法时在任何持久化之前拒绝。
func (s *OAuthService) Initiate(ctx context.Context, email, externalBusinessID, purchaseKind string) (string, error) {
	kind, err := model.ParsePurchaseKind(purchaseKind)
	if err != nil {
		return "", err
	}
	if externalBusinessID == "" {
		return "", ErrMissingBusinessID
	}

	userID, err := s.users.LookupByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("解析操作者身份失败: %w", err)
	}

	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("生成 state 失败: %w", err)
	}

	if err := s.store.CreateHandshake(ctx, &model.AuthorizationHandshake{
		State:              state,
		InternalUserID:     userID,
		ExternalBusinessID: externalBusinessID,
		PurchaseKind:       string(kind),
	}); err != nil {
		return "", fmt.Errorf("登记授权握手失败: %w", err)
	}

	log.Printf("[OAuth] 已发起授权: business=%s kind=%s user=%d", externalBusinessID, kind, userID)
	return s.exchanger.AuthorizationURL(state), nil
}

// Callback 处理授权回调：消费握手、换码、落凭证
//
// 【关键点】握手是一次性的：查到即删，后续换码失败也不归还。
// 攻击者重放同一个 state 只会得到"握手不存在"。
// 超过 TTL 的握手视同不存在（消费动作顺带把它清掉了）。
func (s *OAuthService) Callback(ctx context.Context, code, state string) (*model.OAuthCredential, error) {
	if code == "" || state == "" {
		return nil, ErrMissingAuthorization
	}

	handshake, err := s.store.ConsumeHandshake(ctx, state)
	if err != nil {
		if errors.Is(err, repository.ErrHandshakeNotFound) {
			return nil, ErrUnknownHandshake
		}
		return nil, fmt.Errorf("消费授权握手失败: %w", err)
	}

	if handshake.ExpiredBefore(s.now(), s.handshakeTTL) {
		log.Printf("[OAuth] 握手已过期: business=%s age=%v", handshake.ExternalBusinessID, s.now().Sub(handshake.CreatedAt))
		return nil, ErrUnknownHandshake
	}

	token, err := s.exchanger.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialExchange, err)
	}

	cred := &model.OAuthCredential{
		ExternalBusinessID: handshake.ExternalBusinessID,
		PurchaseKind:       handshake.PurchaseKind,
		InternalUserID:     handshake.InternalUserID,
		AccessToken:        token.AccessToken,
		RefreshToken:       token.RefreshToken,
		PublicKey:          token.PublicKey,
		ProviderAccountID:  token.UserID,
		ExpiresAt:          token.ExpiresAt(s.now()),
		LiveMode:           token.LiveMode,
	}
	if err := s.store.Upsert(ctx, cred); err != nil {
		return nil, fmt.Errorf("保存商家凭证失败: %w", err)
	}

	log.Printf("[OAuth] 凭证已落库: business=%s kind=%s providerAccount=%d live=%v",
		cred.ExternalBusinessID, cred.PurchaseKind, cred.ProviderAccountID, cred.LiveMode)
	return cred, nil
}

// RefreshExpiring 刷新即将过期的凭证，返回成功刷新的数量
//
// 单个凭证刷新失败只记日志，留给下个周期重试，不影响其余凭证。
func (s *OAuthService) RefreshExpiring(ctx context.Context, limit int) (int, error) {
	deadline := s.now().Add(s.refreshLead)
	creds, err := s.store.ListExpiring(ctx, deadline, limit)
	if err != nil {
		return 0, fmt.Errorf("扫描过期凭证失败: %w", err)
	}

	refreshed := 0
	for _, cred := range creds {
		token, err := s.exchanger.RefreshToken(ctx, cred.RefreshToken)
		if err != nil {
			log.Printf("[OAuth] 刷新凭证失败，下个周期重试: business=%s kind=%s err=%v",
				cred.ExternalBusinessID, cred.PurchaseKind, err)
			continue
		}

		if err := s.store.UpdateTokens(ctx, cred.ID,
			token.AccessToken, token.RefreshToken, token.PublicKey,
			token.ExpiresAt(s.now()), token.LiveMode); err != nil {
			log.Printf("[OAuth] 回写凭证失败: business=%s kind=%s err=%v",
				cred.ExternalBusinessID, cred.PurchaseKind, err)
			continue
		}

		refreshed++
		log.Printf("[OAuth] 凭证已刷新: business=%s kind=%s expiresAt=%v",
			cred.ExternalBusinessID, cred.PurchaseKind, token.ExpiresAt(s.now()))
	}
	return refreshed, nil
}

// generateState 生成不可猜测的一次性 state 令牌
func generateState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
