package model

import (
	"time"
)

// ============================================================================
// 商家 OAuth 凭证
// ============================================================================

// CredentialKey 凭证的复合键（值对象）
//
// 每个商家按服务线（点餐/住宿）各接一套收款账号，拆分收款路由。
// 唯一性约束直接落在复合键上，而不是靠两个散落的查询字段。
type CredentialKey struct {
	ExternalBusinessID string
	PurchaseKind       PurchaseKind
}

// OAuthCredential 商家授权凭证表
// 授权码换取成功时创建，刷新时更新，不做隐式删除
type OAuthCredential struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ExternalBusinessID string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_business_kind" json:"external_business_id"`
	PurchaseKind       string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_business_kind" json:"purchase_kind"`
	InternalUserID     int64     `gorm:"index;not null" json:"internal_user_id"` // 发起授权的商家用户
	AccessToken        string    `gorm:"type:varchar(256);not null" json:"-"`
	RefreshToken       string    `gorm:"type:varchar(256)" json:"-"`
	PublicKey          string    `gorm:"type:varchar(128)" json:"public_key"`
	ProviderAccountID  int64     `gorm:"not null" json:"provider_account_id"` // 渠道侧的商家账号ID
	ExpiresAt          time.Time `gorm:"index;not null" json:"expires_at"`
	LiveMode           bool      `gorm:"not null;default:false" json:"live_mode"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OAuthCredential) TableName() string {
	return "oauth_credential"
}

// Key 返回凭证的复合键
func (c *OAuthCredential) Key() CredentialKey {
	return CredentialKey{
		ExternalBusinessID: c.ExternalBusinessID,
		PurchaseKind:       PurchaseKind(c.PurchaseKind),
	}
}

// ============================================================================
// 授权握手（CSRF state）
// ============================================================================

// AuthorizationHandshake 授权握手表
// 发放授权链接时创建，回调时一次性消费
//
// 【关键点】state 是一次性的：
// 回调查到后无论后续换码成败都必须先删除，防止重放。
// 超过 TTL 的握手视同不存在，由后台任务定期清理。
type AuthorizationHandshake struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	State              string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"state"` // 随机不可猜测的令牌
	InternalUserID     int64     `gorm:"not null" json:"internal_user_id"`
	ExternalBusinessID string    `gorm:"type:varchar(64);not null" json:"external_business_id"`
	PurchaseKind       string    `gorm:"type:varchar(20);not null" json:"purchase_kind"`
	CreatedAt          time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AuthorizationHandshake) TableName() string {
	return "authorization_handshake"
}

// ExpiredBefore 判断握手在给定 TTL 下是否已过期
func (h *AuthorizationHandshake) ExpiredBefore(now time.Time, ttl time.Duration) bool {
	return now.Sub(h.CreatedAt) > ttl
}
