package repository

import (
	"context"
	"errors"
	"time"

	"marketpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrCredentialNotFound = errors.New("商家凭证不存在")
	ErrHandshakeNotFound  = errors.New("授权握手不存在或已被消费")
)

// CredentialRepository 商家 OAuth 凭证与授权握手
type CredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Upsert 按 (external_business_id, purchase_kind) 落库，后写覆盖先写
//
// 定时刷新任务和人工重连可能同时写同一把凭证，
// last-writer-wins 对低争用的凭证表是足够的（见 OnConflict 覆盖列）。
func (r *CredentialRepository) Upsert(ctx context.Context, cred *model.OAuthCredential) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "external_business_id"}, {Name: "purchase_kind"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"internal_user_id", "access_token", "refresh_token",
				"public_key", "provider_account_id", "expires_at", "live_mode",
			}),
		}).
		Create(cred).Error
}

// GetByKey 按复合键查询凭证
func (r *CredentialRepository) GetByKey(ctx context.Context, key model.CredentialKey) (*model.OAuthCredential, error) {
	var cred model.OAuthCredential
	err := r.db.WithContext(ctx).
		Where("external_business_id = ? AND purchase_kind = ?", key.ExternalBusinessID, string(key.PurchaseKind)).
		First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return &cred, nil
}

// ListExpiring 扫描有刷新令牌且即将过期的凭证
func (r *CredentialRepository) ListExpiring(ctx context.Context, before time.Time, limit int) ([]*model.OAuthCredential, error) {
	var creds []*model.OAuthCredential
	err := r.db.WithContext(ctx).
		Where("refresh_token <> '' AND expires_at < ?", before).
		Order("expires_at ASC").
		Limit(limit).
		Find(&creds).Error
	return creds, err
}

// UpdateTokens 刷新成功后更新令牌和有效期
func (r *CredentialRepository) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken, publicKey string, expiresAt time.Time, liveMode bool) error {
	return r.db.WithContext(ctx).
		Model(&model.OAuthCredential{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"public_key":    publicKey,
			"expires_at":    expiresAt,
			"live_mode":     liveMode,
		}).Error
}

// ============================================================
// 授权握手
// ============================================================

// CreateHandshake 发放授权链接时登记握手
func (r *CredentialRepository) CreateHandshake(ctx context.Context, h *model.AuthorizationHandshake) error {
	return r.db.WithContext(ctx).Create(h).Error
}

// ConsumeHandshake 按 state 一次性消费握手
//
// 【关键点】先查后删，删除以 RowsAffected 判定归属：
// 两个并发回调拿着同一个 state，只有删掉那一行的请求算消费成功，
// 另一个会看到 RowsAffected=0，按"握手不存在"处理，堵住重放。
func (r *CredentialRepository) ConsumeHandshake(ctx context.Context, state string) (*model.AuthorizationHandshake, error) {
	var h model.AuthorizationHandshake
	err := r.db.WithContext(ctx).Where("state = ?", state).First(&h).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrHandshakeNotFound
		}
		return nil, err
	}

	result := r.db.WithContext(ctx).Where("state = ?", state).Delete(&model.AuthorizationHandshake{})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrHandshakeNotFound
	}

	return &h, nil
}

// DeleteExpiredHandshakes 清理超过 TTL 的握手（后台任务调用）
func (r *CredentialRepository) DeleteExpiredHandshakes(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", before).
		Delete(&model.AuthorizationHandshake{})
	return result.RowsAffected, result.Error
}
