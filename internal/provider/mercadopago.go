package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"marketpay/internal/config"
)

// ============================================================================
// 支付渠道 OAuth 客户端
// ============================================================================
//
// 每个商家用自己的渠道账号收款（split payment），
// 所以平台不持有一把全局密钥，而是替商家走授权码流程拿 token。
// ============================================================================

var ErrExchangeFailed = errors.New("渠道换取令牌失败")

// TokenResponse 渠道令牌接口的应答
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"` // 秒
	Scope        string `json:"scope"`
	RefreshToken string `json:"refresh_token"`
	PublicKey    string `json:"public_key"`
	UserID       int64  `json:"user_id"` // 渠道侧商家账号ID
	LiveMode     bool   `json:"live_mode"`
}

// ExpiresAt 把相对有效期换算成绝对时间
func (t *TokenResponse) ExpiresAt(now time.Time) time.Time {
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// MercadoPagoClient 渠道 HTTP 客户端
type MercadoPagoClient struct {
	httpClient   *http.Client
	clientID     string
	clientSecret string
	redirectURI  string
	authBaseURL  string
	apiBaseURL   string
}

func NewMercadoPagoClient(cfg *config.MercadoPagoConfig) *MercadoPagoClient {
	return &MercadoPagoClient{
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		authBaseURL:  strings.TrimRight(cfg.AuthBaseURL, "/"),
		apiBaseURL:   strings.TrimRight(cfg.APIBaseURL, "/"),
	}
}

// AuthorizationURL 拼出带 state 的授权链接
func (c *MercadoPagoClient) AuthorizationURL(state string) string {
	query := url.Values{}
	query.Set("client_id", c.clientID)
	query.Set("response_type", "code")
	query.Set("platform_id", "mp")
	query.Set("state", state)
	query.Set("redirect_uri", c.redirectURI)
	return fmt.Sprintf("%s/authorization?%s", c.authBaseURL, query.Encode())
}

// ExchangeCode 用授权码换取访问令牌
func (c *MercadoPagoClient) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", c.redirectURI)
	return c.postToken(ctx, form)
}

// RefreshToken 用刷新令牌续期
func (c *MercadoPagoClient) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("refresh_token", refreshToken)
	return c.postToken(ctx, form)
}

func (c *MercadoPagoClient) postToken(ctx context.Context, form url.Values) (*TokenResponse, error) {
	endpoint := c.apiBaseURL + "/oauth/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求渠道令牌接口失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrExchangeFailed, resp.StatusCode, string(body))
	}

	token := &TokenResponse{}
	if err := json.Unmarshal(body, token); err != nil {
		return nil, fmt.Errorf("解析渠道令牌应答失败: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: 应答缺少 access_token", ErrExchangeFailed)
	}
	return token, nil
}
