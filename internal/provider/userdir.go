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

var ErrUserNotFound = errors.New("用户不存在")

// UserDirectoryClient 内部用户服务客户端
//
// 授权发起时只拿到操作者邮箱，身份解析交给用户服务（独立部署的协作方）。
type UserDirectoryClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewUserDirectoryClient(cfg *config.UsersConfig) *UserDirectoryClient {
	return &UserDirectoryClient{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// LookupByEmail 按邮箱解析内部用户ID
func (c *UserDirectoryClient) LookupByEmail(ctx context.Context, email string) (int64, error) {
	endpoint := fmt.Sprintf("%s/internal/users?email=%s", c.baseURL, url.QueryEscape(email))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("请求用户服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, ErrUserNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("用户服务应答异常: status=%d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, err
	}

	var payload struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("解析用户服务应答失败: %w", err)
	}
	if payload.ID == 0 {
		return 0, ErrUserNotFound
	}
	return payload.ID, nil
}
