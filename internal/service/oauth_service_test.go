package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"marketpay/internal/model"
	"marketpay/internal/provider"
	"marketpay/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// 假实现
// ============================================================

type fakeCredentialStore struct {
	handshakes  map[string]*model.AuthorizationHandshake
	credentials map[model.CredentialKey]*model.OAuthCredential
	expiring    []*model.OAuthCredential
	updated     map[int64]string // id -> 新 access token
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{
		handshakes:  make(map[string]*model.AuthorizationHandshake),
		credentials: make(map[model.CredentialKey]*model.OAuthCredential),
		updated:     make(map[int64]string),
	}
}

func (f *fakeCredentialStore) Upsert(_ context.Context, cred *model.OAuthCredential) error {
	f.credentials[cred.Key()] = cred
	return nil
}

func (f *fakeCredentialStore) ListExpiring(_ context.Context, _ time.Time, _ int) ([]*model.OAuthCredential, error) {
	return f.expiring, nil
}

func (f *fakeCredentialStore) UpdateTokens(_ context.Context, id int64, accessToken, _, _ string, _ time.Time, _ bool) error {
	f.updated[id] = accessToken
	return nil
}

func (f *fakeCredentialStore) CreateHandshake(_ context.Context, h *model.AuthorizationHandshake) error {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	f.handshakes[h.State] = h
	return nil
}

func (f *fakeCredentialStore) ConsumeHandshake(_ context.Context, state string) (*model.AuthorizationHandshake, error) {
	h, ok := f.handshakes[state]
	if !ok {
		return nil, repository.ErrHandshakeNotFound
	}
	delete(f.handshakes, state)
	return h, nil
}

type fakeExchanger struct {
	exchangeErr error
	refreshErr  map[string]error // refresh token -> 错误
	calls       int
}

func (f *fakeExchanger) AuthorizationURL(state string) string {
	return "https://auth.example.com/authorization?state=" + url.QueryEscape(state)
}

func (f *fakeExchanger) ExchangeCode(_ context.Context, code string) (*provider.TokenResponse, error) {
	f.calls++
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &provider.TokenResponse{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		PublicKey:    "pk-test",
		UserID:       4242,
		ExpiresIn:    21600,
		LiveMode:     true,
	}, nil
}

func (f *fakeExchanger) RefreshToken(_ context.Context, refreshToken string) (*provider.TokenResponse, error) {
	if err, ok := f.refreshErr[refreshToken]; ok {
		return nil, err
	}
	return &provider.TokenResponse{
		AccessToken:  "refreshed-" + refreshToken,
		RefreshToken: refreshToken,
		ExpiresIn:    21600,
	}, nil
}

type fakeUserDirectory struct{}

func (fakeUserDirectory) LookupByEmail(_ context.Context, email string) (int64, error) {
	if email == "owner@example.com" {
		return 77, nil
	}
	return 0, provider.ErrUserNotFound
}

func newTestOAuthService(store *fakeCredentialStore, exchanger *fakeExchanger) *OAuthService {
	return NewOAuthService(store, exchanger, fakeUserDirectory{}, 15*time.Minute, 24*time.Hour)
}

// ============================================================
// 发起授权
// ============================================================

func TestInitiateRejectsInvalidKindBeforePersistence(t *testing.T) {
	store := newFakeCredentialStore()
	svc := newTestOAuthService(store, &fakeExchanger{})

	_, err := svc.Initiate(context.Background(), "owner@example.com", "biz-1", "SUBSCRIPTION")
	assert.ErrorIs(t, err, model.ErrInvalidPurchaseKind)
	assert.Empty(t, store.handshakes, "非法类型不允许留下任何握手")
}

func TestInitiateCreatesHandshakeAndEmbedsState(t *testing.T) {
	store := newFakeCredentialStore()
	svc := newTestOAuthService(store, &fakeExchanger{})

	authURL, err := svc.Initiate(context.Background(), "owner@example.com", "biz-1", "ORDER")
	require.NoError(t, err)
	require.Len(t, store.handshakes, 1)

	for state, h := range store.handshakes {
		assert.Contains(t, authURL, state)
		assert.Equal(t, int64(77), h.InternalUserID)
		assert.Equal(t, "biz-1", h.ExternalBusinessID)
		assert.Equal(t, string(model.PurchaseKindOrder), h.PurchaseKind)
		// state 必须足够长、不可猜测
		assert.Len(t, state, 64)
	}
}

func TestInitiateUnknownUser(t *testing.T) {
	store := newFakeCredentialStore()
	svc := newTestOAuthService(store, &fakeExchanger{})

	_, err := svc.Initiate(context.Background(), "stranger@example.com", "biz-1", "ORDER")
	require.Error(t, err)
	assert.Empty(t, store.handshakes)
}

// ============================================================
// 授权回调
// ============================================================

func initiatedState(t *testing.T, svc *OAuthService, store *fakeCredentialStore, kind string) string {
	t.Helper()
	_, err := svc.Initiate(context.Background(), "owner@example.com", "biz-1", kind)
	require.NoError(t, err)
	for state := range store.handshakes {
		return state
	}
	t.Fatal("没有登记握手")
	return ""
}

func TestCallbackUpsertsCredential(t *testing.T) {
	store := newFakeCredentialStore()
	svc := newTestOAuthService(store, &fakeExchanger{})
	state := initiatedState(t, svc, store, "RESERVATION")

	cred, err := svc.Callback(context.Background(), "the-code", state)
	require.NoError(t, err)

	key := model.CredentialKey{ExternalBusinessID: "biz-1", PurchaseKind: model.PurchaseKindReservation}
	stored, ok := store.credentials[key]
	require.True(t, ok)
	assert.Equal(t, cred, stored)
	assert.Equal(t, "access-the-code", stored.AccessToken)
	assert.Equal(t, "refresh-the-code", stored.RefreshToken)
	assert.Equal(t, int64(4242), stored.ProviderAccountID)
	assert.Equal(t, int64(77), stored.InternalUserID)
	assert.True(t, stored.LiveMode)
}

func TestCallbackUnknownState(t *testing.T) {
	store := newFakeCredentialStore()
	svc := newTestOAuthService(store, &fakeExchanger{})

	_, err := svc.Callback(context.Background(), "the-code", "never-issued")
	assert.ErrorIs(t, err, ErrUnknownHandshake)
}

// 握手单次使用：消费过的 state 第二次回调必须被拒
func TestCallbackHandshakeSingleUse(t *testing.T) {
	store := newFakeCredentialStore()
	svc := newTestOAuthService(store, &fakeExchanger{})
	state := initiatedState(t, svc, store, "ORDER")

	_, err := svc.Callback(context.Background(), "the-code", state)
	require.NoError(t, err)

	_, err = svc.Callback(context.Background(), "the-code", state)
	assert.ErrorIs(t, err, ErrUnknownHandshake)
}

// 换码失败同样消费掉握手，不允许拿同一个 state 再试
func TestCallbackConsumesHandshakeEvenOnExchangeFailure(t *testing.T) {
	store := newFakeCredentialStore()
	exchanger := &fakeExchanger{exchangeErr: errors.New("invalid_grant")}
	svc := newTestOAuthService(store, exchanger)
	state := initiatedState(t, svc, store, "ORDER")

	_, err := svc.Callback(context.Background(), "bad-code", state)
	assert.ErrorIs(t, err, ErrCredentialExchange)
	assert.Empty(t, store.credentials, "换码失败不允许写入半截凭证")

	_, err = svc.Callback(context.Background(), "bad-code", state)
	assert.ErrorIs(t, err, ErrUnknownHandshake)
}

func TestCallbackExpiredHandshake(t *testing.T) {
	store := newFakeCredentialStore()
	exchanger := &fakeExchanger{}
	svc := newTestOAuthService(store, exchanger)
	state := initiatedState(t, svc, store, "ORDER")

	// 把时钟拨到 TTL 之后
	svc.now = func() time.Time { return time.Now().Add(16 * time.Minute) }

	_, err := svc.Callback(context.Background(), "the-code", state)
	assert.ErrorIs(t, err, ErrUnknownHandshake)
	assert.Zero(t, exchanger.calls, "过期握手不应触发换码")
}

func TestCallbackMissingParams(t *testing.T) {
	svc := newTestOAuthService(newFakeCredentialStore(), &fakeExchanger{})

	_, err := svc.Callback(context.Background(), "", "some-state")
	assert.ErrorIs(t, err, ErrMissingAuthorization)
	_, err = svc.Callback(context.Background(), "code", "")
	assert.ErrorIs(t, err, ErrMissingAuthorization)
}

// ============================================================
// 定期刷新
// ============================================================

// 单个凭证刷新失败不影响其余凭证
func TestRefreshExpiringIsolatesFailures(t *testing.T) {
	store := newFakeCredentialStore()
	store.expiring = []*model.OAuthCredential{
		{ID: 1, ExternalBusinessID: "biz-ok", PurchaseKind: "ORDER", RefreshToken: "rt-ok"},
		{ID: 2, ExternalBusinessID: "biz-bad", PurchaseKind: "ORDER", RefreshToken: "rt-bad"},
		{ID: 3, ExternalBusinessID: "biz-ok2", PurchaseKind: "RESERVATION", RefreshToken: "rt-ok2"},
	}
	exchanger := &fakeExchanger{refreshErr: map[string]error{"rt-bad": errors.New("provider down")}}
	svc := newTestOAuthService(store, exchanger)

	refreshed, err := svc.RefreshExpiring(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, refreshed)
	assert.Equal(t, "refreshed-rt-ok", store.updated[1])
	assert.Equal(t, "refreshed-rt-ok2", store.updated[3])
	_, touched := store.updated[2]
	assert.False(t, touched, "失败的凭证留给下个周期")
}

func TestGenerateStateIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		s, err := generateState()
		require.NoError(t, err)
		assert.False(t, seen[s])
		assert.False(t, strings.ContainsAny(s, "+/= "))
		seen[s] = true
	}
}
