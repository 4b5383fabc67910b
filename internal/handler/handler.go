package handler

import (
	"errors"
	"time"

	"marketpay/internal/config"
	"marketpay/internal/model"
	"marketpay/internal/provider"
	"marketpay/internal/repository"
	"marketpay/internal/service"
	"marketpay/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	webhookService  *service.WebhookService
	oauthService    *service.OAuthService
	transactionRepo *repository.TransactionRepository
	credentialRepo  *repository.CredentialRepository
	orderRepo       *repository.OrderRepository
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, cfg *config.Config) *Handler {
	transactionRepo := repository.NewTransactionRepository(db)
	credentialRepo := repository.NewCredentialRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	validator := service.NewSignatureValidator(cfg.MercadoPago.WebhookSecret)
	mpClient := provider.NewMercadoPagoClient(&cfg.MercadoPago)
	usersClient := provider.NewUserDirectoryClient(&cfg.Users)

	return &Handler{
		webhookService: service.NewWebhookService(db, validator, transactionRepo, outboxRepo),
		oauthService: service.NewOAuthService(credentialRepo, mpClient, usersClient,
			cfg.Business.HandshakeTTL(), cfg.Business.RefreshLead()),
		transactionRepo: transactionRepo,
		credentialRepo:  credentialRepo,
		orderRepo:       repository.NewOrderRepository(db),
	}
}

// ============================================================
// 回调接口
// ============================================================

// webhookData 渠道回调的 data 段
type webhookData struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	TransactionAmount int64      `json:"transaction_amount"` // 分
	ExternalReference string     `json:"external_reference"`
	PayerID           int64      `json:"payer_id"`
	CollectorID       int64      `json:"collector_id"` // 收款商家
	DateApproved      *time.Time `json:"date_approved"`
}

// webhookRequest 渠道回调的包体
type webhookRequest struct {
	Type string      `json:"type"`
	Data webhookData `json:"data"`
}

// Webhook 支付渠道回调
// POST /webhook
//
// 【关键点】回调方按 HTTP 状态决定是否重试：
// 签名不合法 → 401，不重试也不落任何状态；
// 内部故障 → 500，渠道按自己的策略重投；
// 接受成功 → 200（包括重复回调被台账吸收的情况）。
func (h *Handler) Webhook(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "回调包体解析失败: "+err.Error())
		return
	}

	signature := c.GetHeader("x-signature")
	requestID := c.GetHeader("x-request-id")

	if err := h.webhookService.ValidateSignature(signature, requestID, req.Data.ID); err != nil {
		response.Unauthorized(c, response.CodeSignatureInvalid, err.Error())
		return
	}

	err := h.webhookService.Process(c.Request.Context(), &service.PaymentNotification{
		DataID:            req.Data.ID,
		RequestID:         requestID,
		ProviderStatus:    req.Data.Status,
		Amount:            req.Data.TransactionAmount,
		ExternalReference: req.Data.ExternalReference,
		OwnerUserID:       req.Data.CollectorID,
		PayerUserID:       req.Data.PayerID,
		PaidAt:            req.Data.DateApproved,
	})
	if err != nil {
		if errors.Is(err, service.ErrNotificationInvalid) || errors.Is(err, service.ErrUnknownReference) {
			response.BusinessError(c, response.CodeNotificationInvalid, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{"accepted": true})
}

// ============================================================
// OAuth 接口
// ============================================================

// OAuthInit 发起商家授权
// GET /oauth/init?email=xxx&externalBusinessId=xxx&purchaseKind=ORDER
func (h *Handler) OAuthInit(c *gin.Context) {
	email := c.Query("email")
	businessID := c.Query("externalBusinessId")
	purchaseKind := c.Query("purchaseKind")

	if email == "" {
		response.ParamError(c, "email 参数不能为空")
		return
	}

	authURL, err := h.oauthService.Initiate(c.Request.Context(), email, businessID, purchaseKind)
	if err != nil {
		// 调用方传错和内部故障分开：前者 400，后者 500，渠道侧好排查
		switch {
		case errors.Is(err, model.ErrInvalidPurchaseKind):
			response.BusinessError(c, response.CodeInvalidPurchaseKind, err.Error())
		case errors.Is(err, service.ErrMissingBusinessID), errors.Is(err, provider.ErrUserNotFound):
			response.ParamError(c, err.Error())
		default:
			response.ServerError(c, err.Error())
		}
		return
	}

	response.Success(c, gin.H{"authorization_url": authURL})
}

// GetCredentialStatus 查询商家某条服务线的授权状态
// GET /oauth/credential?externalBusinessId=xxx&purchaseKind=ORDER
//
// 只回连接状态和过期时间，令牌本身绝不出网。
func (h *Handler) GetCredentialStatus(c *gin.Context) {
	kind, err := model.ParsePurchaseKind(c.Query("purchaseKind"))
	if err != nil {
		response.BusinessError(c, response.CodeInvalidPurchaseKind, err.Error())
		return
	}
	businessID := c.Query("externalBusinessId")
	if businessID == "" {
		response.ParamError(c, "externalBusinessId 参数不能为空")
		return
	}

	cred, err := h.credentialRepo.GetByKey(c.Request.Context(), model.CredentialKey{
		ExternalBusinessID: businessID,
		PurchaseKind:       kind,
	})
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			response.NotFound(c, response.CodeCredentialNotFound, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"external_business_id": cred.ExternalBusinessID,
		"purchase_kind":        cred.PurchaseKind,
		"provider_account_id":  cred.ProviderAccountID,
		"live_mode":            cred.LiveMode,
		"expires_at":           cred.ExpiresAt,
	})
}

// OAuthCallback 授权回调
// GET /oauth/callback?code=xxx&state=xxx
func (h *Handler) OAuthCallback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")

	cred, err := h.oauthService.Callback(c.Request.Context(), code, state)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownHandshake):
			response.BusinessError(c, response.CodeUnknownHandshake, err.Error())
		case errors.Is(err, service.ErrCredentialExchange):
			response.BusinessError(c, response.CodeExchangeFailed, err.Error())
		case errors.Is(err, service.ErrMissingAuthorization):
			response.ParamError(c, err.Error())
		default:
			response.ServerError(c, err.Error())
		}
		return
	}

	response.Success(c, gin.H{
		"external_business_id": cred.ExternalBusinessID,
		"purchase_kind":        cred.PurchaseKind,
		"provider_account_id":  cred.ProviderAccountID,
		"live_mode":            cred.LiveMode,
		"expires_at":           cred.ExpiresAt,
	})
}

// ============================================================
// 订单履约接口
// ============================================================

// orderStatusRequest 履约状态推进请求
type orderStatusRequest struct {
	OrderNo  string `json:"order_no" binding:"required"`
	ToStatus string `json:"to_status" binding:"required"`
}

// AdvanceOrderStatus 推进订单履约状态（商家运营入口）
// PUT /api/v1/order/status
//
// 履约轴和支付轴是两回事：这里只走 RECEIVED→…→DELIVERED 的
// 状态机，支付叠加字段一概不碰。
func (h *Handler) AdvanceOrderStatus(c *gin.Context) {
	var req orderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "请求参数错误: "+err.Error())
		return
	}

	order, err := h.orderRepo.GetByOrderNo(c.Request.Context(), req.OrderNo)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			response.NotFound(c, response.CodeOrderNotFound, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	if err := h.orderRepo.UpdateStatus(c.Request.Context(), nil, order.ID, order.Status, req.ToStatus); err != nil {
		if errors.Is(err, repository.ErrOrderStatusInvalid) {
			response.BusinessError(c, response.CodeOrderStatusInvalid, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"order_no":    req.OrderNo,
		"from_status": order.Status,
		"to_status":   req.ToStatus,
	})
}

// ============================================================
// 台账接口
// ============================================================

// GetTransaction 按渠道事件ID查台账（幂等检查入口）
// GET /api/v1/transaction/detail?external_id=xxx
func (h *Handler) GetTransaction(c *gin.Context) {
	externalID := c.Query("external_id")
	if externalID == "" {
		response.ParamError(c, "external_id 参数不能为空")
		return
	}

	trans, err := h.transactionRepo.GetByExternalID(c.Request.Context(), externalID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			response.NotFound(c, response.CodeTransactionNotFound, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, trans)
}
