package handler

import (
	"marketpay/internal/config"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, cfg)

	// 渠道回调（路径与渠道后台配置一致，不挂版本前缀）
	r.POST("/webhook", h.Webhook)

	// 商家授权
	oauth := r.Group("/oauth")
	{
		oauth.GET("/init", h.OAuthInit)
		oauth.GET("/callback", h.OAuthCallback)
		oauth.GET("/credential", h.GetCredentialStatus)
	}

	// API 路由组
	api := r.Group("/api/v1")
	{
		transaction := api.Group("/transaction")
		{
			transaction.GET("/detail", h.GetTransaction)
		}

		order := api.Group("/order")
		{
			order.PUT("/status", h.AdvanceOrderStatus)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
