package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess      = 0
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeNotFound     = 404
	CodeServerError  = 500
)

// 业务错误码
//
// 回调方（支付渠道）只看 HTTP 状态决定是否重试，
// 所以错误应答必须带真实的非 2xx 状态，不能像内部接口那样一律 200。
const (
	CodeSignatureInvalid    = 1001
	CodeInvalidPurchaseKind = 1002
	CodeUnknownHandshake    = 1003
	CodeExchangeFailed      = 1004
	CodeTransactionNotFound = 1005
	CodeNotificationInvalid = 1006
	CodeCredentialNotFound  = 1007
	CodeOrderNotFound       = 1008
	CodeOrderStatusInvalid  = 1009
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Error 按给定 HTTP 状态返回业务错误
func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeParamError, message)
}

func Unauthorized(c *gin.Context, code int, message string) {
	Error(c, http.StatusUnauthorized, code, message)
}

func NotFound(c *gin.Context, code int, message string) {
	Error(c, http.StatusNotFound, code, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, http.StatusBadRequest, code, message)
}
