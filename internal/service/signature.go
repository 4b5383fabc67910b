package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
)

// ============================================================================
// 回调签名校验
// ============================================================================
//
// 渠道在回调头里带 x-signature: ts=<unix秒>,v1=<hex-hmac>，
// 签名对象是按固定格式拼出的 manifest 串：
//
//	id:{dataID};request-id:{requestID};ts:{ts};
//
// dataID 缺失时省略 id: 段，request-id 头缺失时省略 request-id: 段。
// 用预共享密钥做 HMAC-SHA256，hex 编码后与 v1 恒定时间比较。
//
// 【关键点】校验失败一律 fail closed：ts 或 v1 任一缺失直接拒绝，
// 不允许"头格式不对就跳过校验"这种静默放行。
// ============================================================================

var (
	ErrSignatureMissing   = errors.New("缺少签名头")
	ErrSignatureMalformed = errors.New("签名头格式不合法")
	ErrSignatureMismatch  = errors.New("签名不匹配")
)

// SignatureValidator 回调签名校验器
//
// 【明确的策略，不是漏洞】secret 为空时进入开发模式：
// 所有回调无条件放行。这是给本地联调用的显式开关，
// 生产环境必须配置 mercadopago.webhook_secret，否则等于裸奔。
type SignatureValidator struct {
	secret string
}

func NewSignatureValidator(secret string) *SignatureValidator {
	if secret == "" {
		log.Println("[WebhookSignature] 警告：未配置 webhook 密钥，签名校验进入开发模式，所有回调将无条件放行！生产环境必须配置密钥")
	}
	return &SignatureValidator{secret: secret}
}

// DevMode 是否处于开发模式（未配置密钥）
func (v *SignatureValidator) DevMode() bool {
	return v.secret == ""
}

// Validate 校验一次回调的签名
func (v *SignatureValidator) Validate(signatureHeader, requestID, dataID string) error {
	if v.secret == "" {
		log.Printf("[WebhookSignature] 开发模式放行回调: dataID=%s requestID=%s", dataID, requestID)
		return nil
	}

	if signatureHeader == "" {
		return ErrSignatureMissing
	}

	ts, v1, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return err
	}

	manifest := BuildManifest(dataID, requestID, ts)

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))

	// hex 串长度固定，直接用恒定时间比较，防时序侧信道
	if !hmac.Equal([]byte(expected), []byte(v1)) {
		return ErrSignatureMismatch
	}
	return nil
}

// parseSignatureHeader 解析 "ts=...,v1=..."，两段缺一不可
func parseSignatureHeader(header string) (ts, v1 string, err error) {
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "ts":
			ts = kv[1]
		case "v1":
			v1 = kv[1]
		}
	}
	if ts == "" || v1 == "" {
		return "", "", fmt.Errorf("%w: %q", ErrSignatureMalformed, header)
	}
	return ts, v1, nil
}

// BuildManifest 拼装签名对象串，空字段对应的段整体省略
func BuildManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		b.WriteString("id:")
		b.WriteString(dataID)
		b.WriteString(";")
	}
	if requestID != "" {
		b.WriteString("request-id:")
		b.WriteString(requestID)
		b.WriteString(";")
	}
	b.WriteString("ts:")
	b.WriteString(ts)
	b.WriteString(";")
	return b.String()
}
