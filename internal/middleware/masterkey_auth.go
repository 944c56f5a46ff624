package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"
)

// HeaderMasterKey 携带主密钥的请求头
const HeaderMasterKey = "X-Master-Key"

// MasterKeyValidator 主密钥校验能力
type MasterKeyValidator interface {
	Validate(candidate string) bool
}

// MasterKeyAuth 主密钥认证中间件
type MasterKeyAuth struct {
	validator MasterKeyValidator
	onFailure func()
	log       *zap.Logger
}

// NewMasterKeyAuth 创建主密钥认证中间件，onFailure 在每次拒绝时调用，可为 nil
func NewMasterKeyAuth(validator MasterKeyValidator, onFailure func(), log *zap.Logger) *MasterKeyAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &MasterKeyAuth{
		validator: validator,
		onFailure: onFailure,
		log:       log,
	}
}

type masterKeyBody struct {
	MasterKey string `json:"master_key"`
}

// RequireMasterKey 要求有效主密钥
//
// 主密钥取自 X-Master-Key 请求头，缺省时取 JSON 请求体的 master_key 字段。
// 请求体通过 ShouldBindBodyWith 缓存，处理器需用同样的方式再次绑定。
// 拒绝时不透露请求的是哪个管理操作。
func (a *MasterKeyAuth) RequireMasterKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := a.extractKey(c)

		if !a.validator.Validate(key) {
			if a.onFailure != nil {
				a.onFailure()
			}
			a.log.Warn("master key rejected",
				zap.String("ip", c.ClientIP()),
				zap.Bool("provided", key != ""),
			)
			c.Set(ContextErrorCode, CodeAuthFailed)
			abortWithError(c, http.StatusUnauthorized, CodeAuthFailed, "主密钥验证失败")
			return
		}

		c.Next()
	}
}

func (a *MasterKeyAuth) extractKey(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader(HeaderMasterKey)); key != "" {
		return key
	}

	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return ""
	}

	var body masterKeyBody
	if err := c.ShouldBindBodyWith(&body, binding.JSON); err != nil {
		return ""
	}
	return strings.TrimSpace(body.MasterKey)
}
