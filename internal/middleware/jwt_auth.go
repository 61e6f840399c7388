package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailtriage/backend/internal/auth/jwt"
)

// TokenBlacklist 已注销令牌的查询接口，登出后的 jti 在过期前保持拉黑
type TokenBlacklist interface {
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

// JWTAuth JWT认证中间件
type JWTAuth struct {
	jwtManager *jwt.Manager
	blacklist  TokenBlacklist
	log        *zap.Logger
}

// NewJWTAuth 创建JWT认证中间件
func NewJWTAuth(jwtManager *jwt.Manager, log *zap.Logger) *JWTAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &JWTAuth{
		jwtManager: jwtManager,
		log:        log,
	}
}

// WithBlacklist 启用令牌黑名单校验（Redis 可用时由入口装配）
func (ja *JWTAuth) WithBlacklist(blacklist TokenBlacklist) *JWTAuth {
	ja.blacklist = blacklist
	return ja
}

// RequireAuth 要求JWT认证，所有决策路由都依赖它解析 userID
func (ja *JWTAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ja.extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			c.Abort()
			return
		}

		claims, err := ja.jwtManager.ValidateToken(token)
		if err != nil {
			ja.log.Warn("invalid token",
				zap.String("error", err.Error()),
				zap.String("ip", c.ClientIP()),
			)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			c.Abort()
			return
		}

		if ja.blacklist != nil && claims.ID != "" {
			blocked, err := ja.blacklist.IsBlacklisted(c.Request.Context(), claims.ID)
			if err != nil {
				// 黑名单查询失败时放行，避免 Redis 抖动导致全站 401
				ja.log.Warn("token blacklist check failed", zap.Error(err))
			} else if blocked {
				c.JSON(http.StatusUnauthorized, gin.H{
					"error": "token revoked",
				})
				c.Abort()
				return
			}
		}

		// 将用户信息存储到上下文
		c.Set("userID", claims.UserID)
		c.Set("email", claims.Email)
		c.Set("tokenID", claims.ID)
		if claims.ExpiresAt != nil {
			c.Set("tokenExpiresAt", claims.ExpiresAt.Time)
		}

		c.Next()
	}
}

// extractToken 从请求中提取JWT token
func (ja *JWTAuth) extractToken(c *gin.Context) string {
	// 1. 从 Authorization header 提取
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}

	// 2. 从 cookie 提取（WebSocket 握手无法自定义 header）
	token, err := c.Cookie("access_token")
	if err == nil && token != "" {
		return token
	}

	// 3. WebSocket 握手可通过 query 参数携带
	return c.Query("token")
}
