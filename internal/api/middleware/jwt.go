package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"produse/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ActiveChecker 报告用户是否存在且已激活。用户不存在时返回 store.ErrNotFound。
type ActiveChecker interface {
	IsActive(ctx context.Context, id uint) (bool, error)
}

var (
	errMissingToken = errors.New("missing token")
	errInvalidToken = errors.New("invalid token")
)

// VerifyToken 校验 HS256 令牌并返回其中的用户 ID。
//
// 参数:
//
//	secret: 签名密钥
//	tokenStr: 令牌字符串
//
// 返回值:
//
//	uint: 用户 ID
//	error: 令牌缺失、签名错误、过期或 subject 非法时返回错误
func VerifyToken(secret []byte, tokenStr string) (uint, error) {
	if tokenStr == "" {
		return 0, errMissingToken
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return 0, errInvalidToken
	}
	uid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || uid == 0 {
		return 0, errInvalidToken
	}
	return uint(uid), nil
}

// AuthMiddleware 校验登录凭证并将 userID 写入上下文。
//
// 先读取 cookieName 对应的 Cookie，没有时读取 Authorization: Bearer。
// 令牌有效但账户未激活返回 403，账户不存在返回 401。
func AuthMiddleware(jwtSecret, cookieName string, users ActiveChecker, logger *slog.Logger) gin.HandlerFunc {
	secret := []byte(jwtSecret)
	return func(c *gin.Context) {
		tokenStr := ""
		if cookie, err := c.Cookie(cookieName); err == nil {
			tokenStr = strings.TrimSpace(cookie)
		}
		if tokenStr == "" {
			authHeader := c.GetHeader("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				tokenStr = strings.TrimSpace(parts[1])
			}
		}

		uid, err := VerifyToken(secret, tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		active, err := users.IsActive(c.Request.Context(), uid)
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		case err != nil:
			if logger != nil {
				logger.Error("check account status failed", slog.Uint64("user_id", uint64(uid)), slog.String("error", err.Error()))
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "server error"})
			return
		case !active:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account not verified"})
			return
		}

		c.Set("userID", int(uid))
		c.Next()
	}
}
