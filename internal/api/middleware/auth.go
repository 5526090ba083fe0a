package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	jwtutil "github.com/skybattle/matchmaking-service/pkg/jwt"
)

// ContextPlayerID 인증된 플레이어 ID를 담는 gin context 키
const ContextPlayerID = "playerId"

// TokenVerifier access token 검증
type TokenVerifier interface {
	Verify(token string) (*jwtutil.Claims, error)
}

// Auth JWT 인증 미들웨어.
// Authorization: Bearer 헤더를 우선 사용하고, 브라우저 WebSocket처럼 헤더를 못 붙이는 경우 token 쿼리를 허용한다.
func Auth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := extractToken(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHORIZED",
				"message": err.Error(),
			})
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHORIZED",
				"message": "Invalid or expired token",
			})
			return
		}

		c.Set(ContextPlayerID, claims.Identity())
		c.Next()
	}
}

func extractToken(c *gin.Context) (string, error) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		// "Bearer <token>" 형식
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", errors.New("invalid authorization header format")
		}
		return parts[1], nil
	}

	if token := c.Query("token"); token != "" {
		return token, nil
	}

	return "", errors.New("authorization header required")
}

// PlayerID Auth가 설정한 플레이어 ID
func PlayerID(c *gin.Context) (string, bool) {
	playerID := c.GetString(ContextPlayerID)
	return playerID, playerID != ""
}
