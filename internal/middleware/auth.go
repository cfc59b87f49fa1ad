package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/identity"
)

const UserIDKey = "userID"

type AuthMiddleware struct {
	verifier identity.Verifier
}

func NewAuthMiddleware(verifier identity.Verifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// Middleware authenticates the request via the identity collaborator and
// stores the verified user id in the gin context. Any verification failure
// aborts with 401: identity checks fail closed.
func (m *AuthMiddleware) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		accessToken := extractTokenFromHeader(c.GetHeader("Authorization"))
		if accessToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "Unauthenticated", "error": "missing access token"})
			return
		}

		userID, err := m.verifier.Verify(c.Request.Context(), accessToken)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "Unauthenticated", "error": "invalid or expired token"})
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

func extractTokenFromHeader(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
