package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/falconandrea/FileSolvers/pkg/auth"
	"github.com/falconandrea/FileSolvers/pkg/domain"

	"github.com/gin-gonic/gin"
)

const (
	claimsKey = "claims"
	callerKey = "caller"
)

// AuthMiddleware validates the bearer token and stores the caller identity.
// The token subject becomes the ledger address.
func AuthMiddleware(validator auth.Validator) gin.HandlerFunc {
	if validator == nil {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "identity validator not configured"})
		}
	}
	return func(c *gin.Context) {
		claims, err := validateBearer(validator, c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		caller := domain.NewAddress(claims.Subject)
		if caller.IsZero() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token subject is not a valid identity"})
			return
		}
		c.Set(claimsKey, claims)
		c.Set(callerKey, caller)
		c.Set(loggerKey, LoggerFrom(c).With("caller", string(caller)))
		c.Next()
	}
}

func validateBearer(validator auth.Validator, authHeader string) (*auth.Claims, error) {
	if strings.TrimSpace(authHeader) == "" {
		return nil, errors.New("missing Authorization header")
	}
	token := bearerToken(authHeader)
	if token == "" {
		return nil, errors.New("invalid Authorization format")
	}
	return validator.Validate(token)
}

// Caller returns the authenticated address, or "" outside AuthMiddleware.
func Caller(c *gin.Context) domain.Address {
	v, _ := c.Get(callerKey)
	addr, _ := v.(domain.Address)
	return addr
}

func Claims(c *gin.Context) *auth.Claims {
	v, _ := c.Get(claimsKey)
	claims, _ := v.(*auth.Claims)
	return claims
}
