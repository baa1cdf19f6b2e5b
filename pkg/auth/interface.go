package auth

import (
	"strings"
	"time"
)

// AdminScope grants access to account funding and ledger statistics.
const AdminScope = "filesolvers:admin"

// Claims represents authentication token claims
type Claims struct {
	Subject   string
	Email     string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Scopes    []string
	Raw       map[string]interface{}
}

// HasScope checks if the claims contain a specific scope
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the caller holds the admin scope or an ADMIN role claim.
func (c *Claims) IsAdmin() bool {
	if c.HasScope(AdminScope) {
		return true
	}
	if c == nil {
		return false
	}
	role, _ := c.Raw["role"].(string)
	return strings.EqualFold(strings.TrimSpace(role), "admin")
}

// Validator validates authentication tokens
type Validator interface {
	Validate(token string) (*Claims, error)
}

// Config contains JWKS validator configuration
type Config struct {
	JwksURL     string        `json:"jwksUrl"`
	Issuer      string        `json:"issuer"`
	Audience    string        `json:"audience"`
	ClockSkew   time.Duration `json:"clockSkew"`
	HTTPTimeout time.Duration `json:"httpTimeout"`

	// SubjectClaim names the claim used as the caller identity; default "sub".
	SubjectClaim string `json:"subjectClaim,omitempty"`
}
