package jwks

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/falconandrea/FileSolvers/pkg/auth"

	"github.com/golang-jwt/jwt/v5"
)

const keyCacheTTL = 5 * time.Minute

// Validator validates RS256 JWTs against keys published at a JWKS endpoint.
type Validator struct {
	cfg    auth.Config
	client *http.Client
	parser *jwt.Parser

	mu        sync.Mutex
	keyCache  map[string]*rsa.PublicKey
	cacheTime time.Time
}

// NewValidator creates a new JWKS validator
func NewValidator(cfg auth.Config) (auth.Validator, error) {
	if cfg.JwksURL == "" {
		return nil, errors.New("jwksUrl is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience is required")
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	if strings.TrimSpace(cfg.SubjectClaim) == "" {
		cfg.SubjectClaim = "sub"
	}

	return &Validator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithLeeway(cfg.ClockSkew),
			jwt.WithExpirationRequired(),
		),
		keyCache: make(map[string]*rsa.PublicKey),
	}, nil
}

// NewValidatorFromJSON builds a validator from provider config. Durations
// accept Go duration strings or seconds.
func NewValidatorFromJSON(raw json.RawMessage) (auth.Validator, error) {
	var in struct {
		JwksURL      string `json:"jwksUrl"`
		Issuer       string `json:"issuer"`
		Audience     string `json:"audience"`
		ClockSkew    any    `json:"clockSkew"`
		HTTPTimeout  any    `json:"httpTimeout"`
		SubjectClaim string `json:"subjectClaim"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("jwks auth: invalid config: %w", err)
	}
	skew, err := parseDuration(in.ClockSkew)
	if err != nil {
		return nil, fmt.Errorf("jwks auth: clockSkew: %w", err)
	}
	timeout, err := parseDuration(in.HTTPTimeout)
	if err != nil {
		return nil, fmt.Errorf("jwks auth: httpTimeout: %w", err)
	}
	return NewValidator(auth.Config{
		JwksURL:      in.JwksURL,
		Issuer:       in.Issuer,
		Audience:     in.Audience,
		ClockSkew:    skew,
		HTTPTimeout:  timeout,
		SubjectClaim: in.SubjectClaim,
	})
}

func parseDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case nil:
		return 0, nil
	case float64:
		// Bare numbers below one million are seconds; larger ones are nanoseconds.
		if d < 1e6 {
			return time.Duration(d * float64(time.Second)), nil
		}
		return time.Duration(d), nil
	case string:
		return time.ParseDuration(d)
	}
	return 0, fmt.Errorf("unsupported duration %v", v)
}

// Validate validates a JWT token
func (v *Validator) Validate(tokenString string) (*auth.Claims, error) {
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("missing kid in token header")
		}
		return v.getPublicKey(kid)
	})
	if err != nil {
		return nil, err
	}

	subject := getStringClaim(claims, v.cfg.SubjectClaim)
	if subject == "" {
		return nil, fmt.Errorf("missing %s claim", v.cfg.SubjectClaim)
	}
	iss, _ := claims.GetIssuer()
	aud, _ := claims.GetAudience()

	result := &auth.Claims{
		Subject:  subject,
		Email:    getStringClaim(claims, "email"),
		Issuer:   iss,
		Audience: aud,
		Raw:      claims,
	}
	if exp, _ := claims.GetExpirationTime(); exp != nil {
		result.ExpiresAt = exp.Time
	}
	if iat, _ := claims.GetIssuedAt(); iat != nil {
		result.IssuedAt = iat.Time
	}

	switch scope := claims["scope"].(type) {
	case string:
		result.Scopes = strings.Fields(scope)
	case []interface{}:
		for _, s := range scope {
			if str, ok := s.(string); ok {
				result.Scopes = append(result.Scopes, str)
			}
		}
	}
	return result, nil
}

func (v *Validator) getPublicKey(kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if key, ok := v.keyCache[kid]; ok && time.Since(v.cacheTime) < keyCacheTTL {
		return key, nil
	}

	resp, err := v.client.Get(v.cfg.JwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}

	fresh := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, key := range jwks.Keys {
		if key.Kty != "RSA" || key.Kid == "" {
			continue
		}
		pubKey, err := parseRSAPublicKey(key.N, key.E)
		if err != nil {
			return nil, fmt.Errorf("failed to parse RSA key %s: %w", key.Kid, err)
		}
		fresh[key.Kid] = pubKey
	}
	v.keyCache = fresh
	v.cacheTime = time.Now()

	if key, ok := fresh[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("key %s not found in JWKS", kid)
}

func parseRSAPublicKey(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode e: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

func getStringClaim(claims jwt.MapClaims, key string) string {
	if s, ok := claims[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func init() {
	auth.RegisterProvider("jwks", NewValidatorFromJSON)
}
