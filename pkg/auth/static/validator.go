package static

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/falconandrea/FileSolvers/pkg/auth"
)

// tokenConfig binds one bearer token to a fixed identity.
type tokenConfig struct {
	Token   string         `json:"token"`
	Subject string         `json:"subject,omitempty"`
	Email   string         `json:"email,omitempty"`
	Scopes  []string       `json:"scopes,omitempty"`
	Raw     map[string]any `json:"raw,omitempty"`
}

type validatorConfig struct {
	tokenConfig
	Tokens []tokenConfig `json:"tokens,omitempty"`
}

type validator struct {
	tokens []tokenConfig
}

// NewValidatorFromJSON accepts a bare token string, a single token object or
// {"tokens":[...]} for several identities.
func NewValidatorFromJSON(raw json.RawMessage) (auth.Validator, error) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return nil, errors.New("static auth: missing config")
	}

	var cfg validatorConfig
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &cfg.Token); err != nil {
			return nil, fmt.Errorf("static auth: invalid config: %w", err)
		}
	} else if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("static auth: invalid config: %w", err)
	}

	list := cfg.Tokens
	if strings.TrimSpace(cfg.Token) != "" {
		list = append([]tokenConfig{cfg.tokenConfig}, list...)
	}
	if len(list) == 0 {
		return nil, errors.New("static auth: token is required")
	}

	seen := make(map[string]struct{}, len(list))
	for i := range list {
		t := &list[i]
		t.Token = strings.TrimSpace(t.Token)
		if t.Token == "" {
			return nil, fmt.Errorf("static auth: token %d is empty", i)
		}
		if _, dup := seen[t.Token]; dup {
			return nil, fmt.Errorf("static auth: token %d is duplicated", i)
		}
		seen[t.Token] = struct{}{}
		t.Subject = strings.TrimSpace(t.Subject)
		if t.Subject == "" {
			t.Subject = "static"
		}
		if t.Raw == nil {
			t.Raw = map[string]any{}
		}
	}
	return &validator{tokens: list}, nil
}

func (v *validator) Validate(token string) (*auth.Claims, error) {
	token = strings.TrimSpace(token)
	for _, t := range v.tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(t.Token)) == 1 {
			return &auth.Claims{
				Subject: t.Subject,
				Email:   t.Email,
				Scopes:  t.Scopes,
				Raw:     t.Raw,
			}, nil
		}
	}
	return nil, errors.New("invalid token")
}

func init() {
	auth.RegisterProvider("static", NewValidatorFromJSON)
}
