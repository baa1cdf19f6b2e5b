package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderConfig selects a validator by type; Config is passed to its factory.
type ProviderConfig struct {
	Type   string          `yaml:"type" json:"type"`
	Config json.RawMessage `yaml:"config" json:"config"`
}

// ValidatorFactory creates validators from configuration
type ValidatorFactory func(config json.RawMessage) (Validator, error)

// ErrUnusableSubject is returned for tokens whose subject cannot be a ledger
// address: blank, or inside the "@" namespace of ledger-owned accounts.
var ErrUnusableSubject = errors.New("token subject is not a usable ledger identity")

var (
	registry = make(map[string]ValidatorFactory)
	mu       sync.RWMutex
)

// RegisterProvider makes a validator available under providerType. It panics
// on an empty name or a second registration, like database/sql drivers.
func RegisterProvider(providerType string, factory ValidatorFactory) {
	providerType = strings.ToLower(strings.TrimSpace(providerType))
	if providerType == "" || factory == nil {
		panic("auth: RegisterProvider needs a name and a factory")
	}
	mu.Lock()
	defer mu.Unlock()
	if _, dup := registry[providerType]; dup {
		panic("auth: provider " + providerType + " registered twice")
	}
	registry[providerType] = factory
}

// NewValidator builds the configured validator. Every validator it returns
// rejects subjects that cannot act on the ledger.
func NewValidator(providerConfig ProviderConfig) (Validator, error) {
	name := strings.ToLower(strings.TrimSpace(providerConfig.Type))
	mu.RLock()
	factory, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown auth provider %q (registered: %s)", providerConfig.Type, strings.Join(ListProviders(), ", "))
	}

	v, err := factory(providerConfig.Config)
	if err != nil {
		return nil, fmt.Errorf("auth provider %s: %w", name, err)
	}
	return ledgerIdentity{next: v}, nil
}

// ListProviders returns registered provider types, sorted
func ListProviders() []string {
	mu.RLock()
	defer mu.RUnlock()
	providers := make([]string, 0, len(registry))
	for name := range registry {
		providers = append(providers, name)
	}
	sort.Strings(providers)
	return providers
}

type ledgerIdentity struct{ next Validator }

func (v ledgerIdentity) Validate(token string) (*Claims, error) {
	claims, err := v.next.Validate(token)
	if err != nil {
		return nil, err
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" || strings.HasPrefix(sub, "@") {
		return nil, ErrUnusableSubject
	}
	return claims, nil
}
