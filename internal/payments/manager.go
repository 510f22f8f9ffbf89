package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"
)

const (
	defaultRetryAttempts = 3
	defaultRetryInitial  = 200 * time.Millisecond
	defaultRetryMax      = 2 * time.Second
)

// PaymentContext carries the hints used to pick a provider for one call.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

// Manager routes checkout session calls to a registered Provider. Resolution order is the
// preferred provider, then the currency route, then the default, then the sole provider.
// Gateway failures are retried with exponential backoff: creates carry an idempotency key and
// retrieves are reads, so both are safe to repeat.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string

	attempts int
	backoff  gax.Backoff
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider sets the provider used when no hint matches.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = providerKey(provider)
	}
}

// WithCurrencyRoutes maps ISO currency codes to provider names.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for currency, provider := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(currency))] = providerKey(provider)
		}
	}
}

// WithRetry overrides how often a gateway failure is attempted in total. One disables retries.
func WithRetry(attempts int, backoff gax.Backoff) ManagerOption {
	return func(m *Manager) {
		if attempts > 0 {
			m.attempts = attempts
		}
		m.backoff = backoff
	}
}

// NewManager registers providers by lower-cased name. A "stripe" entry becomes the default.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	m := &Manager{
		providers:      make(map[string]Provider, len(providers)),
		currencyRoutes: map[string]string{},
		attempts:       defaultRetryAttempts,
		backoff: gax.Backoff{
			Initial:    defaultRetryInitial,
			Max:        defaultRetryMax,
			Multiplier: 2,
		},
	}
	for name, provider := range providers {
		key := providerKey(name)
		if key == "" || provider == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", name)
		}
		m.providers[key] = provider
	}
	if _, ok := m.providers["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// CreateCheckoutSession opens a hosted session with the resolved provider.
func (m *Manager) CreateCheckoutSession(ctx context.Context, pc PaymentContext, req CheckoutSessionRequest) (CheckoutSession, error) {
	name, provider, err := m.resolve(pc)
	if err != nil {
		return CheckoutSession{}, err
	}
	var session CheckoutSession
	err = m.withRetry(ctx, func() error {
		session, err = provider.CreateCheckoutSession(ctx, req)
		return err
	})
	if err != nil {
		return CheckoutSession{}, err
	}
	session.Provider = name
	return session, nil
}

// RetrieveCheckoutSession reads a session back from the resolved provider.
func (m *Manager) RetrieveCheckoutSession(ctx context.Context, pc PaymentContext, sessionID string) (CheckoutSessionDetails, error) {
	name, provider, err := m.resolve(pc)
	if err != nil {
		return CheckoutSessionDetails{}, err
	}
	var details CheckoutSessionDetails
	err = m.withRetry(ctx, func() error {
		details, err = provider.RetrieveCheckoutSession(ctx, sessionID)
		return err
	})
	if err != nil {
		return CheckoutSessionDetails{}, err
	}
	details.Provider = name
	return details, nil
}

func (m *Manager) resolve(pc PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	candidates := []string{
		providerKey(pc.PreferredProvider),
		m.currencyRoutes[strings.ToUpper(strings.TrimSpace(pc.Currency))],
		m.defaultProvider,
	}
	for _, name := range candidates {
		if provider, ok := m.providers[name]; ok && name != "" {
			return name, provider, nil
		}
	}
	if len(m.providers) == 1 {
		for name, provider := range m.providers {
			return name, provider, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// withRetry repeats call while it fails with ErrGateway. A missing session is final.
func (m *Manager) withRetry(ctx context.Context, call func() error) error {
	backoff := m.backoff
	var err error
	for attempt := 1; ; attempt++ {
		err = call()
		if err == nil || !errors.Is(err, ErrGateway) || errors.Is(err, ErrSessionNotFound) || attempt >= m.attempts {
			return err
		}
		if sleepErr := gax.Sleep(ctx, backoff.Pause()); sleepErr != nil {
			return err
		}
	}
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
