package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tiendaplus/api/internal/payments"
	"github.com/tiendaplus/api/internal/platform/config"
	"github.com/tiendaplus/api/internal/repositories"
	"github.com/tiendaplus/api/internal/services"
)

// Readiness probes arrive every few seconds from both the load balancer and Cloud Run.
const healthReportTTL = 2 * time.Second

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Checkout services.CheckoutService
	Orders   services.OrderService
	System   services.SystemService
	Audit    services.AuditLogService
}

// PaymentGateway is the processor surface the checkout service needs. *payments.Manager satisfies it.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	RetrieveCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, sessionID string) (payments.CheckoutSessionDetails, error)
}

// Metrics receives business counters from both order services. *metrics.Metrics satisfies it.
type Metrics interface {
	services.CheckoutMetrics
	services.OrderMetrics
}

// Infrastructure carries the collaborators that live outside the repository registry.
type Infrastructure struct {
	Gateway PaymentGateway
	Events  services.OrderEventPublisher
	Metrics Metrics
	Build   services.BuildInfo
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides the Postgres
// registry, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services
	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}

	if auditRepo := reg.AuditLogs(); auditRepo != nil {
		auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
			Repository: auditRepo,
			Clock:      clock,
			Logger:     infra.Logger,
			HashSalt:   cfg.Security.AuditSalt,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build audit log service: %w", err)
		}
		svc.Audit = auditSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		build := infra.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            build,
			CacheTTL:         healthReportTTL,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	var (
		checkoutMetrics services.CheckoutMetrics
		orderMetrics    services.OrderMetrics
	)
	if infra.Metrics != nil {
		checkoutMetrics = infra.Metrics
		orderMetrics = infra.Metrics
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Payments:   reg.Payments(),
		Shipments:  reg.Shipments(),
		Customers:  reg.Customers(),
		UnitOfWork: reg,
		Audit:      svc.Audit,
		Events:     infra.Events,
		Metrics:    orderMetrics,
		Clock:      clock,
		Logger:     infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if infra.Gateway != nil {
		loyaltyRate := cfg.Checkout.LoyaltyRate
		checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
			Stores:               reg.Stores(),
			Customers:            reg.Customers(),
			StoreCustomers:       reg.StoreCustomers(),
			Products:             reg.Products(),
			Carts:                reg.Carts(),
			Orders:               reg.Orders(),
			Payments:             reg.Payments(),
			Shipments:            reg.Shipments(),
			UnitOfWork:           reg,
			Gateway:              infra.Gateway,
			Audit:                svc.Audit,
			Events:               infra.Events,
			Metrics:              checkoutMetrics,
			Clock:                clock,
			Logger:               infra.Logger,
			FrontendURL:          cfg.Checkout.FrontendURL,
			Currency:             cfg.Checkout.Currency,
			Locale:               cfg.Checkout.Locale,
			LoyaltyRate:          &loyaltyRate,
			AllowedRedirectHosts: cfg.Checkout.AllowedRedirectHost,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc
	}

	return svc, nil
}
