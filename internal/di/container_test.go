package di

import (
	"context"
	"testing"

	domain "github.com/tiendaplus/api/internal/domain"
	"github.com/tiendaplus/api/internal/payments"
	"github.com/tiendaplus/api/internal/platform/config"
	"github.com/tiendaplus/api/internal/repositories"
)

type stubRegistry struct {
	audit  repositories.AuditLogRepository
	health repositories.HealthRepository
	closed bool
}

type (
	stubStores         struct{ repositories.StoreRepository }
	stubCustomers      struct{ repositories.CustomerRepository }
	stubStoreCustomers struct{ repositories.StoreCustomerRepository }
	stubProducts       struct{ repositories.ProductRepository }
	stubCarts          struct{ repositories.CartRepository }
	stubOrders         struct{ repositories.OrderRepository }
	stubPayments       struct{ repositories.PaymentRepository }
	stubShipments      struct{ repositories.ShipmentRepository }
	stubAuditLogs      struct{ repositories.AuditLogRepository }
)

type stubHealth struct{}

func (stubHealth) Collect(context.Context) (domain.SystemHealthReport, error) {
	return domain.SystemHealthReport{Status: "ok"}, nil
}

func (r *stubRegistry) Close(context.Context) error {
	r.closed = true
	return nil
}

func (r *stubRegistry) Stores() repositories.StoreRepository { return stubStores{} }
func (r *stubRegistry) Customers() repositories.CustomerRepository {
	return stubCustomers{}
}
func (r *stubRegistry) StoreCustomers() repositories.StoreCustomerRepository {
	return stubStoreCustomers{}
}
func (r *stubRegistry) Products() repositories.ProductRepository   { return stubProducts{} }
func (r *stubRegistry) Carts() repositories.CartRepository         { return stubCarts{} }
func (r *stubRegistry) Orders() repositories.OrderRepository       { return stubOrders{} }
func (r *stubRegistry) Payments() repositories.PaymentRepository   { return stubPayments{} }
func (r *stubRegistry) Shipments() repositories.ShipmentRepository { return stubShipments{} }
func (r *stubRegistry) AuditLogs() repositories.AuditLogRepository { return r.audit }
func (r *stubRegistry) Health() repositories.HealthRepository      { return r.health }

func (r *stubRegistry) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type stubGateway struct{}

func (stubGateway) CreateCheckoutSession(context.Context, payments.PaymentContext, payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	return payments.CheckoutSession{}, nil
}

func (stubGateway) RetrieveCheckoutSession(context.Context, payments.PaymentContext, string) (payments.CheckoutSessionDetails, error) {
	return payments.CheckoutSessionDetails{}, nil
}

func testConfig() config.Config {
	return config.Config{
		Checkout: config.CheckoutConfig{
			FrontendURL: "https://shop.example.com",
			Currency:    "usd",
		},
		Security: config.SecurityConfig{Environment: "test"},
	}
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	if _, err := NewContainer(context.Background(), testConfig(), nil, Infrastructure{}); err == nil {
		t.Fatalf("expected error for nil registry")
	}
}

func TestNewContainerBuildsServices(t *testing.T) {
	reg := &stubRegistry{audit: stubAuditLogs{}, health: stubHealth{}}
	container, err := NewContainer(context.Background(), testConfig(), reg, Infrastructure{Gateway: stubGateway{}})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if container.Services.Checkout == nil || container.Services.Orders == nil {
		t.Fatalf("expected order services, got %#v", container.Services)
	}
	if container.Services.System == nil || container.Services.Audit == nil {
		t.Fatalf("expected system and audit services, got %#v", container.Services)
	}

	if err := container.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !reg.closed {
		t.Fatalf("expected registry to be closed")
	}
}

func TestNewContainerWithoutGatewaySkipsCheckout(t *testing.T) {
	container, err := NewContainer(context.Background(), testConfig(), &stubRegistry{}, Infrastructure{})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if container.Services.Checkout != nil {
		t.Fatalf("expected checkout service to be absent without a gateway")
	}
	if container.Services.Orders == nil {
		t.Fatalf("expected order service")
	}
	if container.Services.System != nil || container.Services.Audit != nil {
		t.Fatalf("expected optional services to be absent")
	}
}

func TestNewContainerRejectsInvalidFrontend(t *testing.T) {
	cfg := testConfig()
	cfg.Checkout.FrontendURL = "not a url"
	if _, err := NewContainer(context.Background(), cfg, &stubRegistry{}, Infrastructure{Gateway: stubGateway{}}); err == nil {
		t.Fatalf("expected checkout wiring error")
	}
}
