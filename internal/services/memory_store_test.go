package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tiendaplus/api/internal/domain"
	"github.com/tiendaplus/api/internal/payments"
	"github.com/tiendaplus/api/internal/repositories"
)

type memRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *memRepoError) Error() string       { return e.msg }
func (e *memRepoError) IsNotFound() bool    { return e.notFound }
func (e *memRepoError) IsConflict() bool    { return e.conflict }
func (e *memRepoError) IsUnavailable() bool { return e.unavailable }

func notFound(what string) error { return &memRepoError{msg: what + " not found", notFound: true} }
func conflict(what string) error { return &memRepoError{msg: what + " conflict", conflict: true} }

type memoryData struct {
	stores    map[string]domain.Store
	customers map[string]domain.Customer
	links     map[string]domain.StoreCustomer
	products  map[string]domain.Product
	carts     map[string]domain.Cart
	orders    map[string]domain.Order
	payments  map[string]domain.Payment
	shipments map[string]domain.Shipment
}

func (d memoryData) clone() memoryData {
	return memoryData{
		stores:    maps.Clone(d.stores),
		customers: maps.Clone(d.customers),
		links:     maps.Clone(d.links),
		products:  maps.Clone(d.products),
		carts:     maps.Clone(d.carts),
		orders:    maps.Clone(d.orders),
		payments:  maps.Clone(d.payments),
		shipments: maps.Clone(d.shipments),
	}
}

// memoryStore is an in-memory implementation of every repository used by the services.
// Transactions are serialized and rolled back by restoring a snapshot.
type memoryStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data memoryData

	lastStoreFilter repositories.OrderListFilter
	failUpdateStock error
	inTx            bool
	// beforeTx runs ahead of each transaction, standing in for a writer that commits first.
	beforeTx func()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: memoryData{
		stores:    map[string]domain.Store{},
		customers: map[string]domain.Customer{},
		links:     map[string]domain.StoreCustomer{},
		products:  map[string]domain.Product{},
		carts:     map[string]domain.Cart{},
		orders:    map[string]domain.Order{},
		payments:  map[string]domain.Payment{},
		shipments: map[string]domain.Shipment{},
	}}
}

func (m *memoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.beforeTx != nil {
		m.beforeTx()
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.data.clone()
	m.inTx = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inTx = false
		m.mu.Unlock()
	}()

	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.data = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memoryStore) putStore(store domain.Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.stores[store.ID] = store
}

func (m *memoryStore) putProduct(product domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.products[product.ID] = product
}

func (m *memoryStore) putCustomer(customer domain.Customer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.customers[customer.ID] = customer
}

func (m *memoryStore) product(id string) domain.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.products[id]
}

func (m *memoryStore) customer(id string) domain.Customer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.customers[id]
}

func (m *memoryStore) counts() (orders, payments, shipments, carts, links int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data.orders), len(m.data.payments), len(m.data.shipments), len(m.data.carts), len(m.data.links)
}

func (m *memoryStore) Stores() repositories.StoreRepository                 { return memStores{m} }
func (m *memoryStore) Customers() repositories.CustomerRepository           { return memCustomers{m} }
func (m *memoryStore) StoreCustomers() repositories.StoreCustomerRepository { return memLinks{m} }
func (m *memoryStore) Products() repositories.ProductRepository             { return memProducts{m} }
func (m *memoryStore) Carts() repositories.CartRepository                   { return memCarts{m} }
func (m *memoryStore) Orders() repositories.OrderRepository                 { return memOrders{m} }
func (m *memoryStore) Payments() repositories.PaymentRepository             { return memPayments{m} }
func (m *memoryStore) Shipments() repositories.ShipmentRepository           { return memShipments{m} }

type memStores struct{ m *memoryStore }

func (r memStores) FindByID(_ context.Context, id string) (domain.Store, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	store, ok := r.m.data.stores[id]
	if !ok {
		return domain.Store{}, notFound("store")
	}
	return store, nil
}

type memCustomers struct{ m *memoryStore }

func (r memCustomers) FindByID(_ context.Context, id string) (domain.Customer, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	customer, ok := r.m.data.customers[id]
	if !ok {
		return domain.Customer{}, notFound("customer")
	}
	return customer, nil
}

func (r memCustomers) FindByUID(_ context.Context, uid string) (domain.Customer, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, customer := range r.m.data.customers {
		if customer.UID == uid {
			return customer, nil
		}
	}
	return domain.Customer{}, notFound("customer")
}

func (r memCustomers) Insert(_ context.Context, customer domain.Customer) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.data.customers {
		if existing.UID == customer.UID {
			return conflict("customer uid")
		}
	}
	r.m.data.customers[customer.ID] = customer
	return nil
}

func (r memCustomers) AddLoyaltyPoints(_ context.Context, id string, points decimal.Decimal, updatedAt time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	customer, ok := r.m.data.customers[id]
	if !ok {
		return notFound("customer")
	}
	customer.LoyaltyPoints = customer.LoyaltyPoints.Add(points)
	customer.UpdatedAt = updatedAt
	r.m.data.customers[id] = customer
	return nil
}

type memLinks struct{ m *memoryStore }

func (r memLinks) Ensure(_ context.Context, link domain.StoreCustomer) (domain.StoreCustomer, bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := link.StoreID + "|" + link.CustomerID
	if existing, ok := r.m.data.links[key]; ok {
		return existing, false, nil
	}
	r.m.data.links[key] = link
	return link, true, nil
}

type memProducts struct{ m *memoryStore }

func (r memProducts) FindActive(_ context.Context, storeID string, ids []string) ([]domain.Product, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var products []domain.Product
	for _, id := range ids {
		if product, ok := r.m.data.products[id]; ok && product.StoreID == storeID && product.Active {
			products = append(products, product)
		}
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (r memProducts) LockActive(ctx context.Context, storeID string, ids []string) ([]domain.Product, error) {
	return r.FindActive(ctx, storeID, ids)
}

func (r memProducts) UpdateStock(_ context.Context, levels map[string]int, updatedAt time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failUpdateStock != nil {
		return r.m.failUpdateStock
	}
	for id, stock := range levels {
		if stock < 0 {
			return conflict("products_stock_check")
		}
		product, ok := r.m.data.products[id]
		if !ok {
			return notFound("product")
		}
		product.Stock = stock
		product.UpdatedAt = updatedAt
		r.m.data.products[id] = product
	}
	return nil
}

type memCarts struct{ m *memoryStore }

func (r memCarts) Insert(_ context.Context, cart domain.Cart) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.data.carts[cart.ID] = cart
	return nil
}

type memOrders struct{ m *memoryStore }

func (r memOrders) Insert(_ context.Context, order domain.Order) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	order.Payment, order.Shipment, order.Customer = nil, nil, nil
	r.m.data.orders[order.ID] = order
	return nil
}

func (r memOrders) FindByID(_ context.Context, storeID, orderID string) (domain.Order, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	order, ok := r.m.data.orders[orderID]
	if !ok || (storeID != "" && order.StoreID != storeID) {
		return domain.Order{}, notFound("order")
	}
	return r.m.assemble(order), nil
}

func (r memOrders) LockByID(ctx context.Context, storeID, orderID string) (domain.Order, error) {
	r.m.mu.Lock()
	inTx := r.m.inTx
	r.m.mu.Unlock()
	if !inTx {
		return domain.Order{}, errors.New("memory: row locks require a transaction")
	}
	return r.FindByID(ctx, storeID, orderID)
}

func (r memOrders) ListByCustomer(_ context.Context, customerID string, _ domain.Pagination) (domain.CursorPage[domain.Order], error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	page := domain.CursorPage[domain.Order]{Items: []domain.Order{}}
	for _, order := range r.m.data.orders {
		if order.CustomerID == customerID {
			page.Items = append(page.Items, r.m.assemble(order))
		}
	}
	sort.Slice(page.Items, func(i, j int) bool { return page.Items[i].CreatedAt.After(page.Items[j].CreatedAt) })
	return page, nil
}

func (r memOrders) ListByStore(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.lastStoreFilter = filter
	page := domain.CursorPage[domain.Order]{Items: []domain.Order{}}
	for _, order := range r.m.data.orders {
		if order.StoreID == filter.StoreID {
			page.Items = append(page.Items, r.m.assemble(order))
		}
	}
	return page, nil
}

func (r memOrders) UpdateStatus(_ context.Context, orderID string, status domain.OrderStatus, updatedAt time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	order, ok := r.m.data.orders[orderID]
	if !ok {
		return notFound("order")
	}
	order.Status = status
	order.UpdatedAt = updatedAt
	r.m.data.orders[orderID] = order
	return nil
}

// assemble mirrors the preloads of the relational repository. Callers hold mu.
func (m *memoryStore) assemble(order domain.Order) domain.Order {
	for _, payment := range m.data.payments {
		if payment.OrderID == order.ID {
			p := payment
			order.Payment = &p
		}
	}
	for _, shipment := range m.data.shipments {
		if shipment.OrderID == order.ID {
			s := shipment
			order.Shipment = &s
		}
	}
	if customer, ok := m.data.customers[order.CustomerID]; ok {
		order.Customer = &customer
	}
	return order
}

type memPayments struct{ m *memoryStore }

func (r memPayments) Insert(_ context.Context, payment domain.Payment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.data.payments {
		if existing.IntentID == payment.IntentID {
			return conflict("payments_intent_id_key")
		}
	}
	r.m.data.payments[payment.ID] = payment
	return nil
}

func (r memPayments) FindByIntentID(_ context.Context, intentID string) (domain.Payment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, payment := range r.m.data.payments {
		if payment.IntentID == intentID {
			return payment, nil
		}
	}
	return domain.Payment{}, notFound("payment")
}

func (r memPayments) FindByOrderID(_ context.Context, orderID string) (domain.Payment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, payment := range r.m.data.payments {
		if payment.OrderID == orderID {
			return payment, nil
		}
	}
	return domain.Payment{}, notFound("payment")
}

func (r memPayments) UpdateStatus(_ context.Context, id string, status domain.PaymentStatus, updatedAt time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	payment, ok := r.m.data.payments[id]
	if !ok {
		return notFound("payment")
	}
	payment.Status = status
	payment.UpdatedAt = updatedAt
	r.m.data.payments[id] = payment
	return nil
}

type memShipments struct{ m *memoryStore }

func (r memShipments) Insert(_ context.Context, shipment domain.Shipment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.data.shipments {
		if existing.OrderID == shipment.OrderID {
			return conflict("shipments_order_id_key")
		}
	}
	r.m.data.shipments[shipment.ID] = shipment
	return nil
}

func (r memShipments) FindByOrderID(_ context.Context, orderID string) (domain.Shipment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, shipment := range r.m.data.shipments {
		if shipment.OrderID == orderID {
			return shipment, nil
		}
	}
	return domain.Shipment{}, notFound("shipment")
}

func (r memShipments) UpdateStatus(_ context.Context, id string, status domain.ShipmentStatus, updatedAt time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	shipment, ok := r.m.data.shipments[id]
	if !ok {
		return notFound("shipment")
	}
	shipment.Status = status
	shipment.UpdatedAt = updatedAt
	r.m.data.shipments[id] = shipment
	return nil
}

type stubGateway struct {
	mu          sync.Mutex
	createFn    func(req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	sessions    map[string]payments.CheckoutSessionDetails
	retrieveErr error
	requests    []payments.CheckoutSessionRequest
}

func (g *stubGateway) CreateCheckoutSession(_ context.Context, _ payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	n := len(g.requests)
	g.mu.Unlock()
	if g.createFn != nil {
		return g.createFn(req)
	}
	id := fmt.Sprintf("cs_test_%d", n)
	return payments.CheckoutSession{ID: id, Provider: "stripe", RedirectURL: "https://checkout.stripe.test/" + id}, nil
}

func (g *stubGateway) RetrieveCheckoutSession(_ context.Context, _ payments.PaymentContext, id string) (payments.CheckoutSessionDetails, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.retrieveErr != nil {
		return payments.CheckoutSessionDetails{}, g.retrieveErr
	}
	details, ok := g.sessions[id]
	if !ok {
		return payments.CheckoutSessionDetails{}, payments.ErrSessionNotFound
	}
	return details, nil
}

// completeSession turns the last created session request into a paid session.
func (g *stubGateway) completeSession(id, intentID string, amountMinor int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req := g.requests[len(g.requests)-1]
	g.putSessionLocked(id, intentID, req.Metadata, amountMinor)
}

func (g *stubGateway) putSession(id, intentID string, metadata map[string]string, amountMinor int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.putSessionLocked(id, intentID, metadata, amountMinor)
}

func (g *stubGateway) putSessionLocked(id, intentID string, metadata map[string]string, amountMinor int64) {
	if g.sessions == nil {
		g.sessions = map[string]payments.CheckoutSessionDetails{}
	}
	g.sessions[id] = payments.CheckoutSessionDetails{
		ID:              id,
		Provider:        "stripe",
		Status:          payments.SessionStatusComplete,
		PaymentStatus:   "paid",
		Metadata:        metadata,
		AmountTotal:     amountMinor,
		Currency:        "BOB",
		PaymentIntentID: intentID,
	}
}

type recordingAudit struct {
	mu      sync.Mutex
	records []AuditLogRecord
}

func (a *recordingAudit) Record(_ context.Context, record AuditLogRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, record)
}

func (a *recordingAudit) List(context.Context, AuditLogFilter) (domain.CursorPage[AuditLogEntry], error) {
	return domain.CursorPage[AuditLogEntry]{}, nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (e *recordingEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return e.err
}

type recordingMetrics struct {
	mu            sync.Mutex
	outcomes      map[string]int
	discrepancies int
	fields        map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{outcomes: map[string]int{}, fields: map[string]int{}}
}

func (r *recordingMetrics) ObserveConfirmation(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcome]++
}

func (r *recordingMetrics) ObserveDiscrepancy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discrepancies++
}

func (r *recordingMetrics) ObserveStatusChange(field string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fields[field]++
}

type captureLogger struct {
	mu     sync.Mutex
	events []string
}

func (l *captureLogger) log(_ context.Context, event string, _ map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *captureLogger) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}

func sequenceIDs() func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%04d", n)
	}
}
