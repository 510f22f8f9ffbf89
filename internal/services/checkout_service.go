package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	domain "github.com/tiendaplus/api/internal/domain"
	"github.com/tiendaplus/api/internal/payments"
	"github.com/tiendaplus/api/internal/repositories"
)

const (
	customerIDPrefix      = "cus_"
	storeCustomerIDPrefix = "stc_"
	cartIDPrefix          = "crt_"
	cartLineIDPrefix      = "crl_"
	orderIDPrefix         = "ord_"
	orderLineIDPrefix     = "orl_"
	paymentIDPrefix       = "pay_"
	shipmentIDPrefix      = "shp_"
	eventIDPrefix         = "evt_"

	defaultCheckoutCurrency = "BOB"
	maxAddressLength        = 300
	shippingLineName        = "Shipping"
	sessionIDPlaceholder    = "{CHECKOUT_SESSION_ID}"
)

// Confirmation outcomes reported to CheckoutMetrics.
const (
	ConfirmOutcomeCreated           = "created"
	ConfirmOutcomeReplayed          = "replayed"
	ConfirmOutcomeDiscrepancy       = "discrepancy"
	ConfirmOutcomeInsufficientStock = "insufficient_stock"
	ConfirmOutcomeIncomplete        = "incomplete"
	ConfirmOutcomeFailed            = "failed"
)

var (
	defaultLoyaltyRate = decimal.RequireFromString("0.0005")

	// Stable namespace so a client Idempotency-Key maps to the same processor key on retries.
	checkoutIdempotencyNamespace = uuid.MustParse("6f1c7a52-3d0e-4c8b-9a57-1e2f4b6d8c90")

	errPaymentAlreadyRecorded = errors.New("checkout: payment already recorded")
)

// checkoutSessionGateway abstracts payments.Manager for easier testing.
type checkoutSessionGateway interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	RetrieveCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, sessionID string) (payments.CheckoutSessionDetails, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Stores         repositories.StoreRepository
	Customers      repositories.CustomerRepository
	StoreCustomers repositories.StoreCustomerRepository
	Products       repositories.ProductRepository
	Carts          repositories.CartRepository
	Orders         repositories.OrderRepository
	Payments       repositories.PaymentRepository
	Shipments      repositories.ShipmentRepository
	UnitOfWork     repositories.UnitOfWork
	Gateway        checkoutSessionGateway
	Audit          AuditLogService
	Events         OrderEventPublisher
	Metrics        CheckoutMetrics
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         func(ctx context.Context, event string, fields map[string]any)

	FrontendURL          string
	Currency             string
	Locale               string
	// LoyaltyRate is the points earned per unit of order total. Nil uses the default rate; zero
	// disables accrual.
	LoyaltyRate          *decimal.Decimal
	AllowedRedirectHosts []string
}

type checkoutService struct {
	stores         repositories.StoreRepository
	customers      repositories.CustomerRepository
	storeCustomers repositories.StoreCustomerRepository
	products       repositories.ProductRepository
	carts          repositories.CartRepository
	orders         repositories.OrderRepository
	payments       repositories.PaymentRepository
	shipments      repositories.ShipmentRepository
	unitOfWork     repositories.UnitOfWork
	gateway        checkoutSessionGateway
	audit          AuditLogService
	events         OrderEventPublisher
	metrics        CheckoutMetrics
	now            func() time.Time
	newID          func() string
	logger         func(context.Context, string, map[string]any)
	sanitizer      *bluemonday.Policy

	frontendURL  string
	currency     string
	locale       string
	loyaltyRate  decimal.Decimal
	allowedHosts map[string]struct{}
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.Stores == nil:
		return nil, errors.New("checkout service: store repository is required")
	case deps.Customers == nil:
		return nil, errors.New("checkout service: customer repository is required")
	case deps.StoreCustomers == nil:
		return nil, errors.New("checkout service: store customer repository is required")
	case deps.Products == nil:
		return nil, errors.New("checkout service: product repository is required")
	case deps.Carts == nil:
		return nil, errors.New("checkout service: cart repository is required")
	case deps.Orders == nil:
		return nil, errors.New("checkout service: order repository is required")
	case deps.Payments == nil:
		return nil, errors.New("checkout service: payment repository is required")
	case deps.Shipments == nil:
		return nil, errors.New("checkout service: shipment repository is required")
	case deps.UnitOfWork == nil:
		return nil, errors.New("checkout service: unit of work is required")
	case deps.Gateway == nil:
		return nil, errors.New("checkout service: payment gateway is required")
	}

	frontendURL := strings.TrimRight(strings.TrimSpace(deps.FrontendURL), "/")
	frontend, err := url.Parse(frontendURL)
	if frontendURL == "" || err != nil || frontend.Host == "" {
		return nil, fmt.Errorf("checkout service: frontend url %q is invalid", deps.FrontendURL)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCheckoutCurrency
	}
	rate := defaultLoyaltyRate
	if deps.LoyaltyRate != nil {
		if deps.LoyaltyRate.IsNegative() {
			return nil, errors.New("checkout service: loyalty rate must not be negative")
		}
		rate = *deps.LoyaltyRate
	}

	allowed := map[string]struct{}{strings.ToLower(frontend.Hostname()): {}}
	for _, host := range deps.AllowedRedirectHosts {
		if host = strings.ToLower(strings.TrimSpace(host)); host != "" {
			allowed[host] = struct{}{}
		}
	}

	return &checkoutService{
		stores:         deps.Stores,
		customers:      deps.Customers,
		storeCustomers: deps.StoreCustomers,
		products:       deps.Products,
		carts:          deps.Carts,
		orders:         deps.Orders,
		payments:       deps.Payments,
		shipments:      deps.Shipments,
		unitOfWork:     deps.UnitOfWork,
		gateway:        deps.Gateway,
		audit:          deps.Audit,
		events:         deps.Events,
		metrics:        deps.Metrics,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:        idGen,
		logger:       logger,
		sanitizer:    bluemonday.StrictPolicy(),
		frontendURL:  frontendURL,
		currency:     currency,
		locale:       strings.TrimSpace(deps.Locale),
		loyaltyRate:  rate,
		allowedHosts: allowed,
	}, nil
}

// CreateCheckoutSession prices the cart against the live catalog and opens a hosted processor session.
func (s *checkoutService) CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSessionResult, error) {
	uid := strings.TrimSpace(cmd.CustomerUID)
	if uid == "" {
		return CheckoutSessionResult{}, &FieldError{Field: "customer", Reason: "authentication is required", Err: ErrCheckoutInvalidInput}
	}
	storeID := strings.TrimSpace(cmd.StoreID)
	if storeID == "" {
		return CheckoutSessionResult{}, &FieldError{Field: "store_id", Reason: "is required", Err: ErrCheckoutInvalidInput}
	}
	address, err := s.sanitizeAddress(cmd.Address)
	if err != nil {
		return CheckoutSessionResult{}, err
	}
	items, err := NormalizeCheckoutItems(cmd.Items)
	if err != nil {
		return CheckoutSessionResult{}, err
	}

	store, err := s.stores.FindByID(ctx, storeID)
	if err != nil {
		return CheckoutSessionResult{}, translateCheckoutError(err, "store")
	}
	if !store.Active {
		return CheckoutSessionResult{}, fmt.Errorf("%w: store", ErrCheckoutNotFound)
	}
	successURL, cancelURL, err := s.redirectURLs(store, cmd.SuccessURL, cmd.CancelURL)
	if err != nil {
		return CheckoutSessionResult{}, err
	}

	customer, err := s.resolveCustomer(ctx, uid, cmd.CustomerEmail, cmd.CustomerName)
	if err != nil {
		return CheckoutSessionResult{}, err
	}

	currency := s.storeCurrency(store)
	breakdown, err := PriceCart(ctx, s.products.FindActive, store.ID, currency, items, PricingModeQuote)
	if err != nil {
		return CheckoutSessionResult{}, translateCheckoutError(err, "product")
	}

	metadata, err := domain.CheckoutMetadata{
		Version:     domain.CheckoutMetadataVersion,
		CustomerID:  customer.ID,
		StoreID:     store.ID,
		Address:     address,
		Items:       items,
		QuotedTotal: breakdown.Total,
	}.Encode()
	if err != nil {
		return CheckoutSessionResult{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, payments.PaymentContext{Currency: currency}, payments.CheckoutSessionRequest{
		Currency:       currency,
		CustomerEmail:  firstNonEmpty(strings.TrimSpace(cmd.CustomerEmail), customer.Email),
		SuccessURL:     successURL,
		CancelURL:      cancelURL,
		Locale:         s.resolveLocale(cmd.Locale),
		Metadata:       metadata,
		IdempotencyKey: s.sessionIdempotencyKey(customer.ID, cmd.IdempotencyKey),
		Items:          checkoutLineItems(breakdown),
	})
	if err != nil {
		s.logger(ctx, "checkout.session.gateway_failed", map[string]any{
			"storeId":    store.ID,
			"customerId": customer.ID,
			"error":      err.Error(),
		})
		return CheckoutSessionResult{}, translateGatewayError(err)
	}

	s.logger(ctx, "checkout.session.created", map[string]any{
		"sessionId":  session.ID,
		"provider":   session.Provider,
		"storeId":    store.ID,
		"customerId": customer.ID,
		"total":      breakdown.Total.StringFixed(2),
	})

	return CheckoutSessionResult{
		SessionID: session.ID,
		URL:       session.RedirectURL,
		Provider:  session.Provider,
		Currency:  currency,
		Subtotal:  breakdown.Subtotal,
		Shipping:  breakdown.Shipping,
		Total:     breakdown.Total,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// ConfirmCheckout materializes a paid processor session into an order. A payment that was already
// materialized is returned as a replay without touching stock.
func (s *checkoutService) ConfirmCheckout(ctx context.Context, cmd ConfirmCheckoutCommand) (ConfirmCheckoutResult, error) {
	sessionID := strings.TrimSpace(cmd.SessionID)
	if sessionID == "" {
		return ConfirmCheckoutResult{}, &FieldError{Field: "session_id", Reason: "is required", Err: ErrCheckoutInvalidInput}
	}
	source := firstNonEmpty(strings.TrimSpace(cmd.Source), ConfirmSourceAPI)

	details, err := s.gateway.RetrieveCheckoutSession(ctx, payments.PaymentContext{Currency: s.currency}, sessionID)
	if err != nil {
		s.observe(ConfirmOutcomeFailed)
		return ConfirmCheckoutResult{}, translateGatewayError(err)
	}
	if details.Status != payments.SessionStatusComplete || !sessionPaid(details.PaymentStatus) {
		s.observe(ConfirmOutcomeIncomplete)
		return ConfirmCheckoutResult{}, fmt.Errorf("%w: status %q, payment status %q", ErrCheckoutSessionIncomplete, details.Status, details.PaymentStatus)
	}

	meta, err := domain.DecodeCheckoutMetadata(details.Metadata)
	if err != nil {
		s.observe(ConfirmOutcomeFailed)
		s.logger(ctx, "checkout.confirm.metadata_invalid", map[string]any{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
		return ConfirmCheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}

	if actor := strings.TrimSpace(cmd.ActorUID); actor != "" {
		customer, err := s.customers.FindByID(ctx, meta.CustomerID)
		if err != nil {
			return ConfirmCheckoutResult{}, translateCheckoutError(err, "customer")
		}
		if customer.UID != actor {
			// Sessions of other customers are reported as missing.
			return ConfirmCheckoutResult{}, fmt.Errorf("%w: session", ErrCheckoutNotFound)
		}
	}

	intentID := firstNonEmpty(strings.TrimSpace(details.PaymentIntentID), details.ID)
	if result, ok, err := s.replay(ctx, intentID); err != nil {
		return ConfirmCheckoutResult{}, err
	} else if ok {
		s.observe(ConfirmOutcomeReplayed)
		s.logger(ctx, "checkout.confirm.replayed", map[string]any{
			"sessionId": sessionID,
			"intentId":  intentID,
			"orderId":   result.Order.ID,
			"source":    source,
		})
		return result, nil
	}

	order, err := s.materialize(ctx, details, meta, intentID)
	if err != nil {
		// A concurrent confirmation of the same payment may have won the race.
		if errors.Is(err, errPaymentAlreadyRecorded) || errors.Is(err, ErrCheckoutInsufficientStock) {
			if result, ok, replayErr := s.replay(ctx, intentID); replayErr == nil && ok {
				s.observe(ConfirmOutcomeReplayed)
				return result, nil
			}
			if errors.Is(err, errPaymentAlreadyRecorded) {
				s.observe(ConfirmOutcomeFailed)
				return ConfirmCheckoutResult{}, fmt.Errorf("%w: intent %s", ErrCheckoutInProgress, intentID)
			}
		}
		s.recordFailure(ctx, details, meta, intentID, source, err)
		return ConfirmCheckoutResult{}, err
	}

	s.afterCommit(ctx, order, intentID, sessionID, cmd.ActorUID, source)
	return ConfirmCheckoutResult{Order: order}, nil
}

// HandleWebhookEvent confirms sessions announced by the processor. Failures that a redelivery
// cannot fix are acknowledged so the processor stops retrying.
func (s *checkoutService) HandleWebhookEvent(ctx context.Context, event payments.WebhookEvent) error {
	if !event.Settles() {
		s.logger(ctx, "checkout.webhook.ignored", map[string]any{
			"eventId":   event.ID,
			"eventType": event.Type,
		})
		return nil
	}
	if strings.TrimSpace(event.SessionID) == "" {
		return fmt.Errorf("%w: event %s carries no session", ErrCheckoutInvalidInput, event.ID)
	}

	result, err := s.ConfirmCheckout(ctx, ConfirmCheckoutCommand{
		SessionID: event.SessionID,
		Source:    ConfirmSourceWebhook,
	})
	switch {
	case err == nil:
		s.logger(ctx, "checkout.webhook.processed", map[string]any{
			"eventId":  event.ID,
			"orderId":  result.Order.ID,
			"replayed": result.Replayed,
		})
		return nil
	case errors.Is(err, ErrCheckoutSessionIncomplete),
		errors.Is(err, ErrCheckoutDiscrepancy),
		errors.Is(err, ErrCheckoutInsufficientStock),
		errors.Is(err, ErrCheckoutInvalidInput),
		errors.Is(err, ErrCheckoutNotFound):
		s.logger(ctx, "checkout.webhook.skipped", map[string]any{
			"eventId":   event.ID,
			"eventType": event.Type,
			"sessionId": event.SessionID,
			"error":     err.Error(),
		})
		return nil
	default:
		return err
	}
}

func (s *checkoutService) materialize(ctx context.Context, details payments.CheckoutSessionDetails, meta domain.CheckoutMetadata, intentID string) (domain.Order, error) {
	inputs := make([]CheckoutItemInput, len(meta.Items))
	for i, item := range meta.Items {
		inputs[i] = CheckoutItemInput{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	items, err := NormalizeCheckoutItems(inputs)
	if err != nil {
		return domain.Order{}, err
	}

	var committed domain.Order
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		now := s.now()

		customer, err := s.customers.FindByID(txCtx, meta.CustomerID)
		if err != nil {
			return translateCheckoutError(err, "customer")
		}
		store, err := s.stores.FindByID(txCtx, meta.StoreID)
		if err != nil {
			return translateCheckoutError(err, "store")
		}
		if _, _, err := s.storeCustomers.Ensure(txCtx, domain.StoreCustomer{
			ID:         storeCustomerIDPrefix + s.newID(),
			StoreID:    store.ID,
			CustomerID: customer.ID,
			CreatedAt:  now,
		}); err != nil {
			return translateCheckoutError(err, "store customer")
		}

		currency := s.storeCurrency(store)
		if details.Currency != "" && !strings.EqualFold(details.Currency, currency) {
			return fmt.Errorf("%w: captured in %s, store sells in %s", ErrCheckoutDiscrepancy, strings.ToUpper(details.Currency), currency)
		}
		breakdown, err := PriceCart(txCtx, s.products.LockActive, store.ID, currency, items, PricingModeConfirm)
		if err != nil {
			return translateCheckoutError(err, "product")
		}
		if err := VerifyCapturedAmount(breakdown.Total, details.AmountTotal); err != nil {
			return err
		}

		order, cart, payment, shipment := s.buildRecords(now, store, customer, breakdown, meta.Address, details, intentID)
		if err := s.carts.Insert(txCtx, cart); err != nil {
			return translateCheckoutError(err, "cart")
		}
		if err := s.orders.Insert(txCtx, order); err != nil {
			return translateCheckoutError(err, "order")
		}
		if err := s.payments.Insert(txCtx, payment); err != nil {
			if isRepoConflict(err) {
				return errPaymentAlreadyRecorded
			}
			return translateCheckoutError(err, "payment")
		}
		if err := s.shipments.Insert(txCtx, shipment); err != nil {
			return translateCheckoutError(err, "shipment")
		}

		levels := make(map[string]int, len(breakdown.Items))
		for _, line := range breakdown.Items {
			levels[line.Product.ID] = line.Product.Stock - line.Quantity
		}
		if err := s.products.UpdateStock(txCtx, levels, now); err != nil {
			if isRepoConflict(err) {
				return fmt.Errorf("%w: stock update rejected", ErrCheckoutInsufficientStock)
			}
			return translateCheckoutError(err, "product")
		}

		points := breakdown.Total.Mul(s.loyaltyRate).Round(4)
		if points.IsPositive() {
			if err := s.customers.AddLoyaltyPoints(txCtx, customer.ID, points, now); err != nil {
				return translateCheckoutError(err, "customer")
			}
			customer.LoyaltyPoints = customer.LoyaltyPoints.Add(points)
		}

		order.Payment = &payment
		order.Shipment = &shipment
		order.Customer = &customer
		committed = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return committed, nil
}

func (s *checkoutService) buildRecords(now time.Time, store domain.Store, customer domain.Customer, breakdown domain.PricingBreakdown, address string, details payments.CheckoutSessionDetails, intentID string) (domain.Order, domain.Cart, domain.Payment, domain.Shipment) {
	cart := domain.Cart{
		ID:         cartIDPrefix + s.newID(),
		CustomerID: customer.ID,
		StoreID:    store.ID,
		Total:      breakdown.Total,
		Lines:      make([]domain.CartLine, 0, len(breakdown.Items)),
		CreatedAt:  now,
	}
	order := domain.Order{
		ID:         orderIDPrefix + s.newID(),
		StoreID:    store.ID,
		CustomerID: customer.ID,
		CartID:     cart.ID,
		Status:     domain.OrderStatusProcessed,
		Currency:   breakdown.Currency,
		Subtotal:   breakdown.Subtotal,
		Shipping:   breakdown.Shipping,
		Total:      breakdown.Total,
		Lines:      make([]domain.OrderLine, 0, len(breakdown.Items)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, item := range breakdown.Items {
		cart.Lines = append(cart.Lines, domain.CartLine{
			ID:        cartLineIDPrefix + s.newID(),
			CartID:    cart.ID,
			ProductID: item.Product.ID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
		order.Lines = append(order.Lines, domain.OrderLine{
			ID:          orderLineIDPrefix + s.newID(),
			OrderID:     order.ID,
			ProductID:   item.Product.ID,
			ProductName: item.Product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}
	payment := domain.Payment{
		ID:        paymentIDPrefix + s.newID(),
		OrderID:   order.ID,
		StoreID:   store.ID,
		IntentID:  intentID,
		SessionID: details.ID,
		Amount:    payments.FromMinorUnits(details.AmountTotal),
		Currency:  breakdown.Currency,
		Status:    domain.PaymentStatusCompleted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	shipment := domain.Shipment{
		ID:        shipmentIDPrefix + s.newID(),
		OrderID:   order.ID,
		StoreID:   store.ID,
		Address:   address,
		Status:    domain.ShipmentStatusInPreparation,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return order, cart, payment, shipment
}

func (s *checkoutService) replay(ctx context.Context, intentID string) (ConfirmCheckoutResult, bool, error) {
	payment, err := s.payments.FindByIntentID(ctx, intentID)
	if err != nil {
		if isRepoNotFound(err) {
			return ConfirmCheckoutResult{}, false, nil
		}
		return ConfirmCheckoutResult{}, false, translateCheckoutError(err, "payment")
	}
	order, err := s.orders.FindByID(ctx, payment.StoreID, payment.OrderID)
	if err != nil {
		return ConfirmCheckoutResult{}, false, translateCheckoutError(err, "order")
	}
	return ConfirmCheckoutResult{Order: order, Replayed: true}, true, nil
}

func (s *checkoutService) afterCommit(ctx context.Context, order domain.Order, intentID, sessionID, actorUID, source string) {
	s.observe(ConfirmOutcomeCreated)

	if s.audit != nil {
		actor, actorType := actorUID, "customer"
		if source == ConfirmSourceWebhook {
			actor, actorType = "stripe", "webhook"
		}
		s.audit.Record(ctx, AuditLogRecord{
			Actor:     actor,
			ActorType: actorType,
			Action:    "checkout.confirm",
			TargetRef: orderTargetRef(order.StoreID, order.ID),
			Metadata: map[string]any{
				"customerId": order.CustomerID,
				"intentId":   intentID,
				"sessionId":  sessionID,
				"total":      order.Total.StringFixed(2),
				"currency":   order.Currency,
				"lines":      len(order.Lines),
			},
		})
	}

	if s.events != nil {
		event := OrderEvent{
			ID:         eventIDPrefix + s.newID(),
			Type:       OrderEventCreated,
			OrderID:    order.ID,
			StoreID:    order.StoreID,
			CustomerID: order.CustomerID,
			Status:     string(order.Status),
			Total:      order.Total.StringFixed(2),
			Currency:   order.Currency,
			OccurredAt: s.now(),
		}
		if err := s.events.PublishOrderEvent(ctx, event); err != nil {
			s.logger(ctx, "checkout.confirm.event_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	}

	s.logger(ctx, "checkout.confirm.committed", map[string]any{
		"orderId":    order.ID,
		"storeId":    order.StoreID,
		"customerId": order.CustomerID,
		"intentId":   intentID,
		"total":      order.Total.StringFixed(2),
		"source":     source,
	})
}

// recordFailure reports a confirmation that was rolled back after the processor captured the money.
func (s *checkoutService) recordFailure(ctx context.Context, details payments.CheckoutSessionDetails, meta domain.CheckoutMetadata, intentID, source string, err error) {
	fields := map[string]any{
		"sessionId":  details.ID,
		"intentId":   intentID,
		"storeId":    meta.StoreID,
		"customerId": meta.CustomerID,
		"captured":   payments.FromMinorUnits(details.AmountTotal).StringFixed(2),
		"source":     source,
		"error":      err.Error(),
	}

	var discrepancy *DiscrepancyError
	if errors.As(err, &discrepancy) {
		fields["expected"] = discrepancy.Expected.StringFixed(2)
	}
	switch {
	case errors.Is(err, ErrCheckoutDiscrepancy):
		s.observe(ConfirmOutcomeDiscrepancy)
		if s.metrics != nil {
			s.metrics.ObserveDiscrepancy()
		}
		s.logger(ctx, "checkout.confirm.discrepancy", fields)
	case errors.Is(err, ErrCheckoutInsufficientStock):
		s.observe(ConfirmOutcomeInsufficientStock)
	default:
		s.observe(ConfirmOutcomeFailed)
	}
	s.logger(ctx, "checkout.confirm.unreconciled", fields)
}

func (s *checkoutService) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveConfirmation(outcome)
	}
}

func (s *checkoutService) resolveCustomer(ctx context.Context, uid, email, name string) (domain.Customer, error) {
	customer, err := s.customers.FindByUID(ctx, uid)
	if err == nil {
		return customer, nil
	}
	if !isRepoNotFound(err) {
		return domain.Customer{}, translateCheckoutError(err, "customer")
	}

	now := s.now()
	customer = domain.Customer{
		ID:            customerIDPrefix + s.newID(),
		UID:           uid,
		Email:         strings.TrimSpace(email),
		DisplayName:   plainText(s.sanitizer, name),
		LoyaltyPoints: decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.customers.Insert(ctx, customer); err != nil {
		if isRepoConflict(err) {
			if existing, findErr := s.customers.FindByUID(ctx, uid); findErr == nil {
				return existing, nil
			}
		}
		return domain.Customer{}, translateCheckoutError(err, "customer")
	}
	s.logger(ctx, "checkout.customer.created", map[string]any{
		"customerId": customer.ID,
	})
	return customer, nil
}

func (s *checkoutService) sanitizeAddress(raw string) (string, error) {
	address := plainText(s.sanitizer, raw)
	if address == "" {
		return "", &FieldError{Field: "address", Reason: "is required", Err: ErrCheckoutInvalidInput}
	}
	if utf8.RuneCountInString(address) > maxAddressLength {
		return "", &FieldError{Field: "address", Reason: fmt.Sprintf("must be at most %d characters", maxAddressLength), Err: ErrCheckoutInvalidInput}
	}
	return address, nil
}

func (s *checkoutService) redirectURLs(store domain.Store, successOverride, cancelOverride string) (string, string, error) {
	base := s.frontendURL + "/tienda/" + url.PathEscape(store.Slug)
	success := base + "/pago-exitoso?session_id=" + sessionIDPlaceholder
	cancel := base + "/pagar"

	if raw := strings.TrimSpace(successOverride); raw != "" {
		if err := s.checkRedirect("success_url", raw); err != nil {
			return "", "", err
		}
		success = withSessionPlaceholder(raw)
	}
	if raw := strings.TrimSpace(cancelOverride); raw != "" {
		if err := s.checkRedirect("cancel_url", raw); err != nil {
			return "", "", err
		}
		cancel = raw
	}
	return success, cancel, nil
}

func (s *checkoutService) checkRedirect(field, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") || parsed.Host == "" {
		return &FieldError{Field: field, Value: raw, Reason: "must be an absolute http(s) url", Err: ErrCheckoutInvalidInput}
	}
	if _, ok := s.allowedHosts[strings.ToLower(parsed.Hostname())]; !ok {
		return &FieldError{Field: field, Value: raw, Reason: "host is not allowed", Err: ErrCheckoutInvalidInput}
	}
	return nil
}

func (s *checkoutService) resolveLocale(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s.locale
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return s.locale
	}
	return tag.String()
}

func (s *checkoutService) sessionIdempotencyKey(customerID, clientKey string) string {
	if key := strings.TrimSpace(clientKey); key != "" {
		return uuid.NewSHA1(checkoutIdempotencyNamespace, []byte(customerID+"|"+key)).String()
	}
	return uuid.NewString()
}

func (s *checkoutService) storeCurrency(store domain.Store) string {
	if currency := strings.ToUpper(strings.TrimSpace(store.Currency)); currency != "" {
		return currency
	}
	return s.currency
}

func checkoutLineItems(breakdown domain.PricingBreakdown) []payments.CheckoutLineItem {
	items := make([]payments.CheckoutLineItem, 0, len(breakdown.Items)+1)
	for _, line := range breakdown.Items {
		items = append(items, payments.CheckoutLineItem{
			Name:     line.Product.Name,
			SKU:      line.Product.SKU,
			Quantity: int64(line.Quantity),
			Amount:   payments.ToMinorUnits(line.UnitPrice),
			Currency: breakdown.Currency,
		})
	}
	if breakdown.Shipping.IsPositive() {
		items = append(items, payments.CheckoutLineItem{
			Name:     shippingLineName,
			Quantity: 1,
			Amount:   payments.ToMinorUnits(breakdown.Shipping),
			Currency: breakdown.Currency,
		})
	}
	return items
}

func translateGatewayError(err error) error {
	switch {
	case errors.Is(err, payments.ErrSessionNotFound):
		return fmt.Errorf("%w: session", ErrCheckoutNotFound)
	default:
		return fmt.Errorf("%w: %v", ErrCheckoutGateway, err)
	}
}

// sessionPaid accepts the processor payment states that mean funds were collected.
func sessionPaid(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "", "paid", "no_payment_required":
		return true
	default:
		return false
	}
}

// plainText strips markup and collapses whitespace. StrictPolicy escapes entities, which are
// decoded again because the value is stored as text.
func plainText(policy *bluemonday.Policy, raw string) string {
	return strings.Join(strings.Fields(html.UnescapeString(policy.Sanitize(raw))), " ")
}

func withSessionPlaceholder(raw string) string {
	if strings.Contains(raw, sessionIDPlaceholder) {
		return raw
	}
	separator := "?"
	if strings.Contains(raw, "?") {
		separator = "&"
	}
	return raw + separator + "session_id=" + sessionIDPlaceholder
}

func orderTargetRef(storeID, orderID string) string {
	return "/stores/" + storeID + "/orders/" + orderID
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
