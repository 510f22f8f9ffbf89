package postgres

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tiendaplus/api/internal/domain"
)

type storeRecord struct {
	ID        string    `gorm:"primaryKey;size:40"`
	Slug      string    `gorm:"size:120;not null;uniqueIndex"`
	Name      string    `gorm:"size:200;not null"`
	Currency  string    `gorm:"size:3;not null;default:bob"`
	Active    bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"not null"`
}

func (storeRecord) TableName() string { return "stores" }

func (r storeRecord) toDomain() domain.Store {
	return domain.Store{
		ID:        r.ID,
		Slug:      r.Slug,
		Name:      r.Name,
		Currency:  r.Currency,
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
	}
}

type customerRecord struct {
	ID            string          `gorm:"primaryKey;size:40"`
	UID           string          `gorm:"column:firebase_uid;size:128;not null;uniqueIndex"`
	Email         string          `gorm:"size:320;index"`
	DisplayName   string          `gorm:"size:200"`
	LoyaltyPoints decimal.Decimal `gorm:"type:numeric(12,4);not null;default:0"`
	CreatedAt     time.Time       `gorm:"not null"`
	UpdatedAt     time.Time       `gorm:"not null"`
}

func (customerRecord) TableName() string { return "customers" }

func (r customerRecord) toDomain() domain.Customer {
	return domain.Customer{
		ID:            r.ID,
		UID:           r.UID,
		Email:         r.Email,
		DisplayName:   r.DisplayName,
		LoyaltyPoints: r.LoyaltyPoints,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func customerFromDomain(c domain.Customer) customerRecord {
	return customerRecord{
		ID:            c.ID,
		UID:           c.UID,
		Email:         c.Email,
		DisplayName:   c.DisplayName,
		LoyaltyPoints: c.LoyaltyPoints,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

type storeCustomerRecord struct {
	ID         string    `gorm:"primaryKey;size:40"`
	StoreID    string    `gorm:"size:40;not null;uniqueIndex:store_customers_store_customer_key,priority:1"`
	CustomerID string    `gorm:"size:40;not null;uniqueIndex:store_customers_store_customer_key,priority:2"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (storeCustomerRecord) TableName() string { return "store_customers" }

func (r storeCustomerRecord) toDomain() domain.StoreCustomer {
	return domain.StoreCustomer{
		ID:         r.ID,
		StoreID:    r.StoreID,
		CustomerID: r.CustomerID,
		CreatedAt:  r.CreatedAt,
	}
}

type productRecord struct {
	ID        string          `gorm:"primaryKey;size:40"`
	StoreID   string          `gorm:"size:40;not null;index"`
	SKU       string          `gorm:"size:64"`
	Name      string          `gorm:"size:200;not null"`
	Price     decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Stock     int             `gorm:"not null;check:products_stock_check,stock >= 0"`
	Active    bool            `gorm:"not null;default:true"`
	UpdatedAt time.Time       `gorm:"not null"`
}

func (productRecord) TableName() string { return "products" }

func (r productRecord) toDomain() domain.Product {
	return domain.Product{
		ID:        r.ID,
		StoreID:   r.StoreID,
		SKU:       r.SKU,
		Name:      r.Name,
		Price:     r.Price,
		Stock:     r.Stock,
		Active:    r.Active,
		UpdatedAt: r.UpdatedAt,
	}
}

type cartRecord struct {
	ID         string           `gorm:"primaryKey;size:40"`
	CustomerID string           `gorm:"size:40;not null;index"`
	StoreID    string           `gorm:"size:40;not null"`
	Total      decimal.Decimal  `gorm:"type:numeric(12,2);not null"`
	CreatedAt  time.Time        `gorm:"not null"`
	Lines      []cartLineRecord `gorm:"foreignKey:CartID"`
}

func (cartRecord) TableName() string { return "carts" }

type cartLineRecord struct {
	ID        string          `gorm:"primaryKey;size:40"`
	CartID    string          `gorm:"size:40;not null;index"`
	ProductID string          `gorm:"size:40;not null"`
	Quantity  int             `gorm:"not null"`
	UnitPrice decimal.Decimal `gorm:"type:numeric(12,2);not null"`
}

func (cartLineRecord) TableName() string { return "cart_lines" }

func cartFromDomain(c domain.Cart) cartRecord {
	rec := cartRecord{
		ID:         c.ID,
		CustomerID: c.CustomerID,
		StoreID:    c.StoreID,
		Total:      c.Total,
		CreatedAt:  c.CreatedAt,
		Lines:      make([]cartLineRecord, 0, len(c.Lines)),
	}
	for _, line := range c.Lines {
		rec.Lines = append(rec.Lines, cartLineRecord{
			ID:        line.ID,
			CartID:    c.ID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	return rec
}

type orderRecord struct {
	ID         string            `gorm:"primaryKey;size:40"`
	StoreID    string            `gorm:"size:40;not null;index:orders_store_created_idx,priority:1"`
	CustomerID string            `gorm:"size:40;not null;index"`
	CartID     string            `gorm:"size:40;not null"`
	SellerID   *string           `gorm:"size:40;index"`
	Status     string            `gorm:"size:20;not null;index"`
	Currency   string            `gorm:"size:3;not null"`
	Subtotal   decimal.Decimal   `gorm:"type:numeric(12,2);not null"`
	Shipping   decimal.Decimal   `gorm:"type:numeric(12,2);not null"`
	Total      decimal.Decimal   `gorm:"type:numeric(12,2);not null"`
	CreatedAt  time.Time         `gorm:"not null;index:orders_store_created_idx,priority:2"`
	UpdatedAt  time.Time         `gorm:"not null"`
	Lines      []orderLineRecord `gorm:"foreignKey:OrderID"`
	Payment    *paymentRecord    `gorm:"foreignKey:OrderID"`
	Shipment   *shipmentRecord   `gorm:"foreignKey:OrderID"`
	Customer   *customerRecord   `gorm:"foreignKey:CustomerID"`
}

func (orderRecord) TableName() string { return "orders" }

type orderLineRecord struct {
	ID          string          `gorm:"primaryKey;size:40"`
	OrderID     string          `gorm:"size:40;not null;index"`
	ProductID   string          `gorm:"size:40;not null"`
	ProductName string          `gorm:"size:200;not null"`
	Quantity    int             `gorm:"not null"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(12,2);not null"`
}

func (orderLineRecord) TableName() string { return "order_lines" }

func orderFromDomain(o domain.Order) orderRecord {
	rec := orderRecord{
		ID:         o.ID,
		StoreID:    o.StoreID,
		CustomerID: o.CustomerID,
		CartID:     o.CartID,
		SellerID:   o.SellerID,
		Status:     string(o.Status),
		Currency:   o.Currency,
		Subtotal:   o.Subtotal,
		Shipping:   o.Shipping,
		Total:      o.Total,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
		Lines:      make([]orderLineRecord, 0, len(o.Lines)),
	}
	for _, line := range o.Lines {
		rec.Lines = append(rec.Lines, orderLineRecord{
			ID:          line.ID,
			OrderID:     o.ID,
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
		})
	}
	return rec
}

func (r orderRecord) toDomain() domain.Order {
	order := domain.Order{
		ID:         r.ID,
		StoreID:    r.StoreID,
		CustomerID: r.CustomerID,
		CartID:     r.CartID,
		SellerID:   r.SellerID,
		Status:     domain.OrderStatus(r.Status),
		Currency:   r.Currency,
		Subtotal:   r.Subtotal,
		Shipping:   r.Shipping,
		Total:      r.Total,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		Lines:      make([]domain.OrderLine, 0, len(r.Lines)),
	}
	for _, line := range r.Lines {
		order.Lines = append(order.Lines, domain.OrderLine{
			ID:          line.ID,
			OrderID:     line.OrderID,
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
		})
	}
	if r.Payment != nil {
		payment := r.Payment.toDomain()
		order.Payment = &payment
	}
	if r.Shipment != nil {
		shipment := r.Shipment.toDomain()
		order.Shipment = &shipment
	}
	if r.Customer != nil {
		customer := r.Customer.toDomain()
		order.Customer = &customer
	}
	return order
}

type paymentRecord struct {
	ID        string          `gorm:"primaryKey;size:40"`
	OrderID   string          `gorm:"size:40;not null;index"`
	StoreID   string          `gorm:"size:40;not null"`
	IntentID  string          `gorm:"size:255;not null;uniqueIndex:payments_intent_id_key"`
	SessionID string          `gorm:"size:255;not null"`
	Amount    decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Currency  string          `gorm:"size:3;not null"`
	Status    string          `gorm:"size:20;not null"`
	CreatedAt time.Time       `gorm:"not null"`
	UpdatedAt time.Time       `gorm:"not null"`
}

func (paymentRecord) TableName() string { return "payments" }

func (r paymentRecord) toDomain() domain.Payment {
	return domain.Payment{
		ID:        r.ID,
		OrderID:   r.OrderID,
		StoreID:   r.StoreID,
		IntentID:  r.IntentID,
		SessionID: r.SessionID,
		Amount:    r.Amount,
		Currency:  r.Currency,
		Status:    domain.PaymentStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func paymentFromDomain(p domain.Payment) paymentRecord {
	return paymentRecord{
		ID:        p.ID,
		OrderID:   p.OrderID,
		StoreID:   p.StoreID,
		IntentID:  p.IntentID,
		SessionID: p.SessionID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Status:    string(p.Status),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

type shipmentRecord struct {
	ID        string    `gorm:"primaryKey;size:40"`
	OrderID   string    `gorm:"size:40;not null;uniqueIndex"`
	StoreID   string    `gorm:"size:40;not null"`
	Address   string    `gorm:"size:300;not null"`
	Status    string    `gorm:"size:20;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (shipmentRecord) TableName() string { return "shipments" }

func (r shipmentRecord) toDomain() domain.Shipment {
	return domain.Shipment{
		ID:        r.ID,
		OrderID:   r.OrderID,
		StoreID:   r.StoreID,
		Address:   r.Address,
		Status:    domain.ShipmentStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func shipmentFromDomain(s domain.Shipment) shipmentRecord {
	return shipmentRecord{
		ID:        s.ID,
		OrderID:   s.OrderID,
		StoreID:   s.StoreID,
		Address:   s.Address,
		Status:    string(s.Status),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func allModels() []any {
	return []any{
		&storeRecord{},
		&customerRecord{},
		&storeCustomerRecord{},
		&productRecord{},
		&cartRecord{},
		&cartLineRecord{},
		&orderRecord{},
		&orderLineRecord{},
		&paymentRecord{},
		&shipmentRecord{},
	}
}
