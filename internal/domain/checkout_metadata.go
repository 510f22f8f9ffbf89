package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// CheckoutMetadataVersion is the payload revision written into new sessions.
const CheckoutMetadataVersion = 1

const (
	metadataKeyVersion     = "v"
	metadataKeyCustomer    = "customer_id"
	metadataKeyStore       = "store_id"
	metadataKeyAddress     = "address"
	metadataKeyItems       = "items"
	metadataKeyQuotedTotal = "quoted_total"

	// Stripe rejects metadata values longer than 500 characters.
	maxMetadataValueLength = 500
)

var (
	// ErrMetadataInvalid indicates the session metadata cannot be decoded into a checkout payload.
	ErrMetadataInvalid = errors.New("checkout metadata: invalid")
	// ErrMetadataTooLarge indicates the payload does not fit in processor metadata limits.
	ErrMetadataTooLarge = errors.New("checkout metadata: too large")
)

// CheckoutItem is a requested product and quantity.
type CheckoutItem struct {
	ProductID string `json:"p"`
	Quantity  int    `json:"q"`
}

// CheckoutMetadata is the state carried by the processor session between quote and confirmation.
type CheckoutMetadata struct {
	Version     int
	CustomerID  string
	StoreID     string
	Address     string
	Items       []CheckoutItem
	QuotedTotal decimal.Decimal
}

// Encode renders the payload as flat string metadata.
func (m CheckoutMetadata) Encode() (map[string]string, error) {
	if strings.TrimSpace(m.CustomerID) == "" || strings.TrimSpace(m.StoreID) == "" {
		return nil, fmt.Errorf("%w: customer and store are required", ErrMetadataInvalid)
	}
	if len(m.Items) == 0 {
		return nil, fmt.Errorf("%w: items are required", ErrMetadataInvalid)
	}
	items, err := encodeItems(m.Items)
	if err != nil {
		return nil, err
	}
	if n := utf8.RuneCountInString(m.Address); n > maxMetadataValueLength {
		return nil, fmt.Errorf("%w: address is %d characters", ErrMetadataTooLarge, n)
	}

	version := m.Version
	if version == 0 {
		version = CheckoutMetadataVersion
	}
	return map[string]string{
		metadataKeyVersion:     strconv.Itoa(version),
		metadataKeyCustomer:    m.CustomerID,
		metadataKeyStore:       m.StoreID,
		metadataKeyAddress:     m.Address,
		metadataKeyItems:       items,
		metadataKeyQuotedTotal: m.QuotedTotal.StringFixed(2),
	}, nil
}

// CheckoutItemsFit reports ErrMetadataTooLarge when items cannot be carried in one metadata value.
func CheckoutItemsFit(items []CheckoutItem) error {
	_, err := encodeItems(items)
	return err
}

func encodeItems(items []CheckoutItem) (string, error) {
	raw, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("%w: encode items: %v", ErrMetadataInvalid, err)
	}
	if n := utf8.RuneCount(raw); n > maxMetadataValueLength {
		return "", fmt.Errorf("%w: items payload is %d characters", ErrMetadataTooLarge, n)
	}
	return string(raw), nil
}

// DecodeCheckoutMetadata parses processor metadata written by Encode.
func DecodeCheckoutMetadata(values map[string]string) (CheckoutMetadata, error) {
	if len(values) == 0 {
		return CheckoutMetadata{}, fmt.Errorf("%w: metadata is empty", ErrMetadataInvalid)
	}

	rawVersion, ok := values[metadataKeyVersion]
	if !ok {
		return CheckoutMetadata{}, fmt.Errorf("%w: missing version", ErrMetadataInvalid)
	}
	version, err := strconv.Atoi(strings.TrimSpace(rawVersion))
	if err != nil {
		return CheckoutMetadata{}, fmt.Errorf("%w: version %q", ErrMetadataInvalid, rawVersion)
	}
	if version != CheckoutMetadataVersion {
		return CheckoutMetadata{}, fmt.Errorf("%w: unsupported version %d", ErrMetadataInvalid, version)
	}

	meta := CheckoutMetadata{
		Version:    version,
		CustomerID: strings.TrimSpace(values[metadataKeyCustomer]),
		StoreID:    strings.TrimSpace(values[metadataKeyStore]),
		Address:    values[metadataKeyAddress],
	}
	if meta.CustomerID == "" {
		return CheckoutMetadata{}, fmt.Errorf("%w: missing %s", ErrMetadataInvalid, metadataKeyCustomer)
	}
	if meta.StoreID == "" {
		return CheckoutMetadata{}, fmt.Errorf("%w: missing %s", ErrMetadataInvalid, metadataKeyStore)
	}

	rawItems := strings.TrimSpace(values[metadataKeyItems])
	if rawItems == "" {
		return CheckoutMetadata{}, fmt.Errorf("%w: missing %s", ErrMetadataInvalid, metadataKeyItems)
	}
	decoder := json.NewDecoder(strings.NewReader(rawItems))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&meta.Items); err != nil {
		return CheckoutMetadata{}, fmt.Errorf("%w: items: %v", ErrMetadataInvalid, err)
	}
	if len(meta.Items) == 0 {
		return CheckoutMetadata{}, fmt.Errorf("%w: items are empty", ErrMetadataInvalid)
	}
	for i, item := range meta.Items {
		if strings.TrimSpace(item.ProductID) == "" || item.Quantity <= 0 {
			return CheckoutMetadata{}, fmt.Errorf("%w: item %d is malformed", ErrMetadataInvalid, i)
		}
	}

	if raw := strings.TrimSpace(values[metadataKeyQuotedTotal]); raw != "" {
		total, err := decimal.NewFromString(raw)
		if err != nil {
			return CheckoutMetadata{}, fmt.Errorf("%w: quoted total %q", ErrMetadataInvalid, raw)
		}
		meta.QuotedTotal = total
	}

	return meta, nil
}
