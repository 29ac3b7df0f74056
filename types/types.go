package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// IntentStatus represents the lifecycle state of a payment intent.
type IntentStatus string

const (
	StatusPending   IntentStatus = "pending"
	StatusConfirmed IntentStatus = "confirmed"
	StatusDelivered IntentStatus = "delivered"
	StatusExpired   IntentStatus = "expired"
)

// Asset represents supported payment assets
type Asset string

const (
	AssetUSDC Asset = "usdc"
	AssetETH  Asset = "eth"
	AssetPOL  Asset = "pol"
	AssetSOL  Asset = "sol"
)

// IsNative reports whether the asset is a chain's native currency
// rather than a token contract.
func (a Asset) IsNative() bool {
	return a == AssetETH || a == AssetPOL || a == AssetSOL
}

func (a Asset) String() string {
	return string(a)
}

// SharedAddressIndex is the AddressIndex sentinel for intents paid to a
// chain-wide shared address, where no per-intent derivation happens.
const SharedAddressIndex = ^uint32(0)

// PaymentIntent tracks a single checkout's expected payment through its
// lifecycle. AmountUSD and AmountCrypto are frozen at creation time; a
// later price move never changes what an intent expects.
type PaymentIntent struct {
	// Unique identifier, generated at creation and never reused.
	ID string `json:"id"`

	// Slug of the product being purchased.
	ProductRef string `json:"productRef" validate:"required"`

	// Delivery destination (e.g. an email address). Opaque to the engine.
	BuyerContact string `json:"buyerContact" validate:"required"`

	// Priced value at creation time.
	AmountUSD decimal.Decimal `json:"amountUsd"`

	// Expected crypto-denominated amount, computed once from the price
	// oracle snapshot at creation.
	AmountCrypto decimal.Decimal `json:"amountCrypto"`

	// Asset and Network together select the monitor responsible for
	// observing this intent.
	Asset   Asset   `json:"asset" validate:"required"`
	Network Network `json:"network" validate:"required"`

	// Receive address. Unique per intent on address-per-payment chains,
	// a shared constant on single-address chains.
	PayAddress string `json:"payAddress"`

	// Derivation index used for PayAddress, or SharedAddressIndex.
	AddressIndex uint32 `json:"addressIndex"`

	Status IntentStatus `json:"status"`

	// External transaction identifier that satisfied the intent.
	// Set exactly once, on the pending -> confirmed transition.
	ObservedTxRef string `json:"observedTxRef,omitempty"`

	// Single-purpose secret minted on confirmation that authorizes
	// retrieval of the purchased artifact.
	DeliveryCredential string `json:"deliveryCredential,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
}

// Clone returns a deep copy of the intent.
func (p *PaymentIntent) Clone() *PaymentIntent {
	out := *p
	if p.ConfirmedAt != nil {
		t := *p.ConfirmedAt
		out.ConfirmedAt = &t
	}
	if p.DeliveredAt != nil {
		t := *p.DeliveredAt
		out.DeliveredAt = &t
	}
	return &out
}

// Product describes a purchasable digital good. Read-mostly; seeded from
// configuration, not mutated by the engine.
type Product struct {
	Slug         string          `json:"slug" validate:"required"`
	Name         string          `json:"name" validate:"required"`
	PriceUSD     decimal.Decimal `json:"priceUsd"`
	ArtifactPath string          `json:"artifactPath" validate:"required"`
	Active       bool            `json:"active"`
}

// TokenConfig describes an ERC-20 style token watched by an EVM monitor.
type TokenConfig struct {
	Asset    Asset  `json:"asset" validate:"required"`
	Contract string `json:"contract" validate:"required"`
	Decimals int32  `json:"decimals" validate:"gte=0,lte=36"`
}

// Error is the engine's typed error with a machine-readable code.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches errors by code so sentinel comparisons with errors.Is work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Common error codes
const (
	CodeConfiguration    = "CONFIGURATION_ERROR"
	CodeDerivation       = "DERIVATION_ERROR"
	CodePriceUnavailable = "PRICE_UNAVAILABLE"
	CodeNotFound         = "NOT_FOUND"
	CodeNotPending       = "NOT_PENDING"
	CodeNotConfirmed     = "NOT_CONFIRMED"
	CodeInactiveProduct  = "INACTIVE_PRODUCT"
	CodeNetworkError     = "NETWORK_ERROR"
)

// Sentinel errors for errors.Is checks.
var (
	ErrConfiguration    = &Error{Code: CodeConfiguration, Message: "engine is not configured for this operation"}
	ErrDerivation       = &Error{Code: CodeDerivation, Message: "address derivation failed"}
	ErrPriceUnavailable = &Error{Code: CodePriceUnavailable, Message: "no fresh market price available"}
	ErrNotFound         = &Error{Code: CodeNotFound, Message: "record not found"}
	ErrNotPending       = &Error{Code: CodeNotPending, Message: "intent is not pending"}
	ErrNotConfirmed     = &Error{Code: CodeNotConfirmed, Message: "intent is not confirmed"}
	ErrInactiveProduct  = &Error{Code: CodeInactiveProduct, Message: "product is not active"}
)

// NewError builds a typed error with a formatted message.
func NewError(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
