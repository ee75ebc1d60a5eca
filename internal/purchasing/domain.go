package purchasing

import (
	"errors"
	"time"
)

// PurchaseStatus tracks a purchase from invoice to quality control.
type PurchaseStatus string

const (
	PurchasePending        PurchaseStatus = "PENDING"
	PurchaseReceived       PurchaseStatus = "RECEIVED"
	PurchaseQualityChecked PurchaseStatus = "QUALITY_CHECKED"
	PurchaseRejected       PurchaseStatus = "REJECTED"
)

// SupplierKind categorises green coffee sources.
type SupplierKind string

const (
	SupplierCooperative SupplierKind = "COOPERATIVE"
	SupplierFarm        SupplierKind = "FARM"
	SupplierTrader      SupplierKind = "TRADER"
)

// ProcessMethod is the post-harvest treatment of the purchased coffee.
type ProcessMethod string

const (
	MethodWashed     ProcessMethod = "WASHED"
	MethodNatural    ProcessMethod = "NATURAL"
	MethodHoney      ProcessMethod = "HONEY"
	MethodSemiWashed ProcessMethod = "SEMI_WASHED"
)

// Supplier is a green coffee source.
type Supplier struct {
	ID             string
	Name           string
	Kind           SupplierKind
	Contact        string
	Phone          string
	Email          string
	Address        string
	Certifications []string
	Rating         float64
	Active         bool
	CreatedAt      time.Time
}

// Purchase is the origin record of every green lot.
type Purchase struct {
	ID            string
	InvoiceNumber string
	SupplierID    string
	BuyerID       string
	PurchasedAt   time.Time
	ExpiresAt     *time.Time

	CoffeeKind string
	Variety    string
	Origin     string
	Method     ProcessMethod

	QuantityKg float64
	PricePerKg float64
	TotalPrice float64
	SackCount  int

	Moisture     float64
	QualityScore int
	Defects      string
	Organic      bool
	FairTrade    bool

	Status     PurchaseStatus
	GreenLotID string
	Notes      string
	CreatedAt  time.Time
}

// PriceToleranceEps bounds the total-price arithmetic check.
const PriceToleranceEps = 0.01

// ErrValidation indicates malformed or out-of-range purchase input.
var ErrValidation = errors.New("purchasing: invalid input")

// ErrPurchaseNotFound indicates the purchase does not exist.
var ErrPurchaseNotFound = errors.New("purchasing: purchase not found")

// ErrSupplierNotFound indicates the supplier does not exist.
var ErrSupplierNotFound = errors.New("purchasing: supplier not found")

// ErrDuplicateInvoice indicates an invoice number collision.
var ErrDuplicateInvoice = errors.New("purchasing: duplicate invoice number")

// ErrPurchaseState indicates an operation illegal for the purchase status.
var ErrPurchaseState = errors.New("purchasing: invalid purchase state")
