package domain

import (
	"time"
)

// FeatureKind identifies the entitlement a purchase grants. Each kind maps to a
// FeatureDescriptor carrying its published price, tax profile, and invoice tags.
type FeatureKind string

const (
	// FeatureCampaignUpgrade unlocks the premium mode on a campaign.
	FeatureCampaignUpgrade FeatureKind = "campaign_upgrade"
	// FeatureInviteUnlock grants a brand account access to the invite feature.
	FeatureInviteUnlock FeatureKind = "invite_unlock"
	// FeatureCreditPurchase adds scoring credits to a brand account.
	FeatureCreditPurchase FeatureKind = "credit_purchase"
)

// KnownFeatureKinds lists the feature kinds the engine recognises.
func KnownFeatureKinds() []FeatureKind {
	return []FeatureKind{FeatureCampaignUpgrade, FeatureInviteUnlock, FeatureCreditPurchase}
}

// SubjectRef identifies the entity an entitlement attaches to plus the paying
// account. SubjectID is a campaign ID for campaign upgrades and a brand ID for
// the brand-scoped features.
type SubjectRef struct {
	SubjectID string
	PayerID   string
}

// TaxLine is a single labelled tax component in paise.
type TaxLine struct {
	Label string
	Value int64
}

// Amount is the immutable monetary breakdown of an order. Base plus the sum of
// TaxLines always equals Total (amounts are derived backward from the
// published total, so no rounding remainder is ever lost).
type Amount struct {
	Base     int64
	TaxLines []TaxLine
	Total    int64
}

// TaxTotal returns the summed tax components.
func (a Amount) TaxTotal() int64 {
	var total int64
	for _, line := range a.TaxLines {
		total += line.Value
	}
	return total
}

// OrderStatus enumerates lifecycle states of a purchase attempt.
type OrderStatus string

const (
	// OrderStatusPending indicates the gateway order is open and no payment has been attempted.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates a payment was attempted but settlement is not yet confirmed.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusPaid indicates settlement succeeded; payment fields are immutable from here on.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusFailed indicates the gateway reported failure or verification rejected the outcome.
	OrderStatusFailed OrderStatus = "failed"
	// OrderStatusDeductedNotReceived indicates funds were deducted but settlement never confirmed;
	// terminal for automation, resolvable only by an operator.
	OrderStatusDeductedNotReceived OrderStatus = "deducted_not_received"
	// OrderStatusCancelled indicates the order was superseded before any payment attempt.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether automation may still move the order.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled, OrderStatusDeductedNotReceived:
		return true
	}
	return false
}

// IsOpen reports whether the order still counts against the one-open-order
// invariant for its (subject, featureKind) pair.
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusPending || s == OrderStatusProcessing
}

// Order is the persisted record of one purchase attempt. Orders are created
// PENDING and mutated only by the settlement verifier and the reconciliation
// sweeper; an abandoned PENDING order may be destroyed when a new order for the
// same subject supersedes it, which is the single deletion in the system.
type Order struct {
	ID                 string
	FeatureKind        FeatureKind
	Subject            SubjectRef
	Amount             Amount
	Status             OrderStatus
	ExternalOrderRef   string
	ExternalPaymentRef *string
	InvoiceNumber      *string
	FailureReason      *string
	OperatorNote       *string
	InvoiceDocumentURL *string
	CreatedAt          time.Time
	StatusChangedAt    time.Time
	PaidAt             *time.Time
}

// PaymentRef returns the external payment reference or empty when no payment
// attempt has been recorded yet.
func (o Order) PaymentRef() string {
	if o.ExternalPaymentRef == nil {
		return ""
	}
	return *o.ExternalPaymentRef
}

// LegacyInvoiceFormat describes a historical invoice-number layout still
// present in the ledger. Prefix building must consider every recognised layout
// so a format change never re-issues a sequence number.
type LegacyInvoiceFormat struct {
	// Tag is the historical feature-tag spelling, e.g. "CMP" where the
	// current tag is "CU".
	Tag string
	// Layout selects how year and month are encoded after the tag.
	Layout LegacyInvoiceLayout
}

// LegacyInvoiceLayout enumerates supported historical prefix layouts.
type LegacyInvoiceLayout string

const (
	// LegacyLayoutSlashMonthYear encodes "TAG/MMYY-seq".
	LegacyLayoutSlashMonthYear LegacyInvoiceLayout = "slash_month_year"
	// LegacyLayoutYearMonth encodes "TAGYYMM-seq" with the legacy tag spelling.
	LegacyLayoutYearMonth LegacyInvoiceLayout = "year_month"
)

// FeatureDescriptor parameterises the engine per feature kind: published
// price, tax treatment, invoice tagging, and the quantity applied on
// activation. The descriptor is what lets one engine serve every feature
// instead of a payment service per feature.
type FeatureDescriptor struct {
	Kind                 FeatureKind
	DisplayName          string
	ListPrice            int64
	Tax                  TaxProfile
	InvoiceTag           string
	LegacyInvoiceFormats []LegacyInvoiceFormat
	// CreditUnits is the number of credits granted per purchase. Zero for
	// boolean entitlements.
	CreditUnits int64
}

// EntitlementGrant marks a completed activation for an order. Its existence is
// the activator's own duplicate-suppression check, independent of the order's
// PAID short-circuit.
type EntitlementGrant struct {
	OrderID     string
	FeatureKind FeatureKind
	Subject     SubjectRef
	GrantedAt   time.Time
}

// Campaign is the slice of the campaign aggregate this engine touches.
type Campaign struct {
	ID             string
	Upgraded       bool
	UpgradeOrderID *string
	UpgradedAt     *time.Time
	UpdatedAt      time.Time
}

// Brand is the slice of the brand aggregate this engine touches.
type Brand struct {
	ID             string
	ScoringCredits int64
	InviteAccess   bool
	InviteOrderID  *string
	UpdatedAt      time.Time
}

// InvoiceDocumentJob is the payload published for asynchronous invoice
// document generation after an order is PAID.
type InvoiceDocumentJob struct {
	OrderID       string    `json:"orderId"`
	InvoiceNumber string    `json:"invoiceNumber"`
	FeatureKind   string    `json:"featureKind"`
	RequestedAt   time.Time `json:"requestedAt"`
}
