package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stagelink/billing/internal/domain"
	"github.com/stagelink/billing/internal/repositories"
)

var (
	// ErrInvoiceInvalidInput indicates the allocation request was malformed.
	ErrInvoiceInvalidInput = errors.New("invoice: invalid input")
	// ErrInvoiceUnavailable indicates the number ledger could not be read.
	ErrInvoiceUnavailable = errors.New("invoice: ledger unavailable")
)

// InvoiceNumberServiceDeps lists the collaborators the allocator needs.
type InvoiceNumberServiceDeps struct {
	Numbers repositories.InvoiceNumberRepository
	Catalog FeatureCatalog
}

type invoiceNumberService struct {
	numbers repositories.InvoiceNumberRepository
	catalog FeatureCatalog
}

// NewInvoiceNumberService builds the allocator. Sequence numbers are derived
// from a read-only snapshot of already-issued numbers at every allocation, so
// out-of-band imports of historical invoices can never make a counter drift.
func NewInvoiceNumberService(deps InvoiceNumberServiceDeps) (InvoiceNumberAllocator, error) {
	if deps.Numbers == nil {
		return nil, errors.New("invoice number service: number repository is required")
	}
	if len(deps.Catalog) == 0 {
		return nil, errors.New("invoice number service: feature catalog is required")
	}
	return &invoiceNumberService{numbers: deps.Numbers, catalog: deps.Catalog}, nil
}

func (s *invoiceNumberService) NextInvoiceNumber(ctx context.Context, kind domain.FeatureKind, at time.Time) (string, error) {
	descriptor, err := s.catalog.Descriptor(kind)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvoiceInvalidInput, err)
	}
	if at.IsZero() {
		return "", fmt.Errorf("%w: allocation instant is required", ErrInvoiceInvalidInput)
	}
	at = at.UTC()

	current := currentPrefix(descriptor.InvoiceTag, at)
	prefixes := candidatePrefixes(descriptor, at)

	highest := int64(0)
	for _, prefix := range prefixes {
		issued, err := s.numbers.NumbersWithPrefix(ctx, prefix)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvoiceUnavailable, err)
		}
		for _, number := range issued {
			if seq, ok := sequenceOf(number, prefix); ok && seq > highest {
				highest = seq
			}
		}
	}

	return current + strconv.FormatInt(highest+1, 10), nil
}

// currentPrefix encodes the live layout: TAG + YY + MM + "-".
func currentPrefix(tag string, at time.Time) string {
	return tag + at.Format("0601") + "-"
}

// candidatePrefixes lists every prefix under which a number for this
// (kind, year, month) scope may already have been issued. The current layout
// comes first; legacy layouts follow so a format change never restarts a
// sequence.
func candidatePrefixes(descriptor domain.FeatureDescriptor, at time.Time) []string {
	prefixes := []string{currentPrefix(descriptor.InvoiceTag, at)}
	for _, legacy := range descriptor.LegacyInvoiceFormats {
		var prefix string
		switch legacy.Layout {
		case domain.LegacyLayoutSlashMonthYear:
			prefix = legacy.Tag + "/" + at.Format("0106") + "-"
		case domain.LegacyLayoutYearMonth:
			prefix = legacy.Tag + at.Format("0601") + "-"
		default:
			continue
		}
		if !containsString(prefixes, prefix) {
			prefixes = append(prefixes, prefix)
		}
	}
	return prefixes
}

// sequenceOf extracts the numeric sequence from an issued number under a
// prefix. Numbers that do not parse are ignored rather than failing the
// allocation; they cannot collide with anything this allocator issues.
func sequenceOf(number, prefix string) (int64, bool) {
	rest, ok := strings.CutPrefix(number, prefix)
	if !ok || rest == "" {
		return 0, false
	}
	seq, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || seq <= 0 {
		return 0, false
	}
	return seq, true
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
