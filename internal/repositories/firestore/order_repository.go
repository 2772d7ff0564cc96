package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/stagelink/billing/internal/domain"
	pfirestore "github.com/stagelink/billing/internal/platform/firestore"
)

const ordersCollection = "orders"

type taxLineDocument struct {
	Label string `firestore:"label"`
	Value int64  `firestore:"value"`
}

type orderDocument struct {
	FeatureKind        string            `firestore:"featureKind"`
	SubjectID          string            `firestore:"subjectId"`
	PayerID            string            `firestore:"payerId"`
	AmountBase         int64             `firestore:"amountBase"`
	AmountTaxLines     []taxLineDocument `firestore:"amountTaxLines"`
	AmountTotal        int64             `firestore:"amountTotal"`
	Status             string            `firestore:"status"`
	ExternalOrderRef   string            `firestore:"externalOrderRef"`
	ExternalPaymentRef *string           `firestore:"externalPaymentRef,omitempty"`
	InvoiceNumber      *string           `firestore:"invoiceNumber,omitempty"`
	FailureReason      *string           `firestore:"failureReason,omitempty"`
	OperatorNote       *string           `firestore:"operatorNote,omitempty"`
	InvoiceDocumentURL *string           `firestore:"invoiceDocumentUrl,omitempty"`
	CreatedAt          time.Time         `firestore:"createdAt"`
	StatusChangedAt    time.Time         `firestore:"statusChangedAt"`
	PaidAt             *time.Time        `firestore:"paidAt,omitempty"`
}

func orderToDocument(order domain.Order) orderDocument {
	lines := make([]taxLineDocument, 0, len(order.Amount.TaxLines))
	for _, line := range order.Amount.TaxLines {
		lines = append(lines, taxLineDocument{Label: line.Label, Value: line.Value})
	}
	return orderDocument{
		FeatureKind:        string(order.FeatureKind),
		SubjectID:          order.Subject.SubjectID,
		PayerID:            order.Subject.PayerID,
		AmountBase:         order.Amount.Base,
		AmountTaxLines:     lines,
		AmountTotal:        order.Amount.Total,
		Status:             string(order.Status),
		ExternalOrderRef:   order.ExternalOrderRef,
		ExternalPaymentRef: order.ExternalPaymentRef,
		InvoiceNumber:      order.InvoiceNumber,
		FailureReason:      order.FailureReason,
		OperatorNote:       order.OperatorNote,
		InvoiceDocumentURL: order.InvoiceDocumentURL,
		CreatedAt:          order.CreatedAt.UTC(),
		StatusChangedAt:    order.StatusChangedAt.UTC(),
		PaidAt:             order.PaidAt,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	lines := make([]domain.TaxLine, 0, len(d.AmountTaxLines))
	for _, line := range d.AmountTaxLines {
		lines = append(lines, domain.TaxLine{Label: line.Label, Value: line.Value})
	}
	return domain.Order{
		ID:          id,
		FeatureKind: domain.FeatureKind(d.FeatureKind),
		Subject: domain.SubjectRef{
			SubjectID: d.SubjectID,
			PayerID:   d.PayerID,
		},
		Amount: domain.Amount{
			Base:     d.AmountBase,
			TaxLines: lines,
			Total:    d.AmountTotal,
		},
		Status:             domain.OrderStatus(d.Status),
		ExternalOrderRef:   d.ExternalOrderRef,
		ExternalPaymentRef: d.ExternalPaymentRef,
		InvoiceNumber:      d.InvoiceNumber,
		FailureReason:      d.FailureReason,
		OperatorNote:       d.OperatorNote,
		InvoiceDocumentURL: d.InvoiceDocumentURL,
		CreatedAt:          d.CreatedAt,
		StatusChangedAt:    d.StatusChangedAt,
		PaidAt:             d.PaidAt,
	}
}

// OrderRepository implements repositories.OrderRepository backed by Firestore.
type OrderRepository struct {
	orders *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		orders: pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil),
	}, nil
}

// Insert creates the order record, failing on duplicate IDs.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	_, err := r.orders.Create(ctx, order.ID, orderToDocument(order))
	return err
}

// Update overwrites the order record.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	_, err := r.orders.Set(ctx, order.ID, orderToDocument(order))
	return err
}

// Delete removes the order record. Used only to discard superseded PENDING orders.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	return r.orders.Delete(ctx, orderID)
}

// FindByID fetches the order by its identifier.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByExternalOrderRef locates the order correlated to a gateway order reference.
func (r *OrderRepository) FindByExternalOrderRef(ctx context.Context, externalOrderRef string) (domain.Order, error) {
	ref := strings.TrimSpace(externalOrderRef)
	if ref == "" {
		return domain.Order{}, errors.New("order repository: external order ref is required")
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("externalOrderRef", "==", ref).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, notFoundError("orders.findByExternalOrderRef", ref)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// FindOpenBySubject returns the single PENDING or PROCESSING order for the
// (subject, featureKind) pair.
func (r *OrderRepository) FindOpenBySubject(ctx context.Context, subject domain.SubjectRef, kind domain.FeatureKind) (domain.Order, error) {
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.
			Where("subjectId", "==", subject.SubjectID).
			Where("featureKind", "==", string(kind)).
			Where("status", "in", []string{string(domain.OrderStatusPending), string(domain.OrderStatusProcessing)}).
			Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, notFoundError("orders.findOpenBySubject", subject.SubjectID)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// ListStaleProcessing returns PROCESSING orders whose status last changed before cutoff.
func (r *OrderRepository) ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.
			Where("status", "==", string(domain.OrderStatusProcessing)).
			Where("statusChangedAt", "<", cutoff.UTC()).
			OrderBy("statusChangedAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders, nil
}

// NumbersWithPrefix returns every issued invoice number starting with prefix.
// Range bounds over the string field stand in for a prefix match.
func (r *OrderRepository) NumbersWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	if strings.TrimSpace(prefix) == "" {
		return nil, errors.New("order repository: prefix is required")
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.
			Where("invoiceNumber", ">=", prefix).
			Where("invoiceNumber", "<", prefix+"")
	})
	if err != nil {
		return nil, err
	}

	numbers := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc.Data.InvoiceNumber != nil {
			numbers = append(numbers, *doc.Data.InvoiceNumber)
		}
	}
	return numbers, nil
}
