package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stagelink/billing/internal/domain"
)

type documentFixture struct {
	orders    *stubOrderRepo
	publisher *stubDocumentPublisher
	store     *stubDocumentStore
	svc       DocumentService
}

func newDocumentFixture(t *testing.T) *documentFixture {
	t.Helper()
	orders := newStubOrderRepo()
	publisher := &stubDocumentPublisher{}
	store := newStubDocumentStore()
	renderer, err := NewInvoiceRenderer("Stagelink Media Pvt Ltd", DefaultCatalog("KA"))
	if err != nil {
		t.Fatalf("NewInvoiceRenderer: %v", err)
	}

	svc, err := NewDocumentService(DocumentServiceDeps{
		Orders:    orders,
		Publisher: publisher,
		Renderer:  renderer,
		Store:     store,
		Clock:     fixedClock,
	})
	if err != nil {
		t.Fatalf("NewDocumentService: %v", err)
	}
	return &documentFixture{orders: orders, publisher: publisher, store: store, svc: svc}
}

func paidOrder() domain.Order {
	number := "SC2603-4"
	paymentRef := "rzp_pay_1"
	paidAt := fixedClock()
	return domain.Order{
		ID:          "ord_1",
		FeatureKind: domain.FeatureCreditPurchase,
		Subject:     domain.SubjectRef{SubjectID: "brand_1", PayerID: "usr_1"},
		Amount: domain.Amount{
			Base:     84661,
			TaxLines: []domain.TaxLine{{Label: "CGST", Value: 7620}, {Label: "SGST", Value: 7619}},
			Total:    99900,
		},
		Status:             domain.OrderStatusPaid,
		ExternalOrderRef:   "rzp_order_1",
		ExternalPaymentRef: &paymentRef,
		InvoiceNumber:      &number,
		CreatedAt:          fixedClock(),
		StatusChangedAt:    fixedClock(),
		PaidAt:             &paidAt,
	}
}

func TestEnqueueInvoiceDocumentPublishesJob(t *testing.T) {
	f := newDocumentFixture(t)

	f.svc.EnqueueInvoiceDocument(context.Background(), paidOrder())

	if len(f.publisher.jobs) != 1 {
		t.Fatalf("jobs published = %d, want 1", len(f.publisher.jobs))
	}
	job := f.publisher.jobs[0]
	if job.OrderID != "ord_1" || job.InvoiceNumber != "SC2603-4" {
		t.Fatalf("job = %+v", job)
	}
}

func TestEnqueueInvoiceDocumentSwallowsPublishFailure(t *testing.T) {
	f := newDocumentFixture(t)
	f.publisher.err = errors.New("topic gone")

	// Must not panic or surface the error; the payment is already committed.
	f.svc.EnqueueInvoiceDocument(context.Background(), paidOrder())
}

func TestEnqueueInvoiceDocumentIgnoresUnpaidOrders(t *testing.T) {
	f := newDocumentFixture(t)
	order := paidOrder()
	order.Status = domain.OrderStatusProcessing
	order.InvoiceNumber = nil

	f.svc.EnqueueInvoiceDocument(context.Background(), order)
	if len(f.publisher.jobs) != 0 {
		t.Fatalf("job published for unpaid order")
	}
}

func TestProcessDocumentJobStoresAndStampsURL(t *testing.T) {
	f := newDocumentFixture(t)
	order := paidOrder()
	f.orders.orders[order.ID] = order

	err := f.svc.ProcessDocumentJob(context.Background(), domain.InvoiceDocumentJob{
		OrderID:       order.ID,
		InvoiceNumber: "SC2603-4",
		FeatureKind:   string(order.FeatureKind),
		RequestedAt:   fixedClock(),
	})
	if err != nil {
		t.Fatalf("ProcessDocumentJob: %v", err)
	}

	stored := f.orders.orders[order.ID]
	if stored.InvoiceDocumentURL == nil || *stored.InvoiceDocumentURL == "" {
		t.Fatalf("document URL not stamped")
	}
	data, ok := f.store.objects["invoices/ord_1.html"]
	if !ok {
		t.Fatalf("document not stored, objects = %v", f.store.objects)
	}
	body := string(data)
	if !strings.Contains(body, "SC2603-4") || !strings.Contains(body, "999.00") {
		t.Fatalf("rendered document missing invoice fields:\n%s", body)
	}
}

func TestProcessDocumentJobSkipsWhenAlreadyStored(t *testing.T) {
	f := newDocumentFixture(t)
	order := paidOrder()
	url := "https://storage.example.com/invoices/ord_1.html"
	order.InvoiceDocumentURL = &url
	f.orders.orders[order.ID] = order

	if err := f.svc.ProcessDocumentJob(context.Background(), domain.InvoiceDocumentJob{OrderID: order.ID}); err != nil {
		t.Fatalf("ProcessDocumentJob: %v", err)
	}
	if len(f.store.objects) != 0 {
		t.Fatalf("document regenerated despite stored URL")
	}
	if f.orders.updates != 0 {
		t.Fatalf("order updated on skip")
	}
}

func TestProcessDocumentJobRejectsUnpaidOrder(t *testing.T) {
	f := newDocumentFixture(t)
	order := paidOrder()
	order.Status = domain.OrderStatusProcessing
	f.orders.orders[order.ID] = order

	err := f.svc.ProcessDocumentJob(context.Background(), domain.InvoiceDocumentJob{OrderID: order.ID})
	if !errors.Is(err, ErrDocumentInvalidState) {
		t.Fatalf("err = %v, want ErrDocumentInvalidState", err)
	}
}
