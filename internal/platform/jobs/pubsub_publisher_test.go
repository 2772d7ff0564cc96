package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/stagelink/billing/internal/domain"
)

func TestPubSubDocumentPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "invoice-documents")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubDocumentPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubDocumentPublisher: %v", err)
	}

	job := domain.InvoiceDocumentJob{
		OrderID:       "ord_01H",
		InvoiceNumber: "SL2603-42",
		FeatureKind:   "credit_purchase",
		RequestedAt:   time.Date(2026, 3, 6, 9, 0, 0, 0, time.UTC),
	}

	if _, err := publisher.PublishDocumentJob(ctx, job); err != nil {
		t.Fatalf("PublishDocumentJob: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected one message, got %d", len(messages))
	}

	var decoded domain.InvoiceDocumentJob
	if err := json.Unmarshal(messages[0].Data, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded.OrderID != job.OrderID || decoded.InvoiceNumber != job.InvoiceNumber {
		t.Fatalf("unexpected payload %+v", decoded)
	}
	if messages[0].Attributes["orderId"] != "ord_01H" {
		t.Fatalf("missing orderId attribute: %v", messages[0].Attributes)
	}
	if messages[0].Attributes["invoiceNumber"] != "SL2603-42" {
		t.Fatalf("missing invoiceNumber attribute: %v", messages[0].Attributes)
	}
}

func TestNewPubSubDocumentPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubDocumentPublisher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
