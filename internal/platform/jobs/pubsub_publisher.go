package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/stagelink/billing/internal/domain"
)

// PubSubDocumentPublisher publishes invoice document generation jobs to a Pub/Sub topic.
type PubSubDocumentPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubDocumentPublisher constructs a Pub/Sub backed document job publisher.
func NewPubSubDocumentPublisher(topic *pubsub.Topic) (*PubSubDocumentPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub document publisher: topic is required")
	}
	return &PubSubDocumentPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishDocumentJob enqueues an invoice document job message on the configured topic.
func (p *PubSubDocumentPublisher) PublishDocumentJob(ctx context.Context, job domain.InvoiceDocumentJob) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub document publisher: not initialised")
	}

	data, err := p.marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal document job: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "orderId", job.OrderID)
	setAttr(attrs, "invoiceNumber", job.InvoiceNumber)
	setAttr(attrs, "featureKind", job.FeatureKind)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish document job: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
