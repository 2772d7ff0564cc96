package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"

	"github.com/stagelink/billing/internal/domain"
)

// invoice layout kept deliberately plain; the document is a tax record, not
// marketing collateral.
const invoiceTemplateText = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Invoice {{.InvoiceNumber}}</title></head>
<body>
<h1>{{.SellerName}}</h1>
<p>Invoice {{.InvoiceNumber}} &middot; {{.IssuedAt}}</p>
<table>
<tr><td>{{.ItemName}}</td><td align="right">{{.Base}}</td></tr>
{{- range .TaxLines}}
<tr><td>{{.Label}}</td><td align="right">{{.Value}}</td></tr>
{{- end}}
<tr><td><strong>Total</strong></td><td align="right"><strong>{{.Total}}</strong></td></tr>
</table>
<p>Order {{.OrderID}} &middot; payment {{.PaymentRef}}</p>
</body>
</html>
`

type htmlInvoiceRenderer struct {
	sellerName string
	catalog    FeatureCatalog
	tmpl       *template.Template
}

// NewInvoiceRenderer builds an HTML renderer for paid orders.
func NewInvoiceRenderer(sellerName string, catalog FeatureCatalog) (DocumentRenderer, error) {
	if sellerName == "" {
		return nil, errors.New("invoice renderer: seller name is required")
	}
	if len(catalog) == 0 {
		return nil, errors.New("invoice renderer: feature catalog is required")
	}
	tmpl, err := template.New("invoice").Parse(invoiceTemplateText)
	if err != nil {
		return nil, fmt.Errorf("invoice renderer: parse template: %w", err)
	}
	return &htmlInvoiceRenderer{sellerName: sellerName, catalog: catalog, tmpl: tmpl}, nil
}

func (r *htmlInvoiceRenderer) Render(ctx context.Context, order domain.Order) ([]byte, string, error) {
	if order.Status != domain.OrderStatusPaid || order.InvoiceNumber == nil || order.PaidAt == nil {
		return nil, "", errors.New("invoice renderer: order is not paid")
	}
	descriptor, err := r.catalog.Descriptor(order.FeatureKind)
	if err != nil {
		return nil, "", err
	}

	type taxLineView struct {
		Label string
		Value string
	}
	view := struct {
		SellerName    string
		InvoiceNumber string
		IssuedAt      string
		ItemName      string
		Base          string
		TaxLines      []taxLineView
		Total         string
		OrderID       string
		PaymentRef    string
	}{
		SellerName:    r.sellerName,
		InvoiceNumber: *order.InvoiceNumber,
		IssuedAt:      order.PaidAt.Format("02 Jan 2006"),
		ItemName:      descriptor.DisplayName,
		Base:          formatPaise(order.Amount.Base),
		Total:         formatPaise(order.Amount.Total),
		OrderID:       order.ID,
		PaymentRef:    order.PaymentRef(),
	}
	for _, line := range order.Amount.TaxLines {
		view.TaxLines = append(view.TaxLines, taxLineView{Label: line.Label, Value: formatPaise(line.Value)})
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, view); err != nil {
		return nil, "", fmt.Errorf("invoice renderer: execute template: %w", err)
	}
	return buf.Bytes(), "text/html; charset=utf-8", nil
}

// formatPaise renders an integer paise amount as rupees, e.g. 29900 -> "299.00".
func formatPaise(value int64) string {
	sign := ""
	if value < 0 {
		sign = "-"
		value = -value
	}
	return fmt.Sprintf("%s%d.%02d", sign, value/100, value%100)
}
