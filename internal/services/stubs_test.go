package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/stagelink/billing/internal/domain"
	"github.com/stagelink/billing/internal/gateway"
)

type stubRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return e.msg }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

func notFoundError(msg string) error    { return stubRepoError{msg: msg, notFound: true} }
func conflictError(msg string) error    { return stubRepoError{msg: msg, conflict: true} }
func unavailableError(msg string) error { return stubRepoError{msg: msg, unavailable: true} }

type stubOrderRepo struct {
	orders        map[string]domain.Order
	seededNumbers []string
	insertErr     error
	updateErr     error
	deleted       []string
	updates       int
}

func newStubOrderRepo() *stubOrderRepo {
	return &stubOrderRepo{orders: map[string]domain.Order{}}
}

func (r *stubOrderRepo) Insert(_ context.Context, order domain.Order) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	if _, ok := r.orders[order.ID]; ok {
		return conflictError("order exists")
	}
	r.orders[order.ID] = order
	return nil
}

func (r *stubOrderRepo) Update(_ context.Context, order domain.Order) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.orders[order.ID]; !ok {
		return notFoundError("order missing")
	}
	r.orders[order.ID] = order
	r.updates++
	return nil
}

func (r *stubOrderRepo) Delete(_ context.Context, orderID string) error {
	if _, ok := r.orders[orderID]; !ok {
		return notFoundError("order missing")
	}
	delete(r.orders, orderID)
	r.deleted = append(r.deleted, orderID)
	return nil
}

func (r *stubOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundError("order missing")
	}
	return order, nil
}

func (r *stubOrderRepo) FindByExternalOrderRef(_ context.Context, ref string) (domain.Order, error) {
	for _, order := range r.orders {
		if order.ExternalOrderRef == ref {
			return order, nil
		}
	}
	return domain.Order{}, notFoundError("no order for ref")
}

func (r *stubOrderRepo) FindOpenBySubject(_ context.Context, subject domain.SubjectRef, kind domain.FeatureKind) (domain.Order, error) {
	for _, order := range r.orders {
		if order.Subject.SubjectID == subject.SubjectID && order.FeatureKind == kind && order.Status.IsOpen() {
			return order, nil
		}
	}
	return domain.Order{}, notFoundError("no open order")
}

func (r *stubOrderRepo) ListStaleProcessing(_ context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	var stale []domain.Order
	for _, order := range r.orders {
		if order.Status == domain.OrderStatusProcessing && order.StatusChangedAt.Before(cutoff) {
			stale = append(stale, order)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].StatusChangedAt.Before(stale[j].StatusChangedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (r *stubOrderRepo) NumbersWithPrefix(_ context.Context, prefix string) ([]string, error) {
	var numbers []string
	for _, number := range r.seededNumbers {
		if strings.HasPrefix(number, prefix) {
			numbers = append(numbers, number)
		}
	}
	for _, order := range r.orders {
		if order.InvoiceNumber != nil && strings.HasPrefix(*order.InvoiceNumber, prefix) {
			numbers = append(numbers, *order.InvoiceNumber)
		}
	}
	return numbers, nil
}

type stubUnitOfWork struct{}

func (stubUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type stubGrantRepo struct {
	grants  map[string]domain.EntitlementGrant
	inserts int
}

func newStubGrantRepo() *stubGrantRepo {
	return &stubGrantRepo{grants: map[string]domain.EntitlementGrant{}}
}

func (r *stubGrantRepo) Insert(_ context.Context, grant domain.EntitlementGrant) error {
	if _, ok := r.grants[grant.OrderID]; ok {
		return conflictError("grant exists")
	}
	r.grants[grant.OrderID] = grant
	r.inserts++
	return nil
}

func (r *stubGrantRepo) FindByOrderID(_ context.Context, orderID string) (domain.EntitlementGrant, error) {
	grant, ok := r.grants[orderID]
	if !ok {
		return domain.EntitlementGrant{}, notFoundError("grant missing")
	}
	return grant, nil
}

type stubCampaignRepo struct {
	campaigns map[string]domain.Campaign
	upgrades  int
}

func newStubCampaignRepo() *stubCampaignRepo {
	return &stubCampaignRepo{campaigns: map[string]domain.Campaign{}}
}

func (r *stubCampaignRepo) FindByID(_ context.Context, campaignID string) (domain.Campaign, error) {
	campaign, ok := r.campaigns[campaignID]
	if !ok {
		return domain.Campaign{}, notFoundError("campaign missing")
	}
	return campaign, nil
}

func (r *stubCampaignRepo) MarkUpgraded(_ context.Context, campaignID, orderID string, at time.Time) error {
	campaign, ok := r.campaigns[campaignID]
	if !ok {
		return notFoundError("campaign missing")
	}
	campaign.Upgraded = true
	campaign.UpgradeOrderID = &orderID
	campaign.UpgradedAt = &at
	campaign.UpdatedAt = at
	r.campaigns[campaignID] = campaign
	r.upgrades++
	return nil
}

type stubBrandRepo struct {
	brands        map[string]domain.Brand
	creditCalls   int
	inviteEnables int
}

func newStubBrandRepo() *stubBrandRepo {
	return &stubBrandRepo{brands: map[string]domain.Brand{}}
}

func (r *stubBrandRepo) FindByID(_ context.Context, brandID string) (domain.Brand, error) {
	brand, ok := r.brands[brandID]
	if !ok {
		return domain.Brand{}, notFoundError("brand missing")
	}
	return brand, nil
}

func (r *stubBrandRepo) AddCredits(_ context.Context, brandID string, units int64, at time.Time) error {
	brand, ok := r.brands[brandID]
	if !ok {
		return notFoundError("brand missing")
	}
	brand.ScoringCredits += units
	brand.UpdatedAt = at
	r.brands[brandID] = brand
	r.creditCalls++
	return nil
}

func (r *stubBrandRepo) EnableInviteAccess(_ context.Context, brandID, orderID string, at time.Time) error {
	brand, ok := r.brands[brandID]
	if !ok {
		return notFoundError("brand missing")
	}
	brand.InviteAccess = true
	brand.InviteOrderID = &orderID
	brand.UpdatedAt = at
	r.brands[brandID] = brand
	r.inviteEnables++
	return nil
}

type stubGateway struct {
	openResult gateway.OpenOrderResult
	openErr    error
	openCalls  int
	lastOpen   gateway.OpenOrderRequest
	payments   map[string]gateway.PaymentDetails
	statusErr  error
}

func (g *stubGateway) OpenOrder(_ context.Context, req gateway.OpenOrderRequest) (gateway.OpenOrderResult, error) {
	g.openCalls++
	g.lastOpen = req
	if g.openErr != nil {
		return gateway.OpenOrderResult{}, g.openErr
	}
	return g.openResult, nil
}

func (g *stubGateway) GetPaymentStatus(_ context.Context, paymentRef string) (gateway.PaymentDetails, error) {
	if g.statusErr != nil {
		return gateway.PaymentDetails{}, g.statusErr
	}
	details, ok := g.payments[paymentRef]
	if !ok {
		return gateway.PaymentDetails{}, gateway.ErrNotFound
	}
	return details, nil
}

type stubDocumentPublisher struct {
	jobs []domain.InvoiceDocumentJob
	err  error
}

func (p *stubDocumentPublisher) PublishDocumentJob(_ context.Context, job domain.InvoiceDocumentJob) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.jobs = append(p.jobs, job)
	return "msg_1", nil
}

type stubDocumentStore struct {
	objects map[string][]byte
	err     error
}

func newStubDocumentStore() *stubDocumentStore {
	return &stubDocumentStore{objects: map[string][]byte{}}
}

func (s *stubDocumentStore) Put(_ context.Context, objectName, _ string, data []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.objects[objectName] = data
	return "https://storage.example.com/" + objectName, nil
}

type stubDocumentService struct {
	enqueued []domain.Order
}

func (s *stubDocumentService) EnqueueInvoiceDocument(_ context.Context, order domain.Order) {
	s.enqueued = append(s.enqueued, order)
}

func (s *stubDocumentService) ProcessDocumentJob(context.Context, domain.InvoiceDocumentJob) error {
	return nil
}

func fixedClock() time.Time {
	return time.Date(2026, time.March, 15, 10, 30, 0, 0, time.UTC)
}
