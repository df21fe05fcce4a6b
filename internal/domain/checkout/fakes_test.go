package checkout

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/xenking/giftbox-api/internal/domain/coupon"
	"github.com/xenking/giftbox-api/internal/domain/intent"
	"github.com/xenking/giftbox-api/internal/domain/order"
	"github.com/xenking/giftbox-api/internal/domain/payment"
	"github.com/xenking/giftbox-api/internal/domain/pricing"
	"github.com/xenking/giftbox-api/internal/domain/product"
)

const (
	testKeySecret     = "s3cret"
	testWebhookSecret = "whsec"
)

// --- catalog ---

type stockOp struct {
	op        string
	productID string
	qty       int
}

type memCatalog struct {
	mu         sync.Mutex
	products   map[string]*product.Product
	conflictOn map[string]bool
	failOn     map[string]error
	ops        []stockOp
}

func newCatalog(products ...product.Product) *memCatalog {
	c := &memCatalog{
		products:   make(map[string]*product.Product),
		conflictOn: make(map[string]bool),
		failOn:     make(map[string]error),
	}
	for i := range products {
		p := products[i]
		c.products[p.ID] = &p
	}
	return c
}

func (c *memCatalog) List(context.Context) ([]product.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]product.Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, *p)
	}
	return out, nil
}

func (c *memCatalog) GetByID(_ context.Context, id string) (*product.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (c *memCatalog) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []product.Product
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			cp := *p
			cp.Stock = copyInt(p.Stock)
			cp.Variants = append([]product.Variant(nil), p.Variants...)
			for i := range cp.Variants {
				cp.Variants[i].Stock = copyInt(p.Variants[i].Stock)
			}
			out = append(out, cp)
		}
	}
	return out, nil
}

func (c *memCatalog) counter(t product.StockTarget) *int {
	p, ok := c.products[t.ProductID]
	if !ok {
		return nil
	}
	if t.Variant == nil {
		return p.Stock
	}
	for i := range p.Variants {
		if p.Variants[i].Position == *t.Variant {
			return p.Variants[i].Stock
		}
	}
	return nil
}

func (c *memCatalog) DecrementStock(_ context.Context, t product.StockTarget, qty int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failOn[t.ProductID]; err != nil {
		return err
	}
	s := c.counter(t)
	if c.conflictOn[t.ProductID] || s == nil || *s < qty {
		return product.ErrStockConflict
	}
	*s -= qty
	c.ops = append(c.ops, stockOp{op: "dec", productID: t.ProductID, qty: qty})
	return nil
}

func (c *memCatalog) IncrementStock(_ context.Context, t product.StockTarget, qty int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.counter(t)
	if s == nil {
		return product.ErrNotFound
	}
	*s += qty
	c.ops = append(c.ops, stockOp{op: "inc", productID: t.ProductID, qty: qty})
	return nil
}

func (c *memCatalog) stock(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.products[id].Stock
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func intPtr(v int) *int { return &v }

// --- coupons ---

type memCoupons struct {
	mu        sync.Mutex
	byCode    map[string]*coupon.Coupon
	redeemed  []string
	redeemErr error
}

func newCoupons(cs ...coupon.Coupon) *memCoupons {
	m := &memCoupons{byCode: make(map[string]*coupon.Coupon)}
	for i := range cs {
		c := cs[i]
		m.byCode[c.Code] = &c
	}
	return m
}

func (m *memCoupons) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byCode[code]
	if !ok {
		return nil, coupon.ErrInvalidCoupon
	}
	cp := *c
	return &cp, nil
}

func (m *memCoupons) IncrementUsage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redeemErr != nil {
		return m.redeemErr
	}
	m.redeemed = append(m.redeemed, id)
	return nil
}

func (m *memCoupons) ListActiveCodes(context.Context) ([]string, error) {
	return nil, nil
}

// --- orders ---

type memOrders struct {
	mu        sync.Mutex
	byID      map[string]*order.Order
	createErr error

	// beforeCreate runs inside Create; it may insert a competing order.
	beforeCreate func(o *order.Order)
}

func newOrders() *memOrders {
	return &memOrders{byID: make(map[string]*order.Order)}
}

func (m *memOrders) put(o order.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[o.OrderID] = &o
}

func (m *memOrders) get(id string) *order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil
	}
	cp := *o
	return &cp
}

func (m *memOrders) Create(_ context.Context, o *order.Order) error {
	if m.beforeCreate != nil {
		m.beforeCreate(o)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.byID {
		if existing.GatewayOrderID == o.GatewayOrderID {
			return order.ErrDuplicateGatewayOrder
		}
	}
	cp := *o
	m.byID[o.OrderID] = &cp
	return nil
}

func (m *memOrders) GetByID(_ context.Context, id string) (*order.Order, error) {
	if o := m.get(id); o != nil {
		return o, nil
	}
	return nil, order.ErrNotFound
}

func (m *memOrders) GetByGatewayOrderID(_ context.Context, gid string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byID {
		if o.GatewayOrderID == gid {
			cp := *o
			return &cp, nil
		}
	}
	return nil, order.ErrNotFound
}

func (m *memOrders) ListByUser(context.Context, string) ([]order.Order, error) {
	return nil, nil
}

func (m *memOrders) List(context.Context, order.ListFilter) ([]order.Order, int, error) {
	return nil, 0, nil
}

func (m *memOrders) UpdateStatus(context.Context, string, order.Status) (*order.Order, error) {
	return nil, errors.New("not implemented")
}

func (m *memOrders) UpdatePayment(_ context.Context, id string, upd order.PaymentUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return false, order.ErrNotFound
	}
	if upd.OnlyFrom != "" && o.PaymentStatus != upd.OnlyFrom {
		return false, nil
	}
	o.PaymentStatus = upd.PaymentStatus
	if upd.PaymentID != "" {
		o.PaymentID = upd.PaymentID
	}
	if upd.Status != "" {
		o.Status = upd.Status
	}
	return true, nil
}

func (m *memOrders) Delete(context.Context, string) error { return nil }

func (m *memOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// --- counter ---

type seqCounter struct {
	mu sync.Mutex
	n  int64
}

func (c *seqCounter) Next(context.Context, string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n, nil
}

// --- intents ---

type fakeIntents struct {
	mu        sync.Mutex
	fees      intent.DeliveryFees
	created   []intent.CreateParams
	status    map[string]intent.Status
	payments  map[string]string
	createErr error
}

func newIntents() *fakeIntents {
	return &fakeIntents{
		fees: intent.DeliveryFees{
			DiscountedCity: "aligarh",
			DiscountedFee:  decimal.NewFromInt(40),
			StandardFee:    decimal.NewFromInt(80),
		},
		status:   make(map[string]intent.Status),
		payments: make(map[string]string),
	}
}

func (f *fakeIntents) DeliveryFee(city string) decimal.Decimal { return f.fees.For(city) }

func (f *fakeIntents) Create(_ context.Context, p intent.CreateParams) (*intent.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, p)
	f.status[p.GatewayOrderID] = intent.StatusPending
	return &intent.Intent{GatewayOrderID: p.GatewayOrderID, Status: intent.StatusPending}, nil
}

func (f *fakeIntents) set(gid string, s intent.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.status[gid]; !ok {
		return intent.ErrNotFound
	}
	f.status[gid] = s
	return nil
}

func (f *fakeIntents) Complete(_ context.Context, gid string) error {
	return f.set(gid, intent.StatusCompleted)
}

func (f *fakeIntents) Fail(_ context.Context, gid string) error {
	return f.set(gid, intent.StatusFailed)
}

func (f *fakeIntents) RecordPayment(_ context.Context, gid, paymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status[gid] == intent.StatusFailed && f.payments[gid] != paymentID {
		f.status[gid] = intent.StatusPending
	}
	f.payments[gid] = paymentID
	return nil
}

func (f *fakeIntents) statusOf(gid string) intent.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status[gid]
}

// --- gateway ---

type refundCall struct {
	paymentID string
	req       payment.RefundRequest
}

type fakeGateway struct {
	mu        sync.Mutex
	payments  map[string]*payment.Payment
	created   []payment.CreateOrderRequest
	refunds   []refundCall
	fetches   int
	createErr error
	fetchErr  error
	refundErr error
}

func newGateway() *fakeGateway {
	return &fakeGateway{payments: make(map[string]*payment.Payment)}
}

func (g *fakeGateway) CreateOrder(_ context.Context, req payment.CreateOrderRequest) (*payment.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created = append(g.created, req)
	return &payment.GatewayOrder{
		ID:       fmt.Sprintf("order_%d", len(g.created)),
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   payment.StatusCreated,
	}, nil
}

func (g *fakeGateway) FetchPayment(_ context.Context, id string) (*payment.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	p, ok := g.payments[id]
	if !ok {
		return nil, errors.New("payment not found")
	}
	cp := *p
	return &cp, nil
}

func (g *fakeGateway) Refund(_ context.Context, id string, req payment.RefundRequest) (*payment.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, refundCall{paymentID: id, req: req})
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &payment.Refund{ID: "rfnd_1", PaymentID: id, Amount: req.Amount, Status: "processed"}, nil
}

func (g *fakeGateway) pay(id, gid string, amount int64, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[id] = &payment.Payment{
		ID: id, OrderID: gid, Amount: amount, Currency: payment.Currency, Status: status,
	}
}

// --- webhooks ---

type fakeDecoder struct {
	ev  *payment.WebhookEvent
	err error
}

func (d *fakeDecoder) DecodeWebhook([]byte) (*payment.WebhookEvent, error) {
	if d.err != nil {
		return nil, d.err
	}
	cp := *d.ev
	return &cp, nil
}

type memProcessed struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memProcessed) MarkProcessed(_ context.Context, id, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[id] {
		return false, nil
	}
	m.seen[id] = true
	return true, nil
}

// --- lock & events ---

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func (l *fakeLocker) TryLock(_ context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.held[key] {
		return nil, ErrLockHeld
	}
	l.held[key] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []order.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e order.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []order.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]order.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// --- fixture ---

type fixture struct {
	svc       *Service
	catalog   *memCatalog
	coupons   *memCoupons
	orders    *memOrders
	intents   *fakeIntents
	gateway   *fakeGateway
	decoder   *fakeDecoder
	processed *memProcessed
	locker    *fakeLocker
	events    *recordingPublisher
}

func newFixture(t *testing.T, products ...product.Product) *fixture {
	t.Helper()

	f := &fixture{
		catalog: newCatalog(products...),
		coupons: newCoupons(coupon.Coupon{
			ID:            "c-save10",
			Code:          "SAVE10",
			Type:          coupon.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(10),
			ValidTill:     time.Now().Add(24 * time.Hour),
			Active:        true,
		}),
		orders:    newOrders(),
		intents:   newIntents(),
		gateway:   newGateway(),
		decoder:   &fakeDecoder{ev: &payment.WebhookEvent{}},
		processed: &memProcessed{seen: make(map[string]bool)},
		locker:    &fakeLocker{held: make(map[string]bool)},
		events:    &recordingPublisher{},
	}

	svc, err := NewService(Config{
		KeyID:         "rzp_test_key",
		KeySecret:     testKeySecret,
		WebhookSecret: testWebhookSecret,
	}, Deps{
		Pricer:    pricing.NewValidator(f.catalog, coupon.NewRepoValidator(f.coupons, nil)),
		Intents:   f.intents,
		Orders:    f.orders,
		IDs:       order.NewAllocator(&seqCounter{}),
		Stock:     f.catalog,
		Coupons:   f.coupons,
		Gateway:   f.gateway,
		Webhooks:  f.decoder,
		Processed: f.processed,
		Locker:    f.locker,
		Events:    f.events,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func simpleProduct(id string, price int64, stock int) product.Product {
	return product.Product{
		ID:        id,
		Name:      "Product " + id,
		Price:     decimal.NewFromInt(price),
		Stock:     intPtr(stock),
		Available: true,
	}
}

func (f *fixture) verifyRequest(gid, pid string, items ...pricing.ItemRequest) VerifyRequest {
	return VerifyRequest{
		UserID:         "user-123456789",
		GatewayOrderID: gid,
		PaymentID:      pid,
		Signature:      payment.Sign(gid, pid, []byte(testKeySecret)),
		Items:          items,
		Address:        &order.Address{Name: "Asha", Phone: "9999999999", City: "Delhi", State: "DL", ZipCode: "110001"},
	}
}
