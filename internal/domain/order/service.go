package order

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
	// maxPage bounds the listing offset.
	maxPage = 100_000
)

// Page is one page of an admin order listing.
type Page struct {
	Orders      []Order
	CurrentPage int
	TotalPages  int
	TotalCount  int
	Limit       int
	HasNext     bool
	HasPrev     bool
}

// Service implements order reads and post-creation lifecycle changes for
// customers and administrators. Orders are created only by checkout.
type Service struct {
	orders Repository
	events EventPublisher
}

// NewService creates an order Service. A nil publisher drops events.
func NewService(orders Repository, events EventPublisher) *Service {
	if events == nil {
		events = NopPublisher{}
	}
	return &Service{orders: orders, events: events}
}

// GetForUser returns the order only if it belongs to userID.
func (s *Service) GetForUser(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotFound
	}
	return o, nil
}

// ListForUser returns all orders placed by userID, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Order, error) {
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list user orders")
	}
	return orders, nil
}

// Cancel soft-cancels an order owned by userID. Stock and payment are left
// untouched.
func (s *Service) Cancel(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := s.GetForUser(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusCancelled {
		return nil, ErrAlreadyCancelled
	}

	updated, err := s.orders.UpdateStatus(ctx, orderID, StatusCancelled)
	if err != nil {
		return nil, errors.Wrap(err, "cancel order")
	}
	s.publish(ctx, NewEvent(EventStatusChanged, updated))
	return updated, nil
}

// AdminGet returns any order by id.
func (s *Service) AdminGet(ctx context.Context, orderID string) (*Order, error) {
	return s.orders.GetByID(ctx, orderID)
}

// AdminList returns a filtered, sorted page of orders.
func (s *Service) AdminList(ctx context.Context, f ListFilter) (*Page, error) {
	f = normalizeFilter(f)

	orders, total, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}

	totalPages := (total + f.Limit - 1) / f.Limit
	return &Page{
		Orders:      orders,
		CurrentPage: f.Page,
		TotalPages:  totalPages,
		TotalCount:  total,
		Limit:       f.Limit,
		HasNext:     f.Page < totalPages,
		HasPrev:     f.Page > 1,
	}, nil
}

// AdminUpdateStatus moves an order to status.
func (s *Service) AdminUpdateStatus(ctx context.Context, orderID string, status Status) (*Order, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	o, err := s.orders.UpdateStatus(ctx, orderID, status)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, NewEvent(EventStatusChanged, o))
	return o, nil
}

// AdminDelete removes an order.
func (s *Service) AdminDelete(ctx context.Context, orderID string) error {
	if err := s.orders.Delete(ctx, orderID); err != nil {
		return err
	}
	s.publish(ctx, Event{Type: EventDeleted, OrderID: orderID})
	return nil
}

func (s *Service) publish(ctx context.Context, e Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Publish order event",
			zap.String("type", string(e.Type)),
			zap.String("order_id", e.OrderID),
			zap.Error(err),
		)
	}
}

func normalizeFilter(f ListFilter) ListFilter {
	f.Page = min(max(f.Page, 1), maxPage)
	if f.Limit < 1 {
		f.Limit = defaultPageLimit
	}
	if f.Limit > maxPageLimit {
		f.Limit = maxPageLimit
	}
	switch f.SortBy {
	case SortCreatedAt, SortFinalAmount, SortOrderID:
	default:
		f.SortBy = SortCreatedAt
	}
	if strings.EqualFold(string(f.Status), "all") {
		f.Status = ""
	}
	if strings.EqualFold(string(f.PaymentStatus), "all") {
		f.PaymentStatus = ""
	}
	f.Search = strings.TrimSpace(f.Search)
	return f
}
