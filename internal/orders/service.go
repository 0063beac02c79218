package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-bookstore-orders.git/internal/auth"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/logging"
	"golang.org/x/sync/singleflight"
)

// Store is the persistence the query surface needs; *Repo implements it.
type Store interface {
	Get(ctx context.Context, orderID, ownerID string) (Order, error)
	List(ctx context.Context, f Filter) ([]Order, error)
	UpdateStatus(ctx context.Context, orderID string, to Status, allow func(from, to Status) bool) (Status, error)
	History(ctx context.Context, orderID string) ([]StatusChange, error)
}

// Service is the read and status surface over orders. Cache and Events are optional.
type Service struct {
	Store             Store
	Cache             *Cache
	Events            *Emitter
	StrictTransitions bool
	ServiceName       string

	loads singleflight.Group
}

// Get returns the order if the requester owns it or is an administrator.
func (s *Service) Get(ctx context.Context, orderID string, who auth.Principal) (Order, error) {
	if who.UserID == "" {
		return Order{}, auth.ErrUnauthorized
	}
	o, err := s.load(ctx, orderID, who)
	if err != nil {
		return Order{}, err
	}
	if !who.IsAdmin() && o.UserID != who.UserID {
		return Order{}, ErrNotFound
	}
	if who.IsAdmin() {
		h, err := s.Store.History(ctx, orderID)
		if err != nil {
			return Order{}, err
		}
		o.History = h
	}
	return o, nil
}

func (s *Service) load(ctx context.Context, orderID string, who auth.Principal) (Order, error) {
	if s.Cache != nil {
		o, err := s.Cache.Get(ctx, orderID)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			logging.Err(logging.Fields{Service: s.ServiceName, OrderID: orderID, Step: "order_cache", Status: "get_failed"}, err)
		}
	}

	owner := who.UserID
	if who.IsAdmin() {
		owner = ""
	}
	v, err, _ := s.loads.Do(orderID+"|"+owner, func() (any, error) {
		o, err := s.Store.Get(ctx, orderID, owner)
		if err != nil {
			return Order{}, err
		}
		if s.Cache != nil {
			if err := s.Cache.Set(ctx, o); err != nil {
				logging.Err(logging.Fields{Service: s.ServiceName, OrderID: orderID, Step: "order_cache", Status: "set_failed"}, err)
			}
		}
		return o, nil
	})
	if err != nil {
		return Order{}, err
	}
	return v.(Order), nil
}

// List returns the requester's own orders, or for administrators every order, newest first.
// allUsers is ignored for non-administrators.
func (s *Service) List(ctx context.Context, who auth.Principal, status string, allUsers bool) ([]Order, error) {
	if who.UserID == "" {
		return nil, auth.ErrUnauthorized
	}
	f := Filter{UserID: who.UserID}
	if allUsers && who.IsAdmin() {
		f.UserID = ""
	}
	if status != "" && status != "all" {
		st, err := ParseStatus(status)
		if err != nil {
			return nil, err
		}
		f.Status = st
	}
	return s.Store.List(ctx, f)
}

// SetStatus is administrator-only. It touches nothing but the status column.
func (s *Service) SetStatus(ctx context.Context, orderID, status string, who auth.Principal) (Order, error) {
	if who.UserID == "" {
		return Order{}, auth.ErrUnauthorized
	}
	if !who.IsAdmin() {
		return Order{}, ErrForbidden
	}
	to, err := ParseStatus(status)
	if err != nil {
		return Order{}, err
	}
	var allow func(from, to Status) bool
	if s.StrictTransitions {
		allow = CanTransition
	}
	from, err := s.Store.UpdateStatus(ctx, orderID, to, allow)
	if err != nil {
		return Order{}, err
	}
	if from != to {
		s.Events.StatusChanged(orderID, from, to, who.UserID, "")
		logging.Log(logging.Fields{Service: s.ServiceName, UserID: who.UserID, OrderID: orderID, Step: "set_status",
			Status: string(to), Message: fmt.Sprintf("%s -> %s", from, to)})
	}

	o, err := s.Store.Get(ctx, orderID, "")
	if err != nil {
		s.invalidate(ctx, orderID)
		return Order{}, err
	}
	// The fresh row carries a newer updated_at, so it replaces the entry and any
	// read that started before the change can no longer overwrite it.
	if s.Cache != nil {
		if err := s.Cache.Set(ctx, o); err != nil {
			logging.Err(logging.Fields{Service: s.ServiceName, OrderID: orderID, Step: "order_cache", Status: "set_failed"}, err)
			s.invalidate(ctx, orderID)
		}
	}
	return o, nil
}

func (s *Service) invalidate(ctx context.Context, orderID string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Invalidate(ctx, orderID); err != nil {
		logging.Err(logging.Fields{Service: s.ServiceName, OrderID: orderID, Step: "order_cache", Status: "invalidate_failed"}, err)
	}
}
