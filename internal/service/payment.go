package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tableorder/api/internal/database"
	"github.com/tableorder/api/internal/enum"
)

// parsePaymentMethod validates a method string. allowEmpty accepts "" as
// unset.
func parsePaymentMethod(s string, allowEmpty bool) (database.NullPaymentMethod, error) {
	switch database.PaymentMethod(s) {
	case database.PaymentMethodPAYNOW, database.PaymentMethodPAYLATER, database.PaymentMethodPAYATTILL:
		return database.NullPaymentMethod{PaymentMethod: database.PaymentMethod(s), Valid: true}, nil
	}
	if s == "" && allowEmpty {
		return database.NullPaymentMethod{}, nil
	}
	return database.NullPaymentMethod{}, ErrInvalidPaymentMethod
}

// IsPayable reports whether the order has been settled.
func IsPayable(order database.Order) bool {
	return order.PaymentStatus == database.PaymentStatusPAID
}

// MarkPaid settles an order. PAY_NOW is only accepted from the gateway actor;
// the other methods need a staff role. Settling an already paid order is a
// no-op success.
func (s *OrderService) MarkPaid(ctx context.Context, venueID, orderID uuid.UUID, method string, actor Actor) (*TransitionResult, error) {
	defer s.deps.observe(time.Now())

	m, err := parsePaymentMethod(method, false)
	if err != nil {
		return nil, s.reject("pay", err)
	}
	if m.PaymentMethod == database.PaymentMethodPAYNOW {
		if actor.Role != enum.RoleGateway {
			return nil, s.reject("pay", ErrGatewayOnly)
		}
	} else if !actor.hasRole(enum.StaffRoles...) {
		return nil, s.reject("pay", ErrRoleNotAllowed)
	}

	var result TransitionResult
	scope, err := s.inTx(ctx, venueID, func(scope *txScope) error {
		order, err := lockOrder(ctx, scope.store, venueID, orderID)
		if err != nil {
			return err
		}
		if IsPayable(order) {
			result = TransitionResult{Order: order, Outcome: OutcomeAlreadyPaid}
			return nil
		}
		if order.Status == database.OrderStatusCANCELLED {
			return ErrOrderCancelled
		}

		updated, err := s.updatePayment(ctx, scope, order, database.PaymentStatusPAID, m)
		if err != nil {
			return err
		}
		s.addEvent(scope, enum.EventOrderPaymentChanged, order.ID, map[string]interface{}{
			"order_number":   updated.OrderNumber,
			"payment_status": updated.PaymentStatus,
			"payment_method": m.PaymentMethod,
			"actor_role":     actor.Role,
		})
		result = TransitionResult{Order: updated, Outcome: OutcomePaid, Changed: true}
		return nil
	})
	if err != nil {
		return nil, s.reject("pay", err)
	}
	s.afterCommit(ctx, scope)
	return &result, nil
}

// MarkPayLater defers payment on an unpaid order that is PAY_NOW or has no
// method yet. Any authenticated role may ask for it.
func (s *OrderService) MarkPayLater(ctx context.Context, venueID, orderID uuid.UUID, actor Actor) (*TransitionResult, error) {
	defer s.deps.observe(time.Now())

	var result TransitionResult
	scope, err := s.inTx(ctx, venueID, func(scope *txScope) error {
		order, err := lockOrder(ctx, scope.store, venueID, orderID)
		if err != nil {
			return err
		}
		if IsPayable(order) {
			return ErrAlreadyPaid
		}
		if IsTerminal(order.Status) {
			return ErrPayLaterNotAllowed
		}

		switch {
		case !order.PaymentMethod.Valid, order.PaymentMethod.PaymentMethod == database.PaymentMethodPAYNOW:
		case order.PaymentMethod.PaymentMethod == database.PaymentMethodPAYLATER:
			result = TransitionResult{Order: order, Outcome: OutcomeAlreadyPayLater}
			return nil
		default:
			return ErrPayLaterNotAllowed
		}

		m := database.NullPaymentMethod{PaymentMethod: database.PaymentMethodPAYLATER, Valid: true}
		updated, err := s.updatePayment(ctx, scope, order, database.PaymentStatusUNPAID, m)
		if err != nil {
			return err
		}
		s.addEvent(scope, enum.EventOrderPaymentChanged, order.ID, map[string]interface{}{
			"order_number":   updated.OrderNumber,
			"payment_status": updated.PaymentStatus,
			"payment_method": m.PaymentMethod,
			"actor_role":     actor.Role,
		})
		result = TransitionResult{Order: updated, Outcome: OutcomePayLater, Changed: true}
		return nil
	})
	if err != nil {
		return nil, s.reject("pay_later", err)
	}
	s.afterCommit(ctx, scope)
	return &result, nil
}

func (s *OrderService) updatePayment(ctx context.Context, scope *txScope, order database.Order, status database.PaymentStatus, method database.NullPaymentMethod) (database.Order, error) {
	updated, err := scope.store.UpdateOrderPayment(ctx, database.UpdateOrderPaymentParams{
		ID:                    order.ID,
		VenueID:               order.VenueID,
		PaymentStatus:         status,
		PaymentMethod:         method,
		ExpectedPaymentStatus: order.PaymentStatus,
		ExpectedPaymentMethod: order.PaymentMethod,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrStatusChanged
		}
		return database.Order{}, fmt.Errorf("update order payment: %w", err)
	}
	return updated, nil
}
