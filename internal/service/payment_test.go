package service

import (
	"context"
	"errors"
	"testing"

	"github.com/tableorder/api/internal/database"
	"github.com/tableorder/api/internal/enum"
)

func TestMarkPaid_StaffMethods(t *testing.T) {
	for _, method := range []string{"PAY_AT_TILL", "PAY_LATER"} {
		t.Run(method, func(t *testing.T) {
			fx := newFixture(t)
			placed := fx.place(t, "", fx.item(fx.cola, 1))

			res, err := fx.orders.MarkPaid(context.Background(), fx.venueID, placed.Order.ID, method, fx.staff)
			if err != nil {
				t.Fatalf("pay: %v", err)
			}
			if res.Outcome != OutcomePaid || !res.Changed {
				t.Errorf("got %s changed=%v", res.Outcome, res.Changed)
			}
			o := fx.order(placed.Order.ID)
			if o.PaymentStatus != database.PaymentStatusPAID || string(o.PaymentMethod.PaymentMethod) != method {
				t.Errorf("stored %s/%s", o.PaymentStatus, o.PaymentMethod.PaymentMethod)
			}
			if fx.pub.count(enum.EventOrderPaymentChanged) != 1 {
				t.Errorf("events: %v", fx.pub.types())
			}
		})
	}
}

func TestMarkPaid_PayNowOnlyFromGateway(t *testing.T) {
	fx := newFixture(t)
	placed := fx.place(t, "PAY_NOW", fx.item(fx.cola, 1))
	ctx := context.Background()

	for _, a := range []Actor{fx.staff, fx.manager, fx.guest} {
		_, err := fx.orders.MarkPaid(ctx, fx.venueID, placed.Order.ID, "PAY_NOW", a)
		if !errors.Is(err, ErrGatewayOnly) || !errors.Is(err, ErrForbidden) {
			t.Errorf("%s: expected ErrGatewayOnly, got %v", a.Role, err)
		}
	}
	if fx.order(placed.Order.ID).PaymentStatus != database.PaymentStatusUNPAID {
		t.Fatal("rejected call must not settle the order")
	}

	res, err := fx.orders.MarkPaid(ctx, fx.venueID, placed.Order.ID, "PAY_NOW", GatewayActor())
	if err != nil {
		t.Fatalf("gateway pay: %v", err)
	}
	if res.Order.PaymentStatus != database.PaymentStatusPAID {
		t.Errorf("got %s", res.Order.PaymentStatus)
	}
}

func TestMarkPaid_GatewayCannotUseStaffMethods(t *testing.T) {
	fx := newFixture(t)
	placed := fx.place(t, "", fx.item(fx.cola, 1))
	_, err := fx.orders.MarkPaid(context.Background(), fx.venueID, placed.Order.ID, "PAY_AT_TILL", GatewayActor())
	if !errors.Is(err, ErrRoleNotAllowed) {
		t.Errorf("expected ErrRoleNotAllowed, got %v", err)
	}
}

func TestMarkPaid_AlreadyPaidIsNoop(t *testing.T) {
	fx := newFixture(t)
	placed := fx.place(t, "", fx.item(fx.cola, 1))
	ctx := context.Background()

	if _, err := fx.orders.MarkPaid(ctx, fx.venueID, placed.Order.ID, "PAY_AT_TILL", fx.staff); err != nil {
		t.Fatalf("pay: %v", err)
	}
	res, err := fx.orders.MarkPaid(ctx, fx.venueID, placed.Order.ID, "PAY_LATER", fx.staff)
	if err != nil {
		t.Fatalf("second pay: %v", err)
	}
	if res.Outcome != OutcomeAlreadyPaid || res.Changed {
		t.Errorf("got %s changed=%v", res.Outcome, res.Changed)
	}
	if m := fx.order(placed.Order.ID).PaymentMethod.PaymentMethod; m != database.PaymentMethodPAYATTILL {
		t.Errorf("method must stay PAY_AT_TILL, got %s", m)
	}
	if fx.pub.count(enum.EventOrderPaymentChanged) != 1 {
		t.Errorf("no event for a no-op, got %v", fx.pub.types())
	}
}

func TestMarkPaid_Rejections(t *testing.T) {
	fx := newFixture(t)
	placed := fx.place(t, "", fx.item(fx.cola, 1))
	ctx := context.Background()

	if _, err := fx.orders.MarkPaid(ctx, fx.venueID, placed.Order.ID, "CASH", fx.staff); !errors.Is(err, ErrInvalidPaymentMethod) {
		t.Errorf("bad method: %v", err)
	}
	if _, err := fx.orders.MarkPaid(ctx, fx.venueID, placed.Order.ID, "", fx.staff); !errors.Is(err, ErrInvalidPaymentMethod) {
		t.Errorf("empty method: %v", err)
	}
	if _, err := fx.orders.MarkPaid(ctx, fx.venueID, placed.Order.ID, "PAY_AT_TILL", fx.kitchen); !errors.Is(err, ErrForbidden) {
		t.Errorf("kitchen role: %v", err)
	}

	if _, err := fx.orders.CancelOrder(ctx, fx.venueID, placed.Order.ID, "", fx.staff); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := fx.orders.MarkPaid(ctx, fx.venueID, placed.Order.ID, "PAY_AT_TILL", fx.staff); !errors.Is(err, ErrOrderCancelled) {
		t.Errorf("cancelled: %v", err)
	}
}

func TestMarkPayLater(t *testing.T) {
	tests := []struct {
		name    string
		initial string
		wantErr error
		outcome string
	}{
		{"from unset", "", nil, OutcomePayLater},
		{"from pay now", "PAY_NOW", nil, OutcomePayLater},
		{"already pay later", "PAY_LATER", nil, OutcomeAlreadyPayLater},
		{"pay at till", "PAY_AT_TILL", ErrPayLaterNotAllowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			placed := fx.place(t, tt.initial, fx.item(fx.cola, 1))

			res, err := fx.orders.MarkPayLater(context.Background(), fx.venueID, placed.Order.ID, fx.guest)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || !errors.Is(err, ErrNotEligible) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("pay later: %v", err)
			}
			if res.Outcome != tt.outcome {
				t.Errorf("outcome: got %s, want %s", res.Outcome, tt.outcome)
			}
			o := fx.order(placed.Order.ID)
			if o.PaymentMethod.PaymentMethod != database.PaymentMethodPAYLATER || o.PaymentStatus != database.PaymentStatusUNPAID {
				t.Errorf("stored %s/%s", o.PaymentStatus, o.PaymentMethod.PaymentMethod)
			}
		})
	}
}

func TestMarkPayLater_PaidOrCancelled(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	paid := fx.place(t, "", fx.item(fx.cola, 1))
	if _, err := fx.orders.MarkPaid(ctx, fx.venueID, paid.Order.ID, "PAY_AT_TILL", fx.staff); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if _, err := fx.orders.MarkPayLater(ctx, fx.venueID, paid.Order.ID, fx.guest); !errors.Is(err, ErrAlreadyPaid) {
		t.Errorf("paid: expected ErrAlreadyPaid, got %v", err)
	}

	cancelled := fx.place(t, "", fx.item(fx.cola, 1))
	if _, err := fx.orders.CancelOrder(ctx, fx.venueID, cancelled.Order.ID, "", fx.staff); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := fx.orders.MarkPayLater(ctx, fx.venueID, cancelled.Order.ID, fx.guest); !errors.Is(err, ErrNotEligible) {
		t.Errorf("cancelled: expected not eligible, got %v", err)
	}
}

func TestIsPayable(t *testing.T) {
	if IsPayable(database.Order{PaymentStatus: database.PaymentStatusUNPAID}) {
		t.Error("unpaid order is not payable")
	}
	if !IsPayable(database.Order{PaymentStatus: database.PaymentStatusPAID}) {
		t.Error("paid order is payable")
	}
}
