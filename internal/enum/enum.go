package enum

// ── Roles carried in the access token ──

const (
	RoleOwner   = "OWNER"
	RoleManager = "MANAGER"
	RoleStaff   = "STAFF"
	RoleKitchen = "KITCHEN"
	RoleGuest   = "GUEST"

	// RoleGateway is never issued in a token; the payment webhook acts as it.
	RoleGateway = "GATEWAY"
)

// StaffRoles may settle payments and move orders through service.
var StaffRoles = []string{RoleOwner, RoleManager, RoleStaff}

// KitchenRoles may work the kitchen board.
var KitchenRoles = []string{RoleOwner, RoleManager, RoleStaff, RoleKitchen}

// ManagerRoles may change venue configuration.
var ManagerRoles = []string{RoleOwner, RoleManager}

func IsStaff(role string) bool {
	for _, r := range StaffRoles {
		if r == role {
			return true
		}
	}
	return false
}

// ── Domain events ──

const (
	EventOrderPlaced          = "order.placed"
	EventOrderStatusChanged   = "order.status_changed"
	EventOrderPaymentChanged  = "order.payment_changed"
	EventTicketStatusChanged  = "ticket.status_changed"
	EventMenuItemUnavailable  = "menu_item.unavailable"
	EventMenuItemAvailability = "menu_item.availability_changed"
)

// ── Stock ledger reasons ──

const (
	StockReasonOrderCompleted = "ORDER_COMPLETED"
	StockReasonRestock        = "RESTOCK"
	StockReasonWaste          = "WASTE"
	StockReasonCount          = "COUNT_CORRECTION"
)

// ── Idempotent operations ──

const (
	OpPlaceOrder    = "place_order"
	OpServe         = "serve"
	OpPay           = "pay"
	OpPayLater      = "pay_later"
	OpComplete      = "complete"
	OpCancel        = "cancel"
	OpTicketStatus  = "ticket_status"
	OpGatewayPay    = "gateway_pay"
	OpAdjustStock   = "adjust_stock"
	OpCreateStation = "create_station"
)

// ReclaimableOps are the operations guarded by a status compare-and-swap, so
// running one again after a lost idempotency record cannot repeat its effect.
var ReclaimableOps = []string{OpServe, OpPay, OpPayLater, OpComplete, OpCancel, OpTicketStatus, OpGatewayPay}
