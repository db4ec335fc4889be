package enum

// ── Group A: State machine (authoritative, owned by the card store) ──

const (
	CardStatusAvailable  = "AVAILABLE"
	CardStatusRequesting = "REQUESTING"
	CardStatusRequested  = "REQUESTED"
	CardStatusInProcess  = "IN_PROCESS"
	CardStatusReady      = "READY"
	CardStatusFulfilling = "FULFILLING"
	CardStatusFulfilled  = "FULFILLED"
)

// Events double as the remote verb names on the card store.
const (
	EventRequest         = "request"
	EventAccept          = "accept"
	EventStartProcessing = "start-processing"
	EventFulfill         = "fulfill"
)

// Buckets are the three server-side queries a card can currently belong to.
const (
	BucketRequested  = "requested"
	BucketInProcess  = "in-process"
	BucketRequesting = "requesting"
)

// ── Group B: Order mechanisms (unknown values normalize to ONLINE) ──

const (
	MechanismOnline        = "ONLINE"
	MechanismEmail         = "EMAIL"
	MechanismPhone         = "PHONE"
	MechanismPurchaseOrder = "PURCHASE_ORDER"
	MechanismInStore       = "IN_STORE"
	MechanismRFQ           = "RFQ"
	MechanismProduction    = "PRODUCTION"
	MechanismThirdParty    = "THIRD_PARTY"
)

// ── Group C: Derived view labels (not stored anywhere) ──

const (
	DerivedReadyToOrder = "Ready to order"
	DerivedRequesting   = "Requesting"
	DerivedRequested    = "Requested"
	DerivedInProgress   = "In progress"
	DerivedFulfilled    = "Fulfilled"
)

const NoSupplier = "No supplier"

const (
	GroupModeSupplier    = "supplier"
	GroupModeOrderMethod = "orderMethod"
	GroupModeNone        = "none"
)

const (
	TabReady  = "ready"
	TabRecent = "recent"
	TabAll    = "all"
)

const (
	BatchActionOrder    = "order"
	BatchActionComplete = "complete"
)

// Single-card actions exposed over HTTP and the CLI.
const (
	CardActionRequest  = "request"
	CardActionOrder    = "order"
	CardActionComplete = "complete"
	CardActionFulfill  = "fulfill"
)

const (
	NotifySuccess = "success"
	NotifyError   = "error"
	NotifyInfo    = "info"
	NotifyWarning = "warning"
)

// ── Group D: Roles carried in access tokens ──

const (
	RoleOwner     = "OWNER"
	RoleManager   = "MANAGER"
	RolePurchaser = "PURCHASER"
	RoleViewer    = "VIEWER"
	RoleService   = "SERVICE"
)
