package kanban

import (
	"errors"
	"strings"

	"github.com/kiwari-pos/kanban/internal/enum"
	"github.com/shopspring/decimal"
)

// CardID is the opaque, stable identifier of a card.
type CardID string

// Mechanism is the channel an order is placed through.
type Mechanism string

const (
	MechanismOnline        Mechanism = enum.MechanismOnline
	MechanismEmail         Mechanism = enum.MechanismEmail
	MechanismPhone         Mechanism = enum.MechanismPhone
	MechanismPurchaseOrder Mechanism = enum.MechanismPurchaseOrder
	MechanismInStore       Mechanism = enum.MechanismInStore
	MechanismRFQ           Mechanism = enum.MechanismRFQ
	MechanismProduction    Mechanism = enum.MechanismProduction
	MechanismThirdParty    Mechanism = enum.MechanismThirdParty
)

var knownMechanisms = map[Mechanism]bool{
	MechanismOnline:        true,
	MechanismEmail:         true,
	MechanismPhone:         true,
	MechanismPurchaseOrder: true,
	MechanismInStore:       true,
	MechanismRFQ:           true,
	MechanismProduction:    true,
	MechanismThirdParty:    true,
}

// ErrMissingID is returned for card records that carry no id.
var ErrMissingID = errors.New("card record has no id")

// RawCard is a card record as delivered by the card store. Every field is
// optional; defaults are resolved by Classify and nowhere else.
type RawCard struct {
	ID             *string          `json:"id"`
	Status         *string          `json:"status"`
	Name           *string          `json:"name"`
	SupplierName   *string          `json:"supplierName"`
	OrderMechanism *string          `json:"orderMechanism"`
	LinkURL        *string          `json:"linkUrl"`
	Quantity       *RawQuantity     `json:"quantity"`
	UnitCost       *decimal.Decimal `json:"unitCost"`
	Notes          *string          `json:"notes"`
	ImageURL       *string          `json:"imageUrl"`
}

// RawQuantity is the nested quantity payload of a card record.
type RawQuantity struct {
	Amount *decimal.Decimal `json:"amount"`
	Unit   *string          `json:"unit"`
}

// OrderItem is the normalized view of a card.
type OrderItem struct {
	ID             CardID
	Name           string
	Status         Status // machine status used for local validation
	ReportedStatus string // the card's own status field, verbatim
	DerivedStatus  string
	SupplierName   string // "No supplier" when the card has none
	Mechanism      Mechanism
	LinkURL        string
	Quantity       decimal.Decimal
	Unit           string
	UnitCost       decimal.Decimal
	Notes          string
	ImageURL       string
}

// LineCost is quantity × unit cost.
func (i OrderItem) LineCost() decimal.Decimal {
	return i.Quantity.Mul(i.UnitCost)
}

// Buckets holds card ids per fetched bucket for O(1) membership checks.
type Buckets struct {
	Requested  map[CardID]struct{}
	InProcess  map[CardID]struct{}
	Requesting map[CardID]struct{}
}

// NewBuckets indexes the three fetched collections by card id.
func NewBuckets(requested, inProcess, requesting []RawCard) Buckets {
	return Buckets{
		Requested:  idSet(requested),
		InProcess:  idSet(inProcess),
		Requesting: idSet(requesting),
	}
}

func idSet(cards []RawCard) map[CardID]struct{} {
	set := make(map[CardID]struct{}, len(cards))
	for _, c := range cards {
		if id := strings.TrimSpace(strOrEmpty(c.ID)); id != "" {
			set[CardID(id)] = struct{}{}
		}
	}
	return set
}

func (b Buckets) has(set map[CardID]struct{}, id CardID) bool {
	_, ok := set[id]
	return ok
}

// Contains reports whether id is in the named bucket.
func (b Buckets) Contains(bucket string, id CardID) bool {
	switch bucket {
	case enum.BucketRequested:
		return b.has(b.Requested, id)
	case enum.BucketInProcess:
		return b.has(b.InProcess, id)
	case enum.BucketRequesting:
		return b.has(b.Requesting, id)
	}
	return false
}

// reportedDerived maps a card's own status field to a derived label.
var reportedDerived = map[string]string{
	enum.CardStatusRequesting: enum.DerivedRequesting,
	enum.CardStatusRequested:  enum.DerivedRequested,
	enum.CardStatusInProcess:  enum.DerivedInProgress,
	enum.CardStatusFulfilled:  enum.DerivedFulfilled,
}

// DeriveStatus resolves the grouping status. Bucket membership wins over the
// card's reported status, in the order in-process, requesting, requested.
func DeriveStatus(id CardID, reported string, b Buckets) string {
	switch {
	case b.has(b.InProcess, id):
		return enum.DerivedInProgress
	case b.has(b.Requesting, id):
		return enum.DerivedRequesting
	case b.has(b.Requested, id):
		return enum.DerivedRequested
	}
	if d, ok := reportedDerived[reported]; ok {
		return d
	}
	return enum.DerivedReadyToOrder
}

// machineStatus resolves the status local validation runs against, using the
// same precedence as DeriveStatus.
func machineStatus(id CardID, reported string, b Buckets) Status {
	switch {
	case b.has(b.InProcess, id):
		return StatusInProcess
	case b.has(b.Requesting, id):
		return StatusRequesting
	case b.has(b.Requested, id):
		return StatusRequested
	}
	if s, ok := ParseStatus(reported); ok {
		return s
	}
	return StatusAvailable
}

// NormalizeMechanism maps unknown or absent mechanisms to ONLINE.
func NormalizeMechanism(s string) Mechanism {
	m := Mechanism(strings.ToUpper(strings.TrimSpace(s)))
	if knownMechanisms[m] {
		return m
	}
	return MechanismOnline
}

// NormalizeSupplier returns the grouping name for a supplier.
func NormalizeSupplier(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return enum.NoSupplier
	}
	return s
}

// Classify converts one raw record into an OrderItem.
func Classify(raw RawCard, b Buckets) (OrderItem, error) {
	id := CardID(strings.TrimSpace(strOrEmpty(raw.ID)))
	if id == "" {
		return OrderItem{}, ErrMissingID
	}

	reported := strings.ToUpper(strings.TrimSpace(strOrEmpty(raw.Status)))
	supplier := strings.TrimSpace(strOrEmpty(raw.SupplierName))

	item := OrderItem{
		ID:             id,
		Name:           strings.TrimSpace(strOrEmpty(raw.Name)),
		Status:         machineStatus(id, reported, b),
		ReportedStatus: reported,
		DerivedStatus:  DeriveStatus(id, reported, b),
		SupplierName:   NormalizeSupplier(supplier),
		Mechanism:      NormalizeMechanism(strOrEmpty(raw.OrderMechanism)),
		LinkURL:        strings.TrimSpace(strOrEmpty(raw.LinkURL)),
		Quantity:       decimal.Zero,
		UnitCost:       decimal.Zero,
		Notes:          strOrEmpty(raw.Notes),
		ImageURL:       strOrEmpty(raw.ImageURL),
	}
	if raw.Quantity != nil {
		if raw.Quantity.Amount != nil {
			item.Quantity = *raw.Quantity.Amount
		}
		item.Unit = strOrEmpty(raw.Quantity.Unit)
	}
	if raw.UnitCost != nil {
		item.UnitCost = *raw.UnitCost
	}
	return item, nil
}

// ClassifyAll merges the three bucket collections into one list of items,
// deduplicated by id. Records without an id are skipped and counted.
func ClassifyAll(requested, inProcess, requesting []RawCard) (items []OrderItem, skipped int) {
	b := NewBuckets(requested, inProcess, requesting)
	seen := make(map[CardID]struct{}, len(requested)+len(inProcess)+len(requesting))

	for _, coll := range [][]RawCard{requested, inProcess, requesting} {
		for _, raw := range coll {
			item, err := Classify(raw, b)
			if err != nil {
				skipped++
				continue
			}
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			items = append(items, item)
		}
	}
	return items, skipped
}

// CanOrderItem reports whether the item carries enough information to be
// ordered. It must be evaluated on every action, never cached.
func CanOrderItem(item OrderItem) bool {
	supplier := strings.TrimSpace(item.SupplierName)
	if supplier == "" || supplier == enum.NoSupplier {
		return false
	}
	if item.Mechanism == MechanismOnline && strings.TrimSpace(item.LinkURL) == "" {
		return false
	}
	return true
}

func strOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
