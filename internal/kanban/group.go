package kanban

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kiwari-pos/kanban/internal/enum"
	"github.com/shopspring/decimal"
)

// ErrUnknownMode is returned for grouping modes other than supplier,
// orderMethod and none.
var ErrUnknownMode = errors.New("unknown group mode")

// mechanismLabels are display names for order-method groups.
var mechanismLabels = map[Mechanism]string{
	MechanismOnline:        "Online",
	MechanismEmail:         "Email",
	MechanismPhone:         "Phone",
	MechanismPurchaseOrder: "Purchase order",
	MechanismInStore:       "In store",
	MechanismRFQ:           "Request for quote",
	MechanismProduction:    "Production",
	MechanismThirdParty:    "Third party",
}

// MechanismLabel returns the display name of a mechanism.
func MechanismLabel(m Mechanism) string {
	if l, ok := mechanismLabels[m]; ok {
		return l
	}
	return string(m)
}

// Group is a derived partition of cards. Groups are rebuilt from scratch on
// every refresh and never patched.
type Group struct {
	Mode                    string
	Key                     string
	Name                    string
	RepresentativeMechanism Mechanism
	Items                   []OrderItem
	Expanded                bool
}

// GroupSummary is a per-group tally used by list views.
type GroupSummary struct {
	Total      int
	Orderable  int
	ByStatus   map[string]int
	TotalCost  decimal.Decimal
	Mechanisms []Mechanism
}

// Summary tallies the group's items. Orderability is recomputed here.
func (g Group) Summary() GroupSummary {
	s := GroupSummary{
		Total:     len(g.Items),
		ByStatus:  make(map[string]int),
		TotalCost: decimal.Zero,
	}
	seen := make(map[Mechanism]bool)
	for _, it := range g.Items {
		s.ByStatus[it.DerivedStatus]++
		if CanOrderItem(it) {
			s.Orderable++
		}
		s.TotalCost = s.TotalCost.Add(it.LineCost())
		if !seen[it.Mechanism] {
			seen[it.Mechanism] = true
			s.Mechanisms = append(s.Mechanisms, it.Mechanism)
		}
	}
	return s
}

func groupKey(item OrderItem, mode string) (key, name string) {
	switch mode {
	case enum.GroupModeSupplier:
		n := NormalizeSupplier(item.SupplierName)
		return n, n
	case enum.GroupModeOrderMethod:
		return string(item.Mechanism), MechanismLabel(item.Mechanism)
	}
	return "", ""
}

// BuildGroups partitions items by supplier or order mechanism in a single
// pass, preserving first-seen group order. A group's representative mechanism
// is the mechanism of the first card inserted into it and is not recomputed.
// In none mode a single flat group holds the deduplicated list.
func BuildGroups(items []OrderItem, mode string) ([]Group, error) {
	switch mode {
	case enum.GroupModeSupplier, enum.GroupModeOrderMethod, enum.GroupModeNone:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	seen := make(map[CardID]struct{}, len(items))
	unique := make([]OrderItem, 0, len(items))
	for _, it := range items {
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		unique = append(unique, it)
	}

	if mode == enum.GroupModeNone {
		if len(unique) == 0 {
			return nil, nil
		}
		return []Group{{
			Mode:                    mode,
			Name:                    "All items",
			RepresentativeMechanism: unique[0].Mechanism,
			Items:                   unique,
			Expanded:                true,
		}}, nil
	}

	index := make(map[string]int)
	var groups []Group
	for _, it := range unique {
		key, name := groupKey(it, mode)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{
				Mode:                    mode,
				Key:                     key,
				Name:                    name,
				RepresentativeMechanism: it.Mechanism,
				Expanded:                true,
			})
		}
		groups[i].Items = append(groups[i].Items, it)
	}
	return groups, nil
}

// tabStatuses lists the derived statuses visible on each view tab.
var tabStatuses = map[string]map[string]bool{
	enum.TabReady: {
		enum.DerivedRequesting: true,
		enum.DerivedRequested:  true,
	},
	enum.TabRecent: {
		enum.DerivedInProgress: true,
	},
}

// ValidTab reports whether tab is a known view tab. The empty tab means all.
func ValidTab(tab string) bool {
	switch tab {
	case "", enum.TabAll, enum.TabReady, enum.TabRecent:
		return true
	}
	return false
}

// FilterGroups applies the view tab and free-text search after grouping.
// A group survives the search if its name or any of its items' names contains
// query (case-insensitive). Groups left without items are dropped.
func FilterGroups(groups []Group, tab, query string) []Group {
	allowed := tabStatuses[tab]
	q := strings.ToLower(strings.TrimSpace(query))

	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		var items []OrderItem
		for _, it := range g.Items {
			if allowed != nil && !allowed[it.DerivedStatus] {
				continue
			}
			items = append(items, it)
		}
		if len(items) == 0 {
			continue
		}
		if q != "" && !matchesQuery(g.Name, items, q) {
			continue
		}
		g.Items = items
		out = append(out, g)
	}
	return out
}

func matchesQuery(name string, items []OrderItem, q string) bool {
	if strings.Contains(strings.ToLower(name), q) {
		return true
	}
	for _, it := range items {
		if strings.Contains(strings.ToLower(it.Name), q) {
			return true
		}
	}
	return false
}

// FindGroup returns the group with the given key.
func FindGroup(groups []Group, key string) (Group, bool) {
	for _, g := range groups {
		if g.Key == key {
			return g, true
		}
	}
	return Group{}, false
}
