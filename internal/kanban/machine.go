package kanban

import (
	"errors"
	"fmt"

	"github.com/kiwari-pos/kanban/internal/enum"
)

// Status is the authoritative lifecycle status of a card.
type Status string

// Event is a requested lifecycle transition.
type Event string

const (
	StatusAvailable  Status = enum.CardStatusAvailable
	StatusRequesting Status = enum.CardStatusRequesting
	StatusRequested  Status = enum.CardStatusRequested
	StatusInProcess  Status = enum.CardStatusInProcess
	StatusReady      Status = enum.CardStatusReady
	StatusFulfilling Status = enum.CardStatusFulfilling
	StatusFulfilled  Status = enum.CardStatusFulfilled
)

const (
	EventRequest         Event = enum.EventRequest
	EventAccept          Event = enum.EventAccept
	EventStartProcessing Event = enum.EventStartProcessing
	EventFulfill         Event = enum.EventFulfill
)

// Errors returned by the status machine.
var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrUnknownEvent      = errors.New("unknown event")
)

// TransitionError describes a rejected transition. It matches ErrInvalidTransition
// with errors.Is, whether the rejection was local or came from the card store.
type TransitionError struct {
	CardID CardID
	From   Status
	Event  Event
	Remote bool
}

func (e *TransitionError) Error() string {
	src := "local"
	if e.Remote {
		src = "remote"
	}
	if e.CardID != "" {
		return fmt.Sprintf("%s: cannot %s card %s from %s (%s)", ErrInvalidTransition, e.Event, e.CardID, e.From, src)
	}
	return fmt.Sprintf("%s: cannot %s from %s (%s)", ErrInvalidTransition, e.Event, e.From, src)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// lifecycle is the forward order of statuses; a card never moves to a lower index.
var lifecycle = []Status{
	StatusAvailable,
	StatusRequesting,
	StatusRequested,
	StatusInProcess,
	StatusReady,
	StatusFulfilling,
	StatusFulfilled,
}

type rule struct {
	from Status // empty means any non-terminal status
	to   Status
}

// transitions defines the legal event → (from, to) pairs.
// fulfill is accepted from any non-terminal status.
var transitions = map[Event]rule{
	EventRequest:         {from: StatusAvailable, to: StatusRequesting},
	EventAccept:          {from: StatusRequesting, to: StatusRequested},
	EventStartProcessing: {from: StatusRequested, to: StatusInProcess},
	EventFulfill:         {to: StatusFulfilled},
}

// Events returns every known event in table order.
func Events() []Event {
	return []Event{EventRequest, EventAccept, EventStartProcessing, EventFulfill}
}

// ParseEvent validates an event name coming from the outside world.
func ParseEvent(s string) (Event, error) {
	e := Event(s)
	if _, ok := transitions[e]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEvent, s)
	}
	return e, nil
}

// ParseStatus reports whether s is a known status.
func ParseStatus(s string) (Status, bool) {
	for _, st := range lifecycle {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// RequiredFrom returns the status a card must be in for the event to apply.
// The second value is false for events that accept any non-terminal status.
func (e Event) RequiredFrom() (Status, bool) {
	r, ok := transitions[e]
	if !ok || r.from == "" {
		return "", false
	}
	return r.from, true
}

// Target returns the status the event moves a card to.
func (e Event) Target() Status {
	return transitions[e].to
}

// Sources lists every status the event may be applied from.
func (e Event) Sources() []Status {
	r, ok := transitions[e]
	if !ok {
		return nil
	}
	if r.from != "" {
		return []Status{r.from}
	}
	var out []Status
	for _, st := range lifecycle {
		if !IsTerminal(st) {
			out = append(out, st)
		}
	}
	return out
}

// Verb returns the remote operation name for the event. This is the only
// place events are mapped to card store endpoints.
func (e Event) Verb() string {
	switch e {
	case EventRequest:
		return "request"
	case EventAccept:
		return "accept"
	case EventStartProcessing:
		return "start-processing"
	case EventFulfill:
		return "fulfill"
	}
	return ""
}

// IsTerminal reports whether no further transitions are possible.
func IsTerminal(s Status) bool {
	return s == StatusFulfilled
}

func rank(s Status) int {
	for i, st := range lifecycle {
		if st == s {
			return i
		}
	}
	return -1
}

// IsForward reports whether moving from → to advances the lifecycle.
func IsForward(from, to Status) bool {
	f, t := rank(from), rank(to)
	return f >= 0 && t > f
}

// Apply validates event against the current status and returns the resulting
// status. It does not perform the transition.
func Apply(current Status, event Event) (Status, error) {
	r, ok := transitions[event]
	if !ok {
		return current, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	if r.from == "" {
		if IsTerminal(current) || rank(current) < 0 {
			return current, &TransitionError{From: current, Event: event}
		}
		return r.to, nil
	}
	if current != r.from {
		return current, &TransitionError{From: current, Event: event}
	}
	return r.to, nil
}

// ApplyCard is Apply for an OrderItem. The item is not modified.
func ApplyCard(item OrderItem, event Event) (Status, error) {
	next, err := Apply(item.Status, event)
	if err != nil {
		var te *TransitionError
		if errors.As(err, &te) {
			te.CardID = item.ID
		}
		return item.Status, err
	}
	return next, nil
}
