package order

import "fmt"

type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusPlaced    Status = "PLACED"
	StatusPaid      Status = "PAID"
	StatusCancelled Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusCreated: {StatusPlaced, StatusCancelled},
	StatusPlaced:  {StatusPaid, StatusCancelled},
}

func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusPlaced, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the order to status to. A paid order is marked ordered.
func (o *Order) Transition(to Status) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	if to == StatusPaid {
		o.IsOrdered = true
	}
	return nil
}
