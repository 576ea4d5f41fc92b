package orders

type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusPaid           Status = "paid"
	StatusConfirmed      Status = "confirmed"
	StatusReadyForPickup Status = "ready_for_pickup"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusDisputed       Status = "disputed"
)

var validNext = map[Status]map[Status]bool{
	StatusPendingPayment: {StatusPaid: true, StatusCancelled: true, StatusDisputed: true},
	StatusPaid:           {StatusConfirmed: true, StatusReadyForPickup: true, StatusCancelled: true, StatusDisputed: true},
	StatusConfirmed:      {StatusReadyForPickup: true, StatusCancelled: true, StatusDisputed: true},
	StatusReadyForPickup: {StatusCompleted: true, StatusCancelled: true, StatusDisputed: true},
	StatusDisputed:       {StatusCancelled: true},
	StatusCompleted:      {},
	StatusCancelled:      {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}
