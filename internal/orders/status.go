package orders

type Status string

const (
	StatusPending             Status = "pending"
	StatusPendingVerification Status = "pending_verification"
	StatusConfirmed           Status = "confirmed"
	StatusFailed              Status = "failed"
	StatusCancelled           Status = "cancelled"
)

// validNext is the union of every legal move, event-driven or user-driven.
// Callers restrict it further with an allowedFrom set: bus events never
// pass confirmed in allowedFrom, so for them the terminal states absorb.
// confirmed -> cancelled exists only for the cancel operation.
var validNext = map[Status]map[Status]bool{
	StatusPending: {
		StatusPendingVerification: true,
		StatusConfirmed:           true,
		StatusFailed:              true,
		StatusCancelled:           true,
	},
	StatusPendingVerification: {
		StatusConfirmed: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusConfirmed: {
		StatusCancelled: true,
	},
	StatusFailed:    {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Known reports whether s is one of the five order states.
func Known(s Status) bool {
	_, ok := validNext[s]
	return ok
}
