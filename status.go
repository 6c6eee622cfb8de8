package aureuspay

// Status is a payment lifecycle state. Payments move from created through
// pending to exactly one terminal state and never transition out of it.
type Status string

const (
	StatusCreated   Status = "created"
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// normalizeStatus maps wire status strings onto the canonical set. Some
// upstream records say "completed" where the API says "confirmed"; they are
// the same terminal state.
func normalizeStatus(s string) Status {
	if s == "completed" {
		return StatusConfirmed
	}
	return Status(s)
}

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusExpired, StatusCancelled, StatusFailed:
		return true
	}
	return false
}
