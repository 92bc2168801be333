package orders

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the closed set of order states.
type Status string

const (
	StatusPending               Status = "pending"
	StatusPendingConfirmation   Status = "pending_confirmation"
	StatusConfirmed             Status = "confirmed"
	StatusCrediting             Status = "crediting" // claim marker held while the ledger is touched
	StatusConfirmedErrorBalance Status = "confirmed_error_balance"
	StatusConfirmedErrorDB      Status = "confirmed_error_db"
	StatusFailedMismatch        Status = "failed_mismatch"
	StatusFailedExpired         Status = "failed_expired"
	StatusFailedError           Status = "failed_error"
	StatusFailedCancelled       Status = "failed_cancelled"
	StatusDone                  Status = "done"
)

var ErrInvalidTransition = errors.New("transition not allowed")

var failed = []Status{StatusFailedMismatch, StatusFailedExpired, StatusFailedError, StatusFailedCancelled}

// transitions lists every allowed from -> to edge. Anything missing is rejected.
var transitions = map[Status][]Status{
	StatusPending: append([]Status{
		StatusPendingConfirmation, StatusConfirmed, StatusCrediting, StatusConfirmedErrorBalance, StatusDone,
	}, failed...),
	StatusPendingConfirmation: append([]Status{
		StatusConfirmed, StatusCrediting, StatusConfirmedErrorBalance, StatusDone,
	}, failed...),
	StatusConfirmed:             {StatusCrediting, StatusDone},
	StatusConfirmedErrorBalance: {StatusCrediting},
	StatusConfirmedErrorDB:      {StatusCrediting, StatusDone},
	// a claim ends in a final state or is released back to where it was taken from
	StatusCrediting: append([]Status{
		StatusDone, StatusConfirmedErrorBalance, StatusConfirmedErrorDB,
		StatusPending, StatusPendingConfirmation, StatusConfirmed,
	}, failed...),
	StatusDone: nil,
}

func init() {
	// late payments after an expiry/mismatch can still be confirmed
	for _, f := range failed {
		transitions[f] = []Status{StatusConfirmed, StatusCrediting, StatusConfirmedErrorBalance}
	}
}

// CanTransition reports whether from -> to is in the table.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// FailedStatus maps a provider failure reason to its failed_<reason> status.
func FailedStatus(reason string) (Status, error) {
	s := Status("failed_" + strings.ToLower(reason))
	for _, f := range failed {
		if f == s {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown failure reason %q", reason)
}

func (s Status) IsFailed() bool {
	return strings.HasPrefix(string(s), "failed_")
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}
