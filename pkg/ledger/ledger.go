// Package ledger holds the cumulative, cross-run store of every candidate
// bet ever identified. Entries are append-only by bet ID; the only in-place
// mutation allowed is the single PENDING -> terminal settlement transition.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/courtedge/core"
)

var (
	// ErrUnknownBet is returned when settling a bet ID the ledger has
	// never seen.
	ErrUnknownBet = errors.New("ledger: unknown bet id")
	// ErrInvalidTransition is returned when settling an entry that is not
	// currently pending. Terminal entries are immutable.
	ErrInvalidTransition = errors.New("ledger: bet is not pending")
)

// Ledger is the in-memory value table. It preserves insertion order so a
// save after a no-op run writes byte-identical output.
type Ledger struct {
	entries map[string]core.CandidateBet
	order   []string
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{entries: make(map[string]core.CandidateBet)}
}

// Len returns the number of entries.
func (l *Ledger) Len() int { return len(l.order) }

// Has reports whether the bet ID is present.
func (l *Ledger) Has(id string) bool {
	_, ok := l.entries[id]
	return ok
}

// Get returns the entry for the ID.
func (l *Ledger) Get(id string) (core.CandidateBet, bool) {
	b, ok := l.entries[id]
	return b, ok
}

// All returns every entry in insertion order.
func (l *Ledger) All() []core.CandidateBet {
	out := make([]core.CandidateBet, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.entries[id])
	}
	return out
}

// Pending returns all entries still awaiting settlement, in insertion order.
func (l *Ledger) Pending() []core.CandidateBet {
	var out []core.CandidateBet
	for _, id := range l.order {
		if b := l.entries[id]; b.Status == core.StatusPending {
			out = append(out, b)
		}
	}
	return out
}

// UpsertNew adds candidates whose IDs are not already present and returns
// how many were added. Existing entries are never overwritten: a bet ID
// collision is the idempotence mechanism working, not an error.
func (l *Ledger) UpsertNew(candidates []core.CandidateBet) int {
	added := 0
	for _, c := range candidates {
		if _, ok := l.entries[c.ID]; ok {
			continue
		}
		l.entries[c.ID] = c
		l.order = append(l.order, c.ID)
		added++
	}
	return added
}

// MarkSettled transitions a pending entry to a terminal status with its
// profit or loss. Settling an unknown or non-pending entry fails without
// touching the ledger.
func (l *Ledger) MarkSettled(id string, status core.BetStatus, pnl decimal.Decimal, settledAt time.Time) error {
	b, ok := l.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBet, id)
	}
	if b.Status != core.StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, b.Status)
	}
	if !status.Terminal() {
		return fmt.Errorf("ledger: %s is not a terminal status", status)
	}
	b.Status = status
	b.PnL = decimal.NullDecimal{Decimal: pnl, Valid: true}
	at := settledAt
	b.SettledAt = &at
	l.entries[id] = b
	return nil
}

// Store persists a ledger between runs. Implementations must make Save
// atomic: a crash mid-save leaves the previously committed state intact.
type Store interface {
	Load() (*Ledger, error)
	Save(*Ledger) error
}
