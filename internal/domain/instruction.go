package domain

import (
	"fmt"
	"slices"
	"time"
)

// Op names a program instruction.
type Op string

const (
	OpInitialize   Op = "initialize"
	OpCreateMatch  Op = "create_match"
	OpJoinMatch    Op = "join_match"
	OpSettleMatch  Op = "settle_match"
	OpCancelMatch  Op = "cancel_match"
	OpWithdrawFees Op = "withdraw_fees"
	OpTransfer     Op = "transfer"
)

// OpReclaim labels receipts of storage reclamation. It is run by the
// operator's archive job and is not a submittable instruction.
const OpReclaim Op = "reclaim"

// Ops lists every supported instruction.
var Ops = []Op{
	OpInitialize,
	OpCreateMatch,
	OpJoinMatch,
	OpSettleMatch,
	OpCancelMatch,
	OpWithdrawFees,
	OpTransfer,
}

// Valid reports whether o is a supported instruction.
func (o Op) Valid() bool {
	return slices.Contains(Ops, o)
}

// Instruction is the unsigned payload of a transaction. Authority is the
// identity acting in the instruction's primary role: the new admin, the
// depositor, the joining opponent, the resolver, the admin, or the source of a
// system transfer. Fields an op does not use must be left zero.
type Instruction struct {
	Op            Op      `json:"op"`
	Authority     Address `json:"authority"`
	MatchID       uint64  `json:"match_id"`
	Amount        uint64  `json:"amount"`
	FeePercentage uint8   `json:"fee_percentage"`
	Winner        Address `json:"winner"`
	To            Address `json:"to"`
	Nonce         uint64  `json:"nonce"`
}

// Validate checks the instruction shape. Business rules (fee range, stake
// floor, state) are enforced by the program, not here.
func (i Instruction) Validate() error {
	if !i.Op.Valid() {
		return fmt.Errorf("domain: op %q: %w", i.Op, ErrInvalidInstruction)
	}
	if i.Authority.IsZero() {
		return fmt.Errorf("domain: %s: authority is required: %w", i.Op, ErrInvalidInstruction)
	}
	if i.Op == OpTransfer && i.To.IsZero() {
		return fmt.Errorf("domain: transfer: destination is required: %w", ErrInvalidInstruction)
	}
	return nil
}

// SignedTransaction is the wire form submitted by clients: an instruction plus
// 65-byte secp256k1 signatures, hex encoded.
type SignedTransaction struct {
	Instruction Instruction `json:"instruction"`
	Signatures  []string    `json:"signatures"`
}

// Transaction is a verified instruction ready for execution. ID is the signing
// digest; Signers are the identities recovered from its signatures.
type Transaction struct {
	ID          Hash
	Instruction Instruction
	Signers     []Address
}

// SignedBy reports whether id is among the transaction's signers.
func (t Transaction) SignedBy(id Address) bool {
	if id.IsZero() {
		return false
	}
	return slices.Contains(t.Signers, id)
}

// Transfer records one balance movement applied by a transaction.
type Transfer struct {
	From   Address `json:"from"`
	To     Address `json:"to"`
	Amount uint64  `json:"amount"`
}

// EventKind classifies an emitted program event.
type EventKind string

const (
	EventPlatformInitialized EventKind = "platform_initialized"
	EventMatchCreated        EventKind = "match_created"
	EventMatchJoined         EventKind = "match_joined"
	EventMatchSettled        EventKind = "match_settled"
	EventMatchCancelled      EventKind = "match_cancelled"
	EventFeesWithdrawn       EventKind = "fees_withdrawn"
	EventTransfer            EventKind = "transfer"
	EventMatchArchived       EventKind = "match_archived"
)

// AboutMatch reports whether events of kind k refer to a match record.
func (k EventKind) AboutMatch() bool {
	switch k {
	case EventMatchCreated, EventMatchJoined, EventMatchSettled, EventMatchCancelled, EventMatchArchived:
		return true
	}
	return false
}

// Event is a structured record of what a transaction did. Actor is the
// identity the event is about (depositor, opponent, winner, admin or source);
// Amount is the stake, payout, refund or withdrawn value.
type Event struct {
	Kind          EventKind `json:"kind"`
	MatchID       uint64    `json:"match_id,omitempty"`
	Actor         Address   `json:"actor"`
	Amount        uint64    `json:"amount,omitempty"`
	Fee           uint64    `json:"fee,omitempty"`
	FeePercentage uint8     `json:"fee_percentage,omitempty"`
}

// Receipt is the result of a committed transaction.
type Receipt struct {
	TxID       Hash       `json:"tx_id"`
	Op         Op         `json:"op"`
	Signers    []Address  `json:"signers"`
	Transfers  []Transfer `json:"transfers"`
	Events     []Event    `json:"events"`
	ExecutedAt time.Time  `json:"executed_at"`
}

// EventMessage is the envelope published on the event bus for each event of
// a committed transaction.
type EventMessage struct {
	TxID       Hash      `json:"tx_id"`
	Op         Op        `json:"op"`
	Event      Event     `json:"event"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Messages returns one envelope per event in r.
func (r *Receipt) Messages() []EventMessage {
	out := make([]EventMessage, len(r.Events))
	for i, ev := range r.Events {
		out[i] = EventMessage{TxID: r.TxID, Op: r.Op, Event: ev, ExecutedAt: r.ExecutedAt}
	}
	return out
}
