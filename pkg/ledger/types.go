package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Stage is the position of a deposit in the swap pipeline.
type Stage string

const (
	StageAwaitingDeposit Stage = "awaiting_deposit"
	StageDepositDetected Stage = "deposit_detected"
	StageFeeSwapping     Stage = "fee_swapping"
	StageFeeSwapped      Stage = "fee_swapped"
	StageExchangeOpening Stage = "exchange_opening"
	StageExchangeOpened  Stage = "exchange_opened"
	StageBundling        Stage = "bundling"
	StageLanded          Stage = "landed"
	StageFailed          Stage = "failed"
)

var stageRank = map[Stage]int{
	StageAwaitingDeposit: 0,
	StageDepositDetected: 1,
	StageFeeSwapping:     2,
	StageFeeSwapped:      3,
	StageExchangeOpening: 4,
	StageExchangeOpened:  5,
	StageBundling:        6,
	StageLanded:          7,
	StageFailed:          7,
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageRank[s]
	return ok
}

// Terminal reports whether no further transition out of s is allowed.
func (s Stage) Terminal() bool {
	return s == StageLanded || s == StageFailed
}

// CanAdvance reports whether a record at from may move to to. Stages only
// move forward, failed is reachable from every non-terminal stage and a
// stage may be re-entered to record audit data.
func CanAdvance(from, to Stage) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	if to == StageFailed {
		return true
	}
	return stageRank[to] >= stageRank[from]
}

// allowedFrom lists every stage a record may be in to move to to.
func allowedFrom(to Stage) []Stage {
	var out []Stage
	for _, s := range allStages {
		if CanAdvance(s, to) {
			out = append(out, s)
		}
	}
	return out
}

var allStages = []Stage{
	StageAwaitingDeposit,
	StageDepositDetected,
	StageFeeSwapping,
	StageFeeSwapped,
	StageExchangeOpening,
	StageExchangeOpened,
	StageBundling,
	StageLanded,
	StageFailed,
}

// User is a registered platform user.
type User struct {
	ID                 int64                `json:"id"`
	SourceAddress      string               `json:"source_address"`
	DestinationAddress string               `json:"destination_address"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
	Processed          []ProcessedSignature `json:"processed"`
}

// ProcessedSignature marks a deposit signature as claimed by a user.
type ProcessedSignature struct {
	Signature string    `json:"signature"`
	At        time.Time `json:"at"`
}

// SwapAttempt is the audit entry of one fee swap attempt.
type SwapAttempt struct {
	Attempt     int       `json:"attempt"`
	PriorityFee uint64    `json:"priority_fee"`
	Signature   string    `json:"signature,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// Record is the persisted state of one deposit, keyed by its signature.
type Record struct {
	Signature          string          `json:"signature"`
	UserID             int64           `json:"user_id"`
	Amount             decimal.Decimal `json:"amount"`
	ExpectedAmount     decimal.Decimal `json:"expected_amount"`
	Sufficient         bool            `json:"sufficient"`
	Stage              Stage           `json:"stage"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	FeeSwapSignature   string          `json:"fee_swap_signature,omitempty"`
	SwapAttempts       []SwapAttempt   `json:"swap_attempts,omitempty"`
	ExchangeOrderID    string          `json:"exchange_order_id,omitempty"`
	PayinAddress       string          `json:"payin_address,omitempty"`
	QuotedOutput       string          `json:"quoted_output,omitempty"`
	BundleID           string          `json:"bundle_id,omitempty"`
	BundleStatus       string          `json:"bundle_status,omitempty"`
	LandedSlot         *uint64         `json:"landed_slot,omitempty"`
	TransferSignatures []string        `json:"transfer_signatures,omitempty"`
	FailureReason      string          `json:"failure_reason,omitempty"`
}

// Update carries the fields written alongside a stage transition. Zero
// values leave the stored field untouched.
type Update struct {
	FeeSwapSignature   string
	Attempt            *SwapAttempt
	ExchangeOrderID    string
	PayinAddress       string
	QuotedOutput       string
	BundleID           string
	BundleStatus       string
	LandedSlot         *uint64
	TransferSignatures []string
	FailureReason      string
}

func (u Update) apply(r *Record) {
	if u.FeeSwapSignature != "" {
		r.FeeSwapSignature = u.FeeSwapSignature
	}
	if u.Attempt != nil {
		r.SwapAttempts = append(r.SwapAttempts, *u.Attempt)
	}
	if u.ExchangeOrderID != "" {
		r.ExchangeOrderID = u.ExchangeOrderID
	}
	if u.PayinAddress != "" {
		r.PayinAddress = u.PayinAddress
	}
	if u.QuotedOutput != "" {
		r.QuotedOutput = u.QuotedOutput
	}
	if u.BundleID != "" {
		r.BundleID = u.BundleID
	}
	if u.BundleStatus != "" {
		r.BundleStatus = u.BundleStatus
	}
	if u.LandedSlot != nil {
		slot := *u.LandedSlot
		r.LandedSlot = &slot
	}
	if len(u.TransferSignatures) > 0 {
		r.TransferSignatures = append([]string(nil), u.TransferSignatures...)
	}
	if u.FailureReason != "" {
		r.FailureReason = u.FailureReason
	}
}

// Ledger is the durable store behind the pipeline. Implementations make
// MarkProcessed a compare-and-set and Advance a conditional update so
// concurrent workflows never double-process a deposit.
type Ledger interface {
	RegisterUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id int64) (*User, error)

	// MarkProcessed claims signature for userID. It returns false when the
	// signature was already claimed.
	MarkProcessed(ctx context.Context, userID int64, signature string) (bool, error)
	IsProcessed(ctx context.Context, userID int64, signature string) (bool, error)
	// PruneProcessed drops processed entries claimed before cutoff.
	PruneProcessed(ctx context.Context, userID int64, cutoff time.Time) (int, error)

	// Create inserts a record. Returns ErrDuplicateKey if the signature exists.
	Create(ctx context.Context, record *Record) error
	Advance(ctx context.Context, signature string, stage Stage, update Update) (*Record, error)
	FindBySignature(ctx context.Context, signature string) (*Record, error)
	FindByUser(ctx context.Context, userID int64) ([]*Record, error)
	FindByOrderID(ctx context.Context, orderID string) (*Record, error)

	Close(ctx context.Context) error
}
