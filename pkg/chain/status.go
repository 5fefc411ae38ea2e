package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ConfirmationState is the normalized outcome of a submitted transaction.
type ConfirmationState int

const (
	Pending ConfirmationState = iota
	Succeeded
	Failed
)

func (s ConfirmationState) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Confirmation is what the rest of the pipeline sees of a transaction
// status, whatever shape the node answered with.
type Confirmation struct {
	State ConfirmationState
	Slot  uint64
	Err   string
}

type statusPayload struct {
	Slot               uint64          `json:"slot"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
	Meta               *struct {
		Err json.RawMessage `json:"err"`
	} `json:"meta"`
}

// NormalizeConfirmation folds the payloads nodes return for a status query
// into a Confirmation. It accepts null (unknown yet), a getTransaction
// object, a signature-status object, or a list of those. A list is failed
// if any element failed and succeeded only if some element succeeded.
func NormalizeConfirmation(raw json.RawMessage) (Confirmation, error) {
	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return Confirmation{State: Pending}, nil
	}

	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return Confirmation{}, fmt.Errorf("invalid status list: %w", err)
		}
		return normalizeList(list)
	}

	var p statusPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Confirmation{}, fmt.Errorf("invalid status payload: %w", err)
	}

	if p.Meta != nil {
		if !isNull(p.Meta.Err) {
			return Confirmation{State: Failed, Slot: p.Slot, Err: string(p.Meta.Err)}, nil
		}
		return Confirmation{State: Succeeded, Slot: p.Slot}, nil
	}
	if !isNull(p.Err) {
		return Confirmation{State: Failed, Slot: p.Slot, Err: string(p.Err)}, nil
	}

	switch p.ConfirmationStatus {
	case "confirmed", "finalized":
		return Confirmation{State: Succeeded, Slot: p.Slot}, nil
	case "processed":
		return Confirmation{State: Pending, Slot: p.Slot}, nil
	}
	if p.Slot > 0 {
		return Confirmation{State: Succeeded, Slot: p.Slot}, nil
	}
	return Confirmation{State: Pending}, nil
}

func normalizeList(list []json.RawMessage) (Confirmation, error) {
	out := Confirmation{State: Pending}
	for _, item := range list {
		if isNull(item) {
			continue
		}
		c, err := NormalizeConfirmation(item)
		if err != nil {
			return Confirmation{}, err
		}
		switch c.State {
		case Failed:
			return c, nil
		case Succeeded:
			if out.State != Succeeded {
				out = c
			}
		default:
			if out.State == Pending && out.Slot == 0 {
				out.Slot = c.Slot
			}
		}
	}
	return out, nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
