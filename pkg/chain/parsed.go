package chain

import (
	"encoding/json"
	"strconv"
)

// ParsedTransaction is the subset of a jsonParsed getTransaction result the
// deposit watcher reads.
type ParsedTransaction struct {
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Meta      *struct {
		Err               json.RawMessage `json:"err"`
		InnerInstructions []struct {
			Index        int                 `json:"index"`
			Instructions []ParsedInstruction `json:"instructions"`
		} `json:"innerInstructions"`
	} `json:"meta"`
	Transaction struct {
		Signatures []string `json:"signatures"`
		Message    struct {
			Instructions []ParsedInstruction `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

// Failed reports whether the transaction executed with an error.
func (t *ParsedTransaction) Failed() bool {
	return t.Meta != nil && !isNull(t.Meta.Err)
}

// Instructions returns the top-level instructions followed by every inner
// instruction.
func (t *ParsedTransaction) Instructions() []ParsedInstruction {
	out := append([]ParsedInstruction(nil), t.Transaction.Message.Instructions...)
	if t.Meta != nil {
		for _, inner := range t.Meta.InnerInstructions {
			out = append(out, inner.Instructions...)
		}
	}
	return out
}

// ParsedInstruction is one instruction in jsonParsed form. Parsed is an
// object for programs the node knows how to decode and a string otherwise.
type ParsedInstruction struct {
	Program   string          `json:"program"`
	ProgramID string          `json:"programId"`
	Parsed    json.RawMessage `json:"parsed"`
}

// TokenTransfer is an spl-token transfer or transferChecked instruction.
type TokenTransfer struct {
	Type        string
	Source      string
	Destination string
	Authority   string
	// Mint is empty for plain transfer instructions.
	Mint   string
	Amount uint64
}

type parsedTransfer struct {
	Type string `json:"type"`
	Info struct {
		Source      string `json:"source"`
		Destination string `json:"destination"`
		Authority   string `json:"authority"`
		Mint        string `json:"mint"`
		Amount      string `json:"amount"`
		TokenAmount *struct {
			Amount string `json:"amount"`
		} `json:"tokenAmount"`
	} `json:"info"`
}

// TokenTransfer decodes ix as an spl-token transfer. ok is false for any
// other instruction.
func (ix ParsedInstruction) TokenTransfer() (*TokenTransfer, bool) {
	if ix.Program != "spl-token" || len(ix.Parsed) == 0 || ix.Parsed[0] != '{' {
		return nil, false
	}

	var p parsedTransfer
	if err := json.Unmarshal(ix.Parsed, &p); err != nil {
		return nil, false
	}
	if p.Type != "transfer" && p.Type != "transferChecked" {
		return nil, false
	}

	amount := p.Info.Amount
	if p.Info.TokenAmount != nil {
		amount = p.Info.TokenAmount.Amount
	}
	units, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return nil, false
	}

	return &TokenTransfer{
		Type:        p.Type,
		Source:      p.Info.Source,
		Destination: p.Info.Destination,
		Authority:   p.Info.Authority,
		Mint:        p.Info.Mint,
		Amount:      units,
	}, true
}
