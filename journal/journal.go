// Package journal records every transaction attempt broadcast by the
// submitter, so that a crash or a lost result never hides a transaction that
// reached the network.
package journal

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrAttemptNotFound is returned when no attempt is stored for a key.
	ErrAttemptNotFound = fmt.Errorf("journal: attempt not found")
	// ErrClosed is returned by a journal after Close.
	ErrClosed = fmt.Errorf("journal: closed")
)

// Status of a single attempt.
type Status string

const (
	StatusSent      Status = "sent"
	StatusMined     Status = "mined"
	StatusReverted  Status = "reverted"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
	StatusFinalized Status = "finalized"
)

// Open reports whether the attempt may still change on chain. Attempts left
// open after their submission returned were interrupted.
func (s Status) Open() bool {
	return s == StatusSent || s == StatusMined
}

// Attempt is one broadcast of a submission. Attempts of the same submission
// share the wallet and the nonce and differ by Index and gas price.
type Attempt struct {
	SubmissionID string         `json:"submission_id"`
	Wallet       common.Address `json:"wallet"`
	Nonce        uint64         `json:"nonce"`
	Index        int            `json:"index"`
	TxHash       common.Hash    `json:"tx_hash"`
	GasPrice     *big.Int       `json:"gas_price,omitempty"`
	Status       Status         `json:"status"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (a *Attempt) clone() *Attempt {
	c := *a
	if a.GasPrice != nil {
		c.GasPrice = new(big.Int).Set(a.GasPrice)
	}
	return &c
}

// Journal stores attempts keyed by submission id and attempt index.
type Journal interface {
	// Put inserts or replaces the attempt. CreatedAt is kept from the first
	// write, UpdatedAt is refreshed.
	Put(a *Attempt) error
	Get(submissionID string, index int) (*Attempt, error)
	// List returns the attempts of one submission ordered by index.
	List(submissionID string) ([]*Attempt, error)
	// ListUnfinished returns every attempt still marked sent or mined.
	ListUnfinished() ([]*Attempt, error)
	Close() error
}

func validate(a *Attempt) error {
	if a == nil {
		return fmt.Errorf("journal: nil attempt")
	}
	if a.SubmissionID == "" {
		return fmt.Errorf("journal: empty submission id")
	}
	if a.Index < 0 {
		return fmt.Errorf("journal: negative attempt index %d", a.Index)
	}
	return nil
}
