package models

import (
	"time"
)

// RelayStatus is the outcome of one relay attempt.
type RelayStatus string

const (
	RelayStatusReceived                 RelayStatus = "received" // transient
	RelayStatusRejectedInvalidSignature RelayStatus = "rejected-invalid-signature"
	RelayStatusRejectedPreflight        RelayStatus = "rejected-preflight-failed"
	RelayStatusRejectedDuplicate        RelayStatus = "rejected-duplicate"
	RelayStatusSimulationReverted       RelayStatus = "simulation-reverted"
	RelayStatusSubmitFailed             RelayStatus = "submit-failed"
	RelayStatusSubmitted                RelayStatus = "submitted" // transient
	RelayStatusConfirmationUnknown      RelayStatus = "confirmation-unknown"
	RelayStatusConfirmedReverted        RelayStatus = "confirmed-reverted"
	RelayStatusConfirmedSuccess         RelayStatus = "confirmed-success"
	RelayStatusInfrastructureError      RelayStatus = "infrastructure-error"
)

// IsTerminal reports whether no further transition is possible.
func (s RelayStatus) IsTerminal() bool {
	return s != RelayStatusReceived && s != RelayStatusSubmitted
}

// HasTransaction reports whether a transaction was broadcast for this status.
func (s RelayStatus) HasTransaction() bool {
	switch s {
	case RelayStatusSubmitted, RelayStatusConfirmationUnknown, RelayStatusConfirmedReverted, RelayStatusConfirmedSuccess:
		return true
	}
	return false
}

// RelayAttempt is the audit record of one relay request.
type RelayAttempt struct {
	ID        string      `json:"id" gorm:"primaryKey"` // UUID
	ChainID   int64       `json:"chain_id" gorm:"not null;index:idx_relay_from_chain"`
	Forwarder string      `json:"forwarder" gorm:"size:42"`
	Route     string      `json:"route" gorm:"size:32"`
	Status    RelayStatus `json:"status" gorm:"not null;index;size:40"`

	From  string `json:"from" gorm:"column:from_address;not null;size:42;index:idx_relay_from_chain"`
	To    string `json:"to" gorm:"column:to_address;not null;size:42"`
	Nonce string `json:"nonce"`
	Gas   string `json:"gas"`
	Value string `json:"value"`
	Data  string `json:"data" gorm:"type:text"`

	Reason      string  `json:"reason" gorm:"type:text"`
	Hint        string  `json:"hint" gorm:"type:text"`
	TxHash      string  `json:"tx_hash" gorm:"index;size:66"`
	BlockNumber *uint64 `json:"block_number"`
	GasUsed     *uint64 `json:"gas_used"`
	Simulated   bool    `json:"simulated"`
	DurationMs  int64   `json:"duration_ms"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// TableName pins the table name.
func (RelayAttempt) TableName() string {
	return "relay_attempts"
}

// Complete records the terminal outcome.
func (a *RelayAttempt) Complete(status RelayStatus, reason string, started time.Time) {
	now := time.Now()
	a.Status = status
	a.Reason = reason
	a.DurationMs = now.Sub(started).Milliseconds()
	a.CompletedAt = &now
}
