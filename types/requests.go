package types

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// RequestID : derives the unique id of a request from its requester, target and the requester's nonce
func RequestID(requester Account, target Account, nonce uint64) string {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	h := sha256.New()
	h.Write([]byte(requester))
	h.Write([]byte{0})
	h.Write([]byte(target))
	h.Write(nonceBytes[:])
	return hex.EncodeToString(h.Sum(nil))
}

// expired : requests may be executed up to and including open+period
func expired(openedAt, period, height int64) bool {
	return height > openedAt+period
}

// IssueStatus : one of IssuePending, IssueCompleted or IssueCancelled
type IssueStatus interface {
	issueStatus() string
}

type IssuePending struct{}

// IssueCompleted : the executed amounts may differ from the requested ones on under or overpayment
type IssueCompleted struct {
	BtcTxID    string  `json:"btc_tx_id"`
	Paid       uint64  `json:"paid"`
	Amount     uint64  `json:"amount"`
	Fee        uint64  `json:"fee"`
	RefundID   string  `json:"refund_id,omitempty"`
	Executor   Account `json:"executor"`
	ExecutedAt int64   `json:"executed_at"`
}

type IssueCancelled struct {
	CancelledAt int64  `json:"cancelled_at"`
	Slashed     uint64 `json:"slashed"`
}

func (IssuePending) issueStatus() string   { return "pending" }
func (IssueCompleted) issueStatus() string { return "completed" }
func (IssueCancelled) issueStatus() string { return "cancelled" }

// IssueRequest : a user's request to mint wrapped tokens against a vault
type IssueRequest struct {
	ID         string      `json:"id"`
	Requester  Account     `json:"requester"`
	Vault      Account     `json:"vault"`
	Amount     uint64      `json:"amount"`
	Fee        uint64      `json:"fee"`
	Griefing   uint64      `json:"griefing_collateral"`
	BtcAddress string      `json:"btc_address"`
	OpenedAt   int64       `json:"opened_at"`
	Period     int64       `json:"period"`
	Nonce      uint64      `json:"nonce"`
	Status     IssueStatus `json:"status"`
}

// Total : the amount of BTC the requester must send
func (r IssueRequest) Total() uint64 {
	return r.Amount + r.Fee
}

func (r IssueRequest) Expired(height int64) bool {
	return expired(r.OpenedAt, r.Period, height)
}

func (r IssueRequest) IsPending() bool {
	_, ok := r.Status.(IssuePending)
	return ok
}

func (r IssueRequest) MarshalJSON() ([]byte, error) {
	type plain IssueRequest
	if r.Status == nil {
		r.Status = IssuePending{}
	}
	status, err := encodeStatus(r.Status.issueStatus(), r.Status)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		plain
		Status statusEnvelope `json:"status"`
	}{plain(r), status})
}

func (r *IssueRequest) UnmarshalJSON(b []byte) error {
	type plain IssueRequest
	aux := struct {
		*plain
		Status statusEnvelope `json:"status"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	switch aux.Status.Kind {
	case "pending":
		r.Status = IssuePending{}
	case "completed":
		var s IssueCompleted
		if err := json.Unmarshal(aux.Status.Data, &s); err != nil {
			return err
		}
		r.Status = s
	case "cancelled":
		var s IssueCancelled
		if err := json.Unmarshal(aux.Status.Data, &s); err != nil {
			return err
		}
		r.Status = s
	default:
		return fmt.Errorf("unknown issue status %q", aux.Status.Kind)
	}
	return nil
}

// RedeemStatus : one of RedeemPending, RedeemCompleted, RedeemReimbursed or RedeemRetried
type RedeemStatus interface {
	redeemStatus() string
}

type RedeemPending struct{}

type RedeemCompleted struct {
	BtcTxID    string `json:"btc_tx_id"`
	Paid       uint64 `json:"paid"`
	ExecutedAt int64  `json:"executed_at"`
}

// RedeemReimbursed : cancelled, requester compensated in collateral and the vault keeps the BTC
type RedeemReimbursed struct {
	CancelledAt int64  `json:"cancelled_at"`
	Reimbursed  uint64 `json:"reimbursed"`
}

// RedeemRetried : cancelled, tokens re-minted to the requester and the vault paid the punishment fee
type RedeemRetried struct {
	CancelledAt int64  `json:"cancelled_at"`
	Punishment  uint64 `json:"punishment"`
}

func (RedeemPending) redeemStatus() string    { return "pending" }
func (RedeemCompleted) redeemStatus() string  { return "completed" }
func (RedeemReimbursed) redeemStatus() string { return "reimbursed" }
func (RedeemRetried) redeemStatus() string    { return "retried" }

// RedeemRequest : a user's request to burn wrapped tokens for BTC paid out by a vault
type RedeemRequest struct {
	ID         string       `json:"id"`
	Requester  Account      `json:"requester"`
	Vault      Account      `json:"vault"`
	AmountBtc  uint64       `json:"amount_btc"`
	Fee        uint64       `json:"fee"`
	BtcAddress string       `json:"btc_address"`
	OpenedAt   int64        `json:"opened_at"`
	Period     int64        `json:"period"`
	Nonce      uint64       `json:"nonce"`
	Status     RedeemStatus `json:"status"`
}

func (r RedeemRequest) Expired(height int64) bool {
	return expired(r.OpenedAt, r.Period, height)
}

func (r RedeemRequest) IsPending() bool {
	_, ok := r.Status.(RedeemPending)
	return ok
}

func (r RedeemRequest) MarshalJSON() ([]byte, error) {
	type plain RedeemRequest
	if r.Status == nil {
		r.Status = RedeemPending{}
	}
	status, err := encodeStatus(r.Status.redeemStatus(), r.Status)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		plain
		Status statusEnvelope `json:"status"`
	}{plain(r), status})
}

func (r *RedeemRequest) UnmarshalJSON(b []byte) error {
	type plain RedeemRequest
	aux := struct {
		*plain
		Status statusEnvelope `json:"status"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	var err error
	switch aux.Status.Kind {
	case "pending":
		r.Status = RedeemPending{}
	case "completed":
		var s RedeemCompleted
		err = json.Unmarshal(aux.Status.Data, &s)
		r.Status = s
	case "reimbursed":
		var s RedeemReimbursed
		err = json.Unmarshal(aux.Status.Data, &s)
		r.Status = s
	case "retried":
		var s RedeemRetried
		err = json.Unmarshal(aux.Status.Data, &s)
		r.Status = s
	default:
		err = fmt.Errorf("unknown redeem status %q", aux.Status.Kind)
	}
	return err
}

// RefundStatus : one of RefundPending or RefundCompleted
type RefundStatus interface {
	refundStatus() string
}

type RefundPending struct{}

type RefundCompleted struct {
	BtcTxID    string `json:"btc_tx_id"`
	Minted     uint64 `json:"minted"`
	Fee        uint64 `json:"fee"`
	ExecutedAt int64  `json:"executed_at"`
}

func (RefundPending) refundStatus() string   { return "pending" }
func (RefundCompleted) refundStatus() string { return "completed" }

// RefundRequest : the excess of an overpaid issue, owed back to its requester
type RefundRequest struct {
	ID         string       `json:"id"`
	IssueID    string       `json:"issue_id"`
	Requester  Account      `json:"requester"`
	Vault      Account      `json:"vault"`
	Amount     uint64       `json:"amount"`
	Fee        uint64       `json:"fee"`
	BtcAddress string       `json:"btc_address"`
	BtcTxID    string       `json:"btc_tx_id"`
	OpenedAt   int64        `json:"opened_at"`
	Status     RefundStatus `json:"status"`
}

func (r RefundRequest) IsPending() bool {
	_, ok := r.Status.(RefundPending)
	return ok
}

func (r RefundRequest) MarshalJSON() ([]byte, error) {
	type plain RefundRequest
	if r.Status == nil {
		r.Status = RefundPending{}
	}
	status, err := encodeStatus(r.Status.refundStatus(), r.Status)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		plain
		Status statusEnvelope `json:"status"`
	}{plain(r), status})
}

func (r *RefundRequest) UnmarshalJSON(b []byte) error {
	type plain RefundRequest
	aux := struct {
		*plain
		Status statusEnvelope `json:"status"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	switch aux.Status.Kind {
	case "pending":
		r.Status = RefundPending{}
	case "completed":
		var s RefundCompleted
		if err := json.Unmarshal(aux.Status.Data, &s); err != nil {
			return err
		}
		r.Status = s
	default:
		return fmt.Errorf("unknown refund status %q", aux.Status.Kind)
	}
	return nil
}

type statusEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

func encodeStatus(kind string, variant interface{}) (statusEnvelope, error) {
	data, err := json.Marshal(variant)
	if err != nil {
		return statusEnvelope{}, err
	}
	if string(data) == "{}" {
		data = nil
	}
	return statusEnvelope{Kind: kind, Data: data}, nil
}
