package reputation

import (
	"time"

	"github.com/chainpoint/chainpoint-bridge/database"
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/tendermint/tendermint/libs/log"
)

// EventKind : what an account did to earn (or lose) reputation
type EventKind string

const (
	IssueProofSubmitted EventKind = "issue_proof_submitted"
	IssueHonored        EventKind = "issue_honored"
	RedeemHonored       EventKind = "redeem_honored"
	RefundHonored       EventKind = "refund_honored"
	RedeemFailed        EventKind = "redeem_failed"
)

// Points awarded per event kind
var Points = map[EventKind]int64{
	IssueProofSubmitted: 1,
	IssueHonored:        2,
	RedeemHonored:       4,
	RefundHonored:       1,
	RedeemFailed:        -10,
}

// Sink : receives reputation events. Failures never abort the transition that emitted them.
type Sink interface {
	Credit(account types.Account, kind EventKind) error
}

// Event : a credited reputation event, published after its transition commits
type Event struct {
	ID      string        `json:"id"`
	Account types.Account `json:"account"`
	Kind    EventKind     `json:"kind"`
	Points  int64         `json:"points"`
	Height  int64         `json:"height"`
	Time    time.Time     `json:"time"`
}

// Score : accumulated reputation of an account
type Score struct {
	Account   types.Account        `json:"account"`
	Score     int64                `json:"score"`
	Events    map[EventKind]uint64 `json:"events"`
	UpdatedAt int64                `json:"updated_at"`
}

// StoreSink : keeps scores under rep:<account>
type StoreSink struct {
	records database.Records
	height  int64
}

func NewStoreSink(s database.Store, height int64) *StoreSink {
	return &StoreSink{records: database.Records{Store: s}, height: height}
}

func (s *StoreSink) Score(account types.Account) (Score, error) {
	score := Score{Account: account, Events: map[EventKind]uint64{}}
	_, err := s.records.Get(database.Key("rep", string(account)), &score)
	if score.Events == nil {
		score.Events = map[EventKind]uint64{}
	}
	return score, err
}

func (s *StoreSink) Credit(account types.Account, kind EventKind) error {
	score, err := s.Score(account)
	if err != nil {
		return err
	}
	score.Score += Points[kind]
	score.Events[kind]++
	score.UpdatedAt = s.height
	return s.records.Put(database.Key("rep", string(account)), score)
}

// Recorder : the sink handed to a transition. It credits the store sink right away and keeps the events
// so they can be published once the transition commits.
type Recorder struct {
	sink   Sink
	height int64
	time   time.Time
	events []Event
	logger log.Logger
}

func NewRecorder(sink Sink, height int64, blockTime time.Time, logger log.Logger) *Recorder {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Recorder{sink: sink, height: height, time: blockTime, logger: logger}
}

func (r *Recorder) Credit(account types.Account, kind EventKind) error {
	if r.sink != nil {
		if err := r.sink.Credit(account, kind); err != nil {
			r.logger.Error("Reputation credit failed", "account", account, "kind", kind, "error", err.Error())
		}
	}
	r.events = append(r.events, Event{Account: account, Kind: kind, Points: Points[kind], Height: r.height, Time: r.time})
	return nil
}

// Events returns what was credited so far
func (r *Recorder) Events() []Event {
	return r.events
}
