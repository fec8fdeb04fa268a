// Package orchestrator sequences the multi-transaction bet operations:
// create-and-join, join an existing bet, and vote or resolve. Each operation
// is an explicit state machine whose succeeded stages are never re-run.
package orchestrator

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/amongfriends/internal/domain"
)

// Kind names an orchestration type. A session runs at most one flow per kind.
type Kind string

const (
	KindCreate Kind = "create"
	KindJoin   Kind = "join"
	KindBallot Kind = "ballot"
)

// ParseKind validates a kind taken from a request path.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindCreate, KindJoin, KindBallot:
		return k, nil
	}
	return "", domain.Invalid("kind", "unknown flow kind %q", s)
}

// Stage is a step of a flow.
type Stage string

const (
	StageIdle              Stage = "idle"
	StageUploadingMetadata Stage = "uploading_metadata"
	StageCreatingBet       Stage = "creating_bet"
	StageExtractingBetID   Stage = "extracting_bet_id"
	StageApprovingToken    Stage = "approving_token"
	StageJoiningBet        Stage = "joining_bet"
	StageVoting            Stage = "voting"
	StageResolving         Stage = "resolving"
	StageComplete          Stage = "complete"
)

// Ordinal is the progress index rendered by the UI. Extraction shares the
// creation slot.
func (s Stage) Ordinal() int {
	switch s {
	case StageUploadingMetadata, StageVoting, StageResolving:
		return 1
	case StageCreatingBet, StageExtractingBetID:
		return 2
	case StageApprovingToken:
		return 3
	case StageJoiningBet:
		return 4
	case StageComplete:
		return 5
	default:
		return 0
	}
}

// Detail is the one-line description shown next to the stage.
func (s Stage) Detail() string {
	switch s {
	case StageUploadingMetadata:
		return "Uploading wager metadata to IPFS via Pinata"
	case StageCreatingBet:
		return "Broadcasting contract creation to blockchain"
	case StageExtractingBetID:
		return "Reading the new bet id from the receipt"
	case StageApprovingToken:
		return "Updating token allowance for contract"
	case StageJoiningBet:
		return "Finalizing peer connection and staking"
	case StageVoting:
		return "Submitting vote"
	case StageResolving:
		return "Requesting resolution"
	case StageComplete:
		return "Done"
	default:
		return ""
	}
}

// State is the presentation view of a flow.
type State struct {
	ID          string              `json:"id"`
	Kind        Kind                `json:"kind"`
	Session     string              `json:"-"`
	Stage       Stage               `json:"stage"`
	Ordinal     int                 `json:"ordinal"`
	Detail      string              `json:"detail"`
	Running     bool                `json:"running"`
	Failed      bool                `json:"failed"`
	FailedStage Stage               `json:"failedStage,omitempty"`
	Error       string              `json:"error,omitempty"`
	Dismissed   bool                `json:"dismissed"`
	BetID       *uint64             `json:"betId,omitempty"`
	CID         string              `json:"cid,omitempty"`
	TxHash      string              `json:"txHash,omitempty"`
	CreateTx    string              `json:"createTx,omitempty"`
	ApproveTx   string              `json:"approveTx,omitempty"`
	JoinTx      string              `json:"joinTx,omitempty"`
	Approved    bool                `json:"approved"`
	HasVoted    bool                `json:"hasVoted"`
	Snapshot    *domain.BetSnapshot `json:"snapshot,omitempty"`
	StartedAt   time.Time           `json:"startedAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// Complete reports whether the flow finished successfully.
func (s State) Complete() bool { return s.Stage == StageComplete }

// Terminal reports whether the flow can no longer make progress.
func (s State) Terminal() bool { return s.Complete() || s.Dismissed }

func (s State) String() string {
	if s.Failed {
		return fmt.Sprintf("%s flow %s failed at %s", s.Kind, s.ID, s.FailedStage)
	}
	return fmt.Sprintf("%s flow %s at %s", s.Kind, s.ID, s.Stage)
}
