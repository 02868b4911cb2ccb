package ingest

import (
	"daoscope/internal/model"
	"daoscope/internal/validate"
)

// EventKind is the closed set of events the pipeline applies. Names outside the set
// map to EventUnrecognized and are dropped at the router.
type EventKind int

const (
	EventUnrecognized EventKind = iota
	EventTokenCreated
	EventDaoCreated
	EventTransfer
	EventApproval
	EventOwnershipTransferred
	EventProposalCreated
	EventVoteCast
	EventProposalExecuted
	EventProposalCanceled
)

// ParseEventKind resolves an ABI event name within one contract family.
func ParseEventKind(family model.InterfaceKind, name string) EventKind {
	switch family {
	case model.KindTokenFactory:
		if name == "Create" {
			return EventTokenCreated
		}
	case model.KindDaoFactory:
		if name == "DaoCreated" {
			return EventDaoCreated
		}
	case model.KindToken:
		switch name {
		case "Transfer":
			return EventTransfer
		case "Approval":
			return EventApproval
		case "OwnershipTransferred":
			return EventOwnershipTransferred
		}
	case model.KindDao:
		switch name {
		case "ProposalCreated":
			return EventProposalCreated
		case "VoteCast":
			return EventVoteCast
		case "ProposalExecuted":
			return EventProposalExecuted
		case "ProposalCanceled":
			return EventProposalCanceled
		}
	}
	return EventUnrecognized
}

// String is the parsed type stored on transaction records. Transfers are refined to
// mint or burn by the ledger.
func (k EventKind) String() string {
	switch k {
	case EventTokenCreated:
		return "token_created"
	case EventDaoCreated:
		return "dao_created"
	case EventTransfer:
		return "transfer"
	case EventApproval:
		return "approval"
	case EventOwnershipTransferred:
		return "ownership_transferred"
	case EventProposalCreated:
		return "proposal_created"
	case EventVoteCast:
		return "vote_cast"
	case EventProposalExecuted:
		return "proposal_executed"
	case EventProposalCanceled:
		return "proposal_canceled"
	default:
		return "unrecognized"
	}
}

func (k EventKind) schema() validate.Schema {
	s := validate.Schema{Event: k.String()}
	switch k {
	case EventTokenCreated:
		s.Fields = []validate.Field{
			{Name: "token", Kind: validate.Address},
			{Name: "name", Kind: validate.String},
			{Name: "symbol", Kind: validate.String},
			{Name: "decimals", Kind: validate.Uint},
			{Name: "supply", Kind: validate.Numeric},
			{Name: "owner", Kind: validate.Address},
		}
	case EventDaoCreated:
		s.Fields = []validate.Field{
			{Name: "dao", Kind: validate.Address},
			{Name: "token", Kind: validate.Address},
			{Name: "creator", Kind: validate.Address},
			{Name: "name", Kind: validate.String},
		}
	case EventTransfer:
		s.Fields = []validate.Field{
			{Name: "from", Kind: validate.Address},
			{Name: "to", Kind: validate.Address},
			{Name: "value", Kind: validate.Numeric},
		}
	case EventApproval:
		s.Fields = []validate.Field{
			{Name: "owner", Kind: validate.Address},
			{Name: "spender", Kind: validate.Address},
			{Name: "value", Kind: validate.Numeric},
		}
	case EventOwnershipTransferred:
		s.Fields = []validate.Field{
			{Name: "previousOwner", Kind: validate.Address},
			{Name: "newOwner", Kind: validate.Address},
		}
	case EventProposalCreated:
		s.Fields = []validate.Field{
			{Name: "proposalId", Kind: validate.Numeric},
			{Name: "proposer", Kind: validate.Address},
			{Name: "description", Kind: validate.String},
		}
	case EventVoteCast:
		s.Fields = []validate.Field{
			{Name: "voter", Kind: validate.Address},
			{Name: "proposalId", Kind: validate.Numeric},
			{Name: "support", Kind: validate.Uint},
			{Name: "weight", Kind: validate.Numeric},
		}
	case EventProposalExecuted, EventProposalCanceled:
		s.Fields = []validate.Field{
			{Name: "proposalId", Kind: validate.Numeric},
		}
	}
	return s
}
