package contracts

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"daoscope/internal/model"
)

// Decoder turns chain logs into RawEvents using the ABI of the watched family.
type Decoder struct {
	events map[model.InterfaceKind]map[common.Hash]abi.Event
}

func NewDecoder() (*Decoder, error) {
	d := &Decoder{events: make(map[model.InterfaceKind]map[common.Hash]abi.Event, len(families))}
	for kind := range families {
		parsed, err := ABI(kind)
		if err != nil {
			return nil, fmt.Errorf("parse %s abi: %w", kind, err)
		}
		byID := make(map[common.Hash]abi.Event, len(parsed.Events))
		for _, ev := range parsed.Events {
			byID[ev.ID] = ev
		}
		d.events[kind] = byID
	}
	return d, nil
}

// Topics returns the topic0 set of a family, used as the subscription filter.
func (d *Decoder) Topics(kind model.InterfaceKind) []common.Hash {
	byID := d.events[kind]
	out := make([]common.Hash, 0, len(byID))
	for id := range byID {
		out = append(out, id)
	}
	return out
}

// Decode maps a log onto a RawEvent. A topic0 the family does not declare is not an
// error: the event name is the topic0 hex and the router drops it as unrecognized.
func (d *Decoder) Decode(kind model.InterfaceKind, lg types.Log) (model.RawEvent, error) {
	ev := model.RawEvent{
		ContractAddress:  model.NormalizeAddress(lg.Address.Hex()),
		BlockNumber:      lg.BlockNumber,
		BlockHash:        strings.ToLower(lg.BlockHash.Hex()),
		TransactionHash:  strings.ToLower(lg.TxHash.Hex()),
		TransactionIndex: uint64(lg.TxIndex),
		LogIndex:         uint64(lg.Index),
		Removed:          lg.Removed,
	}
	if len(lg.Topics) == 0 {
		return ev, fmt.Errorf("missing topics")
	}
	byID, ok := d.events[kind]
	if !ok {
		return ev, fmt.Errorf("unsupported family %s", kind)
	}
	event, ok := byID[lg.Topics[0]]
	if !ok {
		ev.EventName = strings.ToLower(lg.Topics[0].Hex())
		return ev, nil
	}
	ev.EventName = event.Name

	args := make(map[string]any, len(event.Inputs))
	var indexed abi.Arguments
	for _, in := range event.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if len(lg.Topics)-1 != len(indexed) {
		return ev, fmt.Errorf("%s: expected %d indexed topics, got %d", event.Name, len(indexed), len(lg.Topics)-1)
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
			return ev, fmt.Errorf("%s: parse topics: %w", event.Name, err)
		}
	}
	if nonIndexed := event.Inputs.NonIndexed(); len(nonIndexed) > 0 {
		if err := nonIndexed.UnpackIntoMap(args, lg.Data); err != nil {
			return ev, fmt.Errorf("%s: unpack data: %w", event.Name, err)
		}
	}
	ev.Args = args
	return ev, nil
}
