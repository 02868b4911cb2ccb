package contracts

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"daoscope/internal/model"
)

// Encode builds the log a contract of the given family would emit for event name.
// Values must use the Go types the ABI packer expects (common.Address, *big.Int, uint8, string).
func Encode(kind model.InterfaceKind, name string, address common.Address, args map[string]any) (types.Log, error) {
	parsed, err := ABI(kind)
	if err != nil {
		return types.Log{}, err
	}
	event, ok := parsed.Events[name]
	if !ok {
		return types.Log{}, fmt.Errorf("%s has no event %s", kind, name)
	}

	topics := []common.Hash{event.ID}
	var values []any
	for _, in := range event.Inputs {
		v, ok := args[in.Name]
		if !ok {
			return types.Log{}, fmt.Errorf("%s: missing arg %s", name, in.Name)
		}
		if !in.Indexed {
			values = append(values, v)
			continue
		}
		t, err := abi.MakeTopics([]any{v})
		if err != nil {
			return types.Log{}, fmt.Errorf("%s: topic %s: %w", name, in.Name, err)
		}
		topics = append(topics, t[0][0])
	}

	data, err := event.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		return types.Log{}, fmt.Errorf("%s: pack: %w", name, err)
	}
	return types.Log{Address: address, Topics: topics, Data: data}, nil
}
