package indexer

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"daoscope/internal/model"
)

// ParseAddresses converts string addresses into common.Address, dropping blanks and repeats.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	seen := make(map[common.Address]struct{}, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !common.IsHexAddress(input) {
			return nil, fmt.Errorf("invalid address: %s", input)
		}
		addr := common.HexToAddress(input)
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		addresses = append(addresses, addr)
	}
	return addresses, nil
}

// FactoryTargets builds watch targets for the configured token and DAO factories. An address
// listed under both families keeps its token-factory role.
func FactoryTargets(tokenFactories, daoFactories []string, logger *zap.Logger) ([]model.WatchTarget, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tokens, err := ParseAddresses(tokenFactories)
	if err != nil {
		return nil, fmt.Errorf("token factories: %w", err)
	}
	daos, err := ParseAddresses(daoFactories)
	if err != nil {
		return nil, fmt.Errorf("dao factories: %w", err)
	}

	out := make([]model.WatchTarget, 0, len(tokens)+len(daos))
	used := make(map[common.Address]struct{}, len(tokens))
	for _, a := range tokens {
		used[a] = struct{}{}
		out = append(out, model.NewWatchTarget(a.Hex(), model.KindTokenFactory, "token factory"))
	}
	for _, a := range daos {
		if _, ok := used[a]; ok {
			logger.Warn("address configured as both token and dao factory", zap.String("contract", a.Hex()))
			continue
		}
		out = append(out, model.NewWatchTarget(a.Hex(), model.KindDaoFactory, "dao factory"))
	}
	return out, nil
}
