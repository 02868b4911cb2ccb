package ledger

import (
	"context"
	"fmt"
	"math/big"

	"daoscope/internal/model"
	"daoscope/internal/storage"
)

// Conservation compares a token's recorded supply with the sum of its holder balances.
type Conservation struct {
	Token   string
	Supply  *big.Int
	Holders int
	Sum     *big.Int
}

func (c Conservation) Balanced() bool { return c.Supply.Cmp(c.Sum) == 0 }

// CheckConservation reads the token and all of its holder rows.
func CheckConservation(ctx context.Context, store storage.Store, token string) (Conservation, error) {
	token = model.NormalizeAddress(token)
	rec, err := store.GetToken(ctx, token)
	if err != nil {
		return Conservation{}, fmt.Errorf("token %s: %w", token, err)
	}
	supply, err := model.ParseAmount(rec.TotalSupply)
	if err != nil {
		return Conservation{}, fmt.Errorf("token %s supply: %w", token, err)
	}

	holders, err := store.ListHolderBalances(ctx, token)
	if err != nil {
		return Conservation{}, fmt.Errorf("token %s holders: %w", token, err)
	}
	sum := new(big.Int)
	for i := range holders {
		b, err := holders[i].BalanceInt()
		if err != nil {
			return Conservation{}, fmt.Errorf("holder %s: %w", holders[i].HolderAddress, err)
		}
		sum.Add(sum, b)
	}
	return Conservation{Token: token, Supply: supply, Holders: len(holders), Sum: sum}, nil
}
