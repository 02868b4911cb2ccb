package ingest

import (
	"context"
	"fmt"

	"daoscope/internal/ledger"
	"daoscope/internal/model"
	"daoscope/internal/storage"
)

func (r *Router) apply(ctx context.Context, tx storage.Tx, in *input) error {
	switch in.kind {
	case EventTokenCreated:
		return r.handleTokenCreated(ctx, tx, in)
	case EventDaoCreated:
		return r.handleDaoCreated(ctx, tx, in)
	case EventTransfer:
		return r.handleTransfer(ctx, tx, in)
	case EventApproval, EventOwnershipTransferred:
		token := in.event.ContractAddress
		return r.insertTransaction(ctx, tx, in, nil, &token)
	case EventProposalCreated, EventVoteCast, EventProposalExecuted, EventProposalCanceled:
		dao := in.event.ContractAddress
		return r.insertTransaction(ctx, tx, in, &dao, nil)
	default:
		return fmt.Errorf("no handler for %s", in.kind)
	}
}

// handleTokenCreated stores the token, credits the full initial supply to its owner and
// records the creating transaction.
func (r *Router) handleTokenCreated(ctx context.Context, tx storage.Tx, in *input) error {
	token := in.args.Address("token")
	owner := in.args.Address("owner")
	supply := in.args.Numeric("supply")
	decimals := in.args.Uint("decimals")
	if decimals > 255 {
		return fmt.Errorf("decimals %d out of range", decimals)
	}

	out, err := r.persister.InsertIfAbsent(ctx, tx, &model.TokenRecord{
		ContractAddress: token,
		Name:            in.args.String("name"),
		Symbol:          in.args.String("symbol"),
		Decimals:        uint8(decimals),
		TotalSupply:     supply.String(),
		Owner:           owner,
		CreationTxHash:  in.event.TransactionHash,
		CreationBlock:   in.event.BlockNumber,
	})
	if err != nil {
		return err
	}
	if out == storage.Inserted {
		stamp := ledger.Stamp{Block: in.event.BlockNumber, Timestamp: in.event.BlockTimestamp}
		if _, err := r.ledger.AdjustBalance(ctx, tx, token, owner, supply, true, stamp); err != nil {
			return fmt.Errorf("opening balance: %w", err)
		}
	}
	return r.insertTransaction(ctx, tx, in, nil, &token)
}

func (r *Router) handleDaoCreated(ctx context.Context, tx storage.Tx, in *input) error {
	dao := in.args.Address("dao")
	token := in.args.Address("token")

	if _, err := r.persister.InsertIfAbsent(ctx, tx, &model.DaoRecord{
		Address:           dao,
		TokenAddress:      token,
		Creator:           in.args.Address("creator"),
		Name:              in.args.String("name"),
		CreationBlock:     in.event.BlockNumber,
		CreationTxHash:    in.event.TransactionHash,
		CreationTimestamp: in.event.BlockTimestamp,
	}); err != nil {
		return err
	}
	return r.insertTransaction(ctx, tx, in, &dao, &token)
}

func (r *Router) handleTransfer(ctx context.Context, tx storage.Tx, in *input) error {
	token := in.event.ContractAddress
	kind, err := r.ledger.ApplyTransfer(ctx, tx, ledger.Transfer{
		Token:  token,
		From:   in.args.Address("from"),
		To:     in.args.Address("to"),
		Amount: in.args.Numeric("value"),
		Stamp:  ledger.Stamp{Block: in.event.BlockNumber, Timestamp: in.event.BlockTimestamp},
	})
	if err != nil {
		return err
	}
	in.parsedType = kind.String()
	return r.insertTransaction(ctx, tx, in, nil, &token)
}

// insertTransaction records the transaction behind the log. The first log of a transaction
// to be applied fixes the row; later logs of the same transaction leave it untouched.
func (r *Router) insertTransaction(ctx context.Context, tx storage.Tx, in *input, dao, token *string) error {
	rec := &model.TransactionRecord{
		Hash:                 in.event.TransactionHash,
		BlockNumber:          in.event.BlockNumber,
		BlockHash:            in.event.BlockHash,
		BlockTimestamp:       in.event.BlockTimestamp,
		From:                 in.tx.From,
		To:                   in.tx.To,
		Value:                in.tx.Value,
		Gas:                  in.tx.Gas,
		GasPrice:             in.tx.GasPrice,
		MaxFeePerGas:         in.tx.MaxFeePerGas,
		MaxPriorityFeePerGas: in.tx.MaxPriorityFeePerGas,
		Nonce:                in.tx.Nonce,
		Input:                in.tx.Input,
		TransactionIndex:     in.event.TransactionIndex,
		Type:                 in.tx.Type,
		LogEvents: []model.LogEvent{{
			Contract: in.event.ContractAddress,
			Event:    in.event.EventName,
			LogIndex: in.event.LogIndex,
			Args:     in.args.Strings(),
		}},
		ParsedType:   in.parsedType,
		DaoAddress:   dao,
		TokenAddress: token,
	}
	_, err := r.persister.InsertIfAbsent(ctx, tx, rec)
	return err
}
