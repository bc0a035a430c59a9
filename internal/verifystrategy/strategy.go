// Package verifystrategy implements the Verification Strategy (§4.E):
// orchestrating internal/txverifier across every transactable in a
// block under one of two interchangeable staging policies. Both
// policies must produce identical write-sets for a correct block —
// they differ only in fault isolation, which matters for diagnosing a
// bad transaction during testing, not for correctness.
package verifystrategy

import (
	"errors"
	"fmt"
	"math"

	"github.com/mintledger/chainstate/internal/txverifier"
	"github.com/mintledger/chainstate/internal/utxo"
	"github.com/mintledger/chainstate/pkg/block"
)

// Policy selects how per-transaction child verifiers are staged
// against the block-level verifier.
type Policy int

const (
	// Default stages every transaction directly into one block-level
	// verifier; a single write-set results.
	Default Policy = iota

	// Disposable gives each transaction its own child verifier,
	// flushed into the block-level verifier only on that
	// transaction's success — used in testing to isolate one
	// transaction's failure from the rest of the block.
	Disposable
)

func (p Policy) String() string {
	if p == Disposable {
		return "disposable"
	}
	return "default"
}

// ErrFeeOverflow is returned when summing a block's transaction fees
// would overflow.
var ErrFeeOverflow = errors.New("verifystrategy: total fee overflow")

// Result carries everything the caller needs after verifying a block:
// the verifier holding its write-set, ready for the caller's own
// outer flush, and the total fees collected (useful for diagnostics
// even though check_block_reward has already been enforced).
type Result struct {
	Verifier  *txverifier.Verifier
	TotalFees uint64
}

// VerifyBlock implements the §4.E order: (1) connect the block
// reward, (2) connect every transaction in block order accumulating
// fees, (3) enforce check_block_reward, (4) set the view's best-block
// pointer to the block's own id, (5) return the verifier for the
// caller's outer flush.
//
// subsidy is the block subsidy at this height (config.ProtocolConfig.
// BlockSubsidyAt), resolved by the caller since consensus-schedule
// lookups aren't this package's concern.
func VerifyBlock(
	policy Policy,
	parentView utxo.View,
	parentTokens txverifier.TokenView,
	coinbaseMaturity uint64,
	blk *block.Block,
	medianTimePast uint64,
	subsidy uint64,
) (*Result, error) {
	if err := txverifier.CheckNoDuplicateInputsInBlock(blk.Transactions); err != nil {
		return nil, err
	}

	blockID := blk.Header.Hash()
	v := txverifier.New(parentView, parentTokens, coinbaseMaturity)

	if err := v.ConnectBlockReward(blk.Header.Height, blockID, blk.RewardOutputs); err != nil {
		return nil, fmt.Errorf("connect block reward: %w", err)
	}

	var totalFees uint64
	var err error
	switch policy {
	case Default:
		totalFees, err = connectDefault(v, blk, medianTimePast)
	case Disposable:
		totalFees, err = connectDisposable(v, blk, medianTimePast)
	default:
		err = fmt.Errorf("verifystrategy: unknown policy %d", policy)
	}
	if err != nil {
		return nil, err
	}

	rewardTotal, err := txverifier.TotalRewardValue(blk.RewardOutputs)
	if err != nil {
		return nil, err
	}
	if err := txverifier.CheckBlockReward(rewardTotal, totalFees, subsidy); err != nil {
		return nil, err
	}

	v.SetBestBlock(blockID)

	return &Result{Verifier: v, TotalFees: totalFees}, nil
}

func connectDefault(v *txverifier.Verifier, blk *block.Block, medianTimePast uint64) (uint64, error) {
	var totalFees uint64
	for i, t := range blk.Transactions {
		fee, err := v.ConnectTransaction(blk.Header.Height, medianTimePast, t)
		if err != nil {
			return 0, fmt.Errorf("connect tx %d (%s): %w", i, t.Hash(), err)
		}
		totalFees, err = addFee(totalFees, fee)
		if err != nil {
			return 0, err
		}
	}
	return totalFees, nil
}

func connectDisposable(v *txverifier.Verifier, blk *block.Block, medianTimePast uint64) (uint64, error) {
	var totalFees uint64
	for i, t := range blk.Transactions {
		child := v.DeriveChild()
		fee, err := child.ConnectTransaction(blk.Header.Height, medianTimePast, t)
		if err != nil {
			return 0, fmt.Errorf("connect tx %d (%s): %w", i, t.Hash(), err)
		}
		if err := child.Consume().FlushInto(v); err != nil {
			return 0, fmt.Errorf("flush tx %d (%s): %w", i, t.Hash(), err)
		}
		totalFees, err = addFee(totalFees, fee)
		if err != nil {
			return 0, err
		}
	}
	return totalFees, nil
}

func addFee(total, fee uint64) (uint64, error) {
	if total > math.MaxUint64-fee {
		return 0, ErrFeeOverflow
	}
	return total + fee, nil
}
