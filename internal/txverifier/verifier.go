// Package txverifier implements the Transaction Verifier (§4.D): the
// per-transactable validation order (structure, coinbase maturity,
// timelock, UTXO resolution, script/witness, value conservation, token
// issuance bookkeeping, apply-with-undo) layered over a UTXO cache and
// token registry, plus the block-level checks that span every
// transaction in a block.
//
// A Verifier wraps one utxo.CachedView and one token-issuance layer.
// DeriveChild nests a speculative child verifier the way CachedView
// nests a child cache, so a block can be evaluated against a
// not-yet-committed parent without mutating it; Consume freezes the
// child's edits for a one-time Flush into the parent, the same
// freeze-then-flush handoff utxo.CachedView uses.
package txverifier

import (
	"errors"
	"fmt"
	"math"

	"github.com/mintledger/chainstate/internal/utxo"
	"github.com/mintledger/chainstate/pkg/crypto"
	"github.com/mintledger/chainstate/pkg/tx"
	"github.com/mintledger/chainstate/pkg/types"
)

// lockTimeThreshold distinguishes a height-based locktime from a
// unix-timestamp-based one, matching Bitcoin's nLockTime convention:
// values below it are block heights, values at or above it are times.
const lockTimeThreshold = 500_000_000

var (
	ErrBlockRewardImmature         = errors.New("txverifier: block-reward output not yet mature")
	ErrLockTimeNotReached          = errors.New("txverifier: locktime not satisfied")
	ErrTokenAlreadyRegistered      = errors.New("txverifier: token id already registered")
	ErrMultipleTokenIssuance       = errors.New("txverifier: transaction issues more than one token")
	ErrTokenIssuanceMismatch       = errors.New("txverifier: minted token amount does not match declared issuance")
	ErrTokenValueMismatch          = errors.New("txverifier: token inputs do not match outputs")
	ErrNoUndoRecord                = errors.New("txverifier: no undo record for transactable")
	ErrRewardOverflow              = errors.New("txverifier: block reward value overflow")
	ErrRewardExceedsFeesPlusSubsidy = errors.New("txverifier: block reward exceeds fees plus subsidy")
	ErrDuplicateInputInBlock       = errors.New("txverifier: duplicate input outpoint across block")
)

// TxUndo records everything needed to reverse one connected
// transactable — a transaction or a block's reward outputs.
type TxUndo struct {
	SpentOutpoints   []types.Outpoint
	SpentUTXOs       []utxo.UTXO
	CreatedOutpoints []types.Outpoint
	IssuedToken      *types.TokenID
}

// Verifier is the verification context of §4.D: a UTXO cache layer, a
// token-issuance layer, and the undo log needed to reverse anything
// connected through it.
type Verifier struct {
	view         *utxo.CachedView
	tokenParent  TokenView
	tokensIssued map[types.TokenID]types.TokenIssuance
	tokensErased map[types.TokenID]bool
	undo         map[types.Hash]*TxUndo
	maturity     uint64
}

// New builds a root Verifier over the given parent UTXO and token
// views, with coinbaseMaturity blocks of required confirmation depth
// before a block-reward output can be spent.
func New(parentView utxo.View, parentTokens TokenView, coinbaseMaturity uint64) *Verifier {
	return &Verifier{
		view:         utxo.NewCachedView(parentView),
		tokenParent:  parentTokens,
		tokensIssued: make(map[types.TokenID]types.TokenIssuance),
		tokensErased: make(map[types.TokenID]bool),
		undo:         make(map[types.Hash]*TxUndo),
		maturity:     coinbaseMaturity,
	}
}

// DeriveChild nests a speculative child verifier over this one,
// implementing derive_child: edits made through the child are
// invisible to this verifier until explicitly flushed.
func (v *Verifier) DeriveChild() *Verifier {
	return New(v.view, v, v.maturity)
}

// IsRegistered implements TokenView, letting a child verifier layer
// its token cache over this one.
func (v *Verifier) IsRegistered(id types.TokenID) (bool, error) {
	if _, ok := v.tokensIssued[id]; ok {
		return true, nil
	}
	if v.tokensErased[id] {
		return false, nil
	}
	return v.tokenParent.IsRegistered(id)
}

// SetBestBlock implements set_best_block against the underlying cache.
func (v *Verifier) SetBestBlock(id types.Hash) {
	v.view.SetBestBlock(id)
}

// BestBlock returns the view's current best-block pointer.
func (v *Verifier) BestBlock() types.Hash {
	return v.view.BestBlock()
}

// ConsumedVerifier is a frozen snapshot of a Verifier's edits, ready
// to be flushed into a parent exactly once (implements consume).
type ConsumedVerifier struct {
	cache        *utxo.ConsumedCache
	tokensIssued map[types.TokenID]types.TokenIssuance
	tokensErased map[types.TokenID]bool
	undo         map[types.Hash]*TxUndo
}

// Consume detaches this verifier's edits for a one-time flush into a
// parent, leaving the verifier itself unusable afterward.
func (v *Verifier) Consume() *ConsumedVerifier {
	cv := &ConsumedVerifier{
		cache:        v.view.Consume(),
		tokensIssued: v.tokensIssued,
		tokensErased: v.tokensErased,
		undo:         v.undo,
	}
	v.tokensIssued = nil
	v.tokensErased = nil
	v.undo = nil
	return cv
}

// FlushInto merges a consumed child's edits into parent, combining
// the UTXO cache per utxo.CachedView's Flush rules and the token/undo
// maps by last-writer-wins (token issuance and undo records are
// write-once per id within a single verifier lineage, so no entry is
// ever contested between a child and its parent).
func (cv *ConsumedVerifier) FlushInto(parent *Verifier) error {
	if err := cv.cache.Flush(parent.view); err != nil {
		return err
	}
	for id, iss := range cv.tokensIssued {
		parent.tokensIssued[id] = iss
		delete(parent.tokensErased, id)
	}
	for id := range cv.tokensErased {
		delete(parent.tokensIssued, id)
		parent.tokensErased[id] = true
	}
	for id, u := range cv.undo {
		parent.undo[id] = u
	}
	return nil
}

// FlushToStore applies a root Verifier's accumulated edits directly
// into persistent storage: the UTXO store and the token registry.
func (v *Verifier) FlushToStore(store *utxo.Store, tokens *TokenRegistry) error {
	if err := v.view.FlushToStore(store); err != nil {
		return err
	}
	for id, iss := range v.tokensIssued {
		if err := tokens.Register(id, iss); err != nil {
			return fmt.Errorf("register token %s: %w", id, err)
		}
	}
	for id := range v.tokensErased {
		if err := tokens.Unregister(id); err != nil {
			return fmt.Errorf("unregister token %s: %w", id, err)
		}
	}
	return nil
}

func (v *Verifier) checkLockTime(height, medianTimePast, lockTime uint64) error {
	if lockTime == 0 {
		return nil
	}
	if lockTime < lockTimeThreshold {
		if height < lockTime {
			return fmt.Errorf("%w: height %d < locktime %d", ErrLockTimeNotReached, height, lockTime)
		}
		return nil
	}
	if medianTimePast < lockTime {
		return fmt.Errorf("%w: median-time-past %d < locktime %d", ErrLockTimeNotReached, medianTimePast, lockTime)
	}
	return nil
}

func (v *Verifier) checkCoinbaseMaturity(height uint64, u *utxo.UTXO) error {
	if !u.IsBlockReward {
		return nil
	}
	if height < u.Height || height-u.Height < v.maturity {
		return fmt.Errorf("%w: created at height %d, spent at %d, requires %d confirmations",
			ErrBlockRewardImmature, u.Height, height, v.maturity)
	}
	return nil
}

// checkTokenConservation enforces per-token value conservation (§4.D
// step 7): a freshly-issued token's minted output amount must match
// its declared issuance exactly; every other token id's output total
// must equal its input total exactly, since tokens carry no fee
// concept to absorb a difference. Returns the newly-issued token id
// and its issuance metadata, if this transaction issues one.
func (v *Verifier) checkTokenConservation(t *tx.Transaction, inputValues []types.Value) (*types.TokenID, types.TokenIssuance, error) {
	tokenIn := make(map[types.TokenID]uint64)
	for _, val := range inputValues {
		if val.Token != nil {
			tokenIn[val.Token.ID] += val.Token.Amount
		}
	}

	var issuance types.TokenIssuance
	issuanceCount := 0
	for _, out := range t.Outputs {
		if out.Purpose.Kind == types.PurposeIssueToken {
			issuanceCount++
			iss, err := tx.DecodeTokenIssuance(out.Purpose.Data)
			if err != nil {
				return nil, types.TokenIssuance{}, err
			}
			issuance = iss
		}
	}
	if issuanceCount > 1 {
		return nil, types.TokenIssuance{}, ErrMultipleTokenIssuance
	}

	var issuanceID *types.TokenID
	if issuanceCount == 1 {
		id := crypto.TokenIDFromIssuance(t.Inputs[0].PrevOut)
		issuanceID = &id
	}

	tokenOut := make(map[types.TokenID]uint64)
	for _, out := range t.Outputs {
		if out.Value.Token == nil {
			continue
		}
		tokenOut[out.Value.Token.ID] += out.Value.Token.Amount
	}

	for id, outAmt := range tokenOut {
		if issuanceID != nil && id == *issuanceID {
			if outAmt != issuance.Amount {
				return nil, types.TokenIssuance{}, fmt.Errorf("%w: minted %d, declared %d", ErrTokenIssuanceMismatch, outAmt, issuance.Amount)
			}
			continue
		}
		if tokenIn[id] != outAmt {
			return nil, types.TokenIssuance{}, fmt.Errorf("%w: token %s inputs=%d outputs=%d", ErrTokenValueMismatch, id, tokenIn[id], outAmt)
		}
	}

	return issuanceID, issuance, nil
}

// ConnectTransaction implements connect_transactable for an ordinary
// transaction: runs the full §4.D validation order and, if it passes,
// spends its inputs and creates its outputs in the cache, recording
// undo. Returns the transaction's fee.
func (v *Verifier) ConnectTransaction(height, medianTimePast uint64, t *tx.Transaction) (uint64, error) {
	if err := v.checkLockTime(height, medianTimePast, t.LockTime); err != nil {
		return 0, err
	}

	inputValues := make([]types.Value, len(t.Inputs))
	for i, in := range t.Inputs {
		u, ok, err := v.view.Get(in.PrevOut)
		if err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}
		if !ok {
			return 0, fmt.Errorf("input %d (%s): %w", i, in.PrevOut, tx.ErrInputNotFound)
		}
		if err := v.checkCoinbaseMaturity(height, u); err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}
		inputValues[i] = u.Value
	}

	if err := v.checkLockTime(height, medianTimePast, t.LockTime); err != nil {
		return 0, err
	}

	fee, err := t.ValidateWithUTXOs(&utxoProvider{view: v.view})
	if err != nil {
		return 0, err
	}

	issuanceID, issuance, err := v.checkTokenConservation(t, inputValues)
	if err != nil {
		return 0, err
	}
	if issuanceID != nil {
		registered, err := v.IsRegistered(*issuanceID)
		if err != nil {
			return 0, err
		}
		if registered {
			return 0, fmt.Errorf("%w: %s", ErrTokenAlreadyRegistered, *issuanceID)
		}
	}

	txID := t.Hash()
	undo := &TxUndo{}
	for i, in := range t.Inputs {
		spent, err := v.view.SpendUTXO(in.PrevOut)
		if err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}
		undo.SpentOutpoints = append(undo.SpentOutpoints, in.PrevOut)
		undo.SpentUTXOs = append(undo.SpentUTXOs, *spent)
	}
	for i, out := range t.Outputs {
		op := types.NewOutpoint(txID, uint32(i))
		if err := v.view.AddUTXO(op, &utxo.UTXO{Value: out.Value, Purpose: out.Purpose, Height: height}); err != nil {
			return 0, fmt.Errorf("output %d: %w", i, err)
		}
		undo.CreatedOutpoints = append(undo.CreatedOutpoints, op)
	}

	if issuanceID != nil {
		v.tokensIssued[*issuanceID] = issuance
		undo.IssuedToken = issuanceID
	}

	v.undo[txID] = undo
	return fee, nil
}

// DisconnectTransaction implements disconnect_transactable: reverses a
// previously connected transaction using its recorded undo.
func (v *Verifier) DisconnectTransaction(t *tx.Transaction) error {
	txID := t.Hash()
	undo, ok := v.undo[txID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoUndoRecord, txID)
	}
	if err := v.applyUndo(undo); err != nil {
		return err
	}
	delete(v.undo, txID)
	return nil
}

func (v *Verifier) applyUndo(undo *TxUndo) error {
	for _, op := range undo.CreatedOutpoints {
		if _, err := v.view.SpendUTXO(op); err != nil {
			return fmt.Errorf("disconnect: remove created output %s: %w", op, err)
		}
	}
	for i, op := range undo.SpentOutpoints {
		u := undo.SpentUTXOs[i]
		if err := v.view.AddUTXO(op, &u); err != nil {
			return fmt.Errorf("disconnect: restore spent output %s: %w", op, err)
		}
	}
	if undo.IssuedToken != nil {
		delete(v.tokensIssued, *undo.IssuedToken)
		v.tokensErased[*undo.IssuedToken] = true
	}
	return nil
}

// ConnectBlockReward implements check_block_reward's counterpart
// connect step: creates a block's reward outputs with no inputs to
// spend and no fee to compute.
func (v *Verifier) ConnectBlockReward(height uint64, blockID types.Hash, outputs []tx.Output) error {
	undo := &TxUndo{}
	for i, out := range outputs {
		op := types.NewRewardOutpoint(blockID, uint32(i))
		u := &utxo.UTXO{Value: out.Value, Purpose: out.Purpose, Height: height, IsBlockReward: true}
		if err := v.view.AddUTXO(op, u); err != nil {
			return fmt.Errorf("reward output %d: %w", i, err)
		}
		undo.CreatedOutpoints = append(undo.CreatedOutpoints, op)
	}
	v.undo[blockID] = undo
	return nil
}

// DisconnectBlockReward reverses a previously connected block reward.
func (v *Verifier) DisconnectBlockReward(blockID types.Hash) error {
	undo, ok := v.undo[blockID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoUndoRecord, blockID)
	}
	if err := v.applyUndo(undo); err != nil {
		return err
	}
	delete(v.undo, blockID)
	return nil
}

// TotalRewardValue sums the coin-denominated value of a block's reward
// outputs (token-denominated reward outputs aren't part of the
// subsidy/fee accounting this guards).
func TotalRewardValue(outputs []tx.Output) (uint64, error) {
	var total uint64
	for _, out := range outputs {
		if out.Value.IsToken() {
			continue
		}
		if total > math.MaxUint64-out.Value.Coin {
			return 0, ErrRewardOverflow
		}
		total += out.Value.Coin
	}
	return total, nil
}

// CheckBlockReward implements check_block_reward: the reward a block
// claims may never exceed the subsidy plus the fees its transactions
// actually paid.
func CheckBlockReward(rewardTotal, totalFees, subsidy uint64) error {
	if totalFees > math.MaxUint64-subsidy {
		return ErrRewardOverflow
	}
	allowed := totalFees + subsidy
	if rewardTotal > allowed {
		return fmt.Errorf("%w: reward %d exceeds fees+subsidy %d", ErrRewardExceedsFeesPlusSubsidy, rewardTotal, allowed)
	}
	return nil
}

// CheckNoDuplicateInputsInBlock implements the block-level duplicate
// check: no outpoint may be spent by more than one transaction in the
// same block, even though each transaction individually has no
// internal duplicates (pkg/tx.Validate already enforces that).
func CheckNoDuplicateInputsInBlock(transactions []*tx.Transaction) error {
	seen := make(map[types.Outpoint]bool)
	for _, t := range transactions {
		for _, in := range t.Inputs {
			if seen[in.PrevOut] {
				return fmt.Errorf("%w: %s", ErrDuplicateInputInBlock, in.PrevOut)
			}
			seen[in.PrevOut] = true
		}
	}
	return nil
}
