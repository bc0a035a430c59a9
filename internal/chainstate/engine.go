package chainstate

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mintledger/chainstate/config"
	"github.com/mintledger/chainstate/internal/blockindex"
	"github.com/mintledger/chainstate/internal/blockstore"
	"github.com/mintledger/chainstate/internal/consensus"
	"github.com/mintledger/chainstate/internal/log"
	"github.com/mintledger/chainstate/internal/orphans"
	"github.com/mintledger/chainstate/internal/storage"
	"github.com/mintledger/chainstate/internal/txverifier"
	"github.com/mintledger/chainstate/internal/utxo"
	"github.com/mintledger/chainstate/internal/verifystrategy"
	"github.com/mintledger/chainstate/pkg/block"
	"github.com/mintledger/chainstate/pkg/types"
)

// Block acceptance errors (§4.G).
var (
	ErrNilBlock             = errors.New("chainstate: nil block or header")
	ErrInvalidBlockSource   = errors.New("chainstate: genesis block must be submitted as a local block")
	ErrAlreadyInitialized   = errors.New("chainstate: chain already initialized")
	ErrNotInitialized       = errors.New("chainstate: chain has no genesis block yet")
	ErrBadHeight            = errors.New("chainstate: block height does not follow its parent")
	ErrBadPrevHash          = errors.New("chainstate: non-genesis block must have a nonzero prev hash")
	ErrAncestorFailed       = errors.New("chainstate: block descends from a failed ancestor")
	ErrTimestampTooFarAhead = errors.New("chainstate: block timestamp too far in the future")
	ErrTimestampNotPastMTP  = errors.New("chainstate: block timestamp does not exceed the median of its last 11 ancestors")
)

// maxFutureDrift bounds how far into the future (relative to wall
// clock) a block's timestamp may be: the Bitcoin-style 2-hour
// allowance.
const maxFutureDrift = 2 * time.Hour

// medianTimePastWindow is the number of trailing ancestors, starting
// at the parent (the block itself is excluded), folded into the
// median-time-past calculation used for timestamp and locktime checks.
const medianTimePastWindow = 11

// Config bundles the pieces an Engine needs beyond its storage
// backend: the protocol rules that govern subsidy/consensus/maturity,
// and the operational limits (orphan pool capacity).
type Config struct {
	Protocol   *config.ProtocolConfig
	Chainstate config.ChainstateConfig
}

// Engine is the block-acceptance, reorg, and bootstrap orchestrator of
// §4.G/§4.H/§4.I, grounded on teacher internal/chain.Chain's
// responsibilities and generalized to this module's net-upgrade
// consensus schedule and cache-backed storage/verification stack.
//
// Like teacher Chain, Engine serializes all state-mutating calls
// behind one mutex: every accepted block mutates exactly one
// rw-transaction's worth of index/store/UTXO state, and §4.A forbids
// mutating chain state outside that single transaction.
type Engine struct {
	mu sync.Mutex

	backend  storage.Backend
	protocol *config.ProtocolConfig
	selector *consensus.Selector
	orphans  *orphans.Pool

	coinbaseMaturity uint64
	policy           verifystrategy.Policy

	state ChainState
}

// New opens an Engine over backend, recovering its chain cursor from
// whatever has already been indexed (empty for a brand-new database).
func New(backend storage.Backend, cfg Config) (*Engine, error) {
	if backend == nil {
		return nil, fmt.Errorf("chainstate: storage backend is nil")
	}
	if cfg.Protocol == nil {
		return nil, fmt.Errorf("chainstate: protocol config is nil")
	}

	capacity := cfg.Chainstate.MaxOrphans
	if capacity <= 0 {
		capacity = 100
	}

	e := &Engine{
		backend:          backend,
		protocol:         cfg.Protocol,
		selector:         consensus.NewSelector(cfg.Protocol),
		orphans:          orphans.NewPool(capacity),
		coinbaseMaturity: config.CoinbaseMaturity,
		policy:           verifystrategy.Default,
	}

	ro, err := backend.BeginRO()
	if err != nil {
		return nil, fmt.Errorf("chainstate: open recovery transaction: %w", err)
	}
	defer ro.Discard()

	idx := blockindex.NewView(ro)
	state, err := loadState(ro, idx)
	if err != nil {
		return nil, fmt.Errorf("chainstate: recover chain state: %w", err)
	}
	e.state = state

	return e, nil
}

// State returns a snapshot of the chain cursor.
func (e *Engine) State() ChainState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// InitFromGenesis seeds a brand-new chain from a genesis configuration.
// Only valid before any block has ever been accepted.
func (e *Engine) InitFromGenesis(gen *config.Genesis) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.IsGenesis() {
		return ErrAlreadyInitialized
	}

	blk, err := BuildGenesisBlock(gen)
	if err != nil {
		return fmt.Errorf("chainstate: build genesis block: %w", err)
	}
	if err := blk.Validate(); err != nil {
		return fmt.Errorf("chainstate: genesis block failed structural validation: %w", err)
	}

	rw, err := e.backend.BeginRW()
	if err != nil {
		return fmt.Errorf("chainstate: begin genesis transaction: %w", err)
	}
	defer rw.Discard()

	id := blk.Header.Hash()
	idx := blockindex.NewMut(rw)
	bstore := blockstore.NewMut(rw)
	store := utxo.NewStoreMut(rw)
	tokens := txverifier.NewTokenRegistryMut(rw)

	if err := idx.PutHeader(blk.Header); err != nil {
		return fmt.Errorf("chainstate: index genesis header: %w", err)
	}
	if err := bstore.PutBlock(blk); err != nil {
		return fmt.Errorf("chainstate: store genesis block: %w", err)
	}

	v := txverifier.New(store, tokens, e.coinbaseMaturity)
	if err := v.ConnectBlockReward(0, id, blk.RewardOutputs); err != nil {
		return fmt.Errorf("chainstate: connect genesis allocations: %w", err)
	}
	v.SetBestBlock(id)
	if err := v.FlushToStore(store, tokens); err != nil {
		return fmt.Errorf("chainstate: flush genesis allocations: %w", err)
	}

	var supply uint64
	for _, amount := range gen.Alloc {
		supply += amount
	}

	if err := idx.SetMainChainAt(0, id); err != nil {
		return fmt.Errorf("chainstate: set genesis main-chain entry: %w", err)
	}
	if err := idx.SetBestBlockID(id); err != nil {
		return fmt.Errorf("chainstate: set genesis tip: %w", err)
	}
	if err := putMinted(rw, id, supply); err != nil {
		return fmt.Errorf("chainstate: persist genesis minted amount: %w", err)
	}
	if err := putSupply(rw, supply); err != nil {
		return fmt.Errorf("chainstate: persist genesis supply: %w", err)
	}
	if err := putCumDiff(rw, blk.Header.Difficulty); err != nil {
		return fmt.Errorf("chainstate: persist genesis cumulative difficulty: %w", err)
	}
	if err := putCumulativeWork(rw, id, blk.Header.Difficulty); err != nil {
		return fmt.Errorf("chainstate: persist genesis work: %w", err)
	}

	if err := rw.Commit(); err != nil {
		return fmt.Errorf("chainstate: commit genesis: %w", err)
	}

	e.state = ChainState{
		Height:               0,
		TipHash:              id,
		TipTimestamp:         blk.Header.Timestamp,
		Supply:               supply,
		CumulativeDifficulty: blk.Header.Difficulty,
	}

	log.Chainstate.Info().Str("block", id.String()).Uint64("supply", supply).Msg("genesis initialized")
	return nil
}
