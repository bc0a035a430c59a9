package consensus

import (
	"errors"
	"fmt"

	"github.com/mintledger/chainstate/config"
	"github.com/mintledger/chainstate/pkg/block"
)

// ErrConsensusTypeMismatch is returned when a header's consensus data
// shape doesn't match the net upgrade active at its height (e.g. a
// PoW-looking header submitted under an Ignore-consensus range).
var ErrConsensusTypeMismatch = errors.New("consensus: block's consensus data does not match the active net upgrade")

// AncestorTimestamp resolves a main-chain block's timestamp by height,
// used by PoW retargeting to measure the elapsed time across a
// retarget interval.
type AncestorTimestamp func(height uint64) (uint64, error)

// Selector dispatches height to consensus engine per a chain's
// NetUpgrades schedule (§4.F): at any height h, the active rule is the
// schedule entry with the greatest activation height <= h.
type Selector struct {
	protocol *config.ProtocolConfig
	pow      map[int]*PoW // one PoW instance per schedule entry, keyed by NetUpgrades index
}

// NewSelector builds a Selector over the given protocol's net-upgrade
// schedule. protocol.NetUpgrades must be non-empty with a height-0
// first entry; config.Genesis.Validate enforces this before a
// Selector is ever constructed from it.
func NewSelector(protocol *config.ProtocolConfig) *Selector {
	return &Selector{protocol: protocol, pow: make(map[int]*PoW)}
}

// upgradeIndexAt returns the NetUpgrades slice index active at height.
func (s *Selector) upgradeIndexAt(height uint64) int {
	idx := 0
	for i, u := range s.protocol.NetUpgrades {
		if u.Height > height {
			break
		}
		idx = i
	}
	return idx
}

func (s *Selector) engineFor(idx int) (Engine, error) {
	u := s.protocol.NetUpgrades[idx]
	switch u.Consensus {
	case config.ConsensusIgnore:
		return NewIgnore(), nil
	case config.ConsensusPoW:
		if e, ok := s.pow[idx]; ok {
			return e, nil
		}
		e, err := NewPoW(u.PoW.InitialDifficulty, u.PoW.RetargetInterval, u.PoW.TargetBlockTime)
		if err != nil {
			return nil, fmt.Errorf("consensus: net upgrade at height %d: %w", u.Height, err)
		}
		s.pow[idx] = e
		return e, nil
	default:
		return nil, fmt.Errorf("consensus: net upgrade at height %d: unknown kind %q", u.Height, u.Consensus)
	}
}

// EngineAt returns the consensus engine active at height.
func (s *Selector) EngineAt(height uint64) (Engine, error) {
	return s.engineFor(s.upgradeIndexAt(height))
}

// checkVariant verifies the header's consensus data shape matches
// kind: Ignore carries none (Difficulty == 0), PoW always carries a
// nonzero target.
func checkVariant(kind config.ConsensusKind, header *block.Header) error {
	switch kind {
	case config.ConsensusIgnore:
		if header.Difficulty != 0 {
			return fmt.Errorf("%w: height %d: ignore consensus carries no difficulty, got %d",
				ErrConsensusTypeMismatch, header.Height, header.Difficulty)
		}
	case config.ConsensusPoW:
		if header.Difficulty == 0 {
			return fmt.Errorf("%w: height %d: pow consensus requires a nonzero difficulty",
				ErrConsensusTypeMismatch, header.Height)
		}
	}
	return nil
}

// VerifyHeader checks a candidate header against the net upgrade
// active at its height: the consensus-data variant must match
// (ConsensusTypeMismatch otherwise), the engine's own header check
// must pass, and for PoW the stated difficulty must equal the
// retargeted expectation derived from ancestor timestamps.
//
// prevDifficulty is the difficulty of the block at header.Height-1 (0
// if there is none yet); ancestorTimestamp resolves a block's
// timestamp by height for the retargeting calculation.
func (s *Selector) VerifyHeader(header *block.Header, prevDifficulty uint64, ancestorTimestamp AncestorTimestamp) error {
	idx := s.upgradeIndexAt(header.Height)
	u := s.protocol.NetUpgrades[idx]

	if err := checkVariant(u.Consensus, header); err != nil {
		return err
	}

	engine, err := s.engineFor(idx)
	if err != nil {
		return err
	}
	if err := engine.VerifyHeader(header); err != nil {
		return err
	}

	if pow, ok := engine.(*PoW); ok {
		if err := pow.VerifyDifficulty(header, prevDifficulty, ancestorTimestamp); err != nil {
			return err
		}
	}
	return nil
}

// Prepare fills in the consensus-specific fields of a header about to
// be sealed at header.Height, using the engine active at that height.
func (s *Selector) Prepare(header *block.Header) error {
	engine, err := s.EngineAt(header.Height)
	if err != nil {
		return err
	}
	return engine.Prepare(header)
}
