package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/mintledger/chainstate/pkg/crypto"
	"github.com/mintledger/chainstate/pkg/types"
)

// =============================================================================
// Protocol Rules (immutable, defined in genesis)
// These MUST match across all nodes or consensus breaks.
// =============================================================================

// ConsensusKind names a pluggable consensus engine. The active kind at
// a given height is determined by walking the NetUpgrades schedule
// (see ProtocolConfig).
type ConsensusKind string

const (
	// ConsensusIgnore accepts any block whose structural validation
	// passes, performing no further consensus check. Used for genesis
	// bring-up and test chains.
	ConsensusIgnore ConsensusKind = "ignore"

	// ConsensusPoW requires a valid proof of work meeting the current
	// difficulty target, retargeted per PoWParams.
	ConsensusPoW ConsensusKind = "pow"
)

// Denomination constants.
// 1 coin = 10^12 base units. All on-chain values are in base units.
const (
	Decimals  = 12
	Coin      = 1_000_000_000_000 // 10^12 base units per coin
	MilliCoin = 1_000_000_000     // 10^9
	MicroCoin = 1_000_000         // 10^6
)

// CoinbaseMaturity is the number of blocks a block-reward output must
// wait before it can be spent. Prevents issues during reorgs.
const CoinbaseMaturity uint64 = 20

// UnstakeCooldown is the number of blocks that unstake-return outputs
// are locked before they can be spent. Prevents stake-and-withdraw attacks.
const UnstakeCooldown uint64 = 20

// TokenCreationFee is the minimum transaction fee (in base units) required
// for any transaction that issues a new token.
const TokenCreationFee = 50 * Coin

// MaxTokenAmount is the maximum allowed amount for a single token output.
// Set to MaxUint64/1000 so that up to ~1000 UTXOs can be safely summed
// without overflowing uint64.
const MaxTokenAmount = math.MaxUint64 / 1000

// Block and transaction size limits (consensus-critical).
const (
	MaxBlockSize  = 2_000_000 // 2 MB max block size (header + reward outputs + all tx signing bytes)
	MaxBlockTxs   = 500       // Max transactions per block
	MaxTxInputs   = 2500      // Max inputs per transaction
	MaxTxOutputs  = 2500      // Max outputs per transaction
	MaxScriptData = 65_536    // 64 KB max purpose data per output
)

// Genesis holds the genesis block configuration and protocol rules.
// This is immutable after chain launch - changes require a hard fork.
type Genesis struct {
	// Chain identity
	ChainID   string `json:"chain_id"`
	ChainName string `json:"chain_name"`
	Symbol    string `json:"symbol,omitempty"` // Native coin symbol (e.g., "MINT")

	// Genesis block
	Timestamp uint64 `json:"timestamp"`
	ExtraData string `json:"extra_data,omitempty"`

	// Initial allocations (address -> balance in base units), minted by
	// the genesis block's reward output list.
	Alloc map[string]uint64 `json:"alloc"`

	// Protocol rules
	Protocol ProtocolConfig `json:"protocol"`
}

// PoWParams parameterizes the proof-of-work consensus engine for the
// net-upgrade interval in which it applies.
type PoWParams struct {
	InitialDifficulty uint64 `json:"initial_difficulty"`
	TargetBlockTime   int    `json:"target_block_time"`  // seconds
	RetargetInterval  int    `json:"retarget_interval"` // blocks between difficulty adjustments
}

// NetUpgrade activates a consensus engine starting at Height (inclusive).
// The schedule is a height-ordered list; the engine in effect at height h
// is the entry with the greatest Height <= h. The first entry's Height
// MUST be 0 so every height has a defined consensus rule.
type NetUpgrade struct {
	Height    uint64        `json:"height"`
	Consensus ConsensusKind `json:"consensus"`
	PoW       *PoWParams    `json:"pow,omitempty"` // required iff Consensus == ConsensusPoW
}

// ProtocolConfig holds consensus-critical rules. All nodes MUST agree
// on these values.
type ProtocolConfig struct {
	// NetUpgrades is the height-keyed consensus-engine schedule.
	NetUpgrades []NetUpgrade `json:"net_upgrades"`

	// Economics, constant across the upgrade schedule.
	BlockReward     uint64 `json:"block_reward"`               // Base units minted per block before halving
	MaxSupply       uint64 `json:"max_supply"`                 // Total coin cap in base units (0 = unlimited)
	HalvingInterval uint64 `json:"halving_interval,omitempty"` // Blocks between reward halvings (0 = no halving)
	MinFeeRate      uint64 `json:"min_fee_rate"`                // Minimum fee rate (base units per byte of SigningBytes)

	// Tokens
	Token TokenRules `json:"token"`
}

// ConsensusAt returns the net upgrade in effect at the given height.
// Panics if NetUpgrades is empty or its first entry isn't height 0;
// Genesis.Validate rejects such configurations before this is ever
// called in practice.
func (p *ProtocolConfig) ConsensusAt(height uint64) NetUpgrade {
	active := p.NetUpgrades[0]
	for _, u := range p.NetUpgrades {
		if u.Height > height {
			break
		}
		active = u
	}
	return active
}

// BlockSubsidyAt returns the block reward at the given height after
// applying halving, if configured.
func (p *ProtocolConfig) BlockSubsidyAt(height uint64) uint64 {
	if p.HalvingInterval == 0 {
		return p.BlockReward
	}
	halvings := height / p.HalvingInterval
	if halvings >= 64 {
		return 0
	}
	return p.BlockReward >> halvings
}

// TokenRules defines token protocol limits.
type TokenRules struct {
	// Maximum tokens per UTXO (0 = unlimited)
	MaxTokensPerUTXO int `json:"max_tokens_per_utxo"`

	// Whether tokens can be issued after genesis
	AllowMinting bool `json:"allow_minting"`
}

// =============================================================================
// Testnet Identity
//
// Derived from the well-known BIP-39 test mnemonic (DO NOT use on mainnet):
//
//	abandon abandon abandon abandon abandon abandon abandon abandon
//	abandon abandon abandon abandon abandon abandon abandon abandon
//	abandon abandon abandon abandon abandon abandon abandon art
//
// Derivation path: m/44'/8888'/0'/0/0 (no passphrase)
// =============================================================================

const (
	// TestnetMnemonic is the well-known seed phrase behind the testnet
	// faucet allocation below.
	TestnetMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon art"

	// TestnetFaucetPubKey is the compressed public key (hex) derived from TestnetMnemonic.
	TestnetFaucetPubKey = "030bef68f8657df88098a0546da1712c88b459788bea1a6bbe964004166a25144f"

	// TestnetFaucetPrivKey is the private key (hex) derived from TestnetMnemonic.
	TestnetFaucetPrivKey = "1f0717e6e34acc6721021f4dfed54558ec8452452b6195545d06dd348b220091"

	// TestnetFaucetAddress is the address (bech32, tmint) derived from
	// TestnetMnemonic. Address = BLAKE3(pubkey)[:20].
	TestnetFaucetAddress = "tmint13uayfwq9djh7cd5dagxtuzk3mx7r7sc9xv4h52"
)

// =============================================================================
// Pre-defined genesis configurations
// =============================================================================

// MainnetGenesis returns the mainnet genesis configuration.
func MainnetGenesis() *Genesis {
	return &Genesis{
		ChainID:   "mintledger-mainnet-1",
		ChainName: "Mintledger Mainnet",
		Symbol:    "MINT",
		Timestamp: 1770734103, // 2026-02-10
		ExtraData: "Mintledger Genesis",
		Alloc: map[string]uint64{
			"mint1a8tfl79jgres7t90tttkc7ytjmhs5lpdn5ag4l": 100_000 * Coin, // pre-launch swap allocation
		},
		Protocol: ProtocolConfig{
			NetUpgrades: []NetUpgrade{
				{Height: 0, Consensus: ConsensusIgnore},
				{Height: 1, Consensus: ConsensusPoW, PoW: &PoWParams{
					InitialDifficulty: 1 << 20,
					TargetBlockTime:   30,
					RetargetInterval:  2016,
				}},
			},
			BlockReward:     20 * MilliCoin,   // 0.02 coins per block
			MaxSupply:       2_000_000 * Coin, // 2,000,000 MINT total
			HalvingInterval: 0,                // no halving (configurable)
			MinFeeRate:      10_000,           // 10,000 base units per byte
			Token: TokenRules{
				MaxTokensPerUTXO: 1, // one token type per UTXO
				AllowMinting:     true,
			},
		},
	}
}

// TestnetGenesis returns the testnet genesis configuration.
func TestnetGenesis() *Genesis {
	g := MainnetGenesis()
	g.ChainID = "mintledger-testnet-1"
	g.ChainName = "Mintledger Testnet"
	g.ExtraData = "Mintledger Testnet Genesis"

	// More relaxed rules for testnet: faster retargeting, near-zero fees.
	g.Protocol.NetUpgrades = []NetUpgrade{
		{Height: 0, Consensus: ConsensusIgnore},
		{Height: 1, Consensus: ConsensusPoW, PoW: &PoWParams{
			InitialDifficulty: 1 << 8,
			TargetBlockTime:   5,
			RetargetInterval:  144,
		}},
	}
	g.Protocol.MinFeeRate = 10 // very low for testing

	g.Alloc = map[string]uint64{
		TestnetFaucetAddress: 200_000 * Coin,
	}

	return g
}

// GenesisFor returns the genesis config for the given network.
func GenesisFor(network NetworkType) *Genesis {
	switch network {
	case Testnet:
		return TestnetGenesis()
	default:
		return MainnetGenesis()
	}
}

// =============================================================================
// Genesis file I/O
// =============================================================================

// LoadGenesis loads genesis configuration from a file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}

	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}

	return &g, nil
}

// Save writes the genesis configuration to a file.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing genesis file: %w", err)
	}

	return nil
}

// Validate checks that the genesis configuration is valid.
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}

	if len(g.Protocol.NetUpgrades) == 0 {
		return fmt.Errorf("net_upgrades must not be empty")
	}
	if g.Protocol.NetUpgrades[0].Height != 0 {
		return fmt.Errorf("net_upgrades must start at height 0")
	}
	if !sort.SliceIsSorted(g.Protocol.NetUpgrades, func(i, j int) bool {
		return g.Protocol.NetUpgrades[i].Height < g.Protocol.NetUpgrades[j].Height
	}) {
		return fmt.Errorf("net_upgrades must be sorted ascending by height")
	}
	for _, u := range g.Protocol.NetUpgrades {
		switch u.Consensus {
		case ConsensusIgnore:
		case ConsensusPoW:
			if u.PoW == nil || u.PoW.InitialDifficulty == 0 {
				return fmt.Errorf("net upgrade at height %d: pow requires initial_difficulty", u.Height)
			}
			if u.PoW.TargetBlockTime <= 0 {
				return fmt.Errorf("net upgrade at height %d: pow requires target_block_time", u.Height)
			}
		default:
			return fmt.Errorf("net upgrade at height %d: unknown consensus type %q", u.Height, u.Consensus)
		}
	}

	if g.Protocol.BlockReward == 0 {
		return fmt.Errorf("block_reward must be positive")
	}

	// Validate alloc addresses and check total doesn't exceed max supply.
	var totalAlloc uint64
	for addrStr, v := range g.Alloc {
		if _, err := types.ParseAddress(addrStr); err != nil {
			return fmt.Errorf("invalid alloc address %q: %w", addrStr, err)
		}
		totalAlloc += v
	}
	if g.Protocol.MaxSupply > 0 && totalAlloc > g.Protocol.MaxSupply {
		return fmt.Errorf("genesis allocations (%d) exceed max_supply (%d)",
			totalAlloc, g.Protocol.MaxSupply)
	}

	return nil
}

// Hash returns a BLAKE3 hash of the genesis configuration.
// Used to identify the chain and detect genesis mismatches.
func (g *Genesis) Hash() (types.Hash, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Hash(data), nil
}
