package types

// MaxTickerLength and MaxDecimals bound token issuance fields; enforced
// by the transaction verifier against these shared constants so no two
// components disagree on the limit.
const (
	MaxTickerLength = 5
	MaxDecimals     = 18
	MaxURILength    = 256
)

// Value is the amount carried by an output: either a plain coin amount
// or a token amount, never both. A coin output has Token == nil.
type Value struct {
	Coin  uint64     `json:"coin"`
	Token *TokenData `json:"token,omitempty"`
}

// IsToken reports whether this value denominates a token rather than
// the base coin.
func (v Value) IsToken() bool {
	return v.Token != nil
}

// TokenData holds a token amount attached to an output.
type TokenData struct {
	ID     TokenID `json:"id"`
	Amount uint64  `json:"amount"`
}

// TokenIssuance is the payload of a PurposeIssueToken output: metadata
// recorded once, at the moment a TokenID is minted into existence.
type TokenIssuance struct {
	Ticker      string `json:"ticker"`
	Decimals    uint8  `json:"decimals"`
	MetadataURI string `json:"metadata_uri"`
	Amount      uint64 `json:"amount"`
}
