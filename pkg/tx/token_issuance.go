package tx

import (
	"encoding/json"
	"fmt"

	"github.com/mintledger/chainstate/pkg/types"
)

// EncodeTokenIssuance serializes a TokenIssuance into the byte payload
// carried by a PurposeIssueToken output's Purpose.Data.
func EncodeTokenIssuance(iss types.TokenIssuance) ([]byte, error) {
	data, err := json.Marshal(iss)
	if err != nil {
		return nil, fmt.Errorf("encode token issuance: %w", err)
	}
	return data, nil
}

func decodeTokenIssuance(data []byte, iss *types.TokenIssuance) error {
	if len(data) == 0 {
		return fmt.Errorf("empty issuance payload")
	}
	if err := json.Unmarshal(data, iss); err != nil {
		return fmt.Errorf("decode token issuance: %w", err)
	}
	return nil
}

// DecodeTokenIssuance parses a PurposeIssueToken output's Data back
// into a TokenIssuance.
func DecodeTokenIssuance(data []byte) (types.TokenIssuance, error) {
	var iss types.TokenIssuance
	err := decodeTokenIssuance(data, &iss)
	return iss, err
}
