package tx

// EstimateTxFee returns the minimum fee for a transaction with the
// given number of inputs and outputs at the given fee rate (base units
// per byte).
//
// The estimate is based on the SigningBytes layout (which excludes
// signatures):
//
//	version(4) + inputCount(4) + inputs(37*n) + outputCount(4) + outputs(perOut*n) + locktime(8)
//
// By default, perOutput = 34 (8 coin + 1 token-flag + 1 purpose kind +
// 20 destination address + 4 data-len). Pass an optional extraOutputBytes to add extra
// bytes per output (e.g. 40 for token-carrying outputs, or the encoded
// size of a token-issuance payload).
func EstimateTxFee(numInputs, numOutputs int, feeRate uint64, extraOutputBytes ...int) uint64 {
	const overhead = 4 + 4 + 4 + 8  // version + inputCount + outputCount + locktime
	const perInput = 1 + 32 + 4     // source kind + source id + index
	const perOutput = 8 + 1 + 1 + 20 + 4 // coin + token-flag + purpose kind + destination + data-len

	extra := 0
	if len(extraOutputBytes) > 0 {
		extra = extraOutputBytes[0]
	}

	size := overhead + perInput*numInputs + (perOutput+extra)*numOutputs
	return uint64(size) * feeRate
}

// RequiredFee returns the exact minimum fee for a fully built
// transaction at the given fee rate (base units per byte of
// SigningBytes). This is more accurate than EstimateTxFee for
// transactions with non-standard outputs (stake, token issuance).
func RequiredFee(transaction *Transaction, feeRate uint64) uint64 {
	return uint64(len(transaction.SigningBytes())) * feeRate
}
