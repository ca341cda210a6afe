package processor

import "strings"

// The RPC providers this driver targets return plain-text error messages
// rather than structured codes; spec §4.G enumerates the substrings that
// drive routing decisions at each step. Matching is case-insensitive and
// substring-based because providers vary punctuation and casing of an
// otherwise identical revert reason.
func contains(err error, substr string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), strings.ToLower(substr))
}

func isGasExceedsAllowance(err error) bool {
	return contains(err, "gas required exceeds allowance")
}

func isFaucetExhausted(err error) bool {
	return contains(err, "cannot acquire more funds")
}

func isTransferExceedsBalance(err error) bool {
	return contains(err, "transfer amount exceeds balance")
}

func isInsufficientFunds(err error) bool {
	return contains(err, "insufficient funds")
}

func isInvalidSender(err error) bool {
	return contains(err, "invalid sender")
}

func isAlreadyKnown(err error) bool {
	return contains(err, "already known")
}
