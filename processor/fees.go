package processor

import "math/big"

// distributeFee implements spec §4.G's fee-distribution rule: q = F div N,
// r = F mod N, every transfer gets q, the first r get +1. The caller must
// pass transfers in a stable order (id order) so distribution is
// deterministic and reproducible across a crash-and-replay.
func distributeFee(fee *big.Int, n int) []*big.Int {
	if n == 0 {
		return nil
	}
	q, r := new(big.Int).QuoRem(fee, big.NewInt(int64(n)), new(big.Int))
	out := make([]*big.Int, n)
	for i := 0; i < n; i++ {
		share := new(big.Int).Set(q)
		if int64(i) < r.Int64() {
			share.Add(share, big.NewInt(1))
		}
		out[i] = share
	}
	return out
}

// isBumped10 implements the "bumped by 10%" predicate from spec §4.G step
// 9 / §9's open question: stored*11 <= config*10. The comparison is <=, so
// a config value exactly 10% above the stored one already counts as
// bumped.
func isBumped10(stored, config *big.Int) bool {
	lhs := new(big.Int).Mul(stored, big.NewInt(11))
	rhs := new(big.Int).Mul(config, big.NewInt(10))
	return lhs.Cmp(rhs) <= 0
}

// bumpedPriorityFee computes stored*11/10 + 1, capped at maxFee — the
// auto-bump spec §4.G step 9 applies to priority fee when only max fee
// crossed the bump threshold.
func bumpedPriorityFee(stored, maxFee *big.Int) *big.Int {
	bumped := new(big.Int).Mul(stored, big.NewInt(11))
	bumped.Quo(bumped, big.NewInt(10))
	bumped.Add(bumped, big.NewInt(1))
	if bumped.Cmp(maxFee) > 0 {
		return new(big.Int).Set(maxFee)
	}
	return bumped
}
