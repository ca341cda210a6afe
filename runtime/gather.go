package runtime

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/golemfactory/evmpay/allowance"
	"github.com/golemfactory/evmpay/batcher"
	"github.com/golemfactory/evmpay/config"
)

// runGatherLoop implements spec §5's "gather cadence": after draining
// pending transfers into transactions, sleep until
// min(last_gather_time + gather_interval, external_deadline_hint). A
// send on wake acts as the deadline hint, collapsing the remaining sleep
// to zero; it is single-shot, like the deadline field it models.
func (r *Runtime) runGatherLoop(ctx context.Context, key taskKey, wake <-chan struct{}) {
	cc, ok := r.Config.Chain(key.Chain)
	if !ok {
		logger.Error("gather loop started for unconfigured chain", "chain", key.Chain)
		return
	}
	bcfg := batcherConfigFromChain(cc, key.Chain)
	checker := &allowance.Checker{Store: r.Store}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(0)
			continue
		case <-timer.C:
		}

		r.gatherOnce(ctx, checker, bcfg, key.Sender)
		timer.Reset(r.Config.GatherInterval)
	}
}

func (r *Runtime) gatherOnce(ctx context.Context, checker *allowance.Checker, bcfg batcher.Config, sender common.Address) {
	_, err := batcher.Gather(r.Store, checker, bcfg, sender)
	if err == nil {
		return
	}
	if req, ok := err.(*batcher.AllowanceRequired); ok {
		if _, aerr := r.Allowance.Ensure(ctx, req); aerr != nil {
			logger.Error("failed to ensure allowance", "owner", req.Owner, "token", req.Token, "err", aerr)
		}
		return
	}
	logger.Error("gather failed", "sender", sender, "chain", bcfg.Chain, "err", err)
}

func batcherConfigFromChain(cc config.ChainConfig, chainID int64) batcher.Config {
	return batcher.Config{
		Chain:                  chainID,
		MultiContractAddress:   cc.MultiContractAddress,
		LockContractAddress:    cc.LockContractAddress,
		MultiContractMaxAtOnce: cc.MultiContractMaxAtOnce,
		UseTransferForSingle:   cc.UseTransferForSingle,
		UseDirectMultiTransfer: cc.UseDirectMultiTransfer,
		UsePackedMultiTransfer: cc.UsePackedMultiTransfer,
	}
}
