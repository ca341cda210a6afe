// Package batcher implements the gather/group/emit logic of spec §4.E:
// turning all queued transfers for one (sender, chain) into the minimal
// set of on-chain transactions.
package batcher

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	evmlog "github.com/golemfactory/evmpay/log"
	"github.com/golemfactory/evmpay/model"
	"github.com/golemfactory/evmpay/queue"
	"github.com/golemfactory/evmpay/txbuilder"
)

var logger = evmlog.NewModuleLogger(evmlog.ModuleBatcher)

// Config is the subset of config.ChainConfig the batcher needs, kept
// narrow so this package doesn't import the config package's toml
// concerns.
type Config struct {
	Chain                  int64
	MultiContractAddress   *common.Address
	LockContractAddress    *common.Address
	MultiContractMaxAtOnce int
	UseTransferForSingle   bool
	UseDirectMultiTransfer bool
	UsePackedMultiTransfer bool
}

// AllowanceRequired is the signal spec §4.E describes: the batcher
// aborted a group because the multi-contract doesn't yet have a
// sufficient, confirmed ERC-20 allowance from owner. The caller (the
// allowance manager, §4.F) handles it and re-runs the batcher.
type AllowanceRequired struct {
	Owner   common.Address
	Token   common.Address
	Spender common.Address
	Chain   int64
}

func (e *AllowanceRequired) Error() string {
	return "batcher: allowance required for " + e.Token.Hex() + " -> " + e.Spender.Hex()
}

// AllowanceChecker lets the batcher consult the allowance table without
// importing the allowance package (which itself depends on batcher's
// AllowanceRequired type) — avoids an import cycle.
type AllowanceChecker interface {
	IsSufficient(chain int64, owner, token, spender common.Address) (bool, error)
}

type k1Key struct {
	From, Receiver, Token common.Address
	HasToken              bool
	DepositID             string
	HasDeposit             bool
}

type k1Group struct {
	key       k1Key
	transfers []*model.Transfer
	total     *big.Int
	minID     int64
}

type k2Key struct {
	From, Token common.Address
	HasToken    bool
	DepositID   string
	HasDeposit  bool
}

type k2Group struct {
	key    k2Key
	groups []*k1Group
	minID  int64
}

// Gather is one run of the batcher for (sender, chain): it reads all
// queued transfers, validates, groups, and emits transactions. It returns
// the number of transactions inserted. If a group needs an ERC-20
// allowance that isn't confirmed yet, it returns *AllowanceRequired and
// stops (earlier groups in the same call have already been committed).
func Gather(store *queue.Store, checker AllowanceChecker, cfg Config, sender common.Address) (int, error) {
	pending, err := store.GetPendingTransfers(sender, cfg.Chain)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	valid, failedIDs, failReasons := validate(pending)
	for i, id := range failedIDs {
		if err := store.MarkTransfersFailed([]int64{id}, failReasons[i]); err != nil {
			return 0, err
		}
	}
	if len(valid) == 0 {
		return 0, nil
	}

	k2s := groupByK2(groupByK1(valid))
	sort.Slice(k2s, func(i, j int) bool { return k2s[i].minID < k2s[j].minID })

	inserted := 0
	for _, k2 := range k2s {
		n, err := emitK2(store, checker, cfg, k2)
		inserted += n
		if err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

// validate applies the batcher's validation pass (spec §4.E): transfers
// with a zero/unparseable from or receiver are marked failed and dropped
// from further grouping.
func validate(transfers []*model.Transfer) (ok []*model.Transfer, failedIDs []int64, reasons []string) {
	var zero common.Address
	for _, t := range transfers {
		switch {
		case t.From == zero:
			failedIDs = append(failedIDs, t.ID)
			reasons = append(reasons, "invalid sender address")
		case t.Receiver == zero:
			failedIDs = append(failedIDs, t.ID)
			reasons = append(reasons, "invalid receiver address")
		default:
			ok = append(ok, t)
		}
	}
	return ok, failedIDs, reasons
}

func depositKeyOf(t *model.Transfer) (string, bool) {
	if t.DepositID == nil {
		return "", false
	}
	return *t.DepositID, true
}

func groupByK1(transfers []*model.Transfer) []*k1Group {
	index := map[k1Key]*k1Group{}
	var order []*k1Key
	for _, t := range transfers {
		dep, hasDep := depositKeyOf(t)
		key := k1Key{From: t.From, Receiver: t.Receiver, HasDeposit: hasDep, DepositID: dep}
		if t.Token != nil {
			key.Token = *t.Token
			key.HasToken = true
		}
		g, ok := index[key]
		if !ok {
			g = &k1Group{key: key, total: big.NewInt(0), minID: t.ID}
			index[key] = g
			k := key
			order = append(order, &k)
		}
		g.transfers = append(g.transfers, t)
		amt, _ := new(big.Int).SetString(t.Amount, 10)
		if amt != nil {
			g.total.Add(g.total, amt)
		}
		if t.ID < g.minID {
			g.minID = t.ID
		}
	}
	out := make([]*k1Group, 0, len(order))
	for _, k := range order {
		out = append(out, index[*k])
	}
	return out
}

func groupByK2(k1s []*k1Group) []*k2Group {
	index := map[k2Key]*k2Group{}
	var order []*k2Key
	for _, g := range k1s {
		key := k2Key{From: g.key.From, HasToken: g.key.HasToken, Token: g.key.Token, HasDeposit: g.key.HasDeposit, DepositID: g.key.DepositID}
		k2, ok := index[key]
		if !ok {
			k2 = &k2Group{key: key, minID: g.minID}
			index[key] = k2
			k := key
			order = append(order, &k)
		}
		k2.groups = append(k2.groups, g)
		if g.minID < k2.minID {
			k2.minID = g.minID
		}
	}
	out := make([]*k2Group, 0, len(order))
	for _, k := range order {
		out = append(out, index[*k])
	}
	return out
}

func allIDs(transfers []*model.Transfer) []int64 {
	ids := make([]int64, len(transfers))
	for i, t := range transfers {
		ids[i] = t.ID
	}
	return ids
}

// insertBatch is the atomic "insert tx, attach transfers" unit required
// by spec §4.C's isolation rule.
func insertBatch(store *queue.Store, tx *model.Transaction, transfers []*model.Transfer) error {
	return store.WithTransaction(func(qtx queue.Tx) error {
		id, err := store.InsertTxTx(qtx, tx)
		if err != nil {
			return err
		}
		return store.AttachTransfers(qtx, allIDs(transfers), id)
	})
}

func emitK2(store *queue.Store, checker AllowanceChecker, cfg Config, k2 *k2Group) (int, error) {
	// native token: always a simple transfer per-receiver (native value
	// can't be batched into one multi-destination call without a
	// contract holding funds in escrow, which is out of scope here).
	if !k2.key.HasToken {
		return emitNative(store, k2)
	}

	// A deposit always routes through the lock contract, regardless of
	// how many receivers are in this group: use_transfer_for_single is
	// only a shortcut for the plain wallet-to-wallet ERC20.transfer path
	// and must never override a deposit_id carried by the transfer.
	if k2.key.HasDeposit {
		if len(k2.groups) == 1 {
			return emitDepositScopedSingle(store, cfg, k2)
		}
		return emitDepositScoped(store, cfg, k2)
	}

	if len(k2.groups) == 1 && cfg.UseTransferForSingle {
		return emitSingleERC20(store, k2.groups[0])
	}

	if cfg.MultiContractAddress == nil {
		// No multi-contract configured: fall back to one ERC20.transfer
		// per receiver group.
		n := 0
		for _, g := range k2.groups {
			c, err := emitSingleERC20(store, g)
			n += c
			if err != nil {
				return n, err
			}
		}
		return n, nil
	}

	if err := requireAllowance(checker, cfg, k2.key.From, k2.key.Token); err != nil {
		return 0, err
	}

	return emitMultiTransferChunks(store, cfg, k2)
}

func requireAllowance(checker AllowanceChecker, cfg Config, owner, token common.Address) error {
	sufficient, err := checker.IsSufficient(cfg.Chain, owner, token, *cfg.MultiContractAddress)
	if err != nil {
		return errors.Wrap(err, "batcher: check allowance")
	}
	if !sufficient {
		return &AllowanceRequired{Owner: owner, Token: token, Spender: *cfg.MultiContractAddress, Chain: cfg.Chain}
	}
	return nil
}

func emitNative(store *queue.Store, k2 *k2Group) (int, error) {
	n := 0
	for _, g := range k2.groups {
		tx := txbuilder.BuildNativeTransfer(g.transfers[0].Chain, g.key.From, g.key.Receiver, g.total)
		if err := insertBatch(store, tx, g.transfers); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func emitSingleERC20(store *queue.Store, g *k1Group) (int, error) {
	tx, err := txbuilder.BuildERC20Transfer(g.transfers[0].Chain, g.key.From, g.key.Token, g.key.Receiver, g.total)
	if err != nil {
		return 0, err
	}
	if err := insertBatch(store, tx, g.transfers); err != nil {
		return 0, err
	}
	return 1, nil
}

// emitDepositScopedSingle handles a deposit-scoped k2 group that collapsed
// to exactly one (receiver, token) group: LOCK.payoutSingleInternal takes
// a bare recipient/amount pair instead of the parallel-array form
// payoutMultipleInternal needs, so it gets its own builder call rather
// than going through emitDepositScoped with a one-element recipient slice.
func emitDepositScopedSingle(store *queue.Store, cfg Config, k2 *k2Group) (int, error) {
	if cfg.LockContractAddress == nil {
		return 0, errors.Errorf("batcher: deposit-scoped batch requires a configured lock contract on chain %d", cfg.Chain)
	}
	g := k2.groups[0]
	depositID, _ := new(big.Int).SetString(k2.key.DepositID, 10)
	finish := false
	for _, t := range g.transfers {
		if t.DepositFinish {
			finish = true
		}
	}

	tx, err := txbuilder.BuildLockPayoutSingleInternal(g.transfers[0].Chain, k2.key.From, *cfg.LockContractAddress, depositID, g.key.Receiver, g.total)
	if err != nil {
		return 0, err
	}
	if err := insertBatch(store, tx, g.transfers); err != nil {
		return 0, err
	}
	n := 1

	if finish {
		closeTx, err := txbuilder.BuildLockCloseDeposit(tx.Chain, k2.key.From, *cfg.LockContractAddress, depositID)
		if err != nil {
			return n, err
		}
		if err := insertBatch(store, closeTx, nil); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func emitDepositScoped(store *queue.Store, cfg Config, k2 *k2Group) (int, error) {
	if cfg.LockContractAddress == nil {
		return 0, errors.Errorf("batcher: deposit-scoped batch requires a configured lock contract on chain %d", cfg.Chain)
	}
	var recipients []txbuilder.Recipient
	var transfers []*model.Transfer
	finish := false
	depositID, _ := new(big.Int).SetString(k2.key.DepositID, 10)
	for _, g := range k2.groups {
		recipients = append(recipients, txbuilder.Recipient{Address: g.key.Receiver, Amount: g.total})
		transfers = append(transfers, g.transfers...)
		for _, t := range g.transfers {
			if t.DepositFinish {
				finish = true
			}
		}
	}

	tx, err := txbuilder.BuildLockPayoutMultipleInternal(k2.groups[0].transfers[0].Chain, k2.key.From, *cfg.LockContractAddress, depositID, recipients)
	if err != nil {
		return 0, err
	}
	if err := insertBatch(store, tx, transfers); err != nil {
		return 0, err
	}
	n := 1

	if finish {
		closeTx, err := txbuilder.BuildLockCloseDeposit(tx.Chain, k2.key.From, *cfg.LockContractAddress, depositID)
		if err != nil {
			return n, err
		}
		if err := insertBatch(store, closeTx, nil); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func emitMultiTransferChunks(store *queue.Store, cfg Config, k2 *k2Group) (int, error) {
	maxAt := cfg.MultiContractMaxAtOnce
	if maxAt <= 0 {
		maxAt = len(k2.groups)
	}
	n := 0
	for start := 0; start < len(k2.groups); start += maxAt {
		end := start + maxAt
		if end > len(k2.groups) {
			end = len(k2.groups)
		}
		chunk := k2.groups[start:end]

		var recipients []txbuilder.Recipient
		var transfers []*model.Transfer
		for _, g := range chunk {
			recipients = append(recipients, txbuilder.Recipient{Address: g.key.Receiver, Amount: g.total})
			transfers = append(transfers, g.transfers...)
		}
		tx, err := txbuilder.BuildMultiTransfer(chunk[0].transfers[0].Chain, k2.key.From, *cfg.MultiContractAddress, k2.key.Token, recipients, cfg.UseDirectMultiTransfer, cfg.UsePackedMultiTransfer)
		if err != nil {
			return n, err
		}
		if err := insertBatch(store, tx, transfers); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
