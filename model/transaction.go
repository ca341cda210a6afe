package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Method is the closed set of call-data discriminators the processor uses
// to route confirmation handling (spec §4.D). The set is intentionally
// closed: a new kind of on-chain call requires a new constant here plus a
// builder and processor case, never a free-form string.
type Method string

const (
	MethodTransfer                     Method = "transfer"
	MethodERC20Transfer                Method = "ERC20.transfer"
	MethodERC20Approve                 Method = "ERC20.approve"
	MethodMultiGolemTransferDirect     Method = "MULTI.golemTransferDirect"
	MethodMultiGolemTransferIndirect   Method = "MULTI.golemTransferIndirect"
	MethodMultiGolemTransferDirectPacked   Method = "MULTI.golemTransferDirectPacked"
	MethodMultiGolemTransferIndirectPacked Method = "MULTI.golemTransferIndirectPacked"
	MethodLockDeposit                  Method = "LOCK.deposit"
	MethodLockWithdraw                 Method = "LOCK.withdraw"
	MethodLockWithdrawAll              Method = "LOCK.withdrawAll"
	MethodLockCreateDeposit            Method = "LOCK.createDeposit"
	MethodLockCloseDeposit             Method = "LOCK.closeDeposit"
	MethodLockTerminateDeposit         Method = "LOCK.terminateDeposit"
	MethodLockPayoutSingle             Method = "LOCK.payoutSingle"
	MethodLockPayoutSingleInternal     Method = "LOCK.payoutSingleInternal"
	MethodLockPayoutMultipleInternal   Method = "LOCK.payoutMultipleInternal"
	MethodLockFreeAllocation           Method = "LOCK.freeAllocation"
	MethodLockMakeAllocation           Method = "LOCK.makeAllocation"
	MethodFaucetCreate                 Method = "FAUCET.create"
)

// ChainStatus mirrors the EVM receipt status field.
type ChainStatus int

const (
	ChainStatusUnknown  ChainStatus = -1
	ChainStatusReverted ChainStatus = 0
	ChainStatusSuccess  ChainStatus = 1
)

// Transaction is an unsigned-then-progressively-annotated on-chain
// submission (spec §3). A replacement chain is a linked list through
// OrigTxID; all members share one Nonce.
type Transaction struct {
	ID    int64 `gorm:"primary_key"`
	Chain int64 `gorm:"index"`

	Method Method
	From   common.Address `gorm:"index"`
	To     common.Address
	Value  string // decimal base units
	Data   []byte

	GasLimit      uint64
	MaxFeePerGas  string // wei, decimal string
	PriorityFee   string // wei, decimal string
	Nonce         *uint64

	CreatedDate     time.Time
	FirstProcessed  *time.Time
	SignedRawData   []byte
	SignedDate      *time.Time
	TxHash          *common.Hash
	BroadcastDate   *time.Time
	BroadcastCount  int
	FirstStuckDate  *time.Time
	ConfirmDate     *time.Time
	BlockNumber     *uint64
	ChainStatus     ChainStatus
	GasUsed         *uint64
	EffectiveGasPrice *string
	FeePaid         *string
	Error           *string

	OrigTxID   *int64 `gorm:"index"`
	Processing int    // 0 = terminal, >0 = live
}

func (t *Transaction) IsLive() bool { return t.Processing > 0 }

func (t *Transaction) IsConfirmed() bool { return t.ConfirmDate != nil }
