package model

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// EndpointParams are the static, operator-configured parameters of one RPC
// endpoint (spec §3/§4.A). Immutable after construction.
type EndpointParams struct {
	ID                 string
	URL                 string
	Name                string
	ChainID             int64
	BackupLevel         int
	VerifyIntervalSecs  int
	TimeoutMS           int
	MaxHeadBehindSecs   int
	MaxConsecutiveErrors int
	MinRequestSpacingMS int
	SourceID            *string // discovery origin, nil if statically configured
}

// VerifyResultKind is the variant returned by one verification probe
// (spec §4.A "Verification").
type VerifyResultKind int

const (
	VerifyOk VerifyResultKind = iota
	VerifyNoBlockInfo
	VerifyWrongChainID
	VerifyUnreachable
	VerifyRPCWeb3Error
	VerifyOtherNetworkError
	VerifyHeadBehind
)

type VerifyResult struct {
	Kind       VerifyResultKind
	HeadLagS   int64
	ElapsedMS  int64
	Message    string
	BlockTime  time.Time
}

// MethodStats tracks per-method call counters for one endpoint.
type MethodStats struct {
	Success atomic.Int64
	Error   atomic.Int64
}

// EndpointInfo is the live, mutable state of one endpoint (spec §3). All
// counters use go.uber.org/atomic so the hot call path never needs the
// pool's read-write lock just to bump a counter; the lock only guards
// structural changes (adding/removing endpoints, running a full sweep).
type EndpointInfo struct {
	Params EndpointParams

	LastVerified    atomic.Time
	LastVerifyKind  atomic.Int32 // VerifyResultKind

	SuccessCount atomic.Int64
	ErrorCount   atomic.Int64
	ConsecutiveErrors atomic.Int64

	PenaltyFromMS                atomic.Int64
	PenaltyFromHeadBehind         atomic.Int64
	PenaltyFromErrors             atomic.Int64
	PenaltyFromLastCriticalError  atomic.Int64

	IsAllowed  atomic.Bool
	RemovedAt  atomic.Time

	methodsMu sync.RWMutex
	Methods   map[string]*MethodStats
}

func NewEndpointInfo(p EndpointParams) *EndpointInfo {
	e := &EndpointInfo{Params: p, Methods: map[string]*MethodStats{}}
	e.IsAllowed.Store(false)
	return e
}

func (e *EndpointInfo) MethodStatsFor(method string) *MethodStats {
	e.methodsMu.RLock()
	m, ok := e.Methods[method]
	e.methodsMu.RUnlock()
	if ok {
		return m
	}
	e.methodsMu.Lock()
	defer e.methodsMu.Unlock()
	if m, ok := e.Methods[method]; ok {
		return m
	}
	m = &MethodStats{}
	e.Methods[method] = m
	return m
}
