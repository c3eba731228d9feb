package timelock

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// DefaultMinDelay mirrors the two day lock used by the production deployments.
const DefaultMinDelay = 2 * 24 * time.Hour

var (
	ErrNilState           = errors.New("timelock: state not configured")
	ErrNotProposer        = errors.New("timelock: proposer role required")
	ErrOperationExists    = errors.New("timelock: operation already scheduled")
	ErrOperationUnknown   = errors.New("timelock: operation unknown")
	ErrOperationNotReady  = errors.New("timelock: operation is not ready")
	ErrOperationDone      = errors.New("timelock: operation already executed")
	ErrOperationCancelled = errors.New("timelock: operation cancelled")
)

// OperationStatus enumerates the lifecycle of a scheduled operation.
type OperationStatus uint8

const (
	OperationUnset OperationStatus = iota
	OperationWaiting
	OperationReady
	OperationDone
	OperationCancelled
)

func (s OperationStatus) String() string {
	switch s {
	case OperationUnset:
		return "unset"
	case OperationWaiting:
		return "waiting"
	case OperationReady:
		return "ready"
	case OperationDone:
		return "done"
	case OperationCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Operation is the persisted timelock record.
type Operation struct {
	Key        [32]byte
	ActionID   [32]byte
	Proposer   [20]byte
	ProposedAt int64
	ReadyAt    int64
	Done       bool
	Cancelled  bool
}

type controllerState interface {
	TimelockOperation(key [32]byte) (*Operation, bool, error)
	TimelockPutOperation(op *Operation) error
}

// Controller is the delay authority. Proposers schedule operations, executors
// trigger them once MinDelay has elapsed, and the admin manages membership.
type Controller struct {
	mu        sync.RWMutex
	state     controllerState
	minDelay  int64
	admin     [20]byte
	proposers map[[20]byte]struct{}
	executors map[[20]byte]struct{}
	nowFn     func() int64
}

// NewController constructs a controller with the supplied delay and admin.
func NewController(minDelay time.Duration, admin [20]byte) *Controller {
	if minDelay < 0 {
		minDelay = 0
	}
	return &Controller{
		minDelay:  int64(minDelay / time.Second),
		admin:     admin,
		proposers: make(map[[20]byte]struct{}),
		executors: make(map[[20]byte]struct{}),
		nowFn:     func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the operation store.
func (c *Controller) SetState(state controllerState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// SetNowFunc overrides the time source. Passing nil restores the wall clock.
func (c *Controller) SetNowFunc(now func() int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now == nil {
		c.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	c.nowFn = now
}

func (c *Controller) now() int64 {
	if c.nowFn == nil {
		return time.Now().Unix()
	}
	return c.nowFn()
}

// MinDelay returns the configured minimum delay in seconds.
func (c *Controller) MinDelay() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.minDelay
}

// GrantProposer adds addr to the proposer set without an admin check. Used
// while assembling genesis.
func (c *Controller) GrantProposer(addr [20]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proposers[addr] = struct{}{}
}

// GrantExecutor adds addr to the executor set without an admin check.
// Membership is assembled from configuration at startup.
func (c *Controller) GrantExecutor(addr [20]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executors[addr] = struct{}{}
}

func (c *Controller) IsProposer(addr [20]byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.proposers[addr]
	return ok
}

func (c *Controller) IsExecutor(addr [20]byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.executors[addr]
	return ok
}

// OperationKey binds an action identifier to the time it was proposed so a
// re-proposal of an executed action yields a fresh operation. A proposal in
// the same second as a finished one reuses the key; Schedule replaces the
// finished record in that case.
func OperationKey(id [32]byte, proposedAt int64) [32]byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(proposedAt))
	return ethcrypto.Keccak256Hash([]byte("timelock/op"), id[:], ts[:])
}

// Schedule registers an operation and returns the time it becomes ready.
func (c *Controller) Schedule(proposer [20]byte, id [32]byte, proposedAt int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return 0, ErrNilState
	}
	if _, ok := c.proposers[proposer]; !ok {
		return 0, ErrNotProposer
	}
	key := OperationKey(id, proposedAt)
	if prev, exists, err := c.state.TimelockOperation(key); err != nil {
		return 0, err
	} else if exists && prev != nil && !prev.Done && !prev.Cancelled {
		return 0, ErrOperationExists
	}
	op := &Operation{
		Key:        key,
		ActionID:   id,
		Proposer:   proposer,
		ProposedAt: proposedAt,
		ReadyAt:    proposedAt + c.minDelay,
	}
	if err := c.state.TimelockPutOperation(op); err != nil {
		return 0, err
	}
	return op.ReadyAt, nil
}

// Status reports the lifecycle state of an operation at the current time.
func (c *Controller) Status(id [32]byte, proposedAt int64) (OperationStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	op, err := c.load(OperationKey(id, proposedAt))
	if errors.Is(err, ErrOperationUnknown) {
		return OperationUnset, nil
	}
	if err != nil {
		return OperationUnset, err
	}
	return c.statusOf(op), nil
}

func (c *Controller) statusOf(op *Operation) OperationStatus {
	switch {
	case op.Cancelled:
		return OperationCancelled
	case op.Done:
		return OperationDone
	case c.now() >= op.ReadyAt:
		return OperationReady
	default:
		return OperationWaiting
	}
}

func (c *Controller) load(key [32]byte) (*Operation, error) {
	if c.state == nil {
		return nil, ErrNilState
	}
	op, ok, err := c.state.TimelockOperation(key)
	if err != nil {
		return nil, err
	}
	if !ok || op == nil {
		return nil, ErrOperationUnknown
	}
	return op, nil
}

// CertifyReady reports whether the operation exists, is neither done nor
// cancelled, and its delay has elapsed.
func (c *Controller) CertifyReady(id [32]byte, proposedAt int64) bool {
	status, err := c.Status(id, proposedAt)
	return err == nil && status == OperationReady
}

// IsCancelled reports whether the operation was cancelled before it ran.
func (c *Controller) IsCancelled(id [32]byte, proposedAt int64) bool {
	status, err := c.Status(id, proposedAt)
	return err == nil && status == OperationCancelled
}

// MarkExecuted flips a ready operation to done.
func (c *Controller) MarkExecuted(id [32]byte, proposedAt int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	op, err := c.load(OperationKey(id, proposedAt))
	if err != nil {
		return err
	}
	switch c.statusOf(op) {
	case OperationDone:
		return ErrOperationDone
	case OperationCancelled:
		return ErrOperationCancelled
	case OperationWaiting:
		return ErrOperationNotReady
	}
	op.Done = true
	return c.state.TimelockPutOperation(op)
}

// Cancel invalidates a pending operation. Proposers and the admin may cancel.
func (c *Controller) Cancel(caller [20]byte, id [32]byte, proposedAt int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.proposers[caller]; !ok && caller != c.admin {
		return fmt.Errorf("%w: cancel", ErrNotProposer)
	}
	op, err := c.load(OperationKey(id, proposedAt))
	if err != nil {
		return err
	}
	if op.Done {
		return ErrOperationDone
	}
	op.Cancelled = true
	return c.state.TimelockPutOperation(op)
}
