package redemption

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"runtime"
	"strconv"
	"sync"
	"time"

	"pointsledger/core/bank"
	"pointsledger/core/events"
)

var errNilState = errors.New("redemption engine: state not configured")

// State is the persistence surface the engine drives. Every mutating
// operation runs between Begin and Commit; Abort discards all staged writes
// so a failed operation leaves no partial effects.
type State interface {
	Begin()
	Commit() error
	Abort()

	Owner() ([20]byte, bool, error)
	GlobalSigner() ([20]byte, bool, error)
	SetGlobalSigner(addr [20]byte) error
	CurrentEvent() (uint64, bool, error)
	SetCurrentEvent(id uint64) error

	EventPut(ev *RedemptionEvent) error
	EventGet(id uint64) (*RedemptionEvent, bool, error)
	EventIDs() ([]uint64, error)

	TokenPut(t *TokenInfo) error
	TokenGet(eventID, key uint64) (*TokenInfo, bool, error)
	TokenKeys(eventID uint64) ([]uint64, error)

	FingerprintUsed(fp [32]byte) (bool, error)
	MarkFingerprint(fp [32]byte) error

	UserTotal(eventID uint64, claimant [20]byte) (*big.Int, error)
	SetUserTotal(eventID uint64, claimant [20]byte, total *big.Int) error

	bank.Store
}

// guard records which goroutine owns the in-flight unit of work. A nested
// engine call from that goroutine (a state hook or emitter calling back in)
// would deadlock on the engine mutex, so entry points consult the guard first
// and fail with ErrReentrantCall instead.
type guard struct {
	mu    sync.Mutex
	owner uint64
}

func (g *guard) heldBy(gid uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.owner != 0 && g.owner == gid
}

func (g *guard) set(gid uint64) {
	g.mu.Lock()
	g.owner = gid
	g.mu.Unlock()
}

func (g *guard) clear() {
	g.mu.Lock()
	g.owner = 0
	g.mu.Unlock()
}

// goroutineID parses the current goroutine's id from its stack header
// ("goroutine N [status]:"). The format is not covered by the compatibility
// promise but has been stable since Go 1; a parse failure degrades to 0,
// which the guard treats as never-matching.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Engine is the claim-validation and balance-accounting core. External entry
// points are serialized by the engine mutex; the reentrancy guard catches
// nested invocations inside a single unit of work.
type Engine struct {
	mu      sync.Mutex
	guard   guard
	state   State
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine constructs an engine over the given state with a no-op emitter.
func NewEngine(state State) *Engine {
	return &Engine{
		state:   state,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the notification sink. Passing nil resets it to a
// no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 { return e.nowFn() }

func (e *Engine) emit(evt *events.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// lock serializes the caller against any in-flight unit of work so readers
// only ever observe committed state. Same-goroutine reentry from inside a
// unit of work fails fast instead of deadlocking on the engine mutex.
func (e *Engine) lock() (func(), error) {
	if e.guard.heldBy(goroutineID()) {
		return nil, ErrReentrantCall
	}
	e.mu.Lock()
	return e.mu.Unlock, nil
}

// run executes fn as one atomic unit of work: reentrancy-guarded, staged on
// the state overlay, committed only on success. Events queued by fn via the
// returned append func are emitted after the commit lands.
func (e *Engine) run(fn func(queue func(*events.Event)) error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	gid := goroutineID()
	if e.guard.heldBy(gid) {
		return ErrReentrantCall
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.guard.set(gid)
	defer e.guard.clear()

	var queued []*events.Event
	queue := func(evt *events.Event) {
		if evt != nil {
			queued = append(queued, evt)
		}
	}
	e.state.Begin()
	if err := fn(queue); err != nil {
		e.state.Abort()
		return err
	}
	if err := e.state.Commit(); err != nil {
		e.state.Abort()
		return err
	}
	for _, evt := range queued {
		e.emit(evt)
	}
	return nil
}

func (e *Engine) requireOwner(caller [20]byte) error {
	owner, ok, err := e.state.Owner()
	if err != nil {
		return err
	}
	if !ok || owner != caller {
		return ErrUnauthorized
	}
	return nil
}

// SetGlobalSigner rotates the claim authority. All future claims must be
// signed by the new signer; signatures from the previous signer that were
// never consumed become invalid.
func (e *Engine) SetGlobalSigner(caller, newSigner [20]byte) error {
	return e.run(func(queue func(*events.Event)) error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		if newSigner == ([20]byte{}) {
			return ErrInvalidSigner
		}
		previous, _, err := e.state.GlobalSigner()
		if err != nil {
			return err
		}
		if err := e.state.SetGlobalSigner(newSigner); err != nil {
			return err
		}
		queue(NewSignerRotatedEvent(previous, newSigner))
		return nil
	})
}

// GlobalSigner returns the signer currently authorizing claims.
func (e *Engine) GlobalSigner() ([20]byte, bool, error) {
	if e == nil || e.state == nil {
		return [20]byte{}, false, errNilState
	}
	unlock, err := e.lock()
	if err != nil {
		return [20]byte{}, false, err
	}
	defer unlock()
	return e.state.GlobalSigner()
}

// Claim validates and settles one signed redemption. Ordering is load-bearing:
// the fingerprint is consumed and all balances are staged before the asset
// release, and the whole unit commits atomically.
func (e *Engine) Claim(payload ClaimPayload, signature []byte) error {
	return e.run(func(queue func(*events.Event)) error {
		ev, ok, err := e.state.EventGet(payload.EventID)
		if err != nil {
			return err
		}
		if !ok || !ev.Active {
			return ErrEventNotActive
		}
		if ev.ScheduledStart > 0 && e.now() < ev.ScheduledStart {
			return ErrEventNotStarted
		}
		token, ok, err := e.state.TokenGet(payload.EventID, payload.TokenKey)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTokenNotFound
		}

		released, err := resolveAmount(token, payload)
		if err != nil {
			return err
		}

		signer, err := RecoverSigner(payload, signature)
		if err != nil {
			return err
		}
		authority, ok, err := e.state.GlobalSigner()
		if err != nil {
			return err
		}
		if !ok || signer != authority {
			return ErrInvalidSignature
		}

		fp := payload.Fingerprint()
		used, err := e.state.FingerprintUsed(fp)
		if err != nil {
			return err
		}
		if used {
			return ErrFingerprintUsed
		}
		if err := e.state.MarkFingerprint(fp); err != nil {
			return err
		}

		if ev.MinPerAddress != nil || ev.MaxPerAddress != nil {
			total, err := e.state.UserTotal(payload.EventID, payload.Claimant)
			if err != nil {
				return err
			}
			newTotal := new(big.Int).Add(total, released)
			if ev.MinPerAddress != nil && newTotal.Cmp(ev.MinPerAddress) < 0 {
				return ErrBelowMinimum
			}
			if ev.MaxPerAddress != nil && newTotal.Cmp(ev.MaxPerAddress) > 0 {
				return ErrExceedsMaximum
			}
			if err := e.state.SetUserTotal(payload.EventID, payload.Claimant, newTotal); err != nil {
				return err
			}
		}

		if token.Remaining.Cmp(released) < 0 {
			return ErrInsufficientRemaining
		}
		token.Remaining = new(big.Int).Sub(token.Remaining, released)
		if err := e.state.TokenPut(token); err != nil {
			return err
		}

		transferor, err := bank.TransferorFor(e.state, token.Asset)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		if err := transferor.Transfer(Vault, payload.Claimant, released); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}

		queue(NewClaimedEvent(payload, released))
		return nil
	})
}

// resolveAmount checks the claim's amount/points pairing against the token's
// mode and returns the asset amount to release.
func resolveAmount(token *TokenInfo, payload ClaimPayload) (*big.Int, error) {
	points := big.NewInt(0)
	if payload.Points != nil {
		points = payload.Points
	}
	amount := big.NewInt(0)
	if payload.Amount != nil {
		amount = payload.Amount
	}
	if token.PointsMode() {
		if points.Sign() <= 0 {
			return nil, ErrInvalidAmount
		}
		derived := token.AmountForPoints(points)
		if derived.Sign() <= 0 {
			return nil, ErrInvalidAmount
		}
		if amount.Sign() != 0 && amount.Cmp(derived) != 0 {
			return nil, ErrRateMismatch
		}
		return derived, nil
	}
	if points.Sign() != 0 {
		return nil, ErrRateMismatch
	}
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return new(big.Int).Set(amount), nil
}
