package bank

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	ErrInvalidAsset          = errors.New("bank: invalid asset")
	ErrInvalidAmount         = errors.New("bank: amount must be positive")
	ErrInsufficientFunds     = errors.New("bank: insufficient funds")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
)

// AssetKind tags the transfer mechanism used for an asset.
type AssetKind uint8

const (
	// AssetNative moves the ledger's native currency balance.
	AssetNative AssetKind = iota
	// AssetToken moves a fungible token balance identified by symbol.
	AssetToken
)

// Asset identifies a transferable balance. Native assets carry no symbol;
// token assets are keyed by their canonical uppercase symbol.
type Asset struct {
	Kind   AssetKind
	Symbol string
}

// NativeAsset returns the native currency asset descriptor.
func NativeAsset() Asset { return Asset{Kind: AssetNative} }

// TokenAsset returns a fungible token asset descriptor for the given symbol.
func TokenAsset(symbol string) (Asset, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return Asset{}, ErrInvalidAsset
	}
	return Asset{Kind: AssetToken, Symbol: trimmed}, nil
}

// Normalize validates the descriptor and returns its canonical form.
func (a Asset) Normalize() (Asset, error) {
	switch a.Kind {
	case AssetNative:
		return Asset{Kind: AssetNative}, nil
	case AssetToken:
		return TokenAsset(a.Symbol)
	default:
		return Asset{}, ErrInvalidAsset
	}
}

// String renders the canonical wire form: "native" or "token:SYMBOL".
func (a Asset) String() string {
	if a.Kind == AssetNative {
		return "native"
	}
	return "token:" + strings.ToUpper(strings.TrimSpace(a.Symbol))
}

// ParseAsset decodes the canonical wire form produced by String.
func ParseAsset(s string) (Asset, error) {
	trimmed := strings.TrimSpace(s)
	if strings.EqualFold(trimmed, "native") {
		return NativeAsset(), nil
	}
	if rest, ok := strings.CutPrefix(strings.ToLower(trimmed), "token:"); ok {
		return TokenAsset(rest)
	}
	return Asset{}, fmt.Errorf("%w: %q", ErrInvalidAsset, s)
}

// Account holds the transferable balances owned by one address. Allowances are
// keyed by "<symbol>/<spender hex>" and only apply to token assets.
type Account struct {
	Native     *big.Int
	Tokens     map[string]*big.Int
	Allowances map[string]*big.Int
}

// NewAccount returns an account with zeroed balances.
func NewAccount() *Account {
	return &Account{
		Native:     big.NewInt(0),
		Tokens:     make(map[string]*big.Int),
		Allowances: make(map[string]*big.Int),
	}
}

// Clone returns a deep copy so callers can mutate safely.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := NewAccount()
	if a.Native != nil {
		clone.Native = new(big.Int).Set(a.Native)
	}
	for sym, amt := range a.Tokens {
		if amt != nil {
			clone.Tokens[sym] = new(big.Int).Set(amt)
		}
	}
	for key, amt := range a.Allowances {
		if amt != nil {
			clone.Allowances[key] = new(big.Int).Set(amt)
		}
	}
	return clone
}

func (a *Account) balance(asset Asset) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	if asset.Kind == AssetNative {
		if a.Native == nil {
			return big.NewInt(0)
		}
		return a.Native
	}
	amt, ok := a.Tokens[asset.Symbol]
	if !ok || amt == nil {
		return big.NewInt(0)
	}
	return amt
}

func (a *Account) setBalance(asset Asset, amount *big.Int) {
	if asset.Kind == AssetNative {
		a.Native = amount
		return
	}
	if a.Tokens == nil {
		a.Tokens = make(map[string]*big.Int)
	}
	a.Tokens[asset.Symbol] = amount
}

func allowanceKey(symbol string, spender [20]byte) string {
	return symbol + "/" + hex.EncodeToString(spender[:])
}

// Store abstracts account persistence. GetAccount must return a zeroed account
// for unknown addresses rather than an error.
type Store interface {
	GetAccount(addr [20]byte) (*Account, error)
	PutAccount(addr [20]byte, acc *Account) error
}

// Transferor moves a specific asset between accounts. Two implementations
// exist: native currency and fungible token, selected via TransferorFor.
type Transferor interface {
	Transfer(from, to [20]byte, amount *big.Int) error
	TransferFrom(spender, from, to [20]byte, amount *big.Int) error
}

// TransferorFor selects the transfer implementation for the asset tag.
func TransferorFor(store Store, asset Asset) (Transferor, error) {
	normalized, err := asset.Normalize()
	if err != nil {
		return nil, err
	}
	if normalized.Kind == AssetNative {
		return nativeTransferor{store: store}, nil
	}
	return tokenTransferor{store: store, asset: normalized}, nil
}

type nativeTransferor struct {
	store Store
}

func (t nativeTransferor) Transfer(from, to [20]byte, amount *big.Int) error {
	return move(t.store, from, to, NativeAsset(), amount)
}

// TransferFrom on the native asset only supports the degenerate case where the
// spender is the source account. Native escrow is funded by attached value,
// not allowances.
func (t nativeTransferor) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	if spender != from {
		return fmt.Errorf("%w: native allowances unsupported", ErrInsufficientAllowance)
	}
	return t.Transfer(from, to, amount)
}

type tokenTransferor struct {
	store Store
	asset Asset
}

func (t tokenTransferor) Transfer(from, to [20]byte, amount *big.Int) error {
	return move(t.store, from, to, t.asset, amount)
}

func (t tokenTransferor) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if spender != from {
		fromAcc, err := t.store.GetAccount(from)
		if err != nil {
			return err
		}
		key := allowanceKey(t.asset.Symbol, spender)
		allowed, ok := fromAcc.Allowances[key]
		if !ok || allowed == nil || allowed.Cmp(amount) < 0 {
			return ErrInsufficientAllowance
		}
		fromAcc.Allowances[key] = new(big.Int).Sub(allowed, amount)
		if err := t.store.PutAccount(from, fromAcc); err != nil {
			return err
		}
	}
	return move(t.store, from, to, t.asset, amount)
}

func move(store Store, from, to [20]byte, asset Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	fromAcc, err := store.GetAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.balance(asset).Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	toAcc, err := store.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc.setBalance(asset, new(big.Int).Sub(fromAcc.balance(asset), amount))
	toAcc.setBalance(asset, new(big.Int).Add(toAcc.balance(asset), amount))
	if err := store.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return store.PutAccount(to, toAcc)
}

// Approve grants spender an allowance over the owner's token balance,
// replacing any prior allowance for the same spender and asset.
func Approve(store Store, owner, spender [20]byte, asset Asset, amount *big.Int) error {
	normalized, err := asset.Normalize()
	if err != nil {
		return err
	}
	if normalized.Kind != AssetToken {
		return fmt.Errorf("%w: native allowances unsupported", ErrInvalidAsset)
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	acc, err := store.GetAccount(owner)
	if err != nil {
		return err
	}
	if acc.Allowances == nil {
		acc.Allowances = make(map[string]*big.Int)
	}
	acc.Allowances[allowanceKey(normalized.Symbol, spender)] = new(big.Int).Set(amount)
	return store.PutAccount(owner, acc)
}

// BalanceOf reads the asset balance held by addr.
func BalanceOf(store Store, addr [20]byte, asset Asset) (*big.Int, error) {
	normalized, err := asset.Normalize()
	if err != nil {
		return nil, err
	}
	acc, err := store.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(acc.balance(normalized)), nil
}

// Mint credits addr with new supply of the asset. Used for genesis funding and
// tests; the redemption engine itself never mints.
func Mint(store Store, addr [20]byte, asset Asset, amount *big.Int) error {
	normalized, err := asset.Normalize()
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	acc, err := store.GetAccount(addr)
	if err != nil {
		return err
	}
	acc.setBalance(normalized, new(big.Int).Add(acc.balance(normalized), amount))
	return store.PutAccount(addr, acc)
}
