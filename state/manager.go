package state

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"pointsledger/core/bank"
	"pointsledger/core/redemption"
	"pointsledger/storage"
)

var (
	eventPrefix      = "redemption/event/"
	eventIndexKey    = "redemption/event/index"
	tokenPrefix      = "redemption/token/"
	tokenIndexPrefix = "redemption/token-index/"
	usedPrefix       = "redemption/used/"
	totalPrefix      = "redemption/total/"
	accountPrefix    = "bank/account/"
	ownerKey         = "redemption/owner"
	signerKey        = "redemption/signer"
	currentKey       = "redemption/current"
	logKey           = "redemption/log"
)

// Manager persists the redemption ledger in a key-value store. Records are
// rlp encoded with big integers rendered as decimal strings; stored structs
// only ever grow at the end so old databases stay readable.
//
// Mutating units of work run on an overlay: Begin stages writes in memory,
// Commit flushes them, Abort drops them. Reads observe staged writes.
type Manager struct {
	mu      sync.RWMutex
	db      storage.Database
	pending map[string][]byte
}

// NewManager constructs a manager over the given database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Begin opens a unit of work. Writes are staged until Commit.
func (m *Manager) Begin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = make(map[string][]byte)
}

// Commit flushes staged writes to the database in deterministic key order.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return nil
	}
	keys := make([]string, 0, len(m.pending))
	for key := range m.pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := m.db.Put([]byte(key), m.pending[key]); err != nil {
			return err
		}
	}
	m.pending = nil
	return nil
}

// Abort discards all staged writes.
func (m *Manager) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
}

func (m *Manager) kvGet(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pending != nil {
		if value, ok := m.pending[key]; ok {
			return value, true, nil
		}
	}
	value, err := m.db.Get([]byte(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *Manager) kvPut(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil {
		m.pending[key] = value
		return nil
	}
	return m.db.Put([]byte(key), value)
}

func (m *Manager) getDecoded(key string, out interface{}) (bool, error) {
	raw, ok, err := m.kvGet(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

func (m *Manager) putEncoded(key string, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	return m.kvPut(key, encoded)
}

// --- slots ---

func (m *Manager) addressSlot(key string) ([20]byte, bool, error) {
	var addr [20]byte
	raw, ok, err := m.kvGet(key)
	if err != nil || !ok {
		return addr, false, err
	}
	if len(raw) != len(addr) {
		return addr, false, fmt.Errorf("state: corrupt address slot %s", key)
	}
	copy(addr[:], raw)
	return addr, true, nil
}

func (m *Manager) Owner() ([20]byte, bool, error) { return m.addressSlot(ownerKey) }

func (m *Manager) SetOwner(addr [20]byte) error {
	return m.kvPut(ownerKey, append([]byte(nil), addr[:]...))
}

func (m *Manager) GlobalSigner() ([20]byte, bool, error) { return m.addressSlot(signerKey) }

func (m *Manager) SetGlobalSigner(addr [20]byte) error {
	return m.kvPut(signerKey, append([]byte(nil), addr[:]...))
}

func (m *Manager) CurrentEvent() (uint64, bool, error) {
	var id uint64
	ok, err := m.getDecoded(currentKey, &id)
	return id, ok, err
}

func (m *Manager) SetCurrentEvent(id uint64) error {
	return m.putEncoded(currentKey, id)
}

// --- events ---

type storedEvent struct {
	ID             uint64
	Active         bool
	ScheduledStart uint64
	MinPerAddress  string
	MaxPerAddress  string
	CreatedAt      uint64
}

func (m *Manager) EventPut(ev *redemption.RedemptionEvent) error {
	if ev == nil {
		return fmt.Errorf("state: nil event")
	}
	_, existed, err := m.kvGet(eventKey(ev.ID))
	if err != nil {
		return err
	}
	stored := storedEvent{
		ID:             ev.ID,
		Active:         ev.Active,
		ScheduledStart: clampUint64(ev.ScheduledStart),
		CreatedAt:      clampUint64(ev.CreatedAt),
	}
	if ev.MinPerAddress != nil {
		stored.MinPerAddress = ev.MinPerAddress.String()
	}
	if ev.MaxPerAddress != nil {
		stored.MaxPerAddress = ev.MaxPerAddress.String()
	}
	if err := m.putEncoded(eventKey(ev.ID), stored); err != nil {
		return err
	}
	if !existed {
		return m.appendEventIndex(ev.ID)
	}
	return nil
}

// EventIDs returns every registered event id in insertion order.
func (m *Manager) EventIDs() ([]uint64, error) {
	var ids []uint64
	if _, err := m.getDecoded(eventIndexKey, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (m *Manager) appendEventIndex(id uint64) error {
	ids, err := m.EventIDs()
	if err != nil {
		return err
	}
	return m.putEncoded(eventIndexKey, append(ids, id))
}

func (m *Manager) EventGet(id uint64) (*redemption.RedemptionEvent, bool, error) {
	var stored storedEvent
	ok, err := m.getDecoded(eventKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	ev := &redemption.RedemptionEvent{
		ID:             stored.ID,
		Active:         stored.Active,
		ScheduledStart: int64(stored.ScheduledStart),
		CreatedAt:      int64(stored.CreatedAt),
	}
	if stored.MinPerAddress != "" {
		min, ok := new(big.Int).SetString(stored.MinPerAddress, 10)
		if !ok {
			return nil, false, fmt.Errorf("state: invalid min limit %q", stored.MinPerAddress)
		}
		ev.MinPerAddress = min
	}
	if stored.MaxPerAddress != "" {
		max, ok := new(big.Int).SetString(stored.MaxPerAddress, 10)
		if !ok {
			return nil, false, fmt.Errorf("state: invalid max limit %q", stored.MaxPerAddress)
		}
		ev.MaxPerAddress = max
	}
	return ev, true, nil
}

// --- tokens ---

type storedToken struct {
	EventID   uint64
	Key       uint64
	Asset     string
	Total     string
	Remaining string
	Rate      string
	AddedAt   uint64
}

func (m *Manager) TokenPut(t *redemption.TokenInfo) error {
	if t == nil {
		return fmt.Errorf("state: nil token")
	}
	key := tokenKey(t.EventID, t.Key)
	_, existed, err := m.kvGet(key)
	if err != nil {
		return err
	}
	stored := storedToken{
		EventID:   t.EventID,
		Key:       t.Key,
		Asset:     t.Asset.String(),
		Total:     bigToString(t.Total),
		Remaining: bigToString(t.Remaining),
		AddedAt:   clampUint64(t.AddedAt),
	}
	if t.Rate != nil {
		stored.Rate = t.Rate.String()
	}
	if err := m.putEncoded(key, stored); err != nil {
		return err
	}
	if !existed {
		return m.appendTokenIndex(t.EventID, t.Key)
	}
	return nil
}

func (m *Manager) TokenGet(eventID, key uint64) (*redemption.TokenInfo, bool, error) {
	var stored storedToken
	ok, err := m.getDecoded(tokenKey(eventID, key), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	asset, err := bank.ParseAsset(stored.Asset)
	if err != nil {
		return nil, false, err
	}
	token := &redemption.TokenInfo{
		EventID: stored.EventID,
		Key:     stored.Key,
		Asset:   asset,
		AddedAt: int64(stored.AddedAt),
	}
	if token.Total, err = stringToBig(stored.Total); err != nil {
		return nil, false, err
	}
	if token.Remaining, err = stringToBig(stored.Remaining); err != nil {
		return nil, false, err
	}
	if stored.Rate != "" {
		rate, ok := new(big.Int).SetString(stored.Rate, 10)
		if !ok {
			return nil, false, fmt.Errorf("state: invalid rate %q", stored.Rate)
		}
		token.Rate = rate
	}
	return token, true, nil
}

func (m *Manager) TokenKeys(eventID uint64) ([]uint64, error) {
	var keys []uint64
	if _, err := m.getDecoded(tokenIndexKey(eventID), &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func (m *Manager) appendTokenIndex(eventID, key uint64) error {
	keys, err := m.TokenKeys(eventID)
	if err != nil {
		return err
	}
	return m.putEncoded(tokenIndexKey(eventID), append(keys, key))
}

// --- replay set ---

func (m *Manager) FingerprintUsed(fp [32]byte) (bool, error) {
	_, ok, err := m.kvGet(usedKey(fp))
	return ok, err
}

func (m *Manager) MarkFingerprint(fp [32]byte) error {
	return m.kvPut(usedKey(fp), []byte{1})
}

// --- per-user totals ---

func (m *Manager) UserTotal(eventID uint64, claimant [20]byte) (*big.Int, error) {
	raw, ok, err := m.kvGet(totalKey(eventID, claimant))
	if err != nil || !ok {
		return big.NewInt(0), err
	}
	total, valid := new(big.Int).SetString(string(raw), 10)
	if !valid {
		return nil, fmt.Errorf("state: invalid user total %q", raw)
	}
	return total, nil
}

func (m *Manager) SetUserTotal(eventID uint64, claimant [20]byte, total *big.Int) error {
	return m.kvPut(totalKey(eventID, claimant), []byte(bigToString(total)))
}

// --- bank accounts ---

type storedAccount struct {
	Native          string
	TokenSymbols    []string
	TokenAmounts    []string
	AllowanceKeys   []string
	AllowanceValues []string
}

func (m *Manager) GetAccount(addr [20]byte) (*bank.Account, error) {
	var stored storedAccount
	ok, err := m.getDecoded(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	acc := bank.NewAccount()
	if !ok {
		return acc, nil
	}
	if acc.Native, err = stringToBig(stored.Native); err != nil {
		return nil, err
	}
	if len(stored.TokenSymbols) != len(stored.TokenAmounts) ||
		len(stored.AllowanceKeys) != len(stored.AllowanceValues) {
		return nil, fmt.Errorf("state: corrupt account %s", hex.EncodeToString(addr[:]))
	}
	for i, sym := range stored.TokenSymbols {
		amt, err := stringToBig(stored.TokenAmounts[i])
		if err != nil {
			return nil, err
		}
		acc.Tokens[sym] = amt
	}
	for i, key := range stored.AllowanceKeys {
		amt, err := stringToBig(stored.AllowanceValues[i])
		if err != nil {
			return nil, err
		}
		acc.Allowances[key] = amt
	}
	return acc, nil
}

func (m *Manager) PutAccount(addr [20]byte, acc *bank.Account) error {
	if acc == nil {
		acc = bank.NewAccount()
	}
	stored := storedAccount{Native: bigToString(acc.Native)}
	for _, sym := range sortedKeys(acc.Tokens) {
		stored.TokenSymbols = append(stored.TokenSymbols, sym)
		stored.TokenAmounts = append(stored.TokenAmounts, bigToString(acc.Tokens[sym]))
	}
	for _, key := range sortedKeys(acc.Allowances) {
		stored.AllowanceKeys = append(stored.AllowanceKeys, key)
		stored.AllowanceValues = append(stored.AllowanceValues, bigToString(acc.Allowances[key]))
	}
	return m.putEncoded(accountKey(addr), stored)
}

// --- helpers ---

func eventKey(id uint64) string {
	return eventPrefix + strconv.FormatUint(id, 10)
}

func tokenKey(eventID, key uint64) string {
	return tokenPrefix + strconv.FormatUint(eventID, 10) + "/" + strconv.FormatUint(key, 10)
}

func tokenIndexKey(eventID uint64) string {
	return tokenIndexPrefix + strconv.FormatUint(eventID, 10)
}

func usedKey(fp [32]byte) string {
	return usedPrefix + hex.EncodeToString(fp[:])
}

func totalKey(eventID uint64, claimant [20]byte) string {
	return totalPrefix + strconv.FormatUint(eventID, 10) + "/" + hex.EncodeToString(claimant[:])
}

func accountKey(addr [20]byte) string {
	return accountPrefix + hex.EncodeToString(addr[:])
}

func bigToString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func stringToBig(s string) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("state: invalid integer %q", s)
	}
	return v, nil
}

func sortedKeys(m map[string]*big.Int) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func clampUint64(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}
