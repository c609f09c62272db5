package rpc

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"pointsledger/core/bank"
	"pointsledger/core/redemption"
	"pointsledger/state"
	"pointsledger/storage"
)

const testAdminToken = "test-admin-token"

type serverEnv struct {
	server    *Server
	manager   *state.Manager
	engine    *redemption.Engine
	owner     [20]byte
	signerKey *ecdsa.PrivateKey
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())

	env := &serverEnv{manager: manager}
	env.owner[19] = 0x01
	require.NoError(t, manager.SetOwner(env.owner))

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	env.signerKey = key
	var signer [20]byte
	copy(signer[:], ethcrypto.PubkeyToAddress(key.PublicKey).Bytes())
	require.NoError(t, manager.SetGlobalSigner(signer))

	env.engine = redemption.NewEngine(manager)
	env.server = New(Config{
		Engine:             env.engine,
		State:              manager,
		Owner:              env.owner,
		AdminToken:         testAdminToken,
		ClaimRatePerMinute: 6_000,
		ClaimBurst:         100,
	})
	return env
}

func (env *serverEnv) do(t *testing.T, method, path string, body interface{}, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if admin {
		req.Header.Set("Authorization", "Bearer "+testAdminToken)
	}
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	return rec
}

func (env *serverEnv) seedEventWithToken(t *testing.T, eventID, tokenKey uint64, total int64) {
	t.Helper()
	require.NoError(t, env.engine.CreateEvent(env.owner, eventID, 0, nil, nil))
	require.NoError(t, bank.Mint(env.manager, env.owner, bank.NativeAsset(), big.NewInt(total)))
	amount := big.NewInt(total)
	require.NoError(t, env.engine.AddToken(env.owner, eventID, tokenKey, bank.NativeAsset(), amount, nil, amount))
}

func (env *serverEnv) signClaim(t *testing.T, payload redemption.ClaimPayload) string {
	t.Helper()
	fp := payload.Fingerprint()
	sig, err := ethcrypto.Sign(accounts.TextHash(fp[:]), env.signerKey)
	require.NoError(t, err)
	return "0x" + hex.EncodeToString(sig)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestHealthz(t *testing.T) {
	env := newServerEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminRequiresBearerToken(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/admin/events", createEventRequest{EventID: 1}, false)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/events", bytes.NewReader([]byte(`{"eventId":1}`)))
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec2 := httptest.NewRecorder()
	env.server.ServeHTTP(rec2, req)
	require.Equal(t, http.StatusUnauthorized, rec2.Code)

	rec = env.do(t, http.MethodPost, "/v1/admin/events", createEventRequest{EventID: 1}, true)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateEventAndReadBack(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/admin/events", createEventRequest{
		EventID:       7,
		MinPerAddress: "10",
		MaxPerAddress: "100",
	}, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/events/7", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var body eventBody
	decodeBody(t, rec, &body)
	require.Equal(t, uint64(7), body.EventID)
	require.True(t, body.Active)
	require.Equal(t, "10", body.MinPerAddress)
	require.Equal(t, "100", body.MaxPerAddress)

	rec = env.do(t, http.MethodGet, "/v1/events/99", nil, false)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/events", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []eventBody
	decodeBody(t, rec, &list)
	require.Len(t, list, 1)
	require.Equal(t, uint64(7), list[0].EventID)

	// Duplicate registration surfaces the conflict reason.
	rec = env.do(t, http.MethodPost, "/v1/admin/events", createEventRequest{EventID: 7}, true)
	require.Equal(t, http.StatusConflict, rec.Code)
	var errBody errorBody
	decodeBody(t, rec, &errBody)
	require.Equal(t, "event_exists", errBody.Reason)
}

func TestAddTokenAndListTokens(t *testing.T) {
	env := newServerEnv(t)
	require.NoError(t, env.engine.CreateEvent(env.owner, 1, 0, nil, nil))
	require.NoError(t, bank.Mint(env.manager, env.owner, bank.NativeAsset(), big.NewInt(500)))

	rec := env.do(t, http.MethodPost, "/v1/admin/events/1/tokens", addTokenRequest{
		TokenKey:      3,
		Asset:         "native",
		TotalAmount:   "500",
		AttachedValue: "500",
	}, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/events/1/tokens", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var tokens []tokenBody
	decodeBody(t, rec, &tokens)
	require.Len(t, tokens, 1)
	require.Equal(t, uint64(3), tokens[0].TokenKey)
	require.Equal(t, "native", tokens[0].Asset)
	require.Equal(t, "500", tokens[0].Remaining)

	rec = env.do(t, http.MethodGet, "/v1/events/1/tokens/3", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/events/1/tokens/9", nil, false)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClaimOverHTTP(t *testing.T) {
	env := newServerEnv(t)
	env.seedEventWithToken(t, 1, 1, 1_000)

	var claimant [20]byte
	claimant[19] = 0x42
	payload := redemption.ClaimPayload{
		EventID:  1,
		TokenKey: 1,
		Claimant: claimant,
		Amount:   big.NewInt(250),
	}
	req := claimRequest{
		EventID:   1,
		TokenKey:  1,
		Claimant:  "0x" + hex.EncodeToString(claimant[:]),
		Amount:    "250",
		Signature: env.signClaim(t, payload),
	}

	rec := env.do(t, http.MethodPost, "/v1/claim", req, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var result map[string]string
	decodeBody(t, rec, &result)
	fp := payload.Fingerprint()
	require.Equal(t, hex.EncodeToString(fp[:]), result["fingerprint"])

	// Replay is rejected with a stable reason code.
	rec = env.do(t, http.MethodPost, "/v1/claim", req, false)
	require.Equal(t, http.StatusConflict, rec.Code)
	var errBody errorBody
	decodeBody(t, rec, &errBody)
	require.Equal(t, "fingerprint_used", errBody.Reason)

	// The fingerprint read surface agrees.
	rec = env.do(t, http.MethodGet, "/v1/fingerprints/"+hex.EncodeToString(fp[:]), nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var used map[string]bool
	decodeBody(t, rec, &used)
	require.True(t, used["used"])

	// Balances moved to the claimant.
	balance, err := bank.BalanceOf(env.manager, claimant, bank.NativeAsset())
	require.NoError(t, err)
	require.Zero(t, balance.Cmp(big.NewInt(250)))

	rec = env.do(t, http.MethodGet, "/v1/events/1/totals/0x"+hex.EncodeToString(claimant[:]), nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestClaimRejectsBadInput(t *testing.T) {
	env := newServerEnv(t)
	env.seedEventWithToken(t, 1, 1, 100)

	rec := env.do(t, http.MethodPost, "/v1/claim", claimRequest{
		EventID:  1,
		TokenKey: 1,
		Claimant: "not-an-address",
		Amount:   "10",
	}, false)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/claim", claimRequest{
		EventID:   1,
		TokenKey:  1,
		Claimant:  "0x0000000000000000000000000000000000000042",
		Amount:    "10",
		Signature: "0xdead",
	}, false)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var errBody errorBody
	decodeBody(t, rec, &errBody)
	require.Equal(t, "malformed_signature", errBody.Reason)
}

func TestWithdrawOverHTTP(t *testing.T) {
	env := newServerEnv(t)
	env.seedEventWithToken(t, 1, 1, 100)

	rec := env.do(t, http.MethodPost, "/v1/admin/withdrawals", withdrawRequest{
		Scope:   "event",
		EventID: 1,
	}, true)
	require.Equal(t, http.StatusConflict, rec.Code)
	var errBody errorBody
	decodeBody(t, rec, &errBody)
	require.Equal(t, "event_still_active", errBody.Reason)

	rec = env.do(t, http.MethodPost, "/v1/admin/events/1/deactivate", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/admin/withdrawals", withdrawRequest{
		Scope:   "event",
		EventID: 1,
	}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	balance, err := bank.BalanceOf(env.manager, env.owner, bank.NativeAsset())
	require.NoError(t, err)
	require.Zero(t, balance.Cmp(big.NewInt(100)))

	rec = env.do(t, http.MethodPost, "/v1/admin/withdrawals", withdrawRequest{Scope: "bogus"}, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRotateSignerOverHTTP(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(t, http.MethodPut, "/v1/admin/signer", setSignerRequest{
		Signer: "0x00000000000000000000000000000000000000aa",
	}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	signer, ok, err := env.manager.GlobalSigner()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, byte(0xaa), signer[19])

	// The admin read surface reports the rotated signer.
	rec = env.do(t, http.MethodGet, "/v1/admin/signer", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var info struct {
		Configured bool   `json:"configured"`
		Signer     string `json:"signer"`
	}
	decodeBody(t, rec, &info)
	require.True(t, info.Configured)
	require.Equal(t, "0x00000000000000000000000000000000000000aa", info.Signer)

	rec = env.do(t, http.MethodGet, "/v1/admin/signer", nil, false)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
