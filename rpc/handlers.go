package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	ethcommon "github.com/ethereum/go-ethereum/common"

	"pointsledger/core/bank"
	"pointsledger/core/redemption"
)

type errorBody struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, reason, message string) {
	writeJSON(w, status, errorBody{Reason: reason, Message: message})
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) string {
	status, reason := reasonFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("ledger operation failed", "error", err)
		writeError(w, status, reason, "internal error")
		return reason
	}
	writeError(w, status, reason, err.Error())
	return reason
}

// --- request/response payloads ---

type claimRequest struct {
	EventID   uint64 `json:"eventId"`
	TokenKey  uint64 `json:"tokenKey"`
	Claimant  string `json:"claimant"`
	Amount    string `json:"amount"`
	Points    string `json:"points"`
	Signature string `json:"signature"`
}

type eventBody struct {
	EventID        uint64 `json:"eventId"`
	Active         bool   `json:"active"`
	ScheduledStart int64  `json:"scheduledStart,omitempty"`
	MinPerAddress  string `json:"minPerAddress,omitempty"`
	MaxPerAddress  string `json:"maxPerAddress,omitempty"`
	CreatedAt      int64  `json:"createdAt"`
}

type tokenBody struct {
	EventID   uint64 `json:"eventId"`
	TokenKey  uint64 `json:"tokenKey"`
	Asset     string `json:"asset"`
	Total     string `json:"totalAmount"`
	Remaining string `json:"remainingAmount"`
	Rate      string `json:"rate,omitempty"`
	AddedAt   int64  `json:"addedAt"`
}

type createEventRequest struct {
	EventID        uint64 `json:"eventId"`
	ScheduledStart int64  `json:"scheduledStart"`
	MinPerAddress  string `json:"minPerAddress"`
	MaxPerAddress  string `json:"maxPerAddress"`
}

type addTokenRequest struct {
	TokenKey      uint64 `json:"tokenKey"`
	Asset         string `json:"asset"`
	TotalAmount   string `json:"totalAmount"`
	Rate          string `json:"rate"`
	AttachedValue string `json:"attachedValue"`
}

type setSignerRequest struct {
	Signer string `json:"signer"`
}

type withdrawRequest struct {
	Scope        string `json:"scope"`
	EventID      uint64 `json:"eventId"`
	TokenKey     uint64 `json:"tokenKey"`
	StartEventID uint64 `json:"startEventId"`
	EndEventID   uint64 `json:"endEventId"`
}

// --- public handlers ---

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.ObserveClaim("bad_request")
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	claimant, err := parseAddress(req.Claimant)
	if err != nil {
		s.metrics.ObserveClaim("bad_request")
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	amount, err := parseOptionalBig(req.Amount)
	if err != nil {
		s.metrics.ObserveClaim("bad_request")
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	points, err := parseOptionalBig(req.Points)
	if err != nil {
		s.metrics.ObserveClaim("bad_request")
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	signature, err := parseHexBytes(req.Signature)
	if err != nil {
		s.metrics.ObserveClaim("bad_request")
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	payload := redemption.ClaimPayload{
		EventID:  req.EventID,
		TokenKey: req.TokenKey,
		Claimant: claimant,
		Amount:   amount,
		Points:   points,
	}
	if err := s.engine.Claim(payload, signature); err != nil {
		s.metrics.ObserveClaim(s.writeEngineError(w, err))
		return
	}
	s.metrics.ObserveClaim("ok")
	fp := payload.Fingerprint()
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "claimed",
		"fingerprint": hex.EncodeToString(fp[:]),
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, _ *http.Request) {
	list, err := s.engine.ListEvents()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	bodies := make([]eventBody, 0, len(list))
	for _, ev := range list {
		bodies = append(bodies, eventToBody(ev))
	}
	writeJSON(w, http.StatusOK, bodies)
}

func (s *Server) handleEventInfo(w http.ResponseWriter, r *http.Request) {
	eventID, ok := parseUintParam(w, r, "eventID")
	if !ok {
		return
	}
	ev, found, err := s.engine.EventInfo(eventID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "event_not_found", "event not found")
		return
	}
	writeJSON(w, http.StatusOK, eventToBody(ev))
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	eventID, ok := parseUintParam(w, r, "eventID")
	if !ok {
		return
	}
	tokens, err := s.engine.ListTokens(eventID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	bodies := make([]tokenBody, 0, len(tokens))
	for _, token := range tokens {
		bodies = append(bodies, tokenToBody(token))
	}
	writeJSON(w, http.StatusOK, bodies)
}

func (s *Server) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	eventID, ok := parseUintParam(w, r, "eventID")
	if !ok {
		return
	}
	tokenKey, ok := parseUintParam(w, r, "tokenKey")
	if !ok {
		return
	}
	token, found, err := s.engine.TokenInfoOf(eventID, tokenKey)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "token_not_found", "token not found")
		return
	}
	writeJSON(w, http.StatusOK, tokenToBody(token))
}

func (s *Server) handleUserTotal(w http.ResponseWriter, r *http.Request) {
	eventID, ok := parseUintParam(w, r, "eventID")
	if !ok {
		return
	}
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	total, err := s.engine.UserTotal(eventID, addr)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"total": total.String()})
}

func (s *Server) handleUsedFingerprint(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(strings.TrimSpace(chi.URLParam(r, "fingerprint")), "0x")
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		writeError(w, http.StatusBadRequest, "bad_request", "fingerprint must be 32 hex bytes")
		return
	}
	var fp [32]byte
	copy(fp[:], decoded)
	used, err := s.engine.UsedFingerprint(fp)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"used": used})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	entries, err := s.st.LogEntries(limit)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	type logBody struct {
		Type       string            `json:"type"`
		Attributes map[string]string `json:"attributes"`
	}
	bodies := make([]logBody, 0, len(entries))
	for _, entry := range entries {
		bodies = append(bodies, logBody{Type: entry.Type, Attributes: entry.Attributes})
	}
	writeJSON(w, http.StatusOK, bodies)
}

// --- admin handlers ---

func (s *Server) handleSignerInfo(w http.ResponseWriter, _ *http.Request) {
	signer, ok, err := s.engine.GlobalSigner()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	resp := map[string]interface{}{"configured": ok}
	if ok {
		resp["signer"] = "0x" + hex.EncodeToString(signer[:])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetSigner(w http.ResponseWriter, r *http.Request) {
	var req setSignerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	signer, err := parseAddress(req.Signer)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := s.engine.SetGlobalSigner(s.owner, signer); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rotated"})
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	min, err := parseOptionalBig(req.MinPerAddress)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	max, err := parseOptionalBig(req.MaxPerAddress)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := s.engine.CreateEvent(s.owner, req.EventID, req.ScheduledStart, min, max); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.metrics.ObserveEventCreated()
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (s *Server) handleActivateEvent(w http.ResponseWriter, r *http.Request) {
	s.toggleEvent(w, r, s.engine.ActivateEvent)
}

func (s *Server) handleDeactivateEvent(w http.ResponseWriter, r *http.Request) {
	s.toggleEvent(w, r, s.engine.DeactivateEvent)
}

func (s *Server) toggleEvent(w http.ResponseWriter, r *http.Request, toggle func([20]byte, uint64) error) {
	eventID, ok := parseUintParam(w, r, "eventID")
	if !ok {
		return
	}
	if err := toggle(s.owner, eventID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAddToken(w http.ResponseWriter, r *http.Request) {
	eventID, ok := parseUintParam(w, r, "eventID")
	if !ok {
		return
	}
	var req addTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	asset, err := bank.ParseAsset(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	total, err := parseOptionalBig(req.TotalAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	rate, err := parseOptionalBig(req.Rate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	attached, err := parseOptionalBig(req.AttachedValue)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := s.engine.AddToken(s.owner, eventID, req.TokenKey, asset, total, rate, attached); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.metrics.ObserveTokenAdded()
	writeJSON(w, http.StatusCreated, map[string]string{"status": "added"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	var err error
	switch strings.ToLower(strings.TrimSpace(req.Scope)) {
	case "token":
		err = s.engine.WithdrawToken(s.owner, req.EventID, req.TokenKey)
	case "event":
		err = s.engine.WithdrawEvent(s.owner, req.EventID)
	case "range":
		err = s.engine.WithdrawRange(s.owner, req.StartEventID, req.EndEventID)
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "scope must be token, event or range")
		return
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.metrics.ObserveWithdrawal()
	writeJSON(w, http.StatusOK, map[string]string{"status": "swept"})
}

// --- codecs ---

func eventToBody(ev *redemption.RedemptionEvent) eventBody {
	body := eventBody{
		EventID:        ev.ID,
		Active:         ev.Active,
		ScheduledStart: ev.ScheduledStart,
		CreatedAt:      ev.CreatedAt,
	}
	if ev.MinPerAddress != nil {
		body.MinPerAddress = ev.MinPerAddress.String()
	}
	if ev.MaxPerAddress != nil {
		body.MaxPerAddress = ev.MaxPerAddress.String()
	}
	return body
}

func tokenToBody(token *redemption.TokenInfo) tokenBody {
	body := tokenBody{
		EventID:   token.EventID,
		TokenKey:  token.Key,
		Asset:     token.Asset.String(),
		Total:     token.Total.String(),
		Remaining: token.Remaining.String(),
		AddedAt:   token.AddedAt,
	}
	if token.Rate != nil {
		body.Rate = token.Rate.String()
	}
	return body
}

func parseUintParam(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	raw := chi.URLParam(r, name)
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("%s must be an unsigned integer", name))
		return 0, false
	}
	return value, true
}

func parseAddress(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(value)
	if !ethcommon.IsHexAddress(trimmed) {
		return out, fmt.Errorf("invalid address %q", value)
	}
	copy(out[:], ethcommon.HexToAddress(trimmed).Bytes())
	return out, nil
}

func parseOptionalBig(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", value)
	}
	if parsed.Sign() < 0 {
		return nil, fmt.Errorf("integer %q must not be negative", value)
	}
	return parsed, nil
}

func parseHexBytes(value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("signature is required")
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %v", err)
	}
	return decoded, nil
}
