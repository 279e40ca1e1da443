package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"vammengine/internal/collateral"
	"vammengine/internal/engine"
	"vammengine/internal/orders"
	"vammengine/internal/vamm"
)

const callerHeader = "X-Caller-Address"

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	writeJSON(w, code, errorResponse{Error: err.Error(), Code: code})
}

// statusFor maps engine and order sentinels to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotAdmin),
		errors.Is(err, engine.ErrNotPositionManager),
		errors.Is(err, engine.ErrNotAuthorized),
		errors.Is(err, orders.ErrNotOrderHolder):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrPositionNotFound),
		errors.Is(err, orders.ErrInvalidOrderID):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidStatus),
		errors.Is(err, engine.ErrAlreadyInitialized),
		errors.Is(err, engine.ErrFundingNotDue),
		errors.Is(err, engine.ErrExcessiveDecrease),
		errors.Is(err, engine.ErrInsufficientMargin),
		errors.Is(err, engine.ErrMarginRatioTooHigh),
		errors.Is(err, engine.ErrTransferFailed),
		errors.Is(err, orders.ErrInvalidOrderStatus),
		errors.Is(err, orders.ErrOrderExpired),
		errors.Is(err, orders.ErrTriggerNotReached):
		return http.StatusConflict
	case errors.Is(err, engine.ErrStaleOracleData):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func caller(r *http.Request) (collateral.Address, error) {
	v := strings.TrimSpace(r.Header.Get(callerHeader))
	if v == "" {
		return "", fmt.Errorf("missing %s header", callerHeader)
	}
	return collateral.Address(v), nil
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func parseBig(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("%s: not a decimal integer: %q", field, s)
	}
	return v, nil
}

func parseDirection(s string) (vamm.Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long":
		return vamm.DirectionLong, nil
	case "short":
		return vamm.DirectionShort, nil
	default:
		return vamm.DirectionNone, fmt.Errorf("direction: %q is not long or short", s)
	}
}

func orderID(r *http.Request) (uint64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("order id: %q", raw)
	}
	return id, nil
}

// --- Market views ---

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	view := s.deps.Engine.IndexAndMarkPrice()
	writeJSON(w, http.StatusOK, map[string]string{
		"index_price": view.IndexPrice.String(),
		"mark_price":  view.MarkPrice.String(),
	})
}

func (s *Server) handleVmm(w http.ResponseWriter, r *http.Request) {
	view := s.deps.Engine.VmmData()
	writeJSON(w, http.StatusOK, map[string]string{
		"reserve_asset": view.ReserveAsset.String(),
		"reserve_quote": view.ReserveQuote.String(),
		"invariant":     view.Invariant.String(),
	})
}

func (s *Server) handleFundingRate(w http.ResponseWriter, r *http.Request) {
	view := s.deps.Engine.FundingRate()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"long": map[string]string{
			"value":     view.Long.Value.String(),
			"direction": view.Long.Direction.String(),
		},
		"short": map[string]string{
			"value":     view.Short.Value.String(),
			"direction": view.Short.Direction.String(),
		},
	})
}

func (s *Server) handleFundingPeriod(w http.ResponseWriter, r *http.Request) {
	view := s.deps.Engine.FundingPeriodData()
	writeJSON(w, http.StatusOK, map[string]string{
		"period":   view.Period.String(),
		"previous": view.Previous.Format(time.RFC3339),
		"upcoming": view.Upcoming.Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": s.deps.Engine.Status().String(),
	})
}

func (s *Server) handlePositionData(w http.ResponseWriter, r *http.Request) {
	holder := collateral.Address(mux.Vars(r)["holder"])
	pos, err := s.deps.Engine.PositionData(holder)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"direction":       pos.Direction.String(),
		"entry_price":     pos.EntryPrice.String(),
		"funding_accrued": pos.FundingAccrued.String(),
		"exposure":        pos.Exposure.String(),
		"collateral":      pos.Collateral.String(),
		"notional_usd":    pos.NotionalUsd.String(),
	})
}

// --- Position lifecycle ---

type positionMutationRequest struct {
	Holder    string `json:"holder"`
	Direction string `json:"direction,omitempty"`
	UsdAmount string `json:"usd_amount"`
	Leverage  string `json:"leverage"`
}

func (s *Server) handleIncreasePosition(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req positionMutationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	direction, err := parseDirection(req.Direction)
	if err != nil {
		writeError(w, err)
		return
	}
	usd, err := parseBig("usd_amount", req.UsdAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	lev, err := parseBig("leverage", req.Leverage)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Engine.IncreasePosition(r.Context(), from, collateral.Address(req.Holder), direction, usd, lev); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *Server) handleDecreasePosition(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req positionMutationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	usd, err := parseBig("usd_amount", req.UsdAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	lev, err := parseBig("leverage", req.Leverage)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Engine.DecreasePosition(r.Context(), from, collateral.Address(req.Holder), usd, lev); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

type holderRequest struct {
	Holder string `json:"holder"`
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req holderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Engine.ClosePosition(r.Context(), from, collateral.Address(req.Holder)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	holder := collateral.Address(mux.Vars(r)["holder"])
	if err := s.deps.Engine.Liquidate(r.Context(), from, holder); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

type marginRequest struct {
	Holder string `json:"holder"`
	Amount string `json:"amount"`
}

func (s *Server) handleAddMargin(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req marginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseBig("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Engine.AddMargin(r.Context(), from, collateral.Address(req.Holder), amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *Server) handleRemoveMargin(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req marginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseBig("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Engine.RemoveMargin(r.Context(), from, collateral.Address(req.Holder), amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *Server) handleDistributeFunding(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Engine.DistributeFunding(r.Context(), from); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}
