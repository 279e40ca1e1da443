package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"vammengine/internal/collateral"
	"vammengine/internal/orders"
)

// orderRequest is the wire form of OrderParams. Optional stop/take
// thresholds are omitted when unset; expiration is RFC3339 or empty
// for no expiry.
type orderRequest struct {
	Holder       string `json:"holder"`
	Type         string `json:"type"`
	Direction    string `json:"direction"`
	TriggerPrice string `json:"trigger_price,omitempty"`
	LimitPrice   string `json:"limit_price,omitempty"`
	AmountIn     string `json:"amount_in"`
	Leverage     string `json:"leverage"`
	StopTrigger  string `json:"stop_trigger,omitempty"`
	StopLimit    string `json:"stop_limit,omitempty"`
	TakeTrigger  string `json:"take_trigger,omitempty"`
	TakePrice    string `json:"take_price,omitempty"`
	Expiration   string `json:"expiration,omitempty"`
}

func (req orderRequest) params() (orders.OrderParams, error) {
	var p orders.OrderParams

	switch req.Type {
	case "market", "Market":
		p.Type = orders.OrderTypeMarket
	case "limit", "Limit":
		p.Type = orders.OrderTypeLimit
	default:
		return p, &fieldError{"type", req.Type}
	}

	direction, err := parseDirection(req.Direction)
	if err != nil {
		return p, err
	}
	p.Direction = direction

	if p.AmountIn, err = parseBig("amount_in", req.AmountIn); err != nil {
		return p, err
	}
	if p.Leverage, err = parseBig("leverage", req.Leverage); err != nil {
		return p, err
	}
	if req.TriggerPrice != "" {
		if p.TriggerPrice, err = parseBig("trigger_price", req.TriggerPrice); err != nil {
			return p, err
		}
	}
	if req.LimitPrice != "" {
		if p.LimitPrice, err = parseBig("limit_price", req.LimitPrice); err != nil {
			return p, err
		}
	}
	if req.StopTrigger != "" {
		if p.StopTrigger, err = parseBig("stop_trigger", req.StopTrigger); err != nil {
			return p, err
		}
	}
	if req.StopLimit != "" {
		if p.StopLimit, err = parseBig("stop_limit", req.StopLimit); err != nil {
			return p, err
		}
	}
	if req.TakeTrigger != "" {
		if p.TakeTrigger, err = parseBig("take_trigger", req.TakeTrigger); err != nil {
			return p, err
		}
	}
	if req.TakePrice != "" {
		if p.TakePrice, err = parseBig("take_price", req.TakePrice); err != nil {
			return p, err
		}
	}
	if req.Expiration != "" {
		at, err := time.Parse(time.RFC3339, req.Expiration)
		if err != nil {
			return p, &fieldError{"expiration", req.Expiration}
		}
		p.Expiration = at
	}
	return p, nil
}

type fieldError struct {
	field string
	value string
}

func (e *fieldError) Error() string {
	return e.field + ": invalid value " + strconv.Quote(e.value)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req orderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	params, err := req.params()
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := s.deps.Orders.CreateOrder(r.Context(), from, collateral.Address(req.Holder), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"order_id": id})
}

func (s *Server) handleOrderData(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ord, err := s.deps.Orders.OrderData(id)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]interface{}{
		"order_id":      ord.ID,
		"holder":        string(ord.Holder),
		"type":          ord.Type.String(),
		"direction":     ord.Direction.String(),
		"trigger_price": ord.TriggerPrice.String(),
		"amount_in":     ord.AmountIn.String(),
		"leverage":      ord.Leverage.String(),
		"status":        ord.Status.String(),
	}
	if ord.StopTrigger != nil {
		resp["stop_trigger"] = ord.StopTrigger.String()
	}
	if ord.TakeTrigger != nil {
		resp["take_trigger"] = ord.TakeTrigger.String()
	}
	if !ord.Expiration.IsZero() {
		resp["expiration"] = ord.Expiration.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdatePendingOrder(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := orderID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req orderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	params, err := req.params()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Orders.UpdatePendingOrder(r.Context(), from, id, params); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

// orderAction adapts the uniform (ctx, caller, id) entrypoints.
func (s *Server) orderAction(call func(r *http.Request, from collateral.Address, id uint64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, err := caller(r)
		if err != nil {
			writeError(w, err)
			return
		}
		id, err := orderID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := call(r, from, id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
	}
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	s.orderAction(func(r *http.Request, from collateral.Address, id uint64) error {
		return s.deps.Orders.CancelOrder(r.Context(), from, id)
	})(w, r)
}

func (s *Server) handleExecuteLimitOrder(w http.ResponseWriter, r *http.Request) {
	s.orderAction(func(r *http.Request, from collateral.Address, id uint64) error {
		return s.deps.Orders.ExecuteLimitOrder(r.Context(), from, id)
	})(w, r)
}

func (s *Server) handleExecuteCloseOrder(w http.ResponseWriter, r *http.Request) {
	s.orderAction(func(r *http.Request, from collateral.Address, id uint64) error {
		return s.deps.Orders.ExecuteCloseOrder(r.Context(), from, id)
	})(w, r)
}

func (s *Server) handleTriggerStopLoss(w http.ResponseWriter, r *http.Request) {
	s.orderAction(func(r *http.Request, from collateral.Address, id uint64) error {
		return s.deps.Orders.TriggerStopLoss(r.Context(), from, id)
	})(w, r)
}

func (s *Server) handleTriggerTakeProfit(w http.ResponseWriter, r *http.Request) {
	s.orderAction(func(r *http.Request, from collateral.Address, id uint64) error {
		return s.deps.Orders.TriggerTakeProfit(r.Context(), from, id)
	})(w, r)
}

type orderAmountRequest struct {
	UsdAmount string `json:"usd_amount,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Leverage  string `json:"leverage,omitempty"`
}

func (s *Server) handleIncreaseActiveOrder(w http.ResponseWriter, r *http.Request) {
	s.orderAmountAction(w, r, func(r *http.Request, from collateral.Address, id uint64, req orderAmountRequest) error {
		usd, err := parseBig("usd_amount", req.UsdAmount)
		if err != nil {
			return err
		}
		lev, err := parseBig("leverage", req.Leverage)
		if err != nil {
			return err
		}
		return s.deps.Orders.IncreaseActiveOrder(r.Context(), from, id, usd, lev)
	})
}

func (s *Server) handleDecreaseActiveOrder(w http.ResponseWriter, r *http.Request) {
	s.orderAmountAction(w, r, func(r *http.Request, from collateral.Address, id uint64, req orderAmountRequest) error {
		usd, err := parseBig("usd_amount", req.UsdAmount)
		if err != nil {
			return err
		}
		lev, err := parseBig("leverage", req.Leverage)
		if err != nil {
			return err
		}
		return s.deps.Orders.DecreaseActiveOrder(r.Context(), from, id, usd, lev)
	})
}

func (s *Server) handleOrderAddMargin(w http.ResponseWriter, r *http.Request) {
	s.orderAmountAction(w, r, func(r *http.Request, from collateral.Address, id uint64, req orderAmountRequest) error {
		amount, err := parseBig("amount", req.Amount)
		if err != nil {
			return err
		}
		return s.deps.Orders.ExecuteAddMargin(r.Context(), from, id, amount)
	})
}

func (s *Server) handleOrderRemoveMargin(w http.ResponseWriter, r *http.Request) {
	s.orderAmountAction(w, r, func(r *http.Request, from collateral.Address, id uint64, req orderAmountRequest) error {
		amount, err := parseBig("amount", req.Amount)
		if err != nil {
			return err
		}
		return s.deps.Orders.ExecuteRemoveMargin(r.Context(), from, id, amount)
	})
}

func (s *Server) orderAmountAction(w http.ResponseWriter, r *http.Request, call func(r *http.Request, from collateral.Address, id uint64, req orderAmountRequest) error) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := orderID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req orderAmountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := call(r, from, id, req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

// --- Event log ---

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	from := int64(0)
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, &fieldError{"from", v})
			return
		}
		from = parsed
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 1000 {
			writeError(w, &fieldError{"limit", v})
			return
		}
		limit = parsed
	}

	rows, err := s.deps.Reader.EventsFrom(r.Context(), from, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "event log unavailable", Code: http.StatusInternalServerError})
		return
	}
	type eventJSON struct {
		Sequence  int64           `json:"sequence"`
		EventID   string          `json:"event_id"`
		EventType string          `json:"event_type"`
		Payload   json.RawMessage `json:"payload"`
		Timestamp time.Time       `json:"timestamp"`
	}
	out := make([]eventJSON, 0, len(rows))
	for _, row := range rows {
		out = append(out, eventJSON{
			Sequence:  row.Sequence,
			EventID:   row.EventID,
			EventType: row.EventType,
			Payload:   row.Payload,
			Timestamp: row.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
