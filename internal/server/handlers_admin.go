package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"vammengine/internal/collateral"
	"vammengine/internal/engine"
)

type setVmmRequest struct {
	AssetAmount string `json:"asset_amount"`
}

func (s *Server) handleSetVmm(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req setVmmRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseBig("asset_amount", req.AssetAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Engine.SetVmm(r.Context(), from, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

type addressRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleProposeAdmin(w http.ResponseWriter, r *http.Request) {
	s.adminAddressAction(w, r, func(from, target collateral.Address) error {
		if err := s.deps.Engine.ProposeAdmin(from, target); err != nil {
			return err
		}
		return s.deps.Orders.ProposeAdmin(from, target)
	})
}

func (s *Server) handleConfirmAdmin(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Engine.ConfirmAdmin(from); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Orders.ConfirmAdmin(from); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req statusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	status, err := parseStatus(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Engine.UpdateStatus(from, status); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Orders.UpdateStatus(from, status); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func parseStatus(s string) (engine.ContractStatus, error) {
	switch s {
	case "active", "Active":
		return engine.StatusActive, nil
	case "close_only", "CloseOnly":
		return engine.StatusCloseOnly, nil
	case "paused", "Paused":
		return engine.StatusPaused, nil
	default:
		return engine.StatusNotInitialized, &fieldError{"status", s}
	}
}

func (s *Server) handleAddManager(w http.ResponseWriter, r *http.Request) {
	s.adminAddressAction(w, r, func(from, target collateral.Address) error {
		if err := s.deps.Engine.AddPositionManager(from, target); err != nil {
			return err
		}
		return s.deps.Orders.AddPositionManager(from, target)
	})
}

func (s *Server) handleRemoveManager(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	target := collateral.Address(mux.Vars(r)["address"])
	if err := s.deps.Engine.RemovePositionManager(from, target); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Orders.RemovePositionManager(from, target); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *Server) handleUpdateFundManager(w http.ResponseWriter, r *http.Request) {
	s.adminAddressAction(w, r, func(from, target collateral.Address) error {
		if err := s.deps.Engine.UpdateFundManager(from, target); err != nil {
			return err
		}
		return s.deps.Orders.UpdateFundManager(from, target)
	})
}

func (s *Server) adminAddressAction(w http.ResponseWriter, r *http.Request, call func(from, target collateral.Address) error) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req addressRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Address == "" {
		writeError(w, &fieldError{"address", req.Address})
		return
	}
	if err := call(from, collateral.Address(req.Address)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

type fundingPeriodRequest struct {
	Period string `json:"period"`
}

func (s *Server) handleUpdateFundingPeriod(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req fundingPeriodRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	period, err := time.ParseDuration(req.Period)
	if err != nil {
		writeError(w, &fieldError{"period", req.Period})
		return
	}
	if err := s.deps.Engine.UpdateFundingPeriod(from, period); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

type feesRequest struct {
	FeePct int64 `json:"fee_pct"`
}

func (s *Server) handleUpdateFees(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req feesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Engine.UpdateTransactionFees(from, req.FeePct); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

type decimalsRequest struct {
	Decimals int `json:"decimals"`
}

func (s *Server) handleUpdateDecimals(w http.ResponseWriter, r *http.Request) {
	from, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req decimalsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Engine.UpdateDecimal(from, req.Decimals); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}
