package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/chainbandit/internal/bandit"
	"github.com/alanyoungcy/chainbandit/internal/domain"
)

// BanditHandler exposes a chain-selection strategy over HTTP.
type BanditHandler struct {
	strategy bandit.Strategy
	logger   *slog.Logger
}

// NewBanditHandler creates a BanditHandler for strategy.
func NewBanditHandler(strategy bandit.Strategy, logger *slog.Logger) *BanditHandler {
	return &BanditHandler{strategy: strategy, logger: logger.With(slog.String("handler", "bandit"))}
}

type stateResponse struct {
	Strategy string            `json:"strategy"`
	Chains   []domain.ArmState `json:"chains"`
}

type chainResponse struct {
	Chain string `json:"chain"`
}

type updateRequest struct {
	Chain   string   `json:"chain"`
	Success bool     `json:"success"`
	Reward  *float64 `json:"reward,omitempty"`
}

type resetRequest struct {
	Chain string `json:"chain,omitempty"`
}

type decayRequest struct {
	Factor float64 `json:"factor"`
}

// State returns every chain's arm state.
// GET /api/bandit/state
func (h *BanditHandler) State(w http.ResponseWriter, r *http.Request) {
	states, err := h.strategy.State(r.Context())
	if err != nil {
		h.fail(w, r, "read state", err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{Strategy: h.strategy.Name(), Chains: states})
}

// Best returns the chain with the highest estimated win rate.
// GET /api/bandit/best
func (h *BanditHandler) Best(w http.ResponseWriter, r *http.Request) {
	chain, err := h.strategy.BestChain(r.Context())
	if err != nil {
		h.fail(w, r, "best chain", err)
		return
	}
	writeJSON(w, http.StatusOK, chainResponse{Chain: chain})
}

// Decisions returns the most recent decisions, oldest first.
// GET /api/bandit/decisions?limit=50
func (h *BanditHandler) Decisions(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.strategy.(bandit.HistoryRecorder)
	if !ok {
		writeError(w, http.StatusNotImplemented, "strategy keeps no decision history")
		return
	}
	hist := rec.DecisionHistory()
	if limit := parseListOpts(r).Limit; len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": hist})
}

// Choose runs one selection.
// POST /api/bandit/choose
func (h *BanditHandler) Choose(w http.ResponseWriter, r *http.Request) {
	chain, err := h.strategy.ChooseChain(r.Context())
	if err != nil {
		h.fail(w, r, "choose chain", err)
		return
	}
	writeJSON(w, http.StatusOK, chainResponse{Chain: chain})
}

// Update feeds back one outcome. Chains outside the roster are accepted and
// ignored, matching the engine.
// POST /api/bandit/update
func (h *BanditHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Chain == "" {
		writeError(w, http.StatusBadRequest, "chain is required")
		return
	}
	err := h.strategy.Observe(r.Context(), domain.Outcome{Chain: req.Chain, Success: req.Success, Reward: req.Reward})
	if err != nil {
		h.fail(w, r, "update", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reset restores one chain, or all chains when none is named, to the prior.
// POST /api/bandit/reset
func (h *BanditHandler) Reset(w http.ResponseWriter, r *http.Request) {
	rs, ok := h.strategy.(bandit.Resetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "strategy cannot be reset")
		return
	}
	var req resetRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var err error
	if req.Chain == "" {
		err = rs.ResetAll(r.Context())
	} else {
		err = rs.ResetChain(r.Context(), req.Chain)
	}
	if err != nil {
		h.fail(w, r, "reset", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Decay discounts accumulated evidence by factor.
// POST /api/bandit/decay
func (h *BanditHandler) Decay(w http.ResponseWriter, r *http.Request) {
	d, ok := h.strategy.(bandit.Decayer)
	if !ok {
		writeError(w, http.StatusNotImplemented, "strategy does not support decay")
		return
	}
	var req decayRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := d.Decay(r.Context(), req.Factor); err != nil {
		h.fail(w, r, "decay", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps engine errors to status codes: bad input is 400, an unknown
// chain 404, a busy lock 409, a failing store 503, everything else 500.
func (h *BanditHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	var cfgErr *bandit.ConfigurationError
	switch {
	case errors.Is(err, domain.ErrUnknownChain):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, "bandit state is locked by another writer")
	case errors.Is(err, domain.ErrStoreUnavailable):
		h.logger.ErrorContext(r.Context(), "arm store unavailable",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusServiceUnavailable, "arm store unavailable")
	default:
		h.logger.ErrorContext(r.Context(), "bandit request failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}
