package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"fuelwatch/internal/fuel"
	"fuelwatch/internal/subscription"
)

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, errorResponse{Error: msg, Details: details})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePrices serves the cached level and weekly-change series. With
// ?refresh=true the upstream is refetched regardless of TTL.
func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	force := false
	if raw := r.URL.Query().Get("refresh"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid refresh parameter", raw)
			return
		}
		force = parsed
	}

	snapshot, err := s.cache.Snapshot(r.Context(), force)
	if err != nil {
		s.log.Error().Err(err).Msg("price snapshot unavailable")
		writeError(w, http.StatusInternalServerError, "fuel price data unavailable", err.Error())
		return
	}
	if snapshot.Level == nil {
		snapshot.Level = fuel.Series{}
	}
	if snapshot.Change == nil {
		snapshot.Change = fuel.Series{}
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleForecast proxies the forecast series; upstream faults degrade to an
// empty array rather than an error status.
func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.forecast.Forecast(r.Context()))
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter required", "")
		return
	}

	rules, err := s.subs.List(r.Context(), owner)
	if err != nil {
		s.log.Error().Err(err).Str("owner", owner).Msg("list subscriptions failed")
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

type addSubscriptionRequest struct {
	Owner     string          `json:"owner"`
	ChatID    string          `json:"chat_id"`
	Fuel      fuel.Grade      `json:"fuel"`
	Condition string          `json:"condition"`
	Threshold decimal.Decimal `json:"threshold"`
	Frequency string          `json:"frequency"`
}

func (s *Server) handleAddSubscription(w http.ResponseWriter, r *http.Request) {
	var req addSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required", "")
		return
	}

	rule := subscription.Subscription{
		Fuel:      req.Fuel,
		Condition: subscription.Condition(req.Condition),
		Threshold: req.Threshold,
		Frequency: subscription.Frequency(req.Frequency),
	}
	if err := rule.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription", err.Error())
		return
	}

	if err := s.subs.Add(r.Context(), owner, strings.TrimSpace(req.ChatID), rule); err != nil {
		s.log.Error().Err(err).Str("owner", owner).Msg("add subscription failed")
		writeError(w, http.StatusInternalServerError, "failed to store subscription", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleRemoveSubscription(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	rawIndex := chi.URLParam(r, "index")

	index, err := strconv.Atoi(rawIndex)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription index", rawIndex)
		return
	}

	if err := s.subs.Remove(r.Context(), owner, index); err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found", "")
			return
		}
		s.log.Error().Err(err).Str("owner", owner).Msg("remove subscription failed")
		writeError(w, http.StatusInternalServerError, "failed to remove subscription", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}
