package handlers

import (
	"net/http"
	"strings"

	"pricehub/internal/service"
	"pricehub/pkg/httputil"

	"github.com/go-chi/chi/v5"
	"gitlab.com/nevasik7/alerting/logger"
)

type Handler struct {
	Log logger.Logger
	Svc *service.PriceService
}

func New(log logger.Logger, svc *service.PriceService) *Handler {
	if svc == nil {
		panic("price service cannot be nil")
	}

	return &Handler{Log: log, Svc: svc}
}

// Price returns the best-known USD price for one key; 0 means unknown
func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		_ = httputil.Error(w, r, http.StatusBadRequest, "bad_request", "key is required", nil)
		return
	}

	price := h.Svc.GetPrice(r.Context(), key)
	if err := httputil.JSON(w, http.StatusOK, map[string]any{
		"key":       key,
		"price_usd": price,
	}, nil); err != nil {
		h.Log.Errorf("Price handler error: %s", err.Error())
	}
}

// Prices resolves a comma-separated key list in one shot
func (h *Handler) Prices(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("keys")
	if raw == "" {
		_ = httputil.Error(w, r, http.StatusBadRequest, "bad_request", "keys query parameter is required", nil)
		return
	}

	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}

	prices := h.Svc.GetPrices(r.Context(), keys)
	if err := httputil.JSON(w, http.StatusOK, map[string]any{
		"prices": prices,
	}, nil); err != nil {
		h.Log.Errorf("Prices handler error: %s", err.Error())
	}
}

func (h *Handler) QuoteRate(w http.ResponseWriter, r *http.Request) {
	if err := httputil.JSON(w, http.StatusOK, map[string]any{
		"rate_usd": h.Svc.QuoteRate(),
		"age_sec":  h.Svc.QuoteRateAge().Seconds(),
	}, nil); err != nil {
		h.Log.Errorf("QuoteRate handler error: %s", err.Error())
	}
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if err := httputil.JSON(w, http.StatusOK, h.Svc.Stats(), nil); err != nil {
		h.Log.Errorf("Stats handler error: %s", err.Error())
	}
}

// ClearNegative drops the negative-cache entry for a key; used when a
// caller has out-of-band evidence the asset exists
func (h *Handler) ClearNegative(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		_ = httputil.Error(w, r, http.StatusBadRequest, "bad_request", "key is required", nil)
		return
	}

	h.Svc.ClearNegativeCache(key)
	h.Log.Infof("Negative cache cleared for %s", key)

	if err := httputil.JSON(w, http.StatusNoContent, nil, nil); err != nil {
		h.Log.Errorf("ClearNegative handler error: %s", err.Error())
	}
}
