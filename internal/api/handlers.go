package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"golang-settlement-reconciler/internal/calendar"
	"golang-settlement-reconciler/internal/models"
	"golang-settlement-reconciler/internal/reconciler"
	"golang-settlement-reconciler/pkg/errors"
	"golang-settlement-reconciler/pkg/logger"

	"github.com/go-chi/chi/v5"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 32 << 20

// Store is the storage the handlers read directly.
type Store interface {
	Ping(ctx context.Context) error
	ListFeeRules(ctx context.Context) ([]models.FeeRule, error)
	InsertFeeRules(ctx context.Context, rules []models.FeeRule) (int, error)
	FetchSales(ctx context.Context, merchantID string, start, end time.Time) ([]models.Transaction, error)
}

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	service *reconciler.Service
	store   Store
	logger  logger.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(service *reconciler.Service, store Store, log logger.Logger) *Handlers {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Handlers{
		service: service,
		store:   store,
		logger:  log.WithComponent("api"),
	}
}

// --- helpers ---

type errorResponse struct {
	Error      string         `json:"error"`
	Category   string         `json:"category,omitempty"`
	Code       string         `json:"code,omitempty"`
	Suggestion string         `json:"suggestion,omitempty"`
	Context    errors.Context `json:"context,omitempty"`
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}

// writeFailure maps application errors to HTTP statuses.
func (h *Handlers) writeFailure(w http.ResponseWriter, err error) {
	re, ok := errors.AsReconcilerError(err)
	if !ok {
		h.logger.WithError(err).Error("Request failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusInternalServerError
	switch re.Category {
	case errors.CategoryValidation, errors.CategoryParse:
		status = http.StatusBadRequest
	case errors.CategoryReconciliation:
		status = http.StatusUnprocessableEntity
	case errors.CategoryStorage:
		if re.Code == errors.CodeInvalidTable || re.Code == errors.CodeBatchTooLarge {
			status = http.StatusBadRequest
		}
	}
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).Error("Request failed")
	}

	h.writeJSON(w, status, errorResponse{
		Error:      re.Message,
		Category:   string(re.Category),
		Code:       string(re.Code),
		Suggestion: re.Suggestion,
		Context:    re.Context,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return errors.ValidationError(errors.CodeInvalidData, "body", nil, err).
			WithSuggestion("Send a JSON object matching the endpoint schema")
	}
	return nil
}

func parseDateParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, errors.ValidationError(errors.CodeMissingField, name, nil, nil)
	}
	d, err := calendar.ParseDate(raw)
	if err != nil {
		return time.Time{}, errors.ValidationError(errors.CodeInvalidDate, name, raw, err)
	}
	return d, nil
}

// --- Health ---

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.WithError(err).Warn("Health check failed")
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Fee rules ---

func (h *Handlers) ListFeeRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.ListFeeRules(r.Context())
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	if rules == nil {
		rules = []models.FeeRule{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules, "total": len(rules)})
}

type registerFeeRulesRequest struct {
	Rules []models.FeeRule `json:"rules"`
}

func (h *Handlers) RegisterFeeRules(w http.ResponseWriter, r *http.Request) {
	var req registerFeeRulesRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeFailure(w, err)
		return
	}
	if len(req.Rules) == 0 {
		h.writeFailure(w, errors.ValidationError(errors.CodeMissingField, "rules", nil, nil))
		return
	}

	n, err := h.store.InsertFeeRules(r.Context(), req.Rules)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"inserted": n, "rules": req.Rules})
}

// --- Predictions ---

type predictRequest struct {
	Sales   []models.Transaction `json:"sales"`
	Persist bool                 `json:"persist"`
}

func (h *Handlers) Predict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeFailure(w, err)
		return
	}

	report, err := h.service.Predict(r.Context(), req.Sales, req.Persist)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

type scheduleRequest struct {
	Sale models.Transaction `json:"sale"`
}

// Schedule previews the installment settlement dates of one sale without
// storing anything.
func (h *Handlers) Schedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeFailure(w, err)
		return
	}

	report, err := h.service.Schedule(r.Context(), req.Sale)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// --- Reconciliations ---

type reconcileRequest struct {
	MerchantID  string               `json:"merchantId"`
	Receivables []models.Transaction `json:"receivables"`
	Audit       bool                 `json:"audit"`
}

// Reconcile matches receivables of one merchant, or of every merchant named in
// the rows when merchantId is omitted.
func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeFailure(w, err)
		return
	}

	if req.MerchantID != "" {
		report, err := h.service.Reconcile(r.Context(), req.MerchantID, req.Receivables, req.Audit)
		if err != nil {
			h.writeFailure(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"reports": []*reconciler.ReconciliationReport{report}})
		return
	}

	reports, err := h.service.ReconcileMerchants(r.Context(), req.Receivables, req.Audit)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"reports": reports})
}

// --- Sales ---

// ListSales returns stored sales of a merchant with a sale date in [from, to].
func (h *Handlers) ListSales(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantID")

	from, err := parseDateParam(r, "from")
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	to, err := parseDateParam(r, "to")
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	if to.Before(from) {
		h.writeFailure(w, errors.ValidationError(errors.CodeOutOfRange, "to", calendar.FormatISO(to), nil).
			WithSuggestion("'to' must not be before 'from'"))
		return
	}

	sales, err := h.store.FetchSales(r.Context(), merchantID, from, to)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	if sales == nil {
		sales = []models.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"sales": sales, "total": len(sales)})
}

// --- Calendar ---

type holiday struct {
	Date string `json:"date"`
	Name string `json:"name"`
}

func (h *Handlers) ListHolidays(w http.ResponseWriter, r *http.Request) {
	year := time.Now().Year()
	if raw := r.URL.Query().Get("year"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1900 || v > 2200 {
			h.writeFailure(w, errors.ValidationError(errors.CodeOutOfRange, "year", raw, err))
			return
		}
		year = v
	}

	var out []holiday
	for md, name := range calendar.Holidays() {
		out = append(out, holiday{
			Date: calendar.FormatISO(calendar.Date(year, md.Month, md.Day)),
			Name: name,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"year": year, "holidays": out})
}

// NextBusinessDay returns the business day on or after date, or the date n
// business days later when days is given.
func (h *Handlers) NextBusinessDay(w http.ResponseWriter, r *http.Request) {
	date, err := parseDateParam(r, "date")
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	result := calendar.NextBusinessDay(date)
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeFailure(w, errors.ValidationError(errors.CodeOutOfRange, "days", raw, err))
			return
		}
		result = calendar.AddBusinessDays(date, n)
	}

	resp := map[string]interface{}{
		"date":          calendar.FormatISO(date),
		"businessDay":   calendar.FormatISO(result),
		"isBusinessDay": calendar.IsBusinessDay(date),
	}
	if name, ok := calendar.HolidayName(date); ok {
		resp["holiday"] = name
	}
	h.writeJSON(w, http.StatusOK, resp)
}
