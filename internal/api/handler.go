package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/quotaops/internal/quota"
	"github.com/punchamoorthee/quotaops/internal/service"
)

var (
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quotaops_calls_total",
		Help: "Total engine calls processed, labeled by status code",
	}, []string{"call", "status"})

	callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quotaops_call_duration_seconds",
		Help:    "Latency distribution of engine calls",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"call"})
)

// callHandler decodes one argument bundle and runs the engine call.
type callHandler func(ctx context.Context, args json.RawMessage) (interface{}, error)

// Handler dispatches named calls to the engine through a registry built
// once at construction time.
type Handler struct {
	service *service.Service
	calls   map[string]callHandler
}

func NewHandler(svc *service.Service) *Handler {
	h := &Handler{service: svc}
	h.calls = map[string]callHandler{
		"create_entity":               call(svc.CreateEntities),
		"set_entity_key":              call(svc.SetEntityKeys),
		"get_entity":                  call(svc.GetEntities),
		"list_entities":               call(svc.ListEntities),
		"release_entity":              call(svc.ReleaseEntities),
		"set_quota":                   call(svc.SetQuota),
		"add_quota":                   call(svc.AddQuota),
		"ack_serials":                 call(svc.AckSerials),
		"get_quota":                   call(svc.GetQuota),
		"get_holding":                 call(svc.GetHolding),
		"list_holdings":               call(svc.ListHoldings),
		"release_holding":             call(svc.ReleaseHoldings),
		"issue_commission":            call(svc.IssueCommission),
		"accept_commission":           callNoResult(svc.AcceptCommissions),
		"reject_commission":           callNoResult(svc.RejectCommissions),
		"get_pending_commissions":     call(svc.GetPendingCommissions),
		"resolve_pending_commissions": callNoResult(svc.ResolvePendingCommissions),
		"get_timeline":                call(svc.GetTimeline),
	}
	return h
}

func call[A, R any](fn func(context.Context, A) (R, error)) callHandler {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var args A
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, quota.InvalidData("malformed argument bundle: %v", err)
			}
		}
		return fn(ctx, args)
	}
}

func callNoResult[A any](fn func(context.Context, A) error) callHandler {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var args A
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, quota.InvalidData("malformed argument bundle: %v", err)
			}
		}
		return nil, fn(ctx, args)
	}
}

// Dispatch serves POST /api/v1/{call}.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["call"]
	fn, ok := h.calls[name]
	if !ok {
		respondError(w, name, http.StatusNotFound,
			&quota.Error{Code: quota.CodeInvalidData, Message: "unknown call " + name})
		return
	}
	timer := prometheus.NewTimer(callDuration.WithLabelValues(name))
	defer timer.ObserveDuration()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, name, http.StatusInternalServerError,
			&quota.Error{Code: quota.CodeInvalidData, Message: "stream read error"})
		return
	}
	result, err := fn(r.Context(), body)
	if err != nil {
		var qe *quota.Error
		if errors.As(err, &qe) {
			respondError(w, name, statusOf(qe.Code), qe)
			return
		}
		respondError(w, name, http.StatusInternalServerError,
			&quota.Error{Code: quota.CodeCorrupted, Message: "internal error"})
		return
	}
	respondJSON(w, name, http.StatusOK, map[string]interface{}{"result": result})
}

// statusOf translates stable engine codes into HTTP statuses. Callers
// on the wire are expected to key off the code, not the status.
func statusOf(code string) int {
	switch code {
	case quota.CodeNoEntity:
		return http.StatusNotFound
	case quota.CodeInvalidKey:
		return http.StatusUnauthorized
	case quota.CodeNoQuantity, quota.CodeNoCapacity,
		quota.CodeImportLimit, quota.CodeExportLimit, quota.CodeDuplicate:
		return http.StatusConflict
	case quota.CodeInvalidData:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, call string, code int, qe *quota.Error) {
	respondJSON(w, call, code, map[string]interface{}{"error": qe})
}

func respondJSON(w http.ResponseWriter, call string, code int, payload interface{}) {
	callsTotal.WithLabelValues(call, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
