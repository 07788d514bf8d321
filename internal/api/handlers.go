// Package api exposes the time-series query contract and order publication
// over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"mokametrics-ingest/internal/model"
	"mokametrics-ingest/internal/tsdb"
)

// jsonOut encodes with full float precision.
var jsonOut = jsoniter.ConfigCompatibleWithStandardLibrary

type Querier interface {
	Query(ctx context.Context, req tsdb.QueryRequest) ([]tsdb.Row, error)
}

type OrderLoader interface {
	LoadOrderForPublish(ctx context.Context, orderID int64) (*model.Order, string, map[int64]model.IndustrialFacility, error)
}

type OrderPublisher interface {
	PublishOrder(ctx context.Context, order *model.Order, customerName string, facilities map[int64]model.IndustrialFacility) error
}

type Handlers struct {
	Query     Querier
	Orders    OrderLoader
	Publisher OrderPublisher
	Logger    *zap.SugaredLogger
}

// Register mounts the handlers on mux. Handlers with a nil dependency are
// not mounted.
func (h *Handlers) Register(mux *http.ServeMux) {
	if h.Query != nil {
		mux.HandleFunc("GET /timeseries", h.queryTimeSeries)
	}
	if h.Orders != nil && h.Publisher != nil {
		mux.HandleFunc("POST /orders/{id}/publish", h.publishOrder)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonOut.NewEncoder(w).Encode(v)
}

// parseQuery reads a QueryRequest from URL parameters:
//
//	?measurement=cycleTime&tag.machine=M1&start=<rfc3339>&end=<rfc3339>
//	&fields=value&aggregate=mean&window=5m&limit=100
func parseQuery(r *http.Request) (tsdb.QueryRequest, error) {
	q := r.URL.Query()
	req := tsdb.QueryRequest{
		Measurement: q.Get("measurement"),
		Aggregate:   q.Get("aggregate"),
		Tags:        map[string]string{},
	}
	for key, vals := range q {
		if tag, ok := strings.CutPrefix(key, "tag."); ok && len(vals) > 0 {
			req.Tags[tag] = vals[0]
		}
	}
	if f := q.Get("fields"); f != "" {
		req.Fields = strings.Split(f, ",")
	}
	for name, dst := range map[string]**time.Time{"start": &req.Start, "end": &req.End} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return req, errors.New("invalid " + name + ": " + err.Error())
			}
			*dst = &t
		}
	}
	if v := q.Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return req, errors.New("invalid window: " + err.Error())
		}
		req.Window = d
	}
	if req.Aggregate != "" && req.Window <= 0 {
		return req, errors.New("aggregate requires a window")
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return req, errors.New("invalid limit")
		}
		req.Limit = n
	}
	return req, nil
}

func (h *Handlers) queryTimeSeries(w http.ResponseWriter, r *http.Request) {
	req, err := parseQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{err.Error()})
		return
	}
	rows, err := h.Query.Query(r.Context(), req)
	if err != nil {
		h.Logger.Warnw("time-series query failed", "measurement", req.Measurement, "error", err)
		writeJSON(w, http.StatusBadGateway, errorBody{err.Error()})
		return
	}
	if rows == nil {
		rows = []tsdb.Row{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handlers) publishOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{"invalid order id"})
		return
	}

	order, customer, facilities, err := h.Orders.LoadOrderForPublish(r.Context(), id)
	if errors.Is(err, model.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{err.Error()})
		return
	}
	if err != nil {
		h.Logger.Errorw("failed to load order", "order_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{"failed to load order"})
		return
	}

	if err := h.Publisher.PublishOrder(r.Context(), order, customer, facilities); err != nil {
		h.Logger.Errorw("failed to publish order", "order_id", id, "error", err)
		writeJSON(w, http.StatusBadGateway, errorBody{err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"orderId": id, "lots": len(order.Lots)})
}
