package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"outbound-router/internal/clientconfig"
	"outbound-router/internal/pooled"
)

const healthTimeout = 2 * time.Second

type clientView struct {
	ID      string                      `json:"id"`
	Rank    int                         `json:"rank"`
	Enabled bool                        `json:"enabled"`
	Default bool                        `json:"default"`
	Config  []clientconfig.DisplayField `json:"config"`
	Stats   pooled.Stats                `json:"stats"`
}

func viewOf(c *pooled.Client) clientView {
	cfg := c.Config()
	return clientView{
		ID:      c.ID(),
		Rank:    cfg.Rank,
		Enabled: cfg.Enabled,
		Default: c.IsDefault(),
		Config:  cfg.DisplayFields(),
		Stats:   c.Stats(),
	}
}

// Health reports whether the factory is active and the store reachable.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":  "ok",
		"clients": len(h.factory.Entries()),
	}
	status := http.StatusOK

	if h.factory.Closed() {
		resp["status"] = "shutting_down"
		status = http.StatusServiceUnavailable
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := h.store.Health(ctx); err != nil {
			resp["status"] = "degraded"
			resp["store"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp["store"] = "ok"
		}
	}

	h.sendJSONResponse(w, status, resp)
}

// ListClients returns the registered clients in evaluation order followed
// by the default client.
func (h *Handlers) ListClients(w http.ResponseWriter, r *http.Request) {
	entries := h.factory.Entries()
	views := make([]clientView, 0, len(entries)+1)
	for _, e := range entries {
		views = append(views, viewOf(e.Client))
	}
	views = append(views, viewOf(h.factory.Default()))
	h.sendJSONResponse(w, http.StatusOK, views)
}

// GetClient returns one registered client, or the default client for id "default".
func (h *Handlers) GetClient(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == clientconfig.DefaultID {
		h.sendJSONResponse(w, http.StatusOK, viewOf(h.factory.Default()))
		return
	}
	c, ok := h.factory.Lookup(id)
	if !ok {
		h.sendMessage(w, http.StatusNotFound, "client configuration "+id+" not found")
		return
	}
	h.sendJSONResponse(w, http.StatusOK, viewOf(c))
}

type requestConfigView struct {
	ConnectTimeoutMS           int64  `json:"connect_timeout_ms"`
	SocketTimeoutMS            int64  `json:"socket_timeout_ms"`
	ConnectionRequestTimeoutMS int64  `json:"connection_request_timeout_ms"`
	CookiePolicy               string `json:"cookie_policy"`
}

type resolveQuery struct {
	URL  string `json:"url" validate:"required,url,max=8192"`
	WSTo string `json:"ws_to" validate:"max=2048"`
}

type resolveResponse struct {
	URL           string            `json:"url"`
	WSTo          *string           `json:"ws_to,omitempty"`
	ClientID      string            `json:"client_id"`
	Default       bool              `json:"default"`
	RequestConfig requestConfigView `json:"request_config"`
}

// Resolve reports which client a call would use. With a ws_to parameter
// (even an empty one) the call is treated as a web-service call.
func (h *Handlers) Resolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := resolveQuery{URL: q.Get("url"), WSTo: q.Get("ws_to")}
	if err := validateStruct(query); err != nil {
		h.sendError(w, err)
		return
	}
	target := query.URL

	var (
		c    *pooled.Client
		err  error
		wsTo *string
	)
	if q.Has("ws_to") {
		wsTo = &query.WSTo
		c, err = h.factory.GetForService(target, query.WSTo)
	} else {
		c, err = h.factory.Get(target)
	}
	if err != nil {
		h.sendError(w, err)
		return
	}

	rc := c.RequestConfig()
	h.sendJSONResponse(w, http.StatusOK, resolveResponse{
		URL:      target,
		WSTo:     wsTo,
		ClientID: c.ID(),
		Default:  c.IsDefault(),
		RequestConfig: requestConfigView{
			ConnectTimeoutMS:           rc.ConnectTimeout.Milliseconds(),
			SocketTimeoutMS:            rc.SocketTimeout.Milliseconds(),
			ConnectionRequestTimeoutMS: rc.ConnectionRequestTimeout.Milliseconds(),
			CookiePolicy:               string(rc.CookiePolicy),
		},
	})
}
