package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"outbound-router/internal/clientconfig"
	"outbound-router/internal/common/errors"
	"outbound-router/internal/common/logging"
	"outbound-router/internal/locks"
	"outbound-router/internal/redis"
	"outbound-router/internal/storage"
)

const (
	maxBodyBytes = 1 << 20
	lockTimeout  = 10 * time.Second
)

type configView struct {
	Config    clientconfig.Raw `json:"config"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func maskRecord(rec storage.Record) configView {
	return configView{Config: clientconfig.MaskRaw(rec.Raw), UpdatedAt: rec.UpdatedAt}
}

// requireStore answers 409 when configurations are file-managed.
func (h *Handlers) requireStore(w http.ResponseWriter) bool {
	if h.store == nil {
		h.sendMessage(w, http.StatusConflict, "configurations are managed by the configuration file")
		return false
	}
	return true
}

// ListConfigs returns every stored configuration with secrets masked.
func (h *Handlers) ListConfigs(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	records, err := h.store.List(r.Context())
	if err != nil {
		h.sendError(w, err)
		return
	}
	views := make([]configView, len(records))
	for i, rec := range records {
		views[i] = maskRecord(rec)
	}
	h.sendJSONResponse(w, http.StatusOK, views)
}

// GetConfig returns one stored configuration with secrets masked.
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	rec, err := h.store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSONResponse(w, http.StatusOK, maskRecord(rec))
}

// PutConfig creates or replaces a configuration. The record is registered
// with the factory first, so a configuration that cannot be built is never
// stored. Masked secrets sent back unchanged keep their stored value.
func (h *Handlers) PutConfig(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	id := mux.Vars(r)["id"]

	var raw clientconfig.Raw
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		h.sendError(w, errors.ValidationError("invalid JSON body").WithCause(err))
		return
	}
	if raw.ID == "" {
		raw.ID = id
	}
	if raw.ID != id {
		h.sendError(w, errors.FieldError("id", "does not match the path", nil))
		return
	}

	unlock, err := h.lockConfig(r.Context(), id)
	if err != nil {
		h.sendError(w, err)
		return
	}
	defer unlock()

	existing, err := h.store.Get(r.Context(), id)
	found := err == nil
	if err != nil && !errors.IsType(err, errors.ErrTypeNotFound) {
		h.sendError(w, err)
		return
	}
	if err := restoreSecrets(&raw, existing.Raw, found); err != nil {
		h.sendError(w, err)
		return
	}

	if _, err := h.rec.Apply(raw); err != nil {
		h.sendError(w, err)
		return
	}
	if err := h.store.Save(r.Context(), raw); err != nil {
		h.rollback(id, existing.Raw, found)
		h.sendError(w, err)
		return
	}
	h.notify(r.Context(), redis.OpUpsert, id)

	status := http.StatusOK
	if !found {
		status = http.StatusCreated
	}
	h.sendJSONResponse(w, status, configView{Config: clientconfig.MaskRaw(raw), UpdatedAt: time.Now().UTC()})
}

// rollback puts the live client of id back in line with the store after a
// failed save: the stored record is re-applied, or the client removed when
// there is none or it no longer applies.
func (h *Handlers) rollback(id string, stored clientconfig.Raw, found bool) {
	if found {
		if _, err := h.rec.Apply(stored); err == nil {
			return
		}
	}
	if err := h.rec.Remove(id); err != nil {
		h.logger.Error("Failed to restore client after a failed save", err, logging.ConfigID(id))
	}
}

// lockConfig holds the lock of id across the read, apply and save of a
// mutation, so concurrent writers of one id cannot interleave.
func (h *Handlers) lockConfig(ctx context.Context, id string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	lock, err := h.locker.Acquire(lockCtx, locks.ConfigKey(id))
	if err != nil {
		return nil, err
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			h.logger.Warn("Failed to release configuration lock",
				logging.ConfigID(id),
				logging.Err(err),
			)
		}
	}, nil
}

// restoreSecrets replaces masked password fields with the stored values.
func restoreSecrets(raw *clientconfig.Raw, stored clientconfig.Raw, found bool) error {
	fields := []struct {
		name    string
		current *string
		stored  string
	}{
		{"proxy_password", &raw.ProxyPassword, stored.ProxyPassword},
		{"password", &raw.Password, stored.Password},
		{"key_store_password", &raw.KeyStorePassword, stored.KeyStorePassword},
		{"trust_store_password", &raw.TrustStorePassword, stored.TrustStorePassword},
	}
	for _, f := range fields {
		if *f.current != clientconfig.Mask {
			continue
		}
		if !found {
			return errors.FieldError(f.name, "is masked but no stored value exists", nil)
		}
		*f.current = f.stored
	}
	return nil
}

// DeleteConfig removes a stored configuration and its client.
func (h *Handlers) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	id := mux.Vars(r)["id"]

	unlock, err := h.lockConfig(r.Context(), id)
	if err != nil {
		h.sendError(w, err)
		return
	}
	defer unlock()

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.sendError(w, err)
		return
	}
	if err := h.rec.Remove(id); err != nil {
		h.sendError(w, err)
		return
	}
	h.notify(r.Context(), redis.OpDelete, id)
	w.WriteHeader(http.StatusNoContent)
}

type syncResponse struct {
	Registered []string          `json:"registered"`
	Unchanged  []string          `json:"unchanged"`
	Removed    []string          `json:"removed"`
	Failed     map[string]string `json:"failed"`
}

// Sync reloads every configuration from its source.
func (h *Handlers) Sync(w http.ResponseWriter, r *http.Request) {
	res, err := h.resync(r.Context())
	if err != nil {
		h.sendError(w, err)
		return
	}

	resp := syncResponse{
		Registered: nonNil(res.Registered),
		Unchanged:  nonNil(res.Unchanged),
		Removed:    nonNil(res.Removed),
		Failed:     make(map[string]string, len(res.Failed)),
	}
	for id, err := range res.Failed {
		resp.Failed[id] = err.Error()
	}
	sort.Strings(resp.Registered)
	h.sendJSONResponse(w, http.StatusOK, resp)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// notify tells other instances about a change. The local instance has
// already applied it; a failed publish is healed by their next resync.
func (h *Handlers) notify(ctx context.Context, op, id string) {
	if h.notifier == nil {
		return
	}
	if err := h.notifier.Notify(ctx, op, id); err != nil {
		h.logger.Warn("Failed to publish configuration change",
			logging.ConfigID(id),
			logging.String("op", op),
			logging.Err(err),
		)
	}
}
