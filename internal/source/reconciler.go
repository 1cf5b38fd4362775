// Package source keeps the client factory in step with the configuration
// records of a file or a store. Every source funnels through a Reconciler,
// which registers new and changed records and unregisters removed ones.
package source

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"outbound-router/internal/clientconfig"
	"outbound-router/internal/common/errors"
	"outbound-router/internal/common/logging"
)

// Registrar is the part of the client factory a Reconciler drives.
type Registrar interface {
	RegisterRaw(raw clientconfig.Raw) error
	Unregister(id string) error
}

// Result summarizes one Sync.
type Result struct {
	Registered []string         `json:"registered,omitempty"`
	Unchanged  []string         `json:"unchanged,omitempty"`
	Removed    []string         `json:"removed,omitempty"`
	Failed     map[string]error `json:"-"`
}

// Err joins the per-id failures, or returns nil.
func (r Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	msg := fmt.Sprintf("%d configuration(s) failed:", len(ids))
	for _, id := range ids {
		msg += fmt.Sprintf(" %s: %v;", id, r.Failed[id])
	}
	return errors.ConfigError(msg[:len(msg)-1])
}

// Reconciler registers records with a Registrar, skipping records whose
// content has not changed since they were last applied.
type Reconciler struct {
	target Registrar
	logger logging.Logger

	mu      sync.Mutex
	applied map[string]string // id -> fingerprint
}

// NewReconciler creates a Reconciler driving target.
func NewReconciler(target Registrar, logger logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Reconciler{
		target:  target,
		logger:  logger,
		applied: make(map[string]string),
	}
}

// Fingerprint identifies the content of a record.
func Fingerprint(raw clientconfig.Raw) string {
	data, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Sync makes the registered set equal to raws. A record that fails to
// register keeps whatever client was running under its id. Ids that are no
// longer present are unregistered.
func (r *Reconciler) Sync(raws []clientconfig.Raw) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := Result{Failed: make(map[string]error)}
	seen := make(map[string]bool, len(raws))

	for _, raw := range raws {
		if seen[raw.ID] {
			res.Failed[raw.ID] = errors.FieldError("id", fmt.Sprintf("duplicate id %q", raw.ID), nil)
			continue
		}
		seen[raw.ID] = true

		changed, err := r.applyLocked(raw)
		switch {
		case err != nil:
			res.Failed[raw.ID] = err
		case changed:
			res.Registered = append(res.Registered, raw.ID)
		default:
			res.Unchanged = append(res.Unchanged, raw.ID)
		}
	}

	for id := range r.applied {
		if seen[id] {
			continue
		}
		if err := r.removeLocked(id); err != nil {
			res.Failed[id] = err
			continue
		}
		res.Removed = append(res.Removed, id)
	}
	sort.Strings(res.Removed)

	r.logger.Info("Configuration sync finished",
		logging.Int("registered", len(res.Registered)),
		logging.Int("unchanged", len(res.Unchanged)),
		logging.Int("removed", len(res.Removed)),
		logging.Int("failed", len(res.Failed)),
	)
	return res
}

// Apply registers raw unless an identical record is already applied.
func (r *Reconciler) Apply(raw clientconfig.Raw) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyLocked(raw)
}

func (r *Reconciler) applyLocked(raw clientconfig.Raw) (bool, error) {
	fp := Fingerprint(raw)
	if prev, ok := r.applied[raw.ID]; ok && prev == fp {
		return false, nil
	}
	if err := r.target.RegisterRaw(raw); err != nil {
		r.logger.Warn("Configuration rejected",
			logging.ConfigID(raw.ID),
			logging.Err(err),
		)
		return false, err
	}
	r.applied[raw.ID] = fp
	return true, nil
}

// Remove unregisters id. Ids that are not registered are ignored.
func (r *Reconciler) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

func (r *Reconciler) removeLocked(id string) error {
	err := r.target.Unregister(id)
	if err != nil && !errors.IsType(err, errors.ErrTypeNotFound) {
		return err
	}
	delete(r.applied, id)
	return nil
}

// Applied returns the ids currently applied, sorted.
func (r *Reconciler) Applied() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.applied))
	for id := range r.applied {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
