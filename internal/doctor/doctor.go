// Package doctor validates conductor configuration and the local
// environment: backend binaries on PATH, a writable ledger location, and
// sane policy windows.
package doctor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/CarpseDeam/Claude-Conductor/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration against the local environment.
type Doctor struct {
	cfg *config.Config

	// lookPath is swappable in tests.
	lookPath func(string) (string, error)
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateLedger(r)
	d.validateGuard(r)
	d.validateBackends(r)
	d.checkBackendBinaries(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateLedger(r *Result) {
	if d.cfg.Ledger.Path == "" {
		d.addError(r, "ledger", "ledger.path", "ledger.path is required")
		return
	}
	dir := filepath.Dir(d.cfg.Ledger.Path)
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		d.addError(r, "ledger", "ledger.path",
			fmt.Sprintf("ledger directory %q is not a directory", dir))
	}
}

func (d *Doctor) validateGuard(r *Result) {
	if d.cfg.Guard.StaleAfter <= 0 {
		d.addError(r, "guard", "guard.stale_after", "stale_after must be positive")
	}
	if d.cfg.Guard.DedupeWindow <= 0 {
		d.addError(r, "guard", "guard.dedupe_window", "dedupe_window must be positive")
	}
	if d.cfg.Guard.StaleAfter > 0 && d.cfg.Guard.StaleAfter < time.Minute {
		d.addWarning(r, "guard", "guard.stale_after",
			"stale_after under a minute will reclaim tasks that are still working")
	}
	if d.cfg.Guard.StaleAfter > 0 && d.cfg.Guard.DedupeWindow > d.cfg.Guard.StaleAfter {
		d.addWarning(r, "guard", "guard.dedupe_window",
			"dedupe_window longer than stale_after; retries of reclaimed tasks may be suppressed")
	}
}

func (d *Doctor) validateBackends(r *Result) {
	if len(d.cfg.Backends) == 0 {
		d.addError(r, "backends", "backends", "at least one backend is required")
		return
	}
	for kind, b := range d.cfg.Backends {
		field := "backends." + kind
		if len(b.Command) == 0 {
			d.addError(r, "backends", field+".command", "command template is empty")
			continue
		}
		if b.DefaultModel != "" && len(b.Models) > 0 {
			found := false
			for _, m := range b.Models {
				if m == b.DefaultModel {
					found = true
					break
				}
			}
			if !found {
				d.addError(r, "backends", field+".default_model",
					fmt.Sprintf("default model %q is not in the models list", b.DefaultModel))
			}
		}
	}
}

func (d *Doctor) checkBackendBinaries(r *Result) {
	for kind, b := range d.cfg.Backends {
		if len(b.Command) == 0 {
			continue
		}
		bin := b.Command[0]
		if _, err := d.lookPath(bin); err != nil {
			// Missing CLI is a warning: the operator may only use some
			// of the configured backends.
			d.addWarning(r, "binaries", "backends."+kind,
				fmt.Sprintf("%q not found on PATH; dispatches to %s will fail", bin, kind))
		}
	}
}
