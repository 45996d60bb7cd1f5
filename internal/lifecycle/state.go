// Package lifecycle sequences the install and removal stages of a package.
//
// Install runs Preflight (fetch, verify, extract), Installing (copy the
// executable to its managed path) and Postflight (integration) strictly in
// order. Every path created outside the staging tree is tracked in a Ledger;
// if any stage fails the ledger is unwound in reverse and the original error
// is returned. Removal recomputes what to delete from the package name alone.
package lifecycle

import (
	"github.com/ZebulonRouseFrantzich/tapline/internal/fetch"
	"github.com/ZebulonRouseFrantzich/tapline/internal/integration"
	"github.com/ZebulonRouseFrantzich/tapline/internal/manifest"
)

// State is a stage of the lifecycle state machine.
type State string

const (
	StateIdle                State = "idle"
	StatePreflight           State = "preflight"
	StateInstalling          State = "installing"
	StatePostflight          State = "postflight"
	StateComplete            State = "complete"
	StateUninstallPostflight State = "uninstall_postflight"
	StateZapped              State = "zapped"
	StateFailed              State = "failed"
)

// Report describes one lifecycle operation.
type Report struct {
	Package     string
	Version     string
	State       State   // final state
	Transitions []State // every state entered, in order
	Artifact    *manifest.Artifact
	Fetch       *fetch.Result
	ManagedPath string
	Record      integration.Record
	Removed     []string // paths removed by uninstall or zap
	Warnings    []error  // non-fatal problems
}

// Verified reports whether the artifact's signature was checked.
func (r *Report) Verified() bool {
	return r.Fetch != nil && r.Fetch.Verified
}

func newReport(pkg, version string) *Report {
	return &Report{Package: pkg, Version: version, State: StateIdle, Transitions: []State{StateIdle}}
}

func (r *Report) enter(s State) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}
