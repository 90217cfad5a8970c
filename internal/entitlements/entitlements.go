// Package entitlements decides which member workflows a user may access.
//
// A user holds a basic access grant, package grants and direct workflow
// grants. Nothing is authorized without valid basic access. Package grants
// expand to the workflows listed for the package in the packages file. A
// direct lifetime grant replaces a non-lifetime package grant for the same
// workflow.
package entitlements

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/workflowshelf/workflowshelf/internal/logging"
	"github.com/workflowshelf/workflowshelf/internal/metrics"
	"github.com/workflowshelf/workflowshelf/pkg/protocol"
)

// Grant types.
const (
	TypeLifetime = "lifetime"
	TypeMonthly  = "monthly"
	TypeTemp     = "temp"
)

// Grant sources reported in workflow details.
const (
	SourcePackage = "package"
	SourceDirect  = "direct"
)

// Grant is one entitlement. ID is empty for basic access.
type Grant struct {
	ID        string     `json:"id,omitempty"`
	Type      string     `json:"type"`
	ExpiredAt *time.Time `json:"expired_at"`
}

// ValidAt reports whether the grant is in force at now. Lifetime grants never
// expire; every other type needs an expiry in the future.
func (g Grant) ValidAt(now time.Time) bool {
	if g.Type == TypeLifetime {
		return true
	}
	return g.ExpiredAt != nil && now.Before(*g.ExpiredAt)
}

// Entitlements is everything granted to one user.
type Entitlements struct {
	BasicAccess Grant   `json:"basic_access"`
	Packages    []Grant `json:"packages"`
	Workflows   []Grant `json:"workflows"`
}

// Trial returns the entitlements of a newly registered user: temporary basic
// access and the starter package, both for days days.
func Trial(days int, starter string, now time.Time) Entitlements {
	expires := now.Add(time.Duration(days) * 24 * time.Hour).UTC()
	e := Entitlements{
		BasicAccess: Grant{Type: TypeTemp, ExpiredAt: &expires},
		Packages:    []Grant{},
		Workflows:   []Grant{},
	}
	if starter != "" {
		e.Packages = append(e.Packages, Grant{ID: starter, Type: TypeTemp, ExpiredAt: &expires})
	}
	return e
}

// Unlimited returns lifetime basic access plus the given packages for life.
// It backs the mock users served when authentication is disabled.
func Unlimited(packages ...string) Entitlements {
	e := Entitlements{
		BasicAccess: Grant{Type: TypeLifetime},
		Packages:    []Grant{},
		Workflows:   []Grant{},
	}
	for _, id := range packages {
		e.Packages = append(e.Packages, Grant{ID: id, Type: TypeLifetime})
	}
	return e
}

// Package is a named bundle of workflow IDs.
type Package struct {
	Name      string   `json:"name,omitempty"`
	Workflows []string `json:"workflows"`
}

// Catalog maps package IDs to their contents.
type Catalog map[string]Package

// LoadCatalog reads the packages file. A missing path or file yields an empty
// catalog.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return Catalog{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logging.Warn("packages file not found, no package grants will apply", logging.String("path", path))
		return Catalog{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read packages file: %w", err)
	}
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse packages file %s: %w", path, err)
	}
	if c == nil {
		c = Catalog{}
	}
	return c, nil
}

// Evaluator resolves entitlements against a package catalog.
type Evaluator struct {
	packages Catalog
	now      func() time.Time
}

// NewEvaluator creates an evaluator over packages.
func NewEvaluator(packages Catalog) *Evaluator {
	if packages == nil {
		packages = Catalog{}
	}
	return &Evaluator{packages: packages, now: time.Now}
}

// Authorized returns every workflow the user may access with the grant that
// allows it.
func (ev *Evaluator) Authorized(e Entitlements) map[string]protocol.Grant {
	now := ev.now()
	out := make(map[string]protocol.Grant)
	if !e.BasicAccess.ValidAt(now) {
		return out
	}

	for _, pkg := range e.Packages {
		if pkg.ID == "" || !pkg.ValidAt(now) {
			continue
		}
		for _, wf := range ev.packages[pkg.ID].Workflows {
			out[wf] = protocol.Grant{
				Source:    SourcePackage,
				PackageID: pkg.ID,
				Type:      pkg.Type,
				ExpiredAt: pkg.ExpiredAt,
			}
		}
	}

	for _, wf := range e.Workflows {
		if wf.ID == "" || !wf.ValidAt(now) {
			continue
		}
		existing, ok := out[wf.ID]
		if ok && !(wf.Type == TypeLifetime && existing.Type != TypeLifetime) {
			continue
		}
		out[wf.ID] = protocol.Grant{
			Source:    SourceDirect,
			Type:      wf.Type,
			ExpiredAt: wf.ExpiredAt,
		}
	}
	return out
}

// List returns the sorted IDs and details of the authorized workflows.
func (ev *Evaluator) List(e Entitlements) protocol.AuthorizedWorkflowsResponse {
	details := ev.Authorized(e)
	list := make([]string, 0, len(details))
	for id := range details {
		list = append(list, id)
	}
	sort.Strings(list)
	return protocol.AuthorizedWorkflowsResponse{WorkflowList: list, WorkflowDetails: details}
}

// Check reports whether one workflow is authorized and when that ends.
// Lifetime access has no expiry and is reported as permanent.
func (ev *Evaluator) Check(e Entitlements, workflowID string) protocol.CheckAuthResponse {
	grant, ok := ev.Authorized(e)[workflowID]
	metrics.RecordEntitlementCheck(ok)

	resp := protocol.CheckAuthResponse{WorkflowID: workflowID, Authorized: ok}
	if !ok {
		return resp
	}
	if grant.Type != TypeLifetime {
		resp.ExpiresAt = grant.ExpiredAt
	}
	resp.Permanent = resp.ExpiresAt == nil
	return resp
}
