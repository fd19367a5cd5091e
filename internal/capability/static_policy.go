package capability

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/vendordesk/model"
)

// policyDocument is the on-disk policy. Tenants add grants per role on top of
// the global roles:
//
//	roles:
//	  vendor_staff: [bookings:list:view, bookings:approve]
//	tenants:
//	  acme:
//	    vendor_staff: [transactions:list:view]
type policyDocument struct {
	Roles   map[string][]string            `yaml:"roles"`
	Tenants map[string]map[string][]string `yaml:"tenants"`
}

// grants is a policy document resolved into per-role capability sets.
type grants struct {
	roles   map[string]model.CapabilitySet
	tenants map[string]map[string]model.CapabilitySet
}

// StaticPolicyEvaluator grants capabilities by role from a YAML file. Sync
// swaps the policy atomically, so evaluations never see a partial file.
type StaticPolicyEvaluator struct {
	path    string
	current atomic.Pointer[grants]
}

func NewStaticPolicyEvaluator(path string) (*StaticPolicyEvaluator, error) {
	e := &StaticPolicyEvaluator{path: path}
	if err := e.Sync(); err != nil {
		return nil, err
	}
	return e, nil
}

// ResolveCapabilities unions the grants of the caller's roles, globally and
// within the caller's tenant.
func (e *StaticPolicyEvaluator) ResolveCapabilities(rctx *model.RequestContext) (model.CapabilitySet, error) {
	g := e.current.Load()
	caps := make(model.CapabilitySet)
	for _, role := range rctx.Roles {
		for c := range g.roles[role] {
			caps[c] = true
		}
		for c := range g.tenants[rctx.TenantID][role] {
			caps[c] = true
		}
	}
	return caps, nil
}

// Roles returns how many roles the global mapping defines.
func (e *StaticPolicyEvaluator) Roles() int {
	return len(e.current.Load().roles)
}

// Sync re-reads the policy file. A file that fails to parse or validate
// leaves the previous policy in place.
func (e *StaticPolicyEvaluator) Sync() error {
	data, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("capability: read policy %s: %w", e.path, err)
	}
	var doc policyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("capability: parse policy %s: %w", e.path, err)
	}
	g, err := compile(doc)
	if err != nil {
		return fmt.Errorf("capability: policy %s: %w", e.path, err)
	}
	e.current.Store(g)
	return nil
}

func compile(doc policyDocument) (*grants, error) {
	g := &grants{
		roles:   make(map[string]model.CapabilitySet, len(doc.Roles)),
		tenants: make(map[string]map[string]model.CapabilitySet, len(doc.Tenants)),
	}
	var err error
	for role, caps := range doc.Roles {
		if g.roles[role], err = capabilitySet(caps); err != nil {
			return nil, fmt.Errorf("role %q: %w", role, err)
		}
	}
	for tenant, roles := range doc.Tenants {
		g.tenants[tenant] = make(map[string]model.CapabilitySet, len(roles))
		for role, caps := range roles {
			if g.tenants[tenant][role], err = capabilitySet(caps); err != nil {
				return nil, fmt.Errorf("tenant %q role %q: %w", tenant, role, err)
			}
		}
	}
	return g, nil
}

// capabilitySet validates capability strings: colon separated, no empty
// segments, and "*" only as the final segment.
func capabilitySet(caps []string) (model.CapabilitySet, error) {
	set := make(model.CapabilitySet, len(caps))
	for _, c := range caps {
		segments := strings.Split(c, ":")
		for i, s := range segments {
			if s == "" || (strings.Contains(s, "*") && (s != "*" || i != len(segments)-1)) {
				return nil, fmt.Errorf("invalid capability %q", c)
			}
		}
		set[c] = true
	}
	return set, nil
}
