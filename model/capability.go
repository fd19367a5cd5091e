package model

// CapabilitySet is the set of capabilities granted to a caller. Keys are
// colon separated, such as "bookings:list:view", and a key ending in "*"
// grants everything below it: "bookings:*" covers "bookings:approve" and
// "bookings:list:view", and "*" covers everything.
type CapabilitySet map[string]bool

// Has reports whether capability is granted exactly or by a wildcard on one
// of its prefixes.
func (cs CapabilitySet) Has(capability string) bool {
	if cs[capability] || cs["*"] {
		return true
	}
	for i := range len(capability) {
		if capability[i] == ':' && cs[capability[:i+1]+"*"] {
			return true
		}
	}
	return false
}

// HasAll reports whether every capability is granted. An empty requirement
// is always met.
func (cs CapabilitySet) HasAll(capabilities ...string) bool {
	return len(cs.Missing(capabilities...)) == 0
}

// Missing returns the capabilities that are not granted, in order.
func (cs CapabilitySet) Missing(capabilities ...string) []string {
	var out []string
	for _, c := range capabilities {
		if !cs.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// CapabilityResolver resolves the capability set for a request context.
type CapabilityResolver interface {
	Resolve(rctx *RequestContext) (CapabilitySet, error)
	Invalidate(subjectID, tenantID string)
}

// PolicyEvaluator is the source of truth behind a CapabilityResolver.
type PolicyEvaluator interface {
	ResolveCapabilities(rctx *RequestContext) (CapabilitySet, error)
	// Sync reloads policy data from its backing store.
	Sync() error
}
