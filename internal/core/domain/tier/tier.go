package tier

// Tier is a named subscription level that determines numeric limits.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierTeam       Tier = "team"
	TierEnterprise Tier = "enterprise"
)

// Parse maps an arbitrary tier string to a known tier. Unknown values clamp
// to free, the most restrictive tier, so callers stay total.
func Parse(s string) Tier {
	switch Tier(s) {
	case TierFree, TierPro, TierTeam, TierEnterprise:
		return Tier(s)
	default:
		return TierFree
	}
}

// Limits is the immutable per-tier policy record. RequestsPerMinute is the
// enforced sliding-window limit; the hour/day figures and the monthly
// resource quotas feed the quota enforcer.
type Limits struct {
	RequestsPerMinute int
	RequestsPerHour   int
	RequestsPerDay    int
	// MonthlyQuotas maps a resource type (e.g. "simulation") to the number
	// of creations allowed per calendar month.
	MonthlyQuotas map[string]int
}

// Registry is a read-only tier policy table. It is built once at startup
// and passed explicitly into services so tests can inject custom tiers.
type Registry struct {
	limits map[Tier]Limits
}

// NewRegistry copies the given table into an immutable registry. The free
// tier must be present because unknown tiers clamp to it.
func NewRegistry(limits map[Tier]Limits) *Registry {
	cp := make(map[Tier]Limits, len(limits))
	for t, l := range limits {
		quotas := make(map[string]int, len(l.MonthlyQuotas))
		for k, v := range l.MonthlyQuotas {
			quotas[k] = v
		}
		l.MonthlyQuotas = quotas
		cp[t] = l
	}
	if _, ok := cp[TierFree]; !ok {
		cp[TierFree] = DefaultLimits()[TierFree]
	}
	return &Registry{limits: cp}
}

// LimitsFor returns the limits for a tier, clamping unknown tiers to free.
func (r *Registry) LimitsFor(t Tier) Limits {
	if l, ok := r.limits[t]; ok {
		return l
	}
	return r.limits[TierFree]
}

// QuotaFor returns the monthly quota for a resource type under the given
// tier. Resource types absent from the table get 0, which the quota
// enforcer treats as "nothing admitted": enforcement of a new resource
// type must be configured deliberately, not defaulted open.
func (r *Registry) QuotaFor(t Tier, resourceType string) int {
	return r.LimitsFor(t).MonthlyQuotas[resourceType]
}

// DefaultLimits is the built-in tier table. Config env overrides are
// applied on top of it at load time.
func DefaultLimits() map[Tier]Limits {
	return map[Tier]Limits{
		TierFree: {
			RequestsPerMinute: 10,
			RequestsPerHour:   300,
			RequestsPerDay:    2000,
			MonthlyQuotas:     map[string]int{"simulation": 5, "workflow": 10},
		},
		TierPro: {
			RequestsPerMinute: 60,
			RequestsPerHour:   2000,
			RequestsPerDay:    20000,
			MonthlyQuotas:     map[string]int{"simulation": 100, "workflow": 200},
		},
		TierTeam: {
			RequestsPerMinute: 120,
			RequestsPerHour:   5000,
			RequestsPerDay:    50000,
			MonthlyQuotas:     map[string]int{"simulation": 500, "workflow": 1000},
		},
		TierEnterprise: {
			RequestsPerMinute: 600,
			RequestsPerHour:   20000,
			RequestsPerDay:    200000,
			MonthlyQuotas:     map[string]int{"simulation": 5000, "workflow": 10000},
		},
	}
}
