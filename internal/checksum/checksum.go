// Package checksum combines two checksum-handling policies into the
// stricter effective one.
package checksum

// Policy is one of the three checksum-handling policies, ordered from
// strictest to laxest.
type Policy string

const (
	PolicyFail   Policy = "fail"
	PolicyWarn   Policy = "warn"
	PolicyIgnore Policy = "ignore"
)

var rank = map[Policy]int{
	PolicyFail:   2,
	PolicyWarn:   1,
	PolicyIgnore: 0,
}

// EffectivePolicy chooses the stricter of p1 and p2. An unrecognized
// policy falls back to PolicyWarn.
func EffectivePolicy(p1, p2 Policy) Policy {
	r1, ok1 := rank[p1]
	if !ok1 {
		p1, r1 = PolicyWarn, rank[PolicyWarn]
	}
	r2, ok2 := rank[p2]
	if !ok2 {
		p2, r2 = PolicyWarn, rank[PolicyWarn]
	}
	if r1 >= r2 {
		return p1
	}
	return p2
}
