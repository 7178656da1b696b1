package document

import "strings"

// Policy selects what happens when a supplied revision does not match.
type Policy int

const (
	PolicyError Policy = iota
	PolicyLastWriteWins
)

func (p Policy) String() string {
	if p == PolicyLastWriteWins {
		return "last-write-wins"
	}
	return "error"
}

// ParsePolicy reads the policy query value. Empty means the default.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "error":
		return PolicyError, nil
	case "last", "last-write":
		return PolicyLastWriteWins, nil
	}
	return PolicyError, NewError(KindPolicyMalformed, "invalid policy %q", s)
}

// Condition is the optimistic-concurrency precondition of one request:
// the revision the caller expects to overwrite (empty for none) and the
// raw policy value it asked for.
type Condition struct {
	Revision string
	Policy   string
}

// Precondition is a Condition after validation.
type Precondition struct {
	Revision string
	Policy   Policy
}

// Resolve validates c. The policy error takes precedence over everything
// else about the request.
func (c Condition) Resolve() (Precondition, error) {
	p, err := ParsePolicy(c.Policy)
	if err != nil {
		return Precondition{}, err
	}
	return Precondition{Revision: c.Revision, Policy: p}, nil
}

// Match returns the revision the store must compare against, or "" when the
// mutation is unconditional.
func (p Precondition) Match() string {
	if p.Policy == PolicyLastWriteWins {
		return ""
	}
	return p.Revision
}

// RevisionFromHeader normalizes an If-Match / If-None-Match value: blanks
// around the value and one pair of surrounding double quotes are removed.
func RevisionFromHeader(v string) string {
	v = strings.Trim(v, " \t")
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		v = v[1 : len(v)-1]
	}
	return v
}

// ExpectedRevision picks the expected revision from the two supported
// channels. The header wins when present.
func ExpectedRevision(ifMatch, revParam string) string {
	if r := RevisionFromHeader(ifMatch); r != "" {
		return r
	}
	return strings.TrimSpace(revParam)
}

// Check compares the revision of rec against p without touching a store.
// It is used for reads, where nothing is mutated.
func (p Precondition) Check(rec *Record) error {
	m := p.Match()
	if m == "" || rec.Rev == m {
		return nil
	}
	return &Error{Kind: KindRevisionConflict, Message: "precondition failed", Current: rec}
}
