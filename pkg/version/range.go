package version

import (
	"strings"

	"golang.org/x/xerrors"
)

// Range is a single interval. A nil bound is unbounded.
type Range struct {
	Lower          *Version
	LowerInclusive bool
	Upper          *Version
	UpperInclusive bool
}

// Contains reports whether v lies in r.
func (r Range) Contains(v Version) bool {
	if r.Lower != nil {
		c := v.Compare(*r.Lower)
		if c < 0 || (c == 0 && !r.LowerInclusive) {
			return false
		}
	}
	if r.Upper != nil {
		c := v.Compare(*r.Upper)
		if c > 0 || (c == 0 && !r.UpperInclusive) {
			return false
		}
	}
	return true
}

func (r Range) String() string {
	var sb strings.Builder
	if r.LowerInclusive {
		sb.WriteByte('[')
	} else {
		sb.WriteByte('(')
	}
	if r.Lower != nil && r.Upper != nil && r.Lower.Equal(*r.Upper) && r.LowerInclusive && r.UpperInclusive {
		sb.WriteString(r.Lower.String())
		sb.WriteByte(']')
		return sb.String()
	}
	if r.Lower != nil {
		sb.WriteString(r.Lower.String())
	}
	sb.WriteByte(',')
	if r.Upper != nil {
		sb.WriteString(r.Upper.String())
	}
	if r.UpperInclusive {
		sb.WriteByte(']')
	} else {
		sb.WriteByte(')')
	}
	return sb.String()
}

// Constraint is a version requirement: either a soft recommended version ("1.0")
// or a union of ranges ("[1.0,2.0),[3.0,)").
type Constraint struct {
	raw         string
	Recommended *Version
	Ranges      []Range
}

// ParseConstraint parses a requirement as written in a descriptor.
func ParseConstraint(s string) (Constraint, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Constraint{}, xerrors.New("empty version constraint")
	}

	if !strings.ContainsAny(raw, "[(") {
		if strings.ContainsAny(raw, "])") {
			return Constraint{}, xerrors.Errorf("malformed version constraint %q: unbalanced brackets", raw)
		}
		v, err := Parse(raw)
		if err != nil {
			return Constraint{}, xerrors.Errorf("malformed version constraint %q: %w", raw, err)
		}
		return Constraint{raw: raw, Recommended: &v}, nil
	}

	var ranges []Range
	rest := raw
	for rest != "" {
		if rest[0] != '[' && rest[0] != '(' {
			return Constraint{}, xerrors.Errorf("malformed version constraint %q: expected '[' or '('", raw)
		}
		end := strings.IndexAny(rest, "])")
		if end < 0 {
			return Constraint{}, xerrors.Errorf("malformed version constraint %q: unbalanced brackets", raw)
		}
		r, err := parseRange(rest[:end+1])
		if err != nil {
			return Constraint{}, xerrors.Errorf("malformed version constraint %q: %w", raw, err)
		}
		if len(ranges) > 0 {
			prev := ranges[len(ranges)-1]
			if prev.Upper == nil || r.Lower == nil || r.Lower.LessThan(*prev.Upper) {
				return Constraint{}, xerrors.Errorf("malformed version constraint %q: ranges overlap", raw)
			}
		}
		ranges = append(ranges, r)

		rest = strings.TrimSpace(rest[end+1:])
		if rest == "" {
			break
		}
		if rest[0] != ',' {
			return Constraint{}, xerrors.Errorf("malformed version constraint %q: expected ','", raw)
		}
		rest = strings.TrimSpace(rest[1:])
		if rest == "" {
			return Constraint{}, xerrors.Errorf("malformed version constraint %q: trailing ','", raw)
		}
	}
	return Constraint{raw: raw, Ranges: ranges}, nil
}

func parseRange(s string) (Range, error) {
	r := Range{
		LowerInclusive: s[0] == '[',
		UpperInclusive: s[len(s)-1] == ']',
	}
	body := strings.TrimSpace(s[1 : len(s)-1])

	if !strings.Contains(body, ",") {
		if !r.LowerInclusive || !r.UpperInclusive {
			return Range{}, xerrors.Errorf("single version %q must be written as [v]", s)
		}
		v, err := Parse(body)
		if err != nil {
			return Range{}, err
		}
		r.Lower, r.Upper = &v, &v
		return r, nil
	}

	parts := strings.Split(body, ",")
	if len(parts) != 2 {
		return Range{}, xerrors.Errorf("invalid range %q", s)
	}
	if lo := strings.TrimSpace(parts[0]); lo != "" {
		v, _ := Parse(lo)
		r.Lower = &v
	}
	if hi := strings.TrimSpace(parts[1]); hi != "" {
		v, _ := Parse(hi)
		r.Upper = &v
	}
	if r.Lower != nil && r.Upper != nil {
		if c := r.Lower.Compare(*r.Upper); c > 0 || (c == 0 && !(r.LowerInclusive && r.UpperInclusive)) {
			return Range{}, xerrors.Errorf("empty range %q", s)
		}
	}
	return r, nil
}

func (c Constraint) String() string {
	return c.raw
}

// IsRange reports whether the constraint needs a version listing to be resolved.
func (c Constraint) IsRange() bool {
	return len(c.Ranges) > 0
}

// Contains reports whether v satisfies the constraint. A soft requirement accepts
// any version.
func (c Constraint) Contains(v Version) bool {
	if !c.IsRange() {
		return true
	}
	for _, r := range c.Ranges {
		if r.Contains(v) {
			return true
		}
	}
	return false
}

// Select returns the highest candidate satisfying c.
func (c Constraint) Select(candidates []Version) (Version, bool) {
	if !c.IsRange() && c.Recommended != nil {
		return *c.Recommended, true
	}
	var best Version
	found := false
	for _, v := range candidates {
		if !c.Contains(v) {
			continue
		}
		if !found || v.Compare(best) > 0 {
			best = v
			found = true
		}
	}
	return best, found
}
