package version

import (
	"strings"
	"unicode"

	"golang.org/x/xerrors"
)

// Qualifier ranks. Unknown qualifiers sort after "sp", lexically.
var qualifiers = map[string]int{
	"alpha":     0,
	"beta":      1,
	"milestone": 2,
	"rc":        3,
	"snapshot":  4,
	"":          5,
	"sp":        6,
}

const unknownQualifier = 7

var aliases = map[string]string{
	"cr":      "rc",
	"ga":      "",
	"final":   "",
	"release": "",
}

type item struct {
	num   string // digits without leading zeros; only set when isNum
	str   string
	isNum bool
}

// Version is a parsed artifact version.
type Version struct {
	raw   string
	items []item
}

// Parse parses a version string. Any non-empty string is a valid version.
func Parse(s string) (Version, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Version{}, xerrors.New("empty version")
	}
	return Version{raw: raw, items: tokenize(raw)}, nil
}

func (v Version) String() string {
	return v.raw
}

// IsZero reports whether v was never parsed.
func (v Version) IsZero() bool {
	return v.raw == ""
}

// Compare returns -1, 0 or 1.
func (v Version) Compare(w Version) int {
	n := max(len(v.items), len(w.items))
	for i := 0; i < n; i++ {
		if c := compareItem(at(v.items, i), at(w.items, i)); c != 0 {
			return c
		}
	}
	return 0
}

// Equal reports whether v and w denote the same version (1.0 == 1).
func (v Version) Equal(w Version) bool {
	return v.Compare(w) == 0
}

// LessThan reports whether v < w.
func (v Version) LessThan(w Version) bool {
	return v.Compare(w) < 0
}

// IsSnapshot reports whether v is a development version.
func (v Version) IsSnapshot() bool {
	return strings.HasSuffix(strings.ToUpper(v.raw), "SNAPSHOT")
}

// Compare parses and compares two version strings. Empty strings sort first.
func Compare(a, b string) int {
	va, _ := Parse(a)
	vb, _ := Parse(b)
	switch {
	case va.IsZero() && vb.IsZero():
		return 0
	case va.IsZero():
		return -1
	case vb.IsZero():
		return 1
	}
	return va.Compare(vb)
}

// a missing item behaves like 0 against numbers and like a release against qualifiers
func at(items []item, i int) *item {
	if i < len(items) {
		return &items[i]
	}
	return nil
}

func compareItem(a, b *item) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -compareItem(b, nil)
	}

	if a.isNum {
		switch {
		case b == nil:
			if a.num == "" {
				return 0
			}
			return 1
		case b.isNum:
			return compareDigits(a.num, b.num)
		default:
			return 1
		}
	}

	switch {
	case b == nil:
		return compareQualifier(a.str, "")
	case b.isNum:
		return -1
	default:
		return compareQualifier(a.str, b.str)
	}
}

func compareDigits(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func compareQualifier(a, b string) int {
	ra, rb := rank(a), rank(b)
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	case ra == unknownQualifier:
		return strings.Compare(a, b)
	}
	return 0
}

func rank(q string) int {
	if r, ok := qualifiers[q]; ok {
		return r
	}
	return unknownQualifier
}

func tokenize(raw string) []item {
	s := strings.ToLower(raw)

	var tokens []string
	var cur strings.Builder
	flush := func() {
		tokens = append(tokens, cur.String())
		cur.Reset()
	}

	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == '.' || r == '-' || r == '_':
			flush()
		case i > 0 && cur.Len() > 0 && unicode.IsDigit(r) != unicode.IsDigit(runes[i-1]):
			// "1alpha2" splits into 1, alpha, 2; "a1" means alpha 1
			if cur.Len() == 1 && unicode.IsDigit(r) {
				switch cur.String() {
				case "a":
					cur.Reset()
					cur.WriteString("alpha")
				case "b":
					cur.Reset()
					cur.WriteString("beta")
				case "m":
					cur.Reset()
					cur.WriteString("milestone")
				}
			}
			flush()
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	flush()

	items := make([]item, 0, len(tokens))
	for _, t := range tokens {
		if t != "" && isDigits(t) {
			items = append(items, item{num: strings.TrimLeft(t, "0"), isNum: true})
			continue
		}
		if alias, ok := aliases[t]; ok {
			t = alias
		}
		// Zeros before a qualifier are dropped too: 1-SNAPSHOT == 1.0-SNAPSHOT.
		if t != "" {
			items = trimZeros(items)
		}
		items = append(items, item{str: t})
	}

	// Trailing zeros and release markers carry no ordering information.
	for len(items) > 0 {
		last := items[len(items)-1]
		if (last.isNum && last.num == "") || (!last.isNum && last.str == "") {
			items = items[:len(items)-1]
			continue
		}
		break
	}
	return items
}

func trimZeros(items []item) []item {
	for len(items) > 0 {
		last := items[len(items)-1]
		if !last.isNum || last.num != "" {
			break
		}
		items = items[:len(items)-1]
	}
	return items
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
