// Package topic implements hierarchical notification topics and the
// wildcard patterns subscribers use to match them.
//
// A pattern is a dot-separated name such as UN.CEFACT.Trade, optionally
// ending in a single * to make the subtree explicit. Matching is by layer:
// a subscription on UN.CEFACT.Trade catches UN.CEFACT.Trade.Delivered
// because the topic contains the pattern's layer, never because of partial
// segment overlap, so A.B.C.GG does not match a subscription on A.B.C.G.
package topic

import (
	"fmt"
	"strings"
)

// Wildcard is the subtree marker allowed once, as the last segment.
const Wildcard = "*"

// Pattern is a parsed, canonicalised topic or subscription pattern.
type Pattern struct {
	segments []string
	wildcard bool
}

// Parse canonicalises s into a Pattern. Both dotted (A.B.C) and slashed
// (A/B/C) spellings are accepted; segments are uppercased so the two sides
// of a match agree on case. A trailing wildcard is recorded but carries no
// extra meaning, A.B.* and A.B cover the same subtree.
func Parse(s string) (Pattern, error) {
	if s == "" {
		return Pattern{}, fmt.Errorf("topic: empty pattern")
	}
	sep := "."
	if strings.Contains(s, "/") {
		if strings.Contains(s, ".") {
			return Pattern{}, fmt.Errorf("topic: pattern %q mixes separators", s)
		}
		sep = "/"
	}
	segments := strings.Split(strings.Trim(s, sep), sep)
	wildcard := false
	for i, seg := range segments {
		if seg == "" {
			return Pattern{}, fmt.Errorf("topic: pattern %q has an empty segment", s)
		}
		if strings.Contains(seg, Wildcard) {
			if seg != Wildcard || i != len(segments)-1 {
				return Pattern{}, fmt.Errorf("topic: wildcard only allowed as the last segment of %q", s)
			}
			wildcard = true
			continue
		}
		segments[i] = strings.ToUpper(seg)
	}
	if wildcard {
		segments = segments[:len(segments)-1]
	}
	if len(segments) == 0 {
		return Pattern{}, fmt.Errorf("topic: pattern %q has no segments", s)
	}
	return Pattern{segments: segments, wildcard: wildcard}, nil
}

// Key returns the canonical storage key: uppercased segments joined with
// slashes plus a trailing slash. The trailing slash is what keeps prefix
// lookups honest, A/B/C/G/ never prefixes A/B/C/GG/.
func (p Pattern) Key() string {
	return strings.Join(p.segments, "/") + "/"
}

// Layers returns the canonical keys of every prefix of the pattern, from
// the root segment to the full pattern. A topic matches every subscription
// stored under one of its layers.
func (p Pattern) Layers() []string {
	layers := make([]string, 0, len(p.segments))
	for i := range p.segments {
		layers = append(layers, strings.Join(p.segments[:i+1], "/")+"/")
	}
	return layers
}

// Matches reports whether a subscription on p catches a notification on
// topic.
func (p Pattern) Matches(topic Pattern) bool {
	key := p.Key()
	for _, layer := range topic.Layers() {
		if layer == key {
			return true
		}
	}
	return false
}

// Depth returns the number of segments, the wildcard excluded.
func (p Pattern) Depth() int {
	return len(p.segments)
}

// String returns the dotted spelling, with the wildcard restored.
func (p Pattern) String() string {
	s := strings.Join(p.segments, ".")
	if p.wildcard {
		s += "." + Wildcard
	}
	return s
}

// ValidateSubscription applies the stricter rules for subscription-side
// patterns on top of Parse: predicate subtrees rooted at UN must name at
// least four segments unless they end in a wildcard.
func ValidateSubscription(s string) error {
	p, err := Parse(s)
	if err != nil {
		return err
	}
	if p.segments[0] == "UN" && !p.wildcard && p.Depth() < 4 {
		return fmt.Errorf("topic: pattern %q is too broad, add segments or a trailing wildcard", s)
	}
	return nil
}
