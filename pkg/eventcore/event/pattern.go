package event

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Pattern describes which events a subscription wants: an event-type
// expression plus optional attribute constraints evaluated against the
// event payload.
//
// Type expressions support, in precedence order:
//
//	"*" or ""        match every event type
//	"regex:<expr>"   match types against a regular expression
//	"*" in any position   one dot-separated segment ("a.*.c")
//	"**" in any position  any number of segments; a trailing ".**"
//	                      also matches the parent itself ("a.**")
//	exact            literal comparison otherwise
//
// A leading "!" negates the remaining expression.
type Pattern struct {
	// EventType is the type expression. Empty matches everything.
	EventType string `json:"event_type"`

	// Attributes constrains payload fields. Keys use dot notation for
	// nested lookup; values are either literals (equality) or operator
	// maps such as {"$gt": 10}.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// regexCache avoids recompiling regex patterns on every match.
var regexCache sync.Map // string -> *regexp.Regexp

func compileCached(expr string) (*regexp.Regexp, error) {
	if cached, ok := regexCache.Load(expr); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern regex %q: %w", expr, err)
	}
	regexCache.Store(expr, re)
	return re, nil
}

// MatchesEventType reports whether the given event type satisfies the
// pattern's type expression. Invalid regex expressions match nothing.
func (p Pattern) MatchesEventType(eventType string) bool {
	expr := p.EventType

	negate := false
	if strings.HasPrefix(expr, "!") {
		negate = true
		expr = expr[1:]
	}

	matched := matchTypeExpr(expr, eventType)
	if negate {
		return !matched
	}
	return matched
}

func matchTypeExpr(expr, eventType string) bool {
	switch {
	case expr == "" || expr == "*":
		return true

	case strings.HasPrefix(expr, "regex:"):
		re, err := compileCached(strings.TrimPrefix(expr, "regex:"))
		if err != nil {
			return false
		}
		return re.MatchString(eventType)

	case strings.Contains(expr, "*"):
		re, err := compileCached(wildcardSource(expr))
		if err != nil {
			return false
		}
		return re.MatchString(eventType)

	default:
		return expr == eventType
	}
}

// wildcardSource translates a type expression into an anchored regex
// source. Wildcards apply in any position: "*" spans one dot-separated
// segment, "**" spans any number, and a trailing ".**" also matches
// the parent itself.
func wildcardSource(expr string) string {
	quoted := regexp.QuoteMeta(expr)
	quoted = strings.ReplaceAll(quoted, `\.\*\*`, `(\..*)?`)
	quoted = strings.ReplaceAll(quoted, `\*\*`, `.*`)
	quoted = strings.ReplaceAll(quoted, `\*`, `[^.]+`)
	return `^` + quoted + `$`
}

// MatchesAttributes reports whether the payload satisfies every
// attribute constraint. Patterns without attributes match any payload.
// A constraint whose key is absent from the payload fails outright,
// before any operator is evaluated; $exists included.
func (p Pattern) MatchesAttributes(payload map[string]any) bool {
	if len(p.Attributes) == 0 {
		return true
	}

	for key, constraint := range p.Attributes {
		value, present := lookupPath(payload, key)
		if !present || !matchConstraint(constraint, value) {
			return false
		}
	}
	return true
}

// Matches reports whether the event satisfies both the type expression
// and all attribute constraints.
func (p Pattern) Matches(e Event) bool {
	return p.MatchesEventType(e.Type) && p.MatchesAttributes(e.Payload)
}

// String returns a compact representation for logging.
func (p Pattern) String() string {
	if len(p.Attributes) == 0 {
		return p.EventType
	}
	keys := make([]string, 0, len(p.Attributes))
	for k := range p.Attributes {
		keys = append(keys, k)
	}
	return fmt.Sprintf("%s+attrs(%s)", p.EventType, strings.Join(keys, ","))
}

// lookupPath resolves a dot-notation key against nested maps. The second
// return distinguishes "present with nil value" from "absent": a path
// segment that is not a map terminates the lookup as absent.
func lookupPath(payload map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var current any = payload
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
