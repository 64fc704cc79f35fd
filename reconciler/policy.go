package reconciler

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/sweepr/pkg/resource"
)

// DefaultThreshold is how long a resource must be observed before it is
// queued for deletion when no override applies.
const DefaultThreshold = 48 * time.Hour

var (
	// ErrInvalidAge is returned for age strings that cannot be parsed.
	ErrInvalidAge = errors.New("invalid age")
	// ErrInvalidRule is returned for malformed threshold:pattern rules.
	ErrInvalidRule = errors.New("invalid age rule")
)

// ageUnits maps a single-letter suffix to its length in seconds.
// Lowercase m is minutes, uppercase M is months.
var ageUnits = map[byte]float64{
	's': 1,
	'm': 60,
	'h': 3600,
	'd': 86400,
	'D': 86400,
	'M': 30 * 86400,
	'y': 365 * 86400,
	'Y': 365 * 86400,
}

// ParseAge parses a signed decimal number of seconds with an optional unit
// suffix (s, m, h, d/D, M, y/Y). Fractions are allowed. Values outside the
// time.Duration range saturate.
func ParseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidAge)
	}

	num, unit := s, 1.0
	if len(s) > 1 {
		if mult, ok := ageUnits[s[len(s)-1]]; ok {
			num, unit = s[:len(s)-1], mult
		}
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAge, s)
	}
	return secondsToDuration(v * unit), nil
}

func secondsToDuration(seconds float64) time.Duration {
	ns := seconds * float64(time.Second)
	switch {
	case ns >= math.MaxInt64:
		return time.Duration(math.MaxInt64)
	case ns <= math.MinInt64:
		return time.Duration(math.MinInt64)
	}
	return time.Duration(ns)
}

// Rule overrides the default threshold for resources whose tags match
// Pattern. Negative thresholds force deletion, very large ones keep.
type Rule struct {
	Threshold time.Duration
	Pattern   *regexp.Regexp
}

// ParseRule parses "threshold:pattern". The threshold uses the ParseAge
// syntax and the pattern is a regular expression; the string is split on
// the first colon so patterns may contain colons.
func ParseRule(s string) (Rule, error) {
	age, pattern, ok := strings.Cut(s, ":")
	if !ok {
		return Rule{}, fmt.Errorf("%w: %q: expected threshold:pattern", ErrInvalidRule, s)
	}
	threshold, err := ParseAge(age)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %q: %w", ErrInvalidRule, s, err)
	}
	if pattern == "" {
		return Rule{}, fmt.Errorf("%w: %q: empty pattern", ErrInvalidRule, s)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %q: %w", ErrInvalidRule, s, err)
	}
	return Rule{Threshold: threshold, Pattern: re}, nil
}

// ParseRules parses rules keeping their order.
func ParseRules(specs []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for _, s := range specs {
		r, err := ParseRule(s)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// String renders the rule in its flag form.
func (r Rule) String() string {
	return fmt.Sprintf("%gs:%s", r.Threshold.Seconds(), r.Pattern)
}

// Matches reports whether the pattern matches any key or value of tags.
// Null values are skipped, nested mappings and sequences are searched.
func (r Rule) Matches(tags *yaml.Node) bool {
	if tags == nil || r.Pattern == nil {
		return false
	}
	return matchNode(r.Pattern, tags)
}

func matchNode(re *regexp.Regexp, node *yaml.Node) bool {
	switch node.Kind {
	case yaml.AliasNode:
		return node.Alias != nil && matchNode(re, node.Alias)
	case yaml.SequenceNode:
		for _, item := range node.Content {
			// {Key, Value} items only match on their payload
			if k, v, ok := resource.TagPair(item); ok {
				if matchNode(re, k) || matchNode(re, v) {
					return true
				}
				continue
			}
			if matchNode(re, item) {
				return true
			}
		}
		return false
	case yaml.DocumentNode, yaml.MappingNode:
		for _, child := range node.Content {
			if matchNode(re, child) {
				return true
			}
		}
		return false
	case yaml.ScalarNode:
		if node.ShortTag() == "!!null" {
			return false
		}
		return re.MatchString(node.Value)
	}
	return false
}

// AgePolicy is the immutable threshold configuration of one run.
type AgePolicy struct {
	def   time.Duration
	rules []Rule
}

// NewAgePolicy builds a policy. Rules are evaluated in order and the last
// matching rule wins.
func NewAgePolicy(def time.Duration, rules ...Rule) *AgePolicy {
	rs := make([]Rule, len(rules))
	copy(rs, rules)
	return &AgePolicy{def: def, rules: rs}
}

// DefaultPolicy returns a policy with DefaultThreshold and no rules.
func DefaultPolicy() *AgePolicy {
	return NewAgePolicy(DefaultThreshold)
}

// Default returns the threshold used when no rule matches.
func (p *AgePolicy) Default() time.Duration {
	return p.def
}

// Rules returns a copy of the override rules.
func (p *AgePolicy) Rules() []Rule {
	rs := make([]Rule, len(p.rules))
	copy(rs, p.rules)
	return rs
}

// Resolve returns the effective threshold for r and the index of the rule
// that produced it, or -1 for the default.
func (p *AgePolicy) Resolve(r resource.Resource) (time.Duration, int) {
	threshold, idx := p.def, -1
	tags := r.Tags()
	if tags == nil {
		return threshold, idx
	}
	for i, rule := range p.rules {
		if rule.Matches(tags) {
			threshold, idx = rule.Threshold, i
		}
	}
	return threshold, idx
}
