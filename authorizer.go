package tokenauth

import (
	"fmt"
	"path"
	"strings"
)

// MatchPolicy controls how a rule's roles are compared to the caller's.
type MatchPolicy int

const (
	// MatchAny requires at least one of the rule roles
	MatchAny MatchPolicy = iota
	// MatchAll requires every rule role
	MatchAll
	// MatchAuthenticated requires any authenticated caller
	MatchAuthenticated
)

func (p MatchPolicy) String() string {
	switch p {
	case MatchAny:
		return "ANY"
	case MatchAll:
		return "ALL"
	case MatchAuthenticated:
		return "AUTHENTICATED"
	default:
		return fmt.Sprintf("MatchPolicy(%d)", int(p))
	}
}

// RoleRule is one entry of the rule table. A rule with an empty role set and
// MatchAny or MatchAll policy is public.
type RoleRule struct {
	Pattern string
	Roles   RoleSet
	Policy  MatchPolicy
}

// Public allows everyone, tokens not required.
func Public(pattern string) RoleRule {
	return RoleRule{Pattern: pattern, Policy: MatchAny}
}

// RequireAny allows callers holding at least one of roles.
func RequireAny(pattern string, roles ...string) RoleRule {
	return RoleRule{Pattern: pattern, Roles: NewRoleSet(roles...), Policy: MatchAny}
}

// RequireAll allows callers holding every one of roles.
func RequireAll(pattern string, roles ...string) RoleRule {
	return RoleRule{Pattern: pattern, Roles: NewRoleSet(roles...), Policy: MatchAll}
}

// Authenticated allows any authenticated caller.
func Authenticated(pattern string) RoleRule {
	return RoleRule{Pattern: pattern, Policy: MatchAuthenticated}
}

// IsPublic reports whether the rule admits anonymous callers.
func (r RoleRule) IsPublic() bool {
	return r.Policy != MatchAuthenticated && r.Roles.IsEmpty()
}

// DefaultRules is the stock rule table: public and auth endpoints are open,
// admin and moderator areas are role gated.
func DefaultRules() []RoleRule {
	return []RoleRule{
		Public("/public/**"),
		Public("/api/auth/**"),
		Public("/oauth2/**"),
		RequireAny("/admin/**", RoleAdmin),
		RequireAny("/moderator/**", RoleAdmin, RoleModerator),
		RequireAny("/user/**", RoleUser, RoleAdmin, RoleModerator),
		Authenticated("/private/**"),
	}
}

// Decision is the result of an authorization check.
type Decision struct {
	Allowed bool
	// Pattern of the matched rule, empty when the default policy applied.
	Pattern string
	Missing RoleSet
	Reason  string
	verbose bool
}

// Detail returns the reason to expose to the caller. Anonymous callers and
// non verbose authorizers only ever see "forbidden".
func (d Decision) Detail(anonymous bool) string {
	if d.Allowed {
		return "allowed"
	}
	if anonymous || !d.verbose {
		return "forbidden"
	}
	return d.Reason
}

// Authorizer evaluates an ordered rule table. It is immutable and safe for
// concurrent use.
type Authorizer struct {
	rules         []compiledRule
	defaultPolicy DefaultPolicy
	verbose       bool
	metrics       Metrics
}

// AuthorizerOption customizes an Authorizer.
type AuthorizerOption func(*Authorizer)

// WithVerboseReasons exposes missing roles to authenticated callers.
func WithVerboseReasons(verbose bool) AuthorizerOption {
	return func(a *Authorizer) {
		a.verbose = verbose
	}
}

// WithAuthorizerMetrics sets the metrics sink.
func WithAuthorizerMetrics(metrics Metrics) AuthorizerOption {
	return func(a *Authorizer) {
		a.metrics = resolveMetrics(metrics)
	}
}

// NewAuthorizer compiles rules, preserving their order.
func NewAuthorizer(rules []RoleRule, defaultPolicy DefaultPolicy, opts ...AuthorizerOption) (*Authorizer, error) {
	switch defaultPolicy {
	case PolicyAuthenticated, PolicyDeny:
	case "":
		defaultPolicy = PolicyAuthenticated
	default:
		return nil, withDetail(ErrInvalidConfig, "unknown default authorization policy", map[string]any{
			"policy": string(defaultPolicy),
		})
	}

	a := &Authorizer{
		rules:         make([]compiledRule, 0, len(rules)),
		defaultPolicy: defaultPolicy,
		metrics:       noopMetrics{},
	}
	for _, rule := range rules {
		compiled, err := compileRule(rule)
		if err != nil {
			return nil, err
		}
		a.rules = append(a.rules, compiled)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// NewAuthorizerFromConfig builds an Authorizer with cfg's default policy and
// verbosity.
func NewAuthorizerFromConfig(cfg Config, rules []RoleRule, opts ...AuthorizerOption) (*Authorizer, error) {
	opts = append([]AuthorizerOption{WithVerboseReasons(cfg.VerboseReasons)}, opts...)
	return NewAuthorizer(rules, cfg.DefaultAuthorizationPolicy, opts...)
}

// Authorize decides whether a caller holding roles may access requestPath.
// An empty role set is treated as an anonymous caller.
func (a *Authorizer) Authorize(requestPath string, roles RoleSet) Decision {
	decision := a.decide(cleanPath(requestPath), roles)
	decision.verbose = a.verbose
	a.metrics.AuthorizationDecided(decision.Allowed)
	return decision
}

func (a *Authorizer) decide(p string, roles RoleSet) Decision {
	anonymous := roles.IsEmpty()

	for _, rule := range a.rules {
		if !rule.match(p) {
			continue
		}

		d := Decision{Pattern: rule.Pattern}
		switch {
		case rule.IsPublic():
			d.Allowed = true
		case anonymous:
			d.Reason = "forbidden: authentication required"
		case rule.Policy == MatchAuthenticated:
			d.Allowed = true
		case rule.Policy == MatchAll:
			d.Missing = roles.Missing(rule.Roles)
			d.Allowed = d.Missing.IsEmpty()
		default:
			d.Allowed = roles.HasAny(rule.Roles)
			if !d.Allowed {
				d.Missing = rule.Roles
			}
		}

		if !d.Allowed && d.Reason == "" {
			d.Reason = missingReason(rule.Policy, d.Missing)
		}
		return d
	}

	switch {
	case a.defaultPolicy == PolicyDeny:
		return Decision{Reason: "forbidden: no rule matched"}
	case anonymous:
		return Decision{Reason: "forbidden: authentication required"}
	default:
		return Decision{Allowed: true}
	}
}

func missingReason(policy MatchPolicy, missing RoleSet) string {
	if len(missing) == 1 {
		return fmt.Sprintf("forbidden: missing role %s", missing[0])
	}
	if policy == MatchAll {
		return fmt.Sprintf("forbidden: missing roles %s", strings.Join(missing, ", "))
	}
	return fmt.Sprintf("forbidden: requires one of %s", strings.Join(missing, ", "))
}

type compiledRule struct {
	RoleRule
	segments []string
	prefix   bool
}

func compileRule(rule RoleRule) (compiledRule, error) {
	pattern := strings.TrimSpace(rule.Pattern)
	if pattern == "" || !strings.HasPrefix(pattern, "/") {
		return compiledRule{}, withDetail(ErrInvalidConfig, "rule pattern must start with /", map[string]any{
			"pattern": rule.Pattern,
		})
	}

	c := compiledRule{RoleRule: rule}
	c.Roles = NewRoleSet(rule.Roles...)

	if pattern == "/**" {
		c.prefix = true
		return c, nil
	}
	if strings.HasSuffix(pattern, "/**") {
		c.prefix = true
		pattern = strings.TrimSuffix(pattern, "/**")
	}
	if strings.Contains(pattern, "**") {
		return compiledRule{}, withDetail(ErrInvalidConfig, "** is only supported as the last segment", map[string]any{
			"pattern": rule.Pattern,
		})
	}
	c.segments = splitPath(strings.ToLower(pattern))
	return c, nil
}

func (c compiledRule) match(p string) bool {
	segments := splitPath(p)
	if len(segments) < len(c.segments) {
		return false
	}
	if !c.prefix && len(segments) != len(c.segments) {
		return false
	}
	for i, want := range c.segments {
		if want != "*" && want != segments[i] {
			return false
		}
	}
	return true
}

// cleanPath folds case so a case-insensitive router cannot route around a rule.
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.ToLower(path.Clean(p))
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
