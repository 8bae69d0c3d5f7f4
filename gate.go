package tokenauth

import (
	"strings"
	"time"
)

// AuthState is a step of the per-request authentication state machine.
type AuthState int

const (
	StateNoToken AuthState = iota
	StateTokenPresent
	StateAuthenticated
	StateRejected
	StateAllowed
	StateForbidden
)

func (s AuthState) String() string {
	switch s {
	case StateNoToken:
		return "no_token"
	case StateTokenPresent:
		return "token_present"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	case StateAllowed:
		return "allowed"
	case StateForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s AuthState) IsTerminal() bool {
	return s == StateAllowed || s == StateForbidden || s == StateRejected
}

// AuthContext is the per-request authentication state derived from the
// bearer token.
type AuthContext struct {
	State     AuthState
	Username  string
	Roles     RoleSet
	TokenID   string
	FamilyID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	// Err is set when State is StateRejected.
	Err error
	// Decision is set once authorization ran.
	Decision *Decision
}

// Authenticated reports whether a valid access token was presented.
func (c *AuthContext) Authenticated() bool {
	return c != nil && c.Username != "" && c.Err == nil
}

// CallerRoles returns the roles to authorize with; anonymous callers have none.
func (c *AuthContext) CallerRoles() RoleSet {
	if !c.Authenticated() {
		return nil
	}
	return c.Roles
}

// ExtractBearer returns the token of an "Authorization: Bearer <token>"
// header value. The scheme is case insensitive.
func ExtractBearer(header string) (string, bool) {
	header = strings.TrimSpace(header)
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticate runs the authentication half of the state machine:
// NoToken -> TokenPresent -> Authenticated | Rejected.
func (s *TokenService) Authenticate(authorizationHeader string) *AuthContext {
	ac := &AuthContext{State: StateNoToken}
	if strings.TrimSpace(authorizationHeader) == "" {
		return ac
	}

	ac.State = StateTokenPresent
	token, ok := ExtractBearer(authorizationHeader)
	if !ok {
		ac.State = StateRejected
		ac.Err = withDetail(ErrTokenMalformed, "authorization header is not a bearer token", nil)
		return ac
	}

	claims, err := s.Validate(token, TokenTypeAccess)
	if err != nil {
		ac.State = StateRejected
		ac.Err = err
		return ac
	}

	ac.State = StateAuthenticated
	ac.Username = ExtractUsername(claims)
	ac.Roles = ExtractRoles(claims)
	ac.TokenID = claims.TokenID()
	ac.FamilyID = claims.FamilyID
	ac.IssuedAt = claims.Issued()
	ac.ExpiresAt = claims.Expires()
	return ac
}

// Gate couples token validation with the authorizer for a single request.
type Gate struct {
	tokens     *TokenService
	authorizer *Authorizer
	logger     Logger
}

// NewGate returns a Gate.
func NewGate(tokens *TokenService, authorizer *Authorizer, logger Logger) *Gate {
	return &Gate{
		tokens:     tokens,
		authorizer: authorizer,
		logger:     resolveLogger(logger),
	}
}

// Evaluate drives a request to a terminal state: Allowed, Forbidden or
// Rejected. A present but invalid token is rejected even on public paths.
func (g *Gate) Evaluate(authorizationHeader, requestPath string) *AuthContext {
	ac := g.tokens.Authenticate(authorizationHeader)
	if ac.State == StateRejected {
		g.logger.Debug("Gate rejected token", "path", requestPath, "kind", KindOf(ac.Err))
		return ac
	}

	decision := g.authorizer.Authorize(requestPath, ac.CallerRoles())
	ac.Decision = &decision
	if decision.Allowed {
		ac.State = StateAllowed
	} else {
		ac.State = StateForbidden
	}
	return ac
}
