// Package approval issues and verifies approval tokens for paused runs.
//
// A token is an HMAC-signed JWT binding {run_id, step, approver}. Applying a
// verified token resumes the run (approve) or fails it (deny).
package approval

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tombee/maestro/pkg/errors"
	"github.com/tombee/maestro/pkg/run"
)

// Decisions an approver can take.
const (
	DecisionApprove = "approve"
	DecisionDeny    = "deny"
)

const (
	issuer          = "maestro"
	defaultTokenTTL = 24 * time.Hour
)

// Claims bind an approval decision to one run step and approver.
type Claims struct {
	jwt.RegisteredClaims
	RunID    string `json:"run_id"`
	Step     int    `json:"step"`
	Approver string `json:"approver"`
	Decision string `json:"decision"`
}

// Manager signs and applies approval tokens.
type Manager struct {
	store  *run.Store
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager over a run store with an HMAC secret.
func NewManager(store *run.Store, secret []byte, opts ...Option) (*Manager, error) {
	if len(secret) == 0 {
		return nil, &errors.ValidationError{
			Field:      "secret",
			Message:    "approval secret is required",
			Suggestion: "set MAESTRO_APPROVAL_SECRET",
		}
	}
	m := &Manager{
		store:  store,
		secret: secret,
		ttl:    defaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue signs a token for a pending approval. The run must exist and be
// awaiting approval at the named step.
func (m *Manager) Issue(runID string, step int, approver, decision string) (string, error) {
	if approver == "" {
		return "", &errors.ValidationError{Field: "approver", Message: "approver is required"}
	}
	switch decision {
	case DecisionApprove, DecisionDeny:
	default:
		return "", &errors.ValidationError{
			Field:      "decision",
			Message:    fmt.Sprintf("unknown decision %q", decision),
			Suggestion: "use approve or deny",
		}
	}

	record, err := m.store.ReadRun(runID)
	if err != nil {
		return "", err
	}
	if record.Status != run.StatusAwaitingApproval {
		return "", &errors.StateTransitionError{
			RunID: runID,
			From:  string(record.Status),
			To:    string(run.StatusInProgress),
		}
	}
	if record.CurrentStep != step {
		return "", &errors.ValidationError{
			Field:   "step",
			Message: fmt.Sprintf("run %s is paused at step %d, not %d", runID, record.CurrentStep, step),
		}
	}

	now := m.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   runID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		RunID:    runID,
		Step:     step,
		Approver: approver,
		Decision: decision,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign approval token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token without applying it.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, &errors.ValidationError{Field: "token", Message: "token is empty"}
	}

	parser := jwt.NewParser(jwt.WithLeeway(30 * time.Second))
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse approval token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("approval token is invalid")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid approval claims")
	}
	if claims.Issuer != issuer {
		return nil, fmt.Errorf("invalid issuer %q", claims.Issuer)
	}
	if claims.RunID == "" || claims.Approver == "" {
		return nil, &errors.ValidationError{Field: "token", Message: "token is missing run or approver binding"}
	}
	return claims, nil
}

// Apply verifies a token and transitions the run: approve resumes the
// paused step, deny fails the run. The decision is recorded in run
// metadata either way.
func (m *Manager) Apply(tokenString string) (*run.Record, error) {
	claims, err := m.Verify(tokenString)
	if err != nil {
		return nil, err
	}

	record, err := m.store.ReadRun(claims.RunID)
	if err != nil {
		return nil, err
	}
	if record.Status != run.StatusAwaitingApproval {
		return nil, &errors.StateTransitionError{
			RunID: claims.RunID,
			From:  string(record.Status),
			To:    string(run.StatusInProgress),
		}
	}
	if record.CurrentStep != claims.Step {
		return nil, &errors.ValidationError{
			Field:   "step",
			Message: fmt.Sprintf("token is for step %d but run is paused at step %d", claims.Step, record.CurrentStep),
		}
	}

	next := run.StatusInProgress
	if claims.Decision == DecisionDeny {
		next = run.StatusFailed
	}

	return m.store.UpdateRun(claims.RunID, run.Patch{
		Status: &next,
		Metadata: map[string]any{
			"approval": map[string]any{
				"step":     claims.Step,
				"approver": claims.Approver,
				"decision": claims.Decision,
				"at":       m.now().UTC().Format(time.RFC3339),
			},
		},
	})
}
