// Package auth is a development token validator implementing
// identity.Validator. It is explicitly NOT a production OIDC verifier —
// per spec.md's Open Question #3, the core depends only on the abstract
// identity.Validator contract; production deployments must supply a
// validator that verifies signature, issuer, audience and expiration.
// This one hands out opaque bearer secrets and trusts them outright.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/controlplane/aicp/internal/identity"
)

// Role is the actor role bound to a dev token. It is a free-form string at
// the identity layer; the approval workflow and policy engine interpret
// roles against their own configured vocabularies.
type Role = string

// token is the internal record behind one issued secret.
type token struct {
	id        string
	secret    string
	role      Role
	agentID   string
	email     string
	sourceIP  string
	createdAt time.Time
	expiresAt time.Time
}

func (t token) isExpired() bool { return time.Now().After(t.expiresAt) }

// TokenManager issues and validates development bearer tokens. It
// satisfies identity.Validator via ValidateToken.
type TokenManager struct {
	mu     sync.RWMutex
	tokens map[string]token // secret -> token
	ttl    time.Duration
	logger *slog.Logger
}

// NewTokenManager creates a token manager with the given default TTL.
func NewTokenManager(ttl time.Duration, logger *slog.Logger) *TokenManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenManager{
		tokens: make(map[string]token),
		ttl:    ttl,
		logger: logger.With("component", "auth.TokenManager"),
	}
}

// IssuedToken is returned to the caller at creation time; Secret is shown
// once and never stored in cleartext logs.
type IssuedToken struct {
	ID        string
	Secret    string
	Role      Role
	AgentID   string
	ExpiresAt time.Time
}

// Issue mints a new bearer token bound to the given actor role, optional
// agent id, email and source-IP binding.
func (m *TokenManager) Issue(role Role, agentID, email, sourceIP string) (IssuedToken, error) {
	secret, err := generateSecret()
	if err != nil {
		return IssuedToken{}, fmt.Errorf("generate token secret: %w", err)
	}
	id, err := generateSecret()
	if err != nil {
		return IssuedToken{}, fmt.Errorf("generate token id: %w", err)
	}

	now := time.Now()
	t := token{
		id:        id[:16],
		secret:    secret,
		role:      role,
		agentID:   agentID,
		email:     email,
		sourceIP:  sourceIP,
		createdAt: now,
		expiresAt: now.Add(m.ttl),
	}

	m.mu.Lock()
	m.tokens[secret] = t
	m.mu.Unlock()

	m.logger.Info("token issued", "token_id", t.id, "role", role, "agent_id", agentID, "expires_at", t.expiresAt)
	return IssuedToken{ID: t.id, Secret: secret, Role: role, AgentID: agentID, ExpiresAt: t.expiresAt}, nil
}

// ValidateToken implements identity.Validator. It validates with an empty
// source IP, so no IP-binding check is made; use ValidateFromIP for that.
func (m *TokenManager) ValidateToken(secret string) (*identity.Metadata, error) {
	return m.ValidateFromIP(secret, "")
}

// ValidateFromIP validates a token and additionally checks IP binding
// against the caller's observed sourceIP.
func (m *TokenManager) ValidateFromIP(secret, sourceIP string) (*identity.Metadata, error) {
	m.mu.RLock()
	t, ok := m.tokens[secret]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("invalid token")
	}
	if t.isExpired() {
		m.mu.Lock()
		delete(m.tokens, secret)
		m.mu.Unlock()
		return nil, fmt.Errorf("token expired")
	}
	if t.sourceIP != "" && sourceIP != "" && t.sourceIP != sourceIP {
		m.logger.Warn("token used from wrong IP", "token_id", t.id, "expected_ip", t.sourceIP, "actual_ip", sourceIP)
		return nil, fmt.Errorf("token not valid from this IP")
	}

	md, err := identity.New(t.id, t.role, t.email, t.sourceIP, "", "")
	if err != nil {
		return nil, err
	}
	return &md, nil
}

// RevokeToken invalidates a secret immediately.
func (m *TokenManager) RevokeToken(secret string) {
	m.mu.Lock()
	if t, ok := m.tokens[secret]; ok {
		m.logger.Info("token revoked", "token_id", t.id)
		delete(m.tokens, secret)
	}
	m.mu.Unlock()
}

// CleanExpired prunes expired tokens and returns the count removed.
func (m *TokenManager) CleanExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for secret, t := range m.tokens {
		if t.isExpired() {
			delete(m.tokens, secret)
			count++
		}
	}
	return count
}

// ActiveTokenCount returns the number of non-expired tokens.
func (m *TokenManager) ActiveTokenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, t := range m.tokens {
		if !t.isExpired() {
			count++
		}
	}
	return count
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
