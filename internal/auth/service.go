package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"

	"ChainPilot/internal/config"
	"ChainPilot/pkg/logger"
)

// Mode selects how requests are authenticated.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeToken    Mode = "token"
)

type tokenEntry struct {
	digest  [sha256.Size]byte
	subject *Subject
}

// Service verifies bearer tokens against the configured token list. Only
// token digests are kept in memory.
type Service struct {
	mode   Mode
	tokens []tokenEntry
	audit  *slog.Logger
}

// NewService builds the service from configuration. In token mode every token
// must resolve to a non-empty value.
func NewService(cfg config.AuthConfig) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(cfg.Mode)))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, audit: logger.Audit()}
	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeToken:
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}

	seen := make(map[[sha256.Size]byte]string, len(cfg.Tokens))
	for i, tc := range cfg.Tokens {
		name := strings.TrimSpace(tc.Name)
		if name == "" {
			name = fmt.Sprintf("token-%d", i+1)
		}
		value := tc.ResolveToken()
		if value == "" {
			return nil, fmt.Errorf("auth token %q has no value", name)
		}
		digest := sha256.Sum256([]byte(value))
		if other, ok := seen[digest]; ok {
			return nil, fmt.Errorf("auth tokens %q and %q share the same value", other, name)
		}
		seen[digest] = name
		subject := &Subject{Name: name, Permissions: append([]string(nil), tc.Permissions...)}
		subject.normalise()
		svc.tokens = append(svc.tokens, tokenEntry{digest: digest, subject: subject})
	}
	if len(svc.tokens) == 0 {
		return nil, fmt.Errorf("auth mode %s requires at least one token", mode)
	}
	return svc, nil
}

// Mode returns the active mode.
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest resolves the subject behind an Authorization header.
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(authorization), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return nil, ErrMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	digest := sha256.Sum256([]byte(token))
	var match *Subject
	for _, entry := range s.tokens {
		if subtle.ConstantTimeCompare(digest[:], entry.digest[:]) == 1 {
			match = entry.subject
		}
	}
	if match == nil {
		return nil, ErrInvalidToken
	}
	return match, nil
}
