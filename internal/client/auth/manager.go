package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/invoicekeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/invoicekeeper/internal/common"
	"github.com/dmitrijs2005/invoicekeeper/internal/logging"
	"golang.org/x/sync/singleflight"
)

// DefaultLookahead is how long before expiry a credential counts as
// expiring soon.
const DefaultLookahead = 5 * time.Minute

// Manager owns the process-wide credential.
//
// State machine: unauthorized -> (interactive authorize) -> authorized;
// authorized -> (expiring soon, silent renewal) -> authorized;
// authorized -> (renewal rejected / Invalidate) -> unauthorized.
type Manager struct {
	meta      metadata.Repository
	authz     Authorizer
	log       logging.Logger
	lookahead time.Duration
	now       func() time.Time

	mu           sync.Mutex
	cred         Credential
	onInvalidate []func()

	renew singleflight.Group
}

func NewManager(meta metadata.Repository, authz Authorizer, lookahead time.Duration, log logging.Logger) *Manager {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	return &Manager{
		meta:      meta,
		authz:     authz,
		log:       log,
		lookahead: lookahead,
		now:       time.Now,
	}
}

// OnInvalidate registers fn to run whenever the credential is dropped.
func (m *Manager) OnInvalidate(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onInvalidate = append(m.onInvalidate, fn)
}

// Load restores a persisted credential. An expired credential that cannot be
// renewed is discarded.
func (m *Manager) Load(ctx context.Context) error {
	var c Credential
	ok, err := metadata.GetJSON(ctx, m.meta, common.MetaCredential, &c)
	if err != nil {
		m.log.Warn(ctx, "discarding unreadable credential", "err", err)
		return m.Invalidate(ctx)
	}
	if !ok || !c.Authorized() {
		return nil
	}
	if c.Expired(m.now()) && !c.CanRenew() {
		m.log.Info(ctx, "stored credential expired")
		return m.Invalidate(ctx)
	}

	m.mu.Lock()
	m.cred = c
	m.mu.Unlock()
	return nil
}

// Credential returns a copy of the current credential.
func (m *Manager) Credential() Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred
}

// IsAuthorized reports whether a credential is held.
func (m *Manager) IsAuthorized() bool {
	return m.Credential().Authorized()
}

// IsExpiringSoon reports whether the credential expires within the lookahead.
func (m *Manager) IsExpiringSoon() bool {
	c := m.Credential()
	if !c.Authorized() || c.Expiry.IsZero() {
		return false
	}
	return m.now().Add(m.lookahead).After(c.Expiry)
}

// Authorize obtains and stores a credential. Interactive authorization may
// involve the user; silent authorization only renews an existing session and
// fails with common.ErrAuthRequired when there is none.
func (m *Manager) Authorize(ctx context.Context, interactive bool) (Credential, error) {
	if interactive {
		tok, err := m.authz.AuthorizeInteractive(ctx)
		if err != nil {
			return Credential{}, fmt.Errorf("authorize: %w", err)
		}
		c := fromToken(tok, Credential{}, m.now())
		if err := m.store(ctx, c); err != nil {
			return Credential{}, err
		}
		m.log.Info(ctx, "authorized", "expiry", c.Expiry)
		return c, nil
	}

	// Concurrent callers share one renewal.
	v, err, _ := m.renew.Do("silent", func() (any, error) {
		prev := m.Credential()
		if !prev.CanRenew() {
			return Credential{}, common.ErrAuthRequired
		}
		tok, err := m.authz.Refresh(ctx, prev.RefreshToken)
		if err != nil {
			return Credential{}, err
		}
		c := fromToken(tok, prev, m.now())
		if err := m.store(ctx, c); err != nil {
			return Credential{}, err
		}
		m.log.Debug(ctx, "credential renewed", "expiry", c.Expiry)
		return c, nil
	})
	if err != nil {
		return Credential{}, fmt.Errorf("silent authorize: %w", err)
	}
	return v.(Credential), nil
}

// Token returns an access token for an authenticated call, attempting one
// silent renewal first when the credential is expiring soon. A failed renewal
// is tolerated while the current token is still valid.
func (m *Manager) Token(ctx context.Context) (string, error) {
	c := m.Credential()
	if !c.Authorized() {
		return "", common.ErrAuthRequired
	}
	if !m.IsExpiringSoon() {
		return c.AccessToken, nil
	}

	renewed, err := m.Authorize(ctx, false)
	if err == nil {
		return renewed.AccessToken, nil
	}
	if !c.Expired(m.now()) {
		m.log.Warn(ctx, "proactive renewal failed, using current token", "err", err)
		return c.AccessToken, nil
	}
	if errors.Is(err, common.ErrAuthRequired) {
		_ = m.Invalidate(ctx)
	}
	return "", err
}

// Invalidate drops the in-memory and persisted credential.
func (m *Manager) Invalidate(ctx context.Context) error {
	m.mu.Lock()
	m.cred = Credential{}
	hooks := append([]func(){}, m.onInvalidate...)
	m.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	if err := m.meta.Delete(ctx, common.MetaCredential); err != nil {
		return fmt.Errorf("invalidate credential: %w", err)
	}
	return nil
}

func (m *Manager) store(ctx context.Context, c Credential) error {
	if err := metadata.SetJSON(ctx, m.meta, common.MetaCredential, c); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	m.mu.Lock()
	m.cred = c
	m.mu.Unlock()
	return nil
}
