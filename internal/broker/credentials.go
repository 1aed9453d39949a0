package broker

import (
	"context"
	"fmt"
	"time"

	"hedgeengine/internal/ledger"
	"hedgeengine/internal/models"
	"hedgeengine/pkg/crypto"
	"hedgeengine/pkg/utils"
)

const (
	accessTokenLifetime  = 30 * time.Minute
	refreshTokenLifetime = 7 * 24 * time.Hour
	minWakeInterval      = 5 * time.Minute
	refreshLeadTime      = 5 * time.Minute
)

// CredentialManager owns the OAuth token pair's encrypted persistence
// and its background refresh cycle, per spec.md section 4.7. The
// encryption key is supplied by process configuration and never
// written to disk.
type CredentialManager struct {
	creds *ledger.CredentialsRepository
	key   []byte
	oauth *OAuth
	log   *utils.Logger

	stop chan struct{}
	done chan struct{}
}

// NewCredentialManager builds a manager over an already-constructed
// OAuth broker and the ledger's credentials repository. key must be
// exactly 32 bytes (AES-256).
func NewCredentialManager(creds *ledger.CredentialsRepository, key []byte, oauth *OAuth) *CredentialManager {
	return &CredentialManager{
		creds: creds,
		key:   key,
		oauth: oauth,
		log:   utils.L().WithComponent("broker.credentials"),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// LoadInitial seeds the OAuth broker's in-memory tokens from the
// ledger's encrypted row, decrypting both halves. Returns
// ledger.ErrCredentialsNotFound if no row exists yet (first run,
// before the authorization-code exchange has happened).
func (m *CredentialManager) LoadInitial(ctx context.Context) error {
	row, err := m.creds.Get()
	if err != nil {
		return err
	}

	access, err := crypto.DecryptCredential(row.AccessTokenCipher, row.AccessTokenNonce, m.key)
	if err != nil {
		return fmt.Errorf("decrypt access token: %w", err)
	}
	refresh, err := crypto.DecryptCredential(row.RefreshTokenCipher, row.RefreshTokenNonce, m.key)
	if err != nil {
		return fmt.Errorf("decrypt refresh token: %w", err)
	}

	m.oauth.mu.Lock()
	m.oauth.tokens = Tokens{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  row.AccessIssuedAt.Add(accessTokenLifetime),
		RefreshExpiresAt: row.RefreshIssuedAt.Add(refreshTokenLifetime),
	}
	m.oauth.mu.Unlock()
	return nil
}

// Persist encrypts and writes tokens to the ledger, replacing whatever
// row already exists.
func (m *CredentialManager) Persist(tokens Tokens, issuedAt time.Time) error {
	accessCipher, accessNonce, err := crypto.EncryptCredential(tokens.AccessToken, m.key)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	refreshCipher, refreshNonce, err := crypto.EncryptCredential(tokens.RefreshToken, m.key)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}

	return m.creds.Upsert(&models.BrokerCredentials{
		AccessTokenCipher:  accessCipher,
		AccessTokenNonce:   accessNonce,
		AccessIssuedAt:     issuedAt,
		RefreshTokenCipher: refreshCipher,
		RefreshTokenNonce:  refreshNonce,
		RefreshIssuedAt:    issuedAt,
	})
}

// Run drives the background refresh cycle until ctx is cancelled or
// Stop is called. It wakes at min(access_token_expiry - 5m, 5m); on
// wake, if expiry is under five minutes away, it refreshes and
// persists the new pair atomically. A refresh-token-expired failure is
// fatal and is logged; subsequent order attempts fail immediately
// because OAuth.PlaceMarketOrder checks token expiry up front.
func (m *CredentialManager) Run(ctx context.Context) {
	defer close(m.done)
	for {
		wake := m.nextWake()
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-time.After(wake):
		}

		tokens := m.oauth.CurrentTokens()
		if time.Until(tokens.AccessExpiresAt) >= refreshLeadTime {
			continue
		}

		if err := m.oauth.RefreshCredentials(ctx); err != nil {
			m.log.Error("credential refresh failed", utils.Err(err))
			continue
		}

		now := time.Now().UTC()
		if err := m.Persist(m.oauth.CurrentTokens(), now); err != nil {
			m.log.Error("persist refreshed credentials failed", utils.Err(err))
		}
	}
}

func (m *CredentialManager) nextWake() time.Duration {
	tokens := m.oauth.CurrentTokens()
	untilExpiry := time.Until(tokens.AccessExpiresAt) - refreshLeadTime
	if untilExpiry < 0 {
		untilExpiry = 0
	}
	if untilExpiry < minWakeInterval {
		return untilExpiry
	}
	return minWakeInterval
}

// Stop signals Run to exit and blocks until it has.
func (m *CredentialManager) Stop() {
	close(m.stop)
	<-m.done
}
