package models

import (
	"database/sql"
	"time"

	"github.com/devstreak/sync/internal/storage"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

// Connection is the persisted link between a local user and an external
// provider account. (provider, provider_account_id) is unique: the same
// external account can never be linked to two local users.
type Connection struct {
	ID                uuid.UUID          `json:"id" db:"id"`
	UserID            uuid.UUID          `json:"user_id" db:"user_id"`
	Provider          string             `json:"provider" db:"provider"`
	ProviderAccountID string             `json:"provider_account_id" db:"provider_account_id"`
	ProviderUsername  string             `json:"provider_username" db:"provider_username"`
	AccountData       JSONMap            `json:"account_data,omitempty" db:"account_data"`
	AccessToken       string             `json:"-" db:"access_token"`
	RefreshToken      storage.NullString `json:"-" db:"refresh_token"`
	TokenExpiresAt    *time.Time         `json:"token_expires_at,omitempty" db:"token_expires_at"`
	LastScrapedAt     *time.Time         `json:"last_scraped_at,omitempty" db:"last_scraped_at"`
	ErrorCount        int                `json:"error_count" db:"error_count"`
	CreatedAt         time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at" db:"updated_at"`
}

func (Connection) TableName() string {
	tableName := "connections"
	return tableName
}

// NewConnection returns a connection owned by the given user.
func NewConnection(userID uuid.UUID, provider, providerAccountID, providerUsername string) (*Connection, error) {
	if providerAccountID == "" {
		return nil, errors.New("error missing provider account id")
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, errors.Wrap(err, "error generating unique connection id")
	}

	return &Connection{
		ID:                id,
		UserID:            userID,
		Provider:          provider,
		ProviderAccountID: providerAccountID,
		ProviderUsername:  providerUsername,
	}, nil
}

// FindConnectionByID looks up a connection by its id.
func FindConnectionByID(tx *storage.Connection, id uuid.UUID) (*Connection, error) {
	conn := &Connection{}
	if err := tx.Find(conn, id); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return nil, ConnectionNotFoundError{}
		}
		return nil, errors.Wrap(err, "error finding connection")
	}
	return conn, nil
}

// FindConnectionByProviderAccount searches for the connection claiming the
// given external account, regardless of which local user owns it.
func FindConnectionByProviderAccount(tx *storage.Connection, provider, providerAccountID string) (*Connection, error) {
	conn := &Connection{}
	if err := tx.Q().Where("provider = ? AND provider_account_id = ?", provider, providerAccountID).First(conn); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return nil, ConnectionNotFoundError{}
		}
		return nil, errors.Wrap(err, "error finding connection")
	}
	return conn, nil
}

// FindConnectionsByUserID returns all connections owned by a user.
func FindConnectionsByUserID(tx *storage.Connection, userID uuid.UUID) ([]*Connection, error) {
	conns := []*Connection{}
	if err := tx.Q().Where("user_id = ?", userID).Order("created_at asc").All(&conns); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return conns, nil
		}
		return nil, errors.Wrap(err, "error finding connections")
	}
	return conns, nil
}

// FindConnectionsDueForSync returns connections whose last successful sync
// predates olderThan (or never happened), skipping circuit-broken ones. The
// per-type staleness windows are still enforced by the sync job itself.
func FindConnectionsDueForSync(tx *storage.Connection, olderThan time.Time, maxErrors, limit int) ([]*Connection, error) {
	conns := []*Connection{}
	q := tx.Q().
		Where("(last_scraped_at IS NULL OR last_scraped_at < ?) AND error_count <= ?", olderThan, maxErrors).
		Order("last_scraped_at ASC NULLS FIRST").
		Limit(limit)
	if err := q.All(&conns); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return conns, nil
		}
		return nil, errors.Wrap(err, "error finding connections due for sync")
	}
	return conns, nil
}

// FindConnectionByUserAndProvider returns the user's connection for a
// provider, if any.
func FindConnectionByUserAndProvider(tx *storage.Connection, userID uuid.UUID, provider string) (*Connection, error) {
	conn := &Connection{}
	if err := tx.Q().Where("user_id = ? AND provider = ?", userID, provider).First(conn); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return nil, ConnectionNotFoundError{}
		}
		return nil, errors.Wrap(err, "error finding connection")
	}
	return conn, nil
}

// UpsertConnection creates or refreshes the link between userID and the
// external account. When the external account is already claimed by a
// different local user the existing row is left untouched and an
// AccountConflictError is returned.
func UpsertConnection(tx *storage.Connection, userID uuid.UUID, provider, providerAccountID, providerUsername string, accountData JSONMap, token *ProviderToken) (*Connection, error) {
	existing, err := FindConnectionByProviderAccount(tx, provider, providerAccountID)
	if err != nil && !IsNotFoundError(err) {
		return nil, err
	}

	if existing != nil {
		if existing.UserID != userID {
			return nil, AccountConflictError{Provider: provider, Username: existing.ProviderUsername}
		}

		existing.ProviderUsername = providerUsername
		if accountData != nil {
			existing.AccountData = accountData
		}
		existing.applyToken(token)
		if err := tx.UpdateOnly(existing, "provider_username", "account_data", "access_token", "refresh_token", "token_expires_at"); err != nil {
			return nil, errors.Wrap(err, "error updating connection")
		}
		return existing, nil
	}

	conn, err := NewConnection(userID, provider, providerAccountID, providerUsername)
	if err != nil {
		return nil, err
	}
	conn.AccountData = accountData
	conn.applyToken(token)
	if err := tx.Create(conn); err != nil {
		return nil, errors.Wrap(err, "error creating connection")
	}
	return conn, nil
}

// ProviderToken is the ephemeral token material produced by an OAuth token
// endpoint response.
type ProviderToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	ProviderUID  string
}

func (c *Connection) applyToken(token *ProviderToken) {
	if token == nil {
		return
	}
	c.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		c.RefreshToken = storage.NullString(token.RefreshToken)
	}
	c.TokenExpiresAt = token.ExpiresAt
}

// UpdateTokens persists refreshed token material. Callers must hold the
// per-connection lock, see the sync tasks.
func (c *Connection) UpdateTokens(tx *storage.Connection, token *ProviderToken) error {
	c.applyToken(token)
	return tx.UpdateOnly(c, "access_token", "refresh_token", "token_expires_at")
}

// TokenExpired reports whether the access token has an expiry in the past.
func (c *Connection) TokenExpired(now time.Time) bool {
	return c.TokenExpiresAt != nil && c.TokenExpiresAt.Before(now)
}

// RecordScrape marks a successful sync: bumps last_scraped_at and resets the
// consecutive error count.
func (c *Connection) RecordScrape(tx *storage.Connection, now time.Time) error {
	c.LastScrapedAt = &now
	c.ErrorCount = 0
	return tx.UpdateOnly(c, "last_scraped_at", "error_count")
}

// RecordScrapeError increments the consecutive error count.
func (c *Connection) RecordScrapeError(tx *storage.Connection) error {
	c.ErrorCount++
	return tx.UpdateOnly(c, "error_count")
}

// ScrapedWithin reports whether the last successful sync happened inside the
// staleness window.
func (c *Connection) ScrapedWithin(window time.Duration, now time.Time) bool {
	return c.LastScrapedAt != nil && now.Sub(*c.LastScrapedAt) < window
}

// DeleteConnection removes the connection and its cached scrape data.
func DeleteConnection(tx *storage.Connection, conn *Connection) error {
	if err := tx.RawQuery("DELETE FROM "+(&ScrapeSnapshot{}).TableName()+" WHERE connection_id = ?", conn.ID).Exec(); err != nil {
		return errors.Wrap(err, "error deleting scrape snapshots")
	}
	if err := tx.Destroy(conn); err != nil {
		return errors.Wrap(err, "error deleting connection")
	}
	return nil
}
