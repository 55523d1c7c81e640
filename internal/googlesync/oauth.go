// Package googlesync imports events from a user's primary Google Calendar.
package googlesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"github.com/jw6ventures/calassist/internal/secret"
	"github.com/jw6ventures/calassist/internal/store"
)

// ErrNotConnected is returned when the owner has not linked a Google account.
var ErrNotConnected = errors.New("google calendar is not connected")

// TokenStore persists sealed OAuth tokens.
type TokenStore interface {
	Save(ctx context.Context, ownerID int64, ciphertext []byte) error
	Get(ctx context.Context, ownerID int64) (*store.GoogleToken, error)
	Delete(ctx context.Context, ownerID int64) error
}

// Connector runs the OAuth consent flow and keeps each owner's token sealed
// at rest.
type Connector struct {
	cfg    *oauth2.Config
	tokens TokenStore
	box    *secret.Box
}

// NewConnector builds a read-only Calendar OAuth client. redirectURL must be
// registered with Google.
func NewConnector(clientID, clientSecret, redirectURL string, tokens TokenStore, box *secret.Box) *Connector {
	return &Connector{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{calendar.CalendarReadonlyScope},
			Endpoint:     google.Endpoint,
		},
		tokens: tokens,
		box:    box,
	}
}

// AuthURL is the consent page URL. Offline access with forced consent makes
// Google return a refresh token.
func (c *Connector) AuthURL(state string) string {
	return c.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades the callback code for a token and stores it for owner.
func (c *Connector) Exchange(ctx context.Context, owner int64, code string) error {
	tok, err := c.cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange google code: %w", err)
	}
	return c.save(ctx, owner, tok)
}

// Connected reports whether owner has a stored token.
func (c *Connector) Connected(ctx context.Context, owner int64) (bool, error) {
	_, err := c.tokens.Get(ctx, owner)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Disconnect forgets owner's token.
func (c *Connector) Disconnect(ctx context.Context, owner int64) error {
	return c.tokens.Delete(ctx, owner)
}

// TokenSource returns a refreshing source for owner's stored token.
// Call Persist after use so a refreshed token is written back.
func (c *Connector) TokenSource(ctx context.Context, owner int64) (*PersistingSource, error) {
	tok, err := c.load(ctx, owner)
	if err != nil {
		return nil, err
	}
	return &PersistingSource{
		src:     c.cfg.TokenSource(ctx, tok),
		initial: tok.AccessToken,
		owner:   owner,
		conn:    c,
	}, nil
}

func (c *Connector) save(ctx context.Context, owner int64, tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode google token: %w", err)
	}
	sealed, err := c.box.Seal(raw, ownerAD(owner))
	if err != nil {
		return err
	}
	return c.tokens.Save(ctx, owner, sealed)
}

func (c *Connector) load(ctx context.Context, owner int64) (*oauth2.Token, error) {
	rec, err := c.tokens.Get(ctx, owner)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotConnected
	}
	if err != nil {
		return nil, err
	}
	raw, err := c.box.Open(rec.Ciphertext, ownerAD(owner))
	if err != nil {
		return nil, fmt.Errorf("open google token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decode google token: %w", err)
	}
	return &tok, nil
}

func ownerAD(owner int64) []byte {
	return []byte("google-token:" + strconv.FormatInt(owner, 10))
}

// PersistingSource wraps a refreshing token source and remembers the latest
// token so it can be stored after use.
type PersistingSource struct {
	src     oauth2.TokenSource
	initial string
	last    *oauth2.Token
	owner   int64
	conn    *Connector
}

// Token implements oauth2.TokenSource.
func (p *PersistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}
	p.last = tok
	return tok, nil
}

// Persist stores the latest token if it changed during use.
func (p *PersistingSource) Persist(ctx context.Context) error {
	if p.last == nil || p.last.AccessToken == p.initial {
		return nil
	}
	return p.conn.save(ctx, p.owner, p.last)
}
