package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"etl-personal/internal/model"
)

// Names identifies the two secret blobs a source needs: the OAuth client
// configuration and the token set.
type Names struct {
	Client string
	Token  string
}

// clientConfig is the client-secret blob as downloaded from the provider's
// console.
type clientConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	TokenURI     string `json:"token_uri"`
}

// storedToken is the token blob written back to the backend after every
// refresh so subsequent runs reuse the rotated token.
type storedToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// Store exposes valid credentials per source on top of a secret backend.
//
// Refresh for a given source must not run concurrently from two processes
// against the same secret version; runs are scheduled rather than
// concurrent, and the per-source run lease enforces that assumption.
type Store struct {
	backend Backend
	names   map[string]Names
	now     func() time.Time
}

func NewStore(backend Backend, names map[string]Names) *Store {
	return &Store{backend: backend, names: names, now: time.Now}
}

// Get returns a non-expired credential for the source, refreshing it first
// when the stored access token has expired.
func (s *Store) Get(ctx context.Context, sourceID string) (model.Credential, error) {
	tok, err := s.readToken(ctx, sourceID)
	if err != nil {
		return model.Credential{}, err
	}

	cred := model.Credential{
		SourceID:     sourceID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if cred.Valid(s.now()) {
		return cred, nil
	}

	logrus.Infof("access token for source %q expired, refreshing", sourceID)
	return s.Refresh(ctx, sourceID)
}

// Refresh exchanges the stored refresh token for a new access token and
// writes the rotated token set back to the backend. A rejected refresh
// token surfaces as an AuthError: that condition needs a human to
// re-authorize and must not be retried.
func (s *Store) Refresh(ctx context.Context, sourceID string) (model.Credential, error) {
	names, ok := s.names[sourceID]
	if !ok {
		return model.Credential{}, &model.AuthError{SourceID: sourceID, Err: fmt.Errorf("no secrets configured")}
	}

	tok, err := s.readToken(ctx, sourceID)
	if err != nil {
		return model.Credential{}, err
	}

	raw, err := s.backend.Get(ctx, names.Client)
	if err != nil {
		return model.Credential{}, &model.AuthError{SourceID: sourceID, Err: err}
	}
	var cc clientConfig
	if err := json.Unmarshal(raw, &cc); err != nil {
		return model.Credential{}, &model.AuthError{SourceID: sourceID, Err: fmt.Errorf("malformed client config: %w", err)}
	}

	conf := &oauth2.Config{
		ClientID:     cc.ClientID,
		ClientSecret: cc.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cc.TokenURI},
	}
	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		// Covers revoked and expired refresh tokens (invalid_grant).
		return model.Credential{}, &model.AuthError{SourceID: sourceID, Err: err}
	}

	rotated := storedToken{
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		Expiry:       fresh.Expiry,
	}
	if rotated.RefreshToken == "" {
		// Providers often omit the refresh token on refresh responses.
		rotated.RefreshToken = tok.RefreshToken
	}

	data, err := json.Marshal(rotated)
	if err != nil {
		return model.Credential{}, err
	}
	if err := s.backend.Put(ctx, names.Token, data); err != nil {
		return model.Credential{}, fmt.Errorf("failed to write back refreshed token for source %q: %w", sourceID, err)
	}
	logrus.Infof("refreshed token for source %q (expires %s)", sourceID, rotated.Expiry.Format(time.RFC3339))

	return model.Credential{
		SourceID:     sourceID,
		AccessToken:  rotated.AccessToken,
		RefreshToken: rotated.RefreshToken,
		Expiry:       rotated.Expiry,
	}, nil
}

func (s *Store) readToken(ctx context.Context, sourceID string) (storedToken, error) {
	names, ok := s.names[sourceID]
	if !ok {
		return storedToken{}, &model.AuthError{SourceID: sourceID, Err: fmt.Errorf("no secrets configured")}
	}

	raw, err := s.backend.Get(ctx, names.Token)
	if err != nil {
		return storedToken{}, &model.AuthError{SourceID: sourceID, Err: err}
	}
	var tok storedToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return storedToken{}, &model.AuthError{SourceID: sourceID, Err: fmt.Errorf("malformed token blob: %w", err)}
	}
	if tok.RefreshToken == "" && tok.AccessToken == "" {
		return storedToken{}, &model.AuthError{SourceID: sourceID, Err: fmt.Errorf("token blob holds no tokens")}
	}
	return tok, nil
}
