package token

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/gatekeep/clock"
	"github.com/MrEthical07/gatekeep/internal"
	"github.com/MrEthical07/gatekeep/refresh"
)

// Issuer mints access and refresh tokens.
type Issuer struct {
	codec      *Codec
	store      refresh.Store
	clock      clock.Clock
	accessTTL  time.Duration
	refreshTTL time.Duration
	newID      func() (string, error)
}

// NewIssuer wires an Issuer. store receives one Active record per
// [Issuer.IssueRefresh] call.
func NewIssuer(codec *Codec, store refresh.Store, clk clock.Clock, accessTTL, refreshTTL time.Duration) (*Issuer, error) {
	if codec == nil || !codec.CanSign() {
		return nil, errors.New("issuer requires a codec with a signing key")
	}
	if store == nil {
		return nil, errors.New("issuer requires a refresh store")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	return &Issuer{
		codec:      codec,
		store:      store,
		clock:      clock.OrSystem(clk),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		newID:      newTokenID,
	}, nil
}

func newTokenID() (string, error) {
	id, err := internal.NewTokenID()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// now truncates to the second so the claims we return match what a
// subsequent Decode yields.
func (i *Issuer) now() time.Time {
	return i.clock.Now().Truncate(time.Second)
}

// IssueAccess mints an access token for subject with role.
func (i *Issuer) IssueAccess(subject, role string) (string, error) {
	tok, _, err := i.IssueAccessClaims(subject, role)
	return tok, err
}

// IssueAccessClaims is IssueAccess that also returns the signed claims.
func (i *Issuer) IssueAccessClaims(subject, role string) (string, Claims, error) {
	now := i.now()
	claims := Claims{
		Subject:   subject,
		Role:      role,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.accessTTL),
		Kind:      KindAccess,
	}
	tok, err := i.codec.Encode(claims)
	if err != nil {
		return "", Claims{}, err
	}
	return tok, claims, nil
}

// PrepareRefresh builds a refresh token and its record without registering
// it. Rotation hands the record to [refresh.Store.Rotate] so the successor is
// committed together with the transition.
func (i *Issuer) PrepareRefresh(subject, role string) (string, refresh.Record, error) {
	id, err := i.newID()
	if err != nil {
		return "", refresh.Record{}, err
	}

	now := i.now()
	claims := Claims{
		Subject:   subject,
		Role:      role,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.refreshTTL),
		Kind:      KindRefresh,
		TokenID:   id,
	}
	tok, err := i.codec.Encode(claims)
	if err != nil {
		return "", refresh.Record{}, err
	}

	return tok, refresh.Record{
		TokenID:   id,
		Subject:   subject,
		Role:      role,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
		State:     refresh.StateActive,
	}, nil
}

// IssueRefresh mints a refresh token and registers it as Active.
func (i *Issuer) IssueRefresh(ctx context.Context, subject, role string) (string, string, error) {
	tok, rec, err := i.PrepareRefresh(subject, role)
	if err != nil {
		return "", "", err
	}
	if err := i.store.Create(ctx, rec); err != nil {
		return "", "", err
	}
	return tok, rec.TokenID, nil
}
