// Package relay delivers bot-authored chat messages: minting scoped
// service-auth tokens and resolving conversations on the chat service.
package relay

import (
	"context"
	"errors"
	"fmt"
)

// PrimarySession is the authenticated session tokens are minted from.
type PrimarySession struct {
	DID       string
	AccessJWT string
	// Endpoint is the PDS hosting the account.
	Endpoint string
}

// SessionSource supplies the relay account's primary session.
type SessionSource interface {
	PrimarySession(ctx context.Context) (PrimarySession, error)
}

// SessionInvalidator is implemented by sources that cache their session and
// can drop it after the upstream rejected it.
type SessionInvalidator interface {
	InvalidateSession()
}

// ServiceAuthAPI mints service-auth tokens. *atproto.Client satisfies it.
type ServiceAuthAPI interface {
	GetServiceAuth(ctx context.Context, endpoint, accessJwt, aud, lxm string) (string, error)
}

// AuthBrokerError reports that no token could be minted. It is not retried.
type AuthBrokerError struct {
	Audience string
	Scope    string
	Err      error
}

func (e *AuthBrokerError) Error() string {
	return fmt.Sprintf("mint service auth for %s (%s): %v", e.Scope, e.Audience, e.Err)
}

func (e *AuthBrokerError) Unwrap() error {
	return e.Err
}

// ErrNoSession means the source has no usable primary session.
var ErrNoSession = errors.New("primary session unavailable")

// Broker mints one narrowly scoped token per downstream call. Tokens are
// never cached because each carries a different method scope.
type Broker struct {
	Sessions SessionSource
	API      ServiceAuthAPI

	// OnMint observes every mint attempt.
	OnMint func(methodScope string, ok bool)
}

// Mint returns a token for audience limited to methodScope.
func (b *Broker) Mint(ctx context.Context, audience, methodScope string) (string, error) {
	token, err := b.mint(ctx, audience, methodScope)
	if b != nil && b.OnMint != nil {
		b.OnMint(methodScope, err == nil)
	}
	return token, err
}

func (b *Broker) mint(ctx context.Context, audience, methodScope string) (string, error) {
	if b == nil || b.Sessions == nil || b.API == nil {
		return "", &AuthBrokerError{Audience: audience, Scope: methodScope, Err: ErrNoSession}
	}

	session, err := b.Sessions.PrimarySession(ctx)
	if err != nil {
		return "", &AuthBrokerError{Audience: audience, Scope: methodScope, Err: err}
	}
	if session.AccessJWT == "" {
		return "", &AuthBrokerError{Audience: audience, Scope: methodScope, Err: ErrNoSession}
	}

	token, err := b.API.GetServiceAuth(ctx, session.Endpoint, session.AccessJWT, audience, methodScope)
	if err != nil {
		if inv, ok := b.Sessions.(SessionInvalidator); ok && isAuthFailure(err) {
			inv.InvalidateSession()
		}
		return "", &AuthBrokerError{Audience: audience, Scope: methodScope, Err: err}
	}
	return token, nil
}
