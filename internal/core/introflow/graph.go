package introflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openmkt/openmkt/internal/atproto"
	"github.com/openmkt/openmkt/internal/core"
)

// GraphAPI is the XRPC surface AtprotoGraph uses. *atproto.Client satisfies it.
type GraphAPI interface {
	GetProfile(ctx context.Context, endpoint, accessJwt, actor string) (*atproto.Profile, error)
	CreateFollow(ctx context.Context, endpoint, accessJwt, repo, subject string) (string, error)
}

// AtprotoGraph answers follow questions as the buyer, using the viewer
// state of getProfile.
type AtprotoGraph struct {
	API       GraphAPI
	Endpoint  string
	AccessJWT string
	BuyerDID  string
	BotHandle string
}

func (g *AtprotoGraph) botHandle() string {
	if h := strings.TrimPrefix(strings.TrimSpace(g.BotHandle), "@"); h != "" {
		return h
	}
	return core.BotHandle
}

// FollowsBot reports whether the buyer follows the relay account.
func (g *AtprotoGraph) FollowsBot(ctx context.Context) (bool, error) {
	return g.FollowsActor(ctx, g.botHandle())
}

// FollowsActor reports whether the buyer follows actor (DID or handle).
func (g *AtprotoGraph) FollowsActor(ctx context.Context, actor string) (bool, error) {
	profile, err := g.API.GetProfile(ctx, g.Endpoint, g.AccessJWT, actor)
	if err != nil {
		return false, fmt.Errorf("get profile %s: %w", actor, err)
	}
	return profile.IsFollowing(), nil
}

// FollowBot resolves the relay account and follows it.
func (g *AtprotoGraph) FollowBot(ctx context.Context) error {
	profile, err := g.API.GetProfile(ctx, g.Endpoint, g.AccessJWT, g.botHandle())
	if err != nil {
		return fmt.Errorf("get profile %s: %w", g.botHandle(), err)
	}
	if profile.DID == "" {
		return errors.New("bot profile has no did")
	}
	return g.Follow(ctx, profile.DID)
}

// Follow writes a follow record for did in the buyer's repo.
func (g *AtprotoGraph) Follow(ctx context.Context, did string) error {
	if strings.TrimSpace(did) == "" {
		return errors.New("follow subject is required")
	}
	if _, err := g.API.CreateFollow(ctx, g.Endpoint, g.AccessJWT, g.BuyerDID, did); err != nil {
		return fmt.Errorf("follow %s: %w", did, err)
	}
	return nil
}
