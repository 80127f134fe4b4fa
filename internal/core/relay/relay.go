package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/openmkt/openmkt/internal/atproto"
)

var (
	// ErrConversationUnavailable means the chat service would not open a
	// conversation with the recipient, usually because of a block or bad DID.
	ErrConversationUnavailable = errors.New("conversation unavailable")

	// ErrSendFailed means the conversation resolved but the message was rejected.
	ErrSendFailed = errors.New("send failed")
)

// Error wraps a relay failure with its sentinel kind and upstream cause.
type Error struct {
	Kind      error
	Recipient string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("relay to %s: %v: %v", e.Recipient, e.Kind, e.Err)
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Minter is satisfied by *Broker.
type Minter interface {
	Mint(ctx context.Context, audience, methodScope string) (string, error)
}

// ChatAPI is the chat service surface used by Client. *atproto.Client satisfies it.
type ChatAPI interface {
	GetConvoForMembers(ctx context.Context, chatURL, serviceToken string, members ...string) (*atproto.Convo, error)
	SendMessage(ctx context.Context, chatURL, serviceToken, convoID, text string) (string, error)
}

// Client sends messages as the relay account. It performs no retries;
// a failed delivery is terminal for the request that triggered it.
type Client struct {
	Minter Minter
	Chat   ChatAPI

	// ChatURL is the chat service host called directly with service-auth tokens.
	ChatURL string
	// Audience is the chat service DID tokens are minted for.
	Audience string
}

// Introduce tells sellerDID about an interested buyer.
func (c *Client) Introduce(ctx context.Context, sellerDID, message string) error {
	return c.deliver(ctx, sellerDID, message)
}

// NotifyAdmin sends a report to the operator account.
func (c *Client) NotifyAdmin(ctx context.Context, adminDID, message string) error {
	return c.deliver(ctx, adminDID, message)
}

func (c *Client) deliver(ctx context.Context, recipient, message string) error {
	convoToken, err := c.Minter.Mint(ctx, c.Audience, atproto.MethodGetConvoForMembers)
	if err != nil {
		return err
	}

	convo, err := c.Chat.GetConvoForMembers(ctx, c.ChatURL, convoToken, recipient)
	if err != nil {
		return &Error{Kind: ErrConversationUnavailable, Recipient: recipient, Err: err}
	}

	messageToken, err := c.Minter.Mint(ctx, c.Audience, atproto.MethodSendMessage)
	if err != nil {
		return err
	}

	if _, err := c.Chat.SendMessage(ctx, c.ChatURL, messageToken, convo.ID, message); err != nil {
		return &Error{Kind: ErrSendFailed, Recipient: recipient, Err: err}
	}
	return nil
}

func isAuthFailure(err error) bool {
	var xe *atproto.XRPCError
	return errors.As(err, &xe) && xe.IsAuthFailure()
}
