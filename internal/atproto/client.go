package atproto

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultServiceURL is the primary entryway used when no PDS is known.
const DefaultServiceURL = "https://bsky.social"

// Client issues XRPC calls. The base URL varies per call because session
// holders live on different PDS hosts; serviceURL is the default.
type Client struct {
	http       *resty.Client
	serviceURL string
}

// Option customizes a Client.
type Option func(*Client)

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.http.SetHeader("User-Agent", ua)
		}
	}
}

// WithHTTPClient swaps the underlying transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			timeout := c.http.GetClient().Timeout
			c.http = resty.NewWithClient(hc).SetTimeout(timeout)
		}
	}
}

// NewClient creates a client rooted at serviceURL.
func NewClient(serviceURL string, timeout time.Duration, opts ...Option) *Client {
	if strings.TrimSpace(serviceURL) == "" {
		serviceURL = DefaultServiceURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		http:       resty.New().SetTimeout(timeout).SetHeader("Accept", "application/json"),
		serviceURL: strings.TrimRight(serviceURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ServiceURL returns the default XRPC host.
func (c *Client) ServiceURL() string {
	return c.serviceURL
}

type call struct {
	method        string
	base          string
	nsid          string
	authorization string
	query         url.Values
	body          any
	headers       map[string]string
}

func (c *Client) endpoint(base, nsid string) string {
	if strings.TrimSpace(base) == "" {
		base = c.serviceURL
	}
	return strings.TrimRight(base, "/") + "/xrpc/" + nsid
}

func (c *Client) send(ctx context.Context, in call) (*resty.Response, error) {
	req := c.http.R().SetContext(ctx)
	if in.authorization != "" {
		req.SetHeader("Authorization", in.authorization)
	}
	for k, v := range in.headers {
		req.SetHeader(k, v)
	}
	if len(in.query) > 0 {
		req.SetQueryParamsFromValues(in.query)
	}
	if in.body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(in.body)
	}

	resp, err := req.Execute(in.method, c.endpoint(in.base, in.nsid))
	if err != nil {
		return nil, fmt.Errorf("xrpc %s: %w", in.nsid, err)
	}
	return resp, nil
}

// invoke sends the call and decodes a 2xx JSON body into out.
func (c *Client) invoke(ctx context.Context, in call, out any) error {
	resp, err := c.send(ctx, in)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return newXRPCError(in.nsid, resp.StatusCode(), resp.Body())
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("xrpc %s: decode response: %w", in.nsid, err)
	}
	return nil
}

// Bearer formats a token as an Authorization header value.
func Bearer(token string) string {
	return "Bearer " + token
}

// CreateSession logs in against the primary service.
func (c *Client) CreateSession(ctx context.Context, identifier, password string) (*Session, error) {
	var out Session
	err := c.invoke(ctx, call{
		method: http.MethodPost,
		nsid:   MethodCreateSession,
		body:   map[string]string{"identifier": identifier, "password": password},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSession introspects the session behind an Authorization header value.
func (c *Client) GetSession(ctx context.Context, endpoint, authorization string) (*SessionInfo, error) {
	var out SessionInfo
	err := c.invoke(ctx, call{
		method:        http.MethodGet,
		base:          endpoint,
		nsid:          MethodGetSession,
		authorization: authorization,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshSession exchanges a refresh token for a new token pair.
func (c *Client) RefreshSession(ctx context.Context, endpoint, refreshJwt string) (*Session, error) {
	var out Session
	err := c.invoke(ctx, call{
		method:        http.MethodPost,
		base:          endpoint,
		nsid:          MethodRefreshSession,
		authorization: Bearer(refreshJwt),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetServiceAuth mints a token scoped to one audience and method.
func (c *Client) GetServiceAuth(ctx context.Context, endpoint, accessJwt, aud, lxm string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	query := url.Values{"aud": {aud}}
	if lxm != "" {
		query.Set("lxm", lxm)
	}
	err := c.invoke(ctx, call{
		method:        http.MethodGet,
		base:          endpoint,
		nsid:          MethodGetServiceAuth,
		authorization: Bearer(accessJwt),
		query:         query,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("xrpc %s: empty token", MethodGetServiceAuth)
	}
	return out.Token, nil
}

// GetProfile fetches actor as seen by the session holder.
func (c *Client) GetProfile(ctx context.Context, endpoint, accessJwt, actor string) (*Profile, error) {
	var out Profile
	err := c.invoke(ctx, call{
		method:        http.MethodGet,
		base:          endpoint,
		nsid:          MethodGetProfile,
		authorization: Bearer(accessJwt),
		query:         url.Values{"actor": {actor}},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveHandle maps a handle to its DID.
func (c *Client) ResolveHandle(ctx context.Context, endpoint, handle string) (string, error) {
	var out struct {
		DID string `json:"did"`
	}
	err := c.invoke(ctx, call{
		method: http.MethodGet,
		base:   endpoint,
		nsid:   MethodResolveHandle,
		query:  url.Values{"handle": {strings.TrimPrefix(handle, "@")}},
	}, &out)
	if err != nil {
		return "", err
	}
	return out.DID, nil
}

// CreateFollow writes an app.bsky.graph.follow record in repo and returns its URI.
func (c *Client) CreateFollow(ctx context.Context, endpoint, accessJwt, repo, subject string) (string, error) {
	var out struct {
		URI string `json:"uri"`
		CID string `json:"cid"`
	}
	body := map[string]any{
		"repo":       repo,
		"collection": "app.bsky.graph.follow",
		"record": map[string]any{
			"$type":     "app.bsky.graph.follow",
			"subject":   subject,
			"createdAt": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
	err := c.invoke(ctx, call{
		method:        http.MethodPost,
		base:          endpoint,
		nsid:          MethodCreateRecord,
		authorization: Bearer(accessJwt),
		body:          body,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.URI, nil
}

// GetConvoForMembers resolves or lazily creates the conversation between the
// token holder and members. chatURL is the chat service host.
func (c *Client) GetConvoForMembers(ctx context.Context, chatURL, serviceToken string, members ...string) (*Convo, error) {
	var out struct {
		Convo Convo `json:"convo"`
	}
	err := c.invoke(ctx, call{
		method:        http.MethodGet,
		base:          chatURL,
		nsid:          MethodGetConvoForMembers,
		authorization: Bearer(serviceToken),
		query:         url.Values{"members": members},
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Convo.ID == "" {
		return nil, fmt.Errorf("xrpc %s: response missing convo id", MethodGetConvoForMembers)
	}
	return &out.Convo, nil
}

// SendMessage posts text to convoID and returns the message id.
func (c *Client) SendMessage(ctx context.Context, chatURL, serviceToken, convoID, text string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]any{
		"convoId": convoID,
		"message": map[string]string{"text": text},
	}
	err := c.invoke(ctx, call{
		method:        http.MethodPost,
		base:          chatURL,
		nsid:          MethodSendMessage,
		authorization: Bearer(serviceToken),
		body:          body,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

// Forward issues a GET for nsid on behalf of a caller and returns the raw
// reply whatever its status. Only transport failures are errors.
func (c *Client) Forward(ctx context.Context, endpoint, nsid, authorization, proxy string, query url.Values) (*ProxyResponse, error) {
	headers := map[string]string{}
	if proxy != "" {
		headers[ProxyHeader] = proxy
	}
	resp, err := c.send(ctx, call{
		method:        http.MethodGet,
		base:          endpoint,
		nsid:          nsid,
		authorization: authorization,
		query:         query,
		headers:       headers,
	})
	if err != nil {
		return nil, err
	}
	return &ProxyResponse{
		Status:      resp.StatusCode(),
		ContentType: resp.Header().Get("Content-Type"),
		Body:        resp.Body(),
	}, nil
}
