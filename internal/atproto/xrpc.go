// Package atproto is a narrow XRPC client for the PDS and chat service calls
// the relay needs. It is not a general AT Protocol client.
package atproto

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// XRPC method identifiers used by the relay.
const (
	MethodCreateSession      = "com.atproto.server.createSession"
	MethodGetSession         = "com.atproto.server.getSession"
	MethodRefreshSession     = "com.atproto.server.refreshSession"
	MethodGetServiceAuth     = "com.atproto.server.getServiceAuth"
	MethodResolveHandle      = "com.atproto.identity.resolveHandle"
	MethodCreateRecord       = "com.atproto.repo.createRecord"
	MethodGetProfile         = "app.bsky.actor.getProfile"
	MethodGetConvoForMembers = "chat.bsky.convo.getConvoForMembers"
	MethodSendMessage        = "chat.bsky.convo.sendMessage"
	MethodListConvos         = "chat.bsky.convo.listConvos"
	MethodGetMessages        = "chat.bsky.convo.getMessages"
)

// ProxyHeader names the service a PDS should forward a request to.
const ProxyHeader = "Atproto-Proxy"

// XRPCError is a non-2xx XRPC response. Body is kept verbatim so proxies can
// pass it through unchanged.
type XRPCError struct {
	Method  string
	Status  int
	Body    []byte
	Name    string
	Message string
}

func (e *XRPCError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "xrpc %s: status %d", e.Method, e.Status)
	if e.Name != "" {
		b.WriteString(": ")
		b.WriteString(e.Name)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// IsAuthFailure reports whether the response means the bearer credential
// was rejected: a 401, or a 400 carrying ExpiredToken or InvalidToken.
func (e *XRPCError) IsAuthFailure() bool {
	if e == nil {
		return false
	}
	switch e.Status {
	case http.StatusUnauthorized:
		return true
	case http.StatusBadRequest:
		return e.Name == "ExpiredToken" || e.Name == "InvalidToken"
	}
	return false
}

// StatusOf returns the upstream status carried by err, or 0.
func StatusOf(err error) int {
	var xe *XRPCError
	if errors.As(err, &xe) {
		return xe.Status
	}
	return 0
}

func newXRPCError(method string, status int, body []byte) *XRPCError {
	xe := &XRPCError{Method: method, Status: status, Body: body}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		xe.Name = payload.Error
		xe.Message = payload.Message
	}
	return xe
}
