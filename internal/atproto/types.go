package atproto

import "strings"

// Session is the result of createSession or refreshSession.
type Session struct {
	DID        string       `json:"did"`
	Handle     string       `json:"handle"`
	AccessJwt  string       `json:"accessJwt"`
	RefreshJwt string       `json:"refreshJwt"`
	Active     *bool        `json:"active,omitempty"`
	DIDDoc     *DIDDocument `json:"didDoc,omitempty"`
}

// SessionInfo is the getSession introspection result.
type SessionInfo struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}

// DIDDocument carries the service entries needed to locate a PDS.
type DIDDocument struct {
	ID      string       `json:"id"`
	Service []DIDService `json:"service"`
}

// DIDService is one entry of a DID document's service list.
type DIDService struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// PDSEndpoint returns the #atproto_pds service endpoint (or the first
// AtprotoPersonalDataServer entry), falling back when none is present.
func (d *DIDDocument) PDSEndpoint(fallback string) string {
	if d == nil {
		return fallback
	}
	for _, svc := range d.Service {
		if svc.ServiceEndpoint == "" {
			continue
		}
		if strings.HasSuffix(svc.ID, "#atproto_pds") || svc.Type == "AtprotoPersonalDataServer" {
			return strings.TrimRight(svc.ServiceEndpoint, "/")
		}
	}
	return fallback
}

// Profile is the subset of app.bsky.actor.getProfile the relay reads.
type Profile struct {
	DID         string       `json:"did"`
	Handle      string       `json:"handle"`
	DisplayName string       `json:"displayName,omitempty"`
	Viewer      *ViewerState `json:"viewer,omitempty"`
}

// ViewerState describes the relationship between the session holder and the actor.
type ViewerState struct {
	Following  string `json:"following,omitempty"`
	FollowedBy string `json:"followedBy,omitempty"`
	Muted      bool   `json:"muted,omitempty"`
	BlockedBy  bool   `json:"blockedBy,omitempty"`
}

// IsFollowing reports whether the viewer follows the profile.
func (p *Profile) IsFollowing() bool {
	return p != nil && p.Viewer != nil && p.Viewer.Following != ""
}

// Convo is the subset of a chat conversation view the relay reads.
type Convo struct {
	ID          string `json:"id"`
	Rev         string `json:"rev,omitempty"`
	UnreadCount int    `json:"unreadCount,omitempty"`
}

// ProxyResponse is a raw upstream reply forwarded to a caller.
type ProxyResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

// OK reports a 2xx status.
func (r *ProxyResponse) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}
