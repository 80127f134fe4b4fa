package atproto

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second), srv
}

func TestCreateSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/"+MethodCreateSession, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice.test", body["identifier"])
		assert.Equal(t, "hunter2", body["password"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"did":        "did:plc:alice",
			"handle":     "alice.test",
			"accessJwt":  "access",
			"refreshJwt": "refresh",
			"didDoc": map[string]any{
				"id": "did:plc:alice",
				"service": []map[string]string{
					{"id": "#atproto_pds", "type": "AtprotoPersonalDataServer", "serviceEndpoint": "https://pds.example.com/"},
				},
			},
		})
	})
	client, _ := newTestClient(t, mux)

	sess, err := client.CreateSession(context.Background(), "alice.test", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "did:plc:alice", sess.DID)
	assert.Equal(t, "access", sess.AccessJwt)
	assert.Equal(t, "https://pds.example.com", sess.DIDDoc.PDSEndpoint(client.ServiceURL()))
}

func TestCreateSessionUpstreamError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"AuthenticationRequired","message":"Invalid identifier or password"}`))
	}))

	_, err := client.CreateSession(context.Background(), "alice.test", "wrong")
	require.Error(t, err)

	var xe *XRPCError
	require.ErrorAs(t, err, &xe)
	assert.Equal(t, http.StatusUnauthorized, xe.Status)
	assert.Equal(t, "AuthenticationRequired", xe.Name)
	assert.Contains(t, string(xe.Body), "Invalid identifier")
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))
}

func TestPDSEndpointFallback(t *testing.T) {
	var nilDoc *DIDDocument
	assert.Equal(t, "https://bsky.social", nilDoc.PDSEndpoint("https://bsky.social"))

	doc := &DIDDocument{Service: []DIDService{{ID: "#bsky_notif", Type: "Other", ServiceEndpoint: "https://x"}}}
	assert.Equal(t, "https://bsky.social", doc.PDSEndpoint("https://bsky.social"))

	doc = &DIDDocument{Service: []DIDService{{ID: "did:plc:a#svc", Type: "AtprotoPersonalDataServer", ServiceEndpoint: "https://pds.two"}}}
	assert.Equal(t, "https://pds.two", doc.PDSEndpoint("https://bsky.social"))
}

func TestGetServiceAuthSendsScope(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/xrpc/"+MethodGetServiceAuth, r.URL.Path)
		assert.Equal(t, "Bearer bot-access", r.Header.Get("Authorization"))
		assert.Equal(t, "did:web:api.bsky.chat", r.URL.Query().Get("aud"))
		assert.Equal(t, MethodSendMessage, r.URL.Query().Get("lxm"))
		_, _ = w.Write([]byte(`{"token":"scoped"}`))
	}))

	token, err := client.GetServiceAuth(context.Background(), "", "bot-access", "did:web:api.bsky.chat", MethodSendMessage)
	require.NoError(t, err)
	assert.Equal(t, "scoped", token)
}

func TestConvoAndSend(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/"+MethodGetConvoForMembers, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, []string{"did:plc:seller"}, r.URL.Query()["members"])
		assert.Equal(t, "Bearer convo-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"convo":{"id":"convo-1"}}`))
	})
	mux.HandleFunc("/xrpc/"+MethodSendMessage, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer message-token", r.Header.Get("Authorization"))
		var body struct {
			ConvoID string `json:"convoId"`
			Message struct {
				Text string `json:"text"`
			} `json:"message"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "convo-1", body.ConvoID)
		assert.Equal(t, "hello", body.Message.Text)
		_, _ = w.Write([]byte(`{"id":"msg-1"}`))
	})
	client, srv := newTestClient(t, mux)

	convo, err := client.GetConvoForMembers(context.Background(), srv.URL, "convo-token", "did:plc:seller")
	require.NoError(t, err)
	assert.Equal(t, "convo-1", convo.ID)

	id, err := client.SendMessage(context.Background(), srv.URL, "message-token", convo.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
}

func TestForwardPreservesUpstreamStatus(t *testing.T) {
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "did:web:api.bsky.chat#bsky_chat", r.Header.Get(ProxyHeader))
		assert.Equal(t, "Bearer caller", r.Header.Get("Authorization"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"InvalidRequest"}`))
	}))

	resp, err := client.Forward(context.Background(), srv.URL+"/", MethodListConvos, "Bearer caller",
		"did:web:api.bsky.chat#bsky_chat", url.Values{"limit": {"50"}})
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.JSONEq(t, `{"error":"InvalidRequest"}`, string(resp.Body))
}

func TestIsAuthFailure(t *testing.T) {
	assert.True(t, (&XRPCError{Status: 401}).IsAuthFailure())
	assert.True(t, (&XRPCError{Status: 400, Name: "ExpiredToken"}).IsAuthFailure())
	assert.False(t, (&XRPCError{Status: 400, Name: "InvalidRequest"}).IsAuthFailure())
	assert.False(t, (&XRPCError{Status: 500}).IsAuthFailure())
}
