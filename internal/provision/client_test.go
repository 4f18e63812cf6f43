package provision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/AvatarCall/internal/domain"
)

type fakeAPI struct {
	personaStatus int
	personaCT     string
	personaBody   string

	convBody string

	personaHits atomic.Int32
	convHits    atomic.Int32

	mu          sync.Mutex
	lastPersona personaRequest
	lastConv    conversationRequest
	lastKey     string
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /personas", func(w http.ResponseWriter, r *http.Request) {
		f.personaHits.Add(1)
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		f.mu.Lock()
		f.lastKey = r.Header.Get("x-api-key")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastPersona))
		f.mu.Unlock()
		ct := f.personaCT
		if ct == "" {
			ct = "application/json"
		}
		w.Header().Set("Content-Type", ct)
		status := f.personaStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		body := f.personaBody
		if body == "" {
			body = `{"persona_id":"p123","persona_name":"Tavus Researcher"}`
		}
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("POST /conversations", func(w http.ResponseWriter, r *http.Request) {
		f.convHits.Add(1)
		f.mu.Lock()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastConv))
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		body := f.convBody
		if body == "" {
			body = `{"conversation_id":"c1","conversation_url":"https://x.daily.co/abc","status":"active"}`
		}
		_, _ = w.Write([]byte(body))
	})
	return mux
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(Options{
		BaseURL: srv.URL,
		APIKey:  "secret",
		Persona: domain.DefaultPersona(),
	})
}

func TestCreateCall(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)

	url, err := c.CreateCall(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationURL("https://x.daily.co/abc"), url)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, "secret", api.lastKey)
	assert.Equal(t, domain.DefaultPersonaName, api.lastPersona.PersonaName)
	assert.Equal(t, domain.DefaultPersonaReplicaID, api.lastPersona.DefaultReplicaID)
	assert.NotEmpty(t, api.lastPersona.SystemPrompt)
	assert.Equal(t, domain.DefaultReplicaID, api.lastConv.ReplicaID)
	assert.Equal(t, "p123", api.lastConv.PersonaID)
}

func TestCreatePersonaHTTPError(t *testing.T) {
	api := &fakeAPI{personaStatus: http.StatusInternalServerError, personaBody: `{"error":"boom"}`}
	c := newTestClient(t, api)

	_, err := c.CreateCall(context.Background())
	require.Error(t, err)

	var perr *ProvisioningError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusInternalServerError, perr.StatusCode)
	assert.Equal(t, "create persona", perr.Op)
	assert.ErrorIs(t, err, ErrHTTPStatus)
	assert.Contains(t, err.Error(), "boom")
	assert.Zero(t, api.convHits.Load(), "conversation must not be created after persona failure")
}

func TestHTTPErrorBodyIsBounded(t *testing.T) {
	api := &fakeAPI{personaStatus: http.StatusBadGateway, personaBody: strings.Repeat("e", 10_000)}
	c := newTestClient(t, api)

	_, err := c.CreatePersona(context.Background())
	var perr *ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusBadGateway, perr.StatusCode)
	assert.LessOrEqual(t, len(perr.Body), maxBodyInErr+3)
}

func TestCreatePersonaNotJSON(t *testing.T) {
	api := &fakeAPI{personaCT: "text/html", personaBody: "<html>" + strings.Repeat("x", 500) + "</html>"}
	c := newTestClient(t, api)

	_, err := c.CreatePersona(context.Background())
	require.ErrorIs(t, err, ErrNotJSON)

	var perr *ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.LessOrEqual(t, len(perr.Body), maxBodyInErr+3)
}

func TestCreatePersonaMalformedJSON(t *testing.T) {
	api := &fakeAPI{personaBody: `{"persona_id":`}
	c := newTestClient(t, api)

	_, err := c.CreatePersona(context.Background())
	assert.ErrorIs(t, err, ErrNotJSON)
}

func TestCreateConversationMissingURL(t *testing.T) {
	api := &fakeAPI{convBody: `{"conversation_id":"c1"}`}
	c := newTestClient(t, api)

	_, err := c.CreateCall(context.Background())
	assert.ErrorIs(t, err, ErrNoConversationURL)
}

func TestCreatePersonaInvalidProfile(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)
	c.persona.Name = ""

	_, err := c.CreatePersona(context.Background())
	assert.ErrorIs(t, err, domain.ErrPersonaNameEmpty)
	assert.Zero(t, api.personaHits.Load())
}

func TestNoRetryOnFailure(t *testing.T) {
	api := &fakeAPI{personaStatus: http.StatusBadGateway}
	c := newTestClient(t, api)

	_, err := c.CreateCall(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 1, api.personaHits.Load())
}
