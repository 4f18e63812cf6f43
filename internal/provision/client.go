// Package provision creates personas and conversations on the conversational video API.
// Calls are never retried: each successful call creates a new remote resource.
package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/AvatarCall/internal/domain"
)

const (
	DefaultBaseURL = "https://tavusapi.com/v2"
	DefaultTimeout = 30 * time.Second

	userAgent    = "avatarcall/1.0"
	maxBodyInErr = 200
)

type Options struct {
	BaseURL   string
	APIKey    string
	ReplicaID string
	Persona   domain.PersonaProfile
	Timeout   time.Duration
	// HTTPClient overrides the default client, mostly for tests.
	HTTPClient *http.Client
}

type Client struct {
	baseURL   string
	apiKey    string
	replicaID string
	persona   domain.PersonaProfile
	http      *http.Client
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.ReplicaID == "" {
		opts.ReplicaID = domain.DefaultReplicaID
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		apiKey:    opts.APIKey,
		replicaID: opts.ReplicaID,
		persona:   opts.Persona,
		http:      hc,
	}
}

type personaRequest struct {
	PersonaName      string `json:"persona_name"`
	DefaultReplicaID string `json:"default_replica_id"`
	SystemPrompt     string `json:"system_prompt"`
	Context          string `json:"context"`
}

type personaResponse struct {
	PersonaID   string `json:"persona_id"`
	PersonaName string `json:"persona_name"`
}

type conversationRequest struct {
	ReplicaID string `json:"replica_id"`
	PersonaID string `json:"persona_id"`
}

type conversationResponse struct {
	ConversationID  string `json:"conversation_id"`
	ConversationURL string `json:"conversation_url"`
	Status          string `json:"status"`
}

// CreatePersona provisions a new persona from the configured profile.
func (c *Client) CreatePersona(ctx context.Context) (domain.PersonaID, error) {
	const op = "create persona"
	if err := c.persona.Validate(); err != nil {
		return "", &ProvisioningError{Op: op, Err: err}
	}
	req := personaRequest{
		PersonaName:      c.persona.Name,
		DefaultReplicaID: c.persona.DefaultReplicaID,
		SystemPrompt:     c.persona.SystemPrompt,
		Context:          c.persona.Context,
	}
	var resp personaResponse
	if err := c.post(ctx, op, "/personas", req, &resp); err != nil {
		return "", err
	}
	if resp.PersonaID == "" {
		return "", &ProvisioningError{Op: op, Err: ErrNoPersonaID}
	}
	return domain.PersonaID(resp.PersonaID), nil
}

// CreateConversation provisions a conversation between the replica and the persona.
func (c *Client) CreateConversation(ctx context.Context, personaID domain.PersonaID) (domain.ConversationURL, error) {
	const op = "create conversation"
	req := conversationRequest{
		ReplicaID: c.replicaID,
		PersonaID: string(personaID),
	}
	var resp conversationResponse
	if err := c.post(ctx, op, "/conversations", req, &resp); err != nil {
		return "", err
	}
	if resp.ConversationURL == "" {
		return "", &ProvisioningError{Op: op, Err: ErrNoConversationURL}
	}
	log.Info().Str("module", "provision").Str("conversation_id", resp.ConversationID).Str("status", resp.Status).Msg("conversation created")
	return domain.ConversationURL(resp.ConversationURL), nil
}

// CreateCall runs the persona then conversation chain.
func (c *Client) CreateCall(ctx context.Context) (domain.ConversationURL, error) {
	personaID, err := c.CreatePersona(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "provision").Msg("error creating persona")
		return "", err
	}
	url, err := c.CreateConversation(ctx, personaID)
	if err != nil {
		log.Error().Err(err).Str("module", "provision").Str("persona_id", string(personaID)).Msg("error creating call")
		return "", err
	}
	return url, nil
}

func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &ProvisioningError{Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &ProvisioningError{Op: op, Err: err}
	}
	reqID := uuid.NewString()
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-Id", reqID)

	logger := log.With().Str("module", "provision").Str("op", op).Str("request_id", reqID).Logger()
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Error().Err(err).Msg("request failed")
		return &ProvisioningError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProvisioningError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	logger.Debug().Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("response received")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ProvisioningError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(raw), maxBodyInErr),
			Err:        ErrHTTPStatus,
		}
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		return &ProvisioningError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(raw), maxBodyInErr),
			Err:        fmt.Errorf("%w: content type %q", ErrNotJSON, ct),
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ProvisioningError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(raw), maxBodyInErr),
			Err:        errors.Join(ErrNotJSON, err),
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
