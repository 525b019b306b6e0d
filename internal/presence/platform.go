package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const maxErrBody = 512

// RemoteOption configures the RemotePlatform.
type RemoteOption func(*RemotePlatform)

// WithHTTPClient substitutes the HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(p *RemotePlatform) { p.httpClient = c }
}

// RemotePlatform implements [Platform] against the conferencing platform's
// room API:
//
//	GET    {base}/rooms/{name}/presence → {"total": n}
//	DELETE {base}/rooms/{name}
//
// A 404 on either endpoint maps to [ErrRoomNotFound].
type RemotePlatform struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Platform = (*RemotePlatform)(nil)

// NewRemotePlatform creates a room API client.
func NewRemotePlatform(baseURL, apiKey string, opts ...RemoteOption) (*RemotePlatform, error) {
	if baseURL == "" {
		return nil, errors.New("presence remote: baseURL must not be empty")
	}
	p := &RemotePlatform{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// presenceResponse is the room API's wire envelope.
type presenceResponse struct {
	Total int `json:"total"`
}

// ParticipantCount implements Platform.
func (p *RemotePlatform) ParticipantCount(ctx context.Context, roomName string) (int, error) {
	endpoint := p.baseURL + "/rooms/" + url.PathEscape(roomName) + "/presence"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	p.authorize(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("presence remote: get presence: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("presence remote: room %q: %w", roomName, ErrRoomNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return 0, fmt.Errorf("presence remote: get presence: status %d: %s", resp.StatusCode, body)
	}

	var out presenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("presence remote: decode presence: %w", err)
	}
	return out.Total, nil
}

// DeleteRoom implements Platform.
func (p *RemotePlatform) DeleteRoom(ctx context.Context, roomName string) error {
	endpoint := p.baseURL + "/rooms/" + url.PathEscape(roomName)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	p.authorize(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("presence remote: delete room: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("presence remote: room %q: %w", roomName, ErrRoomNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return fmt.Errorf("presence remote: delete room: status %d: %s", resp.StatusCode, body)
	}
	return nil
}

func (p *RemotePlatform) authorize(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}
