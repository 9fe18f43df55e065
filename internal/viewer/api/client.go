// Package api is the viewer's HTTP client for the platform backend. Beyond
// the individual calls it enforces one cross-cutting contract: every decoded
// response is checked for the sessionExpired / loggedInElsewhere flags the
// backend may attach to any payload, and a match triggers the shared session
// invalidation exactly as a failed liveness ping would.
package api

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

	"github.com/rs/zerolog"

	"coursecast/internal/viewer/credentials"
	"coursecast/internal/viewer/session"
)

// ErrUnauthorized marks authorization failures, as opposed to transport
// problems which keep the session intact.
var ErrUnauthorized = errors.New("unauthorized")

// ActiveSessionError is returned by Login when another device holds the
// account's active session.
type ActiveSessionError struct {
	OwnerLabel string
	RetryAfter time.Duration
}

func (e *ActiveSessionError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("account is in use on %q, try again in %s", e.OwnerLabel, e.RetryAfter)
	}
	return fmt.Sprintf("account is in use on %q", e.OwnerLabel)
}

// sessionFlags is the invalidation envelope any authenticated response may
// carry.
type sessionFlags struct {
	SessionExpired    bool `json:"sessionExpired"`
	LoggedInElsewhere bool `json:"loggedInElsewhere"`
}

// Client talks to the platform API on behalf of one viewer context.
type Client struct {
	base        string
	http        *http.Client
	sessions    *session.Store
	invalidator *session.Invalidator
	logger      zerolog.Logger
}

func NewClient(base string, sessions *session.Store, invalidator *session.Invalidator, logger zerolog.Logger) *Client {
	return &Client{
		base:        strings.TrimRight(base, "/"),
		http:        &http.Client{Timeout: 30 * time.Second},
		sessions:    sessions,
		invalidator: invalidator,
		logger:      logger.With().Str("component", "api").Logger(),
	}
}

type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DeviceLabel string `json:"deviceLabel"`
	Takeover    bool   `json:"takeover,omitempty"`
}

type loginResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         session.User `json:"user"`

	Active            bool   `json:"active"`
	OwnerLabel        string `json:"ownerLabel"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}

// Login authenticates and stores the session. A 409 with an ownerLabel maps
// to *ActiveSessionError so callers can offer a takeover.
func (c *Client) Login(ctx context.Context, email, password, deviceLabel string, takeover bool) error {
	body, _ := json.Marshal(loginRequest{Email: email, Password: password, DeviceLabel: deviceLabel, Takeover: takeover})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	var out loginResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return fmt.Errorf("login response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusConflict && out.Active:
		return &ActiveSessionError{
			OwnerLabel: out.OwnerLabel,
			RetryAfter: time.Duration(out.RetryAfterSeconds) * time.Second,
		}
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("login failed with status %d", resp.StatusCode)
	}

	c.sessions.SetSession(out.AccessToken, out.RefreshToken, out.User)
	return nil
}

// Ping tells the server the session is alive. Network failures come back as
// ordinary errors; an invalidated session triggers the invalidator and
// returns ErrUnauthorized.
func (c *Client) Ping(ctx context.Context) error {
	var out struct {
		OK bool `json:"ok"`
	}
	return c.do(ctx, http.MethodPost, "/auth/session/ping", nil, &out)
}

// PlaybackInfo fetches a time-boxed playback credential for a video.
func (c *Client) PlaybackInfo(ctx context.Context, videoID string) (credentials.Credential, error) {
	var out struct {
		URL              string `json:"url"`
		IsSegmented      bool   `json:"isSegmented"`
		ExpiresInSeconds int    `json:"expiresInSeconds"`
	}
	if err := c.do(ctx, http.MethodGet, "/videos/"+videoID+"/playback-info", nil, &out); err != nil {
		return credentials.Credential{}, err
	}
	issued := time.Now()
	expiresIn := time.Duration(out.ExpiresInSeconds) * time.Second
	url := out.URL
	if strings.HasPrefix(url, "/") {
		url = c.base + url
	}
	return credentials.Credential{
		URL:       url,
		Segmented: out.IsSegmented,
		ExpiresIn: expiresIn,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(expiresIn),
	}, nil
}

// Progress returns the stored watch position for a video, in milliseconds.
func (c *Client) Progress(ctx context.Context, videoID string) (int64, error) {
	var out struct {
		PositionMS int64 `json:"position_ms"`
	}
	if err := c.do(ctx, http.MethodGet, "/videos/"+videoID+"/progress", nil, &out); err != nil {
		return 0, err
	}
	return out.PositionMS, nil
}

// UpdateProgress reports the watch position for resume-on-next-visit.
func (c *Client) UpdateProgress(ctx context.Context, videoID string, position time.Duration) error {
	body := map[string]any{"video_id": videoID, "position_ms": position.Milliseconds()}
	var out struct {
		Status string `json:"status"`
	}
	return c.do(ctx, http.MethodPut, "/progress", body, &out)
}

// do runs an authenticated request, decodes the payload, and applies the
// invalidation-flag contract.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.sessions.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", method, path, err)
	}

	var flags sessionFlags
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &flags)
	}
	if flags.LoggedInElsewhere {
		c.invalidator.Invalidate(session.ReasonSuperseded)
		return fmt.Errorf("%w: signed in elsewhere", ErrUnauthorized)
	}
	if flags.SessionExpired {
		c.invalidator.Invalidate(session.ReasonExpired)
		return fmt.Errorf("%w: session expired", ErrUnauthorized)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.invalidator.Invalidate(session.ReasonExpired)
		return fmt.Errorf("%w: %s %s", ErrUnauthorized, method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}
