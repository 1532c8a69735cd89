// Package identity performs the external credential exchange that turns an
// email/password pair into backend credentials. The upstream service's
// device-attestation token construction is opaque here: the exchange either
// yields credentials or fails, and nothing else in the gateway depends on
// how the token is built.
package identity

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/theman001/KakaoWebTalk/internal/gateway"
	"github.com/theman001/KakaoWebTalk/internal/util"
)

// loginTimeout bounds the whole credential exchange. A slow upstream is a
// login failure, never a hang.
const loginTimeout = 10 * time.Second

// Headers the upstream expects on every request.
const (
	headerKA        = "sdk/1.0.0 os/android/13 lang/ko_KR res/1080x2277 device/SM-S908N origin/unknown"
	headerUserAgent = "KakaoTalk/10.4.5 (Android/13; light; ko)"
)

// AuthError is a rejection by the identity service (bad credentials or an
// upstream policy refusal). It is reported to the browser and never retried.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("authentication rejected (status %d)", e.Status)
}

// Config configures the identity client.
type Config struct {
	AuthURL    string // full login endpoint URL
	DeviceUUID string // stable device identifier; generated when empty
}

// Client exchanges credentials against the upstream auth endpoint.
type Client struct {
	cfg  Config
	http *http.Client
}

var _ gateway.Identity = (*Client)(nil)

// New creates an identity client. When no device UUID is configured a random
// 16-hex-char one is derived, matching the Android identifier format the
// upstream expects.
func New(cfg Config) *Client {
	if cfg.DeviceUUID == "" {
		id := uuid.New()
		cfg.DeviceUUID = hex.EncodeToString(id[:8])
		util.LogDebug("generated device uuid %s", cfg.DeviceUUID)
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: loginTimeout},
	}
}

// DeviceUUID returns the device identifier the client presents at login.
func (c *Client) DeviceUUID() string {
	return c.cfg.DeviceUUID
}

type loginRequest struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Device   deviceClaim `json:"device"`
}

type deviceClaim struct {
	UUID string `json:"uuid"`
}

type loginResponse struct {
	UserID      int64  `json:"userId"`
	AccessToken string `json:"access_token"`
	Message     string `json:"message"`
}

// Login posts the credential exchange request and maps the response to
// gateway credentials. Non-2xx responses and responses without a token are
// AuthErrors; transport problems are wrapped as plain errors.
func (c *Client) Login(ctx context.Context, email, password string) (*gateway.Credentials, error) {
	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	payload, err := json.Marshal(loginRequest{
		Email:    email,
		Password: password,
		Device:   deviceClaim{UUID: c.cfg.DeviceUUID},
	})
	if err != nil {
		return nil, errors.Wrap(err, "identity: marshal login request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "identity: build request")
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("KA", headerKA)
	req.Header.Set("User-Agent", headerUserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "identity: login request")
	}
	defer resp.Body.Close()

	var body loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "identity: decode response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &AuthError{Status: resp.StatusCode, Message: body.Message}
	}
	if body.AccessToken == "" {
		return nil, &AuthError{Status: resp.StatusCode, Message: "no access token in response"}
	}

	return &gateway.Credentials{
		UserID:    body.UserID,
		AuthToken: body.AccessToken,
		DeviceID:  c.cfg.DeviceUUID,
	}, nil
}
