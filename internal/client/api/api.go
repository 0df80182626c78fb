// Package api holds the typed calls the client makes against the server.
package api

import (
	"context"
	"errors"
	"net/http"

	"starterkit/internal/client/pipeline"
	"starterkit/internal/model"
)

// ErrEmptyResponse is returned when a 2xx response lacks the expected payload.
var ErrEmptyResponse = errors.New("api: response missing expected fields")

// Credentials are submitted to log in.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is submitted to create an account.
type Registration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ProfileUpdate carries only the fields being changed.
type ProfileUpdate struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

// AuthResult is the outcome of a successful login or registration.
type AuthResult struct {
	Token   string
	User    *model.User
	Message string
}

type authEnvelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Token   string      `json:"token"`
	User    *model.User `json:"user"`
}

type listEnvelope struct {
	Success bool         `json:"success"`
	Count   int          `json:"count"`
	Data    []model.User `json:"data"`
}

type messageEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Client wraps a pipeline with the API's endpoints.
type Client struct {
	p *pipeline.Client
}

func New(p *pipeline.Client) *Client {
	return &Client{p: p}
}

// Pipeline returns the underlying request pipeline.
func (c *Client) Pipeline() *pipeline.Client {
	return c.p
}

// Login exchanges credentials for a token. A 401 here is a credential
// failure and never tears down an existing session.
func (c *Client) Login(ctx context.Context, creds Credentials) (*AuthResult, error) {
	return c.authenticate(ctx, "/auth/login", creds)
}

// Register creates an account and returns its session.
func (c *Client) Register(ctx context.Context, reg Registration) (*AuthResult, error) {
	return c.authenticate(ctx, "/auth/register", reg)
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (*AuthResult, error) {
	var env authEnvelope
	if err := c.p.Do(ctx, http.MethodPost, path, body, &env, pipeline.WithoutSessionRecovery()); err != nil {
		return nil, err
	}
	if env.Token == "" || env.User == nil {
		return nil, ErrEmptyResponse
	}
	return &AuthResult{Token: env.Token, User: env.User, Message: env.Message}, nil
}

// Me resolves the identity behind the stored token.
func (c *Client) Me(ctx context.Context, opts ...pipeline.RequestOption) (*model.User, error) {
	var env authEnvelope
	if err := c.p.Do(ctx, http.MethodGet, "/auth/me", nil, &env, opts...); err != nil {
		return nil, err
	}
	if env.User == nil {
		return nil, ErrEmptyResponse
	}
	return env.User, nil
}

// ListUsers returns every user. Admin only.
func (c *Client) ListUsers(ctx context.Context) ([]model.User, error) {
	var env listEnvelope
	if err := c.p.Do(ctx, http.MethodGet, "/users", nil, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// UpdateProfile changes the caller's own name and/or email and returns the
// updated identity.
func (c *Client) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*model.User, error) {
	var env authEnvelope
	if err := c.p.Do(ctx, http.MethodPut, "/users/profile", upd, &env); err != nil {
		return nil, err
	}
	if env.User == nil {
		return nil, ErrEmptyResponse
	}
	return env.User, nil
}

// DeleteAccount removes the caller's account.
func (c *Client) DeleteAccount(ctx context.Context) (string, error) {
	var env messageEnvelope
	if err := c.p.Do(ctx, http.MethodDelete, "/users/profile", nil, &env); err != nil {
		return "", err
	}
	return env.Message, nil
}
