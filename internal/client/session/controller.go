// Package session owns the client's authenticated state: who is logged in
// and with which token. The token is mirrored in a credential store so the
// session survives restarts.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"starterkit/internal/client/api"
	"starterkit/internal/client/credstore"
	"starterkit/internal/client/pipeline"
	"starterkit/internal/model"
)

const (
	msgLoginFailed        = "Login failed"
	msgRegistrationFailed = "Registration failed"
	msgLoginSucceeded     = "Login successful"
	msgRegistered         = "Registration successful"
	msgLoggedOut          = "Logged out successfully"
	msgProfileUpdated     = "Profile updated successfully"
	msgProfileFailed      = "Update failed"
	msgAccountDeleted     = "Account deleted successfully"
	msgDeleteFailed       = "Failed to delete account"
)

// State is a snapshot of the session. Once Loading is false, Identity is
// non-nil exactly when Token is non-empty.
type State struct {
	Identity *model.User
	Token    string
	Loading  bool
}

// Controller is safe for concurrent use.
type Controller struct {
	api    *api.Client
	store  credstore.Store
	notify pipeline.Notifier
	log    *slog.Logger

	mu       sync.RWMutex
	identity *model.User
	token    string
	loading  bool

	initOnce sync.Once
	ready    chan struct{}
}

// New builds a controller over client and subscribes it to the pipeline's
// session-expired hook.
func New(client *api.Client, log *slog.Logger) *Controller {
	p := client.Pipeline()
	c := &Controller{
		api:     client,
		store:   p.Store(),
		notify:  p.Notifier(),
		log:     log,
		loading: true,
		ready:   make(chan struct{}),
	}
	p.OnSessionExpired(c.dropState)
	return c
}

// State returns a snapshot.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return State{Identity: cloneUser(c.identity), Token: c.token, Loading: c.loading}
}

func (c *Controller) Identity() *model.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneUser(c.identity)
}

func (c *Controller) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Controller) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity != nil && c.token != ""
}

// Init restores a persisted session. It runs once; later calls wait for the
// first to finish.
func (c *Controller) Init(ctx context.Context) {
	c.initOnce.Do(func() {
		defer close(c.ready)
		defer func() {
			c.mu.Lock()
			c.loading = false
			c.mu.Unlock()
		}()

		token, err := c.store.Get()
		if err != nil {
			c.log.WarnContext(ctx, "read credential store", "err", err)
			return
		}
		if token == "" {
			return
		}

		user, err := c.api.Me(ctx, pipeline.WithoutSessionRecovery())

		c.mu.Lock()
		defer c.mu.Unlock()

		current, getErr := c.store.Get()
		if getErr != nil || current != token {
			// a login or logout ran meanwhile and owns the state now
			return
		}
		if err != nil {
			c.log.InfoContext(ctx, "stored session rejected", "status", pipeline.StatusOf(err), "err", err)
			if clearErr := c.store.Clear(); clearErr != nil {
				c.log.WarnContext(ctx, "clear credential store", "err", clearErr)
			}
			return
		}
		c.identity = user
		c.token = token
	})
	<-c.ready
}

// WaitReady blocks until Init has finished.
func (c *Controller) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Login authenticates and persists the session. On failure the state is
// left as it was and the error is returned.
func (c *Controller) Login(ctx context.Context, creds api.Credentials) error {
	res, err := c.api.Login(ctx, creds)
	if err != nil {
		c.notify.Error(messageOf(err, msgLoginFailed))
		return err
	}
	if err := c.establish(res); err != nil {
		c.notify.Error(msgLoginFailed)
		return err
	}
	c.notify.Success(msgLoginSucceeded)
	return nil
}

// Register creates an account and logs it in.
func (c *Controller) Register(ctx context.Context, reg api.Registration) error {
	res, err := c.api.Register(ctx, reg)
	if err != nil {
		c.notify.Error(messageOf(err, msgRegistrationFailed))
		return err
	}
	if err := c.establish(res); err != nil {
		c.notify.Error(msgRegistrationFailed)
		return err
	}
	c.notify.Success(msgRegistered)
	return nil
}

func (c *Controller) establish(res *api.AuthResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Set(res.Token); err != nil {
		return err
	}
	c.identity = res.User
	c.token = res.Token
	return nil
}

// Logout forgets the session locally. The server is not contacted: issued
// tokens stay valid until they expire.
func (c *Controller) Logout() {
	c.mu.Lock()
	c.identity = nil
	c.token = ""
	err := c.store.Clear()
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("clear credential store", "err", err)
	}
	c.notify.Success(msgLoggedOut)
}

// UpdateIdentity replaces the cached identity and keeps the token.
func (c *Controller) UpdateIdentity(u *model.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return
	}
	c.identity = cloneUser(u)
}

// UpdateProfile sends the change and refreshes the cached identity.
func (c *Controller) UpdateProfile(ctx context.Context, upd api.ProfileUpdate) (*model.User, error) {
	u, err := c.api.UpdateProfile(ctx, upd)
	if err != nil {
		c.notify.Error(messageOf(err, msgProfileFailed))
		return nil, err
	}
	c.UpdateIdentity(u)
	c.notify.Success(msgProfileUpdated)
	return u, nil
}

// DeleteAccount removes the account server side and ends the session.
func (c *Controller) DeleteAccount(ctx context.Context) error {
	if _, err := c.api.DeleteAccount(ctx); err != nil {
		c.notify.Error(messageOf(err, msgDeleteFailed))
		return err
	}

	c.mu.Lock()
	c.identity = nil
	c.token = ""
	err := c.store.Clear()
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("clear credential store", "err", err)
	}
	c.notify.Success(msgAccountDeleted)
	return nil
}

// dropState runs after the pipeline saw a 401 and already cleared the store.
func (c *Controller) dropState() {
	c.mu.Lock()
	c.identity = nil
	c.token = ""
	c.mu.Unlock()
}

func messageOf(err error, fallback string) string {
	var apiErr *pipeline.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

func cloneUser(u *model.User) *model.User {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}
