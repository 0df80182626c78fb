package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"starterkit/internal/cache"
	apperrors "starterkit/internal/errors"
	"starterkit/internal/model"
	"starterkit/internal/repository"
)

const userCacheTTL = 5 * time.Minute

// ProfileUpdate carries the fields a user may change on their own profile.
// Nil or blank fields are left untouched.
type ProfileUpdate struct {
	Name  *string
	Email *string
}

// UserService exposes identity operations behind the access guard.
type UserService interface {
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateProfile(ctx context.Context, current *model.User, update ProfileUpdate) (*model.User, error)
	DeleteAccount(ctx context.Context, id uuid.UUID) error
	EnsureAdmin(ctx context.Context, name, email, password string) (*model.User, bool, error)
}

type userService struct {
	repo  repository.UserRepository
	cache *cache.Client
	log   *slog.Logger
}

// NewUserService builds a UserService with repository and cache. A nil cache
// disables caching.
func NewUserService(repo repository.UserRepository, cache *cache.Client, log *slog.Logger) UserService {
	if log == nil {
		log = slog.Default()
	}
	return &userService{repo: repo, cache: cache, log: log}
}

func (s *userService) cacheKey(id uuid.UUID) string {
	return fmt.Sprintf("user:%s", id.String())
}

// GetUser resolves an identity, cache first.
func (s *userService) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var cached model.User
	if s.cache.GetJSON(ctx, s.cacheKey(id), &cached) {
		return &cached, nil
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cache.SetJSON(ctx, s.cacheKey(id), user, userCacheTTL)
	return user, nil
}

func (s *userService) ListUsers(ctx context.Context) ([]model.User, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UpdateProfile changes name and/or email of current. Email uniqueness is a
// check-then-act sequence; two concurrent updates to the same address race
// and the unique index rejects the loser.
func (s *userService) UpdateProfile(ctx context.Context, current *model.User, update ProfileUpdate) (*model.User, error) {
	var changes repository.ProfileChanges

	if update.Name != nil {
		if name := strings.TrimSpace(*update.Name); name != "" {
			changes.Name = &name
		}
	}

	if update.Email != nil {
		email := NormalizeEmail(*update.Email)
		if email != "" && email != current.Email {
			existing, err := s.repo.FindByEmail(ctx, email)
			if err == nil && existing.ID != current.ID {
				return nil, apperrors.ErrEmailTaken
			}
			if err != nil && !errors.Is(err, apperrors.ErrUserNotFound) {
				return nil, fmt.Errorf("check email: %w", err)
			}
			changes.Email = &email
		}
	}

	updated, err := s.repo.UpdateProfile(ctx, current.ID, changes)
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return nil, apperrors.ErrEmailTaken
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}

	_ = s.cache.Delete(ctx, s.cacheKey(current.ID))
	return updated, nil
}

// DeleteAccount removes the identity. Tokens already issued for it stop
// resolving at the guard because the identity lookup fails.
func (s *userService) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, apperrors.ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("delete user: %w", err)
	}
	_ = s.cache.Delete(ctx, s.cacheKey(id))
	s.log.InfoContext(ctx, "account deleted", "user_id", id.String())
	return nil
}

// EnsureAdmin creates the admin identity or promotes an existing one. It is
// the only path that changes a role. The bool reports whether a user was created.
func (s *userService) EnsureAdmin(ctx context.Context, name, email, password string) (*model.User, bool, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, false, apperrors.NewValidationError("email", "admin email and password are required")
	}

	existing, err := s.repo.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.Role != model.RoleAdmin {
			if err := s.repo.SetRole(ctx, existing.ID, model.RoleAdmin); err != nil {
				return nil, false, fmt.Errorf("promote admin: %w", err)
			}
			existing.Role = model.RoleAdmin
			_ = s.cache.Delete(ctx, s.cacheKey(existing.ID))
		}
		return existing, false, nil
	case !errors.Is(err, apperrors.ErrUserNotFound):
		return nil, false, fmt.Errorf("find admin: %w", err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, false, fmt.Errorf("hash password: %w", err)
	}
	admin := &model.User{
		ID:           uuid.New(),
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: string(hashedPassword),
		Role:         model.RoleAdmin,
		IsVerified:   true,
	}
	if err := s.repo.Create(ctx, admin); err != nil {
		return nil, false, fmt.Errorf("create admin: %w", err)
	}
	return admin, true, nil
}
