package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-admin/internal/audit"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, f ListFilter, offset, limit int) ([]User, int, error)
	GetUser(ctx context.Context, id int64) (User, error)
	FindByEmail(ctx context.Context, email string) (Credentials, error)
}

// Authorizer answers permission questions; *rbac.Resolver satisfies it.
type Authorizer interface {
	HasPermission(ctx context.Context, principalID int64, name string) (bool, error)
}

// Page is one page of users.
type Page struct {
	Users      []User            `json:"users"`
	Pagination shared.Pagination `json:"pagination"`
}

// Service handles user business logic.
type Service struct {
	repo   RepositoryPort
	authz  Authorizer
	sink   audit.Sink
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, authz Authorizer, sink audit.Sink, logger *slog.Logger) *Service {
	if sink == nil {
		sink = audit.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, authz: authz, sink: sink, logger: logger.With(slog.String("component", "users"))}
}

// ListUsers returns one page of users.
func (s *Service) ListUsers(ctx context.Context, f ListFilter) (Page, error) {
	page, perPage := shared.NormalizePage(f.Page, f.PerPage)
	users, total, err := s.repo.ListUsers(ctx, f, shared.Offset(page, perPage), perPage)
	if err != nil {
		return Page{}, fmt.Errorf("users: list: %w", err)
	}
	if users == nil {
		users = []User{}
	}
	return Page{Users: users, Pagination: shared.NewPagination(page, perPage, total)}, nil
}

// GetUser loads one user.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	creds, err := s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if !creds.IsActive || creds.PasswordHash == "" {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return creds.User, nil
}

// StartImpersonation switches sess from actorID to targetID. The target
// must exist, be active, differ from the actor and not hold the
// impersonate permission itself; sessions that already impersonate cannot
// nest.
func (s *Service) StartImpersonation(ctx context.Context, sess *shared.Session, actorID, targetID int64) (User, error) {
	if sess == nil || sess.User() != actorID || actorID <= 0 {
		return User{}, fmt.Errorf("%w: session does not belong to actor", ErrCannotImpersonate)
	}
	if sess.Impersonator() != 0 {
		return User{}, fmt.Errorf("%w: already impersonating", ErrCannotImpersonate)
	}
	if targetID == actorID {
		return User{}, fmt.Errorf("%w: cannot impersonate yourself", ErrCannotImpersonate)
	}
	target, err := s.repo.GetUser(ctx, targetID)
	if err != nil {
		return User{}, err
	}
	if !target.IsActive {
		return User{}, fmt.Errorf("%w: user is inactive", ErrCannotImpersonate)
	}
	privileged, err := s.authz.HasPermission(ctx, targetID, shared.PermUsersImpersonate)
	if err != nil {
		return User{}, err
	}
	if privileged {
		return User{}, fmt.Errorf("%w: target can impersonate others", ErrCannotImpersonate)
	}

	sess.Impersonate(targetID)
	e := audit.NewEvent(ctx, audit.ActionImpersonated, "users", strconv.FormatInt(targetID, 10)).
		WithMeta("state", "started")
	e.ActorID, e.ImpersonatorID = targetID, actorID
	s.sink.Emit(ctx, e)
	s.logger.Info("impersonation started", slog.Int64("impersonator_id", actorID), slog.Int64("user_id", targetID))
	return target, nil
}

// StopImpersonation restores the impersonator on sess and returns its id.
func (s *Service) StopImpersonation(ctx context.Context, sess *shared.Session) (int64, error) {
	if sess == nil {
		return 0, ErrNotImpersonating
	}
	targetID := sess.User()
	original, ok := sess.StopImpersonation()
	if !ok {
		return 0, ErrNotImpersonating
	}
	e := audit.NewEvent(ctx, audit.ActionImpersonated, "users", strconv.FormatInt(targetID, 10)).
		WithMeta("state", "stopped")
	e.ActorID, e.ImpersonatorID = targetID, original
	s.sink.Emit(ctx, e)
	s.logger.Info("impersonation stopped", slog.Int64("impersonator_id", original), slog.Int64("user_id", targetID))
	return original, nil
}
