package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAlreadyExists  = errors.New("already exists")
	ErrNotFound       = errors.New("not found")
	ErrAuthFailed     = errors.New("authentication failed")
	ErrDisabled       = errors.New("account disabled")
	ErrInvalidAccount = errors.New("invalid account")
)

const minPasswordLen = 8

// AccountService manages local accounts when identities are issued here
// rather than by the hosted auth backend.
type AccountService interface {
	Login(ctx context.Context, id, password string) (string, error)
	Register(ctx context.Context, id, password string) error
	Delete(ctx context.Context, id string) error
	ChangeRole(ctx context.Context, id string, role Role) error
}

type Service struct {
	store  AccountStore
	tokens *JWTResolver
	now    func() time.Time
}

var _ AccountService = (*Service)(nil)

func NewService(store AccountStore, tokens *JWTResolver) *Service {
	return &Service{store: store, tokens: tokens, now: time.Now}
}

func (s *Service) Login(ctx context.Context, id, password string) (string, error) {
	acct, err := s.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if acct == nil {
		return "", ErrAuthFailed
	}
	if acct.IsDisabled {
		return "", ErrDisabled
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return "", ErrAuthFailed
	}
	return s.tokens.Issue(acct.ID, acct.Role)
}

// Register creates a student account. Roles are raised by an admin afterwards.
func (s *Service) Register(ctx context.Context, id, password string) error {
	return s.create(ctx, id, password, RoleStudent)
}

// EnsureAdmin creates the bootstrap admin unless the id already exists.
func (s *Service) EnsureAdmin(ctx context.Context, id, password string) error {
	err := s.create(ctx, id, password, RoleAdmin)
	if errors.Is(err, ErrAlreadyExists) {
		return nil
	}
	return err
}

func (s *Service) create(ctx context.Context, id, password string, role Role) error {
	id = strings.TrimSpace(id)
	if id == "" || len(password) < minPasswordLen {
		return fmt.Errorf("%w: id required and password must have at least %d characters", ErrInvalidAccount, minPasswordLen)
	}

	exists, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if exists != nil {
		return ErrAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	return s.store.Create(ctx, &Account{
		ID:           id,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    s.now().UTC(),
	})
}

func (s *Service) Delete(ctx context.Context, id string) error {
	n, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) ChangeRole(ctx context.Context, id string, role Role) error {
	if _, err := ParseRole(string(role)); err != nil {
		return err
	}
	n, err := s.store.UpdateRole(ctx, id, role)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
