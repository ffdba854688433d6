//go:generate go run go.uber.org/mock/mockgen -source=auth_service.go -destination=../mocks/mock_auth_service.go -package=mocks
package services

import (
	"fmt"
	"time"

	"pairwire/auth"
	"pairwire/domain"
	"pairwire/errors"
	"pairwire/storage"
)

type IAuthService interface {
	Register(req auth.RegisterRequest) (Token, error)
	Login(email, password string) (Token, error)
	Identify(token string) (domain.User, error)
}

type Token string

// AuthService is the identity/session side of the account directory:
// it turns credentials into signed bearer tokens and tokens back into users.
type AuthService struct {
	users    storage.IUserRepository
	tokenTTL time.Duration
}

func NewAuthService(users storage.IUserRepository, tokenTTL time.Duration) *AuthService {
	return &AuthService{users: users, tokenTTL: tokenTTL}
}

func (s *AuthService) Register(req auth.RegisterRequest) (Token, error) {
	// Validate business rules before any expensive cryptographic operation.
	if err := auth.ValidateRegister(req); err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrInvalidPassword, err)
	}

	// Hashing happens in the service layer to keep the repository unaware of
	// plain passwords.
	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		return "", fmt.Errorf("hashing failed: %w", err)
	}

	role := domain.Role(req.Role)
	userID, err := s.users.CreateUser(req.Email, req.DisplayName, role, hashedPassword)
	if err != nil {
		return "", err // Propagates ErrUserAlreadyExists if the email is taken
	}

	token, err := auth.GenerateToken(userID, role, s.tokenTTL)
	if err != nil {
		return "", errors.ErrTokenGeneration
	}
	return Token(token), nil
}

func (s *AuthService) Login(email, password string) (Token, error) {
	user, err := s.users.GetUserByEmail(email)
	if err != nil {
		// Generic error to prevent user enumeration attacks
		return "", errors.ErrInvalidCredentials
	}

	match, err := auth.ComparePassword(password, user.PasswordHash)
	if err != nil || !match {
		return "", errors.ErrInvalidCredentials
	}

	token, err := auth.GenerateToken(user.ID, user.Role, s.tokenTTL)
	if err != nil {
		return "", errors.ErrTokenGeneration
	}
	return Token(token), nil
}

// Identify validates a bearer credential and resolves the full user record.
// This is the handshake's authentication step: anything failing here keeps
// the connection out of every room.
func (s *AuthService) Identify(token string) (domain.User, error) {
	claims, err := auth.ValidateToken(token)
	if err != nil {
		return domain.User{}, errors.ErrAuthenticationFailed
	}
	rec, err := s.users.GetUserByID(claims.UserID)
	if err != nil {
		return domain.User{}, errors.ErrAuthenticationFailed
	}
	return rec.User(), nil
}
