package services_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"pairwire/auth"
	"pairwire/domain"
	"pairwire/errors"
	"pairwire/mocks"
	"pairwire/services"
	"pairwire/storage"
)

func validRegisterRequest() auth.RegisterRequest {
	return auth.RegisterRequest{
		Email:       "alice@example.com",
		DisplayName: "Alice",
		Role:        "coordinator",
		Password:    "ComplexPass123!",
	}
}

func TestAuthService_Register(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockIUserRepository(ctrl)
	svc := services.NewAuthService(mockRepo, 24*time.Hour)

	t.Run("should register successfully when input is valid", func(t *testing.T) {
		req := require.New(t)
		request := validRegisterRequest()

		// Expect CreateUser to be called with a hashed password (not the plain one)
		mockRepo.EXPECT().
			CreateUser(request.Email, request.DisplayName, domain.RoleCoordinator, gomock.Not(request.Password)).
			Return("user-uuid", nil).
			Times(1)

		token, err := svc.Register(request)

		req.NoError(err)
		req.NotEmpty(token)
	})

	t.Run("should fail when password complexity is not met", func(t *testing.T) {
		req := require.New(t)
		request := validRegisterRequest()
		request.Password = "alllowercasebutlong"

		// Repository should NEVER be called
		mockRepo.EXPECT().CreateUser(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		token, err := svc.Register(request)

		req.Error(err)
		req.ErrorIs(err, errors.ErrInvalidPassword)
		req.Empty(token)
	})

	t.Run("should fail when user already exists in repository", func(t *testing.T) {
		req := require.New(t)
		request := validRegisterRequest()
		request.Email = "duplicate@example.com"

		mockRepo.EXPECT().
			CreateUser(request.Email, gomock.Any(), gomock.Any(), gomock.Any()).
			Return("", errors.ErrUserAlreadyExists).
			Times(1)

		_, err := svc.Register(request)

		req.ErrorIs(err, errors.ErrUserAlreadyExists)
	})
}

func TestAuthService_Login(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockIUserRepository(ctrl)
	svc := services.NewAuthService(mockRepo, 24*time.Hour)

	password := "ComplexPass123!"
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)

	record := storage.UserRecord{
		ID:           "user-uuid",
		Email:        "alice@example.com",
		DisplayName:  "Alice",
		Role:         domain.RoleCoordinator,
		PasswordHash: hash,
	}

	t.Run("should return a token on valid credentials", func(t *testing.T) {
		req := require.New(t)
		mockRepo.EXPECT().GetUserByEmail(record.Email).Return(record, nil).Times(1)

		token, err := svc.Login(record.Email, password)
		req.NoError(err)
		req.NotEmpty(token)

		// The token identifies the user
		claims, err := auth.ValidateToken(string(token))
		req.NoError(err)
		req.Equal(record.ID, claims.UserID)
	})

	t.Run("should hide whether the account exists", func(t *testing.T) {
		req := require.New(t)
		mockRepo.EXPECT().GetUserByEmail("ghost@example.com").
			Return(storage.UserRecord{}, errors.ErrUserNotFound).Times(1)

		_, err := svc.Login("ghost@example.com", password)
		req.ErrorIs(err, errors.ErrInvalidCredentials)
	})

	t.Run("should reject a wrong password", func(t *testing.T) {
		req := require.New(t)
		mockRepo.EXPECT().GetUserByEmail(record.Email).Return(record, nil).Times(1)

		_, err := svc.Login(record.Email, "WrongPass123!")
		req.ErrorIs(err, errors.ErrInvalidCredentials)
	})
}

func TestAuthService_Identify(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockIUserRepository(ctrl)
	svc := services.NewAuthService(mockRepo, 24*time.Hour)

	record := storage.UserRecord{
		ID:          "user-uuid",
		Email:       "alice@example.com",
		DisplayName: "Alice",
		Role:        domain.RoleCoordinator,
	}

	t.Run("should resolve a valid token to the full user", func(t *testing.T) {
		req := require.New(t)
		token, err := auth.GenerateToken(record.ID, record.Role, time.Hour)
		req.NoError(err)

		mockRepo.EXPECT().GetUserByID(record.ID).Return(record, nil).Times(1)

		user, err := svc.Identify(token)
		req.NoError(err)
		req.Equal(record.ID, user.ID)
		req.Equal(record.DisplayName, user.DisplayName)
	})

	t.Run("should reject garbage tokens", func(t *testing.T) {
		req := require.New(t)
		_, err := svc.Identify("not-a-token")
		req.ErrorIs(err, errors.ErrAuthenticationFailed)
	})

	t.Run("should reject tokens of deleted users", func(t *testing.T) {
		req := require.New(t)
		token, err := auth.GenerateToken("gone-uuid", domain.RoleContributor, time.Hour)
		req.NoError(err)

		mockRepo.EXPECT().GetUserByID("gone-uuid").
			Return(storage.UserRecord{}, errors.ErrUserNotFound).Times(1)

		_, err = svc.Identify(token)
		req.ErrorIs(err, errors.ErrAuthenticationFailed)
	})
}
