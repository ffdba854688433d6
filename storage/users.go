//go:generate go run go.uber.org/mock/mockgen -source=users.go -destination=../mocks/mock_user_repository.go -package=mocks
package storage

import (
	"encoding/json"
	goerrors "errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"pairwire/domain"
	"pairwire/errors"
)

type IUserRepository interface {
	CreateUser(email, displayName string, role domain.Role, hashedPassword string) (string, error)
	GetUserByEmail(email string) (UserRecord, error)
	GetUserByID(id string) (UserRecord, error)
}

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) UserRepository {
	return UserRepository{db: db}
}

// UserRecord is the repository-level representation of an account,
// including the credential hash the domain never sees.
type UserRecord struct {
	ID           string      `json:"id"`
	Email        string      `json:"email"`
	DisplayName  string      `json:"display_name"`
	Role         domain.Role `json:"role"`
	PasswordHash string      `json:"password_hash"`
	CreatedAt    time.Time   `json:"created_at"`
}

func (u UserRecord) User() domain.User {
	return domain.User{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt.UTC(),
	}
}

func userEmailKey(email string) []byte { return []byte("user:email:" + email) }
func userIDKey(id string) []byte       { return []byte("user:id:" + id) }

// CreateUser persists a new account, rejecting duplicate emails inside the
// same transaction that writes the record.
func (u UserRepository) CreateUser(email, displayName string, role domain.Role, hashedPassword string) (string, error) {
	rec := UserRecord{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		Role:         role,
		PasswordHash: hashedPassword,
		CreatedAt:    time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}

	err = update(u.db, func(txn *badger.Txn) error {
		if _, err := txn.Get(userEmailKey(email)); err == nil {
			return errors.ErrUserAlreadyExists
		}
		if err := txn.Set(userEmailKey(email), data); err != nil {
			return err
		}
		return txn.Set(userIDKey(rec.ID), []byte(email))
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (u UserRepository) GetUserByEmail(email string) (UserRecord, error) {
	var rec UserRecord
	err := u.db.View(func(txn *badger.Txn) error {
		raw, err := getValue(txn, userEmailKey(email))
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &rec)
	})
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return UserRecord{}, errors.ErrUserNotFound
	}
	return rec, err
}

func (u UserRepository) GetUserByID(id string) (UserRecord, error) {
	var rec UserRecord
	err := u.db.View(func(txn *badger.Txn) error {
		email, err := getValue(txn, userIDKey(id))
		if err != nil {
			return err
		}
		raw, err := getValue(txn, userEmailKey(string(email)))
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &rec)
	})
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return UserRecord{}, errors.ErrUserNotFound
	}
	return rec, err
}
