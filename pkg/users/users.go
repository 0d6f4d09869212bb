package users

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentmux/agentmux/pkg/store"
)

// UsersFile is the relative path of the persisted user list.
const UsersFile = "users.json"

// Sentinel errors for user operations.
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrTokenNotFound = errors.New("service token not found")
)

// User is one identity. Tokens maps a connected service name (e.g.
// "slack", "github") to its encrypted token.
type User struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Email     string            `json:"email,omitempty"`
	Tokens    map[string]string `json:"tokens,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Service manages users and their encrypted service tokens.
type Service struct {
	store  *store.Store
	cipher *TokenCipher
}

// NewService creates the user service.
func NewService(st *store.Store, cipher *TokenCipher) *Service {
	return &Service{store: st, cipher: cipher}
}

// Create adds a user and returns its id.
func (s *Service) Create(name, email string) (string, error) {
	id := uuid.NewString()
	now := time.Now()
	_, err := store.ModifyJSON(s.store, UsersFile, []User{}, func(users *[]User) error {
		*users = append(*users, User{
			ID: id, Name: name, Email: email,
			Tokens: map[string]string{}, CreatedAt: now, UpdatedAt: now,
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Get returns a user by id.
func (s *Service) Get(id string) (User, error) {
	users, err := store.ReadJSON(s.store, UsersFile, []User{})
	if err != nil {
		return User{}, err
	}
	for _, u := range users {
		if u.ID == id {
			return u, nil
		}
	}
	return User{}, fmt.Errorf("user %q: %w", id, ErrUserNotFound)
}

// List returns all users.
func (s *Service) List() ([]User, error) {
	return store.ReadJSON(s.store, UsersFile, []User{})
}

// SetToken encrypts and stores a connected-service token for the user.
func (s *Service) SetToken(userID, service, token string) error {
	encrypted, err := s.cipher.Encrypt(token)
	if err != nil {
		return fmt.Errorf("encrypting %s token: %w", service, err)
	}
	_, err = store.ModifyJSON(s.store, UsersFile, []User{}, func(users *[]User) error {
		for i := range *users {
			u := &(*users)[i]
			if u.ID != userID {
				continue
			}
			if u.Tokens == nil {
				u.Tokens = map[string]string{}
			}
			u.Tokens[service] = encrypted
			u.UpdatedAt = time.Now()
			return nil
		}
		return fmt.Errorf("user %q: %w", userID, ErrUserNotFound)
	})
	return err
}

// Token decrypts and returns the user's token for a connected service.
func (s *Service) Token(userID, service string) (string, error) {
	u, err := s.Get(userID)
	if err != nil {
		return "", err
	}
	encrypted, ok := u.Tokens[service]
	if !ok {
		return "", fmt.Errorf("%s token for user %q: %w", service, userID, ErrTokenNotFound)
	}
	return s.cipher.Decrypt(encrypted)
}

// Delete removes a user.
func (s *Service) Delete(id string) error {
	_, err := store.ModifyJSON(s.store, UsersFile, []User{}, func(users *[]User) error {
		for i, u := range *users {
			if u.ID == id {
				*users = append((*users)[:i], (*users)[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("user %q: %w", id, ErrUserNotFound)
	})
	return err
}
