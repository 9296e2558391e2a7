package calcd

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const minPasswordLen = 8

// NewUser normalizes and validates registration input. The password is hashed
// by the caller so the domain type never holds plaintext.
func NewUser(firstName, lastName, email, username string) (*User, error) {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)

	if firstName == "" || lastName == "" {
		return nil, fmt.Errorf("first and last name must be set")
	}
	if username == "" {
		return nil, fmt.Errorf("username must be set")
	}
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email address: %s", email)
	}

	now := time.Now().UTC()
	return &User{
		ID:        uuid.New(),
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
		Username:  username,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func ValidatePassword(password string) error {
	if len(password) < minPasswordLen {
		return fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}
	return nil
}
