package models

import "time"

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Provider records how a user authenticates.
type Provider string

const (
	ProviderLocal Provider = "local"
	ProviderOIDC  Provider = "oidc"
)

// User represents an application user. PasswordHash is empty for federated accounts.
type User struct {
	ID           string    `bson:"_id" json:"id"`
	Name         string    `bson:"name" json:"name"`
	Email        string    `bson:"email" json:"email"`
	Role         Role      `bson:"role" json:"role"`
	Provider     Provider  `bson:"provider" json:"provider"`
	Sub          string    `bson:"sub,omitempty" json:"-"` // OIDC subject
	PasswordHash string    `bson:"passwordHash,omitempty" json:"-"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Principal is the identity snapshot carried by an access token.
type Principal struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

func (u *User) Principal() Principal {
	role := u.Role
	if role == "" {
		role = RoleUser
	}
	return Principal{ID: u.ID, Name: u.Name, Email: u.Email, Role: role}
}
