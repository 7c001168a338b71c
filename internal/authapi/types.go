package authapi

import "time"

// Organization identifies the organization a user belongs to.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// OrganizationMembership describes the user's standing within their organization.
type OrganizationMembership struct {
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// UserProfile is the identity shape returned by the identity service.
type UserProfile struct {
	ID                     string                 `json:"id"`
	Email                  string                 `json:"email"`
	FirstName              string                 `json:"first_name"`
	LastName               string                 `json:"last_name"`
	IsActive               bool                   `json:"is_active"`
	LastLogin              *time.Time             `json:"last_login"`
	CreatedAt              time.Time              `json:"created_at"`
	UpdatedAt              time.Time              `json:"updated_at"`
	Organization           Organization           `json:"organization"`
	OrganizationMembership OrganizationMembership `json:"organization_membership"`
}

// TokenPair is the access/refresh token bundle issued by the identity service.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"` // access token lifetime in seconds
}

// Credential is the combined result of a successful login or registration.
type Credential struct {
	User   UserProfile `json:"user"`
	Tokens TokenPair   `json:"tokens"`
}

// RegisterInput holds the fields for the registration endpoint.
// OrganizationName is optional; when empty a personal organization is
// created by the identity service.
type RegisterInput struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	OrganizationName string `json:"organization_name,omitempty"`
}
