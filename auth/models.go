package auth

import "time"

type Role string

const (
	RoleCustomer   Role = "customer"
	RoleContractor Role = "contractor"
	RoleAdmin      Role = "admin"
)

// User is the domain representation of an authenticated user. It mirrors the
// users table and carries no JSON annotations so it can be reused by
// different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Phone        *string
	CompanyName  *string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	FullName    string  `json:"full_name"`
	Phone       *string `json:"phone,omitempty"`
	CompanyName *string `json:"company_name,omitempty"`
	Role        Role    `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
