package model

import "github.com/golang-jwt/jwt/v5"

// Role is the portal role of an account.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
	RoleAdmin   Role = "admin"
)

// User is a portal account. Admins carry no hospital assignment and get the
// unscoped view.
type User struct {
	ID           string   `json:"id" bson:"_id"`
	Name         string   `json:"name" bson:"name"`
	Email        string   `json:"email" bson:"email"`
	Role         Role     `json:"role" bson:"role"`
	HospitalIDs  []string `json:"hospitalIds" bson:"hospitalIds"`
	PasswordHash string   `json:"-" bson:"passwordHash"`
}

// Claims are the JWT claims of a portal session token.
type Claims struct {
	UserID      string   `json:"userId"`
	Role        Role     `json:"role"`
	HospitalIDs []string `json:"hospitalIds,omitempty"`
	jwt.RegisteredClaims
}

// RoomClaims are the JWT claims of a media-room join credential: scoped to
// one room, short-lived.
type RoomClaims struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
	jwt.RegisteredClaims
}

// LoginRequest is the request body for login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned after successful login.
type LoginResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}
