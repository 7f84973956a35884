package auth

import "time"

type RegisterRequest struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Password string  `json:"password"`
	DOB      string  `json:"dob"`
	Gender   string  `json:"gender"`
	Weight   float64 `json:"weight"`
	Height   float64 `json:"height"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	DOB          time.Time `json:"dob"`
	Gender       string    `json:"gender"`
	Weight       float64   `json:"weight"`
	Height       float64   `json:"height"`
	CreatedAt    time.Time `json:"created_at"`
}
