package domain

// RegisterRequest is the body for POST /v1/auth/register.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterResponse is returned by POST /v1/auth/register.
type RegisterResponse struct {
	MerchantID string `json:"merchant_id"`
	Email      string `json:"email"`
}

// LoginRequest is the body for POST /v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned by POST /v1/auth/login.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	MerchantID  string `json:"merchant_id"`
}

// APIKeyResponse is returned once at key creation; the plaintext key is not
// recoverable afterwards.
type APIKeyResponse struct {
	KeyID  string `json:"key_id"`
	APIKey string `json:"api_key"`
	Label  string `json:"label,omitempty"`
}
