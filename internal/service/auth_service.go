// Package service holds the application services that sit between the HTTP
// handlers and the ports.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/tabhq/tab-billing/internal/domain"
	"github.com/tabhq/tab-billing/internal/port"
)

var authTracer = otel.Tracer("service/auth")

const bcryptCost = 12

// AuthService handles merchant registration, login and API keys.
type AuthService struct {
	store     port.AuthStore
	jwtSecret []byte
	accessTTL time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuthService creates a new auth service.
func NewAuthService(store port.AuthStore, jwtSecret string, accessTTL time.Duration, logger *zap.Logger) *AuthService {
	return &AuthService{
		store:     store,
		jwtSecret: []byte(jwtSecret),
		accessTTL: accessTTL,
		logger:    logger,
		now:       time.Now,
	}
}

// Register creates a merchant account with a bcrypt-hashed password.
func (s *AuthService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.RegisterResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Register")
	defer span.End()

	if req.Email == "" {
		return nil, &domain.ErrValidation{Field: "email", Message: "required"}
	}
	if len(req.Password) < 8 {
		return nil, &domain.ErrValidation{Field: "password", Message: "must be at least 8 characters"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	m := &domain.Merchant{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateMerchant(ctx, m); err != nil {
		return nil, err
	}

	s.logger.Info("merchant registered",
		zap.String("merchant_id", m.ID),
		zap.String("email", m.Email),
	)

	return &domain.RegisterResponse{MerchantID: m.ID, Email: m.Email}, nil
}

// Login verifies credentials and issues an access token.
func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Login")
	defer span.End()

	m, err := s.store.GetMerchantByEmail(ctx, req.Email)
	if err != nil {
		// Same response for unknown email and wrong password.
		return nil, &domain.ErrUnauthorized{Message: "invalid credentials"}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(req.Password)); err != nil {
		s.logger.Warn("login: failed password attempt", zap.String("merchant_id", m.ID))
		return nil, &domain.ErrUnauthorized{Message: "invalid credentials"}
	}

	token, err := s.signAccessToken(m.ID)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	s.logger.Info("merchant logged in", zap.String("merchant_id", m.ID))

	return &domain.LoginResponse{
		AccessToken: token,
		ExpiresIn:   int(s.accessTTL.Seconds()),
		MerchantID:  m.ID,
	}, nil
}

// CreateAPIKey issues a server-to-server key. The plaintext key is returned
// exactly once; only its SHA-256 hash is stored.
func (s *AuthService) CreateAPIKey(ctx context.Context, merchantID, label string) (*domain.APIKeyResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.CreateAPIKey")
	defer span.End()

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}
	raw := "tbk_" + hex.EncodeToString(b)

	key := &domain.APIKey{
		ID:         uuid.NewString(),
		MerchantID: merchantID,
		KeyHash:    hashKey(raw),
		Label:      label,
		CreatedAt:  s.now(),
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return nil, err
	}

	s.logger.Info("api key created",
		zap.String("merchant_id", merchantID),
		zap.String("key_id", key.ID),
	)

	return &domain.APIKeyResponse{KeyID: key.ID, APIKey: raw, Label: label}, nil
}

// AuthenticateAPIKey resolves a raw key to its merchant ID.
func (s *AuthService) AuthenticateAPIKey(ctx context.Context, rawKey string) (string, error) {
	key, err := s.store.GetAPIKeyByHash(ctx, hashKey(rawKey))
	if err != nil {
		return "", &domain.ErrUnauthorized{Message: "invalid api key"}
	}
	return key.MerchantID, nil
}

// JWTClaims are the custom claims in access tokens.
type JWTClaims struct {
	Sub  string `json:"sub"`
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// ValidateAccessToken parses and verifies a bearer token, returning its claims.
func (s *AuthService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}
	if claims.Type != "access" {
		return nil, &domain.ErrUnauthorized{Message: "invalid token type"}
	}
	return claims, nil
}

func (s *AuthService) signAccessToken(merchantID string) (string, error) {
	now := s.now()
	claims := JWTClaims{
		Sub:  merchantID,
		Type: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			Issuer:    "tab-billing",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
