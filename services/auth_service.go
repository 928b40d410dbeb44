package services

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/AkashInfoDev/helpdesk-back-end/config"
)

// AuthService verifies bearer tokens issued by the identity service. Token
// issuance, registration and credential checks all live there; this backend
// only validates the signature and resolves the principal.
type AuthService struct {
	Db        *gorm.DB
	jwtSecret []byte
}

func NewAuthService(db *gorm.DB, cfg *config.AuthConfig) *AuthService {
	return &AuthService{
		Db:        db,
		jwtSecret: []byte(cfg.JWTSecret),
	}
}

// Claims is the principal shape the identity service signs into each token.
type Claims struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
