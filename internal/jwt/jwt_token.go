package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

const DefaultTokenTTL = 15 * time.Minute

func appendRoleChar(token string, role Role) string {
	switch role {
	case RoleAgent:
		return token + "1"
	}
	return token
}

func expectedRoleChar(role Role) string {
	switch role {
	case RoleAgent:
		return "1"
	}
	return ""
}

// Signer issues and validates HS256 tokens. Every token ends with a role
// character that is stripped before signature verification.
type Signer struct {
	secrets map[Role][]byte
	now     func() time.Time
}

func NewSigner(agentSecret string) *Signer {
	return &Signer{
		secrets: map[Role][]byte{RoleAgent: []byte(agentSecret)},
		now:     time.Now,
	}
}

func (s *Signer) CreateToken(agent Agent, role Role, validUntil int64) (string, error) {
	secret, ok := s.secrets[role]
	if !ok {
		return "", fmt.Errorf("invalid role specified")
	}

	if validUntil == 0 {
		validUntil = s.now().Add(DefaultTokenTTL).Unix()
	}

	claims := jwt.MapClaims{
		"id":       agent.Id,
		"username": agent.Username,
		"exp":      validUntil,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", err
	}

	return appendRoleChar(tokenString, role), nil
}

func (s *Signer) ParseToken(tokenString string, role Role) (Claims, error) {
	if len(tokenString) == 0 {
		return Claims{}, fmt.Errorf("token string is empty")
	}

	if tokenString[len(tokenString)-1:] != expectedRoleChar(role) {
		return Claims{}, fmt.Errorf("invalid role character in token")
	}
	tokenString = tokenString[:len(tokenString)-1]

	secret, ok := s.secrets[role]
	if !ok {
		return Claims{}, fmt.Errorf("invalid role specified")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("unauthorized: %v", err)
	}
	if !token.Valid {
		return Claims{}, fmt.Errorf("token is not valid - unauthorized")
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, fmt.Errorf("claims of unauthorized type")
	}

	claims := Claims{}
	claims.UserID, _ = mapClaims["id"].(string)
	claims.Username, _ = mapClaims["username"].(string)
	if exp, ok := mapClaims["exp"].(float64); ok {
		claims.ExpiresAt = int64(exp)
	}
	if claims.UserID == "" {
		return Claims{}, fmt.Errorf("token has no subject")
	}
	if claims.ExpiresAt != 0 && s.now().Unix() > claims.ExpiresAt {
		return Claims{}, fmt.Errorf("token expired")
	}
	return claims, nil
}
