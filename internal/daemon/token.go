package daemon

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"flowops/internal/types"
)

// Claims is the JWT body carried by API callers.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}

// IssueToken signs an HS256 token for principal.
func IssueToken(secret []byte, issuer string, principal types.Principal, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is required")
	}
	if strings.TrimSpace(principal.ID) == "" {
		return "", errors.New("principal id is required")
	}
	if _, ok := types.ParseUserRole(string(principal.Role)); !ok {
		return "", fmt.Errorf("unknown role %q", principal.Role)
	}
	now := time.Now()
	claims := Claims{
		Email: principal.Email,
		Role:  string(principal.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   principal.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates tokenString and returns the principal it names.
func ParseToken(secret []byte, issuer, tokenString string) (types.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return types.Principal{}, err
	}
	if !token.Valid {
		return types.Principal{}, errors.New("invalid token")
	}
	role, ok := types.ParseUserRole(claims.Role)
	if !ok {
		return types.Principal{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	if claims.Subject == "" {
		return types.Principal{}, errors.New("token has no subject")
	}
	return types.Principal{ID: claims.Subject, Email: claims.Email, Role: role}, nil
}

// LoadOrCreateSecret returns the signing secret stored at path, generating
// one on first use.
func LoadOrCreateSecret(path string) (string, error) {
	if secret, err := readSecret(path); err == nil && secret != "" {
		_ = os.Chmod(path, 0o600)
		return secret, nil
	} else if err != nil && !os.IsNotExist(err) {
		return "", err
	}

	secret, err := generateSecret()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(secret+"\n"), 0o600); err != nil {
		return "", err
	}
	_ = os.Chmod(path, 0o600)
	return secret, nil
}

func readSecret(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
