package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// トークンの用途。用途が異なるトークンは検証に失敗する。
const (
	PurposeEmailVerification = "email_verification"
	PurposePasswordReset     = "password_reset"
)

// ErrInvalidToken は署名・期限・用途のいずれかが不正なトークンを表す。
var ErrInvalidToken = errors.New("invalid token")

type tokenClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// TokenIssuer はメール確認・パスワードリセット用の署名付きトークンを発行する。
type TokenIssuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenIssuer はHS256で署名するTokenIssuerを生成する。
func NewTokenIssuer(secret []byte, issuer string) *TokenIssuer {
	return &TokenIssuer{secret: secret, issuer: issuer, now: time.Now}
}

// CreateAuthToken は指定ユーザー・用途・有効期間のトークンを生成する。
func (t *TokenIssuer) CreateAuthToken(userID, purpose string, ttl time.Duration) (string, error) {
	if userID == "" || purpose == "" {
		return "", fmt.Errorf("user ID and purpose are required")
	}
	now := t.now()
	claims := tokenClaims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyAuthToken はトークンを検証し、ユーザーIDを返す。
func (t *TokenIssuer) VerifyAuthToken(token, purpose string) (string, error) {
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Purpose != purpose || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
