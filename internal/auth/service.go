package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"backend-travelalarm/internal/db"
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour
)

var errDBUnavailable = errors.New("account store unavailable")

type Service struct {
	secret []byte
	db     db.Querier
}

type Claims struct {
	TravelerID string `json:"traveler_id"`
	jwt.RegisteredClaims
}

func NewService(secret string, q db.Querier) *Service {
	return &Service{
		secret: []byte(secret),
		db:     q,
	}
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (Traveler, TokenResponse, error) {
	if req.Email == "" || req.Password == "" {
		return Traveler{}, TokenResponse{}, errors.New("email and password required")
	}
	if s.db == nil {
		return Traveler{}, TokenResponse{}, errDBUnavailable
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return Traveler{}, TokenResponse{}, err
	}

	traveler := Traveler{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PhoneNumber:  req.PhoneNumber,
		PasswordHash: string(hash),
		FullName:     req.FullName,
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO travelers (id, email, phone_number, password_hash, full_name)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at
	`, traveler.ID, traveler.Email, traveler.PhoneNumber, traveler.PasswordHash, traveler.FullName)
	if err := row.Scan(&traveler.CreatedAt, &traveler.UpdatedAt); err != nil {
		return Traveler{}, TokenResponse{}, err
	}

	tokens, err := s.GenerateTokens(ctx, traveler.ID)
	if err != nil {
		return Traveler{}, TokenResponse{}, err
	}
	return traveler, tokens, nil
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (Traveler, TokenResponse, error) {
	if s.db == nil {
		return Traveler{}, TokenResponse{}, errDBUnavailable
	}
	row := s.db.QueryRow(ctx, `
		SELECT id, email, phone_number, password_hash, full_name, created_at, updated_at
		FROM travelers WHERE email = $1
	`, req.Email)

	var traveler Traveler
	if err := row.Scan(&traveler.ID, &traveler.Email, &traveler.PhoneNumber, &traveler.PasswordHash, &traveler.FullName, &traveler.CreatedAt, &traveler.UpdatedAt); err != nil {
		return Traveler{}, TokenResponse{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(traveler.PasswordHash), []byte(req.Password)); err != nil {
		return Traveler{}, TokenResponse{}, errors.New("invalid credentials")
	}

	tokens, err := s.GenerateTokens(ctx, traveler.ID)
	if err != nil {
		return Traveler{}, TokenResponse{}, err
	}
	return traveler, tokens, nil
}

func (s *Service) GenerateTokens(ctx context.Context, travelerID string) (TokenResponse, error) {
	access, err := s.signToken(travelerID, accessTokenTTL)
	if err != nil {
		return TokenResponse{}, err
	}

	refresh, err := s.signToken(travelerID, refreshTokenTTL)
	if err != nil {
		return TokenResponse{}, err
	}

	if err := s.saveRefreshToken(ctx, refresh, travelerID, refreshTokenTTL); err != nil {
		return TokenResponse{}, err
	}

	return TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(accessTokenTTL.Seconds()),
	}, nil
}

func (s *Service) ValidateRefreshToken(ctx context.Context, token string) (string, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return "", err
	}

	travelerID, expiresAt, err := s.lookupRefreshToken(ctx, token)
	if err != nil || travelerID != claims.TravelerID || time.Now().After(expiresAt) {
		return "", errors.New("refresh token invalid")
	}
	return claims.TravelerID, nil
}

func (s *Service) ValidateAccessToken(token string) (string, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return "", err
	}
	return claims.TravelerID, nil
}

func (s *Service) signToken(travelerID string, ttl time.Duration) (string, error) {
	claims := Claims{
		TravelerID: travelerID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Service) parseToken(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}

func (s *Service) saveRefreshToken(ctx context.Context, token, travelerID string, ttl time.Duration) error {
	if s.db == nil {
		return errDBUnavailable
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO refresh_tokens (id, traveler_id, token, expires_at)
		VALUES ($1,$2,$3,$4)
	`, uuid.NewString(), travelerID, token, time.Now().Add(ttl))
	return err
}

func (s *Service) lookupRefreshToken(ctx context.Context, token string) (string, time.Time, error) {
	if s.db == nil {
		return "", time.Time{}, errDBUnavailable
	}
	row := s.db.QueryRow(ctx, `
		SELECT traveler_id, expires_at
		FROM refresh_tokens
		WHERE token = $1 AND revoked_at IS NULL
	`, token)
	var travelerID string
	var expiresAt time.Time
	if err := row.Scan(&travelerID, &expiresAt); err != nil {
		return "", time.Time{}, err
	}
	return travelerID, expiresAt, nil
}
