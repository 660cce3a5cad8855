package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/parley-chat/parley/pkg/config"
	"github.com/parley-chat/parley/pkg/db"
	"github.com/parley-chat/parley/pkg/models"
	"github.com/parley-chat/parley/pkg/utils"
)

var (
	ErrUserExists         = errors.New("username already taken")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrTokenInvalid       = errors.New("invalid or expired token")
	ErrMissingSecret      = errors.New("auth secret is not configured")
)

const (
	tokenKindAccess  = "access"
	tokenKindRefresh = "refresh"
)

type tokenClaims struct {
	Kind     string `json:"kind"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// AuthService owns accounts and signs the tokens that guard the API and the event channel.
type AuthService struct {
	db         *gorm.DB
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	hashCost   int
	now        func() time.Time
	logger     *slog.Logger
}

func NewAuthService(gdb *gorm.DB, cfg config.AuthConfig) (*AuthService, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, ErrMissingSecret
	}
	return &AuthService{
		db:         gdb,
		secret:     []byte(cfg.Secret),
		accessTTL:  cfg.AccessTokenTTL(),
		refreshTTL: cfg.RefreshTokenTTL(),
		hashCost:   bcrypt.DefaultCost,
		now:        time.Now,
		logger:     utils.GetLogger(),
	}, nil
}

// Register creates an account and signs a token pair for it.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, ErrInvalidCredentials
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&db.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if count > 0 {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &db.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: string(hash),
		FullName:     strings.TrimSpace(req.FullName),
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("User registered", "user_id", user.ID, "username", user.Username)
	return s.issue(user)
}

// Login verifies the password and signs a token pair.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	var user db.User
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(req.Username)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(&user)
}

// Authenticate resolves an access token to its user id.
func (s *AuthService) Authenticate(token string) (string, error) {
	claims, err := s.parse(token, tokenKindAccess)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// ValidateToken checks an access token and returns the account it belongs to.
func (s *AuthService) ValidateToken(ctx context.Context, token string) (*models.UserInfo, error) {
	userID, err := s.Authenticate(token)
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, userID)
}

// Refresh exchanges a refresh token for a new access token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*models.RefreshResponse, error) {
	claims, err := s.parse(refreshToken, tokenKindRefresh)
	if err != nil {
		return nil, err
	}
	var user db.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", claims.Subject).Error; err != nil {
		// Account deleted after the token was issued.
		return nil, ErrTokenInvalid
	}
	access, err := s.sign(&user, tokenKindAccess, s.accessTTL)
	if err != nil {
		return nil, err
	}
	return &models.RefreshResponse{AccessToken: access}, nil
}

func (s *AuthService) GetUser(ctx context.Context, userID string) (*models.UserInfo, error) {
	var user db.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	info := user.ToModel()
	return &info, nil
}

func (s *AuthService) issue(user *db.User) (*models.AuthResponse, error) {
	access, err := s.sign(user, tokenKindAccess, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(user, tokenKindRefresh, s.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &models.AuthResponse{User: user.ToModel(), AccessToken: access, RefreshToken: refresh}, nil
}

func (s *AuthService) sign(user *db.User, kind string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := tokenClaims{
		Kind:     kind,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

func (s *AuthService) parse(token, kind string) (*tokenClaims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrTokenInvalid
	}
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || claims.Kind != kind || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
