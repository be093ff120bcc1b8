package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-simulation/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestNewService(t *testing.T) {
	service, err := NewService()
	assert.NoError(t, err)
	assert.NotNil(t, service)
	assert.NotEmpty(t, service.jwtSecret)
	assert.Equal(t, 24*time.Hour, service.TokenExpiry())
}

func TestNewService_FromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "sim-secret")
	t.Setenv("JWT_EXPIRY", "90m")

	service, err := NewService()
	require.NoError(t, err)
	assert.Equal(t, []byte("sim-secret"), service.jwtSecret)
	assert.Equal(t, 90*time.Minute, service.TokenExpiry())

	t.Setenv("JWT_EXPIRY", "tomorrow")
	_, err = NewService()
	assert.Error(t, err)
}

func TestService_HashPassword(t *testing.T) {
	service, _ := NewService()

	password := "testpassword123"
	hash, err := service.HashPassword(password)

	assert.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.NotEqual(t, password, hash)
}

func TestService_CheckPassword(t *testing.T) {
	service, _ := NewService()

	password := "testpassword123"
	hash, _ := service.HashPassword(password)

	// Test correct password
	assert.True(t, service.CheckPassword(password, hash))

	// Test incorrect password
	assert.False(t, service.CheckPassword("wrongpassword", hash))
}

func TestService_GenerateToken(t *testing.T) {
	service, _ := NewService()

	user := &models.User{
		ID:       primitive.NewObjectID(),
		Username: "dispatcher",
		Role:     models.RoleOperator,
	}

	token, expiresAt, err := service.GenerateToken(user)
	assert.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), expiresAt, 5*time.Second)
}

func TestService_ValidateToken(t *testing.T) {
	service, _ := NewService()

	user := &models.User{
		ID:       primitive.NewObjectID(),
		Username: "testuser",
		Role:     models.RoleAdmin,
	}

	token, _, _ := service.GenerateToken(user)

	// Test valid token
	claims, err := service.ValidateToken(token)
	assert.NoError(t, err)
	assert.NotNil(t, claims)
	assert.Equal(t, user.ID.Hex(), claims.UserID)
	assert.Equal(t, user.Username, claims.Username)
	assert.Equal(t, user.Role, claims.Role)

	// Test invalid token
	_, err = service.ValidateToken("invalid-token")
	assert.Error(t, err)
	assert.Equal(t, ErrInvalidToken, err)

	// Test token with Bearer prefix
	_, err = service.ValidateToken("Bearer " + token)
	assert.NoError(t, err)
}

func TestService_ValidateToken_Expired(t *testing.T) {
	t.Setenv("JWT_EXPIRY", "-1m")
	service, err := NewService()
	require.NoError(t, err)

	token, _, err := service.GenerateToken(&models.User{ID: primitive.NewObjectID(), Username: "late", Role: models.RoleViewer})
	require.NoError(t, err)

	_, err = service.ValidateToken(token)
	assert.Equal(t, ErrExpiredToken, err)
}

func TestService_ValidateToken_Rejects(t *testing.T) {
	service, _ := NewService()
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		method jwt.SigningMethod
		key    interface{}
		claims jwt.MapClaims
	}{
		{
			name:   "wrong secret",
			method: jwt.SigningMethodHS256,
			key:    []byte("other-secret"),
			claims: jwt.MapClaims{"user_id": "1", "username": "u", "role": "admin", "exp": exp},
		},
		{
			name:   "unknown role",
			method: jwt.SigningMethodHS256,
			key:    service.jwtSecret,
			claims: jwt.MapClaims{"user_id": "1", "username": "u", "role": "driver", "exp": exp},
		},
		{
			name:   "missing user id",
			method: jwt.SigningMethodHS256,
			key:    service.jwtSecret,
			claims: jwt.MapClaims{"username": "u", "role": "admin", "exp": exp},
		},
		{
			name:   "unsigned",
			method: jwt.SigningMethodNone,
			key:    jwt.UnsafeAllowNoneSignatureType,
			claims: jwt.MapClaims{"user_id": "1", "username": "u", "role": "admin", "exp": exp},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := jwt.NewWithClaims(tt.method, tt.claims).SignedString(tt.key)
			require.NoError(t, err)
			_, err = service.ValidateToken(token)
			assert.Equal(t, ErrInvalidToken, err)
		})
	}
}

func TestClaims_HasPermission(t *testing.T) {
	operator := &Claims{Role: models.RoleOperator}
	assert.True(t, operator.HasPermission(models.PermControlSimulation))
	assert.False(t, operator.HasPermission(models.PermSeedFleet))

	viewer := &Claims{Role: models.RoleViewer}
	assert.True(t, viewer.HasPermission(models.PermViewSimulation))
	assert.False(t, viewer.HasPermission(models.PermControlSimulation))
}

func TestService_ExtractTokenFromHeader(t *testing.T) {
	service, _ := NewService()

	// Test valid header
	token := "valid-token"
	header := "Bearer " + token
	extracted, err := service.ExtractTokenFromHeader(header)
	assert.NoError(t, err)
	assert.Equal(t, token, extracted)

	// Test empty header
	_, err = service.ExtractTokenFromHeader("")
	assert.Error(t, err)
	assert.Equal(t, ErrInvalidToken, err)

	// Test invalid format
	_, err = service.ExtractTokenFromHeader("InvalidFormat")
	assert.Error(t, err)
	assert.Equal(t, ErrInvalidToken, err)

	// Test missing token
	_, err = service.ExtractTokenFromHeader("Bearer ")
	assert.Error(t, err)
	assert.Equal(t, ErrInvalidToken, err)
}

func TestService_ValidatePassword(t *testing.T) {
	service, _ := NewService()

	// Test valid password
	err := service.ValidatePassword("validpassword123")
	assert.NoError(t, err)

	// Test too short password
	err = service.ValidatePassword("short")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "at least 8 characters")
}

func TestService_ValidateUsername(t *testing.T) {
	service, _ := NewService()

	// Test valid username
	err := service.ValidateUsername("testuser")
	assert.NoError(t, err)

	// Test too short username
	err = service.ValidateUsername("ab")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "at least 3 characters")

	// Test too long username
	err = service.ValidateUsername(strings.Repeat("a", 51))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "less than 50 characters")
}

func TestService_TokenExpiration(t *testing.T) {
	service, _ := NewService()

	user := &models.User{
		ID:       primitive.NewObjectID(),
		Username: "testuser",
		Role:     models.RoleAdmin,
	}

	token, _, _ := service.GenerateToken(user)

	// Token should be valid immediately
	claims, err := service.ValidateToken(token)
	assert.NoError(t, err)
	assert.NotNil(t, claims)

	// Check expiration time
	now := time.Now().Unix()
	assert.Greater(t, claims.Exp, now)
	assert.LessOrEqual(t, claims.Exp, now+int64(service.tokenExp.Seconds())+1)
}
