package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestGenerateToken(t *testing.T) {
	auth := NewAuthenticator(testSecret)

	token, err := auth.GenerateToken("editor-1", "editor", time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := auth.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "editor-1", claims.UserID)
	assert.Equal(t, "editor", claims.Role)
}

func TestJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := NewAuthenticator(testSecret)

	expired, err := auth.GenerateToken("editor-1", "", -time.Minute)
	require.NoError(t, err)
	foreign, err := NewAuthenticator("other-secret").GenerateToken("editor-1", "", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name           string
		header         string
		expectedStatus int
	}{
		{
			name:           "Missing authorization header",
			header:         "",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Invalid token format",
			header:         "InvalidToken",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Expired token",
			header:         "Bearer " + expired,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Wrong signing secret",
			header:         "Bearer " + foreign,
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			req := httptest.NewRequest("GET", "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			c.Request = req

			auth.JWTAuth()(c)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.True(t, c.IsAborted())
		})
	}
}

func TestJWTAuthWithValidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := NewAuthenticator(testSecret)

	token, err := auth.GenerateToken("reviewer-7", "reviewer", time.Hour)
	require.NoError(t, err)

	router := gin.New()
	router.Use(auth.JWTAuth())
	router.GET("/test", func(c *gin.Context) {
		userID, exists := GetUserID(c)
		assert.True(t, exists)
		assert.Equal(t, "reviewer-7", userID)
		assert.Equal(t, "reviewer", c.GetString(RoleContextKey))
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestParseFallsBackToSubject(t *testing.T) {
	auth := NewAuthenticator(testSecret)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "admin-2",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	claims, err := auth.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "admin-2", claims.UserID)
}

func TestParseRejectsUnsignedToken(t *testing.T) {
	auth := NewAuthenticator(testSecret)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "intruder"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = auth.Parse(signed)
	assert.Error(t, err)
}
