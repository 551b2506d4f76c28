package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gate-service/internal/model"
)

func TestIssueAndParse(t *testing.T) {
	parser := NewParser("test-secret")
	want := model.Principal{
		UserID: uuid.New(),
		OrgID:  uuid.New(),
		Role:   model.UserRoleGateOperator,
	}

	token, err := parser.Issue(want, time.Hour)
	require.NoError(t, err)

	got, err := parser.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParse_Rejects(t *testing.T) {
	parser := NewParser("test-secret")
	userID := uuid.NewString()

	sign := func(method jwt.SigningMethod, key interface{}, claims Claims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := func() Claims {
		return Claims{
			UserID: userID,
			Role:   string(model.UserRoleGateAdmin),
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noExpiry := valid()
	noExpiry.ExpiresAt = nil
	badRole := valid()
	badRole.Role = "DRIVER"
	badUser := valid()
	badUser.UserID = "42"
	badOrg := valid()
	badOrg.OrgID = "org"

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.token"},
		{"wrong secret", sign(jwt.SigningMethodHS256, []byte("other"), valid())},
		{"wrong algorithm", sign(jwt.SigningMethodHS512, []byte("test-secret"), valid())},
		{"expired", sign(jwt.SigningMethodHS256, []byte("test-secret"), expired)},
		{"no expiry", sign(jwt.SigningMethodHS256, []byte("test-secret"), noExpiry)},
		{"unknown role", sign(jwt.SigningMethodHS256, []byte("test-secret"), badRole)},
		{"bad user id", sign(jwt.SigningMethodHS256, []byte("test-secret"), badUser)},
		{"bad org id", sign(jwt.SigningMethodHS256, []byte("test-secret"), badOrg)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.Parse(tt.token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidToken), "got %v", err)
		})
	}
}

func TestParse_SubjectFallback(t *testing.T) {
	parser := NewParser("test-secret")
	userID := uuid.New()

	claims := Claims{
		Role: string(model.UserRoleViewer),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	got, err := parser.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, userID, got.UserID)
	assert.Equal(t, model.UserRoleViewer, got.Role)
}
