package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuslms/messaging/pkg/model"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("user42", model.RoleProfessor)
	require.NoError(t, err)

	claims, err := ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user42", claims.UserID)
	assert.Equal(t, model.RoleProfessor, claims.Role)
}

func TestExpiredTokenRejected(t *testing.T) {
	token, err := generateToken("user42", model.RoleStudent, -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(token)
	assert.Error(t, err)
}

func TestGarbageTokenRejected(t *testing.T) {
	_, err := ValidateToken("definitely.not.ajwt")
	assert.Error(t, err)
}
