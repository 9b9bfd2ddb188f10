package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskhive/internal/repository/memory"
	"taskhive/pkg/apperror"
	"taskhive/pkg/rbac"
	"taskhive/pkg/util"
)

const secret = "test-secret"

func newService() *Service {
	return NewService(memory.New().Users(), secret, time.Hour, []string{"Root@Example.com"}, zap.NewNop())
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterInput{Email: " Alice@Example.com ", Password: "correct horse", FirstName: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, []string{rbac.RoleUser}, u.Roles)
	assert.NotEqual(t, "correct horse", u.PasswordHash)

	_, err = svc.Register(ctx, RegisterInput{Email: "alice@example.com", Password: "another pass"})
	assert.True(t, apperror.IsConflict(err))

	token, err := svc.Login(ctx, "ALICE@example.com", "correct horse")
	require.NoError(t, err)
	p, err := util.ParseJWT(token, secret)
	require.NoError(t, err)
	assert.Equal(t, u.ID, p.UserID)
	assert.False(t, p.IsAdmin())

	_, err = svc.Login(ctx, "alice@example.com", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "nobody@example.com", "whatever1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegister_AdminEmail(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterInput{Email: "root@example.com", Password: "supersecret"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{rbac.RoleUser, rbac.RoleAdmin}, u.Roles)

	token, err := svc.Login(ctx, "root@example.com", "supersecret")
	require.NoError(t, err)
	p, err := util.ParseJWT(token, secret)
	require.NoError(t, err)
	assert.True(t, p.IsAdmin())
}

func TestRegister_Validation(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Email: "not-an-email", Password: "longenough"})
	assert.True(t, apperror.IsValidation(err))

	_, err = svc.Register(ctx, RegisterInput{Email: "bob@example.com", Password: "short"})
	assert.True(t, apperror.IsValidation(err))
}
