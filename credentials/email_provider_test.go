package credentials_test

import (
	"context"
	"testing"

	"github.com/jrsteele09/go-auth-session/credentials"
	"github.com/jrsteele09/go-auth-session/identity"
	"github.com/jrsteele09/go-auth-session/identity/backendfake"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/tokenstore/repofake"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "john.doe@example.com"
	testPassword = "password123"
	testName     = "John Doe"
)

func setupEmailProvider(t *testing.T) (*credentials.EmailProvider, *backendfake.FakeBackend, *repofake.FakeTokenRepo) {
	t.Helper()
	backend := backendfake.New()
	store := repofake.NewFakeTokenRepo()
	return credentials.NewEmailProvider(backend, store, zerolog.Nop()), backend, store
}

func TestRegisterReturnsTokenAndStaysSignedIn(t *testing.T) {
	provider, backend, store := setupEmailProvider(t)

	raw, err := provider.Register(context.Background(), testEmail, testPassword, testName)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	claims, err := token.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, testEmail, claims.Email)
	require.Equal(t, testName, claims.Name)

	require.NotNil(t, backend.CurrentAccount(), "registration keeps the account signed in")
	require.Equal(t, 1, backend.VerificationsSent(testEmail))

	method, err := store.LoginMethod()
	require.NoError(t, err)
	require.Equal(t, string(credentials.MethodEmail), method)
}

func TestLoginRejectsUnverifiedEmail(t *testing.T) {
	provider, _, _ := setupEmailProvider(t)
	_, err := provider.Register(context.Background(), testEmail, testPassword, testName)
	require.NoError(t, err)

	_, err = provider.Login(context.Background(), testEmail, testPassword)
	require.Error(t, err)

	var credErr *credentials.Error
	require.ErrorAs(t, err, &credErr)
	require.Equal(t, credentials.CodeForbidden, credErr.Code)
	require.Equal(t, "Login", credErr.Op)
}

func TestLoginSucceedsForVerifiedEmail(t *testing.T) {
	provider, backend, _ := setupEmailProvider(t)
	_, err := provider.Register(context.Background(), testEmail, testPassword, testName)
	require.NoError(t, err)
	backend.SetEmailVerified(testEmail, true)

	raw, err := provider.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)

	claims, err := token.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, testEmail, claims.Email)
	require.True(t, claims.Valid())
}

func TestLoginRejectsMissingUserObject(t *testing.T) {
	provider, backend, _ := setupEmailProvider(t)
	_, err := provider.Register(context.Background(), testEmail, testPassword, testName)
	require.NoError(t, err)
	backend.SetEmailVerified(testEmail, true)
	backend.SignInNilAccount = true

	_, err = provider.Login(context.Background(), testEmail, testPassword)
	require.Error(t, err)

	var credErr *credentials.Error
	require.ErrorAs(t, err, &credErr)
	require.Equal(t, credentials.CodeNotFound, credErr.Code)
}

func TestLoginWrongPasswordCarriesProviderCode(t *testing.T) {
	provider, backend, _ := setupEmailProvider(t)
	_, err := provider.Register(context.Background(), testEmail, testPassword, testName)
	require.NoError(t, err)
	backend.SetEmailVerified(testEmail, true)

	_, err = provider.Login(context.Background(), testEmail, "wrong-password")
	require.Error(t, err)

	var credErr *credentials.Error
	require.ErrorAs(t, err, &credErr)
	require.Equal(t, identity.CodeInvalidCredentials, credErr.Code)
	require.Equal(t, "EmailAuthService", credErr.Service)
}

func TestLogoutSignsOutOfBackend(t *testing.T) {
	provider, backend, _ := setupEmailProvider(t)
	_, err := provider.Register(context.Background(), testEmail, testPassword, testName)
	require.NoError(t, err)

	require.NoError(t, provider.Logout(context.Background()))
	require.Nil(t, backend.CurrentAccount())
}

func TestLogoutTranslatesBackendError(t *testing.T) {
	provider, backend, _ := setupEmailProvider(t)
	backend.SignOutErr = identity.NewError(identity.CodeUnavailable, "backend down")

	err := provider.Logout(context.Background())
	require.Error(t, err)

	var credErr *credentials.Error
	require.ErrorAs(t, err, &credErr)
	require.Equal(t, identity.CodeUnavailable, credErr.Code)
	require.Equal(t, "Logout", credErr.Op)
}

func TestResetPassword(t *testing.T) {
	provider, backend, _ := setupEmailProvider(t)
	_, err := provider.Register(context.Background(), testEmail, testPassword, testName)
	require.NoError(t, err)

	require.NoError(t, provider.ResetPassword(context.Background(), testEmail))
	require.Equal(t, 1, backend.ResetsSent(testEmail))

	err = provider.ResetPassword(context.Background(), "missing@example.com")
	var credErr *credentials.Error
	require.ErrorAs(t, err, &credErr)
	require.Equal(t, identity.CodeUserNotFound, credErr.Code)
}
