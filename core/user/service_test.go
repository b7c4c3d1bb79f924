package user_test

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/maker/core"
	"github.com/trezcool/maker/core/user"
	inmemdb "github.com/trezcool/maker/storage/database/inmem"
	"github.com/trezcool/maker/testutil"
)

func TestNewUser_Validate(t *testing.T) {
	ctx := context.Background()
	validate := testutil.NewValidator()
	repo := inmemdb.NewUserRepository(inmemdb.Open())
	svc := user.NewService(repo)
	testutil.CreateUser(t, repo, "Taken", "taken", "taken@maker.test", "", nil, true)

	valid := func() user.NewUser {
		return user.NewUser{
			Name:            " Ada ",
			Username:        " ADA ",
			Email:           "Ada@Maker.Test",
			Password:        "s3cr3t-pwd",
			PasswordConfirm: "s3cr3t-pwd",
			Roles:           []string{user.RoleParticipant},
		}
	}

	t.Run("valid & cleaned", func(t *testing.T) {
		nu := valid()
		require.NoError(t, nu.Validate(ctx, validate, svc))
		assert.Equal(t, "Ada", nu.Name)
		assert.Equal(t, "ada", nu.Username)
		assert.Equal(t, "ada@maker.test", nu.Email)
	})

	tests := []struct {
		name      string
		mutate    func(nu *user.NewUser)
		wantField string
		wantTag   string
	}{
		{name: "no name", mutate: func(nu *user.NewUser) { nu.Name = "  " }, wantField: "name", wantTag: "required"},
		{name: "bad email", mutate: func(nu *user.NewUser) { nu.Email = "nope" }, wantField: "email", wantTag: "email"},
		{name: "no username nor email", mutate: func(nu *user.NewUser) { nu.Username, nu.Email = "", "" }, wantField: "username", wantTag: "username_or_email"},
		{name: "unknown role", mutate: func(nu *user.NewUser) { nu.Roles = []string{"wizard:"} }, wantField: "roles", wantTag: "allroles"},
		{name: "short password", mutate: func(nu *user.NewUser) { nu.Password, nu.PasswordConfirm = "abc", "abc" }, wantField: "password", wantTag: "pwdminlen"},
		{name: "numeric password", mutate: func(nu *user.NewUser) { nu.Password, nu.PasswordConfirm = "12345678", "12345678" }, wantField: "password", wantTag: "pwdnotallnum"},
		{name: "spaced password", mutate: func(nu *user.NewUser) { nu.Password, nu.PasswordConfirm = "s3cr3t pwd", "s3cr3t pwd" }, wantField: "password", wantTag: "pwdnospace"},
		{name: "confirm mismatch", mutate: func(nu *user.NewUser) { nu.PasswordConfirm = "other-pwd" }, wantField: "password_confirm", wantTag: "eqfield"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nu := valid()
			tt.mutate(&nu)
			err := nu.Validate(ctx, validate, svc)
			var vErrs validator.ValidationErrors
			require.True(t, errors.As(err, &vErrs), "got %v", err)
			var found bool
			for _, vErr := range vErrs {
				if vErr.Field() == tt.wantField && vErr.Tag() == tt.wantTag {
					found = true
				}
			}
			assert.True(t, found, "%s/%s not in %v", tt.wantField, tt.wantTag, vErrs)
		})
	}

	t.Run("taken username", func(t *testing.T) {
		nu := valid()
		nu.Username = "taken"
		err := nu.Validate(ctx, validate, svc)
		var vErr *core.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, []core.FieldError{{Field: "username", Error: user.ErrUsernameExists.Error()}}, vErr.Fields)
	})
}

func TestService(t *testing.T) {
	ctx := context.Background()
	svc := user.NewService(inmemdb.NewUserRepository(inmemdb.Open()))

	usr, err := svc.Create(ctx, user.NewUser{Name: "Ada", Username: "ada", Password: "s3cr3t-pwd"})
	require.NoError(t, err)
	assert.NotEmpty(t, usr.ID)
	assert.True(t, usr.IsActive)
	assert.Equal(t, []string{}, usr.Roles)

	got, err := svc.GetByUsernameOrEmail(ctx, " ADA ")
	require.NoError(t, err)
	assert.Equal(t, usr.ID, got.ID)

	got, err = svc.SetLastLogin(ctx, got)
	require.NoError(t, err)
	assert.False(t, got.LastLogin.IsZero())

	_, err = svc.SetPassword(ctx, got, "n3w-s3cr3t")
	require.NoError(t, err)
	refreshed, err := svc.GetByID(ctx, usr.ID)
	require.NoError(t, err)
	assert.NoError(t, refreshed.CheckPassword("n3w-s3cr3t"))

	_, err = svc.GetByID(ctx, "unknown")
	assert.Equal(t, user.ErrNotFound, err)

	users, err := svc.Query(ctx, nil, nil)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}
