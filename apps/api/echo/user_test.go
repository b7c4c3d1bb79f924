package echoapi_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/maker/apps/api/echo"
	"github.com/trezcool/maker/core/user"
)

func Test_userApi_login(t *testing.T) {
	app := setupApp(t)

	app.run(t, []httpTest{
		{
			name: "missing data", method: http.MethodPost, path: "/v1/users/login",
			body: echoapi.LoginRequest{}, wantCode: http.StatusBadRequest, wantErr: "invalid data",
		},
		{
			name: "wrong password", method: http.MethodPost, path: "/v1/users/login",
			body: echoapi.LoginRequest{Username: "ada", Password: "nope"}, wantCode: http.StatusBadRequest, wantErr: "authentication failed",
		},
		{
			name: "unknown user", method: http.MethodPost, path: "/v1/users/login",
			body: echoapi.LoginRequest{Username: "nobody", Password: testPassword}, wantCode: http.StatusBadRequest, wantErr: "authentication failed",
		},
		{
			name: "deactivated", method: http.MethodPost, path: "/v1/users/login",
			body: echoapi.LoginRequest{Username: "zed", Password: testPassword}, wantCode: http.StatusForbidden, wantErr: "account deactivated",
		},
	})

	t.Run("by username or email", func(t *testing.T) {
		for _, uname := range []string{"ADA", "ada@maker.test"} {
			rec := app.do(t, http.MethodPost, "/v1/users/login", "", echoapi.LoginRequest{Username: uname, Password: testPassword})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			res := decode[echoapi.LoginResponse](t, rec)
			assert.NotEmpty(t, res.Token)

			rec = app.do(t, http.MethodGet, "/v1/users/me", res.Token, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, app.participant.ID, decode[user.User](t, rec).ID)
		}
	})
}

func Test_userApi_me(t *testing.T) {
	app := setupApp(t)

	app.run(t, []httpTest{
		{name: "auth required", path: "/v1/users/me", wantCode: http.StatusUnauthorized, wantErr: "user not authenticated"},
		{name: "invalid token", path: "/v1/users/me", token: "not-a-jwt", wantCode: http.StatusUnauthorized},
		{name: "deactivated", path: "/v1/users/me", token: app.token(t, app.inactive), wantCode: http.StatusForbidden, wantErr: "account deactivated"},
		{name: "ok", path: "/v1/users/me", token: app.token(t, app.facilitator), wantCode: http.StatusOK},
	})
}

func Test_userApi_refreshToken(t *testing.T) {
	app := setupApp(t)

	rec := app.do(t, http.MethodPost, "/v1/users/token-refresh", app.token(t, app.participant), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode[echoapi.LoginResponse](t, rec).Token)
}

func Test_userApi_query(t *testing.T) {
	app := setupApp(t)
	adminToken := app.token(t, app.admin)

	app.run(t, []httpTest{
		{name: "auth required", path: "/v1/users", wantCode: http.StatusUnauthorized},
		{name: "admin required", path: "/v1/users", token: app.token(t, app.facilitator), wantCode: http.StatusForbidden, wantErr: "permission denied"},
	})

	t.Run("all", func(t *testing.T) {
		rec := app.do(t, http.MethodGet, "/v1/users", adminToken, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Len(t, decode[[]user.User](t, rec), 5)
	})

	t.Run("by role", func(t *testing.T) {
		rec := app.do(t, http.MethodGet, "/v1/users?role="+user.RoleFacilitator, adminToken, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		users := decode[[]user.User](t, rec)
		require.Len(t, users, 1)
		assert.Equal(t, app.facilitator.ID, users[0].ID)
	})

	t.Run("roles", func(t *testing.T) {
		rec := app.do(t, http.MethodGet, "/v1/users/roles", adminToken, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, user.Roles, decode[[]user.Role](t, rec))
	})
}

func Test_userApi_create(t *testing.T) {
	app := setupApp(t)
	adminToken := app.token(t, app.admin)
	newUser := func(uname string, roles ...string) user.NewUser {
		return user.NewUser{
			Name:            "Eve",
			Username:        uname,
			Email:           uname + "@maker.test",
			Password:        "Str0ng-pass",
			PasswordConfirm: "Str0ng-pass",
			Roles:           roles,
		}
	}

	app.run(t, []httpTest{
		{
			name: "admin required", method: http.MethodPost, path: "/v1/users/register", body: newUser("eve"),
			token: app.token(t, app.participant), wantCode: http.StatusForbidden,
		},
		{
			name: "role above own", method: http.MethodPost, path: "/v1/users/register", body: newUser("eve", user.RoleAdminOwner),
			token: adminToken, wantCode: http.StatusBadRequest, wantErr: "invalid data",
		},
		{
			name: "username taken", method: http.MethodPost, path: "/v1/users/register", body: newUser("ada"),
			token: adminToken, wantCode: http.StatusBadRequest,
		},
	})

	rec := app.do(t, http.MethodPost, "/v1/users/register", adminToken, newUser("eve", user.RoleFacilitator))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[user.User](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, []string{user.RoleFacilitator}, created.Roles)
	assert.True(t, created.IsActive)
}
