package echoapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/maker/apps/api/echo"
	"github.com/trezcool/maker/core"
	"github.com/trezcool/maker/core/user"
	"github.com/trezcool/maker/core/verification"
	emailsvc "github.com/trezcool/maker/services/email"
	"github.com/trezcool/maker/services/realtime"
	inmemdb "github.com/trezcool/maker/storage/database/inmem"
	"github.com/trezcool/maker/testutil"
)

const testPassword = "s3cr3t-Pwd"

type testApp struct {
	conf        *core.Config
	server      *echoapi.Server
	usrRepo     user.Repository
	broker      *realtime.MemoryBroker
	mailSvc     *emailsvc.ServiceMock
	participant user.User
	other       user.User
	facilitator user.User
	admin       user.User
	inactive    user.User
}

func setupApp(t *testing.T) *testApp {
	conf := core.NewTestConfig()
	conf.Verification.NotifyByEmail = true

	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	broker := realtime.NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })
	mailSvc := emailsvc.NewServiceMock(conf)

	validate := testutil.NewValidator()
	usrSvc := user.NewService(usrRepo)
	verifSvc := verification.NewService(verification.ServiceDeps{
		Conf:     conf,
		Logger:   core.NopLogger{},
		Repo:     inmemdb.NewVerificationRepository(db),
		PubSub:   broker,
		MailSvc:  mailSvc,
		UserSvc:  usrSvc,
		Validate: validate,
	})

	server := echoapi.NewServer(echoapi.ServerDeps{
		Conf:            conf,
		Logger:          core.NopLogger{},
		UserSvc:         usrSvc,
		VerificationSvc: verifSvc,
		PubSub:          broker,
		Validate:        validate,
		Translator:      core.NewTranslator(),
		DisableReqLogs:  true,
	})
	t.Cleanup(func() { _ = server.Close() })

	return &testApp{
		conf:        conf,
		server:      server,
		usrRepo:     usrRepo,
		broker:      broker,
		mailSvc:     mailSvc,
		participant: testutil.CreateUser(t, usrRepo, "Ada", "ada", "ada@maker.test", testPassword, []string{user.RoleParticipant}, true),
		other:       testutil.CreateUser(t, usrRepo, "Bob", "bob", "bob@maker.test", testPassword, []string{user.RoleParticipant}, true),
		facilitator: testutil.CreateUser(t, usrRepo, "Fay", "fay", "fay@maker.test", testPassword, []string{user.RoleFacilitator}, true),
		admin:       testutil.CreateUser(t, usrRepo, "Root", "root", "root@maker.test", testPassword, []string{user.RoleAdmin}, true),
		inactive:    testutil.CreateUser(t, usrRepo, "Zed", "zed", "zed@maker.test", testPassword, []string{user.RoleParticipant}, false),
	}
}

func (app *testApp) token(t *testing.T, usr user.User) string {
	token, err := echoapi.GenerateToken(app.conf, echoapi.GetUserClaims(app.conf, usr))
	require.NoError(t, err)
	return token
}

// do sends a JSON request to the app; token may be empty.
func (app *testApp) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	app.server.ServeHTTP(rec, req)
	return rec
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     interface{}
	token    string
	wantCode int
	wantErr  string
}

func (app *testApp) run(t *testing.T, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			rec := app.do(t, method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantErr != "" {
				res := decode[echoapi.ErrorResponse](t, rec)
				assert.False(t, res.Success)
				assert.Equal(t, tt.wantErr, res.Error)
			}
		})
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
