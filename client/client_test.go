package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/maker/apps/api/echo"
	"github.com/trezcool/maker/client"
	"github.com/trezcool/maker/core"
	"github.com/trezcool/maker/core/user"
	"github.com/trezcool/maker/core/verification"
	"github.com/trezcool/maker/services/realtime"
	inmemdb "github.com/trezcool/maker/storage/database/inmem"
	"github.com/trezcool/maker/testutil"
)

const testPassword = "s3cr3t-Pwd"

func startAPI(t *testing.T) *httptest.Server {
	conf := core.NewTestConfig()
	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	broker := realtime.NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })

	validate := testutil.NewValidator()
	usrSvc := user.NewService(usrRepo)
	server := echoapi.NewServer(echoapi.ServerDeps{
		Conf:    conf,
		UserSvc: usrSvc,
		VerificationSvc: verification.NewService(verification.ServiceDeps{
			Conf:     conf,
			Repo:     inmemdb.NewVerificationRepository(db),
			PubSub:   broker,
			Validate: validate,
		}),
		PubSub:         broker,
		Validate:       validate,
		Translator:     core.NewTranslator(),
		DisableReqLogs: true,
	})
	srv := httptest.NewServer(server)
	t.Cleanup(srv.Close)

	testutil.CreateUser(t, usrRepo, "Ada", "ada", "ada@maker.test", testPassword, []string{user.RoleParticipant}, true)
	testutil.CreateUser(t, usrRepo, "Fay", "fay", "fay@maker.test", testPassword, []string{user.RoleFacilitator}, true)
	return srv
}

func login(t *testing.T, c *client.Client, uname string) *client.Client {
	token, err := c.Login(context.Background(), uname, testPassword)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	return c.WithToken(token)
}

func TestClient(t *testing.T) {
	srv := startAPI(t)
	ctx := context.Background()
	anon := client.New(srv.URL + "/")

	t.Run("login failure", func(t *testing.T) {
		_, err := anon.Login(ctx, "ada", "wrong")
		var apiErr *client.APIError
		require.True(t, errors.As(err, &apiErr), "%v", err)
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		assert.Equal(t, "authentication failed", apiErr.Error())
	})

	t.Run("anonymous", func(t *testing.T) {
		_, err := anon.PollStatus(ctx, verification.LevelKey{QuestID: "q1"})
		var apiErr *client.APIError
		require.True(t, errors.As(err, &apiErr), "%v", err)
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	})

	t.Run("canceled context", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := anon.Login(canceled, "ada", testPassword)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled), "%v", err)
	})

	participant := login(t, anon, "ada")
	facilitator := login(t, anon, "fay")
	key := verification.LevelKey{QuestID: "q1", LevelIndex: 1}

	status, err := participant.PollStatus(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, status)

	t.Run("validation error", func(t *testing.T) {
		_, err := participant.RequestCode(ctx, verification.LevelKey{QuestID: ""})
		var apiErr *client.APIError
		require.True(t, errors.As(err, &apiErr), "%v", err)
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		assert.Contains(t, apiErr.Fields, "quest_id")
	})

	res, err := participant.RequestCode(ctx, key)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, verification.IsValidCode(res.Code))

	status, err = participant.PollStatus(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, res.ID, status.ID)
	assert.Equal(t, verification.StatusPending, status.Status)

	t.Run("participants cannot verify", func(t *testing.T) {
		_, err := participant.VerifyCode(ctx, res.Code)
		var apiErr *client.APIError
		require.True(t, errors.As(err, &apiErr), "%v", err)
		assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	})

	subCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	events, err := participant.Subscribe(subCtx, res.ID)
	require.NoError(t, err)

	verified, err := facilitator.VerifyCode(ctx, verification.FormatCode(res.Code))
	require.NoError(t, err)
	assert.Equal(t, res.ID, verified.RequestID)
	assert.Equal(t, "q1", verified.QuestID)
	assert.Equal(t, 1, verified.LevelIndex)

	select {
	case evt, ok := <-events:
		require.True(t, ok)
		assert.Equal(t, res.ID, evt.RequestID)
		assert.Equal(t, verification.StatusVerified, evt.Status)
	case <-subCtx.Done():
		t.Fatal("no event received")
	}
	// the server closes the stream once verified
	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-subCtx.Done():
		t.Fatal("stream not closed")
	}

	_, err = facilitator.VerifyCode(ctx, res.Code)
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr), "%v", err)
	assert.Equal(t, verification.ErrInvalidCode.Error(), apiErr.Message)

	t.Run("widgets over http", func(t *testing.T) {
		key := verification.LevelKey{QuestID: "q2"}
		done := make(chan verification.LevelKey, 1)
		w := client.NewParticipantWidget(ctx, client.ParticipantOptions{
			API:          participant,
			Subscriber:   participant,
			Key:          key,
			PollInterval: 50 * time.Millisecond,
			OnVerified:   func(k verification.LevelKey) { done <- k },
		})
		defer w.Close()
		waitState(t, w, client.StateIdle)
		require.NoError(t, w.RequestCode())
		snap := waitState(t, w, client.StateHasCode)

		var unlocked verification.Verified
		fw := client.NewFacilitatorWidget(facilitator, func(v verification.Verified) { unlocked = v })
		fw.Input(snap.Display)
		require.NoError(t, fw.Submit(ctx))
		assert.Equal(t, snap.RequestID, unlocked.RequestID)

		select {
		case k := <-done:
			assert.Equal(t, key, k)
		case <-time.After(waitFor):
			t.Fatal("participant widget not verified")
		}
	})
}
