package echoapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/maker/apps/api/echo"
	"github.com/trezcool/maker/core/verification"
)

func (app *testApp) requestCode(t *testing.T, token string, key verification.LevelKey) echoapi.RequestCodeResponse {
	t.Helper()

	rec := app.do(t, http.MethodPost, "/v1/verifications/request", token, key)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[echoapi.RequestCodeResponse](t, rec)
}

func Test_verificationApi_request(t *testing.T) {
	app := setupApp(t)
	partToken := app.token(t, app.participant)

	app.run(t, []httpTest{
		{
			name: "auth required", method: http.MethodPost, path: "/v1/verifications/request",
			body: verification.LevelKey{QuestID: "q1"}, wantCode: http.StatusUnauthorized, wantErr: "user not authenticated",
		},
		{
			name: "other participant", method: http.MethodPost, path: "/v1/verifications/request", token: partToken,
			body: verification.LevelKey{ParticipantID: app.other.ID, QuestID: "q1"}, wantCode: http.StatusForbidden, wantErr: "permission denied",
		},
		{
			name: "missing quest", method: http.MethodPost, path: "/v1/verifications/request", token: partToken,
			body: verification.LevelKey{QuestID: "  "}, wantCode: http.StatusBadRequest, wantErr: "invalid data",
		},
		{
			name: "negative level", method: http.MethodPost, path: "/v1/verifications/request", token: partToken,
			body: verification.LevelKey{QuestID: "q1", LevelIndex: -1}, wantCode: http.StatusBadRequest, wantErr: "invalid data",
		},
	})

	t.Run("defaults to self & is idempotent", func(t *testing.T) {
		first := app.requestCode(t, partToken, verification.LevelKey{QuestID: "q1", LevelIndex: 2})
		assert.True(t, first.Success)
		assert.NotEmpty(t, first.ID)
		assert.True(t, verification.IsValidCode(first.Code))

		second := app.requestCode(t, partToken, verification.LevelKey{ParticipantID: app.participant.ID, QuestID: "q1", LevelIndex: 2})
		assert.Equal(t, first, second)
	})

	t.Run("facilitator on behalf of a participant", func(t *testing.T) {
		res := app.requestCode(t, app.token(t, app.facilitator), verification.LevelKey{ParticipantID: app.other.ID, QuestID: "q1"})
		assert.True(t, res.Success)
	})
}

func Test_verificationApi_verify(t *testing.T) {
	app := setupApp(t)
	partToken := app.token(t, app.participant)
	facToken := app.token(t, app.facilitator)
	req := app.requestCode(t, partToken, verification.LevelKey{QuestID: "q1", LevelIndex: 0})

	app.run(t, []httpTest{
		{
			name: "auth required", method: http.MethodPost, path: "/v1/verifications/verify",
			body: echoapi.VerifyCodeRequest{Code: req.Code}, wantCode: http.StatusUnauthorized,
		},
		{
			name: "participant cannot verify", method: http.MethodPost, path: "/v1/verifications/verify", token: partToken,
			body: echoapi.VerifyCodeRequest{Code: req.Code}, wantCode: http.StatusForbidden, wantErr: "permission denied",
		},
		{
			name: "malformed code", method: http.MethodPost, path: "/v1/verifications/verify", token: facToken,
			body: echoapi.VerifyCodeRequest{Code: "OOO-III"}, wantCode: http.StatusBadRequest, wantErr: verification.ErrInvalidCode.Error(),
		},
		{
			name: "unknown code", method: http.MethodPost, path: "/v1/verifications/verify", token: facToken,
			body: echoapi.VerifyCodeRequest{Code: "ZZZZZZ"}, wantCode: http.StatusBadRequest, wantErr: verification.ErrInvalidCode.Error(),
		},
	})

	// lower case & dashed, the way people type codes
	typed := strings.ToLower(verification.FormatCode(req.Code))
	rec := app.do(t, http.MethodPost, "/v1/verifications/verify", facToken, echoapi.VerifyCodeRequest{Code: typed})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[echoapi.VerifyCodeResponse](t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, req.ID, res.RequestID)
	assert.Equal(t, app.participant.ID, res.ParticipantID)
	assert.Equal(t, "q1", res.QuestID)
	assert.Equal(t, 0, res.LevelIndex)

	t.Run("replay", func(t *testing.T) {
		rec := app.do(t, http.MethodPost, "/v1/verifications/verify", app.token(t, app.admin), echoapi.VerifyCodeRequest{Code: req.Code})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("participant notified", func(t *testing.T) {
		sent := app.mailSvc.SentMessages()
		require.Len(t, sent, 1)
		assert.Equal(t, app.participant.Email, sent[0].To[0].Address)
		assert.Contains(t, sent[0].TextContent, "q1")
	})
}

func Test_verificationApi_status(t *testing.T) {
	app := setupApp(t)
	partToken := app.token(t, app.participant)

	app.run(t, []httpTest{
		{name: "auth required", path: "/v1/verifications/status?quest_id=q1", wantCode: http.StatusUnauthorized},
		{
			name: "other participant", path: "/v1/verifications/status?quest_id=q1&participant_id=" + app.other.ID,
			token: partToken, wantCode: http.StatusForbidden,
		},
	})

	t.Run("no request yet", func(t *testing.T) {
		rec := app.do(t, http.MethodGet, "/v1/verifications/status?quest_id=q1&level_index=1", partToken, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
	})

	req := app.requestCode(t, partToken, verification.LevelKey{QuestID: "q1", LevelIndex: 1})

	status := func(t *testing.T) verification.Request {
		rec := app.do(t, http.MethodGet, "/v1/verifications/status?quest_id=q1&level_index=1", partToken, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decode[verification.Request](t, rec)
	}

	pending := status(t)
	assert.Equal(t, req.ID, pending.ID)
	assert.Equal(t, verification.StatusPending, pending.Status)

	rec := app.do(t, http.MethodPost, "/v1/verifications/verify", app.token(t, app.facilitator), echoapi.VerifyCodeRequest{Code: req.Code})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	verified := status(t)
	assert.Equal(t, verification.StatusVerified, verified.Status)
	assert.Equal(t, app.facilitator.ID, verified.FacilitatorID)
	assert.NotNil(t, verified.VerifiedAt)
}

func Test_verificationApi_queryAndGet(t *testing.T) {
	app := setupApp(t)
	partToken := app.token(t, app.participant)
	facToken := app.token(t, app.facilitator)

	r1 := app.requestCode(t, partToken, verification.LevelKey{QuestID: "q1", LevelIndex: 0})
	r2 := app.requestCode(t, app.token(t, app.other), verification.LevelKey{QuestID: "q2", LevelIndex: 3})

	app.run(t, []httpTest{
		{name: "verifier required", path: "/v1/verifications", token: partToken, wantCode: http.StatusForbidden},
		{name: "bad status", path: "/v1/verifications?status=lost", token: facToken, wantCode: http.StatusBadRequest, wantErr: "invalid data"},
		{name: "bad date", path: "/v1/verifications?created_from=yesterday", token: facToken, wantCode: http.StatusBadRequest, wantErr: "invalid data"},
		{name: "foreign request hidden", path: "/v1/verifications/" + r2.ID, token: partToken, wantCode: http.StatusNotFound},
		{name: "unknown request", path: "/v1/verifications/nope", token: facToken, wantCode: http.StatusNotFound},
		{name: "own request", path: "/v1/verifications/" + r1.ID, token: partToken, wantCode: http.StatusOK},
		{name: "any request for verifiers", path: "/v1/verifications/" + r2.ID, token: facToken, wantCode: http.StatusOK},
	})

	query := func(t *testing.T, rawQuery string) []verification.Request {
		rec := app.do(t, http.MethodGet, "/v1/verifications?"+rawQuery, facToken, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decode[[]verification.Request](t, rec)
	}

	assert.Len(t, query(t, ""), 2)
	assert.Len(t, query(t, "status=pending"), 2)
	assert.Empty(t, query(t, "status=verified"))

	byQuest := query(t, "quest_id=q2")
	require.Len(t, byQuest, 1)
	assert.Equal(t, r2.ID, byQuest[0].ID)

	byCode := query(t, "code="+url.QueryEscape(strings.ToLower(verification.FormatCode(r1.Code))))
	require.Len(t, byCode, 1)
	assert.Equal(t, r1.ID, byCode[0].ID)

	ordered := query(t, "ordering=-level_index")
	require.Len(t, ordered, 2)
	assert.Equal(t, r2.ID, ordered[0].ID)
}

func Test_verificationApi_events(t *testing.T) {
	app := setupApp(t)
	srv := httptest.NewServer(app.server)
	t.Cleanup(srv.Close)

	partToken := app.token(t, app.participant)
	req := app.requestCode(t, partToken, verification.LevelKey{QuestID: "q1", LevelIndex: 0})

	wsURL := func(id, token string) string {
		return "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/verifications/" + id + "/events?token=" + url.QueryEscape(token)
	}

	t.Run("token required", func(t *testing.T) {
		_, res, err := websocket.DefaultDialer.Dial(wsURL(req.ID, ""), nil)
		require.Error(t, err)
		require.NotNil(t, res)
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	})

	t.Run("foreign request", func(t *testing.T) {
		_, res, err := websocket.DefaultDialer.Dial(wsURL(req.ID, app.token(t, app.other)), nil)
		require.Error(t, err)
		require.NotNil(t, res)
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
	})

	t.Run("verified event", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(req.ID, partToken), nil)
		require.NoError(t, err)
		defer conn.Close()

		// the subscription exists once the upgrade is done; verify concurrently with reading
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := app.do(t, http.MethodPost, "/v1/verifications/verify", app.token(t, app.facilitator), echoapi.VerifyCodeRequest{Code: req.Code})
			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		}()

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		wg.Wait()

		var evt verification.Event
		require.NoError(t, json.Unmarshal(msg, &evt))
		assert.Equal(t, verification.EventVerified, evt.Type)
		assert.Equal(t, req.ID, evt.RequestID)
		assert.Equal(t, verification.StatusVerified, evt.Status)
		assert.False(t, evt.VerifiedAt.IsZero())

		_, _, err = conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	})

	t.Run("already verified", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(req.ID, partToken), nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var evt verification.Event
		require.NoError(t, json.Unmarshal(msg, &evt))
		assert.Equal(t, verification.StatusVerified, evt.Status)
	})
}
