package echoapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/maker/core"
	"github.com/trezcool/maker/core/user"
	"github.com/trezcool/maker/core/verification"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var (
	errRealtimeUnavailable = echo.NewHTTPError(http.StatusServiceUnavailable, "realtime updates unavailable")

	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true }, // auth is token based
	}
)

type verificationApi struct {
	svc    *verification.Service
	usrSvc *user.Service
	pubsub core.PubSub
	logger core.Logger
}

func registerVerificationAPI(g *echo.Group, jwt, wsJWT echo.MiddlewareFunc, deps ServerDeps) {
	api := verificationApi{
		svc:    deps.VerificationSvc,
		usrSvc: deps.UserSvc,
		pubsub: deps.PubSub,
		logger: deps.Logger,
	}

	vg := g.Group("/verifications")
	vg.GET("/:id/events", api.events, wsJWT)

	ag := vg.Group("", jwt)
	ag.POST("/request", api.request)
	ag.POST("/verify", api.verify, verifierMiddleware())
	ag.GET("/status", api.status)
	ag.GET("", api.query, verifierMiddleware())
	ag.GET("/:id", api.get)
}

type (
	RequestCodeResponse struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
		Code    string `json:"code"`
	}

	VerifyCodeRequest struct {
		Code string `json:"code"`
	}

	VerifyCodeResponse struct {
		Success bool `json:"success"`
		verification.Verified
	}

	verificationQuery struct {
		ParticipantID string `query:"participant_id"`
		QuestID       string `query:"quest_id"`
		Status        string `query:"status"`
		Code          string `query:"code"`
		CreatedFrom   string `query:"created_from"`
		CreatedTo     string `query:"created_to"`
	}
)

func (q verificationQuery) filter() (verification.QueryFilter, error) {
	filter := verification.QueryFilter{
		ParticipantID: q.ParticipantID,
		QuestID:       core.CleanString(q.QuestID),
		Status:        verification.Status(q.Status),
		Code:          q.Code,
	}
	var fields []core.FieldError
	for _, tm := range []struct {
		field string
		raw   string
		dest  *time.Time
	}{
		{"created_from", q.CreatedFrom, &filter.CreatedFrom},
		{"created_to", q.CreatedTo, &filter.CreatedTo},
	} {
		if tm.raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, tm.raw)
		if err != nil {
			fields = append(fields, core.FieldError{Field: tm.field, Error: "must be an RFC 3339 timestamp"})
			continue
		}
		*tm.dest = t
	}
	if fields != nil {
		return filter, core.NewValidationError(nil, fields...)
	}
	return filter, nil
}

// Handlers

func (api *verificationApi) request(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var key verification.LevelKey
	if err = ctx.Bind(&key); err != nil {
		return errors.Wrap(err, "binding to LevelKey")
	}
	if key.ParticipantID == "" {
		key.ParticipantID = actor.ID
	}

	req, err := api.svc.RequestCode(ctx.Request().Context(), actor, key)
	if err != nil {
		return errors.Wrap(err, "requesting code")
	}
	return ctx.JSON(http.StatusOK, RequestCodeResponse{Success: true, ID: req.ID, Code: req.Code})
}

func (api *verificationApi) verify(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data VerifyCodeRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to VerifyCodeRequest")
	}

	verified, err := api.svc.VerifyCode(ctx.Request().Context(), actor, data.Code)
	if err != nil {
		return errors.Wrap(err, "verifying code")
	}
	return ctx.JSON(http.StatusOK, VerifyCodeResponse{Success: true, Verified: verified})
}

func (api *verificationApi) status(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var key verification.LevelKey
	if err = ctx.Bind(&key); err != nil {
		return errors.Wrap(err, "binding to LevelKey")
	}
	if key.ParticipantID == "" {
		key.ParticipantID = actor.ID
	}

	req, err := api.svc.PollStatus(ctx.Request().Context(), actor, key)
	if err != nil {
		return errors.Wrap(err, "polling status")
	}
	return ctx.JSON(http.StatusOK, req) // null when no request was made
}

func (api *verificationApi) query(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var q verificationQuery
	if err = ctx.Bind(&q); err != nil {
		return ctx.JSON(http.StatusOK, []verification.Request{})
	}
	filter, err := q.filter()
	if err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	reqs, err := api.svc.Query(ctx.Request().Context(), actor, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying requests")
	}
	if reqs == nil {
		reqs = []verification.Request{}
	}
	return ctx.JSON(http.StatusOK, reqs)
}

func (api *verificationApi) get(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	req, err := api.svc.Get(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting request")
	}
	return ctx.JSON(http.StatusOK, req)
}

// events streams the events of one request over a websocket, until the request is verified
// or the client goes away.
func (api *verificationApi) events(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	id := ctx.Param("id")
	if _, err = api.svc.Get(ctx.Request().Context(), actor, id); err != nil {
		return errors.Wrap(err, "getting request")
	}
	if api.pubsub == nil {
		return errRealtimeUnavailable
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// subscribe before re-reading the status, so a verification cannot slip in between
	sub, err := api.pubsub.Subscribe(streamCtx, verification.Topic(id))
	if err != nil {
		return errors.Wrap(err, "subscribing to verification events")
	}
	defer sub.Close()

	ws, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError).SetInternal(errors.Wrap(err, "gorilla.websocket.Upgrader.Upgrade"))
	}
	defer ws.Close()

	// the read pump only watches for the client leaving
	go func() {
		defer cancel()
		ws.SetReadLimit(512)
		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	req, err := api.svc.Get(streamCtx, actor, id)
	if err != nil {
		api.logger.Warn("re-reading verification request", errors.Wrap(err, "getting request"), contextUser(ctx))
		return nil
	}
	if req.IsVerified() {
		evt := verification.Event{Type: verification.EventVerified, RequestID: req.ID, Status: req.Status}
		if req.VerifiedAt != nil {
			evt.VerifiedAt = *req.VerifiedAt
		}
		payload, err := json.Marshal(evt)
		if err != nil {
			return errors.Wrap(err, "encoding verification event")
		}
		api.writeAndClose(ws, payload)
		return nil
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-streamCtx.Done():
			return nil
		case payload, ok := <-sub.Messages():
			if !ok {
				_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return nil
			}
			var evt verification.Event
			if err := json.Unmarshal(payload, &evt); err != nil {
				api.logger.Warn("decoding verification event", errors.Wrap(err, "decoding verification event"))
				continue
			}
			if evt.Status == verification.StatusVerified {
				api.writeAndClose(ws, payload)
				return nil
			}
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return nil
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

func (api *verificationApi) writeAndClose(ws *websocket.Conn, payload []byte) {
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "verified")
	_ = ws.WriteMessage(websocket.CloseMessage, msg)
}
