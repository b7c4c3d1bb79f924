package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/maker/core"
	"github.com/trezcool/maker/core/user"
)

const maxCodeAttempts = 5

var (
	// errors
	ErrInvalidCode = errors.New("invalid or already used verification code")
	ErrForbidden   = errors.New("permission denied")
	ErrNotFound    = errors.New("verification request not found")
	// ErrDuplicate is returned by a Repository when a pending request already holds the level or the code.
	ErrDuplicate = errors.New("duplicate pending verification request")

	NowFunc = time.Now // mockable
)

type (
	Repository interface {
		// GetLatestRequest returns the most recently created request for key, or ErrNotFound.
		GetLatestRequest(ctx context.Context, key LevelKey) (Request, error)
		GetRequestByID(ctx context.Context, id string) (Request, error)
		// CreateRequest inserts a pending request; ErrDuplicate on unique violation.
		CreateRequest(ctx context.Context, req Request) (Request, error)
		PendingCodeExists(ctx context.Context, code string) (bool, error)
		// MarkVerified atomically moves the pending request holding code to verified.
		// Returns ErrNotFound when no pending request holds code.
		MarkVerified(ctx context.Context, code, facilitatorID string, at time.Time) (Request, error)
		QueryRequests(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering) ([]Request, error)
	}

	// UserGetter finds the participants to notify.
	UserGetter interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	ServiceDeps struct {
		Conf     *core.Config
		Logger   core.Logger
		Repo     Repository
		PubSub   core.PubSub       // optional
		MailSvc  core.EmailService // optional
		UserSvc  UserGetter        // optional, required to notify by email
		Validate *validator.Validate
	}

	Service struct {
		conf         *core.Config
		logger       core.Logger
		repo         Repository
		pubsub       core.PubSub
		mailSvc      core.EmailService
		usrSvc       UserGetter
		validate     *validator.Validate
		generateCode func() string
	}
)

func NewService(deps ServiceDeps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = core.NopLogger{}
	}
	return &Service{
		conf:         deps.Conf,
		logger:       logger,
		repo:         deps.Repo,
		pubsub:       deps.PubSub,
		mailSvc:      deps.MailSvc,
		usrSvc:       deps.UserSvc,
		validate:     deps.Validate,
		generateCode: GenerateCode,
	}
}

func checkAuthenticated(actor user.User) error {
	if actor.ID == "" {
		return core.ErrUnauthenticated
	}
	return nil
}

// checkCanAccess lets participants act on their own levels; facilitators & admins act on anyone's.
func checkCanAccess(actor user.User, participantID string) error {
	if err := checkAuthenticated(actor); err != nil {
		return err
	}
	if actor.ID == participantID || actor.CanVerify() {
		return nil
	}
	return ErrForbidden
}

func storeErr(err error, msg string) error {
	return core.NewStoreError(err, msg)
}

// RequestCode returns the latest request of the level if there is one, verified or not.
// Otherwise it creates a new pending request with a fresh code.
func (svc *Service) RequestCode(ctx context.Context, actor user.User, key LevelKey) (Request, error) {
	if err := checkCanAccess(actor, key.ParticipantID); err != nil {
		return Request{}, err
	}
	key.QuestID = core.CleanString(key.QuestID)
	if svc.validate != nil {
		if err := key.Validate(svc.validate); err != nil {
			return Request{}, err
		}
	}

	req, err := svc.repo.GetLatestRequest(ctx, key)
	switch errors.Cause(err) {
	case nil:
		return req, nil
	case ErrNotFound: // create one
	default:
		return Request{}, storeErr(err, "getting latest request")
	}

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code := svc.generateCode()
		exists, err := svc.repo.PendingCodeExists(ctx, code)
		if err != nil {
			return Request{}, storeErr(err, "checking code uniqueness")
		}
		if exists {
			continue
		}

		req, err = svc.repo.CreateRequest(ctx, Request{
			ID:            uuid.New().String(),
			ParticipantID: key.ParticipantID,
			QuestID:       key.QuestID,
			LevelIndex:    key.LevelIndex,
			Code:          code,
			Status:        StatusPending,
			CreatedAt:     NowFunc().UTC(),
		})
		if err == nil {
			return req, nil
		}
		if errors.Cause(err) != ErrDuplicate {
			return Request{}, storeErr(err, "creating request")
		}

		// a concurrent call won the insert, or the code got taken in between
		req, err = svc.repo.GetLatestRequest(ctx, key)
		switch errors.Cause(err) {
		case nil:
			return req, nil
		case ErrNotFound: // code collision: try another one
		default:
			return Request{}, storeErr(err, "getting latest request")
		}
	}
	return Request{}, storeErr(errors.New("could not generate a unique code"), "generating code")
}

// VerifyCode consumes a pending code. Unknown, malformed & already used codes all fail with ErrInvalidCode.
func (svc *Service) VerifyCode(ctx context.Context, actor user.User, rawCode string) (Verified, error) {
	if err := checkAuthenticated(actor); err != nil {
		return Verified{}, err
	}
	if !actor.CanVerify() {
		return Verified{}, ErrForbidden
	}

	code := NormalizeCode(rawCode)
	if !IsValidCode(code) {
		return Verified{}, ErrInvalidCode
	}

	req, err := svc.repo.MarkVerified(ctx, code, actor.ID, NowFunc().UTC())
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Verified{}, ErrInvalidCode
		}
		return Verified{}, storeErr(err, "marking request verified")
	}

	svc.publish(ctx, req)
	svc.notify(ctx, req)

	return Verified{
		RequestID:     req.ID,
		ParticipantID: req.ParticipantID,
		QuestID:       req.QuestID,
		LevelIndex:    req.LevelIndex,
	}, nil
}

// PollStatus returns the latest request of the level, nil if none was ever made.
func (svc *Service) PollStatus(ctx context.Context, actor user.User, key LevelKey) (*Request, error) {
	if err := checkCanAccess(actor, key.ParticipantID); err != nil {
		return nil, err
	}
	req, err := svc.repo.GetLatestRequest(ctx, key)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return nil, nil
		}
		return nil, storeErr(err, "getting latest request")
	}
	return &req, nil
}

func (svc *Service) Get(ctx context.Context, actor user.User, id string) (Request, error) {
	if err := checkAuthenticated(actor); err != nil {
		return Request{}, err
	}
	req, err := svc.repo.GetRequestByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Request{}, ErrNotFound
		}
		return Request{}, storeErr(err, "getting request")
	}
	if err = checkCanAccess(actor, req.ParticipantID); err != nil {
		// do not leak other participants' requests
		return Request{}, ErrNotFound
	}
	return req, nil
}

// Query lists requests for facilitators & admins.
func (svc *Service) Query(ctx context.Context, actor user.User, filter QueryFilter, ordering []core.DBOrdering) ([]Request, error) {
	if err := checkAuthenticated(actor); err != nil {
		return nil, err
	}
	if !actor.CanVerify() {
		return nil, ErrForbidden
	}
	filter.Clean()
	if svc.validate != nil {
		if err := svc.validate.Struct(filter); err != nil {
			return nil, err
		}
	}
	ordering = core.FilterOrderings(ordering, "created_at", "verified_at", "level_index", "quest_id", "status")
	reqs, err := svc.repo.QueryRequests(ctx, filter, ordering)
	if err != nil {
		return nil, storeErr(err, "querying requests")
	}
	return reqs, nil
}

func (svc *Service) publish(ctx context.Context, req Request) {
	if svc.pubsub == nil {
		return
	}
	evt := Event{Type: EventVerified, RequestID: req.ID, Status: req.Status}
	if req.VerifiedAt != nil {
		evt.VerifiedAt = *req.VerifiedAt
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		svc.logger.Error("encoding verification event", errors.Wrap(err, "encoding verification event"))
		return
	}
	if err = svc.pubsub.Publish(ctx, Topic(req.ID), payload); err != nil {
		// participants still converge through polling
		svc.logger.Warn("publishing verification event", errors.Wrap(err, "publishing verification event"))
	}
}

func (svc *Service) notify(ctx context.Context, req Request) {
	if svc.conf == nil || !svc.conf.Verification.NotifyByEmail || svc.mailSvc == nil || svc.usrSvc == nil {
		return
	}
	participant, err := svc.usrSvc.GetByID(ctx, req.ParticipantID)
	if err != nil {
		svc.logger.Warn("finding participant to notify", errors.Wrap(err, "finding participant"))
		return
	}
	if participant.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: participant.Name, Address: participant.Email}},
		Subject:      fmt.Sprintf("Level %d verified", req.LevelIndex+1),
		TemplateName: "level_verified",
		TemplateData: levelVerifiedData{
			Name:        participant.Name,
			QuestID:     req.QuestID,
			LevelNumber: req.LevelIndex + 1,
		},
	})
}
