package verification

import (
	"time"

	"github.com/go-playground/validator/v10"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"

	EventVerified = "verified"
)

// Request is one verification attempt of a participant for a quest level.
// FacilitatorID & VerifiedAt are empty until the request is verified.
type Request struct {
	ID            string     `json:"id"`
	ParticipantID string     `json:"participant_id"`
	FacilitatorID string     `json:"facilitator_id,omitempty"`
	QuestID       string     `json:"quest_id"`
	LevelIndex    int        `json:"level_index"`
	Code          string     `json:"verification_code"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
}

func (r Request) IsVerified() bool { return r.Status == StatusVerified }

func (r Request) Key() LevelKey {
	return LevelKey{ParticipantID: r.ParticipantID, QuestID: r.QuestID, LevelIndex: r.LevelIndex}
}

// LevelKey identifies the (participant, quest, level) triple a request is about.
type LevelKey struct {
	ParticipantID string `json:"participant_id" query:"participant_id" validate:"required"`
	QuestID       string `json:"quest_id" query:"quest_id" validate:"required,notblank"`
	LevelIndex    int    `json:"level_index" query:"level_index" validate:"min=0"`
}

func (k LevelKey) Validate(validate *validator.Validate) error { return validate.Struct(k) }

// Verified is returned to the facilitator once a code has been consumed.
type Verified struct {
	RequestID     string `json:"id"`
	ParticipantID string `json:"participant_id"`
	QuestID       string `json:"quest_id"`
	LevelIndex    int    `json:"level_index"`
}

// Event is pushed on Topic(requestID) whenever a request changes state.
type Event struct {
	Type       string    `json:"type"`
	RequestID  string    `json:"id"`
	Status     Status    `json:"status"`
	VerifiedAt time.Time `json:"verified_at"`
}

// Topic is the pub-sub topic on which the events of a request are published.
func Topic(requestID string) string {
	return "verifications." + requestID
}

type QueryFilter struct {
	ParticipantID string
	QuestID       string
	Status        Status `validate:"omitempty,oneof=pending verified"`
	Code          string `validate:"omitempty,vcode"`
	CreatedFrom   time.Time
	CreatedTo     time.Time
}

func (qf *QueryFilter) Clean() {
	if qf.Code != "" {
		qf.Code = NormalizeCode(qf.Code)
	}
}

// levelVerifiedData feeds the "level_verified" email templates.
type levelVerifiedData struct {
	Name        string
	QuestID     string
	LevelNumber int
}
