package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/maker/core"
	"github.com/trezcool/maker/core/verification"
	"github.com/trezcool/maker/storage/database"
)

const requestColumns = `id, participant_id, facilitator_id, quest_id, level_index, verification_code, status, created_at, verified_at`

type requestRow struct {
	ID            string      `db:"id"`
	ParticipantID string      `db:"participant_id"`
	FacilitatorID null.String `db:"facilitator_id"`
	QuestID       string      `db:"quest_id"`
	LevelIndex    int         `db:"level_index"`
	Code          string      `db:"verification_code"`
	Status        string      `db:"status"`
	CreatedAt     time.Time   `db:"created_at"`
	VerifiedAt    null.Time   `db:"verified_at"`
}

func (row requestRow) request() verification.Request {
	req := verification.Request{
		ID:            row.ID,
		ParticipantID: row.ParticipantID,
		FacilitatorID: row.FacilitatorID.String,
		QuestID:       row.QuestID,
		LevelIndex:    row.LevelIndex,
		Code:          strings.TrimSpace(row.Code),
		Status:        verification.Status(row.Status),
		CreatedAt:     row.CreatedAt.UTC(),
	}
	if row.VerifiedAt.Valid {
		at := row.VerifiedAt.Time.UTC()
		req.VerifiedAt = &at
	}
	return req
}

type verificationRepository struct {
	db core.DBExecutor
}

var _ verification.Repository = (*verificationRepository)(nil)

func NewVerificationRepository(db core.DBExecutor) verification.Repository {
	return &verificationRepository{db: db}
}

func (repo *verificationRepository) getOne(ctx context.Context, q string, args ...interface{}) (verification.Request, error) {
	var row requestRow
	if err := sqlx.GetContext(ctx, repo.db, &row, repo.db.Rebind(q), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return verification.Request{}, verification.ErrNotFound
		}
		return verification.Request{}, errors.Wrap(err, "selecting verification request")
	}
	return row.request(), nil
}

func (repo *verificationRepository) GetLatestRequest(ctx context.Context, key verification.LevelKey) (verification.Request, error) {
	return repo.getOne(ctx,
		`SELECT `+requestColumns+` FROM verification_request
		WHERE participant_id = ? AND quest_id = ? AND level_index = ?
		ORDER BY created_at DESC
		LIMIT 1`,
		key.ParticipantID, key.QuestID, key.LevelIndex,
	)
}

func (repo *verificationRepository) GetRequestByID(ctx context.Context, id string) (verification.Request, error) {
	return repo.getOne(ctx, `SELECT `+requestColumns+` FROM verification_request WHERE id = ?`, id)
}

func (repo *verificationRepository) CreateRequest(ctx context.Context, req verification.Request) (verification.Request, error) {
	q := repo.db.Rebind(`INSERT INTO verification_request (` + requestColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := repo.db.ExecContext(ctx, q,
		req.ID, req.ParticipantID, null.NewString(req.FacilitatorID, req.FacilitatorID != ""),
		req.QuestID, req.LevelIndex, req.Code, string(req.Status), req.CreatedAt.UTC(), null.TimeFromPtr(req.VerifiedAt),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return verification.Request{}, verification.ErrDuplicate
		}
		return verification.Request{}, errors.Wrap(err, "inserting verification request")
	}
	return req, nil
}

func (repo *verificationRepository) PendingCodeExists(ctx context.Context, code string) (bool, error) {
	var count int
	q := repo.db.Rebind(`SELECT COUNT(*) FROM verification_request WHERE verification_code = ? AND status = ?`)
	if err := sqlx.GetContext(ctx, repo.db, &count, q, code, string(verification.StatusPending)); err != nil {
		return false, errors.Wrap(err, "counting pending codes")
	}
	return count > 0, nil
}

// MarkVerified is a compare-and-swap: the status condition makes concurrent callers race on the row,
// and only the first one gets it back.
func (repo *verificationRepository) MarkVerified(ctx context.Context, code, facilitatorID string, at time.Time) (verification.Request, error) {
	return repo.getOne(ctx,
		`UPDATE verification_request
		SET status = ?, facilitator_id = ?, verified_at = ?
		WHERE verification_code = ? AND status = ?
		RETURNING `+requestColumns,
		string(verification.StatusVerified), facilitatorID, at.UTC(),
		code, string(verification.StatusPending),
	)
}

func (repo *verificationRepository) QueryRequests(ctx context.Context, filter verification.QueryFilter, ordering []core.DBOrdering) ([]verification.Request, error) {
	where := []string{"1 = 1"}
	args := make([]interface{}, 0)

	if filter.ParticipantID != "" {
		where = append(where, "participant_id = ?")
		args = append(args, filter.ParticipantID)
	}
	if filter.QuestID != "" {
		where = append(where, "quest_id = ?")
		args = append(args, filter.QuestID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Code != "" {
		where = append(where, "verification_code = ?")
		args = append(args, filter.Code)
	}
	if !filter.CreatedFrom.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.CreatedFrom.UTC())
	}
	if !filter.CreatedTo.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, filter.CreatedTo.UTC())
	}

	orderBy := "created_at DESC"
	if len(ordering) > 0 {
		parts := make([]string, 0, len(ordering))
		for _, ord := range ordering {
			parts = append(parts, ord.String())
		}
		orderBy = strings.Join(parts, ", ")
	}

	var rows []requestRow
	q := repo.db.Rebind(`SELECT ` + requestColumns + ` FROM verification_request WHERE ` + strings.Join(where, " AND ") + ` ORDER BY ` + orderBy)
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting verification requests")
	}

	reqs := make([]verification.Request, 0, len(rows))
	for _, row := range rows {
		reqs = append(reqs, row.request())
	}
	return reqs, nil
}
