package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/maker/core"
	"github.com/trezcool/maker/core/verification"
)

type verificationRepository struct {
	db *verificationTable
}

var _ verification.Repository = (*verificationRepository)(nil)

func NewVerificationRepository(db *DB) verification.Repository {
	return &verificationRepository{db: db.verification}
}

func copyRequest(req verification.Request) verification.Request {
	if req.VerifiedAt != nil {
		at := *req.VerifiedAt
		req.VerifiedAt = &at
	}
	return req
}

func (repo *verificationRepository) latest(key verification.LevelKey) (*verification.Request, bool) {
	var found *verification.Request
	for _, req := range repo.db.table {
		if req.Key() != key {
			continue
		}
		if found == nil || req.CreatedAt.After(found.CreatedAt) {
			found = req
		}
	}
	return found, found != nil
}

func (repo *verificationRepository) GetLatestRequest(_ context.Context, key verification.LevelKey) (verification.Request, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if req, ok := repo.latest(key); ok {
		return copyRequest(*req), nil
	}
	return verification.Request{}, verification.ErrNotFound
}

func (repo *verificationRepository) GetRequestByID(_ context.Context, id string) (verification.Request, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if req, ok := repo.db.table[id]; ok {
		return copyRequest(*req), nil
	}
	return verification.Request{}, verification.ErrNotFound
}

func (repo *verificationRepository) CreateRequest(_ context.Context, req verification.Request) (verification.Request, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[req.ID]; ok {
		return verification.Request{}, verification.ErrDuplicate
	}
	// same constraints as the partial unique indexes of the SQL stores
	if req.Status == verification.StatusPending {
		for _, other := range repo.db.table {
			if other.Status != verification.StatusPending {
				continue
			}
			if other.Key() == req.Key() || other.Code == req.Code {
				return verification.Request{}, verification.ErrDuplicate
			}
		}
	}
	stored := copyRequest(req)
	repo.db.table[req.ID] = &stored
	return req, nil
}

func (repo *verificationRepository) PendingCodeExists(_ context.Context, code string) (bool, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, req := range repo.db.table {
		if req.Code == code && req.Status == verification.StatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (repo *verificationRepository) MarkVerified(_ context.Context, code, facilitatorID string, at time.Time) (verification.Request, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, req := range repo.db.table {
		if req.Code == code && req.Status == verification.StatusPending {
			verifiedAt := at.UTC()
			req.Status = verification.StatusVerified
			req.FacilitatorID = facilitatorID
			req.VerifiedAt = &verifiedAt
			return copyRequest(*req), nil
		}
	}
	return verification.Request{}, verification.ErrNotFound
}

func (repo *verificationRepository) QueryRequests(_ context.Context, filter verification.QueryFilter, ordering []core.DBOrdering) ([]verification.Request, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	reqs := make([]verification.Request, 0)
	for _, req := range repo.db.table {
		if filter.ParticipantID != "" && req.ParticipantID != filter.ParticipantID {
			continue
		}
		if filter.QuestID != "" && req.QuestID != filter.QuestID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.Code != "" && req.Code != filter.Code {
			continue
		}
		if !filter.CreatedFrom.IsZero() && req.CreatedAt.Before(filter.CreatedFrom) {
			continue
		}
		if !filter.CreatedTo.IsZero() && req.CreatedAt.After(filter.CreatedTo) {
			continue
		}
		reqs = append(reqs, copyRequest(*req))
	}

	// only created_at is supported here
	asc := false
	for _, ord := range core.FilterOrderings(ordering, "created_at") {
		asc = ord.Ascending
	}
	sort.SliceStable(reqs, func(i, j int) bool {
		if asc {
			return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
		}
		return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
	})
	return reqs, nil
}
