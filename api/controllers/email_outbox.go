package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/pactsign-backend/api/responses"
	"github.com/angelmondragon/pactsign-backend/api/validators"
	"github.com/angelmondragon/pactsign-backend/internal/dispatcher"
	"github.com/angelmondragon/pactsign-backend/pkg/logger"
	"github.com/angelmondragon/pactsign-backend/pkg/pagination"
)

// OutboxAdmin is the operator surface over permanently failed mail.
type OutboxAdmin interface {
	ListFailed(ctx context.Context, params pagination.Params) (*dispatcher.FailedPage, error)
	Requeue(ctx context.Context, id uuid.UUID) error
}

func AdminListFailedEmails(svc OutboxAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListFailed(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// AdminRequeueEmail puts a FAILED entry back in the queue with a fresh
// retry budget.
func AdminRequeueEmail(svc OutboxAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "entryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Requeue(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]any{"id": id, "status": "pending"})
	}
}
