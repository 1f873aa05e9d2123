package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/pactsign-backend/api/middleware"
	"github.com/angelmondragon/pactsign-backend/api/responses"
	"github.com/angelmondragon/pactsign-backend/api/validators"
	"github.com/angelmondragon/pactsign-backend/internal/contracts"
	pkgerrors "github.com/angelmondragon/pactsign-backend/pkg/errors"
	"github.com/angelmondragon/pactsign-backend/pkg/logger"
)

// CreateContract stores a new DRAFT owned by the caller.
func CreateContract(svc contracts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body createContractRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		c, err := svc.Create(r.Context(), actorID, contracts.CreateInput{
			Title:       body.Title,
			Content:     body.Content,
			FirstParty:  body.FirstParty.input(),
			SecondParty: body.SecondParty.input(),
			ExpiresAt:   body.ExpiresAt,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newContractResponse(c))
	}
}

func GetContract(svc contracts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, id, err := actorAndContract(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		c, err := svc.Get(r.Context(), actorID, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newContractResponse(c))
	}
}

// ListContracts pages through the caller's contracts, newest first.
func ListContracts(svc contracts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.List(r.Context(), actorID, contracts.ListParams{
			Status: strings.TrimSpace(r.URL.Query().Get("status")),
			Params: page,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := contractListResponse{Items: make([]contractResponse, 0, len(result.Items)), Cursor: result.Cursor}
		for _, c := range result.Items {
			resp.Items = append(resp.Items, newContractResponse(c))
		}
		responses.WriteSuccess(w, resp)
	}
}

func UpdateContract(svc contracts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, id, err := actorAndContract(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body updateContractRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if body.empty() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "no changes supplied"))
			return
		}

		c, err := svc.Update(r.Context(), actorID, id, contracts.UpdateInput{
			Title:     body.Title,
			Content:   body.Content,
			ExpiresAt: body.ExpiresAt,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newContractResponse(c))
	}
}

func DeleteContract(svc contracts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, id, err := actorAndContract(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), actorID, id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteNoContent(w)
	}
}

// SendContract moves a DRAFT to PENDING and queues the signing requests.
func SendContract(svc contracts.Service, logg *logger.Logger) http.HandlerFunc {
	return contractAction(svc.SendForSigning, logg)
}

// ResendContract re-queues reminders for the parties that have not signed.
func ResendContract(svc contracts.Service, logg *logger.Logger) http.HandlerFunc {
	return contractAction(svc.ResendSigningRequest, logg)
}

func CancelContract(svc contracts.Service, logg *logger.Logger) http.HandlerFunc {
	return contractAction(svc.Cancel, logg)
}

type ownedAction func(ctx context.Context, actorID, id uuid.UUID) (*contracts.Contract, error)

func contractAction(action ownedAction, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, id, err := actorAndContract(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		c, err := action(r.Context(), actorID, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newContractResponse(c))
	}
}

func actorFromRequest(r *http.Request) (uuid.UUID, error) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok || actor.UserID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return actor.UserID, nil
}

func actorAndContract(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	actorID, err := actorFromRequest(r)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	id, err := uuidParam(r, "contractId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return actorID, id, nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name).WithDetails(map[string]any{"field": name})
	}
	return id, nil
}
