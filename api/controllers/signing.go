package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/pactsign-backend/api/middleware"
	"github.com/angelmondragon/pactsign-backend/api/responses"
	"github.com/angelmondragon/pactsign-backend/api/validators"
	"github.com/angelmondragon/pactsign-backend/internal/contracts"
	"github.com/angelmondragon/pactsign-backend/pkg/logger"
)

const maxDeviceInfoLen = 500

// GetSigningContract resolves a signing link. Unknown tokens are reported
// as not found so links cannot be probed.
func GetSigningContract(svc contracts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := svc.GetBySignToken(r.Context(), strings.TrimSpace(chi.URLParam(r, "token")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSigningContractResponse(c))
	}
}

// SignContract records the caller's signature through a signing link.
func SignContract(svc contracts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body signContractRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		c, err := svc.SignByToken(r.Context(), strings.TrimSpace(chi.URLParam(r, "token")), contracts.SignatureInput{
			SignerEmail:   body.SignerEmail,
			SignerName:    body.SignerName,
			SignatureData: body.SignatureData,
			IPAddress:     middleware.ClientIP(r),
			DeviceInfo:    validators.SanitizeString(r.UserAgent(), maxDeviceInfoLen),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSigningContractResponse(c))
	}
}
