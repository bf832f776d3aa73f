package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/angelmondragon/ordercore/api/responses"
	"github.com/angelmondragon/ordercore/internal/payments"
	pkgerrors "github.com/angelmondragon/ordercore/pkg/errors"
	"github.com/angelmondragon/ordercore/pkg/logger"
	"github.com/angelmondragon/ordercore/pkg/xendit"
)

const (
	callbackTokenHeader = "x-callback-token"
	maxCallbackBytes    = 1 << 20
)

type notificationHandler interface {
	HandleNotification(ctx context.Context, n payments.Notification) (payments.Outcome, error)
}

type callbackVerifier interface {
	VerifyCallbackToken(token string) bool
}

// XenditInvoice handles invoice status callbacks from the payment gateway.
// Every 2xx tells the gateway to stop retrying, so duplicates and ignored
// statuses are acknowledged.
func XenditInvoice(svc notificationHandler, verifier callbackVerifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if !verifier.VerifyCallbackToken(r.Header.Get(callbackTokenHeader)) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid callback token"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		var callback xendit.InvoiceCallback
		if err := json.Unmarshal(payload, &callback); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid callback payload"))
			return
		}

		ctx = logg.WithFields(ctx, map[string]any{
			"invoice_id":   callback.ID,
			"external_id":  callback.ExternalID,
			"event_status": callback.NormalizedStatus(),
		})

		outcome, err := svc.HandleNotification(ctx, payments.NotificationFromCallback(callback))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"outcome": string(outcome)})
	}
}
