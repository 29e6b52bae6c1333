package api

import (
	"errors"
	"net/http"

	"solana-action-relay/internal/builder"
	"solana-action-relay/internal/domain"
	"solana-action-relay/internal/relay"
	"solana-action-relay/internal/session"
	"solana-action-relay/internal/solana"
	"solana-action-relay/internal/storage"
	"solana-action-relay/internal/wallet"
)

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error      string            `json:"error"`
	Prompt     string            `json:"prompt,omitempty"`
	Stage      domain.Stage      `json:"stage,omitempty"`
	Diagnostic *relay.Diagnostic `json:"diagnostic,omitempty"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, storage.ErrInvalidInput),
		errors.Is(err, wallet.ErrInvalidKeyFormat),
		errors.Is(err, session.ErrUnknownKind),
		errors.Is(err, builder.ErrMissingRequiredField),
		errors.Is(err, builder.ErrUnsupportedPair),
		errors.Is(err, builder.ErrInvalidAmount),
		errors.Is(err, builder.ErrActionDisabled),
		errors.Is(err, relay.ErrEmptyPayload),
		errors.Is(err, relay.ErrInvalidEncoding),
		errors.Is(err, relay.ErrNotFullySigned),
		errors.Is(err, solana.ErrMalformedTransaction):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNoSession),
		errors.Is(err, wallet.ErrNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, wallet.ErrWalletExists),
		errors.Is(err, storage.ErrDuplicateKey),
		errors.Is(err, session.ErrNoWallet):
		return http.StatusConflict
	case errors.Is(err, builder.ErrQuoteUnavailable):
		return http.StatusServiceUnavailable
	}
	var fail *relay.SubmissionFailedError
	if errors.As(err, &fail) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError writes err with its mapped status. Internal errors are not
// echoed to the client. reply carries the prompt of a failed turn.
func writeError(w http.ResponseWriter, err error, reply *session.Reply) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	if status == http.StatusInternalServerError {
		resp.Error = http.StatusText(status)
		if errors.Is(err, wallet.ErrVaultUnavailable) {
			resp.Error = wallet.ErrVaultUnavailable.Error()
		}
	}
	if reply != nil {
		resp.Prompt = reply.Prompt
		resp.Stage = reply.Stage
	}
	var fail *relay.SubmissionFailedError
	if errors.As(err, &fail) {
		d := fail.Diagnostic
		resp.Diagnostic = &d
	}
	writeJSON(w, status, resp)
}
