package api

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"solana-action-relay/internal/builder"
	"solana-action-relay/internal/config"
	"solana-action-relay/internal/domain"
	"solana-action-relay/internal/relay"
	"solana-action-relay/internal/session"
	"solana-action-relay/internal/storage"
)

type advanceRequest struct {
	Kind     domain.ActionKind `json:"kind"`
	Input    string            `json:"input"`
	OwnerID  string            `json:"owner_id"`
	WalletID string            `json:"wallet_id"`
	// WalletAddress is the public key a client-signing user signs with.
	WalletAddress string `json:"wallet_address"`
}

type advanceResponse struct {
	session.Reply
	Signing       config.SigningMode `json:"signing,omitempty"`
	WalletAddress string             `json:"wallet_address,omitempty"`
	Signature     string             `json:"signature,omitempty"`
}

type sessionResponse struct {
	Session *domain.ActionSession `json:"session"`
	Prompt  string                `json:"prompt"`
}

type submitRequest struct {
	Payload       string `json:"payload"`
	WalletAddress string `json:"wallet_address"`
}

type submitResponse struct {
	Signature string `json:"signature"`
}

type walletRequest struct {
	OwnerID string `json:"owner_id"`
	Secret  string `json:"secret"`
}

type walletResponse struct {
	ID        string              `json:"id"`
	OwnerID   string              `json:"owner_id"`
	Address   string              `json:"address"`
	Origin    domain.WalletOrigin `json:"origin"`
	IsDefault bool                `json:"is_default"`
	CreatedAt int64               `json:"created_at"`
}

func toWalletResponse(w domain.Wallet) walletResponse {
	return walletResponse{
		ID:        w.ID,
		OwnerID:   w.OwnerID,
		Address:   w.PublicAddress,
		Origin:    w.Origin,
		IsDefault: w.IsDefault,
		CreatedAt: w.CreatedAt,
	}
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req advanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, nil)
		return
	}

	acting, address, err := s.bindWallet(r, key, req)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	var opts []session.AdvanceOption
	if address != "" {
		opts = append(opts, session.WithWallet(address))
	}

	reply, err := s.sessions.Advance(r.Context(), key, req.Kind, req.Input, opts...)
	if err != nil {
		writeError(w, err, &reply)
		return
	}

	resp := advanceResponse{Reply: reply}
	if reply.Ready == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Signing = s.signing(reply.Kind)
	if resp.Signing == config.SigningCustodial && acting == nil {
		s.logger.Warn("no wallet for custodial signing, returning unsigned payload",
			zap.String("key", key), zap.String("kind", string(reply.Kind)))
		resp.Signing = config.SigningClient
	}
	resp.WalletAddress = reply.WalletAddress

	if resp.Signing == config.SigningCustodial {
		sig, err := s.submitter.SubmitCustodial(r.Context(), acting.ID, acting.PublicAddress, reply.Ready.UnsignedPayload)
		if err != nil {
			reply.Prompt = failurePrompt(err)
			writeError(w, err, &reply)
			return
		}
		resp.Signature = sig
		resp.Prompt = fmt.Sprintf("Done. Transaction signature: %s", sig)
	}

	if reply.Kind == domain.ActionLaunch {
		s.recordLaunch(r, reply.Ready, req.OwnerID)
	}
	writeJSON(w, http.StatusOK, resp)
}

// bindWallet picks the wallet a turn is built for. Custodial kinds prefer a
// custodied wallet and fall back to the client's address. Client kinds
// prefer the client's address and keep an already bound wallet unless a
// wallet is named explicitly. acting is the custodied wallet, if any.
func (s *Server) bindWallet(r *http.Request, key string, req advanceRequest) (acting *domain.Wallet, address string, err error) {
	if req.WalletAddress != "" {
		if err := validAddress(req.WalletAddress); err != nil {
			return nil, "", err
		}
	}

	kind, bound := req.Kind, ""
	if kind == "" {
		sess, _, err := s.sessions.Current(r.Context(), key)
		switch {
		case err == nil:
			kind, bound = sess.Kind, sess.WalletAddress
		case !errors.Is(err, session.ErrNoSession):
			return nil, "", err
		}
	}

	if kind == "" || s.signing(kind) == config.SigningClient {
		if req.WalletAddress != "" {
			return nil, req.WalletAddress, nil
		}
		if bound != "" && req.WalletID == "" {
			return nil, "", nil
		}
	}

	acting, err = s.actingWallet(r, req.OwnerID, req.WalletID)
	if err != nil {
		return nil, "", err
	}
	if acting != nil {
		return acting, acting.PublicAddress, nil
	}
	return nil, req.WalletAddress, nil
}

func validAddress(address string) error {
	pub, err := base58.Decode(address)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: wallet_address must be a base58 public key", errBadRequest)
	}
	return nil
}

// actingWallet resolves the wallet a turn acts for: walletID if given,
// otherwise the owner's default wallet. It returns nil when neither is known.
func (s *Server) actingWallet(r *http.Request, ownerID, walletID string) (*domain.Wallet, error) {
	if walletID != "" {
		wlt, err := s.wallets.Get(r.Context(), walletID)
		if err != nil {
			return nil, err
		}
		if ownerID != "" && wlt.OwnerID != ownerID {
			return nil, storage.ErrNotFound
		}
		return &wlt, nil
	}
	if ownerID == "" {
		return nil, nil
	}
	list, err := s.wallets.FindByOwner(r.Context(), ownerID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].IsDefault {
			return &list[i], nil
		}
	}
	return nil, nil
}

func (s *Server) recordLaunch(r *http.Request, res *builder.Result, ownerID string) {
	if s.tokens == nil {
		return
	}
	if err := builder.RecordLaunch(r.Context(), s.tokens, res, ownerID, s.now()); err != nil {
		s.logger.Warn("record launched token", zap.Error(err))
	}
}

func (s *Server) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	sess, prompt, err := s.sessions.Current(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: sess, Prompt: prompt})
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	cancelled, err := s.sessions.Cancel(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, nil)
		return
	}
	sig, err := s.submitter.SubmitBase64(r.Context(), req.Payload, req.WalletAddress)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{Signature: sig})
}

func (s *Server) handleGenerateWallet(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, nil)
		return
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		writeError(w, fmt.Errorf("owner_id is required: %w", storage.ErrInvalidInput), nil)
		return
	}
	wlt, err := s.wallets.Generate(r.Context(), req.OwnerID)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, toWalletResponse(wlt))
}

func (s *Server) handleImportWallet(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, nil)
		return
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		writeError(w, fmt.Errorf("owner_id is required: %w", storage.ErrInvalidInput), nil)
		return
	}
	wlt, err := s.wallets.Import(r.Context(), req.OwnerID, req.Secret)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, toWalletResponse(wlt))
}

func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, fmt.Errorf("owner is required: %w", storage.ErrInvalidInput), nil)
		return
	}
	list, err := s.wallets.FindByOwner(r.Context(), owner)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	out := make([]walletResponse, 0, len(list))
	for _, wlt := range list {
		out = append(out, toWalletResponse(wlt))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetDefault(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.wallets.SetDefault(r.Context(), id); err != nil {
		writeError(w, err, nil)
		return
	}
	wlt, err := s.wallets.Get(r.Context(), id)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, toWalletResponse(wlt))
}

func failurePrompt(err error) string {
	var fail *relay.SubmissionFailedError
	if errors.As(err, &fail) {
		return "The transaction failed: " + fail.Diagnostic.Message
	}
	return "The transaction could not be submitted."
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
