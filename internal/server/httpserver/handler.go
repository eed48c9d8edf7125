package httpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/dmitrijs2005/legacyvault/internal/common"
	"github.com/dmitrijs2005/legacyvault/internal/logging"
	"github.com/dmitrijs2005/legacyvault/internal/server/auth"
	"github.com/dmitrijs2005/legacyvault/internal/server/services"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 64 << 10

// Pinger reports backend health for /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	checkins   *services.CheckInService
	unlock     *services.UnlockMachine
	contacts   *services.ContactService
	vault      *services.VaultService
	recipients *services.RecipientService
	tokens     *auth.Issuer
	backend    Pinger
	logger     logging.Logger
}

func NewHandler(checkins *services.CheckInService, unlock *services.UnlockMachine, contacts *services.ContactService,
	vault *services.VaultService, recipients *services.RecipientService, tokens *auth.Issuer, backend Pinger, logger logging.Logger) *Handler {
	return &Handler{
		checkins:   checkins,
		unlock:     unlock,
		contacts:   contacts,
		vault:      vault,
		recipients: recipients,
		tokens:     tokens,
		backend:    backend,
		logger:     logger.With("module", "http_handler"),
	}
}

func (h *Handler) ping(ctx context.Context) error {
	if h.backend == nil {
		return nil
	}
	return h.backend.Ping(ctx)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeErrorMessage(w, status, msg)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func ownerID(r *http.Request) string {
	p, _ := principalFrom(r.Context())
	return p.Subject
}

func (h *Handler) ConfigureCheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInConfigRequest
	if !decode(w, r, &req) {
		return
	}
	id := ownerID(r)
	settings := services.SwitchSettings{
		Email:        req.Email,
		IntervalDays: req.IntervalDays,
		GraceDays:    req.GraceDays,
		Enabled:      req.Enabled,
	}
	if _, err := h.checkins.Configure(r.Context(), id, settings); err != nil {
		h.writeError(w, r, err)
		return
	}
	st, err := h.checkins.Status(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatus(st))
}

func (h *Handler) CheckInStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.checkins.Status(r.Context(), ownerID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatus(st))
}

func (h *Handler) PerformCheckIn(w http.ResponseWriter, r *http.Request) {
	st, err := h.checkins.PerformCheckIn(r.Context(), ownerID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatus(st))
}

func (h *Handler) ListUnlockRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.unlock.List(r.Context(), ownerID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]unlockRequestVM, 0, len(reqs))
	for i := range reqs {
		out = append(out, toRequest(&reqs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CancelUnlockRequest(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	got, err := h.unlock.Cancel(r.Context(), ownerID(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequest(got))
}

func (h *Handler) SetupVault(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.vault.Setup(r.Context(), ownerID(r), []byte(req.Password))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{SessionID: sess.ID, ExpiresAt: sess.ExpiresAt})
}

func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.vault.OpenSession(r.Context(), ownerID(r), []byte(req.Password))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: sess.ID, ExpiresAt: sess.ExpiresAt})
}

func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.vault.CloseSession(r.Context(), ownerID(r), r.Header.Get(SessionHeader)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RotateVMK(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !decode(w, r, &req) {
		return
	}
	n, err := h.vault.RotateVMK(r.Context(), ownerID(r), r.Header.Get(SessionHeader), []byte(req.Password))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rotateResponse{Rewrapped: n})
}

func (h *Handler) CreateItemKey(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")
	k, dek, err := h.vault.CreateItemKey(r.Context(), ownerID(r), r.Header.Get(SessionHeader), itemID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer common.WipeByteArray(dek)
	writeJSON(w, http.StatusCreated, itemKeyResponse{ItemID: itemID, Key: base64.StdEncoding.EncodeToString(dek), KeyVersion: k.KeyVersion})
}

// GetItemKey serves owner and recipient sessions alike; the session header
// is the only credential.
func (h *Handler) GetItemKey(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")
	dek, err := h.vault.ItemKey(r.Context(), r.Header.Get(SessionHeader), itemID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer common.WipeByteArray(dek)
	writeJSON(w, http.StatusOK, itemKeyResponse{ItemID: itemID, Key: base64.StdEncoding.EncodeToString(dek)})
}

func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	list, err := h.contacts.List(r.Context(), ownerID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]contactVM, 0, len(list))
	for i := range list {
		out = append(out, toContact(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) AddContact(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.contacts.Add(r.Context(), ownerID(r), req.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toContact(c))
}

func (h *Handler) RemoveContact(w http.ResponseWriter, r *http.Request) {
	if err := h.contacts.Remove(r.Context(), ownerID(r), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) IssueShares(w http.ResponseWriter, r *http.Request) {
	list, err := h.contacts.IssueShares(r.Context(), ownerID(r), r.Header.Get(SessionHeader))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]contactVM, 0, len(list))
	for i := range list {
		out = append(out, toContact(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) VerifyContact(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decode(w, r, &req) {
		return
	}
	c, token, err := h.contacts.Verify(r.Context(), req.Token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{ContactID: c.ID, OwnerID: c.OwnerID, Token: token})
}

// SubmitShare answers every failure a contact can cause with the same 422
// body.
func (h *Handler) SubmitShare(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if !decode(w, r, &req) {
		return
	}
	p, _ := principalFrom(r.Context())

	reject := func() { writeErrorMessage(w, http.StatusUnprocessableEntity, shareNotAccepted) }

	key, err := services.DecodeShareKey(req.Share)
	if err != nil {
		reject()
		return
	}
	defer common.WipeByteArray(key)

	requestID := req.RequestID
	var count int
	if requestID == "" {
		requestID, count, err = h.unlock.ConfirmOpen(r.Context(), p.OwnerID, p.Subject, key, req.ShareIndex)
	} else {
		count, err = h.unlock.Confirm(r.Context(), requestID, p.Subject, key, req.ShareIndex)
	}
	if err != nil {
		if status, _ := statusFor(err); status == http.StatusInternalServerError {
			h.writeError(w, r, err)
			return
		}
		h.logger.Info(r.Context(), "share rejected", "contact_id", p.Subject)
		reject()
		return
	}
	writeJSON(w, http.StatusOK, shareResponse{RequestID: requestID, ConfirmationCount: count})
}

func (h *Handler) ListRecipients(w http.ResponseWriter, r *http.Request) {
	list, err := h.recipients.List(r.Context(), ownerID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]recipientVM, 0, len(list))
	for i := range list {
		out = append(out, toRecipient(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) AddRecipient(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decode(w, r, &req) {
		return
	}
	rc, err := h.recipients.Add(r.Context(), ownerID(r), req.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecipient(rc))
}

func (h *Handler) RecipientAccess(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.recipients.Access(r.Context(), req.Token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: sess.ID, ExpiresAt: sess.ExpiresAt})
}
