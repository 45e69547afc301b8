package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	voiceGate "github.com/MrEthical07/voiceGate"
	"github.com/MrEthical07/voiceGate/middleware"
	"github.com/go-chi/chi/v5"
)

type openRequest struct {
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient,omitempty"`
}

type challengeRequest struct {
	TransactionID string `json:"transactionId"`
}

func (s *server) openTransaction(kind voiceGate.TransactionKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserIDFromContext(r.Context())

		var body openRequest
		if err := decodeJSON(w, r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}

		p, err := s.gate.OpenTransaction(r.Context(), voiceGate.OpenRequest{
			UserID:    userID,
			Kind:      kind,
			Amount:    body.Amount,
			Recipient: body.Recipient,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toTransactionJSON(p))
	}
}

func (s *server) getTransaction(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())

	p, err := s.gate.GetTransaction(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionJSON(p))
}

func (s *server) completeTransaction(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())

	res, err := s.gate.CompleteTransaction(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCommitJSON(res))
}

func (s *server) beginChallenge(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())

	var body challengeRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.gate.BeginChallenge(r.Context(), userID, strings.TrimSpace(body.TransactionID))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, challengeJSON{
		TransactionID: res.TransactionID,
		Field:         res.Challenge.Field,
		Prompt:        res.Challenge.Prompt,
		AttemptsLeft:  res.AttemptsLeft,
		Bound:         res.Bound,
	})
}

// verifyResponse accepts multipart/form-data with the fields transactionId,
// field and audio (the recorded answer).
func (s *server) verifyResponse(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())

	// Headroom for the text fields and multipart framing.
	limit := s.maxUpload + multipartMemory
	if r.ContentLength > limit {
		s.writeError(w, r, voiceGate.ErrAudioTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, voiceGate.ErrAudioTooLarge)
			return
		}
		s.writeError(w, r, fmt.Errorf("%w: %v", voiceGate.ErrInvalidRequest, err))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	req := voiceGate.SubmitRequest{
		UserID:        userID,
		TransactionID: strings.TrimSpace(r.FormValue("transactionId")),
		Field:         strings.TrimSpace(r.FormValue("field")),
	}
	file, header, err := r.FormFile("audio")
	switch {
	case err == nil:
		defer file.Close()
		req.Audio = file
		req.Filename = header.Filename
	case errors.Is(err, http.ErrMissingFile):
	default:
		s.writeError(w, r, fmt.Errorf("%w: %v", voiceGate.ErrInvalidRequest, err))
		return
	}

	res, err := s.gate.SubmitResponse(r.Context(), req)
	if res == nil {
		s.writeError(w, r, err)
		return
	}

	out := toVerifyJSON(res)
	if err != nil {
		// The verdict stands; only the automatic commit failed.
		s.logger.Error("auto commit failed",
			"transaction_id", req.TransactionID,
			"request_id", requestID(r),
			"error", err,
		)
		out.CommitError = publicMessage(err)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) listHistory(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())

	account := chi.URLParam(r, "id")
	if account != "me" && account != userID {
		writeJSON(w, http.StatusForbidden, errorJSON{Error: "forbidden", Message: "history of another user"})
		return
	}
	if s.history == nil {
		writeJSON(w, http.StatusNotImplemented, errorJSON{Error: "unavailable", Message: "history not configured"})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, r, fmt.Errorf("%w: bad limit", voiceGate.ErrInvalidRequest))
			return
		}
		limit = n
	}

	entries, err := s.history.History(r.Context(), userID, limit)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", voiceGate.ErrLedgerUnavailable, err))
		return
	}

	out := make([]historyJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyJSON{
			ID:               e.ID,
			TransactionID:    e.PendingID,
			Kind:             e.Kind.String(),
			Direction:        e.Direction,
			SenderID:         e.SenderID,
			RecipientID:      e.RecipientID,
			RecipientAccount: e.RecipientAccount,
			Amount:           e.Amount,
			Status:           e.Status,
			CreatedAt:        e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", voiceGate.ErrInvalidRequest, err)
	}
	return nil
}
