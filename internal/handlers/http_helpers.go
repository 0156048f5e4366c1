package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/service"
)

// 開発用トークンのリクエストは小さいので4KBで十分
const maxRequestBody = 4 << 10

// errorResponse はRESTのエラーレスポンス
// kind はWebSocketのHandleErrorと同じ分類
type errorResponse struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Int("status", status).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Message: msg})
}

// respondServiceError はコーディネーターのエラーをHTTPステータスに変換します
// 権限エラーは種別に関係なく403
func respondServiceError(w http.ResponseWriter, err error) {
	kind := service.KindOf(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNotRoomMember), errors.Is(err, service.ErrNotRoomAdmin):
		status = http.StatusForbidden
	case kind == service.KindNotFound:
		status = http.StatusNotFound
	case kind == service.KindInvalid:
		status = http.StatusBadRequest
	case kind == service.KindPrecondition:
		status = http.StatusConflict
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		// ディレクトリの内部エラーは外に出さない
		msg = "internal error"
	}
	respondJSON(w, status, errorResponse{Message: msg, Kind: kind.String()})
}

// roomIDParam はURLの {roomId} を正規化して検証します
// 不正な場合は400を返してfalseを返します
func roomIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	roomId := normalizeID(chi.URLParam(r, "roomId"))
	if err := validateRoomId(roomId); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Message: err.Error(), Kind: service.KindInvalid.String()})
		return "", false
	}
	return roomId, true
}

// decodeJSON はボディを dst にデコードします
// 失敗した場合は400を返してfalseを返します
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

// normalizeID はクライアントから来たIDの前後の空白を落とします
func normalizeID(id string) string {
	return strings.TrimSpace(id)
}
