package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/auth"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/models"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/service"
)

type RoomHandler struct {
	coord  *service.Coordinator
	tokens *auth.TokenManager
}

func NewRoomHandler(coord *service.Coordinator, tokens *auth.TokenManager) *RoomHandler {
	return &RoomHandler{coord: coord, tokens: tokens}
}

type devTokenRequest struct {
	UserId      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

func (r devTokenRequest) validate() error {
	return validateUserId(r.UserId)
}

// authenticate はAuthorizationヘッダーのトークンを検証します
// 失敗した場合は401を返してfalseを返します
func (h *RoomHandler) authenticate(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	user, err := h.tokens.Verify(auth.BearerToken(r.Header.Get("Authorization")))
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return models.User{}, false
	}
	return user, true
}

func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}
	roomId, ok := roomIDParam(w, r)
	if !ok {
		return
	}
	room, err := h.coord.RoomInfo(r.Context(), roomId)
	if err != nil {
		log.Warn().Err(err).Str("roomId", roomId).Msg("get room failed")
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"room": room})
}

func (h *RoomHandler) Messages(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	roomId, ok := roomIDParam(w, r)
	if !ok {
		return
	}
	msgs, err := h.coord.RoomMessages(r.Context(), user.UserId, roomId)
	if err != nil {
		log.Warn().Err(err).Str("roomId", roomId).Str("userId", user.UserId).Msg("list messages failed")
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// IssueDevToken は開発用にトークンを発行します
// ALLOW_DEV_TOKENS が有効なときだけルーティングされます
func (h *RoomHandler) IssueDevToken(w http.ResponseWriter, r *http.Request) {
	var in devTokenRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	user := models.User{UserId: normalizeID(in.UserId), DisplayName: in.DisplayName}
	token, err := h.tokens.Issue(user)
	if err != nil {
		log.Error().Err(err).Str("userId", user.UserId).Msg("issue token failed")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"token": token, "userId": user.UserId})
}
