package http

import (
	"net/http"

	"finsight/internal/domain/user"
)

type UserHandler struct {
	Responder
	userService *user.Service
}

func NewUserHandler(userService *user.Service, responder Responder) *UserHandler {
	return &UserHandler{Responder: responder, userService: userService}
}

// HandleMe returns the local user behind the session, creating it on first sight.
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	email, ok := requireEmail(w, r)
	if !ok {
		return
	}

	u, err := h.userService.Resolve(r.Context(), email, "")
	if err != nil {
		h.Error(w, r, err)
		return
	}
	writeData(w, u)
}
