package api

import (
	"net/http"
	"net/url"

	"neonetworker/internal/domain"

	"github.com/go-chi/chi/v5"
)

func (h *handler) adminDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if id == currentUser(r).ID {
		writeServiceError(w, r, domain.Invalid("id", "cannot delete your own account"))
		return
	}
	if err := h.Users.DeleteUser(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "User deleted"})
}

func (h *handler) adminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Users.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	notes, err := h.Notifications.List(r.Context(), currentUser(r), queryBool(r, "unread"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (h *handler) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := h.Notifications.MarkRead(r.Context(), currentUser(r), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Notification marked as read"})
}

func (h *handler) listGroup(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"members": h.Users.GroupMembers(currentUser(r))})
}

func (h *handler) addGroupMember(w http.ResponseWriter, r *http.Request) {
	in := struct {
		Email string `json:"email"`
	}{}
	if err := decodeJSON(r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}
	user := currentUser(r)
	if err := h.Users.AddGroupMember(r.Context(), user, in.Email); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": h.Users.GroupMembers(user)})
}

func (h *handler) removeGroupMember(w http.ResponseWriter, r *http.Request) {
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil {
		writeServiceError(w, r, domain.Invalid("email", "invalid email"))
		return
	}
	user := currentUser(r)
	if err := h.Users.RemoveGroupMember(r.Context(), user, email); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": h.Users.GroupMembers(user)})
}

func (h *handler) getPlan(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"plan": h.Users.Plan(currentUser(r))})
}

func (h *handler) setPlan(w http.ResponseWriter, r *http.Request) {
	in := struct {
		Plan string `json:"plan"`
	}{}
	if err := decodeJSON(r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}
	user := currentUser(r)
	if err := h.Users.SetPlan(r.Context(), user, in.Plan); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"plan": h.Users.Plan(user)})
}

func (h *handler) stripePortal(w http.ResponseWriter, r *http.Request) {
	link, err := h.Billing.PortalSession(currentUser(r).Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": link})
}

func (h *handler) stripeCheckout(w http.ResponseWriter, r *http.Request) {
	in := struct {
		Plan   string  `json:"plan"`
		Amount float64 `json:"amount"`
	}{}
	if err := decodeJSON(r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}
	link, err := h.Billing.CheckoutSession(in.Plan, in.Amount)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": link})
}
