package api

import (
	"errors"
	"net/http"

	"neonetworker/internal/domain"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeJSON(r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}
	user, err := h.Auth.Register(r.Context(), in.Email, in.Password, in.FullName)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":              user,
		"requires_approval": !user.IsApproved,
		"message":           "Registration successful. Your account is pending approval.",
	})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeJSON(r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}
	token, user, err := h.Auth.Login(r.Context(), in.Email, in.Password)
	if errors.Is(err, domain.ErrNotApproved) {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":             "account pending approval",
			"requires_approval": true,
			"user":              user,
		})
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"user":         user,
	})
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":     user,
		"is_admin": h.Users.IsAdmin(user),
	})
}

func (h *handler) approveUser(w http.ResponseWriter, r *http.Request) {
	h.setApproval(w, r, true)
}

func (h *handler) adminApprove(w http.ResponseWriter, r *http.Request) {
	in := struct {
		Approved *bool `json:"approved"`
	}{}
	if err := decodeJSON(r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}
	approved := true
	if in.Approved != nil {
		approved = *in.Approved
	}
	h.setApproval(w, r, approved)
}

func (h *handler) setApproval(w http.ResponseWriter, r *http.Request, approved bool) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	user, err := h.Users.Approve(r.Context(), currentUser(r).ID, id, approved)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.GetAllUsers(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *handler) setPreferredPlatform(w http.ResponseWriter, r *http.Request) {
	in := struct {
		Platform string `json:"preferred_messaging_platform"`
	}{}
	if err := decodeJSON(r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}
	user := currentUser(r)
	if err := h.Users.SetPreferredPlatform(r.Context(), user, in.Platform); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *handler) setPreferences(w http.ResponseWriter, r *http.Request) {
	in := struct {
		CustomFields []string `json:"custom_fields"`
		TableColumns []string `json:"table_columns"`
	}{}
	if err := decodeJSON(r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}
	user := currentUser(r)
	if err := h.Users.SetPreferences(r.Context(), user, in.CustomFields, in.TableColumns); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Preferences.Data())
}

func (h *handler) connectTelegram(w http.ResponseWriter, r *http.Request) {
	in := struct {
		TelegramID int64  `json:"telegram_id"`
		Username   string `json:"telegram_username"`
	}{}
	if err := decodeJSON(r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}
	user := currentUser(r)
	if err := h.Users.ConnectTelegram(r.Context(), user, in.TelegramID, in.Username); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *handler) connectWhatsApp(w http.ResponseWriter, r *http.Request) {
	in := struct {
		Phone string `json:"phone"`
	}{}
	if err := decodeJSON(r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}
	user := currentUser(r)
	if err := h.Users.ConnectWhatsApp(r.Context(), user, in.Phone); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
