package api

import (
	"net/http"
	"net/url"
	"strings"

	"neonetworker/internal/domain"
	"neonetworker/internal/google"

	"github.com/rs/zerolog"
)

func (h *handler) googleService() (*google.AuthService, error) {
	if h.Google == nil || !h.Google.Configured() {
		return nil, domain.ErrDisabled
	}
	return h.Google, nil
}

func (h *handler) googleInitiate(w http.ResponseWriter, r *http.Request) {
	g, err := h.googleService()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	state, err := h.Auth.SignGoogleState(currentUser(r).ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	authURL, err := g.AuthCodeURL(state)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"auth_url": authURL})
}

// googleCallback is hit by the browser, so every outcome is a redirect back
// to the frontend settings page.
func (h *handler) googleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		h.redirectSettings(w, r, "error", e)
		return
	}
	g, err := h.googleService()
	if err != nil {
		h.redirectSettings(w, r, "error", "not_configured")
		return
	}
	userID, err := h.Auth.ParseGoogleState(q.Get("state"))
	if err != nil {
		h.redirectSettings(w, r, "error", "invalid_state")
		return
	}
	user, err := h.Users.GetUserByID(r.Context(), userID)
	if err != nil {
		h.redirectSettings(w, r, "error", "unknown_user")
		return
	}
	if err := g.Exchange(r.Context(), user, q.Get("code")); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("user_id", user.ID.String()).Msg("google callback failed")
		h.redirectSettings(w, r, "error", "exchange_failed")
		return
	}
	h.redirectSettings(w, r, "google", "connected")
}

func (h *handler) redirectSettings(w http.ResponseWriter, r *http.Request, key, value string) {
	target := strings.TrimRight(h.Config.App.FrontendURL, "/") + "/settings?" + url.Values{key: {value}}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

// googleLink exchanges a code the frontend received itself.
func (h *handler) googleLink(w http.ResponseWriter, r *http.Request) {
	g, err := h.googleService()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	in := struct {
		Code string `json:"code"`
	}{}
	if err := decodeJSON(r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}
	user := currentUser(r)
	if err := g.Exchange(r.Context(), user, in.Code); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g.Status(user))
}

func (h *handler) googleRevoke(w http.ResponseWriter, r *http.Request) {
	g, err := h.googleService()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	user := currentUser(r)
	if err := g.Revoke(r.Context(), user); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g.Status(user))
}

func (h *handler) googleStatus(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if h.Google == nil {
		writeJSON(w, http.StatusOK, google.Status{Linked: user.GoogleLinked()})
		return
	}
	writeJSON(w, http.StatusOK, h.Google.Status(user))
}

func (h *handler) googleSyncContacts(w http.ResponseWriter, r *http.Request) {
	g, err := h.googleService()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	res, err := g.SyncContacts(r.Context(), currentUser(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) googleSyncCalendar(w http.ResponseWriter, r *http.Request) {
	g, err := h.googleService()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	res, err := g.SyncCalendar(r.Context(), currentUser(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
