package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"neonetworker/internal/csvimport"
	"neonetworker/internal/domain"
	"neonetworker/internal/service"
)

func (h *handler) listPeople(w http.ResponseWriter, r *http.Request) {
	people, err := h.People.List(r.Context(), currentUser(r), r.URL.Query().Get("search"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, people)
}

func (h *handler) getPerson(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	p, err := h.People.Get(r.Context(), currentUser(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) createPerson(w http.ResponseWriter, r *http.Request) {
	var in service.PersonInput
	if err := decodeJSON(r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}
	p, err := h.People.Create(r.Context(), currentUser(r), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *handler) updatePerson(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var in service.PersonInput
	if err := decodeJSON(r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}
	p, err := h.People.Update(r.Context(), currentUser(r), id, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) deletePerson(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := h.People.Delete(r.Context(), currentUser(r), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Person deleted"})
}

func (h *handler) deleteAllPeople(w http.ResponseWriter, r *http.Request) {
	n, err := h.People.DeleteAll(r.Context(), currentUser(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (h *handler) sharePerson(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	in := struct {
		Email      string `json:"email"`
		Permission string `json:"permission"`
	}{}
	if err := decodeJSON(r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}
	share, err := h.People.Share(r.Context(), currentUser(r), id, in.Email, in.Permission)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, share)
}

func (h *handler) exportPeople(w http.ResponseWriter, r *http.Request) {
	people, err := h.People.List(r.Context(), currentUser(r), "")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	data, err := csvimport.ExportPeople(people)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	name := fmt.Sprintf("contacts_%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *handler) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.TaskFilter{
		Project:          q.Get("project"),
		Status:           q.Get("status"),
		Search:           q.Get("search"),
		IncludeScheduled: queryBool(r, "include_scheduled"),
		IncludeDone:      queryBool(r, "include_done"),
	}
	tasks, err := h.Tasks.List(r.Context(), currentUser(r), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *handler) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Tasks.Projects(r.Context(), currentUser(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *handler) getTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	task, err := h.Tasks.Get(r.Context(), currentUser(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *handler) createTask(w http.ResponseWriter, r *http.Request) {
	var in service.TaskInput
	if err := decodeJSON(r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}
	task, err := h.Tasks.Create(r.Context(), currentUser(r), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (h *handler) updateTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var in service.TaskInput
	if err := decodeJSON(r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}
	task, err := h.Tasks.Update(r.Context(), currentUser(r), id, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *handler) deleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := h.Tasks.Delete(r.Context(), currentUser(r), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Task deleted"})
}

func (h *handler) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.EventFilter{
		Project: q.Get("project"),
		Search:  q.Get("search"),
	}
	if raw := strings.TrimSpace(q.Get("start_date")); raw != "" {
		start, err := service.ParseDateTime("start_date", raw)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		filter.Start = &start
	}
	if raw := strings.TrimSpace(q.Get("end_date")); raw != "" {
		end, err := service.ParseDateTime("end_date", raw)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		filter.End = &end
	}
	events, err := h.Events.List(r.Context(), currentUser(r), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *handler) upcomingEvents(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeServiceError(w, r, domain.Invalid("limit", "must be a positive number"))
			return
		}
		limit = n
	}
	events, err := h.Events.Upcoming(r.Context(), currentUser(r), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *handler) getEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	ev, err := h.Events.Get(r.Context(), currentUser(r), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *handler) createEvent(w http.ResponseWriter, r *http.Request) {
	var in service.EventInput
	if err := decodeJSON(r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}
	ev, err := h.Events.Create(r.Context(), currentUser(r), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (h *handler) updateEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var in service.EventInput
	if err := decodeJSON(r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}
	ev, err := h.Events.Update(r.Context(), currentUser(r), id, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *handler) deleteEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := h.Events.Delete(r.Context(), currentUser(r), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Event deleted"})
}
