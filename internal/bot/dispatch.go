package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"neonetworker/internal/domain"
	"neonetworker/internal/llm"
	"neonetworker/internal/models"
	"neonetworker/internal/service"
)

// personFields are the PersonInput JSON keys; other update fields go to
// custom_fields.
var personFields = map[string]bool{
	"first_name": true, "last_name": true, "email": true, "phone": true, "company": true,
	"job_title": true, "status": true, "priority": true, "gender": true, "job_status": true,
	"categories": true, "tags": true, "notes": true, "linkedin_url": true, "location": true, "source": true,
}

// dispatch runs a classified command.
func (r *Router) dispatch(ctx context.Context, user *models.User, cmd llm.Command) result {
	switch cmd.Function {
	case llm.FuncAddTask:
		return r.addTask(ctx, user, service.TaskInput{
			Title:       optional(cmd.String("title")),
			Project:     optional(cmd.String("project")),
			DueDate:     optional(cmd.String("due_date")),
			Priority:    optional(cmd.String("priority")),
			Description: optional(cmd.String("description")),
		})
	case llm.FuncRemoveTask:
		return r.requireArg("remove_task", cmd.String("title"), "task title", func(title string) result {
			return r.deleteTask(ctx, user, title)
		})
	case llm.FuncUpdateTask:
		return r.requireArg("update_task", cmd.String("title"), "task title", func(title string) result {
			return r.updateTaskField(ctx, user, title, defaultString(cmd.String("field"), "status"), cmd.String("value"))
		})
	case llm.FuncShowTasks:
		return r.showClassifiedTasks(ctx, user, cmd.String("project"), cmd.String("status"))
	case llm.FuncAddAlert:
		return reply("add_alert", "⏰ Alerts are not available yet. Add a due date to the task instead.")
	case llm.FuncAddEvent:
		return r.addEvent(ctx, user, cmd)
	case llm.FuncShowEvents:
		return r.showEvents(ctx, user, cmd.String("period"), cmd.String("project"))
	case llm.FuncRemoveEvent:
		return r.requireArg("remove_event", cmd.String("title"), "event title", func(title string) result {
			return r.deleteEvent(ctx, user, title)
		})
	case llm.FuncUpdateEvent:
		return r.requireArg("update_event", cmd.String("title"), "event title", func(title string) result {
			return r.updateEvent(ctx, user, title, cmd.String("field"), cmd.String("value"))
		})
	case llm.FuncAddPerson:
		return r.addPerson(ctx, user, cmd)
	case llm.FuncShowPeople:
		return r.showPeople(ctx, user, cmd.String("search"))
	case llm.FuncUpdatePerson:
		return r.requireArg("update_person", cmd.String("name"), "contact name", func(name string) result {
			return r.updatePerson(ctx, user, name, cmd.String("field"), cmd.String("value"))
		})
	case llm.FuncDeletePerson:
		return r.requireArg("delete_person", cmd.String("name"), "contact name", func(name string) result {
			return r.deletePerson(ctx, user, name)
		})
	case llm.FuncSearch:
		return r.requireArg("search", cmd.String("query"), "search term", func(q string) result {
			return r.search(ctx, user, q)
		})
	}
	return reply("unknown", "🤔 I did not understand that. Type help to see what I can do.")
}

func (r *Router) requireArg(command, value, what string, next func(string) result) result {
	if value == "" {
		return reply(command, fmt.Sprintf("❌ Please tell me the %s.", what))
	}
	return next(value)
}

func (r *Router) showClassifiedTasks(ctx context.Context, user *models.User, project, status string) result {
	filter := domain.TaskFilter{Project: project}
	heading := "📋 Your tasks"
	if status != "" {
		normalized, ok := models.NormalizeTaskStatus(status)
		if !ok {
			return reply("show_tasks", fmt.Sprintf("❌ Unknown status \"%s\".", status))
		}
		filter.Status = normalized
	}
	if project != "" {
		heading = fmt.Sprintf("📁 Tasks for project %s", project)
	}
	return r.showTasks(ctx, user, filter, heading)
}

func (r *Router) addEvent(ctx context.Context, user *models.User, cmd llm.Command) result {
	title := cmd.String("title")
	if title == "" {
		return reply("add_event", "❌ Please tell me the event title.")
	}
	start := cmd.String("start_datetime")
	if start == "" {
		return reply("add_event", "❌ Please tell me when the event starts.")
	}

	in := service.EventInput{
		Title:         &title,
		StartDatetime: &start,
		EndDatetime:   optional(cmd.String("end_datetime")),
		Location:      optional(cmd.String("location")),
		Description:   optional(cmd.String("description")),
	}
	if emails := cmd.Strings("participants"); len(emails) > 0 {
		list := make(service.ParticipantList, 0, len(emails))
		for _, e := range emails {
			list = append(list, models.Participant{Email: e})
		}
		in.Participants = &list
	}

	ev, err := r.events.Create(ctx, user, in)
	if err != nil {
		return failed("add_event", err)
	}
	return reply("add_event", fmt.Sprintf("✅ Event added: %s", describeEvent(ev)))
}

func (r *Router) updateEvent(ctx context.Context, user *models.User, title, field, value string) result {
	events, err := r.events.FindByTitle(ctx, user, title)
	if err != nil {
		return failed("update_event", err)
	}
	switch len(events) {
	case 0:
		return reply("update_event", fmt.Sprintf("❌ No event found matching \"%s\".", title))
	case 1:
	default:
		return reply("update_event", "🔎 Several events match. Please be more specific:\n"+formatEvents(events))
	}

	var in service.EventInput
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "title", "name":
		in.Title = &value
	case "start_datetime", "start", "date", "time":
		in.StartDatetime = &value
	case "end_datetime", "end":
		in.EndDatetime = &value
	case "location", "place":
		in.Location = &value
	case "description", "notes":
		in.Description = &value
	default:
		return reply("update_event", fmt.Sprintf("❌ I cannot update the event field \"%s\".", field))
	}

	ev, err := r.events.Update(ctx, user, events[0].ID, in)
	if err != nil {
		return failed("update_event", err)
	}
	return reply("update_event", fmt.Sprintf("✅ Updated event: %s", describeEvent(ev)))
}

func (r *Router) addPerson(ctx context.Context, user *models.User, cmd llm.Command) result {
	in := service.PersonInput{
		FirstName: optional(cmd.String("first_name")),
		LastName:  optional(cmd.String("last_name")),
		Email:     optional(cmd.String("email")),
		Phone:     optional(cmd.String("phone")),
		Company:   optional(cmd.String("company")),
		JobTitle:  optional(cmd.String("job_title")),
		Notes:     optional(cmd.String("notes")),
	}
	if in.FirstName == nil && in.LastName == nil {
		return reply("add_person", "❌ Please tell me the contact's name.")
	}
	p, err := r.people.Create(ctx, user, in)
	if err != nil {
		return failed("add_person", err)
	}
	return reply("add_person", fmt.Sprintf("✅ Contact added: %s", personLabel(p)))
}

func (r *Router) updatePerson(ctx context.Context, user *models.User, name, field, value string) result {
	people, err := r.people.Search(ctx, user, name, searchLimit)
	if err != nil {
		return failed("update_person", err)
	}
	people = narrowByName(people, name)
	switch len(people) {
	case 0:
		return reply("update_person", fmt.Sprintf("❌ No contact found matching \"%s\".", name))
	case 1:
	default:
		return reply("update_person", "🔎 Several contacts match. Please be more specific:\n"+formatPeople(people))
	}

	field = strings.ToLower(strings.TrimSpace(field))
	if field == "" {
		return reply("update_person", "❌ Please tell me which field to update.")
	}

	var in service.PersonInput
	if personFields[field] {
		raw, _ := json.Marshal(map[string]string{field: value})
		if err := json.Unmarshal(raw, &in); err != nil {
			return failed("update_person", err)
		}
	} else {
		in.CustomFields = map[string]any{field: value}
	}

	p, err := r.people.Update(ctx, user, people[0].ID, in)
	if err != nil {
		return failed("update_person", err)
	}
	return reply("update_person", fmt.Sprintf("✅ Updated %s: %s = %s", personLabel(p), field, value))
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
