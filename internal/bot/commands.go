package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"neonetworker/internal/domain"
	"neonetworker/internal/models"
	"neonetworker/internal/service"
)

const helpText = `👋 I am your Neo Networker assistant. Try:

📋 Tasks
• show tasks / show all tasks / show done tasks
• show tasks for project Apollo
• add task Call Alice
• update report status to done
• delete report

📅 Events
• show events / show events today / show events this week
• delete event standup

👥 Contacts
• show contacts
• find John
• delete contact John Smith

Or just write what you need, like "meet Bob tomorrow at 10".`

const searchLimit = 10

type command struct {
	name   string
	match  func(lower, original string) (string, bool)
	handle func(ctx context.Context, user *models.User, arg string) result
}

func exact(phrases ...string) func(string, string) (string, bool) {
	return func(lower, _ string) (string, bool) {
		for _, p := range phrases {
			if lower == p {
				return "", true
			}
		}
		return "", false
	}
}

// prefix matches case-insensitively and returns the rest of the original text.
func prefix(prefixes ...string) func(string, string) (string, bool) {
	return func(lower, original string) (string, bool) {
		for _, p := range prefixes {
			if strings.HasPrefix(lower, p) && len(original) >= len(p) && strings.EqualFold(original[:len(p)], p) {
				if arg := trimArg(original[len(p):]); arg != "" {
					return arg, true
				}
			}
		}
		return "", false
	}
}

func trimArg(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ".!?")
	return strings.Trim(strings.TrimSpace(s), `"'`)
}

// simpleCommands is checked in order; the first match wins.
func (r *Router) simpleCommands() []command {
	return []command{
		{"help", exact("help", "/start", "/help"), func(context.Context, *models.User, string) result {
			return reply("help", helpText)
		}},
		{"show_tasks", exact("show done tasks", "show completed tasks"), func(ctx context.Context, u *models.User, _ string) result {
			return r.showTasks(ctx, u, domain.TaskFilter{Status: models.TaskStatusDone}, "✅ Done tasks")
		}},
		{"show_tasks", exact("show all tasks"), func(ctx context.Context, u *models.User, _ string) result {
			return r.showTasks(ctx, u, domain.TaskFilter{IncludeDone: true, IncludeScheduled: true}, "📋 All tasks")
		}},
		{"show_tasks", exact("show in progress tasks"), func(ctx context.Context, u *models.User, _ string) result {
			return r.showTasks(ctx, u, domain.TaskFilter{Status: models.TaskStatusInProgress}, "🔄 Tasks in progress")
		}},
		{"show_tasks", exact("show tasks", "list tasks", "my tasks"), func(ctx context.Context, u *models.User, _ string) result {
			return r.showTasks(ctx, u, domain.TaskFilter{}, "📋 Your tasks")
		}},
		{"show_tasks", projectTasks, func(ctx context.Context, u *models.User, project string) result {
			return r.showTasks(ctx, u, domain.TaskFilter{Project: project}, fmt.Sprintf("📁 Tasks for project %s", project))
		}},
		{"show_events", showEvents, func(ctx context.Context, u *models.User, period string) result {
			return r.showEvents(ctx, u, period, "")
		}},
		{"show_people", exact("show contacts", "show people", "list contacts"), func(ctx context.Context, u *models.User, _ string) result {
			return r.showPeople(ctx, u, "")
		}},
		{"search", prefix("find ", "search "), func(ctx context.Context, u *models.User, q string) result {
			return r.search(ctx, u, q)
		}},
		{"delete_person", prefix("delete contact ", "remove contact "), func(ctx context.Context, u *models.User, name string) result {
			return r.deletePerson(ctx, u, name)
		}},
		{"remove_event", prefix("delete event ", "remove event "), func(ctx context.Context, u *models.User, title string) result {
			return r.deleteEvent(ctx, u, title)
		}},
		{"remove_task", prefix("delete ", "remove "), func(ctx context.Context, u *models.User, title string) result {
			return r.deleteTask(ctx, u, title)
		}},
		{"update_task", prefix("update "), func(ctx context.Context, u *models.User, rest string) result {
			title, status, ok := parseStatusUpdate(rest)
			if !ok {
				return reply("update_task", `✏️ Try "update <task> status to done" or "update <task> to in progress".`)
			}
			return r.updateTaskField(ctx, u, title, "status", status)
		}},
		{"add_task", prefix("add task "), func(ctx context.Context, u *models.User, title string) result {
			return r.addTask(ctx, u, service.TaskInput{Title: &title})
		}},
	}
}

func projectTasks(lower, original string) (string, bool) {
	if arg, ok := prefix("show tasks for project ")(lower, original); ok {
		return arg, true
	}
	if strings.HasPrefix(lower, "project ") && strings.HasSuffix(lower, " tasks") {
		inner := strings.TrimSpace(original[len("project ") : len(original)-len(" tasks")])
		if inner != "" {
			return inner, true
		}
	}
	return "", false
}

func showEvents(lower, _ string) (string, bool) {
	switch lower {
	case "show events", "list events", "my events":
		return "", true
	case "show events today":
		return "today", true
	case "show events tomorrow":
		return "tomorrow", true
	case "show events this week", "show events week":
		return "week", true
	}
	return "", false
}

// parseStatusUpdate reads "<title> status to <status>" or "<title> to <status>".
func parseStatusUpdate(rest string) (title, status string, ok bool) {
	lower := strings.ToLower(rest)
	var raw string
	if i := strings.Index(lower, " status "); i >= 0 {
		title = rest[:i]
		raw = strings.TrimSpace(rest[i+len(" status "):])
		if strings.HasPrefix(strings.ToLower(raw), "to ") {
			raw = raw[len("to "):]
		}
	} else if i := strings.LastIndex(lower, " to "); i >= 0 {
		title = rest[:i]
		raw = rest[i+len(" to "):]
	} else {
		return "", "", false
	}
	title = trimArg(title)
	status = trimArg(raw)
	return title, status, title != "" && status != ""
}

func (r *Router) showTasks(ctx context.Context, user *models.User, filter domain.TaskFilter, heading string) result {
	tasks, err := r.tasks.List(ctx, user, filter)
	if err != nil {
		return failed("show_tasks", err)
	}
	if len(tasks) == 0 {
		return reply("show_tasks", "📭 No tasks found.")
	}
	return reply("show_tasks", heading+":\n"+formatTasks(tasks))
}

func (r *Router) showEvents(ctx context.Context, user *models.User, period, project string) result {
	now := r.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var (
		events  []*models.Event
		err     error
		heading string
	)
	switch strings.ToLower(strings.TrimSpace(period)) {
	case "today":
		heading = "📅 Today's events"
		events, err = r.events.Between(ctx, user, today, today.AddDate(0, 0, 1))
	case "tomorrow":
		heading = "📅 Tomorrow's events"
		events, err = r.events.Between(ctx, user, today.AddDate(0, 0, 1), today.AddDate(0, 0, 2))
	case "week", "this week":
		heading = "📅 Events this week"
		events, err = r.events.Between(ctx, user, today, today.AddDate(0, 0, 7))
	case "all":
		heading = "📅 All events"
		events, err = r.events.List(ctx, user, domain.EventFilter{Project: project})
	default:
		heading = "📅 Upcoming events"
		if project != "" {
			events, err = r.events.List(ctx, user, domain.EventFilter{Start: &now, Project: project})
		} else {
			events, err = r.events.Upcoming(ctx, user, 0)
		}
	}
	if err != nil {
		return failed("show_events", err)
	}
	if len(events) == 0 {
		return reply("show_events", "📭 No events found.")
	}
	return reply("show_events", heading+":\n"+formatEvents(events))
}

func (r *Router) showPeople(ctx context.Context, user *models.User, search string) result {
	people, err := r.people.List(ctx, user, search)
	if err != nil {
		return failed("show_people", err)
	}
	if len(people) == 0 {
		return reply("show_people", "📭 No contacts found.")
	}
	return reply("show_people", "👥 Your contacts:\n"+formatPeople(people))
}

func (r *Router) search(ctx context.Context, user *models.User, query string) result {
	people, err := r.people.Search(ctx, user, query, searchLimit)
	if err != nil {
		return failed("search", err)
	}
	tasks, err := r.tasks.FindByTitle(ctx, user, query)
	if err != nil {
		return failed("search", err)
	}
	if len(people) == 0 && len(tasks) == 0 {
		return reply("search", fmt.Sprintf("🔍 Nothing found for \"%s\".", query))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🔍 Results for \"%s\":", query)
	if len(people) > 0 {
		b.WriteString("\n\n👥 Contacts:\n")
		b.WriteString(formatPeople(people))
	}
	if len(tasks) > 0 {
		b.WriteString("\n\n📋 Tasks:\n")
		b.WriteString(formatTasks(tasks))
	}
	return reply("search", b.String())
}

// searchContacts is the fallback when classification is unavailable.
func (r *Router) searchContacts(ctx context.Context, user *models.User, text string) result {
	people, err := r.people.Search(ctx, user, text, searchLimit)
	if err != nil {
		return failed("search", err)
	}
	if len(people) == 0 {
		return reply("search", "🤔 I did not understand that and found no matching contacts. Type help to see what I can do.")
	}
	return reply("search", "👥 Matching contacts:\n"+formatPeople(people))
}

func (r *Router) addTask(ctx context.Context, user *models.User, in service.TaskInput) result {
	if in.Title == nil || strings.TrimSpace(*in.Title) == "" {
		return reply("add_task", "❌ Please tell me the task title.")
	}
	task, err := r.tasks.Create(ctx, user, in)
	if err != nil {
		return failed("add_task", err)
	}
	text := fmt.Sprintf("✅ Task added: %s", task.Title)
	if task.Project != "" {
		text += fmt.Sprintf(" (project %s)", task.Project)
	}
	if task.DueDate != nil {
		text += fmt.Sprintf("\n📆 Due %s", task.DueDate.Format(service.ChatDateLayout))
	}
	return reply("add_task", text)
}

func (r *Router) deleteTask(ctx context.Context, user *models.User, title string) result {
	tasks, err := r.tasks.FindByTitle(ctx, user, title)
	if err != nil {
		return failed("remove_task", err)
	}
	candidates := make([]models.Candidate, 0, len(tasks))
	for _, t := range tasks {
		candidates = append(candidates, models.Candidate{ID: t.ID, Label: t.Title})
	}
	return r.startDelete(ctx, user, models.StateWaitingTaskDelete, title, candidates)
}

func (r *Router) deletePerson(ctx context.Context, user *models.User, name string) result {
	people, err := r.people.Search(ctx, user, name, searchLimit)
	if err != nil {
		return failed("delete_person", err)
	}
	people = narrowByName(people, name)
	candidates := make([]models.Candidate, 0, len(people))
	for _, p := range people {
		candidates = append(candidates, models.Candidate{ID: p.ID, Label: personLabel(p)})
	}
	return r.startDelete(ctx, user, models.StateWaitingPersonDelete, name, candidates)
}

func (r *Router) deleteEvent(ctx context.Context, user *models.User, title string) result {
	events, err := r.events.FindByTitle(ctx, user, title)
	if err != nil {
		return failed("remove_event", err)
	}
	candidates := make([]models.Candidate, 0, len(events))
	for _, ev := range events {
		candidates = append(candidates, models.Candidate{
			ID:    ev.ID,
			Label: fmt.Sprintf("%s (%s)", ev.Title, ev.StartDatetime.Format(service.ChatDateLayout)),
		})
	}
	return r.startDelete(ctx, user, models.StateWaitingEventDelete, title, candidates)
}

// updateTaskField changes one field of the single task matching title.
func (r *Router) updateTaskField(ctx context.Context, user *models.User, title, field, value string) result {
	tasks, err := r.tasks.FindByTitle(ctx, user, title)
	if err != nil {
		return failed("update_task", err)
	}
	switch len(tasks) {
	case 0:
		return reply("update_task", fmt.Sprintf("❌ No task found matching \"%s\".", title))
	case 1:
	default:
		return reply("update_task", "🔎 Several tasks match. Please be more specific:\n"+formatTasks(tasks))
	}

	var in service.TaskInput
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "status":
		status, ok := models.NormalizeTaskStatus(value)
		if !ok {
			return reply("update_task", fmt.Sprintf("❌ Unknown status \"%s\". Use todo, in progress, done or cancelled.", value))
		}
		in.Status = &status
	case "priority":
		in.Priority = &value
	case "due_date", "due", "deadline":
		in.DueDate = &value
	case "project":
		in.Project = &value
	case "title", "name":
		in.Title = &value
	case "description", "notes":
		in.Description = &value
	default:
		return reply("update_task", fmt.Sprintf("❌ I cannot update the task field \"%s\".", field))
	}

	task, err := r.tasks.Update(ctx, user, tasks[0].ID, in)
	if err != nil {
		return failed("update_task", err)
	}
	return reply("update_task", fmt.Sprintf("✅ Updated task \"%s\": %s", task.Title, describeTask(task)))
}

// narrowByName prefers exact full-name matches when any exist.
func narrowByName(people []*models.Person, name string) []*models.Person {
	var exactMatches []*models.Person
	for _, p := range people {
		if strings.EqualFold(p.FullName(), strings.TrimSpace(name)) {
			exactMatches = append(exactMatches, p)
		}
	}
	if len(exactMatches) > 0 {
		return exactMatches
	}
	return people
}
