package bot

import (
	"fmt"
	"strings"

	"neonetworker/internal/models"
	"neonetworker/internal/service"
)

var statusIcons = map[string]string{
	models.TaskStatusTodo:       "⬜",
	models.TaskStatusInProgress: "🔄",
	models.TaskStatusDone:       "✅",
	models.TaskStatusCancelled:  "🚫",
}

func formatTasks(tasks []*models.Task) string {
	lines := make([]string, 0, len(tasks))
	for i, t := range tasks {
		lines = append(lines, fmt.Sprintf("%d. %s %s", i+1, statusIcons[t.Status], describeTask(t)))
	}
	return strings.Join(lines, "\n")
}

func describeTask(t *models.Task) string {
	var b strings.Builder
	b.WriteString(t.Title)
	fmt.Fprintf(&b, " [%s]", t.Status)
	if t.Project != "" {
		fmt.Fprintf(&b, " 📁 %s", t.Project)
	}
	if t.Priority == models.PriorityHigh {
		b.WriteString(" ❗")
	}
	if t.DueDate != nil {
		fmt.Fprintf(&b, " 📆 %s", t.DueDate.Format(service.ChatDateLayout))
	}
	return b.String()
}

func formatEvents(events []*models.Event) string {
	lines := make([]string, 0, len(events))
	for i, ev := range events {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, describeEvent(ev)))
	}
	return strings.Join(lines, "\n")
}

func describeEvent(ev *models.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s 🕒 %s", ev.Title, ev.StartDatetime.Format(service.ChatDateLayout))
	if ev.EndDatetime != nil {
		fmt.Fprintf(&b, " - %s", ev.EndDatetime.Format("15:04"))
	}
	if ev.Location != "" {
		fmt.Fprintf(&b, " 📍 %s", ev.Location)
	}
	if n := len(ev.Participants); n > 0 {
		fmt.Fprintf(&b, " 👥 %d", n)
	}
	return b.String()
}

func formatPeople(people []*models.Person) string {
	lines := make([]string, 0, len(people))
	for i, p := range people {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, personLabel(p)))
	}
	return strings.Join(lines, "\n")
}

func personLabel(p *models.Person) string {
	label := p.FullName()
	if label == "" {
		label = p.Email
	}
	var extra []string
	if p.Company != "" {
		extra = append(extra, p.Company)
	}
	if p.Email != "" && label != p.Email {
		extra = append(extra, p.Email)
	}
	if len(extra) > 0 {
		label += " (" + strings.Join(extra, ", ") + ")"
	}
	return label
}
