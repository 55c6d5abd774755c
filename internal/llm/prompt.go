package llm

import (
	"fmt"
	"time"
)

const routingPrompt = `You route messages for a personal CRM. Reply with ONLY a JSON array
[function_number, parameters] and nothing else. Parameters may be an object
with the named keys or an array in the listed order.

1 add_task: title, project, due_date, priority, description
2 remove_task: title
3 update_task: title, field (status|priority|due_date|project|title|description), value
4 show_tasks: project, status
5 add_alert: task, alert_time
6 add_event: title, start_datetime, end_datetime, location, description, participants
7 show_events: period (today|tomorrow|week|all), project
8 remove_event: title
9 update_event: title, field (title|start_datetime|end_datetime|location|description), value
10 add_person: first_name, last_name, email, phone, company, job_title, notes
11 show_people: search
12 update_person: name, field, value
13 delete_person: name
14 search: query

Dates use the format YYYY-MM-DD HH:MM. Today is %s.
If nothing fits, use 14 with the whole message as the query.`

// RoutingPrompt renders the system prompt for now.
func RoutingPrompt(now time.Time) string {
	return fmt.Sprintf(routingPrompt, now.UTC().Format("2006-01-02 (Monday)"))
}

// TranscriptionPrompt biases Whisper towards CRM vocabulary.
const TranscriptionPrompt = "Personal CRM commands: add task, show tasks, project, contact, " +
	"meeting, event, tomorrow, due date, priority, delete, update status to done."
