package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Function numbers returned by the classifier. The numbering is part of the
// prompt contract and must not change.
const (
	FuncAddTask      = 1
	FuncRemoveTask   = 2
	FuncUpdateTask   = 3
	FuncShowTasks    = 4
	FuncAddAlert     = 5
	FuncAddEvent     = 6
	FuncShowEvents   = 7
	FuncRemoveEvent  = 8
	FuncUpdateEvent  = 9
	FuncAddPerson    = 10
	FuncShowPeople   = 11
	FuncUpdatePerson = 12
	FuncDeletePerson = 13
	FuncSearch       = 14
)

// paramNames maps positional array params onto named ones, in order.
var paramNames = map[int][]string{
	FuncAddTask:      {"title", "project", "due_date", "priority", "description"},
	FuncRemoveTask:   {"title"},
	FuncUpdateTask:   {"title", "field", "value"},
	FuncShowTasks:    {"project", "status"},
	FuncAddAlert:     {"task", "alert_time"},
	FuncAddEvent:     {"title", "start_datetime", "end_datetime", "location", "description", "participants"},
	FuncShowEvents:   {"period", "project"},
	FuncRemoveEvent:  {"title"},
	FuncUpdateEvent:  {"title", "field", "value"},
	FuncAddPerson:    {"first_name", "last_name", "email", "phone", "company", "job_title", "notes"},
	FuncShowPeople:   {"search"},
	FuncUpdatePerson: {"name", "field", "value"},
	FuncDeletePerson: {"name"},
	FuncSearch:       {"query"},
}

var ErrUnparseable = errors.New("classifier reply is not a command")

// Command is one classified chat instruction.
type Command struct {
	Function int
	Params   map[string]any
}

// String returns the named parameter as text, "" when absent.
func (c Command) String(name string) string {
	v, ok := c.Params[name]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// Strings returns a list parameter. A single string is split on commas.
func (c Command) Strings(name string) []string {
	var out []string
	switch t := c.Params[name].(type) {
	case []any:
		for _, item := range t {
			switch v := item.(type) {
			case string:
				if s := strings.TrimSpace(v); s != "" {
					out = append(out, s)
				}
			case map[string]any:
				if s, ok := v["email"].(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, strings.TrimSpace(s))
				}
			}
		}
	case string:
		for _, part := range strings.Split(t, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// ParseReply decodes "[n, {...}]" or "[n, [...]]", optionally wrapped in a
// markdown code fence.
func ParseReply(reply string) (Command, error) {
	body := stripFence(reply)

	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(body), &parts); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if len(parts) != 2 {
		return Command{}, fmt.Errorf("%w: expected 2 elements, got %d", ErrUnparseable, len(parts))
	}

	var fn int
	if err := json.Unmarshal(parts[0], &fn); err != nil {
		return Command{}, fmt.Errorf("%w: function number: %v", ErrUnparseable, err)
	}
	names, ok := paramNames[fn]
	if !ok {
		return Command{}, fmt.Errorf("%w: unknown function %d", ErrUnparseable, fn)
	}

	cmd := Command{Function: fn, Params: map[string]any{}}
	if err := json.Unmarshal(parts[1], &cmd.Params); err == nil {
		if cmd.Params == nil {
			cmd.Params = map[string]any{}
		}
		return cmd, nil
	}

	var positional []any
	if err := json.Unmarshal(parts[1], &positional); err != nil {
		return Command{}, fmt.Errorf("%w: params must be an object or array", ErrUnparseable)
	}
	for i, v := range positional {
		if i >= len(names) {
			break
		}
		cmd.Params[names[i]] = v
	}
	return cmd, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
