package command

import (
	"fmt"
	"strconv"
	"strings"
)

// Command names.
const (
	NameStatus  = "status"
	NameDevices = "devices"
	NameControl = "control"
	NameSync    = "sync"
	NameHelp    = "help"
)

// Inbound is one raw message from the messaging network.
type Inbound struct {
	Sender string
	Text   string
}

// Command is a parsed inbound command.
type Command struct {
	Sender string
	Name   string
	Args   []string
}

// Parse splits text on whitespace into a name and arguments.
func Parse(sender, text string) (Command, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Command{Sender: sender}, ErrMalformedCommand
	}
	return Command{Sender: sender, Name: fields[0], Args: fields[1:]}, nil
}

// actionServices maps control actions to hub services.
var actionServices = map[string]string{
	"on":     "turn_on",
	"off":    "turn_off",
	"toggle": "toggle",
	"open":   "open_cover",
	"close":  "close_cover",
	"stop":   "stop_cover",
}

// ServiceFor returns the hub service for a control action (case-insensitive).
func ServiceFor(action string) (string, bool) {
	s, ok := actionServices[strings.ToLower(action)]
	return s, ok
}

// SplitEntityID returns the domain and object id of "<domain>.<object>".
func SplitEntityID(entityID string) (domain, object string, err error) {
	domain, object, found := strings.Cut(entityID, ".")
	if !found || domain == "" || object == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedEntityID, entityID)
	}
	return domain, object, nil
}

// ParseParams turns key=value arguments into service parameters.
// Numbers and booleans are decoded; other values stay strings.
// Arguments without '=' are returned in ignored.
func ParseParams(args []string) (params map[string]any, ignored []string) {
	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if !found || key == "" {
			ignored = append(ignored, arg)
			continue
		}
		if params == nil {
			params = make(map[string]any)
		}
		params[key] = decodeValue(value)
	}
	return params, ignored
}

func decodeValue(v string) any {
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	}
	return v
}
