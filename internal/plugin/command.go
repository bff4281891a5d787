package plugin

import "strings"

// CommandResult is the outcome of running a command.
type CommandResult int

const (
	NoSuchCommand CommandResult = iota + 1
	InvalidArguments
	NoPermission
	Error
	Success
)

func (r CommandResult) String() string {
	switch r {
	case NoSuchCommand:
		return "no_such_command"
	case InvalidArguments:
		return "invalid_arguments"
	case NoPermission:
		return "no_permission"
	case Error:
		return "error"
	case Success:
		return "success"
	default:
		return "unknown"
	}
}

// Command is a slash command. A non-nil error from Execute is reported to
// the sender as a failure of the command.
type Command struct {
	Name         string
	Aliases      []string
	Description  string
	Usage        string // "<command>" is replaced by the name
	RequiredRank int
	Execute      func(s Sender, args []string) (CommandResult, error)
}

// Matches reports whether name selects this command.
func (c Command) Matches(name string) bool {
	if strings.EqualFold(c.Name, name) {
		return true
	}
	for _, a := range c.Aliases {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

// UsageLine returns the usage with the command name filled in.
func (c Command) UsageLine() string {
	return strings.ReplaceAll(c.Usage, "<command>", c.Name)
}

// MergeCommands appends extra to base, replacing commands of the same name.
func MergeCommands(base []Command, extra ...Command) []Command {
	out := append([]Command(nil), base...)
	for _, c := range extra {
		replaced := false
		for i := range out {
			if strings.EqualFold(out[i].Name, c.Name) {
				out[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, c)
		}
	}
	return out
}
