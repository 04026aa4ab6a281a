package scan

import "fmt"

const (
	CommandPause CommandKind = iota + 1
	CommandReconfigure
)

// CommandKind tags a Command.
type CommandKind uint8

func (k CommandKind) String() string {
	switch k {
	case CommandPause:
		return "pause"
	case CommandReconfigure:
		return "reconfigure"
	default:
		return fmt.Sprintf("command(%d)", uint8(k))
	}
}

// Command is a lifecycle command delivered to the worker. Config is only
// meaningful for CommandReconfigure.
type Command struct {
	Kind   CommandKind
	Config Config
}

// Pause toggles the worker between Running and Stopped.
func Pause() Command {
	return Command{Kind: CommandPause}
}

// Reconfigure replaces the worker's configuration.
func Reconfigure(c Config) Command {
	return Command{Kind: CommandReconfigure, Config: c}
}

func (c Command) String() string {
	if c.Kind == CommandReconfigure {
		return fmt.Sprintf("%s(%s)", c.Kind, c.Config)
	}
	return c.Kind.String()
}
