package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandRecord   Command = "record"
	CommandStart    Command = "start"
	CommandStop     Command = "stop"
	CommandPause    Command = "pause"
	CommandResume   Command = "resume"
	CommandCancel   Command = "cancel"
	CommandStatus   Command = "status"
	CommandDevices  Command = "devices"
	CommandSessions Command = "sessions"
	CommandDoctor   Command = "doctor"
	CommandVersion  Command = "version"
	CommandHelp     Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandRecord:   {},
	CommandStart:    {},
	CommandStop:     {},
	CommandPause:    {},
	CommandResume:   {},
	CommandCancel:   {},
	CommandStatus:   {},
	CommandDevices:  {},
	CommandSessions: {},
	CommandDoctor:   {},
	CommandVersion:  {},
	CommandHelp:     {},
}

type Parsed struct {
	Command    Command
	ConfigPath string
	Idle       bool
	ShowHelp   bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}
	sawCommand := false

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		case "--idle":
			if !sawCommand || parsed.Command != CommandRecord {
				return Parsed{}, errors.New("--idle only applies to the record command")
			}
			parsed.Idle = true
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			if sawCommand {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", parsed.Command)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			sawCommand = true
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command>

Commands:
  record    Run the capture daemon in the foreground (use --idle to wait for start)
  start     Begin recording a conversation
  stop      Stop recording, persist the transcript, and generate notes
  pause     Pause forwarding while keeping capture open
  resume    Resume forwarding after a pause
  cancel    Abort the active session without persisting anything
  status    Print daemon state
  devices   List available audio sources
  sessions  List stored sessions
  doctor    Run configuration and environment checks
  version   Print version information
  help      Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/crosstalk/config.jsonc)
  --idle          With record: do not auto-start a session
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
