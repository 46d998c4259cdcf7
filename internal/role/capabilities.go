package role

// Capabilities describes what a server role's executable supports. World
// reads administrative commands on stdin; Auth has no command channel.
type Capabilities struct {
	Stdin          bool // accepts single-line commands on standard input
	RestartCommand bool // understands "server restart <delay> <code>"
}

func CapabilitiesFor(r Role) Capabilities {
	switch r {
	case World:
		return Capabilities{Stdin: true, RestartCommand: true}
	default:
		return Capabilities{}
	}
}

// Commands understood by the world server console.
const (
	ShutdownCommand = "server exit"
	RestartCommand  = "server restart"
)

// ExitCodes is the exit status contract established by the supervised
// executables: what a given code means is decided by the server, the
// supervisor only classifies.
type ExitCodes struct {
	Shutdown int `json:"shutdown" mapstructure:"shutdown"`
	Crash    int `json:"crash" mapstructure:"crash"`
	Restart  int `json:"restart" mapstructure:"restart"`
}

func DefaultExitCodes() ExitCodes {
	return ExitCodes{Shutdown: 0, Crash: 1, Restart: 2}
}

// ExitKind is the classification of an observed exit code.
type ExitKind int

const (
	ExitUnrecognized ExitKind = iota
	ExitShutdown
	ExitCrash
	ExitRestart
)

func (k ExitKind) String() string {
	switch k {
	case ExitShutdown:
		return "shutdown"
	case ExitCrash:
		return "crash"
	case ExitRestart:
		return "restart"
	default:
		return "unrecognized"
	}
}

// Classify maps an exit code onto the contract. Codes that are not part of
// it are ExitUnrecognized.
func (c ExitCodes) Classify(code int) ExitKind {
	switch code {
	case c.Shutdown:
		return ExitShutdown
	case c.Crash:
		return ExitCrash
	case c.Restart:
		return ExitRestart
	default:
		return ExitUnrecognized
	}
}
