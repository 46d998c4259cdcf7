package manager

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/loykin/acoremgr/internal/role"
)

// delayPattern accepts plain seconds ("30") or unit groups in d,h,m,s order
// ("30s", "1h15m30s"), the forms the world server's restart command parses.
var delayPattern = regexp.MustCompile(`^(?:\d+|(?:\d+d)?(?:\d+h)?(?:\d+m)?(?:\d+s)?)$`)

// ValidateDelay returns the trimmed delay or ErrInvalidDelay.
func ValidateDelay(delay string) (string, error) {
	d := strings.TrimSpace(delay)
	if d == "" || !delayPattern.MatchString(d) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDelay, delay)
	}
	return d, nil
}

// RestartLine builds the console command asking the world server to restart.
func RestartLine(delay string, exitCode int) string {
	return fmt.Sprintf("%s %s %d", role.RestartCommand, delay, exitCode)
}
