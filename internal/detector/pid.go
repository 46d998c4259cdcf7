package detector

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// PIDDetector checks a known PID. When StartUnix is set, a process whose
// start time differs is treated as a reused PID and reported dead.
type PIDDetector struct {
	PID       int
	StartUnix int64
}

func (d PIDDetector) Alive() (bool, error) {
	if !pidAlive(d.PID) {
		return false, nil
	}
	if d.StartUnix > 0 {
		if cur := procStartUnix(d.PID); cur > 0 && cur != d.StartUnix {
			return false, nil
		}
	}
	return true, nil
}

func (d PIDDetector) Locate() (int, error) {
	alive, err := d.Alive()
	if err != nil || !alive {
		return 0, err
	}
	return d.PID, nil
}

func (d PIDDetector) Describe() string { return fmt.Sprintf("pid:%d", d.PID) }

// PIDFileDetector reads the PID a server wrote to its PidFile and checks it.
// Only the first line of the file is read.
type PIDFileDetector struct {
	PIDFile string
}

func (d PIDFileDetector) Locate() (int, error) {
	data, err := os.ReadFile(d.PIDFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	first, _, _ := strings.Cut(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	first = strings.TrimSpace(first)
	if first == "" {
		return 0, fmt.Errorf("empty pidfile: %s", d.PIDFile)
	}
	pid, err := strconv.Atoi(first)
	if err != nil {
		return 0, fmt.Errorf("invalid pid in %s: %w", d.PIDFile, err)
	}
	if !pidAlive(pid) {
		return 0, nil
	}
	return pid, nil
}

func (d PIDFileDetector) Alive() (bool, error) {
	pid, err := d.Locate()
	return pid > 0, err
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }

// StartTime returns the process start time in Unix seconds, or 0 when it
// cannot be determined.
func StartTime(pid int) int64 { return procStartUnix(pid) }
