package ops

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Process is one row of the remote process table. Linux and Darwin
// also fill the state, memory and time columns.
type Process struct {
	PID     int
	PPID    int
	User    string
	Cmdline string
	State   string
	RSS     int
	VSZ     int
	Elapsed time.Duration
	CPUTime time.Duration
}

// Cmd is the first token of the command line
func (p Process) Cmd() string {
	if f := strings.Fields(p.Cmdline); len(f) > 0 {
		return f[0]
	}
	return ""
}

func (p Process) Args() []string {
	if f := strings.Fields(p.Cmdline); len(f) > 1 {
		return f[1:]
	}
	return nil
}

var (
	linuxStates = map[byte]string{
		'D': "UninterruptibleSleep",
		'R': "Running",
		'S': "InterruptibleSleep",
		'T': "Stopped",
		'W': "Paging",
		'X': "Dead",
		'Z': "Zombie",
	}
	darwinStates = map[byte]string{
		'I': "Idle",
		'R': "Running",
		'S': "Sleeping",
		'T': "Stopped",
		'U': "UninterruptibleSleep",
		'Z': "Zombie",
	}
)

func stateName(states map[byte]string, code string) string {
	if code == "" {
		return "UnknownState"
	}
	if name, ok := states[code[0]]; ok {
		return name
	}
	return "UnknownState"
}

var processTimeRE = regexp.MustCompile(`^(?:(\d+)-)?(?:(\d+):)?(?:(\d+):)?(\d+)$`)

// ParseProcessTime reads the [DD-][hh:]mm:ss format of ps
func ParseProcessTime(value string) time.Duration {
	m := processTimeRE.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return 0
	}
	atoi := func(s string) time.Duration {
		n, _ := strconv.Atoi(s)
		return time.Duration(n)
	}
	days := atoi(m[1])
	// With a single colon the groups are mm:ss, with two hh:mm:ss
	var hours, minutes time.Duration
	switch {
	case m[2] != "" && m[3] != "":
		hours, minutes = atoi(m[2]), atoi(m[3])
	case m[2] != "":
		minutes = atoi(m[2])
	}
	return days*24*time.Hour + hours*time.Hour + minutes*time.Minute + atoi(m[4])*time.Second
}

// parseTable splits ps output after its header into len(fields) columns
func parseTable(lines []string, fields []string) []map[string]string {
	var rows []map[string]string
	for i, line := range lines {
		if i == 0 {
			continue
		}
		cols := splitN(strings.TrimSpace(line), len(fields))
		if len(cols) != len(fields) {
			continue
		}
		row := make(map[string]string, len(fields))
		for j, f := range fields {
			row[f] = cols[j]
		}
		rows = append(rows, row)
	}
	return rows
}

// splitN splits on whitespace runs, the last column keeping its spaces
func splitN(s string, n int) []string {
	var out []string
	for len(out) < n-1 {
		s = strings.TrimLeft(s, " \t")
		idx := strings.IndexAny(s, " \t")
		if idx < 0 {
			break
		}
		out = append(out, s[:idx])
		s = s[idx:]
	}
	if s = strings.TrimLeft(s, " \t"); s != "" {
		out = append(out, s)
	}
	return out
}

func intOr(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
