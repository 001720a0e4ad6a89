// Package ops implements common remote system queries on top of anything
// able to run a shell command line, an exec channel or a shell conversation.
package ops

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Runner executes one command line and returns its output
type Runner interface {
	Execute(cmd string) (string, error)
}

type OS int

const (
	UnknownOS OS = iota
	Linux
	AIX
	Darwin
	SunOS
)

func (o OS) String() string {
	switch o {
	case Linux:
		return "linux"
	case AIX:
		return "aix"
	case Darwin:
		return "darwin"
	case SunOS:
		return "sunos"
	}
	return "unknown"
}

var ErrUnsupportedOS = errors.New("operation not supported on this remote system")

type Ops struct {
	r Runner
}

func New(r Runner) *Ops {
	return &Ops{r: r}
}

func (o *Ops) Execute(cmd string) (string, error) {
	return o.r.Execute(cmd)
}

func (o *Ops) ExecuteAndTrim(cmd string) (string, error) {
	out, err := o.r.Execute(cmd)
	return strings.TrimSpace(out), err
}

// ExecuteAndTrimSplit returns the trimmed output split into lines
func (o *Ops) ExecuteAndTrimSplit(cmd string) ([]string, error) {
	out, err := o.ExecuteAndTrim(cmd)
	if err != nil || out == "" {
		return nil, err
	}
	return strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n"), nil
}

// optional runs cmd with stderr discarded, an empty output meaning no value
func (o *Ops) optional(cmd string) (string, bool, error) {
	out, err := o.ExecuteAndTrim(cmd + " 2>/dev/null")
	return out, out != "", err
}

func (o *Ops) status(cmd string) (bool, error) {
	out, err := o.ExecuteAndTrim(cmd + " ; echo $?")
	if err != nil {
		return false, err
	}
	lines := strings.Split(out, "\n")
	code, cErr := strconv.Atoi(strings.TrimSpace(lines[len(lines)-1]))
	if cErr != nil {
		return false, fmt.Errorf("unexpected status output %q", out)
	}
	return code == 0, nil
}

func (o *Ops) succeeds(cmd string) (bool, error) {
	out, err := o.ExecuteAndTrim(cmd + " && echo $?")
	return out == "0", err
}

func (o *Ops) DisableHistory() error {
	if _, err := o.r.Execute("unset HISTFILE"); err != nil {
		return err
	}
	_, err := o.r.Execute("HISTSIZE=0")
	return err
}

func (o *Ops) Whoami() (string, error)   { return o.ExecuteAndTrim("whoami") }
func (o *Ops) Uname() (string, error)    { return o.ExecuteAndTrim("uname 2>/dev/null") }
func (o *Ops) Pwd() (string, error)      { return o.ExecuteAndTrim("pwd") }
func (o *Ops) Hostname() (string, error) { return o.ExecuteAndTrim("hostname") }
func (o *Ops) Arch() (string, error)     { return o.ExecuteAndTrim("arch") }
func (o *Ops) ID() (string, error)       { return o.ExecuteAndTrim("id") }
func (o *Ops) Uptime() (string, error)   { return o.ExecuteAndTrim("LANG=en uptime") }

func (o *Ops) OSName() (string, error) {
	name, err := o.Uname()
	return strings.ToLower(name), err
}

func (o *Ops) OSID() (OS, error) {
	name, err := o.OSName()
	if err != nil {
		return UnknownOS, err
	}
	switch name {
	case "linux":
		return Linux, nil
	case "aix":
		return AIX, nil
	case "darwin":
		return Darwin, nil
	case "sunos":
		return SunOS, nil
	}
	return UnknownOS, nil
}

var envRE = regexp.MustCompile(`^([^=]+)=(.*)$`)

// Env returns the remote environment variables
func (o *Ops) Env() (map[string]string, error) {
	out, err := o.r.Execute("env")
	if err != nil {
		return nil, err
	}
	env := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		if m := envRE.FindStringSubmatch(line); m != nil {
			env[m[1]] = m[2]
		}
	}
	return env, nil
}

// Ls lists the entries of dir, "." when empty
func (o *Ops) Ls(dir string) ([]string, error) {
	if dir == "" {
		dir = "."
	}
	lines, err := o.ExecuteAndTrimSplit(fmt.Sprintf("ls %s | cat", Quote(dir)))
	if err != nil {
		return nil, err
	}
	var entries []string
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			entries = append(entries, l)
		}
	}
	return entries, nil
}

// Cd changes the directory of a shell conversation, the home directory when path is empty
func (o *Ops) Cd(path string) error {
	cmd := "cd"
	if path != "" {
		cmd = "cd " + Quote(path)
	}
	_, err := o.r.Execute(cmd)
	return err
}

// Date returns the remote clock
func (o *Ops) Date() (time.Time, error) {
	out, err := o.ExecuteAndTrim("date +%s")
	if err != nil {
		return time.Time{}, err
	}
	secs, pErr := strconv.ParseInt(out, 10, 64)
	if pErr != nil {
		return time.Time{}, fmt.Errorf("unexpected date output %q", out)
	}
	return time.Unix(secs, 0), nil
}

func (o *Ops) Cat(files ...string) (string, error) {
	return o.r.Execute("cat " + quoteAll(files))
}

func (o *Ops) Echo(message string) (string, error) {
	return o.ExecuteAndTrim("echo " + message)
}

// Alive checks the remote side answers a trivial command
func (o *Ops) Alive() bool {
	out, err := o.Echo("ALIVE")
	return err == nil && strings.Contains(out, "ALIVE")
}

// Which returns the location of command in the remote PATH, empty when missing
func (o *Ops) Which(command string) (string, error) {
	out, _, err := o.optional("which " + Quote(command))
	return out, err
}

func (o *Ops) Dirname(path string) (string, error) {
	return o.ExecuteAndTrim("dirname " + Quote(path))
}

func (o *Ops) Basename(path string, suffix ...string) (string, error) {
	cmd := "basename " + Quote(path)
	if len(suffix) > 0 && suffix[0] != "" {
		cmd += " " + Quote(suffix[0])
	}
	return o.ExecuteAndTrim(cmd)
}

// Test evaluates a test(1) expression
func (o *Ops) Test(condition string) (bool, error) {
	return o.status("test " + condition)
}

func (o *Ops) testFile(flag, path string) (bool, error) {
	return o.status(fmt.Sprintf("test %s %s", flag, Quote(path)))
}

func (o *Ops) Exists(path string) (bool, error)       { return o.testFile("-e", path) }
func (o *Ops) IsDirectory(path string) (bool, error)  { return o.testFile("-d", path) }
func (o *Ops) IsFile(path string) (bool, error)       { return o.testFile("-f", path) }
func (o *Ops) IsExecutable(path string) (bool, error) { return o.testFile("-x", path) }

func (o *Ops) NotExists(path string) (bool, error) {
	ok, err := o.Exists(path)
	return !ok, err
}

// FileSize returns the size in bytes, false when the file is missing
func (o *Ops) FileSize(path string) (int64, bool, error) {
	out, ok, err := o.optional("ls -ld " + Quote(path))
	if err != nil || !ok {
		return 0, false, err
	}
	fields := strings.Fields(out)
	if len(fields) < 5 {
		return 0, false, fmt.Errorf("unexpected ls output %q", out)
	}
	size, pErr := strconv.ParseInt(fields[4], 10, 64)
	if pErr != nil {
		return 0, false, fmt.Errorf("unexpected ls output %q", out)
	}
	return size, true, nil
}

// LastModified returns the modification time, false when the file is missing
func (o *Ops) LastModified(path string) (time.Time, bool, error) {
	osid, err := o.OSID()
	if err != nil {
		return time.Time{}, false, err
	}
	var cmd string
	switch osid {
	case Linux:
		cmd = "stat -c '%Y' " + Quote(path)
	case Darwin:
		cmd = "stat -f '%m' " + Quote(path)
	case AIX:
		cmd = "perl -e 'print ((stat($ARGV[0]))[9])' " + Quote(path)
	default:
		return time.Time{}, false, ErrUnsupportedOS
	}
	out, ok, oErr := o.optional(cmd)
	if oErr != nil || !ok {
		return time.Time{}, false, oErr
	}
	secs, pErr := strconv.ParseInt(out, 10, 64)
	if pErr != nil {
		return time.Time{}, false, fmt.Errorf("unexpected stat output %q", out)
	}
	return time.Unix(secs, 0), true, nil
}

// Du returns the disk usage of a file tree in kilobytes
func (o *Ops) Du(path string) (int64, bool, error) {
	out, ok, err := o.optional(fmt.Sprintf("du -k %s | tail -1", Quote(path)))
	if err != nil || !ok {
		return 0, false, err
	}
	kb, pErr := strconv.ParseInt(strings.Fields(out)[0], 10, 64)
	if pErr != nil {
		return 0, false, fmt.Errorf("unexpected du output %q", out)
	}
	return kb, true, nil
}

func (o *Ops) Md5sum(path string) (string, bool, error) {
	return o.checksum(path, map[OS]string{Darwin: "md5 -q", AIX: "csum -h MD5"}, "md5sum")
}

func (o *Ops) Sha1sum(path string) (string, bool, error) {
	return o.checksum(path, map[OS]string{Darwin: "shasum", AIX: "csum -h SHA1"}, "sha1sum")
}

func (o *Ops) checksum(path string, perOS map[OS]string, def string) (string, bool, error) {
	osid, err := o.OSID()
	if err != nil {
		return "", false, err
	}
	tool, ok := perOS[osid]
	if !ok {
		tool = def
	}
	out, found, oErr := o.optional(tool + " " + Quote(path))
	if oErr != nil || !found {
		return "", false, oErr
	}
	return strings.Fields(out)[0], true, nil
}

// FindAfterDate lists the files under root modified after the given time
func (o *Ops) FindAfterDate(root string, after time.Time) ([]string, error) {
	osid, err := o.OSID()
	if err != nil {
		return nil, err
	}
	minutes := int(time.Since(after).Minutes())
	var cmd string
	switch osid {
	case SunOS:
		return nil, ErrUnsupportedOS
	case Linux, AIX:
		cmd = "find %s -follow -type f -mmin '-%d' 2>/dev/null"
	default:
		cmd = "find %s -type f -mmin '-%d' 2>/dev/null"
	}
	return o.ExecuteAndTrimSplit(fmt.Sprintf(cmd, Quote(root), minutes))
}

// Ps lists the remote processes
func (o *Ops) Ps() ([]Process, error) {
	osid, err := o.OSID()
	if err != nil {
		return nil, err
	}
	var format string
	var states map[byte]string
	switch osid {
	case Linux:
		format, states = "pid,ppid,user,state,vsz,rss,etime,cputime,cmd", linuxStates
	case Darwin:
		format, states = "pid,ppid,user,state,vsz,rss,etime,cputime,command", darwinStates
	case AIX, SunOS:
		format = "pid,ppid,ruser,args"
	default:
		return nil, nil
	}

	lines, lErr := o.ExecuteAndTrimSplit(fmt.Sprintf("ps -eo %s | grep -v grep | cat", format))
	if lErr != nil {
		return nil, lErr
	}
	fields := strings.Split(format, ",")
	var procs []Process
	for _, row := range parseTable(lines, fields) {
		p := Process{
			PID:  intOr(row["pid"], -1),
			PPID: intOr(row["ppid"], -1),
			User: row["user"] + row["ruser"],
		}
		p.Cmdline = row[fields[len(fields)-1]]
		if states != nil {
			p.State = stateName(states, row["state"])
			p.RSS = intOr(row["rss"], -1)
			p.VSZ = intOr(row["vsz"], -1)
			p.Elapsed = ParseProcessTime(row["etime"])
			p.CPUTime = ParseProcessTime(row["cputime"])
		}
		procs = append(procs, p)
	}
	return procs, nil
}

// Pidof returns the pids of processes whose command line matches re
func (o *Ops) Pidof(re *regexp.Regexp) ([]int, error) {
	procs, err := o.Ps()
	if err != nil {
		return nil, err
	}
	var pids []int
	for _, p := range procs {
		if re.MatchString(p.Cmdline) {
			pids = append(pids, p.PID)
		}
	}
	return pids, nil
}

// Kill sends signal to pids
func (o *Ops) Kill(signal int, pids ...int) error {
	if len(pids) == 0 {
		return nil
	}
	ids := make([]string, 0, len(pids))
	for _, p := range pids {
		ids = append(ids, strconv.Itoa(p))
	}
	_, err := o.r.Execute(fmt.Sprintf("kill -%d %s", signal, strings.Join(ids, " ")))
	return err
}

// FsFreeSpace returns the free space under path in megabytes
func (o *Ops) FsFreeSpace(path string) (float64, bool, error) {
	osid, err := o.OSID()
	if err != nil {
		return 0, false, err
	}
	if osid != Linux && osid != AIX && osid != Darwin {
		return 0, false, ErrUnsupportedOS
	}
	lines, lErr := o.ExecuteAndTrimSplit("df -Pm " + Quote(path))
	if lErr != nil || len(lines) < 2 {
		return 0, false, lErr
	}
	fields := strings.Fields(lines[1])
	if len(fields) < 4 {
		return 0, false, nil
	}
	free, pErr := strconv.ParseFloat(fields[3], 64)
	if pErr != nil {
		return 0, false, fmt.Errorf("unexpected df output %q", lines[1])
	}
	return free, true, nil
}

// FileRights returns the permission string, e.g. drwxr-xr-x
func (o *Ops) FileRights(path string) (string, bool, error) {
	osid, err := o.OSID()
	if err != nil {
		return "", false, err
	}
	var out string
	switch osid {
	case Linux:
		out, err = o.ExecuteAndTrim(fmt.Sprintf("test -e %[1]s && stat --format '%%A' %[1]s", Quote(path)))
	case AIX, Darwin:
		out, err = o.ExecuteAndTrim(fmt.Sprintf("test -e %[1]s && ls -lad %[1]s", Quote(path)))
		if f := strings.Fields(out); len(f) > 0 {
			out = f[0]
		}
	default:
		return "", false, ErrUnsupportedOS
	}
	return out, out != "", err
}

func (o *Ops) Rm(files ...string) error {
	if len(files) == 0 {
		return nil
	}
	_, err := o.r.Execute("rm -f " + quoteAll(files))
	return err
}

func (o *Ops) Rmdir(dirs ...string) (bool, error) {
	return o.succeeds("rmdir " + quoteAll(dirs))
}

// Mkdir creates dir and its parents
func (o *Ops) Mkdir(dir string) (bool, error) {
	return o.succeeds("mkdir -p " + Quote(dir))
}

// Mkcd creates dir and makes it the working directory of a shell conversation
func (o *Ops) Mkcd(dir string) (bool, error) {
	return o.succeeds(fmt.Sprintf("mkdir -p %[1]s && cd %[1]s", Quote(dir)))
}

func (o *Ops) Touch(files ...string) error {
	_, err := o.r.Execute("touch " + quoteAll(files))
	return err
}

// LocalMd5sum hashes a local file the way Md5sum reports remote ones
func LocalMd5sum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := md5.New() //nolint:gosec
	if _, cErr := io.Copy(h, f); cErr != nil {
		return "", cErr
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
