package sshtest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type file struct {
	data []byte
	mode os.FileMode
}

// Files is the file system seen by the scp sink and source
type Files struct {
	mu    sync.Mutex
	files map[string]file
}

func NewFiles() *Files {
	return &Files{files: map[string]file{}}
}

func (f *Files) Put(name string, data []byte, mode os.FileMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path.Clean(name)] = file{data: append([]byte{}, data...), mode: mode}
}

func (f *Files) Get(name string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.files[path.Clean(name)]
	return e.data, ok
}

func (f *Files) Mode(name string) os.FileMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[path.Clean(name)].mode
}

// Match returns the sorted names matching the glob mask
func (f *Files) Match(mask string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.files {
		if ok, _ := path.Match(path.Clean(mask), name); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ScpSink is the remote end of scp -t dir. It returns the exit status.
func ScpSink(files *Files, dir string, in io.Reader, out io.Writer) int {
	r := bufio.NewReader(in)
	ack := func() { _, _ = out.Write([]byte{0}) }
	ack()
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0
		}
		line, err := r.ReadString('\n')
		if err != nil {
			return 1
		}
		switch b {
		case 'C':
		case 'D', 'E', 'T':
			ack()
			continue
		default:
			_, _ = fmt.Fprintf(out, "\x02scp: unexpected control %q\n", b)
			return 1
		}
		fields := strings.SplitN(strings.TrimSuffix(line, "\n"), " ", 3)
		if len(fields) != 3 {
			_, _ = fmt.Fprintf(out, "\x02scp: protocol error: bad control line\n")
			return 1
		}
		mode, _ := strconv.ParseUint(fields[0], 8, 32)
		size, sErr := strconv.ParseInt(fields[1], 10, 64)
		if sErr != nil {
			_, _ = fmt.Fprintf(out, "\x02scp: protocol error: bad size\n")
			return 1
		}
		ack()
		data := make([]byte, size)
		if _, err = io.ReadFull(r, data); err != nil {
			return 1
		}
		if end, _ := r.ReadByte(); end != 0 {
			return 1
		}
		files.Put(path.Join(dir, fields[2]), data, os.FileMode(mode))
		ack()
	}
}

// ScpSource is the remote end of scp -f mask
func ScpSource(files *Files, mask string, in io.Reader, out io.Writer) int {
	r := bufio.NewReader(in)
	waitAck := func() bool {
		b, err := r.ReadByte()
		return err == nil && b == 0
	}
	if !waitAck() {
		return 1
	}
	names := files.Match(mask)
	if len(names) == 0 {
		_, _ = fmt.Fprintf(out, "\x01scp: %s: No such file or directory\n", mask)
		return 1
	}
	for _, name := range names {
		data, _ := files.Get(name)
		_, _ = fmt.Fprintf(out, "C%04o %d %s\n", files.Mode(name).Perm(), len(data), path.Base(name))
		if !waitAck() {
			return 1
		}
		_, _ = out.Write(data)
		_, _ = out.Write([]byte{0})
		if !waitAck() {
			return 1
		}
	}
	return 0
}

// ServeScp runs "scp -t dir" or "scp -f mask", 127 for any other command
func ServeScp(files *Files, cmd string, in io.Reader, out io.Writer) int {
	name, args, _ := strings.Cut(cmd, " ")
	mode, target, _ := strings.Cut(args, " ")
	if name != "scp" {
		return 127
	}
	switch mode {
	case "-t":
		return ScpSink(files, unquote(target), in, out)
	case "-f":
		return ScpSource(files, unquote(target), in, out)
	}
	return 1
}

// unquote reverses the quoting of one shell word
func unquote(s string) string {
	var b strings.Builder
	inSingle, inDouble := false, false
	s = strings.TrimSpace(s)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
		case c == '"' && !inSingle:
			inDouble = !inDouble
		case c == '\\' && !inSingle && i+1 < len(s):
			i++
			b.WriteByte(s[i])
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
