// Package process inspects and force-terminates operating-system processes by
// pid. It is the only place in the module that talks to the process table.
package process

import (
	"errors"
	"runtime"
	"sort"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// ErrInvalidPID is returned for pids that can never name a process.
var ErrInvalidPID = errors.New("invalid pid")

// Info is a snapshot of one process table entry.
type Info struct {
	PID  int
	PPID int
	Name string
}

// Table lists the processes currently known to the operating system.
// Implementations must be safe for concurrent use.
type Table interface {
	List() ([]Info, error)
}

// SystemTable reads the live process table through gopsutil.
type SystemTable struct{}

// List returns every process it can inspect. Entries that vanish or deny
// access while being read are skipped.
func (SystemTable) List() ([]Info, error) {
	procs, err := gopsproc.Processes()
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(procs))
	for _, p := range procs {
		ppid, err := p.Ppid()
		if err != nil {
			continue
		}
		name, _ := p.Name()
		out = append(out, Info{PID: int(p.Pid), PPID: int(ppid), Name: name})
	}
	return out, nil
}

// Children returns the pids whose parent is pid, in ascending order.
func Children(t Table, pid int) ([]int, error) {
	if pid <= 0 {
		return nil, ErrInvalidPID
	}
	list, err := t.List()
	if err != nil {
		return nil, err
	}
	var out []int
	for _, in := range list {
		if in.PPID == pid && in.PID != pid {
			out = append(out, in.PID)
		}
	}
	sort.Ints(out)
	return out, nil
}

// Descendants returns every process below pid ordered deepest first, so that
// killing in order never leaves a grandchild whose parent is already gone.
func Descendants(t Table, pid int) ([]int, error) {
	if pid <= 0 {
		return nil, ErrInvalidPID
	}
	list, err := t.List()
	if err != nil {
		return nil, err
	}
	byParent := make(map[int][]int, len(list))
	for _, in := range list {
		if in.PID == in.PPID {
			continue
		}
		byParent[in.PPID] = append(byParent[in.PPID], in.PID)
	}

	type node struct{ pid, depth int }
	var found []node
	seen := map[int]bool{pid: true}
	queue := []node{{pid: pid}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		kids := byParent[cur.pid]
		sort.Ints(kids)
		for _, k := range kids {
			if seen[k] {
				continue
			}
			seen[k] = true
			n := node{pid: k, depth: cur.depth + 1}
			found = append(found, n)
			queue = append(queue, n)
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].depth > found[j].depth })

	out := make([]int, len(found))
	for i, n := range found {
		out[i] = n.pid
	}
	return out, nil
}

// FindByName returns processes whose executable name equals name. On Windows
// the comparison ignores case and a missing ".exe" suffix is added to name.
func FindByName(t Table, name string) ([]Info, error) {
	if name == "" {
		return nil, errors.New("empty process name")
	}
	want := ExecutableName(name)
	list, err := t.List()
	if err != nil {
		return nil, err
	}
	var out []Info
	for _, in := range list {
		if nameMatches(in.Name, want) {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

// ExecutableName returns the on-disk file name of a program called name on
// the current platform.
func ExecutableName(name string) string {
	if runtime.GOOS == "windows" && !strings.HasSuffix(strings.ToLower(name), ".exe") {
		return name + ".exe"
	}
	return name
}

func nameMatches(have, want string) bool {
	if runtime.GOOS == "windows" {
		return strings.EqualFold(have, want)
	}
	return have == want
}
