package health

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// ProcfsProcesses lists processes by command name
type ProcfsProcesses struct {
	fs procfs.FS
}

var _ ProcessLister = (*ProcfsProcesses)(nil)

// NewProcfsProcesses opens procfs at its default mount point
func NewProcfsProcesses() (*ProcfsProcesses, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs: %w", err)
	}
	return &ProcfsProcesses{fs: fs}, nil
}

// Running counts live processes per command name. Processes that exit while
// being read are ignored.
func (p *ProcfsProcesses) Running() (map[string]int, error) {
	procs, err := p.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	out := make(map[string]int, len(procs))
	for _, proc := range procs {
		comm, err := proc.Comm()
		if err != nil {
			continue
		}
		out[comm]++
	}
	return out, nil
}
