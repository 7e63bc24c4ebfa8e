package health

import (
	"fmt"
	"sort"

	"github.com/prometheus/procfs"
	"github.com/prometheus/procfs/sysfs"

	"github.com/williamhogman/sparkmesh/internal/types"
)

// InterfaceLister reports the host's network interfaces
type InterfaceLister interface {
	Interfaces() ([]types.NetInterface, error)
}

// SysfsInterfaces reads link state from /sys/class/net and byte counters
// from /proc/net/dev
type SysfsInterfaces struct {
	sys  sysfs.FS
	proc procfs.FS
}

var _ InterfaceLister = (*SysfsInterfaces)(nil)

// NewSysfsInterfaces opens sysfs and procfs at their default mount points
func NewSysfsInterfaces() (*SysfsInterfaces, error) {
	sys, err := sysfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("failed to open sysfs: %w", err)
	}
	proc, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs: %w", err)
	}
	return &SysfsInterfaces{sys: sys, proc: proc}, nil
}

// Interfaces lists every interface except loopback, sorted by name
func (s *SysfsInterfaces) Interfaces() ([]types.NetInterface, error) {
	class, err := s.sys.NetClass()
	if err != nil {
		return nil, fmt.Errorf("failed to read /sys/class/net: %w", err)
	}
	// counters are best effort
	counters, _ := s.proc.NetDev()

	out := make([]types.NetInterface, 0, len(class))
	for name, iface := range class {
		if name == "lo" {
			continue
		}
		ni := types.NetInterface{
			Name:  name,
			State: iface.OperState,
			Up:    iface.OperState == "up" || iface.OperState == "unknown",
		}
		if iface.MTU != nil {
			ni.MTU = int(*iface.MTU)
		}
		// virtual links report -1
		if iface.Speed != nil && *iface.Speed > 0 {
			ni.SpeedMbps = int(*iface.Speed)
		}
		if line, ok := counters[name]; ok {
			ni.RxBytes = line.RxBytes
			ni.TxBytes = line.TxBytes
		}
		out = append(out, ni)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// interfaceWarnings names every watched interface that is missing or down
func interfaceWarnings(interfaces []types.NetInterface, watched []string) []string {
	byName := make(map[string]types.NetInterface, len(interfaces))
	for _, ni := range interfaces {
		byName[ni.Name] = ni
	}

	var warnings []string
	for _, name := range watched {
		ni, ok := byName[name]
		switch {
		case !ok:
			warnings = append(warnings, fmt.Sprintf("interface %s not found", name))
		case !ni.Up:
			warnings = append(warnings, fmt.Sprintf("interface %s is %s", name, ni.State))
		}
	}
	return warnings
}
