package health

import (
	"fmt"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"go.uber.org/zap"

	"github.com/williamhogman/sparkmesh/internal/types"
)

// NVMLSource queries GPUs through the NVIDIA management library. Hosts
// without the library report no GPU instead of an error.
type NVMLSource struct {
	logger *zap.Logger
	// NVML init/shutdown is process-global
	mu sync.Mutex
}

var _ GPUSource = (*NVMLSource)(nil)

// NewNVMLSource creates a GPU source backed by NVML
func NewNVMLSource(logger *zap.Logger) *NVMLSource {
	return &NVMLSource{logger: logger.Named("nvml")}
}

// Query returns the device inventory, or nil when NVML cannot be loaded
func (s *NVMLSource) Query() (info *types.GPUInfo, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The bindings panic when libnvidia-ml cannot be dlopen'd on some builds
	defer func() {
		if r := recover(); r != nil {
			s.logger.Debug("nvml unavailable", zap.Any("panic", r))
			info, err = nil, nil
		}
	}()

	ret := nvml.Init()
	if ret != nvml.SUCCESS {
		s.logger.Debug("nvml init failed", zap.String("error", nvml.ErrorString(ret)))
		return nil, nil
	}
	defer func() {
		if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
			s.logger.Warn("failed to shutdown NVML", zap.String("error", nvml.ErrorString(ret)))
		}
	}()

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("failed to get device count: %v", nvml.ErrorString(ret))
	}

	info = &types.GPUInfo{Available: count > 0, Count: count}
	if driver, ret := nvml.SystemGetDriverVersion(); ret == nvml.SUCCESS {
		info.DriverVersion = driver
	}

	for i := 0; i < count; i++ {
		device, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("failed to get device handle for GPU %d: %v", i, nvml.ErrorString(ret))
		}
		info.Devices = append(info.Devices, describeDevice(i, device))
	}
	return info, nil
}

// describeDevice collects best-effort details; unsupported queries leave
// the field zero.
func describeDevice(index int, device nvml.Device) types.GPUDevice {
	d := types.GPUDevice{Index: index}
	if name, ret := device.GetName(); ret == nvml.SUCCESS {
		d.Name = name
	}
	if uuid, ret := device.GetUUID(); ret == nvml.SUCCESS {
		d.UUID = uuid
	}
	if mem, ret := device.GetMemoryInfo(); ret == nvml.SUCCESS {
		d.MemoryUsedMiB = mem.Used / (1 << 20)
		d.MemoryTotalMiB = mem.Total / (1 << 20)
	}
	if util, ret := device.GetUtilizationRates(); ret == nvml.SUCCESS {
		d.Utilization = util.Gpu
	}
	if temp, ret := device.GetTemperature(nvml.TEMPERATURE_GPU); ret == nvml.SUCCESS {
		d.TemperatureC = temp
	}
	if power, ret := device.GetPowerUsage(); ret == nvml.SUCCESS {
		d.PowerWatts = float64(power) / 1000
	}
	return d
}
