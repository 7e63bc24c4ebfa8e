package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/williamhogman/sparkmesh/internal/types"
)

const (
	sshTimeout      = 10 * time.Second
	gpuTimeout      = 30 * time.Second
	listenerTimeout = 15 * time.Second
	teardownTimeout = 10 * time.Second
)

func (v *Validator) testSSH(ctx context.Context, node types.Node, res *types.ValidationTestResult) {
	out, err := v.exec.Run(ctx, node, "hostname && uptime", sshTimeout)
	if err != nil {
		res.Error = err.Error()
		return
	}
	if err := out.Err(); err != nil {
		res.Error = err.Error()
		return
	}
	res.Success = true
	res.Metrics.Output = strings.TrimSpace(out.Stdout)
}

func (v *Validator) testPing(ctx context.Context, node, peer types.Node, opts Options, res *types.ValidationTestResult) {
	cmd := fmt.Sprintf("ping -c %d -i 0.2 -W 2 %s", opts.PingCount, peer.Address())
	timeout := time.Duration(opts.PingCount)*time.Second + sshTimeout

	out, err := v.exec.Run(ctx, node, cmd, timeout)
	if err != nil {
		res.Error = err.Error()
		return
	}

	// ping exits non-zero on partial loss, so parse regardless of status
	stats, err := ParsePing(out.Stdout)
	if err != nil {
		res.Error = fmt.Sprintf("%v (exit %d)", err, out.ExitCode)
		return
	}
	res.Metrics.LatencyMinMs = stats.MinMs
	res.Metrics.LatencyAvgMs = stats.AvgMs
	res.Metrics.LatencyMaxMs = stats.MaxMs
	res.Metrics.PacketLossPct = stats.LossPct()

	if stats.Received*2 < stats.Transmitted {
		res.Error = fmt.Sprintf("only %d of %d echo replies received", stats.Received, stats.Transmitted)
		return
	}
	res.Success = true
}

func (v *Validator) testBandwidth(ctx context.Context, node, peer types.Node, opts Options, res *types.ValidationTestResult) {
	unlock, err := v.locks.Lock(ctx, LinkKey(node.Hostname, peer.Hostname))
	if err != nil {
		res.Error = fmt.Sprintf("failed to acquire link lock: %v", err)
		return
	}
	defer unlock()

	listener := fmt.Sprintf("iperf3 -s -1 -D -p %d && sleep 1", opts.BandwidthPort)
	defer v.stopListener(ctx, peer, opts.BandwidthPort)

	out, err := v.exec.Run(ctx, peer, listener, listenerTimeout)
	if err == nil {
		err = out.Err()
	}
	if err != nil {
		res.Error = fmt.Sprintf("failed to start iperf3 listener on %s: %v", peer.Hostname, err)
		return
	}

	secs := int(opts.BandwidthDuration.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	client := fmt.Sprintf("iperf3 -c %s -p %d -t %d -J", peer.Address(), opts.BandwidthPort, secs)
	out, err = v.exec.Run(ctx, node, client, opts.BandwidthDuration+listenerTimeout)
	if err != nil {
		res.Error = err.Error()
		return
	}

	stats, err := ParseIperf([]byte(out.Stdout))
	if err != nil {
		res.Error = fmt.Sprintf("%v (exit %d)", err, out.ExitCode)
		return
	}
	res.Metrics.BandwidthGbps = stats.Gbps
	res.Metrics.Retransmits = stats.Retransmits
	if stats.Gbps <= 0 {
		res.Error = "measured zero throughput"
		return
	}
	res.Success = true
}

// stopListener kills the one-shot listener even when ctx is already done
func (v *Validator) stopListener(ctx context.Context, peer types.Node, port int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	// the bracket keeps pkill from matching the shell running this command
	cmd := fmt.Sprintf("pkill -f '[i]perf3 -s -1 -D -p %d' || true", port)
	if _, err := v.exec.Run(ctx, peer, cmd, teardownTimeout); err != nil {
		v.logger.Warn("failed to stop iperf3 listener", peer.ZapField(), zap.Error(err))
	}
}

func (v *Validator) testGPU(ctx context.Context, node types.Node, opts Options, res *types.ValidationTestResult) {
	out, err := v.exec.Run(ctx, node, "nvidia-smi --query-gpu=name --format=csv,noheader", gpuTimeout)
	if err != nil {
		res.Error = err.Error()
		return
	}

	count := 0
	if out.OK() {
		count = countLines(out.Stdout)
	}
	res.Metrics.GPUCount = count

	if count == 0 {
		if opts.ExpectGPU {
			res.Error = "no GPUs detected"
			return
		}
		res.Skipped = true
		return
	}

	topo, err := v.exec.Run(ctx, node, "nvidia-smi topo -m", gpuTimeout)
	if err == nil && topo.OK() {
		res.Metrics.Topology = strings.TrimRight(topo.Stdout, "\n")
	}
	res.Success = true
}

func countLines(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

// PingStats is the summary block of ping output
type PingStats struct {
	Transmitted int
	Received    int
	MinMs       float64
	AvgMs       float64
	MaxMs       float64
}

// LossPct returns the packet loss percentage
func (s PingStats) LossPct() float64 {
	if s.Transmitted == 0 {
		return 100
	}
	return 100 * float64(s.Transmitted-s.Received) / float64(s.Transmitted)
}

var (
	pingCountRe = regexp.MustCompile(`(\d+) packets transmitted, (\d+) (?:packets )?received`)
	pingRTTRe   = regexp.MustCompile(`= ([\d.]+)/([\d.]+)/([\d.]+)`)
)

// ErrNoPingSummary is returned when ping output has no statistics block
var ErrNoPingSummary = errors.New("no ping summary in output")

// ParsePing extracts counts and round-trip times from iputils or BSD ping
func ParsePing(output string) (PingStats, error) {
	var stats PingStats

	m := pingCountRe.FindStringSubmatch(output)
	if m == nil {
		return stats, ErrNoPingSummary
	}
	stats.Transmitted, _ = strconv.Atoi(m[1])
	stats.Received, _ = strconv.Atoi(m[2])

	if rtt := pingRTTRe.FindStringSubmatch(output); rtt != nil {
		stats.MinMs, _ = strconv.ParseFloat(rtt[1], 64)
		stats.AvgMs, _ = strconv.ParseFloat(rtt[2], 64)
		stats.MaxMs, _ = strconv.ParseFloat(rtt[3], 64)
	}
	return stats, nil
}

// IperfStats is the end-of-test summary from iperf3 -J
type IperfStats struct {
	Gbps        float64
	Retransmits int
}

type iperfReport struct {
	Error string `json:"error"`
	End   struct {
		SumSent struct {
			BitsPerSecond float64 `json:"bits_per_second"`
			Retransmits   int     `json:"retransmits"`
		} `json:"sum_sent"`
		SumReceived struct {
			BitsPerSecond float64 `json:"bits_per_second"`
		} `json:"sum_received"`
	} `json:"end"`
}

// ParseIperf reads receiver throughput from iperf3 JSON output
func ParseIperf(data []byte) (IperfStats, error) {
	var report iperfReport
	if err := json.Unmarshal(data, &report); err != nil {
		return IperfStats{}, fmt.Errorf("failed to parse iperf3 output: %w", err)
	}
	if report.Error != "" {
		return IperfStats{}, fmt.Errorf("iperf3: %s", report.Error)
	}
	return IperfStats{
		Gbps:        report.End.SumReceived.BitsPerSecond / 1e9,
		Retransmits: report.End.SumSent.Retransmits,
	}, nil
}
