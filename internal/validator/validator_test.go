package validator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/williamhogman/sparkmesh/internal/remote"
	"github.com/williamhogman/sparkmesh/internal/types"
)

const pingOutput = `PING 10.0.0.2 (10.0.0.2) 56(84) bytes of data.
64 bytes from 10.0.0.2: icmp_seq=1 ttl=64 time=0.211 ms

--- 10.0.0.2 ping statistics ---
5 packets transmitted, 5 received, 0% packet loss, time 812ms
rtt min/avg/max/mdev = 0.180/0.205/0.240/0.020 ms
`

const iperfOutput = `{
  "start": {},
  "end": {
    "sum_sent": {"bits_per_second": 96000000000, "retransmits": 3},
    "sum_received": {"bits_per_second": 94500000000}
  }
}`

var (
	nodeA = types.Node{Hostname: "spark-01", IP: "10.0.0.1", User: "nvidia"}
	nodeB = types.Node{Hostname: "spark-02", IP: "10.0.0.2", User: "nvidia"}
)

func healthyFake() *remote.Fake {
	return remote.NewFake().
		On("", "hostname && uptime", remote.Respond("spark\n up 3 days\n", 0)).
		On("", "ping -c", remote.Respond(pingOutput, 0)).
		On("", "iperf3 -c", remote.Respond(iperfOutput, 0)).
		On("", "nvidia-smi --query-gpu", remote.Respond("NVIDIA GB10\n", 0)).
		On("", "nvidia-smi topo", remote.Respond("GPU0 X\n", 0))
}

func newTestValidator(t *testing.T, exec remote.Executor) *Validator {
	return New(exec, NewMemoryLocks(), nil, zaptest.NewLogger(t))
}

func TestValidate_AllPass(t *testing.T) {
	v := newTestValidator(t, healthyFake())

	results := v.Validate(context.Background(), []types.Node{nodeA, nodeB}, Options{ExpectGPU: true})

	// ssh x2, ping x1, bandwidth x1, gpu x2
	require.Len(t, results, 6)
	assert.True(t, AllPassed(results))

	assert.Equal(t, types.TestSSH, results[0].Kind)
	assert.Equal(t, "spark-01", results[0].Node)
	assert.Equal(t, types.TestPing, results[2].Kind)
	assert.Equal(t, "spark-02", results[2].Peer)
	assert.InDelta(t, 0.205, results[2].Metrics.LatencyAvgMs, 1e-9)
	assert.Equal(t, types.TestBandwidth, results[3].Kind)
	assert.InDelta(t, 94.5, results[3].Metrics.BandwidthGbps, 1e-9)
	assert.Equal(t, 3, results[3].Metrics.Retransmits)
	assert.Equal(t, 1, results[4].Metrics.GPUCount)
	assert.Equal(t, "GPU0 X", results[4].Metrics.Topology)
}

func TestValidate_SSHFailureDoesNotBlockPing(t *testing.T) {
	fake := healthyFake().On("spark-02", "hostname && uptime", remote.Fail(remote.KindUnreachable))
	v := newTestValidator(t, fake)

	results := v.Validate(context.Background(), []types.Node{nodeA, nodeB},
		Options{Tests: []types.TestKind{types.TestSSH, types.TestPing}})

	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.True(t, results[1].Failed())
	assert.Contains(t, results[1].Error, "unreachable")
	assert.Equal(t, types.TestPing, results[2].Kind)
	assert.True(t, results[2].Success)
	assert.Equal(t, 1, fake.CountMatching("ping -c 5"))
}

func TestValidate_GPUSkippedWhenNotExpected(t *testing.T) {
	fake := healthyFake().On("", "nvidia-smi --query-gpu", remote.Respond("", 127))
	v := newTestValidator(t, fake)

	results := v.Validate(context.Background(), []types.Node{nodeA}, Options{Tests: []types.TestKind{types.TestGPU}})
	require.Len(t, results, 1)
	assert.True(t, results[0].Skipped)
	assert.True(t, AllPassed(results))

	results = v.Validate(context.Background(), []types.Node{nodeA},
		Options{Tests: []types.TestKind{types.TestGPU}, ExpectGPU: true})
	require.Len(t, results, 1)
	assert.True(t, results[0].Failed())
	assert.Equal(t, "no GPUs detected", results[0].Error)
}

func TestValidate_PingLoss(t *testing.T) {
	lossy := "5 packets transmitted, 1 received, 80% packet loss, time 4000ms\n"
	fake := healthyFake().On("", "ping -c", remote.Respond(lossy, 1))
	v := newTestValidator(t, fake)

	results := v.Validate(context.Background(), []types.Node{nodeA, nodeB}, Options{Tests: []types.TestKind{types.TestPing}})
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, 80.0, results[0].Metrics.PacketLossPct)
}

func TestValidate_BandwidthListenerAlwaysTornDown(t *testing.T) {
	fake := healthyFake().On("", "iperf3 -c", remote.Fail(remote.KindTimeout))
	v := newTestValidator(t, fake)

	results := v.Validate(context.Background(), []types.Node{nodeA, nodeB}, Options{Tests: []types.TestKind{types.TestBandwidth}})
	require.Len(t, results, 1)
	assert.True(t, results[0].Failed())

	killed := 0
	for _, c := range fake.CallsTo("spark-02") {
		if c.Command == "pkill -f '[i]perf3 -s -1 -D -p 5201' || true" {
			killed++
		}
	}
	assert.Equal(t, 1, killed)
}

func TestValidate_BandwidthTeardownAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := healthyFake().On("", "iperf3 -c", func(c context.Context, n types.Node, cmd string) (remote.Result, error) {
		cancel()
		return remote.Result{}, &remote.RemoteError{Kind: remote.KindTimeout, Host: n.Hostname}
	})
	v := newTestValidator(t, fake)

	v.Validate(ctx, []types.Node{nodeA, nodeB}, Options{Tests: []types.TestKind{types.TestBandwidth}})
	assert.Equal(t, 1, fake.CountMatching("pkill -f '[i]perf3"))
}

func TestValidate_BandwidthSerializedPerLink(t *testing.T) {
	var inFlight, maxInFlight int32
	fake := healthyFake().On("", "iperf3 -c", func(ctx context.Context, n types.Node, cmd string) (remote.Result, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxInFlight)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return remote.Result{Stdout: iperfOutput}, nil
	})
	locks := NewMemoryLocks()
	v := New(fake, locks, nil, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v.Validate(context.Background(), []types.Node{nodeA, nodeB}, Options{Tests: []types.TestKind{types.TestBandwidth}})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
}

func TestParsePing_BSD(t *testing.T) {
	out := "5 packets transmitted, 4 packets received, 20.0% packet loss\nround-trip min/avg/max/stddev = 1.1/2.2/3.3/0.4 ms\n"
	stats, err := ParsePing(out)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Transmitted)
	assert.Equal(t, 4, stats.Received)
	assert.Equal(t, 3.3, stats.MaxMs)
	assert.Equal(t, 20.0, stats.LossPct())

	_, err = ParsePing("ping: unknown host")
	assert.ErrorIs(t, err, ErrNoPingSummary)
}

func TestParseIperf_Error(t *testing.T) {
	_, err := ParseIperf([]byte(`{"error": "unable to connect to server"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to connect")

	_, err = ParseIperf([]byte("not json"))
	assert.Error(t, err)
}

func TestLinkKeyIsSymmetric(t *testing.T) {
	assert.Equal(t, LinkKey("a", "b"), LinkKey("b", "a"))
}

func TestMemoryLocks_ContextCancel(t *testing.T) {
	locks := NewMemoryLocks()
	unlock, err := locks.Lock(context.Background(), "a|b")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, "a|b")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	unlock2, err := locks.Lock(context.Background(), "a|b")
	require.NoError(t, err)
	unlock2()
}

func setupRedisLocks(t *testing.T) (*RedisLocks, *miniredis.Miniredis) {
	s, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	locks, err := NewRedisLocks(client, time.Minute)
	require.NoError(t, err)
	locks.poll = 5 * time.Millisecond

	t.Cleanup(func() {
		client.Close()
		s.Close()
	})
	return locks, s
}

func TestRedisLocks_AcquireRelease(t *testing.T) {
	locks, s := setupRedisLocks(t)
	ctx := context.Background()

	unlock, err := locks.Lock(ctx, "a|b")
	require.NoError(t, err)
	assert.True(t, s.Exists(locks.formKey("a|b")))

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(waitCtx, "a|b")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.False(t, s.Exists(locks.formKey("a|b")))

	unlock2, err := locks.Lock(ctx, "a|b")
	require.NoError(t, err)
	unlock2()
}

func TestRedisLocks_StaleHolderDoesNotReleaseNewLock(t *testing.T) {
	locks, s := setupRedisLocks(t)
	ctx := context.Background()

	unlock, err := locks.Lock(ctx, "a|b")
	require.NoError(t, err)

	// Simulate expiry and a new holder
	s.Del(locks.formKey("a|b"))
	_, err = locks.Lock(ctx, "a|b")
	require.NoError(t, err)

	unlock()
	assert.True(t, s.Exists(locks.formKey("a|b")))
}

func TestSummarize(t *testing.T) {
	results := []types.ValidationTestResult{
		{Kind: types.TestSSH, Node: "a", Success: true},
		{Kind: types.TestSSH, Node: "b"},
		{Kind: types.TestPing, Node: "a", Peer: "b", Success: true, Metrics: types.TestMetrics{LatencyAvgMs: 0.4}},
		{Kind: types.TestBandwidth, Node: "a", Peer: "b", Success: true, Metrics: types.TestMetrics{BandwidthGbps: 90}},
		{Kind: types.TestGPU, Node: "a", Skipped: true},
	}

	s := Summarize(results)
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 3, s.Passed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 1, s.ReachableNodes)
	assert.Equal(t, 0.4, s.AvgLatencyMs)
	assert.Equal(t, 90.0, s.AvgBandwidthGbps)
}
