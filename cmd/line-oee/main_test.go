package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/line-oee/internal/config"
	"github.com/sweeney/line-oee/internal/engine"
	"github.com/sweeney/line-oee/internal/gpio"
	"github.com/sweeney/line-oee/internal/logic"
	"github.com/sweeney/line-oee/internal/mqtt"
	"github.com/sweeney/line-oee/internal/status"
	"github.com/sweeney/line-oee/internal/store"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		assert.Equal(t, canonical, got)
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "Factory")

	info := readNetworkInfo()
	require.NotNil(t, info)
	assert.Equal(t, status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "Factory",
	}, *info)
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	assert.Nil(t, readNetworkInfo())
}

func TestReadNetworkInfoPartial(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "")

	info := readNetworkInfo()
	require.NotNil(t, info)
	assert.Equal(t, "connected", info.Status)
	assert.Empty(t, info.IP)
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := loadConfig(options{
		broker:   "tcp://broker:1883",
		httpAddr: "off",
		database: "postgres://oee@db/oee",
		natsURL:  "nats://bus:4222",
		logLevel: "debug",
	})
	require.NoError(t, err)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Empty(t, cfg.HTTPAddr)
	assert.Equal(t, "postgres://oee@db/oee", cfg.Database.URL)
	assert.Equal(t, "nats://bus:4222", cfg.NATS.URL)
	assert.Equal(t, "debug", cfg.Logging.Level)

	cfg, err = loadConfig(options{httpAddr: ":9090"})
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, config.Default().MQTT.Broker, cfg.MQTT.Broker)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(options{configPath: "/nonexistent/line-oee.yaml"})
	assert.Error(t, err)
}

func TestStatusConfig(t *testing.T) {
	cfg := config.Default()
	sc := statusConfig(cfg, "memory")
	assert.Equal(t, "AIOT_001", sc.NodeID)
	assert.Equal(t, "memory", sc.Database)
	assert.EqualValues(t, 30000, sc.LiveIntervalMs)
	assert.Empty(t, sc.CounterMachine, "counter disabled")

	cfg.Counter.Machine = "M1"
	sc = statusConfig(cfg, "postgres")
	assert.Equal(t, "M1", sc.CounterMachine)
	assert.Equal(t, gpio.DefaultPin, sc.CounterPin)
}

func TestOpenStoreMemory(t *testing.T) {
	st, kind, err := openStore(context.Background(), config.Default(), zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()
	assert.Equal(t, "memory", kind)
	assert.IsType(t, &store.Memory{}, st)
}

// --- runLoop tests ---

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Only runLoop's goroutine calls it.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

type fakeCycler struct {
	mu        sync.Mutex
	live      int
	shift     int
	liveError error
}

func (f *fakeCycler) RunLiveCycle(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live++
	return f.liveError
}

func (f *fakeCycler) RunShiftCycle(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shift++
	return nil
}

type tickRecorder struct {
	mu    sync.Mutex
	ticks []logic.CounterTick
}

func (r *tickRecorder) HandleCounterTick(_ context.Context, ev logic.CounterTick) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, ev)
	return nil
}

// loopHarness runs runLoop on its own goroutine, driven by unbuffered channels.
type loopHarness struct {
	live, shift, heartbeat, poll chan time.Time
	sig                          chan os.Signal
	errCh                        chan error
}

func startLoop(t *testing.T, d loopDeps) *loopHarness {
	t.Helper()
	h := &loopHarness{
		live:      make(chan time.Time),
		shift:     make(chan time.Time),
		heartbeat: make(chan time.Time),
		poll:      make(chan time.Time),
		sig:       make(chan os.Signal),
		errCh:     make(chan error, 1),
	}
	if d.now == nil {
		d.now = fakeClock(time.Date(2026, 3, 7, 7, 0, 0, 0, time.UTC), 100*time.Millisecond)
	}
	d.log = zerolog.Nop()
	go func() {
		h.errCh <- runLoop(context.Background(), d, loopChannels{
			live:      h.live,
			shift:     h.shift,
			heartbeat: h.heartbeat,
			poll:      h.poll,
			sig:       h.sig,
		})
	}()
	return h
}

func (h *loopHarness) stop(t *testing.T, s os.Signal) {
	t.Helper()
	h.sig <- s
	select {
	case err := <-h.errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runLoop did not return")
	}
}

func decodeStatus(t *testing.T, payload []byte) status.StatusInner {
	t.Helper()
	var env status.StatusJSON
	require.NoError(t, json.Unmarshal(payload, &env))
	return env.Status
}

func TestRunLoopShutdown(t *testing.T) {
	tests := []struct {
		signal os.Signal
		reason string
	}{
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGINT, "SIGINT"},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			pub := mqtt.NewFakePublisher()
			pub.Connected = true
			tracker := status.NewTracker(time.Now(), status.Config{NodeID: "AIOT_001"})

			h := startLoop(t, loopDeps{cycles: &fakeCycler{}, publisher: pub, mqttStatus: pub, tracker: tracker})
			h.stop(t, tt.signal)

			require.Len(t, pub.SystemEvents, 1)
			ev := pub.SystemEvents[0]
			assert.Equal(t, "SHUTDOWN", ev.Event)
			assert.Equal(t, tt.reason, ev.Reason)
			assert.True(t, ev.Retained)

			st := decodeStatus(t, pub.SystemPayloads[0])
			assert.Equal(t, "SHUTDOWN", st.Event)
			assert.Equal(t, tt.reason, st.Reason)
			assert.Equal(t, "AIOT_001", st.NodeID)
			assert.True(t, st.MQTT.Connected)
		})
	}
}

func TestRunLoopShutdownWithoutTracker(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	h := startLoop(t, loopDeps{cycles: &fakeCycler{}, publisher: pub})
	h.stop(t, syscall.SIGTERM)

	require.Len(t, pub.SystemEvents, 1)
	assert.Nil(t, pub.SystemEvents[0].RawPayload)
}

func TestRunLoopShutdownPublishError(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.PublishSystemError = errors.New("broker unavailable")
	h := startLoop(t, loopDeps{cycles: &fakeCycler{}, publisher: pub})
	h.stop(t, syscall.SIGTERM)
	assert.Empty(t, pub.SystemEvents)
}

func TestRunLoopCycles(t *testing.T) {
	cycles := &fakeCycler{liveError: errors.New("store down")}
	pub := mqtt.NewFakePublisher()
	h := startLoop(t, loopDeps{cycles: cycles, publisher: pub})

	h.live <- time.Time{}
	h.live <- time.Time{}
	h.shift <- time.Time{}
	h.stop(t, syscall.SIGTERM)

	assert.Equal(t, 2, cycles.live, "errors do not stop the loop")
	assert.Equal(t, 1, cycles.shift)
}

func TestRunLoopHeartbeat(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "10.0.0.5")

	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	tracker := status.NewTracker(time.Now().Add(-time.Hour), status.Config{NodeID: "AIOT_001"})
	tracker.RecordProduction(logic.ProductionRecord{ID: "P1-07-03-2026-M1-1", MachineCode: "M1", ProductCode: "P1"})

	h := startLoop(t, loopDeps{cycles: &fakeCycler{}, publisher: pub, mqttStatus: pub, tracker: tracker})
	h.heartbeat <- time.Time{}
	h.stop(t, syscall.SIGTERM)

	require.Len(t, pub.SystemEvents, 2)
	hb := pub.SystemEvents[0]
	assert.Equal(t, "HEARTBEAT", hb.Event)
	assert.False(t, hb.Retained)

	st := decodeStatus(t, pub.SystemPayloads[0])
	assert.Equal(t, "HEARTBEAT", st.Event)
	assert.GreaterOrEqual(t, st.UptimeSeconds, int64(3600))
	assert.True(t, st.MQTT.Connected)
	require.Len(t, st.Machines, 1)
	assert.Equal(t, "M1", st.Machines[0].Machine)
	require.NotNil(t, st.Network)
	assert.Equal(t, "10.0.0.5", st.Network.IP)

	assert.Equal(t, "SHUTDOWN", pub.SystemEvents[1].Event)
}

func TestRunLoopCounterPoll(t *testing.T) {
	// 100ms clock steps, 200ms debounce: baseline low, then one pulse.
	samples := []bool{false, false, false, false, true, true, true, true}
	handler := &tickRecorder{}
	counter := gpio.NewCounter(gpio.NewFakeReader(samples...), "M1", 200*time.Millisecond,
		submitTick(context.Background(), mqtt.Inline{}, handler, zerolog.Nop()), zerolog.Nop())
	tracker := status.NewTracker(time.Now(), status.Config{})
	pub := mqtt.NewFakePublisher()

	h := startLoop(t, loopDeps{cycles: &fakeCycler{}, publisher: pub, tracker: tracker, counter: counter})
	for range samples {
		h.poll <- time.Time{}
	}
	h.stop(t, syscall.SIGTERM)

	require.Len(t, handler.ticks, 1)
	assert.Equal(t, logic.CounterTick{MachineCode: "M1", ShootCountNumber: 1}, handler.ticks[0])

	snap := tracker.Snapshot()
	require.NotNil(t, snap.Counter)
	assert.Equal(t, "M1", snap.Counter.Machine)
	assert.EqualValues(t, 1, snap.Counter.Pulses)
	assert.True(t, snap.Counter.Ready)
	assert.Equal(t, "HIGH", snap.Counter.Level)
	assert.False(t, snap.Counter.LastPulse.IsZero())
}

func TestRunLoopCounterReadError(t *testing.T) {
	reader := gpio.NewFakeReader(false)
	reader.ReadError = errors.New("line gone")
	counter := gpio.NewCounter(reader, "M1", time.Millisecond, func(logic.CounterTick) {
		t.Error("no tick expected")
	}, zerolog.Nop())
	tracker := status.NewTracker(time.Now(), status.Config{})
	pub := mqtt.NewFakePublisher()

	h := startLoop(t, loopDeps{cycles: &fakeCycler{}, publisher: pub, tracker: tracker, counter: counter})
	h.poll <- time.Time{}
	h.poll <- time.Time{}
	h.stop(t, syscall.SIGTERM)

	assert.Nil(t, tracker.Snapshot().Counter, "failed reads leave the counter state untouched")
	require.Len(t, pub.SystemEvents, 1)
}

func TestRunLoopPollWithoutCounter(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	h := startLoop(t, loopDeps{cycles: &fakeCycler{}, publisher: pub})
	h.poll <- time.Time{}
	h.stop(t, syscall.SIGTERM)
	require.Len(t, pub.SystemEvents, 1)
}

func TestSubmitTickOnClosedQueue(t *testing.T) {
	q := engine.NewQueue(1, zerolog.Nop())
	q.Close()

	handler := &tickRecorder{}
	submitTick(context.Background(), q, handler, zerolog.Nop())(logic.CounterTick{MachineCode: "M1"})
	assert.Empty(t, handler.ticks)
}

func TestSubmitTickOrderedPerMachine(t *testing.T) {
	q := engine.NewQueue(8, zerolog.Nop())
	handler := &tickRecorder{}
	emit := submitTick(context.Background(), q, handler, zerolog.Nop())
	for i := int64(1); i <= 20; i++ {
		emit(logic.CounterTick{MachineCode: "M1", ShootCountNumber: i})
	}
	q.Close()

	require.Len(t, handler.ticks, 20)
	for i, tick := range handler.ticks {
		assert.EqualValues(t, i+1, tick.ShootCountNumber)
	}
}
