// Command line-oee tracks OEE for a packaging line: it consumes machine
// events from MQTT and publishes production records and shift summaries.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/line-oee/internal/config"
	"github.com/sweeney/line-oee/internal/engine"
	"github.com/sweeney/line-oee/internal/gpio"
	"github.com/sweeney/line-oee/internal/logger"
	"github.com/sweeney/line-oee/internal/logic"
	"github.com/sweeney/line-oee/internal/mqtt"
	"github.com/sweeney/line-oee/internal/natsbus"
	"github.com/sweeney/line-oee/internal/status"
	"github.com/sweeney/line-oee/internal/store"
	"github.com/sweeney/line-oee/internal/web"
)

// options are the command-line overrides applied on top of the config file.
type options struct {
	configPath string
	broker     string
	httpAddr   string
	database   string
	natsURL    string
	logLevel   string
	printState bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&o.broker, "broker", "", "MQTT broker address (overrides config)")
	flag.StringVar(&o.httpAddr, "http", "", `HTTP status address (overrides config, "off" disables)`)
	flag.StringVar(&o.database, "db", "", "Postgres URL (overrides config)")
	flag.StringVar(&o.natsURL, "nats", "", "NATS URL for the mirror (overrides config)")
	flag.StringVar(&o.logLevel, "log-level", "", "Log level (overrides config)")
	flag.BoolVar(&o.printState, "print-state", false, "Print the counter line level and exit")

	flag.Parse()

	cfg, err := loadConfig(o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg, o.printState); err != nil {
		log := logger.GetLogger()
		log.Fatal().Err(err).Msg("fatal")
	}
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(o options) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.broker != "" {
		cfg.MQTT.Broker = o.broker
	}
	switch o.httpAddr {
	case "":
	case "off":
		cfg.HTTPAddr = ""
	default:
		cfg.HTTPAddr = o.httpAddr
	}
	if o.database != "" {
		cfg.Database.URL = o.database
	}
	if o.natsURL != "" {
		cfg.NATS.URL = o.natsURL
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, cfg.Validate()
}

func run(cfg config.Config, printState bool) error {
	log, err := logger.Init(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Print state mode
	if printState {
		reader, err := gpio.NewRealReader(cfg.Counter.Chip, cfg.Counter.Pin, cfg.Counter.ActiveLow)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer reader.Close()
		high, err := reader.Read()
		if err != nil {
			return fmt.Errorf("read gpio: %w", err)
		}
		fmt.Printf("counter pin %d: %s\n", cfg.Counter.Pin, levelString(high))
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, dbKind, err := openStore(ctx, cfg, logger.WithComponent("store"))
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.SeedMaster(ctx, cfg.Master); err != nil {
		return fmt.Errorf("seed master data: %w", err)
	}

	// Initialize MQTT
	topics := mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix}
	publisher, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:     cfg.MQTT.Broker,
		ClientID:   cfg.MQTT.ClientID,
		Username:   cfg.MQTT.Username,
		Password:   cfg.MQTT.Password,
		Topics:     topics,
		BufferSize: cfg.MQTT.BufferSize,
		Log:        logger.WithComponent("mqtt"),
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	outputs := engine.MultiPublisher{publisher}
	if cfg.NATS.URL != "" {
		mirror, err := natsbus.Connect(natsbus.Options{
			URL:      cfg.NATS.URL,
			Name:     "line-oee " + cfg.NodeID,
			Username: cfg.NATS.Username,
			Password: cfg.NATS.Password,
			Topics:   topics,
			Log:      logger.WithComponent("nats"),
		})
		if err != nil {
			return fmt.Errorf("init nats: %w", err)
		}
		defer mirror.Close()
		outputs = append(outputs, mirror)
	}

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), statusConfig(cfg, dbKind))
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	eng := engine.New(st, outputs, engine.Config{
		NodeID:                   cfg.NodeID,
		VisionThreshold:          cfg.VisionThreshold,
		DefaultDowntimeThreshold: cfg.DefaultDowntimeThreshold,
		Location:                 loc,
	}, logger.WithComponent("engine"), engine.WithRecorder(tracker))

	queue := engine.NewQueue(cfg.QueueSize, logger.WithComponent("queue"))
	defer queue.Close()

	router := mqtt.NewRouter(ctx, eng, queue, publisher, topics, logger.WithComponent("router"))
	subscriber := mqtt.NewSubscriber(router, logger.WithComponent("mqtt"))
	publisher.OnConnect(subscriber.Resubscribe)
	if err := subscriber.Subscribe(publisher.Client()); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	var counter *gpio.Counter
	if cfg.Counter.Enabled() {
		reader, err := gpio.NewRealReader(cfg.Counter.Chip, cfg.Counter.Pin, cfg.Counter.ActiveLow)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer reader.Close()
		counter = gpio.NewCounter(reader, cfg.Counter.Machine, cfg.Counter.Debounce,
			submitTick(ctx, queue, eng, logger.WithComponent("gpio")), logger.WithComponent("gpio"))
	}

	// Publish startup event with full status snapshot
	tracker.SetMQTTConnected(publisher.IsConnected())
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Warn().Err(err).Msg("Failed to publish startup event")
	} else {
		log.Info().Msg("Published startup event")
	}

	// Start HTTP status server
	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, logger.WithComponent("web"))
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("HTTP server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP status server listening")
	}

	log.Info().
		Str("node_id", cfg.NodeID).
		Str("broker", cfg.MQTT.Broker).
		Str("store", dbKind).
		Dur("live_interval", cfg.LiveInterval).
		Dur("shift_interval", cfg.ShiftInterval).
		Dur("heartbeat", cfg.HeartbeatInterval).
		Msg("Started")

	live := time.NewTicker(cfg.LiveInterval)
	defer live.Stop()
	shift := time.NewTicker(cfg.ShiftInterval)
	defer shift.Stop()

	ch := loopChannels{live: live.C, shift: shift.C}
	if cfg.HeartbeatInterval > 0 {
		hb := time.NewTicker(cfg.HeartbeatInterval)
		defer hb.Stop()
		ch.heartbeat = hb.C
	}
	if counter != nil {
		poll := time.NewTicker(cfg.Counter.Poll)
		defer poll.Stop()
		ch.poll = poll.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	ch.sig = sigCh

	return runLoop(ctx, loopDeps{
		cycles:     eng,
		publisher:  publisher,
		mqttStatus: publisher,
		tracker:    tracker,
		counter:    counter,
		now:        time.Now,
		log:        log,
	}, ch)
}

// openStore returns Postgres when a database URL is configured and an
// in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (store.Store, string, error) {
	if cfg.Database.URL == "" {
		log.Warn().Msg("No database configured, documents are kept in memory")
		return store.NewMemory(), "memory", nil
	}
	pg, err := store.NewPostgres(ctx, cfg.Database.URL, log)
	if err != nil {
		return nil, "", fmt.Errorf("init store: %w", err)
	}
	return pg, "postgres", nil
}

func statusConfig(cfg config.Config, dbKind string) status.Config {
	sc := status.Config{
		NodeID:          cfg.NodeID,
		Broker:          cfg.MQTT.Broker,
		NATS:            cfg.NATS.URL,
		Database:        dbKind,
		HTTPAddr:        cfg.HTTPAddr,
		Timezone:        cfg.Timezone,
		LiveIntervalMs:  cfg.LiveInterval.Milliseconds(),
		ShiftIntervalMs: cfg.ShiftInterval.Milliseconds(),
		HeartbeatMs:     cfg.HeartbeatInterval.Milliseconds(),
		VisionThreshold: cfg.VisionThreshold,
	}
	if cfg.Counter.Enabled() {
		sc.CounterMachine = cfg.Counter.Machine
		sc.CounterPin = cfg.Counter.Pin
	}
	return sc
}

// tickHandler applies a counter tick. *engine.Engine satisfies it.
type tickHandler interface {
	HandleCounterTick(ctx context.Context, ev logic.CounterTick) error
}

// submitTick queues GPIO ticks on the machine's queue, behind any MQTT
// events already waiting for the same machine.
func submitTick(ctx context.Context, d mqtt.Dispatcher, h tickHandler, log zerolog.Logger) func(logic.CounterTick) {
	return func(tick logic.CounterTick) {
		err := d.Submit(tick.MachineCode, func() {
			if err := h.HandleCounterTick(ctx, tick); err != nil {
				log.Error().Err(err).Str("machine", tick.MachineCode).Msg("Counter tick failed")
			}
		})
		if err != nil {
			log.Warn().Err(err).Str("machine", tick.MachineCode).Msg("Counter tick dropped")
		}
	}
}

// cycler runs the periodic engine passes. *engine.Engine satisfies it.
type cycler interface {
	RunLiveCycle(ctx context.Context) error
	RunShiftCycle(ctx context.Context) error
}

// systemPublisher sends lifecycle events.
type systemPublisher interface {
	PublishSystem(event mqtt.SystemEvent) error
}

type loopDeps struct {
	cycles     cycler
	publisher  systemPublisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	counter    *gpio.Counter // nil without a counter line
	now        func() time.Time
	log        zerolog.Logger
}

// loopChannels drive runLoop. A nil channel disables its branch.
type loopChannels struct {
	live      <-chan time.Time
	shift     <-chan time.Time
	heartbeat <-chan time.Time
	poll      <-chan time.Time
	sig       <-chan os.Signal
}

func runLoop(ctx context.Context, d loopDeps, ch loopChannels) error {
	log := d.log
	for {
		select {
		case s := <-ch.sig:
			log.Info().Str("signal", s.String()).Msg("Shutting down")
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: d.now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if d.tracker != nil {
				d.refreshStatus()
				event.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), "SHUTDOWN", signalName)
			}
			if err := d.publisher.PublishSystem(event); err != nil {
				log.Warn().Err(err).Msg("Failed to publish shutdown event")
			} else {
				log.Info().Msg("Published shutdown event")
			}
			return nil

		case <-ch.live:
			if err := d.cycles.RunLiveCycle(ctx); err != nil {
				log.Error().Err(err).Msg("Live cycle failed")
			}
			d.refreshStatus()

		case <-ch.shift:
			if err := d.cycles.RunShiftCycle(ctx); err != nil {
				log.Error().Err(err).Msg("Shift cycle failed")
			}

		case <-ch.heartbeat:
			hbEvent := mqtt.SystemEvent{
				Timestamp: d.now(),
				Event:     "HEARTBEAT",
			}
			if d.tracker != nil {
				d.refreshStatus()
				// Refresh network info for heartbeat
				if net := readNetworkInfo(); net != nil {
					d.tracker.SetNetwork(net)
				}
				snap := d.tracker.Snapshot()
				log.Info().
					Dur("uptime", snap.Uptime()).
					Int("machines", len(snap.Machines)).
					Msg("Heartbeat")
				hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
			}
			if err := d.publisher.PublishSystem(hbEvent); err != nil {
				log.Warn().Err(err).Msg("Heartbeat publish failed")
			}

		case <-ch.poll:
			if d.counter == nil {
				continue
			}
			if _, err := d.counter.Poll(d.now()); err != nil {
				log.Warn().Err(err).Msg("GPIO read failed")
				continue
			}
			if d.tracker != nil {
				d.tracker.SetCounter(status.CounterState{
					Machine:   d.counter.Machine(),
					Pulses:    d.counter.Pulses(),
					Ready:     d.counter.Ready(),
					Level:     d.counter.Level(),
					LastPulse: d.counter.LastPulse(),
				})
			}
		}
	}
}

// refreshStatus copies connection state into the tracker.
func (d loopDeps) refreshStatus() {
	if d.tracker != nil && d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

func levelString(high bool) string {
	if high {
		return "HIGH"
	}
	return "LOW"
}
