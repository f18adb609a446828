package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/lumirise/lumirise/internal/config"
	"github.com/lumirise/lumirise/internal/dimmer"
	"github.com/lumirise/lumirise/internal/history"
	"github.com/lumirise/lumirise/internal/mqttsup"
	"github.com/lumirise/lumirise/internal/server"
)

// main wires the process-wide singletons: the connection supervisor, the
// dimmer monitor and detector, and the optional history recorder.
// The alarm scheduler and the per-alarm Executor it drives live outside
// this process; main only boots the infrastructure an Executor is built
// on top of and exposes it over /healthz and /readyz.
func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	supervisor := mqttsup.NewSupervisor(cfg.MQTT)
	supervisor.Connect()
	defer supervisor.Dispose()

	monitor := dimmer.NewMonitor(cfg.Dimmer, supervisor)
	if err := monitor.Start(); err != nil {
		log.Fatalf("lumirise: dimmer monitor start: %v", err)
	}
	defer monitor.Stop()

	// The scheduling layer that fires cron triggers lives outside this
	// process; it calls alarm.Service.Execute against these singletons with
	// cfg.Alarm and its own DefinitionSource. See alarm.NewService.
	detector := dimmer.NewDetector(monitor)
	detector.Start()
	defer detector.Stop()

	go mirrorDisconnects(ctx, supervisor, detector)

	recorder := newRecorder(cfg)
	if recorder != nil {
		go mirrorInterruptions(ctx, detector, recorder)
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", server.NewHealthHandler(supervisor, recorder))
	mux.Handle("/readyz", server.NewReadyHandler(supervisor, recorder, 2*time.Second))

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("lumirise: HTTP listening on :%d", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("lumirise: http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Printf("lumirise: shutting down...")

	shCtx, shCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shCancel()
	_ = httpServer.Shutdown(shCtx)
}

// newRecorder returns a no-op Recorder (built over a nil WriteAPI) when
// InfluxDB is not configured, so history stays an optional audit sink
// rather than a hard dependency.
func newRecorder(cfg config.Config) *history.Recorder {
	if cfg.InfluxURL == "" || cfg.InfluxToken == "" {
		log.Printf("lumirise: INFLUX_URL/INFLUX_TOKEN unset, history recording disabled")
		return history.NewRecorder(nil)
	}
	influx := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
	writeAPI := influx.WriteAPI(cfg.InfluxOrg, cfg.InfluxBucket)
	return history.NewRecorder(writeAPI)
}

// mirrorDisconnects routes broker session loss into the detector as the
// DeviceDisconnected interruption reason. The detector's enabled gate means
// a disconnect only becomes an interruption while an execution is actually
// in flight.
func mirrorDisconnects(ctx context.Context, supervisor *mqttsup.Supervisor, detector *dimmer.Detector) {
	states, unsubscribe := supervisor.ConnectionStateChanges()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			if !st.IsConnected {
				detector.Report(dimmer.DeviceDisconnected, "broker session lost")
			}
		}
	}
}

// mirrorInterruptions feeds every detector event into the history recorder
// until ctx is cancelled. Alarm transitions are mirrored by whatever holds
// the per-execution Machine, since transitions are scoped to one Executor
// run rather than a process-wide stream.
func mirrorInterruptions(ctx context.Context, detector *dimmer.Detector, recorder *history.Recorder) {
	events, unsubscribe := detector.Interruptions()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			recorder.RecordInterruption(evt)
		}
	}
}
