package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wellness-at-work/blinkd/internal/blink"
	"github.com/wellness-at-work/blinkd/internal/config"
	"github.com/wellness-at-work/blinkd/internal/pipeline"
	"github.com/wellness-at-work/blinkd/internal/remote"
	"github.com/wellness-at-work/blinkd/internal/session"
	"github.com/wellness-at-work/blinkd/internal/store"
	"github.com/wellness-at-work/blinkd/internal/sysmon"
	"github.com/wellness-at-work/blinkd/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	dbPath := flag.String("db", "", "Override session database path")
	simMode := flag.Bool("sim", false, "Use a synthetic blink pattern instead of landmark input")
	landmarks := flag.String("landmarks", "", "Read landmark frames from a JSONL file (- for stdin)")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Storage.DBPath = *dbPath
	}

	archive, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}
	defer archive.Close()

	source, provider, err := buildInput(*simMode, *landmarks)
	if err != nil {
		log.Fatalf("Failed to open landmark input: %v", err)
	}

	agg := session.NewAggregator(cfg.Wellness)
	detector := blink.New(cfg.Detector)
	pipe := pipeline.New(source, provider, detector, agg)

	broadcaster := ws.NewBroadcaster(func() ws.SnapshotPayload {
		now := time.Now()
		sess, stats := agg.Current(now)
		return ws.SnapshotPayload{
			Session:    sess,
			Statistics: stats,
			Pipeline:   pipe.Stats(),
			Timestamp:  now,
		}
	}, cfg.Server.BroadcastThrottle, cfg.Server.SnapshotInterval)
	defer broadcaster.Stop()

	agg.OnAlert(func(a session.Alert) {
		log.Printf("Wellness alert: %.1f blinks/min over the last window (floor %.1f)",
			a.ObservedRatePerMinute, a.Threshold)
		broadcaster.BroadcastMessage(ws.WSMessage{Type: ws.MsgWellnessAlert, Payload: a})
	})

	pipe.OnSample(broadcaster.QueueSample)
	pipe.OnBlink(func(e blink.Event) {
		sess, _ := agg.Current(time.Now())
		count := 0
		if sess != nil {
			count = sess.BlinkCount
		}
		broadcaster.BroadcastMessage(ws.WSMessage{
			Type:    ws.MsgBlink,
			Payload: ws.BlinkPayload{Event: e, BlinkCount: count},
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := pipe.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("Pipeline stopped: %v", err)
		}
	}()
	go agg.Run(ctx)
	go remote.NewUploader(cfg.Backend, archive).Run(ctx)

	go sysmon.New(cfg.Sysmon.Interval, cfg.Sysmon.DiskPath, func(s sysmon.Stats) {
		broadcaster.BroadcastMessage(ws.WSMessage{Type: ws.MsgSystemStats, Payload: s})
	}).Run(ctx)

	server := ws.NewServer(agg, pipe, archive, broadcaster)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		// Give the uploader's final sweep a moment before exiting.
		time.Sleep(2 * time.Second)
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// buildInput picks the frame source and landmark provider: a looping
// synthetic blink pattern in sim mode, otherwise a JSONL landmark stream
// from a file or stdin.
func buildInput(sim bool, landmarks string) (pipeline.FrameSource, pipeline.LandmarkProvider, error) {
	if sim {
		log.Println("Starting with synthetic blink pattern")
		src := pipeline.NewRealtimeScriptedStream(pipeline.BlinkPattern(60, 30), 33*time.Millisecond)
		return src, src, nil
	}

	if landmarks == "" || landmarks == "-" {
		log.Println("Reading landmark frames from stdin")
		src := pipeline.NewJSONLStream(os.Stdin)
		return src, src, nil
	}

	f, err := os.Open(landmarks)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("Reading landmark frames from %s", landmarks)
	src := pipeline.NewJSONLStream(f)
	return src, src, nil
}
