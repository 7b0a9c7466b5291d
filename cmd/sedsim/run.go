package main

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sedsim/sedsim/internal/api"
	"github.com/sedsim/sedsim/internal/config"
	"github.com/sedsim/sedsim/internal/debrief"
	"github.com/sedsim/sedsim/internal/events"
	"github.com/sedsim/sedsim/internal/monitor"
	"github.com/sedsim/sedsim/internal/mqtt"
	"github.com/sedsim/sedsim/internal/pharma"
	"github.com/sedsim/sedsim/internal/scenario"
	"github.com/sedsim/sedsim/internal/storage/postgres"
)

func runSession(configPath, scriptPath string, durationSec int) error {
	cfg, err := config.LoadSessionConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	script, err := scenario.LoadScript(scriptPath)
	if err != nil {
		return fmt.Errorf("load script: %w", err)
	}

	log := events.NewLog(1024)
	_, _ = log.Emit("info", "system.startup", "sedsim starting", map[string]interface{}{
		"session_id":  cfg.Session.ID,
		"scenario_id": script.ID,
		"pid":         os.Getpid(),
	})

	var store *postgres.Client
	if cfg.Storage.Postgres {
		store, err = postgres.New(cfg.Session.ID)
		if err != nil {
			logrus.WithError(err).Warn("postgres unavailable, continuing without persistence")
		} else {
			defer store.Close()
			log.SetPostgres(store)
		}
	}

	patient, err := pharma.LookupPatient(cfg.PatientArchetype())
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(cfg.Patient.Seed))
	oracle := pharma.NewEngine(patient, rng)

	sink, mqttSink, mqttClient := buildSink(cfg)
	if mqttClient != nil {
		defer mqttClient.Disconnect()
	}

	engine := scenario.NewEngine(oracle, sink, log, debrief.Scorer{})
	if store != nil {
		engine.SetCompletionStore(store)
	}
	if err := engine.Load(script); err != nil {
		return err
	}

	watchdog := monitor.New(oracle, engine, sink, log, monitor.Config{
		Interval: cfg.MonitorInterval(),
		Cooldown: cfg.AlertCooldown(),
	})

	server := api.NewServer(log, oracle)
	if store != nil {
		server.SetStore(store)
	}
	server.Start(cfg.APIPort())

	if err := engine.Start(cfg.TickInterval()); err != nil {
		return err
	}
	watchdog.Start(script)

	if mqttSink != nil {
		stopVitals := make(chan struct{})
		defer close(stopVitals)
		go publishVitals(mqttSink, oracle, cfg.TickInterval(), stopVitals)

		if err := mqttSink.SubscribeAnswers(func(answer string) {
			if fb, ok := engine.AnswerQuestion(answer); ok {
				logrus.Infof("answer graded %q: %s", fb.Category, fb.Text)
			}
		}); err != nil {
			logrus.WithError(err).Warn("mqtt answer subscription failed")
		}
	}

	// Answers come from stdin in headless mode; dashboards answer over
	// their own transport.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if fb, ok := engine.AnswerQuestion(scanner.Text()); ok {
				logrus.Infof("answer graded %q: %s", fb.Category, fb.Text)
			}
		}
	}()

	waitForEnd(engine, durationSec)

	watchdog.Stop()
	engine.Stop()

	if report := engine.LastReport(); report != nil {
		logrus.Infof("debrief score: %d/100", report.Score)
		for _, remark := range report.Remarks {
			logrus.Infof("debrief: %s", remark)
		}
	}
	_, _ = log.Emit("info", "system.shutdown", "sedsim exiting", nil)
	return nil
}

func waitForEnd(engine *scenario.Engine, durationSec int) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if durationSec <= 0 {
		<-sigCh
		return
	}

	deadline := time.NewTimer(time.Duration(durationSec) * time.Second)
	defer deadline.Stop()
	select {
	case <-sigCh:
	case <-deadline.C:
	}
}

func buildSink(cfg *config.SessionConfig) (scenario.Sink, *mqtt.Sink, *mqtt.Client) {
	console := &consoleSink{}
	if cfg.Network.MQTTURL == "" {
		return console, nil, nil
	}
	os.Setenv("MQTT_URL", cfg.Network.MQTTURL)
	client := mqtt.NewClient("sedsim-" + cfg.Session.ID)
	if !client.StartWithRetry() {
		return console, nil, nil
	}
	mqttSink := mqtt.NewSink(client, cfg.Session.ID)
	return &multiSink{sinks: []scenario.Sink{console, mqttSink}}, mqttSink, client
}

// publishVitals streams snapshots to the dashboard topic until stop closes.
func publishVitals(sink *mqtt.Sink, oracle *pharma.Engine, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sink.PublishVitals(oracle.Snapshot())
		}
	}
}

// consoleSink renders presentation state to the process log.
type consoleSink struct{}

func (consoleSink) EmitDialogue(lines []string) {
	for _, line := range lines {
		logrus.Infof("narrator: %s", line)
	}
}

func (consoleSink) SetPhase(phase string) {
	if phase != "" {
		logrus.Infof("phase: %s", phase)
	}
}

func (consoleSink) SetHighlights(highlights []scenario.Highlight) {
	for _, h := range highlights {
		logrus.Infof("highlight %s: %s", h.TargetID, h.Text)
	}
}

func (consoleSink) SetPendingQuestion(pq *scenario.PendingQuestion) {
	if pq == nil {
		return
	}
	logrus.Infof("question: %s", pq.Question.Prompt)
	for _, opt := range pq.Question.Options {
		logrus.Infof("  - %s", opt)
	}
}

// multiSink fans presentation calls out to several sinks.
type multiSink struct {
	sinks []scenario.Sink
}

func (m *multiSink) EmitDialogue(lines []string) {
	for _, s := range m.sinks {
		s.EmitDialogue(lines)
	}
}

func (m *multiSink) SetPhase(phase string) {
	for _, s := range m.sinks {
		s.SetPhase(phase)
	}
}

func (m *multiSink) SetHighlights(highlights []scenario.Highlight) {
	for _, s := range m.sinks {
		s.SetHighlights(highlights)
	}
}

func (m *multiSink) SetPendingQuestion(pq *scenario.PendingQuestion) {
	for _, s := range m.sinks {
		s.SetPendingQuestion(pq)
	}
}
