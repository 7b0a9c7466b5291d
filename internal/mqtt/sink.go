package mqtt

import (
	"encoding/json"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/sedsim/sedsim/internal/pharma"
	"github.com/sedsim/sedsim/internal/scenario"
)

// Sink publishes presentation-layer state changes to per-session topics:
//
//	sedsim/<session>/dialogue
//	sedsim/<session>/phase
//	sedsim/<session>/highlights
//	sedsim/<session>/question
//	sedsim/<session>/vitals
//
// Publishes are best-effort; a dropped frame must never stall a tick.
type Sink struct {
	client    *Client
	sessionID string
}

// NewSink creates a presentation sink for one session.
func NewSink(client *Client, sessionID string) *Sink {
	return &Sink{client: client, sessionID: sessionID}
}

func (s *Sink) topic(suffix string) string {
	return "sedsim/" + s.sessionID + "/" + suffix
}

func (s *Sink) publish(suffix string, v interface{}) {
	if s.client == nil || !s.client.IsConnected() {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		logrus.WithError(err).Warn("mqtt sink: marshal failed")
		return
	}
	if err := s.client.Publish(s.topic(suffix), payload); err != nil {
		logrus.WithError(err).Warnf("mqtt sink: publish to %s failed", s.topic(suffix))
	}
}

// EmitDialogue publishes narrator/instructor lines.
func (s *Sink) EmitDialogue(lines []string) {
	s.publish("dialogue", map[string]interface{}{"lines": lines})
}

// SetPhase publishes the current scenario phase.
func (s *Sink) SetPhase(phase string) {
	s.publish("phase", map[string]interface{}{"phase": phase})
}

// SetHighlights publishes the active highlight set; nil clears it.
func (s *Sink) SetHighlights(highlights []scenario.Highlight) {
	s.publish("highlights", map[string]interface{}{"highlights": highlights})
}

// SetPendingQuestion publishes the pending question; nil clears it.
func (s *Sink) SetPendingQuestion(pq *scenario.PendingQuestion) {
	s.publish("question", map[string]interface{}{"question": pq})
}

// PublishVitals pushes a vitals snapshot for dashboard trend displays.
func (s *Sink) PublishVitals(snap pharma.Snapshot) {
	s.publish("vitals", snap)
}

// SubscribeAnswers delivers learner answers published by dashboards on the
// session's answer topic.
func (s *Sink) SubscribeAnswers(handler func(answer string)) error {
	return s.client.Subscribe(s.topic("answer"), func(_ paho.Client, msg paho.Message) {
		handler(string(msg.Payload()))
	})
}
