package geofence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const disconnectQuiesceMillis = 250

type eventRecorder interface {
	GeofenceEvent(kind string)
}

// SubscriberConfig configures the MQTT connection.
type SubscriberConfig struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
}

// Subscriber feeds geofence events from an MQTT broker into a Tracker.
type Subscriber struct {
	cfg     SubscriberConfig
	tracker *Tracker
	metrics eventRecorder
	logger  *zap.Logger
	client  mqtt.Client
}

// NewSubscriber constructs a subscriber. metrics may be nil.
func NewSubscriber(cfg SubscriberConfig, tracker *Tracker, metrics eventRecorder, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("presence-api-%d", time.Now().UnixNano())
	}
	return &Subscriber{cfg: cfg, tracker: tracker, metrics: metrics, logger: logger}
}

// Start connects and subscribes. Subscriptions are restored on reconnect.
func (s *Subscriber) Start() error {
	if s.cfg.Broker == "" || s.cfg.Topic == "" {
		return errors.New("geofence subscriber requires broker and topic")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(c mqtt.Client) {
			token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.handle)
			token.Wait()
			if err := token.Error(); err != nil {
				s.logger.Error("geofence subscribe failed", zap.String("topic", s.cfg.Topic), zap.Error(err))
				return
			}
			s.logger.Info("geofence subscribed", zap.String("topic", s.cfg.Topic))
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.logger.Warn("geofence broker connection lost", zap.Error(err))
		})

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect geofence broker: %w", token.Error())
	}
	s.logger.Info("geofence broker connected", zap.String("broker", s.cfg.Broker), zap.String("client_id", s.cfg.ClientID))
	return nil
}

// Stop disconnects from the broker.
func (s *Subscriber) Stop() {
	if s.client == nil {
		return
	}
	s.client.Disconnect(disconnectQuiesceMillis)
}

func (s *Subscriber) handle(_ mqtt.Client, msg mqtt.Message) {
	s.Handle(msg.Topic(), msg.Payload())
}

// Handle processes one raw message. Malformed events are logged and dropped.
func (s *Subscriber) Handle(topic string, payload []byte) {
	evt, err := ParseEvent(payload, fenceFromTopic(topic))
	if err != nil {
		s.logger.Warn("dropping geofence event", zap.String("topic", topic), zap.Error(err))
		if s.metrics != nil {
			s.metrics.GeofenceEvent("invalid")
		}
		return
	}
	s.tracker.Apply(evt)
	if s.metrics != nil {
		s.metrics.GeofenceEvent(string(evt.Type))
	}
	s.logger.Debug("geofence event applied",
		zap.String("subject_id", evt.SubjectID),
		zap.String("fence_id", evt.FenceID),
		zap.String("type", string(evt.Type)))
}

// fenceFromTopic extracts the fence id from topics shaped "geofence/<fence>/events".
func fenceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) == 3 && parts[0] == "geofence" && parts[2] == "events" {
		return parts[1]
	}
	return ""
}
