package rmsingestor

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	circuitbreaker "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.CircuitBreaker"
	config "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Config"
	logger "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Logger"
	rmsmetrics "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Metrics"
	processor "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Processor"
	rmsqueue "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Queue"
	validator "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Validator"
)

// ErrNotConnected is returned by Publish while the transport is down.
// Outbound publishes fail fast; they are never silently queued.
var ErrNotConnected = errors.New("mqtt client is not connected")

type inboundMessage struct {
	topic   string
	payload []byte
}

// Listener subscribes to the sensor topics and pushes every message through
// validation, processing, and the durable queue. Message-local failures are
// logged and counted; they never stall the listener.
type Listener struct {
	cfg        config.MQTTConfig
	processor  *processor.Processor
	queue      *rmsqueue.Queue
	breaker    *circuitbreaker.Breaker
	metrics    *rmsmetrics.Metrics
	logger     *logger.Logger
	mqttClient mqtt.Client
	msgCh      chan inboundMessage
	wg         sync.WaitGroup
	reconnects atomic.Int64
}

// New creates a Listener. Start must be called before it receives anything.
func New(cfg config.MQTTConfig, proc *processor.Processor, queue *rmsqueue.Queue, breaker *circuitbreaker.Breaker, metrics *rmsmetrics.Metrics, log *logger.Logger) *Listener {
	return &Listener{
		cfg:       cfg,
		processor: proc,
		queue:     queue,
		breaker:   breaker,
		metrics:   metrics,
		logger:    log.WithComponent("ingest_listener"),
		msgCh:     make(chan inboundMessage, 4096),
	}
}

// Topics returns the subscription set: one topic per sensor kind plus the
// general data topic, wildcarded on device id.
func (l *Listener) Topics() map[string]byte {
	prefix := l.cfg.TopicPrefix
	return map[string]byte{
		prefix + "/+/data":   1,
		prefix + "/+/ld2410": 1,
		prefix + "/+/pir":    1,
		prefix + "/+/mq134":  1,
	}
}

// Start connects to the broker and launches the pipeline worker.
// Reconnection is delegated to the transport's built-in backoff.
func (l *Listener) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(l.cfg.GetMQTTBrokerURL()).
		SetClientID(l.cfg.ClientID).
		SetOrderMatters(false).
		SetKeepAlive(l.cfg.KeepAlive).
		SetPingTimeout(l.cfg.PingTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(false)

	if l.cfg.BrokerUser != "" {
		opts.SetUsername(l.cfg.BrokerUser)
		opts.SetPassword(l.cfg.BrokerPass)
	}

	if l.cfg.UseTLS {
		tlsCfg, err := l.tlsConfig(l.cfg.CACertPath)
		if err != nil {
			return err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		n := l.reconnects.Add(1)
		l.logger.Logger.Error().Err(err).Int64("reconnect_attempts", n).Msg("MQTT connection lost")
	}
	opts.OnConnect = func(c mqtt.Client) {
		topics := l.Topics()
		l.logger.Logger.Info().Int("topics", len(topics)).Msg("MQTT connected, subscribing to sensor topics")
		if token := c.SubscribeMultiple(topics, l.onMessage); token.Wait() && token.Error() != nil {
			l.logger.Logger.Error().Err(token.Error()).Msg("Failed to subscribe to sensor topics")
		}
	}

	l.mqttClient = mqtt.NewClient(opts)
	if tk := l.mqttClient.Connect(); tk.Wait() && tk.Error() != nil {
		return tk.Error()
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.pipelineWorker(ctx)
	}()

	return nil
}

// Stop disconnects from the broker and drains the pipeline worker.
func (l *Listener) Stop() {
	if l.mqttClient != nil && l.mqttClient.IsConnected() {
		l.mqttClient.Disconnect(500)
	}
	close(l.msgCh)
	l.wg.Wait()
}

// IsConnected reports the transport connection state.
func (l *Listener) IsConnected() bool {
	return l.mqttClient != nil && l.mqttClient.IsConnected()
}

// Publish sends a payload to an arbitrary topic. It fails fast with
// ErrNotConnected while the transport is down.
func (l *Listener) Publish(topic string, payload []byte) error {
	if !l.IsConnected() {
		return ErrNotConnected
	}
	token := l.mqttClient.Publish(topic, 1, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("publish to %s: %w", topic, token.Error())
	}
	return nil
}

func (l *Listener) onMessage(_ mqtt.Client, m mqtt.Message) {
	l.logger.Logger.Debug().Str("topic", m.Topic()).Msg("Received MQTT message")
	l.msgCh <- inboundMessage{topic: m.Topic(), payload: m.Payload()}
}

func (l *Listener) pipelineWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-l.msgCh:
			if !ok {
				return
			}
			l.handleMessage(ctx, msg.topic, msg.payload)
		}
	}
}

// handleMessage runs one payload through validate → process → enqueue.
func (l *Listener) handleMessage(ctx context.Context, topic string, payload []byte) {
	start := time.Now()
	defer func() {
		l.metrics.ObserveLatency("ingest", time.Since(start))
	}()

	reading, err := validator.Validate(payload)
	if err != nil {
		// Neither malformed JSON nor a schema violation will fix itself on
		// retry; both are dropped.
		var vErr *validator.ValidationError
		switch {
		case errors.As(err, &vErr):
			l.metrics.IngestError("validation", "unknown")
			l.logger.Logger.Warn().Str("topic", topic).Err(err).Msg("Payload failed validation")
		case errors.Is(err, validator.ErrDecode):
			l.metrics.IngestError("decode", "unknown")
			l.logger.Logger.Warn().Str("topic", topic).Err(err).Msg("Payload is not valid JSON")
		default:
			l.metrics.IngestError("validation", "unknown")
			l.logger.Logger.Warn().Str("topic", topic).Err(err).Msg("Payload rejected")
		}
		return
	}

	enriched := l.processor.Process(*reading)
	if enriched == nil {
		// Duplicate: routine, silently dropped, not an error.
		return
	}

	err = l.breaker.Execute(ctx, func(ctx context.Context) error {
		_, enqErr := l.queue.Enqueue(ctx, *enriched)
		return enqErr
	})
	if err != nil {
		l.metrics.IngestError("queue", reading.DeviceID)
		l.logger.Logger.Error().
			Str("device_id", reading.DeviceID).
			Err(err).
			Msg("Failed to enqueue reading")
		return
	}

	for _, kind := range reading.Sensors.Kinds() {
		l.metrics.Ingested(reading.DeviceID, kind)
	}
}

func (l *Listener) tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("bad CA file")
	}
	cfg.RootCAs = cp
	return cfg, nil
}
