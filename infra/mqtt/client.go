package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	coremon "github.com/kilianp07/dronedispatch/core/monitoring"
	coremqtt "github.com/kilianp07/dronedispatch/core/mqtt"
	"github.com/kilianp07/dronedispatch/infra/logger"
)

// Client mirrors the core mqtt.Client interface.
type Client = coremqtt.Client

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker     string `json:"broker"`
	ClientID   string `json:"client_id"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	UseTLS     bool   `json:"use_tls"`
	ClientCert string `json:"client_cert"`
	ClientKey  string `json:"client_key"`
	CABundle   string `json:"ca_bundle"`
	// QoS per topic class, keyed by the first topic level ("status", "command").
	QoS              map[string]byte `json:"qos"`
	KeepAliveSeconds int             `json:"keep_alive_seconds"`
	ConnectTimeoutMS int             `json:"connect_timeout_ms"`
	// PublishTimeoutMS bounds how long Publish waits for the broker handoff.
	PublishTimeoutMS int         `json:"publish_timeout_ms"`
	LWTTopic         string      `json:"lwt_topic"`
	LWTPayload       string      `json:"lwt_payload"`
	LWTQoS           byte        `json:"lwt_qos"`
	LWTRetain        bool        `json:"lwt_retain"`
	TLSConfig        *tls.Config `json:"-"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "dronedispatch-" + uuid.NewString()[:8]
	}
	if c.KeepAliveSeconds == 0 {
		c.KeepAliveSeconds = 30
	}
	if c.ConnectTimeoutMS == 0 {
		c.ConnectTimeoutMS = 10000
	}
	if c.PublishTimeoutMS == 0 {
		c.PublishTimeoutMS = 2000
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqtt broker is required")
	}
	for class, q := range c.QoS {
		if q > 2 {
			return fmt.Errorf("mqtt qos %d for %s out of range", q, class)
		}
	}
	if c.LWTQoS > 2 {
		return fmt.Errorf("mqtt lwt qos %d out of range", c.LWTQoS)
	}
	return nil
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// PahoClient implements the core Client interface using Eclipse Paho.
// Subscriptions are remembered and restored after every reconnect.
type PahoClient struct {
	cli            pahoClient
	qos            map[string]byte
	publishTimeout time.Duration
	logger         logger.Logger

	mu   sync.Mutex
	subs map[string]coremqtt.Handler
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewPahoClient connects to the MQTT broker.
func NewPahoClient(cfg Config) (*PahoClient, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_client")
	pc := &PahoClient{
		qos:            cfg.QoS,
		publishTimeout: time.Duration(cfg.PublishTimeoutMS) * time.Millisecond,
		logger:         log,
		subs:           make(map[string]coremqtt.Handler),
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected to %s", cfg.Broker)
		pc.resubscribe(c)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	pc.cli = c
	token := c.Connect()
	if !token.WaitTimeout(time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond) {
		return nil, fmt.Errorf("%w: connect to %s timed out", coremqtt.ErrTransport, cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: connect to %s: %v", coremqtt.ErrTransport, cfg.Broker, err)
	}
	return pc, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	if cfg.KeepAliveSeconds > 0 {
		opts.SetKeepAlive(time.Duration(cfg.KeepAliveSeconds) * time.Second)
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, errors.New("ca bundle contains no certificates")
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func (p *PahoClient) qosFor(topic string) byte {
	class, _, _ := strings.Cut(topic, "/")
	return p.qos[class]
}

func wrap(h coremqtt.Handler) paho.MessageHandler {
	return func(_ paho.Client, m paho.Message) {
		h(m.Topic(), m.Payload())
	}
}

func (p *PahoClient) resubscribe(c paho.Client) {
	p.mu.Lock()
	subs := make(map[string]coremqtt.Handler, len(p.subs))
	for pattern, h := range p.subs {
		subs[pattern] = h
	}
	p.mu.Unlock()
	for pattern, h := range subs {
		token := c.Subscribe(pattern, p.qosFor(pattern), wrap(h))
		if token.WaitTimeout(p.publishTimeout) && token.Error() != nil {
			p.logger.Errorf("resubscribe %s: %v", pattern, token.Error())
		}
	}
}

// Subscribe registers h for pattern. The subscription is kept even when the
// broker rejects it now so that the next reconnect retries it.
func (p *PahoClient) Subscribe(pattern string, h coremqtt.Handler) error {
	p.mu.Lock()
	p.subs[pattern] = h
	p.mu.Unlock()

	token := p.cli.Subscribe(pattern, p.qosFor(pattern), wrap(h))
	var err error
	if !token.WaitTimeout(p.publishTimeout) {
		err = fmt.Errorf("%w: subscribe %s timed out", coremqtt.ErrTransport, pattern)
	} else if token.Error() != nil {
		err = fmt.Errorf("%w: subscribe %s: %v", coremqtt.ErrTransport, pattern, token.Error())
	}
	if err != nil {
		p.logger.Errorf("%v", err)
		coremon.CaptureException(err, map[string]string{"module": "mqtt", "topic": pattern})
		return err
	}
	p.logger.Infof("subscribed to %s", pattern)
	return nil
}

// Publish hands payload to the broker and waits at most the configured
// publish timeout. It never waits for a reply from the recipient.
func (p *PahoClient) Publish(topic string, payload []byte) error {
	token := p.cli.Publish(topic, p.qosFor(topic), false, payload)
	var err error
	if !token.WaitTimeout(p.publishTimeout) {
		err = fmt.Errorf("%w: publish to %s timed out", coremqtt.ErrTransport, topic)
	} else if token.Error() != nil {
		err = fmt.Errorf("%w: publish to %s: %v", coremqtt.ErrTransport, topic, token.Error())
	}
	if err != nil {
		p.logger.Errorf("%v", err)
		coremon.CaptureException(err, map[string]string{"module": "mqtt", "topic": topic})
		return err
	}
	p.logger.Debugf("published %d bytes to %s", len(payload), topic)
	return nil
}

// Close gracefully closes the MQTT connection.
func (p *PahoClient) Close() error {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
	return nil
}
