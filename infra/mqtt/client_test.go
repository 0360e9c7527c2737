package mqtt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremon "github.com/kilianp07/dronedispatch/core/monitoring"
	coremqtt "github.com/kilianp07/dronedispatch/core/mqtt"
)

// helper to generate self-signed cert
func generateCert(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := x509.Certificate{SerialNumber: big.NewInt(1), Subject: pkix.Name{CommonName: "test"}, NotBefore: time.Now(), NotAfter: time.Now().Add(time.Hour)}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	dir := t.TempDir()
	certFile = dir + "/cert.pem"
	keyFile = dir + "/key.pem"
	caFile = dir + "/ca.pem"
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o600))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))
	require.NoError(t, os.WriteFile(caFile, certPEM, 0o600))
	return
}

func withMockPaho(t *testing.T, mc *mockClient) {
	t.Helper()
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() {
		newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) }
	})
}

func TestLoadTLSConfig(t *testing.T) {
	cert, key, ca := generateCert(t)
	cfg := Config{UseTLS: true, ClientCert: cert, ClientKey: key, CABundle: ca}
	tlsCfg, err := cfg.LoadTLSConfig()
	require.NoError(t, err)
	assert.NotEmpty(t, tlsCfg.Certificates)
	assert.NotNil(t, tlsCfg.RootCAs)

	_, err = Config{UseTLS: true}.LoadTLSConfig()
	assert.Error(t, err)
}

func TestNewClientOptions(t *testing.T) {
	opts, err := NewClientOptions(Config{
		Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", Password: "p",
		KeepAliveSeconds: 15, LWTTopic: "status/D1", LWTPayload: `{"status":"offline"}`, LWTQoS: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "u", opts.Username)
	assert.Equal(t, "p", opts.Password)
	assert.Equal(t, int64(15), opts.KeepAlive)
	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "status/D1", opts.WillTopic)
	assert.Equal(t, `{"status":"offline"}`, string(opts.WillPayload))
	assert.True(t, opts.AutoReconnect)
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	assert.NotEmpty(t, cfg.ClientID)
	assert.Equal(t, 2000, cfg.PublishTimeoutMS)
	assert.Error(t, cfg.Validate())

	cfg.Broker = "tcp://localhost:1883"
	assert.NoError(t, cfg.Validate())
	cfg.QoS = map[string]byte{"command": 3}
	assert.Error(t, cfg.Validate())
}

func TestQoSPerTopicClass(t *testing.T) {
	mc := &mockClient{}
	withMockPaho(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", QoS: map[string]byte{"command": 1, "status": 2}})
	require.NoError(t, err)

	require.NoError(t, cli.Subscribe(coremqtt.StatusWildcard, func(string, []byte) {}))
	require.NoError(t, cli.Publish(coremqtt.CommandTopic("D1"), []byte(`{}`)))

	require.Len(t, mc.subscribed, 1)
	assert.Equal(t, byte(2), mc.subscribed[0].qos)
	require.Len(t, mc.published, 1)
	assert.Equal(t, "command/D1", mc.published[0].topic)
	assert.Equal(t, byte(1), mc.published[0].qos)
}

func TestSubscribeRoutesPayload(t *testing.T) {
	mc := &mockClient{}
	withMockPaho(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883"})
	require.NoError(t, err)

	var got []string
	require.NoError(t, cli.Subscribe(coremqtt.StatusWildcard, func(topic string, payload []byte) {
		got = append(got, topic+" "+string(payload))
	}))
	mc.handlers[0](mc, mockMessage{topic: "status/D1", p: []byte(`{"status":"idle"}`)})
	assert.Equal(t, []string{`status/D1 {"status":"idle"}`}, got)
}

func TestReconnectRestoresSubscriptions(t *testing.T) {
	mc := &mockClient{}
	withMockPaho(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883"})
	require.NoError(t, err)
	require.NoError(t, cli.Subscribe(coremqtt.StatusWildcard, func(string, []byte) {}))

	mc.opts.OnConnect(mc)
	require.Len(t, mc.subscribed, 2)
	assert.Equal(t, coremqtt.StatusWildcard, mc.subscribed[1].topic)
}

type recordMonitor struct {
	mu   sync.Mutex
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
	r.tags = tags
}
func (r *recordMonitor) CapturePanic(any)    {}
func (r *recordMonitor) Flush(time.Duration) {}

func TestPublishErrorWrappedAndCaptured(t *testing.T) {
	mc := &mockClient{publishErrs: []error{errors.New("net fail")}}
	withMockPaho(t, mc)
	mon := &recordMonitor{}
	coremon.Init(mon)
	t.Cleanup(func() { coremon.Init(nil) })

	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883"})
	require.NoError(t, err)
	err = cli.Publish("command/D1", []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, coremqtt.ErrTransport)
	assert.Len(t, mc.published, 1, "publish is not retried")
	require.NotNil(t, mon.err)
	assert.Equal(t, "mqtt", mon.tags["module"])
	assert.Equal(t, "command/D1", mon.tags["topic"])
}

func TestPublishTimeout(t *testing.T) {
	mc := &mockClient{slowPublish: true}
	withMockPaho(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", PublishTimeoutMS: 5})
	require.NoError(t, err)
	err = cli.Publish("command/D1", nil)
	assert.ErrorIs(t, err, coremqtt.ErrTransport)
}

func TestConnectFailure(t *testing.T) {
	mc := &mockClient{connectErr: errors.New("refused")}
	withMockPaho(t, mc)
	_, err := NewPahoClient(Config{Broker: "tcp://localhost:1883"})
	assert.ErrorIs(t, err, coremqtt.ErrTransport)
}

func TestCloseDisconnects(t *testing.T) {
	mc := &mockClient{}
	withMockPaho(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883"})
	require.NoError(t, err)
	require.NoError(t, cli.Close())
	assert.True(t, mc.disconnected)
}

// mockClient implements pahoClient for tests
type mockClient struct {
	opts       *paho.ClientOptions
	subscribed []struct {
		topic string
		qos   byte
	}
	handlers  []paho.MessageHandler
	published []struct {
		topic string
		qos   byte
	}
	publishErrs  []error
	slowPublish  bool
	connectErr   error
	disconnected bool
}

func (m *mockClient) IsConnected() bool { return !m.disconnected }
func (m *mockClient) Connect() paho.Token {
	if m.connectErr != nil {
		return &dummyToken{err: m.connectErr}
	}
	if m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(m)
	}
	return &dummyToken{}
}
func (m *mockClient) Disconnect(uint) { m.disconnected = true }
func (m *mockClient) Publish(topic string, qos byte, _ bool, _ interface{}) paho.Token {
	m.published = append(m.published, struct {
		topic string
		qos   byte
	}{topic, qos})
	if m.slowPublish {
		return &dummyToken{pending: true}
	}
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return &dummyToken{err: err}
	}
	return &dummyToken{}
}
func (m *mockClient) Subscribe(topic string, qos byte, h paho.MessageHandler) paho.Token {
	m.subscribed = append(m.subscribed, struct {
		topic string
		qos   byte
	}{topic, qos})
	m.handlers = append(m.handlers, h)
	return &dummyToken{}
}
func (m *mockClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &dummyToken{}
}
func (m *mockClient) Unsubscribe(...string) paho.Token        { return &dummyToken{} }
func (m *mockClient) AddRoute(string, paho.MessageHandler)    {}
func (m *mockClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }
func (m *mockClient) IsConnectionOpen() bool                  { return !m.disconnected }

type dummyToken struct {
	err     error
	pending bool
}

func (d dummyToken) Wait() bool { return !d.pending }
func (d dummyToken) WaitTimeout(time.Duration) bool {
	return !d.pending
}
func (d dummyToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !d.pending {
		close(ch)
	}
	return ch
}
func (d dummyToken) Error() error { return d.err }

type mockMessage struct {
	topic string
	p     []byte
}

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 0 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return m.topic }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.p }
func (m mockMessage) Ack()              {}
