package mqtt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/gridx/core/broadcast"
	coremon "github.com/kilianp07/gridx/core/monitoring"
	"github.com/kilianp07/gridx/internal/eventbus"
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
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	caFile = filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o600))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))
	require.NoError(t, os.WriteFile(caFile, certPEM, 0o600))
	return
}

type publishedMsg struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// mockClient implements paho.Client for tests
type mockClient struct {
	mu          sync.Mutex
	opts        *paho.ClientOptions
	published   []publishedMsg
	publishErrs []error
}

func (m *mockClient) IsConnected() bool { return true }
func (m *mockClient) Connect() paho.Token {
	if m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(m)
	}
	return &dummyToken{}
}
func (m *mockClient) Disconnect(uint) {}
func (m *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case string:
		data = []byte(p)
	}
	m.published = append(m.published, publishedMsg{topic, qos, retained, data})
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return &dummyToken{err: err}
	}
	return &dummyToken{}
}
func (m *mockClient) Subscribe(string, byte, paho.MessageHandler) paho.Token { return &dummyToken{} }
func (m *mockClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &dummyToken{}
}
func (m *mockClient) Unsubscribe(...string) paho.Token        { return &dummyToken{} }
func (m *mockClient) AddRoute(string, paho.MessageHandler)    {}
func (m *mockClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }
func (m *mockClient) IsConnectionOpen() bool                  { return true }

func (m *mockClient) messages() []publishedMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMsg(nil), m.published...)
}

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

func withMock(t *testing.T, mc *mockClient) {
	t.Helper()
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() { newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) } })
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

func TestNewClientOptionsAuth(t *testing.T) {
	opts, err := NewClientOptions(Config{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, "u", opts.Username)
	assert.Equal(t, "p", opts.Password)

	opts, err = NewClientOptions(Config{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", AuthMethod: "certificate"})
	require.NoError(t, err)
	assert.Empty(t, opts.Username)
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, "gridx", c.TopicPrefix)
	assert.Equal(t, "gridx/status", c.LWTTopic)
	assert.Equal(t, "offline", c.LWTPayload)
	assert.NotEmpty(t, c.ClientID)
	require.NoError(t, c.Validate())

	c.Enabled = true
	assert.Error(t, c.Validate())
	c.Broker = "tcp://localhost:1883"
	require.NoError(t, c.Validate())
	c.QoS = 3
	assert.Error(t, c.Validate())
}

func TestNewBridge_AnnouncesOnlineWithWill(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	b, err := NewBridge(Config{Broker: "tcp://localhost:1883", TopicPrefix: "site-a"})
	require.NoError(t, err)

	assert.True(t, mc.opts.WillEnabled)
	assert.Equal(t, "site-a/status", mc.opts.WillTopic)
	msgs := mc.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "site-a/status", msgs[0].topic)
	assert.Equal(t, "online", string(msgs[0].payload))
	assert.True(t, msgs[0].retained)

	b.Disconnect()
	msgs = mc.messages()
	assert.Equal(t, "offline", string(msgs[len(msgs)-1].payload))
}

func TestTopicFor(t *testing.T) {
	b := &Bridge{prefix: "gridx"}
	assert.Equal(t, "gridx/grid/update", b.TopicFor(broadcast.TopicGridUpdate, broadcast.Global))
	assert.Equal(t, "gridx/meter/update", b.TopicFor(broadcast.TopicMeterUpdate, broadcast.Global))
	assert.Equal(t, "gridx/meter/user-1/update", b.TopicFor(broadcast.TopicMyMeterUpdate, "user-1"))
	assert.Equal(t, "gridx/events/other", b.TopicFor("OTHER", ""))
}

func TestSend_RetriesThenSucceeds(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	b, err := NewBridge(Config{Broker: "tcp://localhost:1883", MaxRetries: 1, BackoffMS: 1, QoS: 1})
	require.NoError(t, err)
	mc.mu.Lock()
	mc.published = nil
	mc.publishErrs = []error{errors.New("net fail"), nil}
	mc.mu.Unlock()

	require.NoError(t, b.Send(broadcast.TopicGridUpdate, map[string]float64{"price": 6.14}, broadcast.Global))
	msgs := mc.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, byte(1), msgs[1].qos)
	var body map[string]float64
	require.NoError(t, json.Unmarshal(msgs[1].payload, &body))
	assert.Equal(t, 6.14, body["price"])
}

type recordMonitor struct {
	mu   sync.Mutex
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err, r.tags = err, tags
}
func (r *recordMonitor) Recover()            {}
func (r *recordMonitor) Flush(time.Duration) {}

func TestSend_FailureCaptured(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	mon := &recordMonitor{}
	coremon.Init(mon)
	t.Cleanup(func() { coremon.Init(nil) })

	b, err := NewBridge(Config{Broker: "tcp://localhost:1883", MaxRetries: 1, BackoffMS: 1})
	require.NoError(t, err)
	mc.mu.Lock()
	mc.publishErrs = []error{errors.New("net fail"), errors.New("net fail")}
	mc.mu.Unlock()

	assert.Error(t, b.Send(broadcast.TopicMeterUpdate, 1, broadcast.Global))
	assert.NotPanics(t, func() { b.Publish(broadcast.TopicMeterUpdate, 1, broadcast.Global) })
	require.Error(t, mon.err)
	assert.Equal(t, "gridx/meter/update", mon.tags["topic"])
}

func TestForward_FromHub(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	b, err := NewBridge(Config{Broker: "tcp://localhost:1883"})
	require.NoError(t, err)

	hub := eventbus.NewHub(8)
	sub := hub.Subscribe("", eventbus.AnyScope)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { b.Forward(ctx, sub); close(done) }()

	hub.Publish(broadcast.TopicMyMeterUpdate, map[string]string{"user_id": "user-2"}, "user-2")
	assert.Eventually(t, func() bool {
		for _, m := range mc.messages() {
			if m.topic == "gridx/meter/user-2/update" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	hub.Close()
}
