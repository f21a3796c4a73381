package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/periphctl/internal/infrastructure/config"
)

func TestNewTopics(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		deviceID string
		wantBase string
		wantErr  bool
	}{
		{"plain", "periphctl", "bench-01", "periphctl/bench-01", false},
		{"trimmed slashes", "/lab/periphctl/", "bench-01", "lab/periphctl/bench-01", false},
		{"empty prefix", "", "bench-01", "", true},
		{"empty device", "periphctl", "", "", true},
		{"wildcard prefix", "periph+", "bench-01", "", true},
		{"hash in device", "periphctl", "bench#", "", true},
		{"slash in device", "periphctl", "a/b", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topics, err := NewTopics(tt.prefix, tt.deviceID)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTopic) {
					t.Fatalf("NewTopics() error = %v, want ErrInvalidTopic", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewTopics() error = %v", err)
			}
			if topics.Base() != tt.wantBase {
				t.Errorf("Base() = %q, want %q", topics.Base(), tt.wantBase)
			}
		})
	}
}

func TestTopicsTree(t *testing.T) {
	topics, err := NewTopics("periphctl", "bench-01")
	if err != nil {
		t.Fatalf("NewTopics() error = %v", err)
	}

	checks := map[string]string{
		"Execute":       topics.Execute(),
		"ExecuteFilter": topics.ExecuteFilter(),
		"Status":        topics.Status(),
		"Event":         topics.Event("command.executed"),
	}
	want := map[string]string{
		"Execute":       "periphctl/bench-01/execute",
		"ExecuteFilter": "periphctl/bench-01/execute/#",
		"Status":        "periphctl/bench-01/status",
		"Event":         "periphctl/bench-01/events/command.executed",
	}
	for name, got := range checks {
		if got != want[name] {
			t.Errorf("%s() = %q, want %q", name, got, want[name])
		}
	}
}

func TestTopicsCorrelation(t *testing.T) {
	topics, _ := NewTopics("periphctl", "bench-01") //nolint:errcheck // valid input

	tests := []struct {
		exec        string
		correlation string
		results     string
	}{
		{"periphctl/bench-01/execute", "", "periphctl/bench-01/results"},
		{"periphctl/bench-01/execute/abc", "abc", "periphctl/bench-01/results/abc"},
		{"periphctl/bench-01/execute/a/b", "a/b", "periphctl/bench-01/results/a/b"},
		{"other/bench-01/execute/abc", "", "periphctl/bench-01/results"},
	}
	for _, tt := range tests {
		t.Run(tt.exec, func(t *testing.T) {
			if got := topics.Correlation(tt.exec); got != tt.correlation {
				t.Errorf("Correlation() = %q, want %q", got, tt.correlation)
			}
			if got := topics.Results(tt.exec); got != tt.results {
				t.Errorf("Results() = %q, want %q", got, tt.results)
			}
		})
	}
}

func testMQTTConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "localhost",
			Port:     1883,
			ClientID: "periphctl-test",
		},
		Auth:        config.MQTTAuthConfig{Username: "user", Password: "pass"},
		QoS:         1,
		Reconnect:   config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 30},
		TopicPrefix: "periphctl",
	}
}

func TestBuildClientOptions(t *testing.T) {
	t.Run("plain tcp", func(t *testing.T) {
		opts := buildClientOptions(testMQTTConfig())
		if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://localhost:1883" {
			t.Errorf("Servers = %v, want tcp://localhost:1883", opts.Servers)
		}
		if opts.ClientID != "periphctl-test" {
			t.Errorf("ClientID = %q", opts.ClientID)
		}
		if opts.Username != "user" || opts.Password != "pass" {
			t.Errorf("credentials not applied")
		}
		if !opts.AutoReconnect || !opts.CleanSession {
			t.Errorf("AutoReconnect = %v, CleanSession = %v", opts.AutoReconnect, opts.CleanSession)
		}
		if opts.TLSConfig != nil {
			t.Errorf("TLSConfig set without tls")
		}
	})

	t.Run("tls", func(t *testing.T) {
		cfg := testMQTTConfig()
		cfg.Broker.TLS = true
		cfg.Broker.Port = 8883
		opts := buildClientOptions(cfg)
		if opts.Servers[0].String() != "ssl://localhost:8883" {
			t.Errorf("Servers = %v, want ssl://localhost:8883", opts.Servers)
		}
		if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
			t.Errorf("TLSConfig = %+v, want MinVersion TLS1.2", opts.TLSConfig)
		}
	})

	t.Run("no credentials", func(t *testing.T) {
		cfg := testMQTTConfig()
		cfg.Auth = config.MQTTAuthConfig{}
		opts := buildClientOptions(cfg)
		if opts.Username != "" {
			t.Errorf("Username = %q, want empty", opts.Username)
		}
	})
}

func TestConfigureLWT(t *testing.T) {
	topics, _ := NewTopics("periphctl", "bench-01") //nolint:errcheck // valid input
	opts := buildClientOptions(testMQTTConfig())
	configureLWT(opts, topics, "bench-01", "periphctl-test")

	if !opts.WillEnabled || !opts.WillRetained {
		t.Fatalf("WillEnabled = %v, WillRetained = %v", opts.WillEnabled, opts.WillRetained)
	}
	if opts.WillTopic != "periphctl/bench-01/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}

	var status StatusPayload
	if err := json.Unmarshal(opts.WillPayload, &status); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if status.Status != "offline" || status.Reason != "unexpected_disconnect" || status.DeviceID != "bench-01" {
		t.Errorf("will = %+v", status)
	}
}

func TestValidatePublish(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"ok", "a/b", []byte("{}"), 1, nil},
		{"empty topic", "", nil, 0, ErrInvalidTopic},
		{"bad qos", "a/b", nil, 3, ErrInvalidQoS},
		{"too large", "a/b", make([]byte, maxPayloadSize+1), 0, ErrPublishFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePublish(tt.topic, tt.payload, tt.qos)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("validatePublish() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDisconnectedClient(t *testing.T) {
	var nilClient *Client
	if nilClient.IsConnected() {
		t.Error("nil client reports connected")
	}

	c := &Client{subscriptions: make(map[string]subscription)}
	handler := func(string, []byte) error { return nil }

	if err := c.Publish("a/b", []byte("x"), 0, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("a/#", 0, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("a/#", 0, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil) = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") = %v, want ErrInvalidTopic", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d", c.SubscriptionCount())
	}
}
