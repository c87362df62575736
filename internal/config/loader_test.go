package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/baaaht/chatmesh/pkg/types"
)

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name     string
		file     string
		content  string
		wantCode string
	}{
		{
			name: "valid full config",
			file: "full.yaml",
			content: `
group:
  address: 224.0.0.123:4983
  mode: relayed
  ttl: 1
relay:
  channel_prefix: multicast_communicator
  grace_interval: 10s
  log_path: /tmp/multicast_communicator.log
  connect_attempts: 5
  connect_delay: 10ms
  connect_max_delay: 500ms
  client_queue_size: 32
  write_timeout: 1s
probe:
  address: 224.0.0.125:28324
  timeout: 2s
server:
  listen_address: 127.0.0.1:0
  queue_size: 4
logging:
  level: info
  format: json
  output: stdout
`,
		},
		{
			name:    "valid minimal config",
			file:    "minimal.yml",
			content: "group:\n  mode: direct\n",
		},
		{
			name:     "wrong extension",
			file:     "config.json",
			content:  "{}",
			wantCode: types.ErrCodeInvalidArgument,
		},
		{
			name:     "empty file",
			file:     "empty.yaml",
			content:  "   \n",
			wantCode: types.ErrCodeInvalid,
		},
		{
			name:     "syntax error",
			file:     "broken.yaml",
			content:  "group: [unclosed\n",
			wantCode: types.ErrCodeInvalid,
		},
		{
			name:     "type error",
			file:     "typed.yaml",
			content:  "relay:\n  connect_attempts: lots\n",
			wantCode: types.ErrCodeInvalid,
		},
		{
			name:     "fails validation",
			file:     "unicast.yaml",
			content:  "group:\n  address: 192.168.1.10:4983\n",
			wantCode: types.ErrCodeInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write test file: %v", err)
			}

			cfg, err := LoadFromFile(path)
			if tt.wantCode != "" {
				if !types.IsErrCode(err, tt.wantCode) {
					t.Fatalf("LoadFromFile() error = %v, want code %s", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadFromFile() error = %v", err)
			}
			if cfg == nil {
				t.Fatal("LoadFromFile() returned nil config")
			}
		})
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if !types.IsErrCode(err, types.ErrCodeNotFound) {
		t.Errorf("LoadFromFile() error = %v, want NOT_FOUND", err)
	}
}

func TestLoadFromFileDurationParsing(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
relay:
  grace_interval: 1m30s
  connect_delay: 5ms
  connect_max_delay: 2s
probe:
  timeout: 750ms
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Relay.GraceInterval != 90*time.Second {
		t.Errorf("GraceInterval = %v, want 1m30s", cfg.Relay.GraceInterval)
	}
	if cfg.Relay.ConnectDelay != 5*time.Millisecond {
		t.Errorf("ConnectDelay = %v, want 5ms", cfg.Relay.ConnectDelay)
	}
	if cfg.Probe.Timeout != 750*time.Millisecond {
		t.Errorf("Probe.Timeout = %v, want 750ms", cfg.Probe.Timeout)
	}
}

func TestPartialYAMLConfigs(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "logging:\n  level: debug\n")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %s, want debug", cfg.Logging.Level)
	}
	if cfg.Logging.Format != DefaultLogFormat {
		t.Errorf("Logging.Format = %s, want default %s", cfg.Logging.Format, DefaultLogFormat)
	}
	if cfg.Group != DefaultGroupConfig() {
		t.Errorf("Group = %v, want defaults", cfg.Group)
	}
	if cfg.Relay != DefaultRelayConfig() {
		t.Errorf("Relay = %v, want defaults", cfg.Relay)
	}
}

func TestEnvVarInterpolation(t *testing.T) {
	t.Setenv("TEST_CHATMESH_GROUP", "239.5.5.5:7000")
	os.Unsetenv("TEST_CHATMESH_UNSET")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "no placeholders", "no placeholders"},
		{"set variable", "${TEST_CHATMESH_GROUP}", "239.5.5.5:7000"},
		{"unset with default", "${TEST_CHATMESH_UNSET:-/tmp/relay.log}", "/tmp/relay.log"},
		{"unset without default", "${TEST_CHATMESH_UNSET}", ""},
		{"set ignores default", "${TEST_CHATMESH_GROUP:-224.0.0.1:1}", "239.5.5.5:7000"},
		{"embedded", "log-${TEST_CHATMESH_UNSET:-x}.txt", "log-x.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := interpolateEnvVars(tt.in); got != tt.want {
				t.Errorf("interpolateEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoadFromFileInterpolatesFields(t *testing.T) {
	t.Setenv("TEST_CHATMESH_GROUP", "239.5.5.5:7000")
	path := writeConfig(t, t.TempDir(), `
group:
  address: ${TEST_CHATMESH_GROUP}
relay:
  log_path: ${TEST_CHATMESH_LOG_DIR:-/var/tmp}/relay.log
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Group.Address != "239.5.5.5:7000" {
		t.Errorf("Group.Address = %s, want interpolated value", cfg.Group.Address)
	}
	if cfg.Relay.LogPath != "/var/tmp/relay.log" {
		t.Errorf("Relay.LogPath = %s, want /var/tmp/relay.log", cfg.Relay.LogPath)
	}
}

func TestLoadPath(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, t.TempDir(), "group:\n  mode: direct\n")
	t.Setenv(EnvGroupMode, ModeRelayed)

	cfg, err := LoadPath(path)
	if err != nil {
		t.Fatalf("LoadPath() error = %v", err)
	}
	if cfg.Group.Mode != ModeRelayed {
		t.Errorf("Group.Mode = %s, want env override relayed", cfg.Group.Mode)
	}

	SetTestConfigPath(filepath.Join(t.TempDir(), "none.yaml"))
	defer SetTestConfigPath("")
	cfg, err = LoadPath("")
	if err != nil {
		t.Fatalf("LoadPath(\"\") error = %v", err)
	}
	if cfg.Group.Address != DefaultGroupAddress {
		t.Errorf("Group.Address = %s, want default", cfg.Group.Address)
	}
}
