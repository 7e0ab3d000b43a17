package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// valid returns settings that pass Validate, for tests to break one field at
// a time.
func valid() *Settings {
	s := &Settings{Backend: BackendVulkan, Users: []string{"alice"}}
	s.ApplyDefaults()
	return s
}

func TestApplyDefaults(t *testing.T) {
	var s Settings
	s.ApplyDefaults()
	if s.Backend != "" {
		t.Fatalf("backend must stay unset, got %q", s.Backend)
	}
	if s.Port != 8080 || s.Host != "127.0.0.1" {
		t.Fatalf("listen defaults wrong: %s:%d", s.Host, s.Port)
	}
	if s.ExternalPort != 8443 || s.RateLimit != "30r/m" {
		t.Fatalf("proxy defaults wrong: %d %q", s.ExternalPort, s.RateLimit)
	}
	if s.ServiceName != "llama-server" || s.TunnelProvider != TunnelCloudflared {
		t.Fatalf("service defaults wrong: %q %q", s.ServiceName, s.TunnelProvider)
	}
	if !strings.HasSuffix(s.ModelURL, s.ModelName) {
		t.Fatalf("model URL %q should end in model name %q", s.ModelURL, s.ModelName)
	}
}

func TestApplyDefaultsKeepsExplicit(t *testing.T) {
	s := Settings{Port: 1234, ModelName: "custom.gguf", ModelURL: "https://example.com/other.gguf"}
	s.ApplyDefaults()
	if s.Port != 1234 || s.ModelName != "custom.gguf" {
		t.Fatalf("explicit values clobbered: %+v", s)
	}
	if s.ModelURL != "https://example.com/other.gguf" {
		t.Fatalf("explicit URL clobbered: %q", s.ModelURL)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"ok", func(s *Settings) {}, ""},
		{"ok rocm", func(s *Settings) { s.Backend = BackendROCm }, ""},
		{"missing backend", func(s *Settings) { s.Backend = "" }, "backend must be set"},
		{"bad backend", func(s *Settings) { s.Backend = "cuda" }, "unknown backend"},
		{"port zero", func(s *Settings) { s.Port = 0 }, "out of range"},
		{"port high", func(s *Settings) { s.Port = 70000 }, "out of range"},
		{"threads", func(s *Settings) { s.Threads = -1 }, "threads"},
		{"gpu layers", func(s *Settings) { s.GPULayers = -1 }, "gpu_layers"},
		{"ctx", func(s *Settings) { s.CtxSize = 100 }, "ctx_size"},
		{"parallel", func(s *Settings) { s.Parallel = 0 }, "parallel"},
		{"memory max", func(s *Settings) { s.MemoryMax = "lots" }, "memory_max"},
		{"memory max pct ok", func(s *Settings) { s.MemoryMax = "80%" }, ""},
		{"cpu quota", func(s *Settings) { s.CPUQuota = "8 cores" }, "cpu_quota"},
		{"cpu quota ok", func(s *Settings) { s.CPUQuota = "800%" }, ""},
		{"port collision", func(s *Settings) { s.ExternalPort = s.Port }, "collides"},
		{"bad rate limit", func(s *Settings) { s.RateLimit = "30/min" }, "rate_limit"},
		{"no users with proxy", func(s *Settings) { s.Users = nil }, "api_users is empty"},
		{"proxy off no users ok", func(s *Settings) {
			s.DisableProxy = true
			s.Users = nil
		}, ""},
		{"user with colon", func(s *Settings) { s.Users = []string{"a:b"} }, "invalid username"},
		{"tunnel ssh no host", func(s *Settings) {
			s.TunnelEnabled = true
			s.TunnelProvider = TunnelSSH
		}, "tunnel_ssh_host"},
		{"tunnel bad provider", func(s *Settings) {
			s.TunnelEnabled = true
			s.TunnelProvider = "ngrok"
		}, "unknown tunnel_provider"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := valid()
			tc.mutate(s)
			err := s.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, want substring %q", err, tc.wantErr)
			}
		})
	}
}

func TestDerivedPaths(t *testing.T) {
	s := valid()
	s.ModelsDir = "/srv/models"
	s.ModelName = "m.gguf"
	s.InstallDir = "/opt/llama.cpp"
	s.ServiceName = "llama-server"
	s.SystemdDir = "/etc/systemd/system"
	s.NginxDir = "/etc/nginx"

	if got := s.ModelPath(); got != "/srv/models/m.gguf" {
		t.Fatalf("ModelPath = %q", got)
	}
	if got := s.ServerBinary(); got != "/opt/llama.cpp/build/bin/llama-server" {
		t.Fatalf("ServerBinary = %q", got)
	}
	if got := s.BenchBinary(); got != "/opt/llama.cpp/build/bin/llama-bench" {
		t.Fatalf("BenchBinary = %q", got)
	}
	if got := s.UnitPath(); got != "/etc/systemd/system/llama-server.service" {
		t.Fatalf("UnitPath = %q", got)
	}
	if got := s.NginxSiteAvailable(); got != "/etc/nginx/sites-available/llama-server.conf" {
		t.Fatalf("NginxSiteAvailable = %q", got)
	}
	if got := s.NginxSiteEnabled(); got != "/etc/nginx/sites-enabled/llama-server.conf" {
		t.Fatalf("NginxSiteEnabled = %q", got)
	}
	if got := s.BaseURL(); got != "http://127.0.0.1:8080" {
		t.Fatalf("BaseURL = %q", got)
	}
	if got := s.ProxyURL(); got != "https://localhost:8443" {
		t.Fatalf("ProxyURL = %q (server_name _ should map to localhost)", got)
	}
	s.ServerName = "llm.example.com"
	if got := s.ProxyURL(); got != "https://llm.example.com:8443" {
		t.Fatalf("ProxyURL = %q", got)
	}
}

func TestExpandPaths(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	s := valid()
	if err := s.ExpandPaths(); err != nil {
		t.Fatalf("ExpandPaths: %v", err)
	}
	if want := filepath.Join(home, "models/llm"); s.ModelsDir != want {
		t.Fatalf("ModelsDir = %q, want %q", s.ModelsDir, want)
	}
	if want := filepath.Join(home, ".local/state/llamactl/deploy.log"); s.LogFile != want {
		t.Fatalf("LogFile = %q, want %q", s.LogFile, want)
	}
	// absolute paths pass through untouched
	if s.SystemdDir != "/etc/systemd/system" {
		t.Fatalf("SystemdDir = %q", s.SystemdDir)
	}
}
