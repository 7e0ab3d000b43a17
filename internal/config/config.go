// Package config loads and validates the settings that drive deployment and
// operations. One file, read once at process start; the tooling never writes
// it back.
package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/khegiw/llamactl/internal/fsutil"
)

// Backends the build and service layers understand.
const (
	BackendROCm   = "rocm"
	BackendVulkan = "vulkan"
)

// Tunnel providers the tunnel command understands.
const (
	TunnelCloudflared = "cloudflared"
	TunnelSSH         = "ssh"
)

// Settings holds every runtime parameter. Zero values mean "unspecified" and
// are replaced by ApplyDefaults.
type Settings struct {
	// Backend selects the GPU compute stack: "rocm" or "vulkan". It must be
	// set explicitly; nothing is inferred from the machine.
	Backend string `json:"backend" yaml:"backend" toml:"backend"`

	// Model artifact.
	ModelName string `json:"model_name" yaml:"model_name" toml:"model_name"`
	ModelURL  string `json:"model_url" yaml:"model_url" toml:"model_url"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`

	// llama.cpp checkout and build.
	InstallDir string `json:"install_dir" yaml:"install_dir" toml:"install_dir"`
	LlamaRepo  string `json:"llama_repo" yaml:"llama_repo" toml:"llama_repo"`
	LlamaRef   string `json:"llama_ref" yaml:"llama_ref" toml:"llama_ref"`
	BuildJobs  int    `json:"build_jobs" yaml:"build_jobs" toml:"build_jobs"`
	// GPUTarget narrows the ROCm build to one architecture (AMDGPU_TARGETS).
	GPUTarget string `json:"gpu_target" yaml:"gpu_target" toml:"gpu_target"`

	// llama-server runtime.
	Host      string `json:"host" yaml:"host" toml:"host"`
	Port      int    `json:"port" yaml:"port" toml:"port"`
	Threads   int    `json:"threads" yaml:"threads" toml:"threads"`
	GPULayers int    `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	CtxSize   int    `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	Parallel  int    `json:"parallel" yaml:"parallel" toml:"parallel"`
	// DisableMetrics leaves --metrics off the server command line.
	DisableMetrics bool `json:"disable_metrics" yaml:"disable_metrics" toml:"disable_metrics"`
	// GfxOverride sets HSA_OVERRIDE_GFX_VERSION for ROCm on unsupported APUs.
	GfxOverride string `json:"gfx_override" yaml:"gfx_override" toml:"gfx_override"`

	// systemd service.
	ServiceName string `json:"service_name" yaml:"service_name" toml:"service_name"`
	ServiceUser string `json:"service_user" yaml:"service_user" toml:"service_user"`
	MemoryMax   string `json:"memory_max" yaml:"memory_max" toml:"memory_max"`
	CPUQuota    string `json:"cpu_quota" yaml:"cpu_quota" toml:"cpu_quota"`
	SystemdDir  string `json:"systemd_dir" yaml:"systemd_dir" toml:"systemd_dir"`

	// nginx reverse proxy. On unless disabled; the backend then listens on
	// loopback only and nothing fronts it.
	DisableProxy bool     `json:"disable_proxy" yaml:"disable_proxy" toml:"disable_proxy"`
	ServerName   string   `json:"server_name" yaml:"server_name" toml:"server_name"`
	ExternalPort int      `json:"external_port" yaml:"external_port" toml:"external_port"`
	TLSCert      string   `json:"tls_cert" yaml:"tls_cert" toml:"tls_cert"`
	TLSKey       string   `json:"tls_key" yaml:"tls_key" toml:"tls_key"`
	RateLimit    string   `json:"rate_limit" yaml:"rate_limit" toml:"rate_limit"`
	RateBurst    int      `json:"rate_burst" yaml:"rate_burst" toml:"rate_burst"`
	HtpasswdPath string   `json:"htpasswd_path" yaml:"htpasswd_path" toml:"htpasswd_path"`
	Users        []string `json:"api_users" yaml:"api_users" toml:"api_users"`
	NginxDir     string   `json:"nginx_dir" yaml:"nginx_dir" toml:"nginx_dir"`
	NginxLogDir  string   `json:"nginx_log_dir" yaml:"nginx_log_dir" toml:"nginx_log_dir"`

	// Deployment phase toggles. Every phase runs unless skipped.
	SkipRuntime bool `json:"skip_runtime" yaml:"skip_runtime" toml:"skip_runtime"`
	SkipBuild   bool `json:"skip_build" yaml:"skip_build" toml:"skip_build"`
	SkipModel   bool `json:"skip_model" yaml:"skip_model" toml:"skip_model"`

	// Optional tunnel for remote access.
	TunnelEnabled  bool   `json:"tunnel_enabled" yaml:"tunnel_enabled" toml:"tunnel_enabled"`
	TunnelProvider string `json:"tunnel_provider" yaml:"tunnel_provider" toml:"tunnel_provider"`
	TunnelSSHHost  string `json:"tunnel_ssh_host" yaml:"tunnel_ssh_host" toml:"tunnel_ssh_host"`

	// Tool housekeeping.
	LogFile   string `json:"log_file" yaml:"log_file" toml:"log_file"`
	BackupDir string `json:"backup_dir" yaml:"backup_dir" toml:"backup_dir"`
}

// ApplyDefaults fills every unspecified field with its documented default.
// Backend deliberately has none.
func (s *Settings) ApplyDefaults() {
	if s.ModelName == "" {
		s.ModelName = "qwen2.5-7b-instruct-q4_k_m.gguf"
	}
	if s.ModelURL == "" {
		s.ModelURL = "https://huggingface.co/Qwen/Qwen2.5-7B-Instruct-GGUF/resolve/main/" + s.ModelName
	}
	if s.ModelsDir == "" {
		s.ModelsDir = "~/models/llm"
	}
	if s.InstallDir == "" {
		s.InstallDir = "~/src/llama.cpp"
	}
	if s.LlamaRepo == "" {
		s.LlamaRepo = "https://github.com/ggerganov/llama.cpp.git"
	}
	if s.Host == "" {
		s.Host = "127.0.0.1"
	}
	if s.Port == 0 {
		s.Port = 8080
	}
	if s.Threads == 0 {
		s.Threads = 8
	}
	if s.GPULayers == 0 {
		s.GPULayers = 99
	}
	if s.CtxSize == 0 {
		s.CtxSize = 8192
	}
	if s.Parallel == 0 {
		s.Parallel = 2
	}
	if s.ServiceName == "" {
		s.ServiceName = "llama-server"
	}
	if s.MemoryMax == "" {
		s.MemoryMax = "24G"
	}
	if s.SystemdDir == "" {
		s.SystemdDir = "/etc/systemd/system"
	}
	if s.ServerName == "" {
		s.ServerName = "_"
	}
	if s.ExternalPort == 0 {
		s.ExternalPort = 8443
	}
	if s.TLSCert == "" {
		s.TLSCert = "/etc/ssl/certs/llama-server.crt"
	}
	if s.TLSKey == "" {
		s.TLSKey = "/etc/ssl/private/llama-server.key"
	}
	if s.RateLimit == "" {
		s.RateLimit = "30r/m"
	}
	if s.RateBurst == 0 {
		s.RateBurst = 10
	}
	if s.HtpasswdPath == "" {
		s.HtpasswdPath = "/etc/nginx/.htpasswd-llama"
	}
	if s.NginxDir == "" {
		s.NginxDir = "/etc/nginx"
	}
	if s.NginxLogDir == "" {
		s.NginxLogDir = "/var/log/nginx"
	}
	if s.TunnelProvider == "" {
		s.TunnelProvider = TunnelCloudflared
	}
	if s.LogFile == "" {
		s.LogFile = "~/.local/state/llamactl/deploy.log"
	}
	if s.BackupDir == "" {
		s.BackupDir = "~/.local/state/llamactl/backups"
	}
}

// ExpandPaths resolves '~'-relative path settings against the home
// directory. The loader runs it once after defaults are applied, so the
// rest of the tool only ever sees absolute paths.
func (s *Settings) ExpandPaths() error {
	for _, p := range []*string{
		&s.ModelsDir, &s.InstallDir, &s.SystemdDir, &s.NginxDir, &s.NginxLogDir,
		&s.TLSCert, &s.TLSKey, &s.HtpasswdPath, &s.LogFile, &s.BackupDir,
	} {
		v, err := fsutil.ExpandHome(*p)
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

var (
	rateLimitRe = regexp.MustCompile(`^[0-9]+r/[sm]$`)
	memoryMaxRe = regexp.MustCompile(`^[0-9]+(%|[KMGT])?$`)
	cpuQuotaRe  = regexp.MustCompile(`^[0-9]+%$`)
)

// Validate checks the settings a deployment depends on. Read-only commands
// tolerate a missing backend; deploy and service reconciliation do not.
func (s *Settings) Validate() error {
	switch s.Backend {
	case BackendROCm, BackendVulkan:
	case "":
		return fmt.Errorf("backend must be set to %q or %q", BackendROCm, BackendVulkan)
	default:
		return fmt.Errorf("unknown backend %q (want %q or %q)", s.Backend, BackendROCm, BackendVulkan)
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port %d out of range", s.Port)
	}
	if s.Threads < 1 {
		return fmt.Errorf("threads must be >= 1, got %d", s.Threads)
	}
	if s.GPULayers < 0 {
		return fmt.Errorf("gpu_layers must be >= 0, got %d", s.GPULayers)
	}
	if s.CtxSize < 256 {
		return fmt.Errorf("ctx_size %d too small (minimum 256)", s.CtxSize)
	}
	if s.Parallel < 1 {
		return fmt.Errorf("parallel must be >= 1, got %d", s.Parallel)
	}
	if s.MemoryMax != "" && !memoryMaxRe.MatchString(s.MemoryMax) {
		return fmt.Errorf("memory_max %q is not a systemd size (e.g. 24G)", s.MemoryMax)
	}
	if s.CPUQuota != "" && !cpuQuotaRe.MatchString(s.CPUQuota) {
		return fmt.Errorf("cpu_quota %q is not a percentage (e.g. 800%%)", s.CPUQuota)
	}
	if !s.DisableProxy {
		if s.ExternalPort < 1 || s.ExternalPort > 65535 {
			return fmt.Errorf("external_port %d out of range", s.ExternalPort)
		}
		if s.ExternalPort == s.Port {
			return fmt.Errorf("external_port %d collides with the backend port", s.ExternalPort)
		}
		if !rateLimitRe.MatchString(s.RateLimit) {
			return fmt.Errorf("rate_limit %q is not of the form <n>r/s or <n>r/m", s.RateLimit)
		}
		if s.RateBurst < 1 {
			return fmt.Errorf("rate_burst must be >= 1, got %d", s.RateBurst)
		}
		if len(s.Users) == 0 {
			return fmt.Errorf("proxy enabled but api_users is empty; nobody could authenticate")
		}
	}
	if s.TunnelEnabled {
		switch s.TunnelProvider {
		case TunnelCloudflared:
		case TunnelSSH:
			if s.TunnelSSHHost == "" {
				return fmt.Errorf("tunnel_provider ssh requires tunnel_ssh_host")
			}
		default:
			return fmt.Errorf("unknown tunnel_provider %q (want %q or %q)", s.TunnelProvider, TunnelCloudflared, TunnelSSH)
		}
	}
	for _, u := range s.Users {
		if strings.ContainsAny(u, ": \t") || u == "" {
			return fmt.Errorf("invalid username %q (no colons or whitespace)", u)
		}
	}
	return nil
}

// ModelPath is the artifact location the server and downloader agree on.
func (s *Settings) ModelPath() string {
	return filepath.Join(s.ModelsDir, s.ModelName)
}

// ServerBinary is where the build phase leaves llama-server.
func (s *Settings) ServerBinary() string {
	return filepath.Join(s.InstallDir, "build", "bin", "llama-server")
}

// BenchBinary is where the build phase leaves llama-bench.
func (s *Settings) BenchBinary() string {
	return filepath.Join(s.InstallDir, "build", "bin", "llama-bench")
}

// UnitPath is the installed systemd unit file.
func (s *Settings) UnitPath() string {
	return filepath.Join(s.SystemdDir, s.ServiceName+".service")
}

// NginxSiteAvailable is the rendered proxy config.
func (s *Settings) NginxSiteAvailable() string {
	return filepath.Join(s.NginxDir, "sites-available", s.ServiceName+".conf")
}

// NginxSiteEnabled is the activation symlink for the proxy config.
func (s *Settings) NginxSiteEnabled() string {
	return filepath.Join(s.NginxDir, "sites-enabled", s.ServiceName+".conf")
}

// BaseURL is the backend server address probes talk to.
func (s *Settings) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", s.Host, s.Port)
}

// ProxyURL is the external address probes talk to through nginx.
func (s *Settings) ProxyURL() string {
	host := s.ServerName
	if host == "" || host == "_" {
		host = "localhost"
	}
	return fmt.Sprintf("https://%s:%d", host, s.ExternalPort)
}
