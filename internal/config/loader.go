package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/khegiw/llamactl/internal/fsutil"
)

// EnvPrefix guards every environment override, e.g. LLAMACTL_PORT=9090.
const EnvPrefix = "LLAMACTL_"

// Locate returns the first config file that exists, or "" when none does.
// Order: $LLAMACTL_CONFIG, ./llamactl.conf, ~/.config/llamactl/llamactl.conf,
// /etc/llamactl/llamactl.conf.
func Locate() string {
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	candidates := []string{
		"llamactl.conf",
		"~/.config/llamactl/llamactl.conf",
		"/etc/llamactl/llamactl.conf",
	}
	for _, c := range candidates {
		p, err := fsutil.ExpandHome(c)
		if err != nil {
			continue
		}
		if fsutil.PathExists(p) {
			return p
		}
	}
	return ""
}

// Load reads settings from path, then layers environment overrides and
// defaults on top. An empty path means "search the usual places"; when the
// search also comes up empty the result is pure defaults. The returned string
// is the file actually read, "" for none.
//
// The format follows the file extension: shell-style KEY=value for .conf and
// .env, otherwise YAML, TOML or JSON.
func Load(path string) (*Settings, string, error) {
	if path == "" {
		path = Locate()
	}
	s := &Settings{}
	if path != "" {
		expanded, err := fsutil.ExpandHome(path)
		if err != nil {
			return nil, "", err
		}
		path = expanded
		if err := readInto(s, path); err != nil {
			return nil, "", err
		}
	}
	if err := ApplyEnv(s, os.Environ()); err != nil {
		return nil, "", err
	}
	s.ApplyDefaults()
	if err := s.ExpandPaths(); err != nil {
		return nil, "", err
	}
	return s, path, nil
}

func readInto(s *Settings, path string) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".conf", ".env":
		kv, err := godotenv.Read(path)
		if err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return applyMap(s, kv, path)
	case ".yaml", ".yml":
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, s); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".toml":
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(raw, s); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".json":
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		if err := json.Unmarshal(raw, s); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config %s: unsupported extension %q", path, ext)
	}
	return nil
}

// ApplyEnv folds LLAMACTL_* variables into s. Keys match the shell config
// keys, so LLAMACTL_GPU_LAYERS=0 overrides gpu_layers from any file format.
func ApplyEnv(s *Settings, environ []string) error {
	for _, kv := range environ {
		name, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		key := strings.TrimPrefix(name, EnvPrefix)
		if key == "CONFIG" || key == "LOG_LEVEL" || key == "ASSUME_YES" {
			continue // consumed by the CLI, not the settings file
		}
		if err := applyKey(s, key, val); err != nil {
			return fmt.Errorf("environment %s: %w", name, err)
		}
	}
	return nil
}

func applyMap(s *Settings, kv map[string]string, path string) error {
	for key, val := range kv {
		if err := applyKey(s, strings.ToUpper(key), val); err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
	}
	return nil
}

// applyKey maps one shell-style key onto its Settings field.
func applyKey(s *Settings, key, val string) error {
	var err error
	switch key {
	case "BACKEND":
		s.Backend = strings.ToLower(val)
	case "MODEL_NAME":
		s.ModelName = val
	case "MODEL_URL":
		s.ModelURL = val
	case "MODELS_DIR":
		s.ModelsDir = val
	case "INSTALL_DIR":
		s.InstallDir = val
	case "LLAMA_REPO":
		s.LlamaRepo = val
	case "LLAMA_REF":
		s.LlamaRef = val
	case "BUILD_JOBS":
		s.BuildJobs, err = confInt(key, val)
	case "GPU_TARGET":
		s.GPUTarget = val
	case "HOST":
		s.Host = val
	case "PORT":
		s.Port, err = confInt(key, val)
	case "THREADS":
		s.Threads, err = confInt(key, val)
	case "GPU_LAYERS":
		s.GPULayers, err = confInt(key, val)
	case "CTX_SIZE":
		s.CtxSize, err = confInt(key, val)
	case "PARALLEL":
		s.Parallel, err = confInt(key, val)
	case "DISABLE_METRICS":
		s.DisableMetrics, err = confBool(key, val)
	case "GFX_OVERRIDE":
		s.GfxOverride = val
	case "SERVICE_NAME":
		s.ServiceName = val
	case "SERVICE_USER":
		s.ServiceUser = val
	case "MEMORY_MAX":
		s.MemoryMax = val
	case "CPU_QUOTA":
		s.CPUQuota = val
	case "SYSTEMD_DIR":
		s.SystemdDir = val
	case "DISABLE_PROXY":
		s.DisableProxy, err = confBool(key, val)
	case "SERVER_NAME":
		s.ServerName = val
	case "EXTERNAL_PORT":
		s.ExternalPort, err = confInt(key, val)
	case "TLS_CERT":
		s.TLSCert = val
	case "TLS_KEY":
		s.TLSKey = val
	case "RATE_LIMIT":
		s.RateLimit = val
	case "RATE_BURST":
		s.RateBurst, err = confInt(key, val)
	case "HTPASSWD_PATH":
		s.HtpasswdPath = val
	case "API_USERS":
		s.Users = splitList(val)
	case "NGINX_DIR":
		s.NginxDir = val
	case "NGINX_LOG_DIR":
		s.NginxLogDir = val
	case "SKIP_RUNTIME":
		s.SkipRuntime, err = confBool(key, val)
	case "SKIP_BUILD":
		s.SkipBuild, err = confBool(key, val)
	case "SKIP_MODEL":
		s.SkipModel, err = confBool(key, val)
	case "TUNNEL_ENABLED":
		s.TunnelEnabled, err = confBool(key, val)
	case "TUNNEL_PROVIDER":
		s.TunnelProvider = strings.ToLower(val)
	case "TUNNEL_SSH_HOST":
		s.TunnelSSHHost = val
	case "LOG_FILE":
		s.LogFile = val
	case "BACKUP_DIR":
		s.BackupDir = val
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return err
}

func confInt(key, val string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, val)
	}
	return n, nil
}

func confBool(key, val string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	}
	return false, fmt.Errorf("%s: %q is not a boolean", key, val)
}

// splitList accepts comma or whitespace separated user lists.
func splitList(val string) []string {
	fields := strings.FieldsFunc(val, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
