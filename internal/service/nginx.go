package service

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"text/template"

	"github.com/khegiw/llamactl/internal/config"
)

// nginxSite is the reverse proxy server block. TLS, basic auth and rate
// limiting live here; the backend itself only ever listens on loopback.
const nginxSite = `# {{.Name}} reverse proxy. Managed by llamactl; manual edits are overwritten.

limit_req_zone $binary_remote_addr zone={{.Zone}}:10m rate={{.RateLimit}};

server {
    listen {{.ExternalPort}} ssl;
    server_name {{.ServerName}};

    ssl_certificate     {{.TLSCert}};
    ssl_certificate_key {{.TLSKey}};
    ssl_protocols       TLSv1.2 TLSv1.3;

    access_log {{.AccessLog}};
    error_log  {{.ErrorLog}};

    client_max_body_size 16m;

    # unauthenticated health probe
    location = /health {
        auth_basic off;
        proxy_pass http://{{.Upstream}}/health;
        proxy_set_header Host $host;
    }
{{if .Metrics}}
    # scrape endpoint: authenticated, exempt from the request rate zone
    location = /metrics {
        auth_basic           "{{.Realm}}";
        auth_basic_user_file {{.Htpasswd}};
        proxy_pass http://{{.Upstream}}/metrics;
        proxy_set_header Host $host;
    }
{{end}}
    location / {
        limit_req zone={{.Zone}} burst={{.Burst}} nodelay;
        limit_req_status 429;

        auth_basic           "{{.Realm}}";
        auth_basic_user_file {{.Htpasswd}};

        proxy_pass http://{{.Upstream}};
        proxy_http_version 1.1;
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header Connection "";

        # streamed completions must not be buffered
        proxy_buffering off;
        proxy_read_timeout 300s;
        proxy_send_timeout 300s;
    }
}
`

var nginxTmpl = template.Must(template.New("site").Option("missingkey=error").Parse(nginxSite))

type nginxData struct {
	Name         string
	Zone         string
	RateLimit    string
	Burst        int
	ExternalPort int
	ServerName   string
	TLSCert      string
	TLSKey       string
	AccessLog    string
	ErrorLog     string
	Realm        string
	Htpasswd     string
	Upstream     string
	Metrics      bool
}

// NginxContent renders the site config for s. Like UnitContent it is a pure
// function of the settings; rendering twice yields identical bytes.
func NginxContent(s *config.Settings) (string, error) {
	d := nginxData{
		Name:         s.ServiceName,
		Zone:         zoneName(s.ServiceName),
		RateLimit:    s.RateLimit,
		Burst:        s.RateBurst,
		ExternalPort: s.ExternalPort,
		ServerName:   s.ServerName,
		TLSCert:      s.TLSCert,
		TLSKey:       s.TLSKey,
		AccessLog:    s.NginxLogDir + "/" + s.ServiceName + ".access.log",
		ErrorLog:     s.NginxLogDir + "/" + s.ServiceName + ".error.log",
		Realm:        s.ServiceName,
		Htpasswd:     s.HtpasswdPath,
		Upstream:     upstreamAddr(s),
		Metrics:      !s.DisableMetrics,
	}
	var b strings.Builder
	if err := nginxTmpl.Execute(&b, d); err != nil {
		return "", fmt.Errorf("render nginx site: %w", err)
	}
	out := b.String()
	if strings.Contains(out, "{{") || strings.Contains(out, "}}") {
		return "", fmt.Errorf("nginx site rendered with unexpanded placeholders")
	}
	return out, nil
}

// upstreamAddr is the address nginx proxies to. A wildcard bind still gets
// proxied over loopback.
func upstreamAddr(s *config.Settings) string {
	host := s.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(s.Port))
}

func zoneName(service string) string {
	z := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, service)
	return z + "_rl"
}
