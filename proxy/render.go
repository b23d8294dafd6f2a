// Package proxy is the reverse-proxy reconciler (spec C5): it renders
// one nginx configuration per host from the set of live agents on that
// host and installs it, locally via atomic file replace or remotely via
// docker exec.
//
// Grounded on the teacher's docker/nginx.go for the "temp-file-then-
// rename is the only safe way to replace a config a running server is
// reading" idea (the teacher never had a remote host, only the local
// reload path; the exec path here is modeled on
// Will-Luck-Docker-Sentinel's practice of keeping container operations
// as small single-purpose HostClient methods, applied to dockerfacade).
package proxy

import (
	"fmt"
	"sort"
	"strings"
)

// AgentRoute is the minimal data the renderer needs about one agent to
// produce its upstream + location blocks.
type AgentRoute struct {
	AgentID string
	Port    int
}

// HostConfig is the complete set of inputs to render one host's proxy
// configuration.
type HostConfig struct {
	HostID   string
	Agents   []AgentRoute
	GUIPort  int // 0 if no GUI present on this host
	GUIImage string
}

// Render produces the nginx config text for cfg. Agents are sorted by
// AgentID before rendering so two calls with the same logical agent set
// produce byte-identical output (spec §4.5's idempotence invariant).
func Render(cfg HostConfig) string {
	agents := append([]AgentRoute(nil), cfg.Agents...)
	sort.Slice(agents, func(i, j int) bool { return agents[i].AgentID < agents[j].AgentID })

	var b strings.Builder
	b.WriteString("# generated by the fleet manager reverse-proxy reconciler\n")
	b.WriteString("# do not edit by hand; changes are overwritten on the next reconcile\n\n")

	for _, a := range agents {
		fmt.Fprintf(&b, "upstream agent_%s {\n    server 127.0.0.1:%d;\n}\n\n", sanitizeUpstreamName(a.AgentID), a.Port)
	}
	if cfg.GUIPort != 0 {
		fmt.Fprintf(&b, "upstream gui {\n    server 127.0.0.1:%d;\n}\n\n", cfg.GUIPort)
	}

	b.WriteString("server {\n")
	b.WriteString("    listen 80;\n\n")

	for _, a := range agents {
		name := sanitizeUpstreamName(a.AgentID)
		fmt.Fprintf(&b, "    location /api/%s/ {\n        proxy_pass http://agent_%s/;\n    }\n\n", a.AgentID, name)
		fmt.Fprintf(&b, "    location /agent/%s/ {\n        proxy_pass http://agent_%s/;\n    }\n\n", a.AgentID, name)
	}
	if cfg.GUIPort != 0 {
		b.WriteString("    location / {\n        proxy_pass http://gui/;\n    }\n\n")
	}

	b.WriteString("}\n")
	return b.String()
}

// sanitizeUpstreamName makes an agent_id safe to use as an nginx
// upstream block name, where hyphens are not valid identifier
// characters.
func sanitizeUpstreamName(agentID string) string {
	return strings.ReplaceAll(agentID, "-", "_")
}
