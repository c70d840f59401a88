package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/morezero/coordinator/pkg/coordinator"
	"github.com/morezero/coordinator/pkg/dispatch"
	"github.com/morezero/coordinator/pkg/dispatcher"
	"github.com/morezero/coordinator/pkg/registry"
)

const httpLogPrefix = "server:http"

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/capabilities", s.handleCapabilities)
	return mux
}

// handleHealth serves the control-plane health method; a degraded
// dependency answers 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()

	resp := s.disp.Dispatch(ctx, &dispatcher.ControlRequest{ID: "http-health", Method: "health"})
	status := http.StatusOK
	if h, ok := resp.Result.(map[string]interface{}); !ok || h["status"] != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp.Result)
}

// handleCapabilities lists live capabilities, with their state for the
// session named by the session query parameter.
func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	params, _ := json.Marshal(dispatcher.SessionParams{Session: r.URL.Query().Get("session")})
	resp := s.disp.Dispatch(r.Context(), &dispatcher.ControlRequest{
		ID:     "http-capabilities",
		Method: "capabilities",
		Params: params,
	})
	if !resp.Ok {
		writeJSON(w, http.StatusBadRequest, resp.Error)
		return
	}
	writeJSON(w, http.StatusOK, resp.Result)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - json encode: %v", httpLogPrefix, err))
	}
}

// homePageTemplate is the HTML overview of live capabilities and outstanding batches.
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Coordinator {{.Originator}}</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1, h2 { color: #0066cc; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
  </style>
</head>
<body>
  <h1>Coordinator {{.Originator}}</h1>
  <p class="meta">Generated {{.Timestamp}}</p>

  <section>
    <h2>Statistics</h2>
    <p>Live capabilities: <span class="stat">{{.Stats.Capabilities}}</span></p>
    <p>Sessions with gate state: <span class="stat">{{.Stats.Sessions}}</span></p>
    <p>Outstanding batches: <span class="stat">{{.Stats.Batches}}</span></p>
    <p>Active streams: <span class="stat">{{.Stats.Streams}}</span></p>
  </section>

  <section>
    <h2>Capabilities</h2>
    {{if not .Capabilities}}
    <p>No capabilities registered.</p>
    {{else}}
    <table>
      <thead>
        <tr><th>Capability</th><th>Version</th><th>Actions</th><th>Description</th><th>Expires</th></tr>
      </thead>
      <tbody>
        {{range .Capabilities}}
        <tr>
          <td>{{.Capability}}</td>
          <td>{{.Version}}</td>
          <td>{{range .Actions}}{{.}} {{end}}</td>
          <td>{{.Description}}</td>
          <td>{{if .Pinned}}pinned{{else}}{{.ExpiresAt}}{{end}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>

  <section>
    <h2>Batches</h2>
    {{if not .Batches}}
    <p>No outstanding batches.</p>
    {{else}}
    <table>
      <thead>
        <tr><th>Batch</th><th>Session</th><th>Created</th><th>Pending</th><th>Stale sweeps</th></tr>
      </thead>
      <tbody>
        {{range .Batches}}
        <tr>
          <td>{{.ID}}</td>
          <td>{{.Session}}</td>
          <td>{{.Created.Format "2006-01-02T15:04:05Z07:00"}}</td>
          <td>{{.Pending}} / {{.Size}}</td>
          <td>{{.StaleSweeps}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Originator   string
	Timestamp    string
	Stats        coordinator.Stats
	Capabilities []registry.Summary
	Batches      []dispatch.Summary
}

func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		data := homeData{
			Originator:   s.coord.Originator(),
			Timestamp:    s.coord.Now().UTC().Format(time.RFC3339),
			Stats:        s.coord.Stats(),
			Capabilities: s.coord.Registry().Available(),
			Batches:      s.coord.Correlator().List(),
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", httpLogPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
