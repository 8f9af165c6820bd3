// Command example runs a small demonstration of replicated sessions: a single
// page that stores and retrieves a text message in the HTTP session, with the
// session itself held in a shared backend so any node of a cluster can serve
// the request.
package main

import (
	"fmt"
	"html/template"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/avandras/gridsession"
)

type appConfig struct {
	Addr        string `envconfig:"ADDR" default:":8080"`
	Backend     string `envconfig:"BACKEND" default:"sqlite"`
	ClusterName string `envconfig:"CLUSTER_NAME" default:"demo-cluster"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB"`

	MemcachedServers []string `envconfig:"MEMCACHED_SERVERS" default:"localhost:11211"`
	SQLiteDSN        string   `envconfig:"SQLITE_DSN" default:"sessions.db"`
	PostgresDSN      string   `envconfig:"POSTGRES_DSN"`

	SessionTimeout int    `envconfig:"SESSION_TIMEOUT" default:"1800"` // seconds
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
}

var page = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head><title>Replicated Session Demo</title>
<style>
body { font-family: sans-serif; margin: 2em; }
.info { border: 1px solid #ccc; padding: 10px; background-color: #f9f9f9; border-radius: 5px; width: 600px; }
.message { font-weight: bold; color: #1565C0; }
.notice { color: #2E7D32; }
input[type=text] { width: 400px; }
</style>
</head>
<body>
<h1>Replicated Session Demo</h1>
<p>This application demonstrates session replication through a shared {{.Backend}} backend.</p>
{{if .Notice}}<p class="notice">{{.Notice}}</p>{{end}}
<div class="info">
Session ID: {{.SessionID}}<br>
Creation Time: {{.Created}}<br>
Last Accessed: {{.LastAccessed}}<br>
Max Inactive Interval: {{.MaxInactive}} seconds<br>
Is New: {{.IsNew}}<br>
Server Address: {{.ServerAddr}}<br>
Current Time: {{.Now}}
</div>
<form method="post" action="/save">
<p><label>Session Message: <input type="text" name="message" value="{{.Message}}" placeholder="Enter a message to store in session"></label></p>
<button type="submit">Save to Session</button>
<button type="submit" formaction="/load">Load from Session</button>
<button type="submit" formaction="/">Refresh Session Info</button>
<button type="submit" formaction="/destroy">End Session</button>
</form>
{{if .Loaded}}<p class="message">{{.Loaded}}</p>{{end}}
</body>
</html>
`))

type pageData struct {
	Backend      string
	Notice       string
	SessionID    string
	Created      string
	LastAccessed string
	MaxInactive  int
	IsNew        bool
	ServerAddr   string
	Now          string
	Message      string
	Loaded       string
}

type app struct {
	cfg  appConfig
	mgr  *gridsession.Manager
	cfgr *gridsession.Configurator
	log  zerolog.Logger
}

func main() {
	_ = godotenv.Load()

	var cfg appConfig
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	store, err := openStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Backend).Msg("failed to open session store")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := gridsession.NewMetrics(reg)

	policy := gridsession.DefaultPolicy()
	// Rendering state must never replicate: templates carry parsed trees and
	// function tables that do not survive gob.
	policy.ExcludeType((*template.Template)(nil))

	sanitizer := gridsession.NewSanitizer(gridsession.SanitizerConfig{
		Policy:  policy,
		Logger:  &logger,
		Metrics: metrics,
	})

	cfgr := gridsession.NewConfigurator(gridsession.ConfiguratorConfig{
		Sanitizer:   sanitizer,
		MaxInactive: cfg.SessionTimeout,
		SessionType: cfg.ClusterName,
		Logger:      &logger,
		Metrics:     metrics,
	})

	mgr := gridsession.NewManager(gridsession.Config{
		Store:            store,
		TTL:              time.Duration(cfg.SessionTimeout) * time.Second,
		MaxInactive:      cfg.SessionTimeout,
		CookieName:       "grid_session",
		OnSessionInit:    cfgr.SessionInit,
		OnSessionDestroy: cfgr.SessionDestroy,
	})
	defer mgr.Close()

	a := &app{cfg: cfg, mgr: mgr, cfgr: cfgr, log: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", a.index)
	r.Post("/", a.index)
	r.Post("/save", a.save)
	r.Post("/load", a.load)
	r.Post("/destroy", a.destroy)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	logger.Info().Str("addr", cfg.Addr).Str("backend", cfg.Backend).
		Str("cluster", cfg.ClusterName).Msg("server starting")
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func openStore(cfg appConfig) (gridsession.Store, error) {
	switch cfg.Backend {
	case "redis":
		return gridsession.NewRedisStore(gridsession.RedisConfig{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			ClusterName: cfg.ClusterName,
		}), nil
	case "memcached":
		timeout := time.Duration(cfg.SessionTimeout) * time.Second
		return gridsession.NewMemcachedStore(timeout, cfg.MemcachedServers...), nil
	case "sqlite":
		return gridsession.NewSQLiteStore(cfg.SQLiteDSN)
	case "postgres":
		return gridsession.NewPostgreSQLStore(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func (a *app) render(w http.ResponseWriter, r *http.Request, s *gridsession.Session, notice, loaded string) {
	a.cfgr.UIInit(s)

	message := ""
	if v, ok := s.Get("userMessage"); ok {
		if m, ok := v.(string); ok {
			message = m
		}
	}

	data := pageData{
		Backend:      a.cfg.Backend,
		Notice:       notice,
		SessionID:    s.ID,
		Created:      s.CreatedAt.Format(time.RFC1123),
		LastAccessed: s.LastAccessed.Format(time.RFC1123),
		MaxInactive:  s.MaxInactive,
		IsNew:        s.IsNew(),
		ServerAddr:   a.cfg.Addr,
		Now:          time.Now().Format("2006-01-02T15:04:05"),
		Message:      message,
		Loaded:       loaded,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := page.Execute(w, data); err != nil {
		a.log.Error().Err(err).Msg("failed to render page")
	}
}

func (a *app) index(w http.ResponseWriter, r *http.Request) {
	s, err := a.mgr.Get(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := a.mgr.Save(w, r, s); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a.render(w, r, s, "", "")
}

func (a *app) save(w http.ResponseWriter, r *http.Request) {
	s, err := a.mgr.Get(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	message := r.FormValue("message")
	if message == "" {
		a.render(w, r, s, "Please enter a message first!", "")
		return
	}

	s.Set("userMessage", message)
	s.Set("saveTime", time.Now().Format("2006-01-02T15:04:05"))

	if err := a.mgr.Save(w, r, s); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a.render(w, r, s, "Message saved to session!", "")
}

func (a *app) load(w http.ResponseWriter, r *http.Request) {
	s, err := a.mgr.Get(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := a.mgr.Save(w, r, s); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	loaded := "No message found in session"
	if v, ok := s.Get("userMessage"); ok {
		if m, ok := v.(string); ok {
			loaded = "Loaded from session: " + m
			if t, ok := s.Get("saveTime"); ok {
				if ts, ok := t.(string); ok {
					loaded += " (saved at: " + ts + ")"
				}
			}
		}
	}
	a.render(w, r, s, "", loaded)
}

func (a *app) destroy(w http.ResponseWriter, r *http.Request) {
	s, err := a.mgr.Get(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := a.mgr.Destroy(w, r, s); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
