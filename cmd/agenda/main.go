package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"agenda/internal/agenda"
	"agenda/internal/capture"
	"agenda/internal/config"
	"agenda/internal/grid"
	"agenda/internal/ics"
	appLog "agenda/internal/log"
	"agenda/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	date       string
	once       bool
	snapshot   string
	debug      bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.debug {
		conf.LogLevel = string(appLog.LevelDebug)
	}
	if err := appLog.Setup(appLog.Options{Level: conf.LogLevel, File: conf.LogFile}); err != nil {
		appLog.Error("failed to set up logging", err)
		os.Exit(1)
	}

	loc := conf.Location()
	ref := flags.date
	if ref == "" {
		ref = grid.FormatDate(time.Now().In(loc))
	}

	appLog.Info("agenda starting",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"locale", conf.Locale,
		"refresh", conf.RefreshCron,
		"calendars", len(conf.Calendars),
		"date", ref,
		"once", flags.once,
	)

	fetcher := ics.NewFetcher(conf.CacheDir,
		ics.WithTimeout(time.Duration(conf.FetchTimeoutSec)*time.Second),
		ics.WithRetry(conf.FetchRetries, conf.RetryDelay()),
		ics.WithMaxConcurrent(conf.MaxConcurrentFetches),
	)
	provider := ics.NewProvider(conf.Calendars, fetcher, loc)
	view, err := agenda.New(provider, ref,
		agenda.WithLocale(conf.Locale),
		agenda.WithClock(func() time.Time { return time.Now().In(loc) }),
	)
	if err != nil {
		appLog.Error("invalid reference date", err, "date", ref)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := view.Load(ctx); err != nil {
		// The server still starts; the next scheduled refresh may succeed.
		appLog.Warn("initial load failed", "error", err.Error())
		if flags.once {
			os.Exit(1)
		}
	}

	if flags.once {
		if err := renderText(os.Stdout, view.Snapshot()); err != nil {
			appLog.Error("failed to print grid", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, conf, view, flags.snapshot); err != nil {
		appLog.Error("agenda stopped with error", err)
		os.Exit(1)
	}
	appLog.Info("agenda exiting")
}

// run serves the web UI and refreshes the view on conf.RefreshCron until
// ctx is cancelled.
func run(ctx context.Context, conf *config.Config, view *agenda.View, snapshotPath string) error {
	srv := web.NewServer(conf, view, snapshotPath)

	takeSnapshot := func() {
		if snapshotPath == "" {
			return
		}
		sctx, cancel := context.WithTimeout(ctx, capture.DefaultTimeout)
		defer cancel()
		if err := capture.CalendarPNG(sctx, capture.Options{
			URL:        calendarURL(conf),
			OutputPath: snapshotPath,
		}); err != nil {
			appLog.Error("snapshot failed", err, "path", snapshotPath)
		}
	}

	c := cron.New()
	if _, err := c.AddFunc(conf.RefreshCron, func() {
		rctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		if err := view.Refresh(rctx); err != nil {
			if !errors.Is(err, agenda.ErrStale) {
				appLog.Warn("scheduled refresh failed", "error", err.Error())
			}
			return
		}
		takeSnapshot()
	}); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", conf.RefreshCron, err)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	errCh := make(chan error, 1)
	go func() { errCh <- web.StartServer(ctx, srv) }()

	if snapshotPath != "" {
		go func() {
			if waitHealthy(ctx, conf) {
				takeSnapshot()
			}
		}()
	}

	return <-errCh
}

// calendarURL is the local /calendar address, carrying basic auth
// credentials when configured.
func calendarURL(conf *config.Config) string {
	u := url.URL{Scheme: "http", Host: localAddr(conf.Listen), Path: "/calendar"}
	if conf.BasicAuth != nil && conf.BasicAuth.Username != "" {
		u.User = url.UserPassword(conf.BasicAuth.Username, conf.BasicAuth.Password)
	}
	return u.String()
}

// localAddr turns a listen address into one a local client can dial:
// an empty or unspecified host becomes loopback.
func localAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" {
		return net.JoinHostPort("127.0.0.1", port)
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		if ip.To4() == nil {
			return net.JoinHostPort("::1", port)
		}
		return net.JoinHostPort("127.0.0.1", port)
	}
	return listen
}

// waitHealthy polls /health until the server answers or ctx ends.
func waitHealthy(ctx context.Context, conf *config.Config) bool {
	healthURL := (&url.URL{Scheme: "http", Host: localAddr(conf.Listen), Path: "/health"}).String()
	client := &http.Client{Timeout: time.Second}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for range 50 {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
		if err != nil {
			return false
		}
		if resp, err := client.Do(req); err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return true
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return false
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/agenda/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.date, "date", "", "Reference date YYYY-MM-DD (default: today in the configured timezone)")
	flag.BoolVar(&cfg.once, "once", false, "Fetch once, print the month grid to stdout and exit")
	flag.StringVar(&cfg.snapshot, "snapshot", "", "Write a PNG of /calendar here after startup and every refresh")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
