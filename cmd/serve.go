package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"srt-gateway/internal/config"
	"srt-gateway/internal/engine"
	"srt-gateway/internal/logprob"
	"srt-gateway/internal/server"
	"srt-gateway/internal/supervisor"
	"srt-gateway/internal/template"
	"srt-gateway/internal/translator"
	"srt-gateway/internal/warmup"
)

const serveUsage = `Usage:
  srt-gateway serve --config <path> [--port <port>] [--readiness-fd <fd>]

Flags:
  --config       string   Path to YAML configuration file (required)
  --port         int      Override server port from configuration
  --readiness-fd int      Inherited pipe fd for reporting startup state`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	var readinessFD int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")
	fs.IntVar(&readinessFD, "readiness-fd", 0, "inherited readiness pipe fd")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	if cfgPath == "" {
		return errors.New("serve command requires --config <path>")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	registry := template.NewRegistry()
	templateName, err := resolveChatTemplate(registry, cfg.Server.ChatTemplate)
	if err != nil {
		return err
	}
	cfg.Server.ChatTemplate = templateName

	sup := supervisor.New(cfg.Workers)
	if err := sup.Launch(ctx); err != nil {
		return err
	}
	defer sup.TeardownAll()

	client, err := engine.NewHTTPClient(cfg.Engine.BaseURL, nil)
	if err != nil {
		return err
	}

	bridge, err := logprob.NewBridge(client)
	if err != nil {
		return err
	}

	chat, err := translator.NewChatAdapter(registry, templateName, client)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, client, bridge, chat)
	if err != nil {
		return err
	}

	var report *supervisor.ReadinessChannel
	if readinessFD > 0 {
		report = supervisor.NotifyFile(os.NewFile(uintptr(readinessFD), "readiness"))
	}
	monitor := warmup.NewMonitor(cfg.URL(), cfg.Server.APIKey, report)
	go monitor.Run(ctx)

	return srv.Run(ctx)
}

// resolveChatTemplate maps the configured template to a registered name: a
// builtin name is used directly, anything else is loaded as a template file.
func resolveChatTemplate(registry *template.Registry, configured string) (string, error) {
	if configured == "" {
		return "", nil
	}
	if registry.Exists(configured) {
		return configured, nil
	}
	if _, err := os.Stat(configured); err != nil {
		return "", fmt.Errorf("chat template %q is not a builtin template name or a readable template file", configured)
	}
	return registry.LoadFile(configured)
}
