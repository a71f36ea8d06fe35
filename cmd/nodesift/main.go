package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/John-Robertt/nodesift/internal/config"
	"github.com/John-Robertt/nodesift/internal/pipeline"
	"github.com/sirupsen/logrus"
)

const (
	exitOK     = 0
	exitRun    = 1
	exitConfig = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("nodesift", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "nodesift.yaml", "配置文件路径")
	logLevel := fs.String("log-level", "", "日志级别（debug/info/warn/error），默认读取 LOG_LEVEL")
	timeout := fs.Duration("timeout", 0, "整次运行的超时，0 表示不限制")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	log := logrus.New()
	log.SetOutput(stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(parseLevel(*logLevel, os.Getenv("LOG_LEVEL")))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithField("stage", "parse_config").Errorf("load config: %v", err)
		return exitConfig
	}

	deps, err := pipeline.NewDeps(cfg, log)
	if err != nil {
		log.Errorf("init: %v", err)
		return exitConfig
	}
	defer deps.Close()

	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	start := time.Now()
	rep, err := pipeline.Run(ctx, cfg, *deps)
	if err != nil {
		log.Errorf("run failed after %s: %v", time.Since(start).Round(time.Millisecond), err)
		return exitRun
	}
	if rep.FetchErr != nil {
		log.Warnf("some sources were unavailable: %v", rep.FetchErr)
	}
	return exitOK
}

// parseLevel prefers the flag, then the environment, then info.
func parseLevel(flagValue, envValue string) logrus.Level {
	for _, v := range []string{flagValue, envValue} {
		if v = strings.TrimSpace(v); v == "" {
			continue
		}
		if lvl, err := logrus.ParseLevel(v); err == nil {
			return lvl
		}
	}
	return logrus.InfoLevel
}
