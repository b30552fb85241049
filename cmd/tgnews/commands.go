package main

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lifeexplorer230/tg-news-bot-sub000/health"
	"github.com/lifeexplorer230/tg-news-bot-sub000/scheduler"
	"github.com/lifeexplorer230/tg-news-bot-sub000/storage"
)

type cmdListener struct{}

func (cmdListener) Execute(_ []string) error {
	var a, err = newApp()
	if err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	tc, err := a.newTelegram()
	if err != nil {
		return err
	}

	var ctx, cancel = signalContext()
	defer cancel()
	return tc.Run(ctx, func(ctx context.Context) error {
		return a.runListener(ctx, tc, store)
	})
}

type cmdProcessor struct{}

func (cmdProcessor) Execute(_ []string) error {
	var a, err = newApp()
	if err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	tc, err := a.newTelegram()
	if err != nil {
		return err
	}

	var ctx, cancel = signalContext()
	defer cancel()
	return tc.Run(ctx, func(ctx context.Context) error {
		var conv, err = a.openConversation(ctx, tc)
		if err != nil {
			return err
		}
		proc, err := a.buildProcessor(store, tc, conv)
		if err != nil {
			return err
		}
		report, err := proc.Run(ctx)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"fetched":   report.Fetched,
			"published": report.Published,
			"cancelled": report.Cancelled,
		}).Info("processor pass finished")
		return nil
	})
}

type cmdAll struct{}

func (cmdAll) Execute(_ []string) error {
	var a, err = newApp()
	if err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	tc, err := a.newTelegram()
	if err != nil {
		return err
	}
	tz, err := a.timezone()
	if err != nil {
		return err
	}

	var ctx, cancel = signalContext()
	defer cancel()
	return tc.Run(ctx, func(ctx context.Context) error {
		var conv, err = a.openConversation(ctx, tc)
		if err != nil {
			return err
		}
		proc, err := a.buildProcessor(store, tc, conv)
		if err != nil {
			return err
		}

		var opts = scheduler.Options{
			RunListener: func(ctx context.Context) error {
				return a.runListener(ctx, tc, store)
			},
			Processor: func(ctx context.Context) error {
				var _, err = proc.Run(ctx)
				return err
			},
			ScheduleMinutes: a.cfg.Processor.ScheduleMinutes(),
			Timezone:        tz,
			WeeklyCleanup:   a.cfg.Cleanup.RunWeekly,
			Cleanup: func(ctx context.Context) error {
				return runCleanup(ctx, store, a)
			},
		}
		if a.env.StatusToken != "" && a.env.StatusChat != "" {
			var reporter = health.NewStatusReporter(a.env.StatusToken, a.env.StatusChat, store, tz, a.profile)
			opts.Status = reporter.Send
			opts.StatusInterval = time.Duration(a.cfg.Processor.StatusIntervalMinutes) * time.Minute
		}
		return scheduler.RunAll(ctx, opts)
	})
}

func runCleanup(ctx context.Context, store *storage.Store, a *app) error {
	var res, err = store.Cleanup(ctx, a.cfg.Cleanup.RawMessagesDays, a.cfg.Cleanup.PublishedDays)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"raw_removed":       res.RawRemoved,
		"published_removed": res.PublishedRemoved,
	}).Info("cleanup pass finished")
	return nil
}

type cmdAuth struct{}

func (cmdAuth) Execute(_ []string) error {
	var a, err = newApp()
	if err != nil {
		return err
	}
	tc, err := a.newTelegram()
	if err != nil {
		return err
	}
	var ctx, cancel = signalContext()
	defer cancel()
	return tc.Authorize(ctx)
}

type cmdSendStatus struct{}

func (cmdSendStatus) Execute(_ []string) error {
	var a, err = newApp()
	if err != nil {
		return err
	}
	if a.env.StatusToken == "" || a.env.StatusChat == "" {
		return fmt.Errorf("send-status requires STATUS_TOKEN and STATUS_CHAT_ID")
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	tz, err := a.timezone()
	if err != nil {
		return err
	}

	var ctx, cancel = signalContext()
	defer cancel()
	return health.NewStatusReporter(a.env.StatusToken, a.env.StatusChat, store, tz, a.profile).Send(ctx)
}

type cmdCheckHealth struct {
	JSON  bool `long:"json" description:"Emit the report as JSON"`
	Quiet bool `long:"quiet" description:"Print only the status word"`
}

func (c *cmdCheckHealth) Execute(_ []string) error {
	var cfg, profile, err = loadConfig()
	if err != nil {
		return err
	}
	var checker = health.NewChecker(
		cfg.Paths.ExpandPath(cfg.Listener.Healthcheck.HeartbeatPath, profile),
		time.Duration(cfg.Listener.Healthcheck.MaxAgeSeconds)*time.Second,
		cfg.Paths.DBPath(profile),
	)

	var ctx, cancel = signalContext()
	defer cancel()
	var rep = checker.Check(ctx)
	if err := rep.Render(os.Stdout, c.JSON, c.Quiet); err != nil {
		return err
	}
	os.Exit(rep.State.ExitCode())
	return nil
}

type cmdHealthServer struct {
	Host string `long:"host" default:"127.0.0.1" description:"Bind address"`
	Port int    `long:"port" default:"8080" description:"Bind port"`
}

func (c *cmdHealthServer) Execute(_ []string) error {
	var cfg, profile, err = loadConfig()
	if err != nil {
		return err
	}
	var checker = health.NewChecker(
		cfg.Paths.ExpandPath(cfg.Listener.Healthcheck.HeartbeatPath, profile),
		time.Duration(cfg.Listener.Healthcheck.MaxAgeSeconds)*time.Second,
		cfg.Paths.DBPath(profile),
	)

	var ctx, cancel = signalContext()
	defer cancel()
	return health.NewServer(checker, c.Host, c.Port).Run(ctx)
}

type cmdMigrate struct{}

func (cmdMigrate) Execute(_ []string) error {
	var a, err = newApp()
	if err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	var ctx, cancel = signalContext()
	defer cancel()
	res, err := store.MigrateEmbeddings(ctx)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"scanned":    res.Scanned,
		"migrated":   res.Migrated,
		"already_ok": res.AlreadyOK,
		"failed":     res.Failed,
	}).Info("embedding migration finished")
	if res.Failed > 0 {
		return fmt.Errorf("embedding migration: %d rows failed", res.Failed)
	}
	return nil
}
