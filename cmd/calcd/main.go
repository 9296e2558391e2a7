package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	calcd "github.com/calcify/calcd"
)

var (
	Version   = ""
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Name = "calcd"
	app.Usage = "calculations web service"
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "path to the TOML config file",
			Value:   "calcd.toml",
			EnvVars: []string{"CALCD_CONFIG"},
		},
	}
	app.Action = serve
	app.Commands = []*cli.Command{
		{
			Name:   "serve",
			Usage:  "run the API server (default)",
			Action: serve,
		},
		{
			Name:   "migrate",
			Usage:  "apply database schema migrations and exit",
			Action: migrate,
		},
		{
			Name:  "drop",
			Usage: "drop all database tables",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "force",
					Usage: "confirm the drop; without it the database is preserved",
				},
			},
			Action: drop,
		},
		{
			Name:  "seed",
			Usage: "insert fake users and calculations",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  "users",
					Usage: "number of users to create",
					Value: 5,
				},
				&cli.IntFlag{
					Name:  "per-user",
					Usage: "calculations per user",
					Value: 3,
				},
				&cli.IntFlag{
					Name:  "concurrency",
					Usage: "maximum concurrent insert jobs",
					Value: 4,
				},
				&cli.StringFlag{
					Name:  "password",
					Usage: "password assigned to all seeded users",
					Value: "changeme123",
				},
				&cli.Uint64Flag{
					Name:  "seed",
					Usage: "faker seed, for reproducible data",
					Value: 12345,
				},
			},
			Action: seed,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(cliCtx *cli.Context) (*calcd.Config, error) {
	cfg, err := calcd.ReadConfig(cliCtx.String("config"))
	if err != nil {
		return nil, err
	}

	level, err := calcd.ParseLogLevel(cfg.Server.LogLevel)
	if err != nil {
		return nil, err
	}
	calcd.SetLogLevel(level)

	return cfg, nil
}

func serve(cliCtx *cli.Context) error {
	cfg, err := loadConfig(cliCtx)
	if err != nil {
		return err
	}

	_, shutdown, err := calcd.Start(cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	sig := <-sigs
	slog.Info("caught signal, shutting down", "signal", sig)
	return nil
}

func openStore(cliCtx *cli.Context) (*calcd.PGStore, error) {
	cfg, err := loadConfig(cliCtx)
	if err != nil {
		return nil, err
	}
	if cfg.Database.URL == "" {
		return nil, errors.New("database url must be set")
	}
	dbURL, err := calcd.ReadFromEnvOrConfig(cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	return calcd.NewPGStore(cliCtx.Context, dbURL, cfg.Database.MaxConns)
}

func migrate(cliCtx *cli.Context) error {
	store, err := openStore(cliCtx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(cliCtx.Context); err != nil {
		return err
	}
	slog.Info("migrations applied")
	return nil
}

func drop(cliCtx *cli.Context) error {
	if !cliCtx.Bool("force") {
		return errors.New("refusing to drop database tables, pass --force to confirm")
	}

	store, err := openStore(cliCtx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Drop(cliCtx.Context); err != nil {
		return err
	}
	slog.Info("database tables dropped")
	return nil
}

func seed(cliCtx *cli.Context) error {
	store, err := openStore(cliCtx)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(cliCtx.Context)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	return calcd.Seed(ctx, store, calcd.SeedConfig{
		Users:               cliCtx.Int("users"),
		CalculationsPerUser: cliCtx.Int("per-user"),
		MaxConcurrent:       cliCtx.Int("concurrency"),
		Password:            cliCtx.String("password"),
		Seed:                cliCtx.Uint64("seed"),
	})
}
