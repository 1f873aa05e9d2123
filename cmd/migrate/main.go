package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/pactsign-backend/pkg/config"
	"github.com/angelmondragon/pactsign-backend/pkg/db"
	"github.com/angelmondragon/pactsign-backend/pkg/logger"
	"github.com/angelmondragon/pactsign-backend/pkg/migrate"
)

// command is one migrate verb. Offline commands never open the database.
type command struct {
	usage   string
	offline func(dir, arg string) error
	online  func(ctx context.Context, r *migrate.Runner, arg string) error
}

var commands = map[string]command{
	"up":     {usage: "apply all pending migrations", online: direction("up")},
	"down":   {usage: "roll back the latest migration", online: direction("down")},
	"status": {usage: "list applied and pending migrations", online: direction("status")},
	"version": {
		usage: "migrate up or down to <version>",
		online: func(ctx context.Context, r *migrate.Runner, target string) error {
			if target == "" {
				return fmt.Errorf("version requires a target, e.g. 20250101120000")
			}
			return r.To(ctx, target)
		},
	},
	"create": {
		usage: "write an empty sql migration named <name>",
		offline: func(dir, name string) error {
			if name == "" {
				return fmt.Errorf("create requires a name")
			}
			path, err := migrate.CreateSQLMigration(dir, name)
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	},
	"validate": {
		usage: "check migration files without a database",
		offline: func(dir, _ string) error {
			if err := migrate.ValidateDir(dir); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	},
}

func direction(verb string) func(context.Context, *migrate.Runner, string) error {
	return func(ctx context.Context, r *migrate.Runner, _ string) error {
		return r.Run(ctx, verb)
	}
}

func main() {
	dir := flag.String("dir", migrate.DefaultDir, "goose migrations directory")
	flag.Usage = usage
	flag.Parse()

	name, arg := flag.Arg(0), flag.Arg(1)
	if name == "" {
		name = "up"
	}
	cmd, ok := commands[name]
	if !ok {
		usage()
		os.Exit(2)
	}

	if cmd.offline != nil {
		if err := cmd.offline(*dir, arg); err != nil {
			exitf("%s: %v", name, err)
		}
		return
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		exitf("config: %v", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":     cfg.App.Env,
		"command": name,
		"dir":     *dir,
		"dialect": string(migrate.Dialect(cfg.DB.Driver)),
	})

	if err := runOnline(ctx, cfg, logg, *dir, cmd, arg); err != nil {
		logg.Error(ctx, "migrate "+name+" failed", err)
		os.Exit(1)
	}
}

func runOnline(ctx context.Context, cfg *config.Config, logg *logger.Logger, dir string, cmd command, arg string) error {
	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer client.Close()

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	runner, err := migrate.NewRunner(sqlDB, cfg.DB.Driver, dir, logg)
	if err != nil {
		return err
	}
	return cmd.online(ctx, runner, arg)
}

func usage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("usage: migrate [-dir path] <command> [arg]\n\ncommands:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %-9s %s\n", name, commands[name].usage)
	}
	fmt.Fprint(os.Stderr, b.String())
	flag.PrintDefaults()
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
