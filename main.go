package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/stashdav/stashdav/cmd/stashdav"
	"github.com/stashdav/stashdav/internal/config"
)

func main() {
	app := &cli.Command{
		Name:  "stashdav",
		Usage: "WebDAV gateway over S3-compatible object storage",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "/data",
				Sources: cli.EnvVars("STASHDAV_CONFIG"),
				Usage:   "path to the data folder holding config.json",
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			config.SetConfigPath(c.String("config"))
			return ctx, nil
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the WebDAV server (default)",
				Action: serve,
			},
			{
				Name:      "adduser",
				Usage:     "Create a principal: adduser <username> <password>",
				ArgsUsage: "<username> <password>",
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:  "quota",
						Usage: "quota limit in bytes, 0 uses the configured default",
					},
				},
				Action: addUser,
			},
			{
				Name:  "purge-expired-trash",
				Usage: "Permanently delete trash entries past retention",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "count without deleting",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "cap on entries handled in one run, 0 uses the configured default",
					},
				},
				Action: purgeExpiredTrash,
			},
			{
				Name:      "recompute-quota",
				Usage:     "Recompute a principal's usage from its file records",
				ArgsUsage: "<principal-id>",
				Action:    recomputeQuota,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(ctx context.Context, _ *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return stashdav.Start(ctx)
}

func addUser(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 2 {
		return fmt.Errorf("usage: adduser <username> <password>")
	}
	app, err := stashdav.Build()
	if err != nil {
		return err
	}
	defer app.Close()

	p, err := app.Store.CreatePrincipal(ctx, c.Args().Get(0), c.Args().Get(1))
	if err != nil {
		return err
	}
	if err := app.Quota.Ensure(ctx, p.ID); err != nil {
		return err
	}
	if limit := c.Int64("quota"); limit > 0 {
		if err := app.Quota.SetLimit(ctx, p.ID, limit); err != nil {
			return err
		}
	}
	fmt.Printf("created principal %d (%s)\n", p.ID, p.Username)
	return nil
}

// purgeExpiredTrash always exits zero; a partial purge is progress, not
// failure, and the next run picks up the remainder.
func purgeExpiredTrash(ctx context.Context, c *cli.Command) error {
	app, err := stashdav.Build()
	if err != nil {
		return err
	}
	defer app.Close()

	batch := int(c.Int("batch-size"))
	if batch <= 0 {
		batch = config.Get().Maintenance.PurgeBatchSize
	}

	if c.Bool("dry-run") {
		n, err := app.Trash.CountExpired(ctx, time.Now(), batch)
		if err != nil {
			fmt.Printf("count failed: %v\n", err)
			return nil
		}
		fmt.Printf("%d expired trash entries\n", n)
		return nil
	}

	n, err := app.Trash.PurgeExpired(ctx, time.Now(), batch)
	if err != nil {
		fmt.Printf("purged %d entries before error: %v\n", n, err)
		return nil
	}
	fmt.Printf("purged %d entries\n", n)
	return nil
}

func recomputeQuota(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("usage: recompute-quota <principal-id>")
	}
	id, err := strconv.ParseUint(c.Args().Get(0), 10, 32)
	if err != nil {
		return fmt.Errorf("invalid principal id: %w", err)
	}
	app, err := stashdav.Build()
	if err != nil {
		return err
	}
	defer app.Close()

	used, err := app.Quota.Recompute(ctx, uint(id))
	if err != nil {
		return err
	}
	fmt.Printf("principal %d uses %d bytes\n", id, used)
	return nil
}
