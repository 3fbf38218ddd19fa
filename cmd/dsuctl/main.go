// dsuctl is a command line client for DSU servers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/dsu"
	"github.com/Zereker/dsu/internal/archive"
	"github.com/Zereker/dsu/internal/config"
)

// maxParallelSends bounds the connections opened by one fan-out send.
const maxParallelSends = 4

type app struct {
	client *dsu.Client
	cfg    *config.Config
	logger zerolog.Logger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.Server, "server", cfg.Server, "DSU server host")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "DSU server port")
	flag.StringVar(&cfg.Username, "user", cfg.Username, "username")
	flag.StringVar(&cfg.Password, "password", cfg.Password, "password")
	flag.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "read/write timeout")
	flag.StringVar(&cfg.Archive, "archive", cfg.Archive, "local message archive (SQLite)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	logger := newLogger(cfg)

	client, err := dsu.NewClient(cfg.Server, dsu.Credentials{Username: cfg.Username, Password: cfg.Password},
		dsu.PortOption(cfg.Port),
		dsu.TimeoutOption(cfg.Timeout),
		dsu.LoggerOption(zlog{l: logger}),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid client configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{client: client, cfg: cfg, logger: logger}
	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: dsuctl [flags] <command> [args]

Commands:
  ping                          check that the server accepts connections
  send <user[,user...]> <text>  send a direct message to one or more users
  new                           print and archive new messages
  all                           print and archive all messages
  watch [interval]              poll for new messages (default every 2s)
  post <text>                   publish a post
  bio <text>                    update your bio
  thread <user>                 print the archived conversation with user
  contacts                      list archived conversations

Flags:
`)
	flag.PrintDefaults()
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "ping":
		if err := a.client.Ping(ctx); err != nil {
			return err
		}
		fmt.Printf("%s is up\n", a.client.Addr())
		return nil

	case "send":
		if len(args) < 2 {
			return errors.New("usage: dsuctl send <user[,user...]> <text>")
		}
		return a.send(ctx, splitRecipients(args[0]), strings.Join(args[1:], " "))

	case "new":
		return a.retrieve(ctx, dsu.RetrieveNew)

	case "all":
		return a.retrieve(ctx, dsu.RetrieveAll)

	case "watch":
		interval := 2 * time.Second
		if len(args) > 0 {
			d, err := time.ParseDuration(args[0])
			if err != nil {
				return errors.Wrap(err, "invalid interval")
			}
			if d <= 0 {
				return errors.Errorf("invalid interval %s: must be positive", d)
			}
			interval = d
		}
		return a.watch(ctx, interval)

	case "post":
		if len(args) < 1 {
			return errors.New("usage: dsuctl post <text>")
		}
		return a.client.PublishPost(ctx, strings.Join(args, " "))

	case "bio":
		if len(args) < 1 {
			return errors.New("usage: dsuctl bio <text>")
		}
		return a.client.UpdateBio(ctx, strings.Join(args, " "))

	case "thread":
		if len(args) != 1 {
			return errors.New("usage: dsuctl thread <user>")
		}
		return a.thread(ctx, args[0])

	case "contacts":
		return a.contacts(ctx)

	default:
		return errors.Errorf("unknown command %q", cmd)
	}
}

func splitRecipients(s string) []string {
	var out []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// send delivers text to every recipient, one connection each. Every recipient
// is attempted; the first failure is returned.
func (a *app) send(ctx context.Context, recipients []string, text string) error {
	if len(recipients) == 0 {
		return errors.New("no recipients")
	}

	sent := make([]dsu.DirectMessageRecord, len(recipients))
	ok := make([]bool, len(recipients))

	var group errgroup.Group
	group.SetLimit(maxParallelSends)
	for i, recipient := range recipients {
		i, recipient := i, recipient
		group.Go(func() error {
			record, err := a.client.SendMessage(ctx, text, recipient)
			if err != nil {
				a.logger.Error().Err(err).Str("recipient", recipient).Msg("send failed")
				return errors.Wrapf(err, "send to %s", recipient)
			}
			sent[i] = record
			ok[i] = true
			fmt.Printf("sent to %s\n", recipient)
			return nil
		})
	}
	sendErr := group.Wait()

	var delivered []dsu.DirectMessageRecord
	for i := range sent {
		if ok[i] {
			delivered = append(delivered, sent[i])
		}
	}
	if err := a.archive(ctx, delivered); err != nil {
		a.logger.Warn().Err(err).Msg("could not archive sent messages")
	}
	return sendErr
}

func (a *app) retrieve(ctx context.Context, kind dsu.RetrieveKind) error {
	records, err := a.client.Retrieve(ctx, kind)
	if err != nil {
		return err
	}
	printRecords(records)
	return a.archive(ctx, records)
}

// watch polls for new messages until ctx is canceled. Failed polls are
// logged and retried at the next tick.
func (a *app) watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		records, err := a.client.RetrieveNew(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			a.logger.Warn().Err(err).Msg("poll failed")
		case err == nil:
			printRecords(records)
			if err := a.archive(ctx, records); err != nil {
				a.logger.Warn().Err(err).Msg("could not archive messages")
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *app) archive(ctx context.Context, records []dsu.DirectMessageRecord) error {
	if len(records) == 0 || a.cfg.Archive == "" {
		return nil
	}

	store, err := archive.Open(ctx, a.cfg.Archive)
	if err != nil {
		return err
	}
	defer store.Close()

	added, err := store.Save(ctx, a.client.Username(), records)
	if err != nil {
		return err
	}
	a.logger.Debug().Int("added", added).Str("archive", a.cfg.Archive).Msg("archived messages")
	return nil
}

func (a *app) thread(ctx context.Context, counterpart string) error {
	store, err := archive.Open(ctx, a.cfg.Archive)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Thread(ctx, a.client.Username(), counterpart)
	if err != nil {
		return err
	}
	printRecords(records)
	return nil
}

func (a *app) contacts(ctx context.Context) error {
	store, err := archive.Open(ctx, a.cfg.Archive)
	if err != nil {
		return err
	}
	defer store.Close()

	contacts, err := store.Contacts(ctx, a.client.Username())
	if err != nil {
		return err
	}
	for _, c := range contacts {
		fmt.Println(c)
	}
	return nil
}

func printRecords(records []dsu.DirectMessageRecord) {
	for _, r := range records {
		arrow := "<-"
		if r.Direction == dsu.Outgoing {
			arrow = "->"
		}
		fmt.Printf("[%s] %s %s: %s\n", r.Timestamp, arrow, r.Counterpart(), r.Body)
	}
}
