// Command lightpctl uploads light programs to a lightpd device and reads or
// writes its light state.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightpd/internal/channel"
	"github.com/dokzlo13/lightpd/internal/client"
	"github.com/dokzlo13/lightpd/internal/codec"
	"github.com/dokzlo13/lightpd/internal/ledger"
	"github.com/dokzlo13/lightpd/internal/program"
)

const usage = `usage: lightpctl [-device URL] <command> [args]

commands:
  upload -at WHEN -action SPEC [-action SPEC ...] [-dry-run]
  last                 show the last accepted upload
  pending              list programs waiting on the device
  history ID           show the audit trail of one program
  ledger [-type T] [-since WHEN] [-until WHEN] [-limit N]
                       list audit entries, newest first
  time [-at WHEN]      sync the device clock (default: now)
  light                print the light state
  light CW WW          set the light state
`

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	device := flag.String("device", envOr("LIGHTPD_DEVICE", "http://localhost:8080"), "Device base URL")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c := client.New(*device, *timeout)
	ctx := context.Background()

	var err error
	switch cmd, args := flag.Arg(0), flag.Args()[1:]; cmd {
	case "upload":
		err = runUpload(ctx, c, args)
	case "last":
		err = runLast(ctx, c)
	case "pending":
		err = runPending(ctx, c)
	case "history":
		err = runHistory(ctx, c, args)
	case "ledger":
		err = runLedger(ctx, c, args)
	case "time":
		err = runTime(ctx, c, args)
	case "light":
		err = runLight(ctx, c, args)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatal().Err(err).Str("device", *device).Msg("Command failed")
	}
}

func runUpload(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	at := fs.String("at", "now", "Trigger time: now, +DURATION, RFC3339 or epoch seconds")
	dryRun := fs.Bool("dry-run", false, "Print the encoded bytes instead of uploading")
	var actions actionList
	fs.Var(&actions, "action", "Action spec, repeatable (fixed:MS:CW:WW, ramp[:MS:CW:WW], blink:MS:HIGH_MS:LOW_MS:HCW:HWW:LCW:LWW)")
	fs.Parse(args)

	when, err := parseAt(*at, time.Now())
	if err != nil {
		return err
	}
	p := program.Program{Schedule: program.AtTime(when)}
	for _, spec := range actions {
		a, err := parseAction(spec)
		if err != nil {
			return err
		}
		p.Actions = append(p.Actions, a)
	}

	if *dryRun {
		raw, err := codec.Encode(p)
		if err != nil {
			return err
		}
		fmt.Println(hex.EncodeToString(raw))
		return nil
	}

	res, err := c.Upload(ctx, p)
	if err != nil {
		return err
	}
	status := "stored"
	if !res.Inserted {
		status = "duplicate of"
	}
	fmt.Printf("%s %s (trigger %s, %d actions)\n", status, res.ID, when.Format(time.RFC3339), len(p.Actions))
	return nil
}

func runLast(ctx context.Context, c *client.Client) error {
	p, ok, err := c.LastUpload(ctx)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("no upload accepted yet")
		return nil
	}
	fmt.Printf("schedule: %s\n", p.Schedule)
	for i, a := range p.Actions {
		fmt.Printf("  %d. %s\n", i+1, a)
	}
	return nil
}

func runPending(ctx context.Context, c *client.Client) error {
	entries, err := c.Pending(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no pending programs")
		return nil
	}
	for _, e := range entries {
		trigger := e.Schedule
		if e.Trigger != nil {
			trigger = e.Trigger.Format(time.RFC3339)
		}
		mark := " "
		if e.Due {
			mark = "!"
		}
		fmt.Printf("%s %s  %s  %d actions\n", mark, e.ID, trigger, len(e.Actions))
	}
	return nil
}

func runHistory(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("history takes a program ID")
	}
	entries, err := c.History(ctx, args[0])
	if err != nil {
		return err
	}
	printEntries(entries)
	return nil
}

func runLedger(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("ledger", flag.ExitOnError)
	eventType := fs.String("type", "", "Event type, e.g. program_executed")
	since := fs.String("since", "", "Start of the range: -DURATION, RFC3339 or epoch seconds")
	until := fs.String("until", "", "End of the range (default now)")
	limit := fs.Int("limit", 0, "Maximum number of entries")
	fs.Parse(args)

	q := client.LedgerQuery{Type: ledger.EventType(*eventType), Limit: *limit}
	now := time.Now()
	var err error
	if *since != "" {
		if q.Since, err = parseAt(*since, now); err != nil {
			return err
		}
	}
	if *until != "" {
		if q.Until, err = parseAt(*until, now); err != nil {
			return err
		}
	}

	entries, err := c.Ledger(ctx, q)
	if err != nil {
		return err
	}
	printEntries(entries)
	return nil
}

func printEntries(entries []ledger.Entry) {
	if len(entries) == 0 {
		fmt.Println("no ledger entries")
		return
	}
	for _, e := range entries {
		fmt.Printf("%s  %-17s %-9s %s %v\n", e.Timestamp.Local().Format(time.RFC3339), e.EventType, e.Source, e.ProgramID, e.Payload)
	}
}

func runTime(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("time", flag.ExitOnError)
	at := fs.String("at", "now", "Time to set: now, +DURATION, RFC3339 or epoch seconds")
	fs.Parse(args)

	when, err := parseAt(*at, time.Now())
	if err != nil {
		return err
	}
	if err := c.SyncTime(ctx, when); err != nil {
		return err
	}
	fmt.Printf("device clock set to %s\n", when.Format(time.RFC3339))
	return nil
}

func runLight(ctx context.Context, c *client.Client, args []string) error {
	switch len(args) {
	case 0:
		l, err := c.Light(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("cw=%d ww=%d\n", l.CW, l.WW)
		return nil
	case 2:
		cw, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil {
			return fmt.Errorf("cw: %w", err)
		}
		ww, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil {
			return fmt.Errorf("ww: %w", err)
		}
		return c.SetLight(ctx, channel.Level{CW: uint8(cw), WW: uint8(ww)})
	default:
		return fmt.Errorf("light takes no arguments or CW WW")
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
