package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"swasthai-triage/common/logger"
	"swasthai-triage/internal/client"
	"swasthai-triage/internal/models"
)

const usage = `triagectl - 分诊服务命令行

Usage:
  triagectl [-server URL] [-user ID] <command> [args]

Commands:
  submit [-f intake.json]                读取 intake JSON（默认 stdin）并提交
  queue                                  当前排队
  get <id>                               查看分诊事件
  override -band RED -reason "..." <id>  医生改判
  seen <id>                              标记已接诊
  rules                                  规则表（按优先级）
  export [-since RFC3339] [-o out.xlsx]  导出工作簿
`

func main() {
	server := flag.String("server", getEnv("TRIAGE_SERVER", "http://localhost:8080"), "triage service base URL")
	user := flag.String("user", os.Getenv("TRIAGE_USER"), "actor sent as X-User-Id")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	log, err := logger.NewLogger(level, "console", "triagectl")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	c := client.NewTriageClient(strings.TrimRight(*server, "/"), *user, log)
	if err := run(ctx, c, flag.Arg(0), flag.Args()[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.TriageClient, cmd string, args []string, stdin io.Reader, stdout io.Writer) error {
	switch cmd {
	case "submit":
		fs := flag.NewFlagSet("submit", flag.ContinueOnError)
		file := fs.String("f", "", "intake JSON file (default stdin)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		in := stdin
		if *file != "" {
			f, err := os.Open(*file)
			if err != nil {
				return fmt.Errorf("failed to open intake file: %w", err)
			}
			defer f.Close()
			in = f
		}
		var payload map[string]any
		dec := json.NewDecoder(in)
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			return fmt.Errorf("failed to decode intake JSON: %w", err)
		}
		res, err := c.Submit(ctx, payload)
		if err != nil {
			return err
		}
		return printJSON(stdout, res)

	case "queue":
		view, err := c.Queue(ctx)
		if err != nil {
			return err
		}
		return printJSON(stdout, view)

	case "get", "seen":
		if len(args) != 1 {
			return fmt.Errorf("%s: expected exactly one intake event id", cmd)
		}
		var ev *models.IntakeEvent
		var err error
		if cmd == "get" {
			ev, err = c.Get(ctx, args[0])
		} else {
			ev, err = c.MarkSeen(ctx, args[0])
		}
		if err != nil {
			return err
		}
		return printJSON(stdout, ev)

	case "override":
		fs := flag.NewFlagSet("override", flag.ContinueOnError)
		band := fs.String("band", "", "new risk band (EMERGENCY, RED, AMBER, GREEN)")
		reason := fs.String("reason", "", "clinical reason for the override")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return fmt.Errorf("override: expected exactly one intake event id")
		}
		ev, err := c.Override(ctx, fs.Arg(0), models.RiskBand(strings.ToUpper(*band)), *reason)
		if err != nil {
			return err
		}
		return printJSON(stdout, ev)

	case "rules":
		rules, err := c.Rules(ctx)
		if err != nil {
			return err
		}
		for i, r := range rules {
			fmt.Fprintf(stdout, "%2d  %-9s  %-32s  %s\n", i+1, r.Band, r.Reason, r.Action)
		}
		return nil

	case "export":
		fs := flag.NewFlagSet("export", flag.ContinueOnError)
		sinceStr := fs.String("since", "", "RFC3339 start time (default last 24h)")
		out := fs.String("o", "triage-queue.xlsx", "output file")
		if err := fs.Parse(args); err != nil {
			return err
		}
		var since time.Time
		if *sinceStr != "" {
			t, err := time.Parse(time.RFC3339, *sinceStr)
			if err != nil {
				return fmt.Errorf("invalid -since %q: %w", *sinceStr, err)
			}
			since = t
		}
		data, err := c.Export(ctx, since)
		if err != nil {
			return err
		}
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", *out, err)
		}
		fmt.Fprintf(stdout, "wrote %s (%d bytes)\n", *out, len(data))
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
