package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/common-nighthawk/go-figure"

	"github.com/amiskov/csrf-session-client/pkg/apiclient"
	"github.com/amiskov/csrf-session-client/pkg/config"
	"github.com/amiskov/csrf-session-client/pkg/logger"
	"github.com/amiskov/csrf-session-client/pkg/probe"
	"github.com/amiskov/csrf-session-client/pkg/session"
)

const appname = "apiprobe"

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	os.Exit(run(cfg, os.Stdout))
}

func run(cfg *config.Config, out io.Writer) int {
	log := logger.Run(cfg.LogLevel)
	defer log.Sync() //nolint:errcheck

	if !cfg.Quiet {
		displayAppname(out)
	}

	probes, err := probesFrom(cfg.ProbePaths)
	if err != nil {
		log.Errorf("main: bad probe list, %v", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, log)

	ep := session.DefaultEndpoints()
	ep.CallbackTarget = cfg.CallbackPath
	client, err := apiclient.Connect(ctx, apiclient.Options{
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout,
		Endpoints: ep,
	}, session.Credentials{Email: cfg.Email, Password: cfg.Password})
	if err != nil {
		log.Errorf("main: login failed (%s), %v", session.Kind(err), err)
		return 1
	}
	defer client.Logout(logger.WithLogger(context.Background(), log))

	if who, err := client.WhoAmI(ctx); err != nil {
		log.Warnf("main: whoami failed, %v", err)
	} else {
		fmt.Fprintf(out, "logged in as %s (%s), role %s, expires %s\n\n",
			who.User.Email, who.User.ID, who.User.Role, who.Expires)
	}

	results := probe.NewRunner(client, cfg.ProbeConcurrency).Run(ctx, probes)
	if failed := printResults(out, results); failed > 0 {
		log.Errorf("main: %d of %d probes failed", failed, len(results))
		return 1
	}
	return 0
}

func probesFrom(paths []string) ([]probe.Probe, error) {
	if len(paths) == 0 {
		return probe.DefaultProbes(), nil
	}
	probes := make([]probe.Probe, 0, len(paths))
	for _, p := range paths {
		pr, err := probe.Parse(p)
		if err != nil {
			return nil, err
		}
		probes = append(probes, pr)
	}
	return probes, nil
}

// printResults writes one row per probe and returns how many failed.
func printResults(out io.Writer, results []probe.Result) int {
	failed := 0
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RESULT\tMETHOD\tPATH\tSTATUS\tTIME\tERROR")
	for _, r := range results {
		verdict, msg := "ok", ""
		if !r.OK() {
			failed++
			verdict, msg = "FAIL", r.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			verdict, r.Probe.Method, r.Probe.Path, r.Status, r.Elapsed.Round(time.Millisecond), msg)
	}
	w.Flush()
	return failed
}

func displayAppname(out io.Writer) {
	banner := figure.NewFigure(appname, "cybermedium", true)
	fmt.Fprintln(out, banner.String())
}
