// Command shotdiff compares tutorial screenshots with their baselines.
//
// Usage:
//
//	shotdiff [-config shotdiff.yaml] list <tutorials-dir>
//	shotdiff diff [-mode amplified] [-radius 5] [-sheet] <screenshot>
//	shotdiff report [-mode m] [-min n] [-pdf packet.pdf] <tutorials-dir>
//	shotdiff bytes [-format ansi] <screenshot>
//	shotdiff revert <screenshot>
//	shotdiff locate <screenshot>
//	shotdiff mcp                    # MCP over stdio, or QUIC with mcp.transport: quic
//	shotdiff serve [-watch dir]     # review server
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/shotdiff/mcpquic"
	"github.com/hazyhaar/shotdiff/report"
	"github.com/hazyhaar/shotdiff/review"
	"github.com/hazyhaar/shotdiff/shotdiff"
)

const version = "0.3.0"

func usage() {
	fmt.Fprintf(os.Stderr, `usage: shotdiff [flags] <command> [args]

commands:
  list <dir>          list changed screenshots
  diff <screenshot>   save the diff image of one screenshot
  report <dir>        diff every changed screenshot
  bytes <screenshot>  hex dump of the first differing bytes
  revert <screenshot> restore the baseline version
  locate <screenshot> show tutorial, locale and URLs
  mcp                 serve the MCP tools
  serve               run the review server

flags:
`)
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "path to shotdiff.yaml")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	dbPath := flag.String("db", "", "SQLite database for runs and verdicts (overrides db_path)")
	artifactDir := flag.String("artifacts", "", "directory for diff images (overrides artifact_dir)")
	source := flag.String("baseline", "", "baseline source: git or web (overrides baseline)")
	flag.Usage = usage
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	// stdout carries MCP frames and command output; logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg := &shotdiff.Config{}
	if *configPath != "" {
		var err error
		if cfg, err = shotdiff.LoadConfigFile(*configPath); err != nil {
			logger.Error("shotdiff: config", "error", err)
			os.Exit(1)
		}
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *artifactDir != "" {
		cfg.ArtifactDir = *artifactDir
	}
	if *source != "" {
		cfg.Baseline = *source
	}
	cfg.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, flag.Arg(0), flag.Args()[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "shotdiff:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *shotdiff.Config, cmd string, args []string) error {
	svc, err := shotdiff.New(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	switch cmd {
	case "list":
		return runList(ctx, svc, args)
	case "diff":
		return runDiff(ctx, svc, args)
	case "report":
		return runReport(ctx, svc, args)
	case "bytes":
		return runBytes(ctx, svc, args)
	case "revert":
		return runRevert(ctx, svc, args)
	case "locate":
		return runLocate(svc, args)
	case "mcp":
		return runMCP(ctx, svc)
	case "serve":
		return runServe(ctx, svc, args)
	}
	usage()
	return fmt.Errorf("unknown command %q", cmd)
}

// oneArg parses fs and returns its single positional argument.
func oneArg(fs *flag.FlagSet, args []string, what string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 {
		return "", fmt.Errorf("%s: expected one %s", fs.Name(), what)
	}
	return fs.Arg(0), nil
}

func runList(ctx context.Context, svc *shotdiff.Service, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	dir, err := oneArg(fs, args, "directory")
	if err != nil {
		return err
	}
	l, err := svc.List(ctx, dir)
	if err != nil {
		return err
	}
	fmt.Println(l.Markdown())
	return nil
}

func runDiff(ctx context.Context, svc *shotdiff.Service, args []string) error {
	fs := flag.NewFlagSet("diff", flag.ContinueOnError)
	mode := fs.String("mode", "", "highlighted, diff_only, amplified or amplified_diff_only")
	radius := fs.Int("radius", 0, "amplification radius 1-10")
	color := fs.String("color", "", "highlight colour as hex RGB")
	alpha := fs.Int("alpha", -1, "highlight opacity 0-255")
	sheet := fs.Bool("sheet", false, "also save a side-by-side review sheet")
	path, err := oneArg(fs, args, "screenshot")
	if err != nil {
		return err
	}
	req := shotdiff.DiffRequest{
		Path:           path,
		Mode:           *mode,
		AmplifyRadius:  *radius,
		HighlightColor: *color,
		Sheet:          *sheet,
	}
	if *alpha >= 0 {
		req.HighlightAlpha = alpha
	}
	out, err := svc.DiffImage(ctx, req)
	if err != nil {
		return err
	}
	fmt.Println(out.Message())
	return nil
}

func runReport(ctx context.Context, svc *shotdiff.Service, args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	mode := fs.String("mode", "", "diff mode")
	minPx := fs.Int("min", -1, "minimum changed pixels to include")
	radius := fs.Int("radius", 0, "amplification radius 1-10")
	pdf := fs.String("pdf", "", "write a PDF packet of the diff images")
	quiet := fs.Bool("q", false, "no progress on stderr")
	dir, err := oneArg(fs, args, "directory")
	if err != nil {
		return err
	}
	req := shotdiff.ReportRequest{Dir: dir, Mode: *mode, AmplifyRadius: *radius, PDFPath: *pdf}
	if *minPx >= 0 {
		req.MinPixelDiff = minPx
	}
	if !*quiet {
		req.OnProgress = func(p report.Progress) {
			fmt.Fprintf(os.Stderr, "[%d/%d] %s/%s/%s: %s\n",
				p.Done, p.Total, p.Entry.File.Name, p.Entry.File.Locale, p.Entry.File.Label(), p.Entry.Message())
		}
	}
	out, err := svc.Report(ctx, req)
	if out != nil {
		fmt.Println(out.Markdown())
	}
	return err
}

func runBytes(ctx context.Context, svc *shotdiff.Service, args []string) error {
	fs := flag.NewFlagSet("bytes", flag.ContinueOnError)
	format := fs.String("format", "ansi", "text, ansi, html or markdown")
	path, err := oneArg(fs, args, "screenshot")
	if err != nil {
		return err
	}
	out, err := svc.BinaryDiff(ctx, path, *format)
	if err != nil {
		return err
	}
	if out == "" {
		out = "No byte differences detected."
	}
	fmt.Println(out)
	return nil
}

func runRevert(ctx context.Context, svc *shotdiff.Service, args []string) error {
	fs := flag.NewFlagSet("revert", flag.ContinueOnError)
	path, err := oneArg(fs, args, "screenshot")
	if err != nil {
		return err
	}
	msg, err := svc.Revert(ctx, path)
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

func runLocate(svc *shotdiff.Service, args []string) error {
	fs := flag.NewFlagSet("locate", flag.ContinueOnError)
	path, err := oneArg(fs, args, "screenshot")
	if err != nil {
		return err
	}
	loc, err := svc.Locate(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(loc)
}

func newMCPServer(svc *shotdiff.Service) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "shotdiff", Version: version}, nil)
	svc.RegisterMCP(srv)
	return srv
}

func runMCP(ctx context.Context, svc *shotdiff.Service) error {
	srv := newMCPServer(svc)
	if svc.Config().MCP.Transport == "quic" {
		return serveQUIC(ctx, svc, srv)
	}
	svc.Logger().Info("shotdiff: MCP on stdio")
	err := srv.Run(ctx, &mcp.StdioTransport{})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func serveQUIC(ctx context.Context, svc *shotdiff.Service, srv *mcp.Server) error {
	mc := svc.Config().MCP
	var (
		tlsCfg *tls.Config
		err    error
	)
	if mc.CertFile != "" {
		tlsCfg, err = mcpquic.ServerTLSConfig(mc.CertFile, mc.KeyFile)
	} else {
		svc.Logger().Warn("shotdiff: no cert_file configured, using a self-signed certificate")
		tlsCfg, err = mcpquic.SelfSignedTLSConfig()
	}
	if err != nil {
		return fmt.Errorf("mcp quic tls: %w", err)
	}
	ql, err := mcpquic.Listen(mc.QUICAddr, tlsCfg, srv, svc.Logger())
	if err != nil {
		return fmt.Errorf("mcp quic listen %s: %w", mc.QUICAddr, err)
	}
	defer ql.Close()
	if err := ql.Serve(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func runServe(ctx context.Context, svc *shotdiff.Service, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	watchDir := fs.String("watch", svc.Config().Watch.Dir, "re-run the report when this tutorials directory changes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var opts []review.Option
	if *watchDir != "" {
		if svc.Config().Baseline == "web" {
			return errors.New("serve: -watch needs the git baseline")
		}
		opts = append(opts, review.WithLive(review.NewLive(svc, *watchDir)))
	}

	// QUIC MCP runs next to the review server when configured.
	if svc.Config().MCP.Transport == "quic" {
		go func() {
			if err := serveQUIC(ctx, svc, newMCPServer(svc)); err != nil {
				svc.Logger().Error("shotdiff: MCP QUIC", "error", err)
			}
		}()
	}

	return review.New(svc, opts...).ListenAndServe(ctx)
}
