// main.go - Operator tool for running visitor reports from a terminal
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"visitorlens/internal"
	"visitorlens/internal/analytics"
	"visitorlens/internal/config"
	"visitorlens/internal/runs"
	"visitorlens/internal/timeframe"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&VisitorsCommand{},
	&VisitorCommand{},
	&PowerUsersCommand{},
	&TrendCommand{},
	&RunsCommand{},
	&PruneRunsCommand{},
	&MigrateCommand{},
	&HelpCommand{},
}

var out io.Writer = os.Stdout

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	app, err := internal.NewApp()
	if err != nil {
		log.Printf("Warning: Failed to initialize app: %v", err)
		log.Println("Proceeding with limited functionality...")
	}

	defer func() {
		if app != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				log.Printf("Warning: Cleanup error: %v", err)
			}
		}
	}()

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Fatalf("Command failed: %v", err)
	}
}

// reportFlags are shared by every report command.
type reportFlags struct {
	fs     *flag.FlagSet
	from   *string
	to     *string
	asJSON *bool
}

func newReportFlags(name string) reportFlags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return reportFlags{
		fs:     fs,
		from:   fs.String("from", timeframe.DefaultStart, "start date (YYYY-MM-DD, today, yesterday, NdaysAgo)"),
		to:     fs.String("to", timeframe.DefaultEnd, "end date"),
		asJSON: fs.Bool("json", false, "print JSON instead of a table"),
	}
}

func (f reportFlags) parse(args []string) (timeframe.Range, error) {
	if err := f.fs.Parse(args); err != nil {
		return timeframe.Range{}, err
	}
	return timeframe.Parse(*f.from, *f.to)
}

func requireApp(app *internal.Application) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot run reports")
	}
	return nil
}

// recordRun stores the run in the ledger. Failures are logged, not returned.
func recordRun(app *internal.Application, r timeframe.Range, entry runs.Entry) {
	entry.StartDate, entry.EndDate = r.Start, r.End
	if span, err := timeframe.NewRangeParser().Resolve(r); err == nil {
		entry.StartDate = span.From.Format(timeframe.DateLayout)
		entry.EndDate = span.To.Format(timeframe.DateLayout)
	}

	db := app.DBManager.GetConnection()
	if err := db.AutoMigrate(&runs.Run{}); err != nil {
		log.Printf("Warning: run ledger unavailable: %v", err)
		return
	}
	if _, err := runs.Record(db, entry); err != nil {
		log.Printf("Warning: failed to record run: %v", err)
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func newTable(headers ...interface{}) *tabwriter.Writer {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	upper := cases.Upper(language.English)
	for i, h := range headers {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, upper.String(fmt.Sprint(h)))
	}
	fmt.Fprintln(w)
	return w
}

func printDegraded(degraded []string) {
	if len(degraded) > 0 {
		fmt.Fprintf(out, "\nDegraded: %v\n", degraded)
	}
}

// VisitorsCommand lists reconstructed visitors
type VisitorsCommand struct{}

func (c *VisitorsCommand) Name() string        { return "visitors" }
func (c *VisitorsCommand) Description() string { return "Lists reconstructed visitors, most recent first" }

func (c *VisitorsCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	flags := newReportFlags(c.Name())
	limit := flags.fs.Int("limit", 0, "maximum number of visitors (0 uses the configured default)")
	r, err := flags.parse(args)
	if err != nil {
		return err
	}
	if err := requireApp(app); err != nil {
		return err
	}

	start := time.Now()
	list, err := app.Engine.ListVisitors(ctx, r, *limit)
	entry := runs.Entry{Operation: runs.OperationVisitors, Duration: time.Since(start), Err: err}
	if list != nil {
		entry.ResultCount = len(list.Visitors)
		entry.Degraded = list.Degraded
	}
	recordRun(app, r, entry)
	if err != nil {
		return err
	}

	if *flags.asJSON {
		return printJSON(list)
	}

	w := newTable("alias", "country", "city", "browser", "last seen", "sessions", "views", "bounce", "key")
	for _, v := range list.Visitors {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s %s:00\t%d\t%d\t%.0f%%\t%s\n",
			v.Alias, v.Country, v.City, v.Browser, v.LastSeenDate, v.LastSeenHour,
			v.Sessions, v.PageViews, v.BounceRate*100, v.Key)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	printDegraded(list.Degraded)
	return nil
}

// VisitorCommand expands one visitor
type VisitorCommand struct{}

func (c *VisitorCommand) Name() string        { return "visitor" }
func (c *VisitorCommand) Description() string { return "Shows the session and page timeline of one visitor key" }

func (c *VisitorCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <key> [-from date] [-to date] [-json]", c.Name())
	}
	key := args[0]

	flags := newReportFlags(c.Name())
	r, err := flags.parse(args[1:])
	if err != nil {
		return err
	}
	if err := requireApp(app); err != nil {
		return err
	}

	start := time.Now()
	detail, err := app.Engine.GetVisitorDetail(ctx, key, r)
	entry := runs.Entry{Operation: runs.OperationVisitorDetail, Duration: time.Since(start), Err: err}
	if detail != nil {
		entry.ResultCount = len(detail.PageVisits)
		entry.Degraded = detail.Degraded
		entry.Variants = detail.Sources
	}
	recordRun(app, r, entry)
	if err != nil {
		return err
	}

	if *flags.asJSON {
		return printJSON(detail)
	}
	return printDetail(detail)
}

func printDetail(d *analytics.VisitorDetail) error {
	fmt.Fprintf(out, "%s (%s)\n", d.Alias, d.ID)
	fmt.Fprintf(out, "  %s, %s, %s [%s]\n", d.Location.City, d.Location.Region, d.Location.Country, d.Location.CountryCode)
	fmt.Fprintf(out, "  %s visitor using %s, referred by %s\n", d.VisitorClass, d.Browser, d.ReferrerName)
	fmt.Fprintf(out, "  last seen %s, landed on %s\n", d.LastSeen, d.ActualLandingPage)
	fmt.Fprintf(out, "  %d sessions, %d page views, %d events, %.0fs average session\n\n",
		d.Summary.TotalSessions, d.Summary.TotalPageViews, d.Summary.TotalEvents, d.Summary.AvgSessionDuration)

	w := newTable("time", "page", "views", "time on page", "scroll", "clicks", "events")
	for _, p := range d.PageVisits {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.0fs\t%.0f%%\t%d\t%d\n",
			p.Timestamp, p.Path, p.Views, p.TimeOnPage, p.ScrollDepth, p.Clicks, len(p.Events))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nSources: %v\n", d.Sources)
	printDegraded(d.Degraded)
	return nil
}

// PowerUsersCommand lists frequent visitors
type PowerUsersCommand struct{}

func (c *PowerUsersCommand) Name() string        { return "power-users" }
func (c *PowerUsersCommand) Description() string { return "Lists visitors with at least N sessions" }

func (c *PowerUsersCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	flags := newReportFlags(c.Name())
	minSessions := flags.fs.Int("min-sessions", config.GetConfig().PowerUserMinSessions, "session threshold")
	r, err := flags.parse(args)
	if err != nil {
		return err
	}
	if err := requireApp(app); err != nil {
		return err
	}

	start := time.Now()
	users, err := app.Engine.ListPowerUsers(ctx, r, *minSessions)
	recordRun(app, r, runs.Entry{
		Operation:   runs.OperationPowerUsers,
		ResultCount: len(users),
		Duration:    time.Since(start),
		Err:         err,
	})
	if err != nil {
		return err
	}

	if *flags.asJSON {
		return printJSON(users)
	}

	title := cases.Title(language.AmericanEnglish)
	w := newTable("alias", "country", "browser", "class", "referrer", "sessions", "days", "first", "last", "bounce")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\t%.0f%%\n",
			u.Alias, u.Country, u.Browser, title.String(u.VisitorClass), u.ReferrerName,
			u.TotalSessions, u.UniqueDays, u.FirstVisit, u.LastVisit, u.BounceRate*100)
	}
	return w.Flush()
}

// TrendCommand prints daily new and returning visitors
type TrendCommand struct{}

func (c *TrendCommand) Name() string        { return "trend" }
func (c *TrendCommand) Description() string { return "Shows new and returning visitors per day" }

func (c *TrendCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	flags := newReportFlags(c.Name())
	r, err := flags.parse(args)
	if err != nil {
		return err
	}
	if err := requireApp(app); err != nil {
		return err
	}

	start := time.Now()
	points, err := app.Engine.DailyVisitorTrend(ctx, r)
	recordRun(app, r, runs.Entry{
		Operation:   runs.OperationTrend,
		ResultCount: len(points),
		Duration:    time.Since(start),
		Err:         err,
	})
	if err != nil {
		return err
	}

	if *flags.asJSON {
		return printJSON(points)
	}

	w := newTable("date", "new", "returning", "total")
	for _, p := range points {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", p.Date, p.New, p.Returning, p.Total)
	}
	return w.Flush()
}

// RunsCommand lists the report run ledger
type RunsCommand struct{}

func (c *RunsCommand) Name() string        { return "runs" }
func (c *RunsCommand) Description() string { return "Lists recent report runs" }

func (c *RunsCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	operation := fs.String("operation", "", "only show runs of this operation")
	limit := fs.Int("limit", 20, "maximum number of runs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot connect to database")
	}

	summaries, err := runs.Recent(app.DBManager.GetConnection(), *operation, *limit)
	if err != nil {
		return err
	}

	w := newTable("id", "when", "operation", "range", "results", "duration", "degraded", "error")
	for _, s := range summaries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s..%s\t%d\t%s\t%v\t%s\n",
			s.ID, s.CreatedAt.Format(time.RFC3339), s.Operation, s.StartDate, s.EndDate,
			s.ResultCount, time.Duration(s.DurationMs)*time.Millisecond, s.Degraded, s.Error)
	}
	return w.Flush()
}

// PruneRunsCommand deletes old ledger entries
type PruneRunsCommand struct{}

func (c *PruneRunsCommand) Name() string { return "prune-runs" }
func (c *PruneRunsCommand) Description() string {
	return "Deletes report runs older than the retention period"
}

func (c *PruneRunsCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	days := fs.Int("days", 0, "retention in days (0 uses the configured retention)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot connect to database")
	}

	if *days <= 0 {
		return app.Scheduler.PruneRuns()
	}

	cutoff := time.Now().AddDate(0, 0, -*days)
	deleted, err := runs.Prune(app.DBManager.GetConnection(), cutoff)
	if err != nil {
		return err
	}
	log.Printf("Deleted %d report runs older than %d days", deleted, *days)
	return nil
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs run-ledger migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot run migrations")
	}

	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Println("Migrations completed successfully")
	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

// Helper functions

// parseArgs parses the command name and arguments
func parseArgs() (string, []string) {
	args := os.Args[1:]
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage() {
	fmt.Fprintln(out, "Usage: vlctl [command] [args...]")
	fmt.Fprintln(out, "Available commands:")

	for _, cmd := range commands {
		fmt.Fprintf(out, "  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

// showUsageAndExit shows usage information and exits
func showUsageAndExit() {
	printUsage()
	os.Exit(1)
}
