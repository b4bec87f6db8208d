// gazecollect - camera frames paired with where the user is looking
//
//	gazecollect run       Capture a frame on every click and key press
//	gazecollect stats     Summarize the capture index
//	gazecollect export    Write capture records as JSON lines
//	gazecollect config    Show the effective configuration
//	gazecollect version   Print version information
package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"

	"gazecollect/internal/config"
	"gazecollect/internal/logging"
	"gazecollect/internal/store"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "run":
		cmdRun(args)
	case "stats":
		cmdStats(args)
	case "export":
		cmdExport(args)
	case "config":
		cmdConfig(args)
	case "version", "--version":
		fmt.Printf("gazecollect %s (%s/%s)\n", Version, runtime.GOOS, runtime.GOARCH)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`gazecollect - Gaze, Mouse, and Keyboard Data Collector

USAGE:
    gazecollect <command> [options]

COMMANDS:
    run         Capture a camera frame on every click and key press
    stats       Show capture counts and the most recent captures
    export      Write every capture record as JSON lines
    config      Print the effective configuration
    version     Print version information
    help        Show this help message

Clicks are filed under mouse_data/ with the pointer position, key presses
under keyboard_data/ with the text caret position. Typed characters are not
stored unless capture.record_keys is enabled.

Run 'gazecollect <command> --help' for command options.`)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// loadConfig resolves the config file: an explicit path, then
// ./config.*, then the platform config directory.
func loadConfig(path string) (*config.Config, string) {
	if path == "" {
		path = config.FindConfigFile()
	}
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fatalf("Error loading config %s: %v", path, err)
	}
	return cfg, path
}

func openIndex(cfgPath, dbPath string) *store.Store {
	if dbPath == "" {
		cfg, _ := loadConfig(cfgPath)
		dbPath = cfg.Storage.Path
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fatalf("No capture index at %s. Run 'gazecollect run' first.", dbPath)
	}
	db, err := store.Open(dbPath)
	if err != nil {
		fatalf("Error opening capture index: %v", err)
	}
	return db
}

func cmdStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "", "Config file")
	dbPath := fs.String("db", "", "Capture index (default: storage.path)")
	recent := fs.IntP("recent", "n", 10, "Number of recent captures to list")
	fs.Parse(args)

	cfg, _ := loadConfig(*cfgPath)
	if *dbPath == "" {
		*dbPath = cfg.Storage.Path
	}
	db := openIndex(*cfgPath, *dbPath)
	defer db.Close()

	sum, err := db.Summary()
	if err != nil {
		fatalf("Error reading summary: %v", err)
	}
	printSummary(os.Stdout, sum)

	crashes, err := logging.NewCrashHandler(&logging.CrashHandlerConfig{CrashDir: cfg.Logging.CrashDir}).Reports()
	if err != nil {
		fatalf("Error reading crash reports: %v", err)
	}
	printCrashes(os.Stdout, crashes)

	if *recent <= 0 {
		return
	}
	caps, err := db.Recent(*recent)
	if err != nil {
		fatalf("Error reading captures: %v", err)
	}
	if len(caps) == 0 {
		return
	}
	fmt.Println()
	fmt.Println("Recent captures:")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tKIND\tPOSITION\tSTRATEGY\tSTATUS\tFILE")
	for _, c := range caps {
		file := c.Path
		if file == "" {
			file = c.Reason
		} else {
			file = filepath.Base(file)
		}
		fmt.Fprintf(w, "  %s\t%s\t(%d, %d)\t%s\t%s\t%s\n",
			c.Timestamp.Format(time.DateTime), c.Kind, c.X, c.Y, c.Strategy, c.Status, file)
	}
	w.Flush()
}

func printSummary(w io.Writer, sum *store.Summary) {
	fmt.Fprintln(w, "=== Capture Summary ===")
	fmt.Fprintf(w, "Sessions: %d\n", sum.Sessions)
	fmt.Fprintf(w, "Captures: %d\n", sum.Total)
	if sum.Total == 0 {
		return
	}
	fmt.Fprintf(w, "First:    %s\n", sum.First.Format(time.DateTime))
	fmt.Fprintf(w, "Last:     %s\n", sum.Last.Format(time.DateTime))

	section := func(title string, counts map[string]int64) {
		if len(counts) == 0 {
			return
		}
		keys := make([]string, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(w, "\n%s:\n", title)
		for _, k := range keys {
			fmt.Fprintf(w, "  %-14s %d\n", k, counts[k])
		}
	}
	byStatus := make(map[string]int64, len(sum.ByStatus))
	for k, v := range sum.ByStatus {
		byStatus[string(k)] = v
	}
	section("By kind", sum.ByKind)
	section("By status", byStatus)
	section("By strategy", sum.ByStrategy)
}

// printCrashes lists the dropped-event reports, newest last.
func printCrashes(w io.Writer, reports []logging.CrashReport) {
	if len(reports) == 0 {
		return
	}
	fmt.Fprintf(w, "\nCrash reports: %d\n", len(reports))
	const shown = 5
	if len(reports) > shown {
		reports = reports[len(reports)-shown:]
	}
	for _, r := range reports {
		fmt.Fprintf(w, "  %s  %-18s %s\n", r.Timestamp.Local().Format(time.DateTime), r.Operation, r.PanicValue)
	}
}

func cmdExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "", "Config file")
	dbPath := fs.String("db", "", "Capture index (default: storage.path)")
	out := fs.StringP("out", "o", "", "Output file (default: stdout)")
	since := fs.String("since", "", "Only captures at or after this time (RFC 3339, 2006-01-02 or 2006-01-02 15:04:05)")
	until := fs.String("until", "", "Only captures at or before this time; a bare date includes the whole day")
	fs.Parse(args)

	start, end, ranged, err := exportWindow(*since, *until)
	if err != nil {
		fatalf("Error: %v", err)
	}

	db := openIndex(*cfgPath, *dbPath)
	defer db.Close()

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			fatalf("Error creating %s: %v", *out, err)
		}
		defer f.Close()
		w = f
	}

	var n int
	if ranged {
		n, err = db.ExportRangeJSONL(w, start, end)
	} else {
		n, err = db.ExportJSONL(w)
	}
	if err != nil {
		fatalf("Error exporting captures: %v", err)
	}
	if *out != "" {
		fmt.Fprintf(os.Stderr, "Exported %d captures to %s\n", n, *out)
	}
}

// exportWindow turns the --since/--until values into an inclusive range.
// ranged is false when neither is set.
func exportWindow(since, until string) (start, end time.Time, ranged bool, err error) {
	start = time.Unix(0, 0)
	end = time.Unix(0, math.MaxInt64)
	if since != "" {
		if start, _, err = parseTimeFlag(since); err != nil {
			return start, end, false, fmt.Errorf("--since: %w", err)
		}
		ranged = true
	}
	if until != "" {
		var dateOnly bool
		if end, dateOnly, err = parseTimeFlag(until); err != nil {
			return start, end, false, fmt.Errorf("--until: %w", err)
		}
		if dateOnly {
			end = end.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		ranged = true
	}
	if end.Before(start) {
		return start, end, false, fmt.Errorf("--until %s is before --since %s", until, since)
	}
	return start, end, ranged, nil
}

func parseTimeFlag(s string) (t time.Time, dateOnly bool, err error) {
	if t, err = time.Parse(time.RFC3339Nano, s); err == nil {
		return t, false, nil
	}
	if t, err = time.ParseInLocation(time.DateTime, s, time.Local); err == nil {
		return t, false, nil
	}
	if t, err = time.ParseInLocation(time.DateOnly, s, time.Local); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, fmt.Errorf("invalid time %q", s)
}

func cmdConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "", "Config file")
	showPath := fs.Bool("path", false, "Print only the config file path")
	format := fs.String("format", "toml", "Output format: toml, json, yaml")
	initFile := fs.Bool("init", false, "Write the default config if none exists")
	fs.Parse(args)

	if *initFile {
		path := *cfgPath
		if path == "" {
			path = config.ConfigPath()
		}
		_, created, err := config.LoadOrCreate(path)
		if err != nil {
			fatalf("Error: %v", err)
		}
		if created {
			fmt.Printf("Created %s\n", path)
		} else {
			fmt.Printf("%s already exists\n", path)
		}
		return
	}

	cfg, path := loadConfig(*cfgPath)
	if *showPath {
		fmt.Println(path)
		return
	}

	data, err := cfg.Encode("." + *format)
	if err != nil {
		fatalf("Error encoding config: %v", err)
	}
	if *format != "json" {
		fmt.Printf("# %s\n", path)
	}
	os.Stdout.Write(data)
}
