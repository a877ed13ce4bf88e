package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/italolelis/sgx_downloader/internal/config"
	"github.com/italolelis/sgx_downloader/internal/scheduler"
	"github.com/italolelis/sgx_downloader/internal/session"
	"github.com/italolelis/sgx_downloader/internal/transfer"
)

// scheduleFlag is a boolean flag that optionally carries a value:
// "--schedule" uses the configured time, "--schedule=HH:MM" overrides it.
type scheduleFlag struct {
	set   bool
	value string
}

func (f *scheduleFlag) String() string {
	if f == nil {
		return ""
	}

	return f.value
}

func (f *scheduleFlag) Set(s string) error {
	if b, err := strconv.ParseBool(s); err == nil {
		f.set = b
		f.value = ""

		return nil
	}

	f.set = true
	f.value = s

	return nil
}

func (f *scheduleFlag) IsBoolFlag() bool { return true }

// invocation is a validated command line.
type invocation struct {
	scheduled bool
	at        scheduler.TimeOfDay
	// dates is empty when the run targets today only.
	dates []session.Date
	files []string
}

// parseArgs validates the command line against cfg before any I/O happens.
// Every error it returns is an input error.
func parseArgs(args []string, cfg *config.Config, today session.Date, output io.Writer) (*invocation, error) {
	fs := flag.NewFlagSet("sgx_downloader", flag.ContinueOnError)
	fs.SetOutput(output)

	date := fs.String("date", "", "Download a single date (YYYY-MM-DD)")
	start := fs.String("start", "", "First date of a range (YYYY-MM-DD); alone it runs up to today")
	end := fs.String("end", "", "Last date of a range, inclusive (YYYY-MM-DD); requires -start")
	files := fs.String("files", "", "Comma separated subset of the configured files")

	var schedule scheduleFlag

	fs.Var(&schedule, "schedule", "Run daily; -schedule uses the configured time, -schedule=HH:MM overrides it")

	fs.Usage = func() {
		fmt.Fprintln(output, `Usage: sgx_downloader [options]

Without options, downloads today's session files once and exits.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if fs.NArg() > 0 {
		return nil, &transfer.ValidationError{Field: "argument", Value: fs.Arg(0), Reason: "unexpected positional argument"}
	}

	inv := &invocation{files: cfg.Files}

	if *files != "" {
		subset, err := parseFiles(*files, cfg)
		if err != nil {
			return nil, err
		}

		inv.files = subset
	}

	if schedule.set {
		if *date != "" || *start != "" || *end != "" || *files != "" {
			return nil, &transfer.ValidationError{Field: "schedule", Reason: "cannot be combined with -date, -start, -end or -files"}
		}

		inv.scheduled = true
		inv.at = cfg.Schedule()

		if schedule.value != "" {
			at, err := scheduler.ParseTimeOfDay(schedule.value)
			if err != nil {
				return nil, err
			}

			inv.at = at
		}

		return inv, nil
	}

	dates, err := parseDates(*date, *start, *end, today)
	if err != nil {
		return nil, err
	}

	inv.dates = dates

	return inv, nil
}

func parseDates(date, start, end string, today session.Date) ([]session.Date, error) {
	switch {
	case date != "" && (start != "" || end != ""):
		return nil, &transfer.ValidationError{Field: "date", Value: date, Reason: "cannot be combined with -start or -end"}
	case end != "" && start == "":
		return nil, &transfer.ValidationError{Field: "end", Value: end, Reason: "requires -start"}
	case date != "":
		d, err := parseDate("date", date)
		if err != nil {
			return nil, err
		}

		return []session.Date{d}, nil
	case start != "":
		from, err := parseDate("start", start)
		if err != nil {
			return nil, err
		}

		to := today

		if end != "" {
			if to, err = parseDate("end", end); err != nil {
				return nil, err
			}
		}

		if from.After(to) {
			return nil, &transfer.ValidationError{Field: "start", Value: start, Reason: fmt.Sprintf("is after %s", to)}
		}

		return session.Range(from, to), nil
	default:
		return nil, nil
	}
}

func parseDate(field, value string) (session.Date, error) {
	d, err := session.ParseDate(value)
	if err != nil {
		return session.Date{}, &transfer.ValidationError{Field: field, Value: value, Reason: "expected YYYY-MM-DD"}
	}

	return d, nil
}

func parseFiles(list string, cfg *config.Config) ([]string, error) {
	var out []string

	seen := map[string]bool{}

	for _, f := range strings.Split(list, ",") {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}

		if !cfg.HasFile(f) {
			return nil, &transfer.ValidationError{
				Field:  "files",
				Value:  f,
				Reason: "not in the configured file set " + strings.Join(cfg.Files, ","),
			}
		}

		seen[f] = true
		out = append(out, f)
	}

	if len(out) == 0 {
		return nil, &transfer.ValidationError{Field: "files", Value: list, Reason: "no file names given"}
	}

	return out, nil
}
