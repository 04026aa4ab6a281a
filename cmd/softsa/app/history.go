package app

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/spectral-scan/internal/storage"
)

// HistoryOptions selects what RunHistory prints. Without a session the
// sessions are listed.
type HistoryOptions struct {
	DBPath    string
	SessionID int64
	MinFreq   int64
	MaxFreq   int64
	Since     time.Time
	Until     time.Time
}

// RunHistory prints the sessions or the detections of one session from a
// recorded database.
func RunHistory(ctx context.Context, opts HistoryOptions, out io.Writer) error {
	if _, err := os.Stat(opts.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", opts.DBPath, err)
	}

	store := storage.NewSqliteStore(opts.DBPath)
	defer store.Close()

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	if opts.SessionID == 0 {
		return printSessions(ctx, store, tw)
	}
	return printDetections(ctx, store, opts, tw)
}

func printSessions(ctx context.Context, store storage.Store, w io.Writer) error {
	sessions, err := store.Sessions(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tENGINE\tCONFIG")
	for _, s := range sessions {
		duration := "running"
		if s.EndTime.Valid {
			duration = s.EndTime.Time.Sub(s.StartTime).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			s.ID,
			s.StartTime.Local().Format(time.DateTime),
			duration,
			s.Engine,
			s.Config.String,
		)
	}

	return nil
}

func printDetections(ctx context.Context, store storage.Store, opts HistoryOptions, w io.Writer) error {
	var readerOpts []storage.ReaderOption
	if opts.MinFreq > 0 || opts.MaxFreq > 0 {
		maxFreq := opts.MaxFreq
		if maxFreq == 0 {
			maxFreq = math.MaxInt64
		}
		readerOpts = append(readerOpts, storage.WithFreqRange(opts.MinFreq, maxFreq))
	}
	if !opts.Since.IsZero() {
		readerOpts = append(readerOpts, storage.WithStartTime(opts.Since.UTC()))
	}
	if !opts.Until.IsZero() {
		readerOpts = append(readerOpts, storage.WithEndTime(opts.Until.UTC()))
	}

	commands, err := store.Commands(ctx, opts.SessionID)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "TIME\tCOMMAND\tSTATE\tERROR")
	for _, c := range commands {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			c.Timestamp.Local().Format(time.TimeOnly),
			c.Command,
			c.State.String,
			c.Error.String,
		)
	}
	fmt.Fprintln(w)

	iter, err := store.ReadDetections(ctx, opts.SessionID, readerOpts...)
	if err != nil {
		return err
	}
	defer iter.Close()

	fmt.Fprintln(w, "TIME\tCENTER\tRATE\tBLUETOOTH\tPULSE")
	for iter.Next(ctx) {
		d := iter.Current()
		fmt.Fprintf(w, "%s\t%d MHz\t%s/s\t%s\t%s\n",
			d.Timestamp.Local().Format(time.TimeOnly),
			d.CenterFreq,
			humanize.Comma(d.ScanRate),
			formatNull(d.BluetoothPower.Valid, "%.0f dBm", d.BluetoothPower.Float64),
			formatNull(d.PulseFreq.Valid, "%.1f MHz", d.PulseFreq.Float64),
		)
	}

	return iter.Error()
}

func formatNull(valid bool, format string, v float64) string {
	if !valid {
		return "-"
	}
	return fmt.Sprintf(format, v)
}
