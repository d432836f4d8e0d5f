package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"agenda/internal/agenda"
)

// renderText prints the month table, then the events of each visible day.
// Days outside the reference month are shown in parentheses and a day with
// events is marked with '*'.
func renderText(w io.Writer, snap agenda.Snapshot) error {
	if _, err := fmt.Fprintf(w, "%s  (%s .. %s)\n\n", snap.ReferenceDate, snap.Start, snap.End); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, strings.Join(snap.Labels[:], "\t")+"\t")
	for _, week := range snap.Grid {
		cols := make([]string, 0, len(week))
		for _, c := range week {
			s := fmt.Sprintf("%d", c.Day)
			if len(c.Events) > 0 {
				s += "*"
			}
			if !c.InMonth {
				s = "(" + s + ")"
			}
			cols = append(cols, s)
		}
		fmt.Fprintln(tw, strings.Join(cols, "\t")+"\t")
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, c := range snap.Grid.Cells() {
		if len(c.Events) == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "\n%s\n", c.Date); err != nil {
			return err
		}
		for _, e := range c.Events {
			when := "all-day"
			if e.Time != "" {
				when = e.Time
			}
			line := fmt.Sprintf("  %-7s [%s] %s", when, e.Calendar.Name, e.Desc)
			if e.Location != "" {
				line += " @ " + e.Location
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}
