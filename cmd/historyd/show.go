package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/mstride/historyd/internal/store"
	"github.com/mstride/historyd/internal/ui"
)

var (
	showDay   string
	showSince string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the history timeline",
	Long: `Show history items grouped into days and display runs.

By default the current day is shown. Use --day for a specific calendar
day, or --since for a window starting at a date or a natural-language
time ("3 days ago", "last monday").`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := store.Open(cfg.DBPath())
		if err != nil {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		defer db.Close()

		ctx := context.Background()

		if showSince != "" {
			since, err := parseSince(showSince)
			if err != nil {
				return err
			}
			return showRange(ctx, db, since, time.Now())
		}

		day := showDay
		if day == "" {
			day = time.Now().Format("2006-01-02")
		} else if _, err := time.Parse("2006-01-02", day); err != nil {
			return fmt.Errorf("invalid day %q (want YYYY-MM-DD)", day)
		}

		items, err := db.ItemsForDay(ctx, day)
		if err != nil {
			return err
		}
		fmt.Print(ui.RenderDay(day, items))
		return nil
	},
}

// parseSince accepts a plain date or a natural-language time expression.
func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(s, time.Now())
	if err != nil || r == nil {
		return time.Time{}, fmt.Errorf("cannot parse time expression %q", s)
	}
	return r.Time, nil
}

// showRange renders every day in [from, to] that has items, newest first.
func showRange(ctx context.Context, db *store.DB, from, to time.Time) error {
	items, err := db.ItemsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("No items in the selected window")
		return nil
	}

	byDay := make(map[string][]*store.Item)
	for _, it := range items {
		byDay[it.DateBucket] = append(byDay[it.DateBucket], it)
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))

	fmt.Print(ui.RenderDays(days, byDay))
	return nil
}

func init() {
	showCmd.Flags().StringVar(&showDay, "day", "", "calendar day to show (YYYY-MM-DD)")
	showCmd.Flags().StringVar(&showSince, "since", "", "show days since a date or natural-language time")
	rootCmd.AddCommand(showCmd)
}
