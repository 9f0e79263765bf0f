package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mstride/historyd/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show history store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		info, err := os.Stat(cfg.DBPath())
		if os.IsNotExist(err) {
			fmt.Println("History store not initialized")
			fmt.Println("Run 'historyd serve' or 'historyd sync' to create it")
			return nil
		}
		if err != nil {
			return err
		}

		db, err := store.Open(cfg.DBPath())
		if err != nil {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		defer db.Close()

		ctx := context.Background()
		total, err := db.ItemCount(ctx)
		if err != nil {
			return err
		}
		byKind, err := db.CountByKind(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Store:    %s (%s)\n", cfg.DBPath(), formatSize(info.Size()))
		fmt.Printf("Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		fmt.Printf("Items:    %d\n", total)

		kinds := make([]string, 0, len(byKind))
		for k := range byKind {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Printf("  %-12s %d\n", k, byKind[store.Kind(k)])
		}

		if latest, err := db.LatestItemTime(ctx); err == nil && latest != nil {
			fmt.Printf("Latest:   %s\n", latest.Format("2006-01-02 15:04:05 MST"))
		}
		return nil
	},
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	}
	return fmt.Sprintf("%d bytes", size)
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
