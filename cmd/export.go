package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/gridx/core/store"
	"github.com/kilianp07/gridx/infra/storage"
	"github.com/kilianp07/gridx/pkg/export"
)

var (
	exportHours  int
	exportLimit  int
	exportFormat string
	exportUser   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export persisted history",
}

var exportGridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Export grid samples",
	RunE:  runExportGrid,
}

var exportMeterCmd = &cobra.Command{
	Use:   "meter",
	Short: "Export one user's meter readings",
	RunE:  runExportMeter,
}

func init() {
	exportCmd.PersistentFlags().IntVar(&exportHours, "hours", 24, "history window in hours")
	exportCmd.PersistentFlags().IntVar(&exportLimit, "limit", 1000, "maximum number of rows")
	exportCmd.PersistentFlags().StringVar(&exportFormat, "format", export.FormatCSV, "output format: csv or json")
	exportMeterCmd.Flags().StringVar(&exportUser, "user", "", "user id")
	_ = exportMeterCmd.MarkFlagRequired("user")
	exportCmd.AddCommand(exportGridCmd, exportMeterCmd)
	rootCmd.AddCommand(exportCmd)
}

func openHistory(cmd *cobra.Command) (*storage.SQLStore, time.Time, error) {
	if exportHours <= 0 || exportLimit <= 0 {
		return nil, time.Time{}, fmt.Errorf("--hours and --limit must be positive")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, time.Time{}, err
	}
	if cfg.Storage.Backend == storage.BackendMemory {
		return nil, time.Time{}, fmt.Errorf("export needs a sqlite or postgres backend")
	}
	st, err := storage.Open(cmd.Context(), cfg.Storage)
	if err != nil {
		return nil, time.Time{}, err
	}
	return st, time.Now().Add(-store.HistoryWindow(exportHours)), nil
}

func runExportGrid(cmd *cobra.Command, args []string) error {
	st, since, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	rows, err := st.GridHistory(cmd.Context(), since, exportLimit)
	if err != nil {
		return err
	}
	return export.Grid(cmd.OutOrStdout(), exportFormat, rows)
}

func runExportMeter(cmd *cobra.Command, args []string) error {
	st, since, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	rows, err := st.MeterHistory(cmd.Context(), exportUser, since, exportLimit)
	if err != nil {
		return err
	}
	return export.Meter(cmd.OutOrStdout(), exportFormat, rows)
}
