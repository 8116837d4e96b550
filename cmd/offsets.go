package main

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/MuchTitan/go-log-shipper/internal/config"
	"github.com/MuchTitan/go-log-shipper/internal/offset"
	"github.com/spf13/cobra"
)

func newOffsetsCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offsets",
		Short: "Inspect and maintain shipped offsets",
	}
	cmd.AddCommand(newOffsetsListCommand(flags))
	cmd.AddCommand(newOffsetsPruneCommand(flags))
	return cmd
}

// openStore opens the configured offset store. The json store fails while a shipper holds its lock.
func openStore(flags *globalFlags) (*config.Config, offset.Store, error) {
	cfg, err := config.Load(flags.configPath, flags.overrides())
	if err != nil {
		return nil, nil, err
	}
	store, err := cfg.OpenStore()
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

func newOffsetsListCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the committed offset of every tracked file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openStore(flags)
			if err != nil {
				return err
			}
			defer store.Close()

			record, err := store.Load(commandContext(cmd))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(record) == 0 {
				fmt.Fprintln(out, "No offsets committed")
				return nil
			}

			ids := make([]string, 0, len(record))
			for id := range record {
				ids = append(ids, id)
			}
			slices.Sort(ids)

			rows := make([][]string, 0, len(ids))
			for _, id := range ids {
				pos := record[id]
				rows = append(rows, []string{
					id,
					strconv.FormatInt(pos.Offset, 10),
					strconv.FormatInt(pos.Signature.Size, 10),
					strconv.FormatUint(pos.Signature.Inode, 10),
					pos.UpdatedAt.Local().Format(time.DateTime),
				})
			}

			fmt.Fprintln(out, renderTable(
				[]string{"File", "Offset", "Size", "Inode", "Updated"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newOffsetsPruneCommand(flags *globalFlags) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove offsets of files not shipped for a number of days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := openStore(flags)
			if err != nil {
				return err
			}
			defer store.Close()

			if !cmd.Flags().Changed("days") {
				days = *cfg.RetentionDays
			}
			if days < 0 {
				return fmt.Errorf("--days must not be negative")
			}

			removed, err := store.Prune(commandContext(cmd), time.Now().Add(-time.Duration(days)*24*time.Hour))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d offsets older than %d days\n", removed, days)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", config.DefaultRetentionDays, "age in days after which an offset is removed, defaults to RetentionDays")
	return cmd
}
