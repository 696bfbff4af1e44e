package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "List vehicles whose images violate the single-primary rule",
	Long: `Scan every vehicle with images and report those with no primary image
or more than one. Nothing is modified.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

var repairCmd = &cobra.Command{
	Use:   "repair [vehicle-id]",
	Short: "Restore exactly one primary image per vehicle",
	Long: `Reconcile primary flags so each vehicle with images has exactly one
primary. The first image in display order keeps or gains the flag. With a
vehicle id only that vehicle is repaired.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRepair,
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := getContext()
	rt, err := cfg.BuildService(ctx, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	bad, err := rt.Service.CheckAll(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(map[string]any{"violations": bad})
	}
	if len(bad) == 0 {
		fmt.Println("All vehicles have exactly one primary image.")
		return nil
	}
	fmt.Printf("%d vehicle(s) violate the primary image rule:\n", len(bad))
	for _, id := range bad {
		fmt.Printf("  %d\n", id)
	}
	return nil
}

func runRepair(cmd *cobra.Command, args []string) error {
	ctx := getContext()
	rt, err := cfg.BuildService(ctx, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if len(args) == 1 {
		var vehicleID int64
		if _, err := fmt.Sscanf(args[0], "%d", &vehicleID); err != nil {
			return fmt.Errorf("invalid vehicle id %q: %w", args[0], err)
		}
		flips, err := rt.Service.RepairOwner(ctx, vehicleID)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]any{"vehicle_id": vehicleID, "flips": flips})
		}
		fmt.Printf("Vehicle %d: %d flag change(s)\n", vehicleID, len(flips))
		return nil
	}

	report, err := rt.Service.RepairAll(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(report)
	}
	fmt.Printf("Checked %d vehicle(s), repaired %d, %d flag change(s)\n",
		report.OwnersChecked, len(report.OwnersRepaired), report.Flips)
	return nil
}
