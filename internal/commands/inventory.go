package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewInventoryCmd creates the inventory command: a consolidated stock
// snapshot across all partitions.
func NewInventoryCmd() *cobra.Command {
	var showLines bool

	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Fetch the consolidated stock snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildStack(cmd.Context())
			if err != nil {
				return err
			}
			result := s.consolidator.Fetch(cmd.Context())

			perPartition := map[string]int{}
			for _, item := range result.Items {
				perPartition[item.Partition]++
			}
			fmt.Printf("%d stock lines across %d partitions\n", len(result.Items), len(perPartition))
			for partition, count := range perPartition {
				fmt.Printf("  %-20s %6d\n", partition, count)
			}
			if showLines {
				for _, item := range result.Items {
					fmt.Printf("%-15s %-30s %-15s %-20s %10.2f\n",
						item.Code, item.Name, item.Partition, item.Warehouse, item.Quantity)
				}
			}
			for _, e := range result.Errors {
				color.Red("error: %s: %s", e.Partition, e.Message)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showLines, "lines", false, "print every warehouse-level stock line")
	return cmd
}
