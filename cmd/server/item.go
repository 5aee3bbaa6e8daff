package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Item management commands",
	Long:  "Inspect stored items, their health check history and library links",
}

var itemShowCmd = &cobra.Command{
	Use:   "show [item-id]",
	Short: "Print a stored item",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		item, err := itemRepository.GetItem(cmd.Context(), args[0])
		if err != nil {
			fmt.Printf("Error reading item: %v\n", err)
			return
		}
		printJSON(item)
	},
}

var itemHistoryCmd = &cobra.Command{
	Use:   "history [item-id]",
	Short: "Print the health check history of an item",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		results, err := resultRepository.ListResults(cmd.Context(), args[0])
		if err != nil {
			fmt.Printf("Error reading health check history: %v\n", err)
			return
		}
		for _, r := range results {
			fmt.Printf("%s  %-9s %-13s %s\n", r.CreatedAt.Format("2006-01-02 15:04:05"), r.Result, r.RepairStatus, r.Message)
		}
	},
}

var itemLinkCmd = &cobra.Command{
	Use:   "link [item-id]",
	Short: "Print the library symlink pointing at an item",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path, err := locator.FindSymlink(args[0])
		if err != nil {
			fmt.Printf("Error searching the library: %v\n", err)
			return
		}
		if path == "" {
			fmt.Printf("No library symlink points at %s\n", args[0])
			return
		}
		fmt.Println(path)
	},
}

var itemDeleteCmd = &cobra.Command{
	Use:   "delete [item-id]",
	Short: "Delete a stored item",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := itemRepository.DeleteItem(cmd.Context(), args[0]); err != nil {
			fmt.Printf("Error deleting item: %v\n", err)
			return
		}
		fmt.Printf("Item deleted successfully: %s\n", args[0])
	},
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Printf("Error encoding output: %v\n", err)
	}
}

func init() {
	itemCmd.AddCommand(itemShowCmd)
	itemCmd.AddCommand(itemHistoryCmd)
	itemCmd.AddCommand(itemLinkCmd)
	itemCmd.AddCommand(itemDeleteCmd)
	rootCmd.AddCommand(itemCmd)
}
