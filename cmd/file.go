package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/zzenonn/zdav/internal/connections"
	"github.com/zzenonn/zdav/internal/domain"
	"github.com/zzenonn/zdav/internal/placement"
	"github.com/zzenonn/zdav/internal/repository/db"
	"github.com/zzenonn/zdav/internal/service"
	"github.com/zzenonn/zdav/internal/telemetry"
)

var quiet bool

var postCmd = &cobra.Command{
	Use:   "post [file-path]",
	Short: "Split a file into segments and upload them to the providers",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		filePath := args[0]

		file, err := os.Open(filePath)
		if err != nil {
			fmt.Printf("Error opening file: %v\n", err)
			return
		}
		defer file.Close()

		stat, err := file.Stat()
		if err != nil {
			fmt.Printf("Error reading file size: %v\n", err)
			return
		}

		names, _ := cmd.Flags().GetStringSlice("provider")
		placer, err := uploadPlacer(cmd.Context(), names)
		if err != nil {
			fmt.Printf("Error preparing upload: %v\n", err)
			return
		}

		var reader io.Reader = file
		if !quiet {
			bar := progressbar.DefaultBytes(stat.Size(), "uploading")
			pbReader := progressbar.NewReader(file, bar)
			reader = &pbReader
		}

		segmentSize, _ := cmd.Flags().GetInt64("segment-size")
		item, err := streamService.PostFile(cmd.Context(), placer, filePath, reader, stat.Size(), segmentSize)
		if err != nil {
			fmt.Printf("Error posting file: %v\n", err)
			return
		}
		fmt.Printf("File posted successfully: %s -> %s (%d segments across %v)\n",
			filePath, item.ID, len(item.SegmentIDs), placer.ListBuckets())
	},
}

// uploadPlacer spreads segments over the named providers, or over every
// enabled provider when names is empty.
func uploadPlacer(ctx context.Context, names []string) (*placement.RoundRobinPlacer, error) {
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	placer := placement.NewRoundRobinPlacer()
	for _, provider := range cfg.Providers {
		if len(wanted) > 0 && !wanted[provider.Name] {
			continue
		}
		if len(wanted) == 0 && !provider.Enabled() {
			continue
		}
		uploader, err := connFactory.CreateUploader(ctx, provider)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", provider.Name, err)
		}
		if err := placer.RegisterBucket(provider.Name, uploader); err != nil {
			return nil, err
		}
		delete(wanted, provider.Name)
	}
	if len(wanted) > 0 {
		missing := make([]string, 0, len(wanted))
		for name := range wanted {
			missing = append(missing, name)
		}
		return nil, fmt.Errorf("unknown providers: %v", missing)
	}
	if len(placer.ListBuckets()) == 0 {
		return nil, fmt.Errorf("no providers to upload to")
	}
	return placer, nil
}

var catCmd = &cobra.Command{
	Use:   "cat [item-id] [output-path]",
	Short: "Stream an item's content to a file, or to stdout",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		item, st, err := streamService.OpenItem(cmd.Context(), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening item: %v\n", err)
			return
		}
		defer st.Close()

		var out io.Writer = os.Stdout
		outputPath := ""
		if len(args) == 2 {
			outputPath = args[1]

			// If output path is a directory, use the item's file name
			if stat, err := os.Stat(outputPath); err == nil && stat.IsDir() {
				outputPath = filepath.Join(outputPath, filepath.Base(item.Path))
			}

			if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
				fmt.Printf("Error creating output directory: %v\n", err)
				return
			}

			outFile, err := os.Create(outputPath)
			if err != nil {
				fmt.Printf("Error creating output file: %v\n", err)
				return
			}
			defer outFile.Close()
			out = outFile

			if !quiet {
				bar := progressbar.DefaultBytes(st.Length(), "downloading")
				out = io.MultiWriter(outFile, bar)
			}
		}

		if _, err := io.Copy(out, st); err != nil {
			fmt.Fprintf(os.Stderr, "Error streaming item: %v\n", err)
			return
		}
		if outputPath != "" {
			fmt.Printf("Item streamed successfully: %s -> %s\n", item.ID, outputPath)
		}
	},
}

var checkCmd = &cobra.Command{
	Use:   "check [item-id]",
	Short: "Run a health check on one item now",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sinks := telemetry.Multi{telemetry.LogSink{}}
		var bar *progressbar.ProgressBar
		if !quiet {
			bar = progressbar.Default(100, "checking")
			sinks = append(sinks, barSink{bar: bar})
		}

		healthService := service.NewHealthCheckService(
			itemRepository,
			db.NewHealthCheckRepository(dynamoDb.Client, dynamoDb.Tables.Results),
			streamingClient,
			newLocator(cfg),
			arrClients(cfg),
			sinks,
			service.HealthCheckOptions{
				Enabled:              true,
				MaxRepairConnections: cfg.Repair.MaxConnections,
				ProgressInterval:     cfg.Repair.ProgressInterval,
			},
		)

		result, err := healthService.CheckItem(cmd.Context(), args[0])
		if bar != nil {
			bar.Finish()
			fmt.Println()
		}
		if err != nil {
			fmt.Printf("Error checking item: %v\n", err)
			return
		}
		fmt.Printf("%s: %s (%s) %s\n", result.ItemID, result.Result, result.RepairStatus, result.Message)
	},
}

// barSink moves a progress bar along with health check progress.
type barSink struct {
	bar *progressbar.ProgressBar
}

func (s barSink) HealthProgress(itemID string, progress string) {
	if percent, err := strconv.Atoi(progress); err == nil {
		s.bar.Set(percent)
	}
}

func (barSink) HealthStatus(string, domain.HealthResult, domain.RepairAction) {}
func (barSink) Connections(connections.PoolStats)                             {}

func init() {
	postCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress bars")
	postCmd.Flags().StringSlice("provider", nil, "Providers to spread segments over (default: all enabled)")
	postCmd.Flags().Int64("segment-size", service.DefaultSegmentSize, "Segment size in bytes")
	catCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress bars")
	checkCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress bars")
	rootCmd.AddCommand(postCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(checkCmd)
}
