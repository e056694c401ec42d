package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Vortextech01/OpenLLM/pkg/hub"
	"github.com/Vortextech01/OpenLLM/pkg/logging"
)

var (
	hubURL      string
	concurrency int
	suffix      string
)

var rootCmd = &cobra.Command{
	Use:   "hubget <repo>",
	Short: "Benchmark sequential vs concurrent hub downloads",
	Long: `hubget downloads a hub repository twice, once file by file and once with
concurrent transfers, then compares the results and reports timings.

Point it at a small repository unless you enjoy waiting. The OPENLLM_HUB_TOKEN
environment variable is honored for gated repositories.`,
	Args:         cobra.ExactArgs(1),
	RunE:         runBenchmark,
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&hubURL, "hub", "https://huggingface.co", "Hub base URL")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 4, "Concurrent transfers for the second pass")
	rootCmd.Flags().StringVar(&suffix, "suffix", "", "Only download files with this suffix, e.g. .json")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	repo := args[0]
	log := logging.Component(logrus.New(), "hubget")

	files, err := hub.NewClient(hubURL, log).ListFiles(cmd.Context(), repo)
	if err != nil {
		return fmt.Errorf("listing %s: %w", repo, err)
	}

	var (
		names     []string
		totalSize int64
	)
	for _, file := range files {
		if suffix != "" && !strings.HasSuffix(file.Name, suffix) {
			continue
		}
		names = append(names, file.Name)
		totalSize += file.Size
	}
	if len(names) == 0 {
		return fmt.Errorf("no matching files in %s", repo)
	}

	fmt.Printf("Benchmarking %d files (%d bytes) from %s\n", len(names), totalSize, repo)
	fmt.Printf("Configuration: hub=%s, concurrency=%d\n\n", hubURL, concurrency)

	fmt.Println("Running sequential download...")
	sequential, err := timedDownload(cmd, log, repo, names, 1)
	if err != nil {
		return fmt.Errorf("sequential download failed: %w", err)
	}
	fmt.Printf("✓ Sequential: %v (%.2f MB/s)\n", sequential, throughput(totalSize, sequential))

	fmt.Println("Running concurrent download...")
	concurrent, err := timedDownload(cmd, log, repo, names, concurrency)
	if err != nil {
		return fmt.Errorf("concurrent download failed: %w", err)
	}
	fmt.Printf("✓ Concurrent: %v (%.2f MB/s)\n", concurrent, throughput(totalSize, concurrent))

	fmt.Println("\n" + strings.Repeat("=", 60))
	speedup := float64(sequential) / float64(concurrent)
	switch {
	case speedup > 1.0:
		fmt.Printf("Concurrent was %.2fx faster, saving %v (%.1f%%)\n",
			speedup, sequential-concurrent, (1.0-1.0/speedup)*100)
	case speedup < 1.0:
		fmt.Printf("Concurrent was %.2fx slower, costing %v\n", 1.0/speedup, concurrent-sequential)
	default:
		fmt.Println("Both passes performed equally")
	}
	return nil
}

func timedDownload(cmd *cobra.Command, log logging.Logger, repo string, names []string, concurrency int) (time.Duration, error) {
	destDir, err := os.MkdirTemp("", "hubget-*")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(destDir)

	client := hub.NewClient(hubURL, log, hub.WithConcurrency(concurrency))
	start := time.Now()
	if _, err := client.DownloadFiles(cmd.Context(), repo, names, destDir); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func throughput(size int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(size) / d.Seconds() / (1024 * 1024)
}
