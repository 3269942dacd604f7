package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/MikeL71221ibpm/iBPM-sub011/src/client"
	"github.com/MikeL71221ibpm/iBPM-sub011/src/jobs"
	"github.com/MikeL71221ibpm/iBPM-sub011/src/log"
)

var (
	watchServerURL string
	watchOwnerID   string
	watchStart     bool
	watchCSVPath   string
)

// watchCmd follows a job's progress in the terminal, reconciling the push
// stream with the poll endpoint exactly the way a UI client would.
var watchCmd = &cobra.Command{
	Use:   "watch [jobType]",
	Short: "Follow job progress in the terminal",
	Long: `The watch command subscribes to the server's event stream for one job
type, falls back to polling when the stream drops, and renders the
reconciled progress as a terminal progress bar. With --start it first
kicks off a new job; with --csv it uploads the file and starts a CSV run.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchServerURL, "server", "http://localhost:8080", "base URL of the job server")
	watchCmd.Flags().StringVar(&watchOwnerID, "owner", "", "owner id to watch")
	watchCmd.Flags().BoolVar(&watchStart, "start", false, "start a new job before watching")
	watchCmd.Flags().StringVar(&watchCSVPath, "csv", "", "upload this CSV and start a csv-sourced job")
	watchCmd.MarkFlagRequired("owner")
}

func runWatch(cmd *cobra.Command, args []string) error {
	jobType, err := jobs.ParseType(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.NewAPI(watchServerURL, watchOwnerID)
	watcher := client.NewWatcher(api, jobType)

	if watchCSVPath != "" {
		if err := uploadAndStart(ctx, api, watcher, jobType); err != nil {
			return err
		}
	} else if watchStart {
		watcher.StartRequested()
		if _, err := api.StartJob(ctx, jobType, client.StartRequest{Source: "database"}); err != nil {
			return fmt.Errorf("failed to start job: %w", err)
		}
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("waiting for updates"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
	)

	watcher.OnUpdate = func(view client.JobView) {
		_ = bar.Set(view.Progress)
		desc := view.Message
		if desc == "" {
			desc = string(view.Status)
		}
		bar.Describe(desc)
	}
	watcher.OnComplete = func(view client.JobView) {
		_ = bar.Finish()
		fmt.Fprintf(os.Stderr, "\n%s completed: %s\n", jobType, view.Message)
	}

	if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	final := watcher.View()
	if final.Status == jobs.StatusError {
		return fmt.Errorf("job failed: %s", final.Message)
	}
	return nil
}

func uploadAndStart(ctx context.Context, api *client.API, watcher *client.Watcher, jobType jobs.Type) error {
	info, err := os.Stat(watchCSVPath)
	if err != nil {
		return err
	}

	session := client.NewUploadSession(info.Size())
	log.Info("Uploading file",
		"path", watchCSVPath,
		"size", info.Size(),
		"estimated_processing_seconds", session.EstimatedProcessingSeconds)

	session.BeginUpload()
	uploadBar := progressbar.DefaultBytes(info.Size(), "uploading")
	result, err := api.Upload(ctx, watchCSVPath, func(uploaded, total int64) {
		session.ObserveBytes(uploaded)
		_ = uploadBar.Set64(uploaded)
	})
	if err != nil {
		session.Fail(err.Error())
		return fmt.Errorf("upload failed: %w", err)
	}
	session.Complete()

	watcher.StartRequested()
	if _, err := api.StartJob(ctx, jobType, client.StartRequest{
		Source:      "csv",
		CSVFilePath: result.FilePath,
	}); err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	return nil
}
