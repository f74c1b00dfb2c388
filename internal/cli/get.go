package cli

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/NamanBalaji/hlsdm/internal/engine"
	"github.com/NamanBalaji/hlsdm/internal/status"
)

type getOptions struct {
	streamID     string
	maxBandwidth int64
	dir          string
	userAgent    string
}

func newGetCmd(root *rootOptions) *cobra.Command {
	opts := &getOptions{}

	cmd := &cobra.Command{
		Use:   "get <manifest-url>",
		Short: "Download one stream and exit",
		Long: "Download one stream without the API or the job store, printing progress " +
			"until the job finishes. Exits non-zero unless the video was written.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := root.setup()
			if err != nil {
				return err
			}
			defer closeLog()

			if opts.dir != "" {
				cfg.Download.Dir = opts.dir
			}
			if opts.userAgent != "" {
				cfg.Download.UserAgent = opts.userAgent
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runGet(ctx, cmd.OutOrStdout(), cfg.ToEngine(), args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.streamID, "id", "", "stream ID used to name the output file (default: manifest file name)")
	cmd.Flags().Int64Var(&opts.maxBandwidth, "max-bandwidth", 0, "pick the best variant at or below this bandwidth in bits/s")
	cmd.Flags().StringVarP(&opts.dir, "dir", "d", "", "output directory (overrides download.dir)")
	cmd.Flags().StringVar(&opts.userAgent, "user-agent", "", "User-Agent sent with every request (overrides download.user_agent)")

	return cmd
}

// runGet downloads one stream and reports progress to out. Cancelling ctx
// cancels the job.
func runGet(ctx context.Context, out io.Writer, cfg *engine.Config, manifestURL string, opts *getOptions) error {
	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}

	if err := eng.Start(); err != nil {
		return err
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = eng.Shutdown(shutdownCtx)
	}()

	streamID := opts.streamID
	if streamID == "" {
		streamID = streamIDFromURL(manifestURL)
	}

	id, err := eng.Submit(engine.StreamReference{ID: streamID, ManifestURL: manifestURL}, engine.QualityHint{MaxBandwidth: opts.maxBandwidth})
	if err != nil {
		return err
	}

	ch, unsubscribe, err := eng.Subscribe(id)
	if err != nil {
		return err
	}
	defer unsubscribe()

	var last engine.Snapshot
	done := ctx.Done()

loop:
	for {
		select {
		case <-done:
			_ = eng.Cancel(id)
			done = nil
		case snap, ok := <-ch:
			if !ok {
				break loop
			}
			last = snap
			fmt.Fprint(out, "\r\033[K"+renderProgress(snap))
		}
	}
	fmt.Fprintln(out)

	switch last.Status {
	case status.Completed:
		fmt.Fprintf(out, "Saved %s\n", last.ArtifactPath)
		return nil
	case status.PartiallyCompleted:
		fmt.Fprintf(out, "Saved %s with %d of %d segments missing\n", last.ArtifactPath, last.Failed, last.Total)
		return nil
	default:
		if last.Reason != "" {
			return fmt.Errorf("download %s: %s", last.Status, last.Reason)
		}
		return fmt.Errorf("download %s", last.Status)
	}
}

// renderProgress formats a snapshot as a one-line progress bar.
func renderProgress(s engine.Snapshot) string {
	percentage := 0.0
	if s.Total > 0 {
		percentage = float64(s.Completed+s.Failed) * 100 / float64(s.Total)
	}

	return fmt.Sprintf("%-12s %s %5.1f%% %d/%d segments, %d failed, %.2f MB",
		s.Status, progressBar(percentage, 30), percentage, s.Completed, s.Total, s.Failed,
		float64(s.Bytes)/(1024*1024))
}

func progressBar(percentage float64, width int) string {
	completed := int(percentage * float64(width) / 100)

	var b strings.Builder
	b.WriteByte('[')
	for i := range width {
		if i < completed {
			b.WriteByte('=')
		} else {
			b.WriteByte(' ')
		}
	}
	b.WriteByte(']')

	return b.String()
}

func streamIDFromURL(manifestURL string) string {
	u, err := url.Parse(manifestURL)
	if err != nil {
		return "stream"
	}

	name := strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path))
	if name == "" || name == "." || name == "/" {
		return "stream"
	}

	return name
}
