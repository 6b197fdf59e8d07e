package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/logmail/pkg/api"
	"github.com/telekom/logmail/pkg/config"
	"github.com/telekom/logmail/pkg/ingest"
	"github.com/telekom/logmail/pkg/mail"
	"github.com/telekom/logmail/pkg/stream"
	"github.com/telekom/logmail/pkg/system"
)

type runOptions struct {
	kafka          bool
	level          string
	metricsAddress string
}

func NewRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Read JSON log records and mail the selected ones",
		Long: `Reads newline-delimited JSON log records from stdin (or a Kafka topic with
--kafka) and sends one email per record at or above the configured level.
On EOF, SIGINT or SIGTERM pending mail is drained for up to shutdownTimeout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			cfg, err := rt.Config()
			if err != nil {
				return err
			}
			return runStream(cmd.Context(), rt, *cfg, opts)
		},
	}

	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level to mail, overrides ingest.level")
	cmd.Flags().StringVar(&opts.metricsAddress, "metrics-address", getEnvString("LOGMAIL_METRICS_ADDRESS", ""),
		"Serve metrics and status here, overrides metrics.listenAddress (env LOGMAIL_METRICS_ADDRESS)")
	cmd.Flags().BoolVar(&opts.kafka, "kafka", getEnvBool("LOGMAIL_KAFKA", false), "Consume records from ingest.kafka instead of stdin (env LOGMAIL_KAFKA)")

	return cmd
}

func runStream(parent context.Context, rt *runtimeState, cfg config.Config, opts *runOptions) error {
	log := rt.Logger()

	if opts.level != "" {
		cfg.Ingest.Level = opts.level
	}
	filter, err := cfg.Ingest.Filter()
	if err != nil {
		return fmt.Errorf("invalid level: %w", err)
	}
	if opts.kafka && !cfg.Ingest.Kafka.Enabled() {
		return errors.New("--kafka requires ingest.kafka.brokers in the config file")
	}

	s, err := stream.New(cfg.Mail, cfg.Transport, log)
	if err != nil {
		return err
	}
	tlog := log.With(system.TransportFields(s.Transport(), cfg.Transport.Kind())...)
	s.OnMailSent(func(resp *mail.Response) {
		tlog.Infow("Mail sent", "messageID", resp.MessageID, "accepted", len(resp.Accepted), "rejected", len(resp.Rejected))
	})
	s.OnError(func(err error) {
		tlog.Errorw("Mail delivery failed", "error", err)
	})

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var server *api.Server
	addr := cfg.Metrics.ListenAddress
	if opts.metricsAddress != "" {
		addr = opts.metricsAddress
	}
	if addr != "" {
		server = api.NewServer(log.Desugar(), addr, s, rt.debug || cfg.Debug)
		if err := server.Start(); err != nil {
			_ = s.Close()
			return err
		}
	}

	var ingestErr error
	if opts.kafka {
		ingestErr = consumeKafka(ctx, *cfg.Ingest.Kafka, s, filter, log)
	} else {
		ingestErr = readInput(ctx, rt.input, s, filter, log)
	}
	if errors.Is(ingestErr, context.Canceled) {
		log.Info("Interrupted, draining pending mail")
		ingestErr = nil
	}

	shutdownStream(s, cfg, log)

	if server != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			log.Warnw("Error shutting down ops server", "error", err)
		}
	}
	return ingestErr
}

// readInput forwards r until EOF or ctx is done. A blocked read does not
// delay shutdown.
func readInput(ctx context.Context, r io.Reader, out ingest.RecordWriter, filter ingest.Filter, log *zap.SugaredLogger) error {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := ingest.ReadLines(ctx, r, out, filter, log)
		done <- result{n, err}
	}()

	select {
	case res := <-done:
		log.Infow("Input finished", "records", res.n)
		return res.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func consumeKafka(ctx context.Context, kcfg ingest.KafkaConfig, out ingest.RecordWriter, filter ingest.Filter, log *zap.SugaredLogger) error {
	src, err := ingest.NewKafkaSource(kcfg, out, filter, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Warnw("Error closing Kafka source", "error", err)
		}
	}()
	return src.Run(ctx)
}

// shutdownStream ends s gracefully, falling back to Close once the shutdown
// timeout elapses. A zero timeout waits for every pending send.
func shutdownStream(s *stream.Stream, cfg config.Config, log *zap.SugaredLogger) {
	ctx := context.Background()
	if cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ShutdownTimeout)
		defer cancel()
	}
	if err := s.End(ctx); err != nil {
		log.Warnw("Graceful shutdown incomplete, closing transport", "error", err, "pending", s.Pending())
		if cerr := s.Close(); cerr != nil {
			log.Warnw("Error closing delivery stream", "error", cerr)
		}
	}
}
