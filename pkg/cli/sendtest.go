package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/logmail/pkg/logrecord"
	"github.com/telekom/logmail/pkg/mail"
	"github.com/telekom/logmail/pkg/stream"
)

func NewSendTestCommand() *cobra.Command {
	var (
		level   string
		name    string
		message string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send-test",
		Short: "Send one synthetic log record through the configured transport",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			cfg, err := rt.Config()
			if err != nil {
				return err
			}
			lvl, err := logrecord.ParseLevel(level)
			if err != nil {
				return err
			}

			hostname, _ := os.Hostname()
			rec := &logrecord.Record{
				Level:    lvl,
				Name:     name,
				PID:      os.Getpid(),
				Hostname: hostname,
				Time:     time.Now().UTC(),
				Msg:      message,
			}

			s, err := stream.New(cfg.Mail, cfg.Transport, rt.Logger())
			if err != nil {
				return err
			}

			var (
				sent    *mail.Response
				sendErr error
			)
			s.OnMailSent(func(resp *mail.Response) { sent = resp })
			s.OnError(func(err error) { sendErr = err })

			s.Write(rec)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := s.End(ctx); err != nil {
				_ = s.Close()
				return fmt.Errorf("waiting for test mail: %w", err)
			}

			if sendErr != nil {
				return fmt.Errorf("test mail failed: %w", sendErr)
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Sent %q via %s (message id %s)\n",
				logrecord.FormatSubject(rec), s.Transport(), sent.MessageID)
			return nil
		},
	}

	cmd.Flags().StringVar(&level, "level", "error", "Record level (name or number)")
	cmd.Flags().StringVar(&name, "name", "logmail", "Record name")
	cmd.Flags().StringVar(&message, "msg", "logmail test message", "Record message")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for delivery")

	return cmd
}
