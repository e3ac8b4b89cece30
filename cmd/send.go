package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/scrape-dispatch/internal/config"
	"github.com/JakeFAU/scrape-dispatch/internal/rpc"
	amqptransport "github.com/JakeFAU/scrape-dispatch/internal/transport/amqp"
	natstransport "github.com/JakeFAU/scrape-dispatch/internal/transport/nats"
)

// dialTransport is replaced in tests.
var dialTransport = func(cfg config.RPCConfig) (rpc.Transport, func() error, error) {
	switch cfg.Transport {
	case "nats":
		nc, err := natstransport.Connect(cfg.URL, "scrape-dispatch-send", 10*time.Second)
		if err != nil {
			return nil, nil, err
		}
		return natstransport.NewTransport(nc), func() error { nc.Close(); return nil }, nil
	default:
		sess, err := amqptransport.Dial(cfg.URL, "scrape-dispatch-send", 10*time.Second)
		if err != nil {
			return nil, nil, err
		}
		t, err := amqptransport.NewTransport(sess.Channel, cfg.ReplyQueue)
		if err != nil {
			_ = sess.Close()
			return nil, nil, err
		}
		return t, sess.Close, nil
	}
}

func newSendCmd() *cobra.Command {
	var (
		timeout time.Duration
		headers []string
	)
	cmd := &cobra.Command{
		Use:   "send <queue> <payload>",
		Short: "Send one job and print the reply",
		Long: `Publishes payload to queue with a private reply address and waits for the
correlated reply. JSON payloads are sent as JSON; anything else as text.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			opts := []rpc.SendOption{rpc.WithTimeout(timeout)}
			for _, h := range headers {
				k, v, ok := strings.Cut(h, "=")
				if !ok || k == "" {
					return fmt.Errorf("header %q: want key=value", h)
				}
				opts = append(opts, rpc.WithHeader(k, v))
			}

			transport, closeFn, err := dialTransport(rt.cfg.RPC)
			if err != nil {
				return fmt.Errorf("connect %s: %w", rt.cfg.RPC.Transport, err)
			}
			defer func() { _ = closeFn() }()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			client := rpc.NewClient(transport, rpc.WithDefaultTimeout(rt.cfg.RPC.Timeout), rpc.WithLogger(rt.logger))
			if err := client.Start(ctx); err != nil {
				return err
			}
			reply, err := client.Send(ctx, args[0], payloadOf(args[1]), opts...)
			if err != nil {
				if errors.Is(err, rpc.ErrTimeout) {
					return fmt.Errorf("no reply from %s: %w", args[0], err)
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(reply.Body))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "reply timeout (default rpc.timeout)")
	cmd.Flags().StringArrayVar(&headers, "header", nil, "request header key=value, repeatable")
	return cmd
}

func payloadOf(arg string) any {
	if json.Valid([]byte(arg)) {
		return json.RawMessage(arg)
	}
	return arg
}
