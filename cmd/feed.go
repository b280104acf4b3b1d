package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"content-service/aggregator"
	"content-service/config"
	"content-service/service"

	"github.com/spf13/cobra"
)

type feedOptions struct {
	limit int
	sel   aggregator.Selection
}

func newFeedCmd() *cobra.Command {
	opts := feedOptions{sel: aggregator.All}
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Fetch the mixed feed once and print it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeed(cmd, opts)
		},
	}
	cmd.Flags().IntVar(&opts.limit, "limit", service.FeedRoute.DefaultLimit, "maximum number of items")
	cmd.Flags().BoolVar(&opts.sel.Memes, "memes", true, "include Imgur memes")
	cmd.Flags().BoolVar(&opts.sel.Crypto, "crypto", true, "include crypto news")
	cmd.Flags().BoolVar(&opts.sel.Gaming, "gaming", true, "include gaming news")
	return cmd
}

func runFeed(cmd *cobra.Command, opts feedOptions) error {
	if opts.limit < 1 {
		return fmt.Errorf("--limit must be positive, got %d", opts.limit)
	}
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*cfg.HTTPTimeout)
	defer cancel()

	res := newAggregator(cfg).GetMixedFeedFrom(ctx, service.FeedRoute.Clamp(opts.limit), opts.sel)
	if !res.Success {
		return errors.New(res.Error)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res.Data)
}
