package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethpir/statepir/client"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

// newCmd_Query is the C7 client CLI: it either queries a raw database
// index directly, or resolves an (address, slot) pair through a lane's
// index first. Each invocation gets its own entry in the session log via
// SessionID, the same per-process identifier cmd-version.go stamps.
func newCmd_Query() *cli.Command {
	var staticBase string
	var queryBase string
	var lane string
	var indexFlag int64
	var addressHex string
	var slotHex string
	var bucketed bool

	return &cli.Command{
		Name:      "query",
		Usage:     "Fetch one value from a lane without revealing which index was queried.",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "static", Usage: "Base URL of the static endpoint", Required: true, Destination: &staticBase},
			&cli.StringFlag{Name: "query-url", Usage: "Base URL of the query endpoint", Required: true, Destination: &queryBase},
			&cli.StringFlag{Name: "lane", Required: true, Destination: &lane},
			&cli.Int64Flag{Name: "index", Usage: "Raw database index to query", Value: -1, Destination: &indexFlag},
			&cli.StringFlag{Name: "address", Usage: "20-byte contract address, hex-encoded", Destination: &addressHex},
			&cli.StringFlag{Name: "slot", Usage: "32-byte storage slot, hex-encoded", Destination: &slotHex},
			&cli.BoolFlag{Name: "bucketed", Usage: "Lane is bucket-addressed rather than stem-addressed", Destination: &bucketed},
		},
		Action: func(c *cli.Context) error {
			klog.V(2).Infof("query: session %s", SessionID)

			c7, err := client.New(c.Context, staticBase, queryBase, lane, nil)
			if err != nil {
				return cli.Exit(fmt.Sprintf("connecting to lane %q: %s", lane, err), 1)
			}

			targets, err := resolveTargets(c.Context, staticBase, lane, indexFlag, addressHex, slotHex, bucketed)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			for _, target := range targets {
				value, err := c7.Get(c.Context, target)
				if err != nil {
					return cli.Exit(fmt.Sprintf("querying index %d: %s", target, err), 1)
				}
				fmt.Printf("index=%d value=%s\n", target, hex.EncodeToString(value[:]))
			}
			return nil
		},
	}
}

func resolveTargets(ctx context.Context, staticBase, lane string, indexFlag int64, addressHex, slotHex string, bucketed bool) ([]uint64, error) {
	if indexFlag >= 0 {
		return []uint64{uint64(indexFlag)}, nil
	}
	if addressHex == "" || slotHex == "" {
		return nil, fmt.Errorf("query: provide either --index or both --address and --slot")
	}

	address, err := decodeHex(addressHex, 20)
	if err != nil {
		return nil, fmt.Errorf("query: --address: %w", err)
	}
	slotBytes, err := decodeHex(slotHex, 32)
	if err != nil {
		return nil, fmt.Errorf("query: --slot: %w", err)
	}
	var slot [32]byte
	copy(slot[:], slotBytes)

	resolver := client.NewIndexResolver(staticBase, lane, nil)
	if bucketed {
		candidates, err := resolver.ResolveBucketCandidates(ctx, address, slotBytes)
		if err != nil {
			return nil, fmt.Errorf("query: resolving bucket candidates: %w", err)
		}
		if len(candidates) > 1 {
			klog.Warningf("query: %d candidates share this bucket; querying all of them, caller must disambiguate by expected value", len(candidates))
		}
		return candidates, nil
	}
	index, err := resolver.ResolveStem(ctx, address, slot)
	if err != nil {
		return nil, fmt.Errorf("query: resolving stem: %w", err)
	}
	return []uint64{index}, nil
}

func decodeHex(s string, want int) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != want {
		return nil, fmt.Errorf("got %d bytes, want %d", len(b), want)
	}
	return b, nil
}
