package main

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/ethpir/statepir/delta"
	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

// newCmd_Follow streams a lane's finalized-block delta log over
// /ws/deltas, the second of §4.8's three read paths (ranged catch-up,
// this live push, and raw index re-download), printing each frame as it
// arrives.
func newCmd_Follow() *cli.Command {
	var wsBase string
	var lane string

	return &cli.Command{
		Name:  "follow",
		Usage: "Stream a lane's delta log over WebSocket.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "ws", Usage: "Base ws:// or http:// URL of the static endpoint", Required: true, Destination: &wsBase},
			&cli.StringFlag{Name: "lane", Required: true, Destination: &lane},
		},
		Action: func(c *cli.Context) error {
			dialURL, err := followURL(wsBase, lane)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			conn, _, err := websocket.DefaultDialer.DialContext(c.Context, dialURL, nil)
			if err != nil {
				return cli.Exit(fmt.Sprintf("dialing %s: %s", dialURL, err), 1)
			}
			defer conn.Close()
			klog.Infof("follow: streaming lane %q from %s", lane, dialURL)

			for {
				msgType, payload, err := conn.ReadMessage()
				if err != nil {
					return cli.Exit(fmt.Sprintf("follow: connection closed: %s", err), 1)
				}
				if msgType != websocket.BinaryMessage {
					continue
				}
				frame, _, err := delta.Unmarshal(payload)
				if err != nil {
					klog.Errorf("follow: decoding frame: %v", err)
					continue
				}
				printFrame(frame)
			}
		},
	}
}

func printFrame(frame delta.DeltaFrame) {
	fmt.Printf("block=%d entries=%d\n", frame.BlockNumber, len(frame.Entries))
	for _, e := range frame.Entries {
		fmt.Printf("  bucket=%d old=%s new=%s\n",
			e.BucketID, hex.EncodeToString(e.OldValue[:]), hex.EncodeToString(e.NewValue[:]))
	}
}

// followURL rewrites wsBase's scheme to ws(s):// and appends the
// /ws/deltas path with the lane query parameter the server side expects.
func followURL(wsBase, lane string) (string, error) {
	u, err := url.Parse(wsBase)
	if err != nil {
		return "", fmt.Errorf("follow: parsing --ws %q: %w", wsBase, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("follow: --ws must be http(s):// or ws(s)://, got %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/deltas"
	q := u.Query()
	q.Set("lane", lane)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
