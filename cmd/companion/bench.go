package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ent0n29/companion/internal/observability"
	"github.com/ent0n29/companion/internal/protocol"
)

var defaultUtterances = []string{
	"こんにちは",
	"今日はどんな一日だった？",
	"Dockerについて教えて",
	"ありがとう！",
}

type benchOptions struct {
	baseURL     string
	sessionID   string
	personaID   string
	turns       int
	interTurn   time.Duration
	turnTimeout time.Duration
	texts       []string
	verbose     bool
}

type benchResult struct {
	Latencies []time.Duration
	Errors    int
	Stages    *observability.LatencySnapshot
}

func newBenchCmd() *cobra.Command {
	opts := benchOptions{}
	var textsRaw string
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Replay text turns against a running server and report latency",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.baseURL = strings.TrimRight(strings.TrimSpace(opts.baseURL), "/")
			if opts.baseURL == "" {
				return fmt.Errorf("base-url is required")
			}
			if opts.turns <= 0 {
				return fmt.Errorf("turns must be > 0")
			}
			opts.texts = defaultUtterances
			if strings.TrimSpace(textsRaw) != "" {
				opts.texts = nil
				for _, t := range strings.Split(textsRaw, "|") {
					if t = strings.TrimSpace(t); t != "" {
						opts.texts = append(opts.texts, t)
					}
				}
			}
			res, err := runBench(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			printBench(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:5000", "server base URL")
	cmd.Flags().StringVar(&opts.sessionID, "session", "bench", "session id used for the replay")
	cmd.Flags().StringVar(&opts.personaID, "persona", "", "persona id used for the replay")
	cmd.Flags().IntVar(&opts.turns, "turns", 10, "number of turns to replay")
	cmd.Flags().DurationVar(&opts.interTurn, "inter-turn", 200*time.Millisecond, "delay between turns")
	cmd.Flags().DurationVar(&opts.turnTimeout, "turn-timeout", 60*time.Second, "timeout waiting for each reply")
	cmd.Flags().StringVar(&textsRaw, "texts", "", "utterances separated by '|'")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "print each reply")
	return cmd
}

func runBench(ctx context.Context, opts benchOptions, progress io.Writer) (benchResult, error) {
	wsURL, err := wsURLFor(opts.baseURL, opts.sessionID, opts.personaID)
	if err != nil {
		return benchResult{}, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return benchResult{}, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	if _, err := awaitFrame(conn, opts.turnTimeout); err != nil {
		return benchResult{}, fmt.Errorf("waiting for connected frame: %w", err)
	}

	var res benchResult
	for i := 0; i < opts.turns; i++ {
		if ctx.Err() != nil {
			break
		}
		text := opts.texts[i%len(opts.texts)]
		started := time.Now()
		if err := conn.WriteJSON(protocol.SendMessage{Type: protocol.TypeSendMessage, SessionID: opts.sessionID, Message: text}); err != nil {
			return res, fmt.Errorf("send turn %d: %w", i+1, err)
		}
		frame, err := awaitFrame(conn, opts.turnTimeout)
		if err != nil {
			return res, fmt.Errorf("turn %d: %w", i+1, err)
		}
		elapsed := time.Since(started)
		if frame.Type == protocol.TypeError {
			res.Errors++
		} else {
			res.Latencies = append(res.Latencies, elapsed)
		}
		if opts.verbose {
			fmt.Fprintf(progress, "turn %d %s %s: %s\n", i+1, elapsed.Round(time.Millisecond), frame.Type, frame.Text)
		}
		if opts.interTurn > 0 && i < opts.turns-1 {
			time.Sleep(opts.interTurn)
		}
	}

	snapshot, err := fetchStages(ctx, opts.baseURL)
	if err == nil {
		res.Stages = &snapshot
	} else if opts.verbose {
		fmt.Fprintf(progress, "stage snapshot unavailable: %v\n", err)
	}
	return res, nil
}

type benchFrame struct {
	Type protocol.MessageType `json:"type"`
	Text string               `json:"text"`
	Code string               `json:"code"`
}

func awaitFrame(conn *websocket.Conn, timeout time.Duration) (benchFrame, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return benchFrame{}, err
	}
	var f benchFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return benchFrame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

func wsURLFor(baseURL, sessionID, personaID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base-url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/ws"
	q := url.Values{}
	q.Set("session_id", sessionID)
	if personaID != "" {
		q.Set("persona_id", personaID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func fetchStages(ctx context.Context, baseURL string) (observability.LatencySnapshot, error) {
	var snapshot observability.LatencySnapshot
	resp, err := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		R().
		SetContext(ctx).
		SetResult(&snapshot).
		Get("/v1/perf/latency")
	if err != nil {
		return snapshot, err
	}
	if resp.IsError() {
		return snapshot, fmt.Errorf("status %d", resp.StatusCode())
	}
	return snapshot, nil
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q*float64(len(sorted)-1) + 0.5)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func printBench(out io.Writer, res benchResult) {
	sorted := append([]time.Duration(nil), res.Latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	fmt.Fprintf(out, "turns ok=%d errors=%d\n", len(sorted), res.Errors)
	if len(sorted) > 0 {
		fmt.Fprintf(out, "reply latency p50=%s p95=%s max=%s\n",
			percentile(sorted, 0.50).Round(time.Millisecond),
			percentile(sorted, 0.95).Round(time.Millisecond),
			sorted[len(sorted)-1].Round(time.Millisecond))
	}
	if res.Stages == nil {
		return
	}
	for _, st := range res.Stages.Stages {
		flag := ""
		if st.OverTarget {
			flag = " over target"
		}
		fmt.Fprintf(out, "stage %-14s %-8s n=%-4d p50=%.1fms p95=%.1fms%s\n", st.Stage, st.Outcome, st.Samples, st.P50MS, st.P95MS, flag)
	}
}
