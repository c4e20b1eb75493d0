package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	httpBase  string
	grpcAddr  string
	transport string
	apiKey    string
	apiHeader string
	natsURL   string
	verbose   bool
	timeout   time.Duration

	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:           "vmorgctl",
	Short:         "Talk to a vmorgd daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		switch transport {
		case "http", "grpc":
		default:
			return fmt.Errorf("--transport must be http or grpc, got %q", transport)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that vmorgd answers over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return httpDo(cmd, http.MethodGet, "/ping", nil)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&httpBase, "http", "http://localhost:8080", "vmorgd HTTP base URL")
	pf.StringVar(&grpcAddr, "grpc", "localhost:50051", "vmorgd gRPC address")
	pf.StringVar(&transport, "transport", "http", "transport for requests and stats: http or grpc")
	pf.StringVar(&apiKey, "api-key", os.Getenv("VMORG_API_KEY"), "gRPC API key")
	pf.StringVar(&apiHeader, "api-header", "x-api-key", "gRPC metadata key carrying the API key")
	pf.StringVar(&natsURL, "nats", "", "publish a cli.events notice to this NATS server")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	pf.DurationVar(&timeout, "timeout", 10*time.Second, "per-call timeout")

	rootCmd.AddCommand(pingCmd, requestCmd, statsCmd, getCmd, listCmd, startCmd, stopCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// httpDo sends body (JSON encoded when non-nil) and prints the response.
// Non-2xx responses are returned as errors after printing.
func httpDo(cmd *cobra.Command, method, path string, body interface{}) error {
	var rd io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(bs)
	}
	req, err := http.NewRequestWithContext(cmd.Context(), method, httpBase+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	logger.Debug("http response", zap.String("path", path), zap.Int("status", resp.StatusCode))

	if _, err := io.Copy(cmd.OutOrStdout(), resp.Body); err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// notify publishes a CLI event when --nats is set. Failures only log.
func notify(event string, fields map[string]interface{}) {
	if natsURL == "" {
		return
	}
	nc, err := nats.Connect(natsURL, nats.Name("vmorgctl"), nats.Timeout(2*time.Second))
	if err != nil {
		logger.Warn("nats connect failed", zap.String("url", natsURL), zap.Error(err))
		return
	}
	defer nc.Drain()

	fields["event"] = event
	fields["time"] = time.Now().Unix()
	b, err := json.Marshal(fields)
	if err != nil {
		return
	}
	if err := nc.Publish("cli.events", b); err != nil {
		logger.Warn("nats publish failed", zap.Error(err))
	}
}
