package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/matheus3301/flashd/internal/daemon"
	"github.com/matheus3301/flashd/internal/instance"
	"github.com/matheus3301/flashd/internal/lock"
	"github.com/matheus3301/flashd/internal/web"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var (
	instanceName string
	jsonOut      bool
	timeout      time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "flashctl",
	Short: "Inspect and drive the flash of a running flashd",
	Long: `flashctl talks to a running flashd instance.

Every invocation is one request cycle of the same session: a value set now
is visible to the next invocation and gone after it, unless kept.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		instanceName = instance.Resolve(instanceName)
		return instance.ValidateName(instanceName)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon health over the control socket",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var getCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Show the flash, or a single key",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return runListing(cmd.Context(), http.MethodGet, "/flash")
		}
		return runEntry(cmd.Context(), http.MethodGet, "/flash/"+url.PathEscape(args[0]), "")
	},
}

var setNow bool

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a flash value for the next invocation",
	Long: `Set a flash value. The value is parsed as JSON; anything that is not
valid JSON is stored as a string. With --now the value is visible only to
this invocation.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/flash/" + url.PathEscape(args[0])
		if setNow {
			path += "?now=1"
		}
		return runEntry(cmd.Context(), http.MethodPut, path, jsonValue(args[1]))
	},
}

var keepCmd = &cobra.Command{
	Use:   "keep [key]",
	Short: "Keep one key, or the whole flash, for another cycle",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListing(cmd.Context(), http.MethodPost, "/flash/keep"+keySuffix(args))
	},
}

var discardCmd = &cobra.Command{
	Use:   "discard [key]",
	Short: "Drop one key, or the whole flash, at the end of this cycle",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListing(cmd.Context(), http.MethodPost, "/flash/discard"+keySuffix(args))
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge <json-object>",
	Short: "Merge several values, visible only to this invocation unless kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListingBody(cmd.Context(), http.MethodPatch, "/flash", args[0])
	},
}

var messageAlert bool

var messageCmd = &cobra.Command{
	Use:   "message [text]",
	Short: "Show the notice and alert, or set one for the next invocation",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			m := web.Messages{Notice: args[0]}
			if messageAlert {
				m = web.Messages{Alert: args[0]}
			}
			body, err := json.Marshal(m)
			if err != nil {
				return err
			}
			return runListingBody(cmd.Context(), http.MethodPost, "/messages", string(body))
		}
		return runMessages(cmd.Context())
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Start a new session with an empty flash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		code, body, err := c.do(ctx, http.MethodPost, "/session/reset", "")
		if err != nil {
			return err
		}
		if err := checkStatus(code, body); err != nil {
			return err
		}
		if jsonOut {
			return printRaw(body)
		}
		var out struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return err
		}
		fmt.Printf("New session: %s\n", out.SessionID)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&instanceName, "instance", "", "instance name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	setCmd.Flags().BoolVar(&setNow, "now", false, "visible to this invocation only")
	messageCmd.Flags().BoolVar(&messageAlert, "alert", false, "set the alert instead of the notice")

	rootCmd.AddCommand(statusCmd, getCmd, setCmd, mergeCmd, messageCmd, keepCmd, discardCmd, resetCmd)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	conn, err := grpc.NewClient(
		"unix://"+instance.SocketPath(instanceName),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return fmt.Errorf("cannot connect to daemon for instance %q: %w", instanceName, err)
	}
	defer func() { _ = conn.Close() }()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: daemon.ServiceName})
	if err != nil {
		return fmt.Errorf("health check for instance %q: %w", instanceName, err)
	}

	owner, _ := lock.ReadOwner(instance.Dir(instanceName))
	if jsonOut {
		out := map[string]any{"instance": instanceName, "status": resp.GetStatus().String()}
		if owner != nil {
			out["pid"] = owner.PID
			out["http_addr"] = owner.HTTPAddr
			out["started"] = owner.Started
		}
		return outputJSON(out)
	}
	fmt.Printf("Instance: %s\n", instanceName)
	fmt.Printf("Status:   %s\n", resp.GetStatus())
	if owner != nil {
		fmt.Printf("PID:      %d\n", owner.PID)
		fmt.Printf("HTTP:     %s\n", owner.HTTPAddr)
		fmt.Printf("Uptime:   %s\n", time.Since(owner.Started).Truncate(time.Second))
	}
	return nil
}

func runListing(ctx context.Context, method, path string) error {
	return runListingBody(ctx, method, path, "")
}

func runListingBody(ctx context.Context, method, path, reqBody string) error {
	c, err := connect()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	code, body, err := c.do(ctx, method, path, reqBody)
	if err != nil {
		return err
	}
	if err := checkStatus(code, body); err != nil {
		return err
	}
	if jsonOut {
		return printRaw(body)
	}

	var l web.Listing
	if err := json.Unmarshal(body, &l); err != nil {
		return err
	}
	if len(l.Entries) == 0 {
		fmt.Println("Flash is empty.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tSTATE\tVALUE")
	for _, e := range l.Entries {
		v, _ := json.Marshal(e.Value)
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Key, e.State, v)
	}
	return w.Flush()
}

func runMessages(ctx context.Context) error {
	c, err := connect()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	code, body, err := c.do(ctx, http.MethodGet, "/messages", "")
	if err != nil {
		return err
	}
	if err := checkStatus(code, body); err != nil {
		return err
	}
	if jsonOut {
		return printRaw(body)
	}
	var m web.Messages
	if err := json.Unmarshal(body, &m); err != nil {
		return err
	}
	fmt.Printf("Notice: %s\n", m.Notice)
	fmt.Printf("Alert:  %s\n", m.Alert)
	return nil
}

func runEntry(ctx context.Context, method, path, body string) error {
	c, err := connect()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	code, data, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if err := checkStatus(code, data); err != nil {
		return err
	}
	if jsonOut {
		return printRaw(data)
	}
	var e web.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	v, _ := json.Marshal(e.Value)
	fmt.Printf("%s = %s (%s)\n", e.Key, v, e.State)
	return nil
}

// connect finds the daemon's HTTP address in the instance lock file.
func connect() (*client, error) {
	owner, err := lock.ReadOwner(instance.Dir(instanceName))
	if err != nil {
		return nil, fmt.Errorf("daemon for instance %q not running? %w", instanceName, err)
	}
	if owner.HTTPAddr == "" {
		return nil, fmt.Errorf("daemon for instance %q has not published an HTTP address yet", instanceName)
	}
	return newClient(owner.HTTPAddr, instance.CookieJarPath(instanceName))
}

func checkStatus(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return errors.New(e.Error)
	}
	return fmt.Errorf("daemon returned %s", http.StatusText(code))
}

// jsonValue returns s when it is a JSON document, otherwise s encoded as a
// JSON string.
func jsonValue(s string) string {
	if json.Valid([]byte(s)) {
		return s
	}
	b, _ := json.Marshal(s)
	return string(b)
}

func keySuffix(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return "/" + url.PathEscape(args[0])
}

func printRaw(body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(body), "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(os.Stdout)
	return err
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
