package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

type globalFlags struct {
	httpBase string
	natsURL  string
	grpcAddr string
	timeout  time.Duration
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "bridgectl",
		Short:         "Inspect a running machine bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&g.httpBase, "addr", "http://localhost:8080", "bridge HTTP base URL")
	pf.StringVar(&g.natsURL, "nats-url", nats.DefaultURL, "NATS server URL")
	pf.StringVar(&g.grpcAddr, "grpc-addr", "localhost:50051", "bridge gRPC address")
	pf.DurationVar(&g.timeout, "timeout", 5*time.Second, "request timeout")

	cmd.AddCommand(
		pingCmd(g),
		machinesCmd(g),
		onlineCmd(g),
		historyCmd(g),
		publishCmd(g),
		watchCmd(g),
		healthCmd(g),
	)
	return cmd
}

func pingCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the HTTP shim answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.get(cmd, "/ping", nil)
		},
	}
}

func machinesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "machines",
		Aliases: []string{"ls"},
		Short:   "List the machines currently online",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.get(cmd, "/machines", nil)
		},
	}
}

func onlineCmd(g *globalFlags) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "online",
		Short: "Ask whether a machine is online right now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.get(cmd, "/machines/online", url.Values{"id": {id}})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "machine node id, e.g. nsu=http://example.com/lathe/;s=Lathe")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func historyCmd(g *globalFlags) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the recorded machine history",
		RunE: func(cmd *cobra.Command, args []string) error {
			var q url.Values
			if id != "" {
				q = url.Values{"id": {id}}
			}
			return g.get(cmd, "/machines/history", q)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "only show this machine")
	return cmd
}

func publishCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Trigger a publish cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.httpBase+"/publish", nil)
			if err != nil {
				return err
			}
			return do(cmd.OutOrStdout(), req)
		},
	}
}

func watchCmd(g *globalFlags) *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print messages published on a subject until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			nc, err := nats.Connect(g.natsURL, nats.Name("bridgectl"))
			if err != nil {
				return fmt.Errorf("connect %s: %w", g.natsURL, err)
			}
			defer nc.Drain()

			out := cmd.OutOrStdout()
			sub, err := nc.Subscribe(subject, func(m *nats.Msg) {
				fmt.Fprintf(out, "[%s] %s %s\n", time.Now().Format(time.TimeOnly), m.Subject, m.Data)
			})
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", subject, err)
			}
			defer sub.Unsubscribe()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "/umati/emo/machineList", "subject to watch")
	return cmd
}

func healthCmd(g *globalFlags) *cobra.Command {
	var service string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the gRPC health service",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := grpc.NewClient(g.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()
			resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
			if err != nil {
				return fmt.Errorf("health check: %w", err)
			}
			b, err := protojson.MarshalOptions{Multiline: true}.Marshal(resp)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
	cmd.Flags().StringVar(&service, "service", "", "service name; empty checks the whole server")
	return cmd
}

func (g *globalFlags) get(cmd *cobra.Command, path string, q url.Values) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
	defer cancel()
	u := g.httpBase + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return do(cmd.OutOrStdout(), req)
}

// do sends req and pretty-prints the JSON response.
func do(out io.Writer, req *http.Request) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	var body any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(body); err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, resp.Status)
	}
	return nil
}
