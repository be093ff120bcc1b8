package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gosuri/uitable"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ukydev/fleet-simulation/internal/clock"
	"github.com/ukydev/fleet-simulation/internal/handlers"
	"github.com/ukydev/fleet-simulation/internal/models"
)

// client talks to the simulation control API.
type client struct {
	apiURL    string
	authToken string
	http      *http.Client
}

func newClient(apiURL, token string) *client {
	return &client{
		apiURL:    strings.TrimSuffix(apiURL, "/"),
		authToken: token,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *client) do(method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, c.apiURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusConflict {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *client) authorizedPost(path string, body interface{}) (handlers.ControlResponse, error) {
	var resp handlers.ControlResponse
	err := c.do(http.MethodPost, path, body, &resp)
	return resp, err
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var apiURL, token string
	var cl *client

	rootCmd := &cobra.Command{
		Use:          "simctl",
		Short:        "Control a running fleet simulation",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if token == "" {
				token = os.Getenv("SIM_AUTH_TOKEN")
			}
			cl = newClient(apiURL, token)
		},
	}

	defaultURL := os.Getenv("API_BASE_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8081"
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "Simulation API base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token (defaults to SIM_AUTH_TOKEN)")

	getClient := func() *client { return cl }
	rootCmd.AddCommand(
		controlCmd("start", "Start the simulation clock", "/api/simulation/start", getClient),
		controlCmd("stop", "Stop the simulation clock", "/api/simulation/stop", getClient),
		resetCmd(getClient),
		stepCmd(getClient),
		statusCmd(getClient),
		seedCmd(getClient),
		loginCmd(getClient),
	)
	return rootCmd
}

func controlCmd(use, short, path string, cl func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := cl().authorizedPost(path, nil)
			if err != nil {
				return err
			}
			printControl(cmd.OutOrStdout(), resp)
			return nil
		},
	}
}

func resetCmd(cl func() *client) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Rewind the simulation clock to tick zero",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/simulation/reset"
			if full {
				path += "?full=true"
			}
			resp, err := cl().authorizedPost(path, nil)
			if err != nil {
				return err
			}
			printControl(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Also realign every vehicle's status window")
	return cmd
}

func stepCmd(cl func() *client) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "step",
		Short: "Run ticks manually while the clock is stopped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("count must be at least 1")
			}
			var resp handlers.ControlResponse
			for i := 0; i < count; i++ {
				r, err := cl().authorizedPost("/api/simulation/step", nil)
				if err != nil {
					return err
				}
				if !r.Changed {
					printControl(cmd.OutOrStdout(), r)
					return fmt.Errorf("step refused after %d ticks", i)
				}
				resp = r
			}
			printControl(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of ticks to run")
	return cmd
}

func statusCmd(cl func() *client) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the simulation clock and fleet distribution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var status clock.Status
			if err := cl().do(http.MethodGet, "/api/simulation/status", nil, &status); err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}
			fmt.Fprintln(cmd.OutOrStdout(), statusTable(status))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status document")
	return cmd
}

func seedCmd(cl func() *client) *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Add vehicles to the fleet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]int
			if err := cl().do(http.MethodPost, "/api/fleet/seed", handlers.SeedRequest{Size: size}, &out); err != nil {
				return err
			}
			log.WithField("created_vehicles", out["created"]).Info("Vehicle creation completed")
			fmt.Fprintf(cmd.OutOrStdout(), "Created %d vehicles\n", out["created"])
			return nil
		},
	}
	cmd.Flags().IntVarP(&size, "size", "n", 10, "Number of vehicles to create")
	return cmd
}

func loginCmd(cl func() *client) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain a bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("SIM_PASSWORD")
			}
			var resp models.LoginResponse
			req := models.LoginRequest{Username: username, Password: password}
			if err := cl().do(http.MethodPost, "/api/auth/login", req, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "admin", "Account name")
	cmd.Flags().StringVarP(&password, "password", "P", "", "Account password (defaults to SIM_PASSWORD)")
	return cmd
}

func printControl(w io.Writer, resp handlers.ControlResponse) {
	fmt.Fprintf(w, "%s: %s\n", resp.Action, resp.Message)
	fmt.Fprintln(w, statusTable(resp.Status))
}

func statusTable(s clock.Status) *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = 60

	table.AddRow("RUN:", s.RunID)
	table.AddRow("RUNNING:", s.Running)
	table.AddRow("TICK:", s.TickCount)
	table.AddRow("SIMULATED TIME:", s.SimulatedNow.Format(time.RFC3339))
	table.AddRow("MINUTES/TICK:", s.MinutesPerTick)
	if s.LastTickAt != nil {
		table.AddRow("LAST TICK:", s.LastTickAt.Format(time.RFC3339))
	}

	if sum := s.LastSummary; sum != nil {
		table.AddRow("VEHICLES:", sum.Vehicles)
		table.AddRow("TRANSITIONS:", sum.Transitions)
		table.AddRow("DISPATCHED:", sum.Dispatched)
		table.AddRow("FINISHED:", sum.Finished)

		statuses := make([]string, 0, len(sum.Distribution))
		for status := range sum.Distribution {
			statuses = append(statuses, string(status))
		}
		sort.Strings(statuses)
		for _, status := range statuses {
			table.AddRow("  "+status+":", sum.Distribution[models.VehicleStatus(status)])
		}
	}
	return table
}
