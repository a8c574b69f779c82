package cmd

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/config"
)

var revokeAddr string

var revokeCmd = &cobra.Command{
	Use:   "revoke [session-id]",
	Short: "Revoke a delegation session on a running server",
	Long: `Revoke a delegation session on a running fiduciary-gate server.

Revocation is the user's kill switch: the session stops validating and
its circuit breaker transitions to TERMINATED immediately.

Example:
  fiduciary-gate revoke 4f7c2d9a-...
  fiduciary-gate revoke --addr 10.0.0.5:8080 4f7c2d9a-...`,
	Args: cobra.ExactArgs(1),
	RunE: runRevoke,
}

func init() {
	revokeCmd.Flags().StringVar(&revokeAddr, "addr", "", "server address (default: server.http_addr from config)")
	rootCmd.AddCommand(revokeCmd)
}

func runRevoke(cmd *cobra.Command, args []string) error {
	addr := revokeAddr
	if addr == "" {
		cfg, err := config.LoadConfigRaw()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		addr = cfg.Server.HTTPAddr
	}

	endpoint := fmt.Sprintf("http://%s/v1/sessions/%s", addr, url.PathEscape(args[0]))
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch resp.StatusCode {
	case http.StatusOK:
		fmt.Printf("session %s revoked\n", args[0])
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("session %s not found", args[0])
	default:
		return fmt.Errorf("revocation failed: %s: %s", resp.Status, string(body))
	}
}
