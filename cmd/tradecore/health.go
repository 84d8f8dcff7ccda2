package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func runHealth(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("addr")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(addr + "/healthz")
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("health response: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(body))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("instance unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
