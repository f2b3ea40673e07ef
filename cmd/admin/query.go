package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// queryCmd fetches a read-only view from a running server.
func queryCmd() *cobra.Command {
	var baseURL string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "query <path>",
		Short: "GET a /v1 query endpoint of a running server",
		Example: "  wcadmin query ledgers\n" +
			"  wcadmin query residency/p1\n" +
			"  wcadmin query ledgers/W1/players/p1",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := queryURL(baseURL, args[0])
			if err != nil {
				return err
			}
			cl := &http.Client{Timeout: timeout}
			resp, err := cl.Get(u)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			b, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(b)))
			if resp.StatusCode/100 != 2 {
				return fmt.Errorf("%s: %s", u, resp.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://127.0.0.1:8080", "server base url")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

func queryURL(base, path string) (string, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(base), "/"))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("bad server url %q", base)
	}
	path = strings.TrimPrefix(strings.TrimSpace(path), "/")
	path = strings.TrimPrefix(path, "v1/")
	return u.String() + "/v1/" + path, nil
}
