package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/giantswarm/idp"
	"github.com/giantswarm/idp/internal/util"
	"github.com/giantswarm/idp/resource"
)

// maxAPIResponseBytes bounds the resource API response read by the console client
const maxAPIResponseBytes = 1 << 20

type tokenOptions struct {
	issuer       string
	apiURL       string
	clientID     string
	clientSecret string
	scopes       []string
	timeout      time.Duration
}

func newTokenCmd() *cobra.Command {
	opts := &tokenOptions{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Request a client credentials token and call the resource API",
		Long: `Request an access token with the client credentials grant, then call
GET /api/users with it and print the JSON response.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return runToken(ctx, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.issuer, "issuer", "http://localhost:5000", "identity provider base URL")
	cmd.Flags().StringVar(&opts.apiURL, "api-url", "", "resource API base URL (default: the issuer)")
	cmd.Flags().StringVar(&opts.clientID, "client-id", "client", "client id")
	cmd.Flags().StringVar(&opts.clientSecret, "client-secret", "secret", "client secret")
	cmd.Flags().StringSliceVar(&opts.scopes, "scope", []string{"api1"}, "requested scopes")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall request timeout")

	return cmd
}

func runToken(ctx context.Context, opts *tokenOptions, out io.Writer) error {
	issuer := util.NormalizeURL(opts.issuer)
	apiURL := util.NormalizeURL(opts.apiURL)
	if apiURL == "" {
		apiURL = issuer
	}

	cc := &clientcredentials.Config{
		ClientID:     opts.clientID,
		ClientSecret: opts.clientSecret,
		TokenURL:     issuer + idp.TokenPath,
		Scopes:       opts.scopes,
	}

	tok, err := cc.Token(ctx)
	if err != nil {
		return fmt.Errorf("token request failed: %w", err)
	}
	fmt.Fprintf(out, "access token expires %s, scopes %s\n",
		tok.Expiry.Format(time.RFC3339), strings.Join(opts.scopes, " "))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+resource.UsersPath, nil)
	if err != nil {
		return err
	}
	tok.SetAuthHeader(req)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("resource API request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read resource API response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("resource API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		return fmt.Errorf("resource API returned invalid JSON: %w", err)
	}
	pretty.WriteByte('\n')
	_, err = pretty.WriteTo(out)
	return err
}
