// Command authflow walks the whole authorization dance end to end against a
// running pair of servers: login, code exchange, tool calls, refresh, and
// revocation. Useful as a smoke test and as a worked example of the client.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/quartzlabs/gatekeeper-mcp/internal/authclient"
	"github.com/quartzlabs/gatekeeper-mcp/internal/config"
	"github.com/quartzlabs/gatekeeper-mcp/internal/logging"
)

func main() {
	var (
		authURL     = flag.String("auth", "http://localhost:9000", "authorization server base URL")
		resourceURL = flag.String("resource", "http://localhost:8080", "resource server base URL")
		clientID    = flag.String("client", "test-client", "OAuth client ID")
		secret      = flag.String("secret", "test-secret", "OAuth client secret")
		redirect    = flag.String("redirect", "http://localhost:8082/callback", "registered redirect URI")
		username    = flag.String("user", "alice", "username to sign in as")
		password    = flag.String("password", "password123", "password")
		scope       = flag.String("scope", "read write", "scopes to request")
	)
	flag.Parse()

	config.LoadEnv(".env")
	log := logging.New("authflow")
	slog.SetDefault(log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := authclient.New(authclient.Config{
		AuthServerURL:     *authURL,
		ResourceServerURL: *resourceURL,
		ClientID:          *clientID,
		ClientSecret:      *secret,
		RedirectURI:       *redirect,
		Scope:             *scope,
	}, log)

	step := func(name string, fn func() error) {
		fmt.Printf("==> %s\n", name)
		if err := fn(); err != nil {
			fmt.Fprintf(os.Stderr, "    FAILED: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("    ok (state: %s)\n", client.State())
	}

	step("authenticate via authorization-code flow", func() error {
		return client.Authenticate(ctx, *username, *password)
	})

	step("call get_user_profile", func() error {
		result, err := client.CallTool(ctx, "get_user_profile", nil)
		if err != nil {
			return err
		}
		fmt.Printf("    %s\n", result.Content[0].Text)
		return nil
	})

	step("call list_resources", func() error {
		result, err := client.CallTool(ctx, "list_resources", nil)
		if err != nil {
			return err
		}
		fmt.Printf("    %s\n", result.Content[0].Text)
		return nil
	})

	step("write then read a record", func() error {
		if _, err := client.CallTool(ctx, "write_data", map[string]any{
			"id": "flow-demo", "data": "written by authflow",
		}); err != nil {
			return err
		}
		result, err := client.CallTool(ctx, "read_data", map[string]any{"id": "flow-demo"})
		if err != nil {
			return err
		}
		fmt.Printf("    %s\n", result.Content[0].Text)
		return nil
	})

	step("refresh the token pair", func() error {
		return client.Refresh(ctx)
	})

	step("call get_user_profile with the rotated token", func() error {
		_, err := client.CallTool(ctx, "get_user_profile", nil)
		return err
	})

	fmt.Println("authorization flow completed")
}
