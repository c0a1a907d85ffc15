// Package main provides gatewayctl, the account-management CLI: add, list,
// remove, test, and refresh subcommands against the gateway's SQLite store.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/relaymux/llm-gateway/internal/auth"
	"github.com/relaymux/llm-gateway/internal/config"
	"github.com/relaymux/llm-gateway/internal/store"
	"github.com/relaymux/llm-gateway/internal/upstream"
	"github.com/relaymux/llm-gateway/internal/utils"
)

var sqlitePath string

func main() {
	root := &cobra.Command{
		Use:   "gatewayctl",
		Short: "Manage the gateway's Google account pool",
	}
	root.PersistentFlags().StringVar(&sqlitePath, "store", "", "path to the gateway SQLite database (default: config default)")

	root.AddCommand(addCmd(), listCmd(), removeCmd(), testCmd(), refreshCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore() (*store.Store, error) {
	path := sqlitePath
	if path == "" {
		cfg, err := config.Load("")
		if err != nil {
			return nil, err
		}
		path = cfg.SQLitePath
	}
	return store.Open(path)
}

func addCmd() *cobra.Command {
	var noBrowser bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Authorize a new Google account via the OAuth PKCE browser flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			urlResult, err := auth.GetAuthorizationURL("")
			if err != nil {
				return fmt.Errorf("build authorization url: %w", err)
			}

			fmt.Println("Open this URL in a browser and authorize access:")
			fmt.Println()
			fmt.Println("  " + urlResult.URL)
			fmt.Println()
			if !noBrowser {
				_ = tryOpenBrowser(urlResult.URL)
			}
			fmt.Print("Paste the callback URL or code here: ")

			reader := bufio.NewReader(os.Stdin)
			input, _ := reader.ReadString('\n')
			extracted, err := auth.ExtractCodeFromInput(input)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			result, err := auth.CompleteOAuthFlow(ctx, extracted.Code, urlResult.Verifier, "")
			if err != nil {
				return fmt.Errorf("complete oauth flow: %w", err)
			}

			refresh := auth.FormatRefreshParts(auth.RefreshParts{
				RefreshToken: result.RefreshToken,
				ProjectID:    result.ProjectID,
			})
			row := store.AccountRow{
				Email:        result.Email,
				RefreshToken: refresh,
				ProjectID:    result.ProjectID,
				Tier:         "unknown",
				IsActive:     true,
			}
			if _, err := st.UpsertAccount(ctx, row); err != nil {
				return fmt.Errorf("save account: %w", err)
			}

			utils.Success("Added account %s (project %s)", result.Email, result.ProjectID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "don't attempt to open a browser")
	return cmd
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts in the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := context.Background()
			rows, err := st.ListAccounts(ctx)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("No accounts configured.")
				return nil
			}
			for _, r := range rows {
				status := "active"
				if !r.IsActive {
					status = "disabled"
				}
				fmt.Printf("%-40s tier=%-10s project=%-20s %s\n", r.Email, r.Tier, r.ProjectID, status)
			}
			return nil
		},
	}
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <email>",
		Short: "Remove an account from the pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmDestructive("Remove account " + args[0] + "? [y/N] ") {
				fmt.Println("Aborted.")
				return nil
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.DeleteAccount(context.Background(), args[0]); err != nil {
				return err
			}
			utils.Success("Removed account %s", args[0])
			return nil
		},
	}
}

func testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <email>",
		Short: "Round-trip a cheap request through an account to confirm it's usable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			rows, err := st.ListAccounts(ctx)
			if err != nil {
				return err
			}
			var target *store.AccountRow
			for i := range rows {
				if rows[i].Email == args[0] {
					target = &rows[i]
					break
				}
			}
			if target == nil {
				return fmt.Errorf("no account %s in store", args[0])
			}

			creds := auth.NewCredentials()
			token, err := creds.GetAccessToken(ctx, target.Email, target.RefreshToken, time.Minute)
			if err != nil {
				return fmt.Errorf("refresh token: %w", err)
			}

			up := upstream.NewClient()
			env := upstream.Wrap(target.ProjectID, "gemini-3-flash", map[string]interface{}{
				"contents": []map[string]interface{}{
					{"role": "user", "parts": []map[string]interface{}{{"text": "ping"}}},
				},
			})
			headers := map[string]string{"Authorization": "Bearer " + token}
			result, err := up.Do(ctx, "/v1internal:generateContent", headers, env, false)
			if err != nil {
				return fmt.Errorf("test request failed: %w", err)
			}
			defer result.Body.Close()

			if result.StatusCode >= 200 && result.StatusCode < 300 {
				utils.Success("%s responded %d: account is usable", target.Email, result.StatusCode)
			} else {
				utils.Warn("%s responded %d: account may be rate-limited or invalid", target.Email, result.StatusCode)
			}
			return nil
		},
	}
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <email>",
		Short: "Force a token refresh for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			rows, err := st.ListAccounts(ctx)
			if err != nil {
				return err
			}
			var target *store.AccountRow
			for i := range rows {
				if rows[i].Email == args[0] {
					target = &rows[i]
					break
				}
			}
			if target == nil {
				return fmt.Errorf("no account %s in store", args[0])
			}

			creds := auth.NewCredentials()
			creds.Invalidate(target.Email)
			if _, err := creds.GetAccessToken(ctx, target.Email, target.RefreshToken, time.Minute); err != nil {
				return fmt.Errorf("refresh failed: %w", err)
			}
			utils.Success("Refreshed token for %s", target.Email)
			return nil
		},
	}
}

// confirmDestructive reads a y/N confirmation, using the terminal's raw
// mode when stdin is a tty so Ctrl-C during the prompt doesn't leave the
// terminal in a half-read state.
func confirmDestructive(prompt string) bool {
	fmt.Print(prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		state, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err == nil {
			defer term.Restore(int(os.Stdin.Fd()), state)
			var buf [1]byte
			os.Stdin.Read(buf[:])
			fmt.Println()
			return buf[0] == 'y' || buf[0] == 'Y'
		}
	}
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y")
}

// tryOpenBrowser shells out to the platform's "open a URL" command. Failure
// is non-fatal: the URL is already printed for the user to open by hand.
func tryOpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", strings.ReplaceAll(url, "&", "^&"))
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
