package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"askuni/pkg/chatsdk"
)

func newLoginCmd(g *globalFlags) *cobra.Command {
	var (
		email    string
		password string
		register bool
		name     string
		noSave   bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and print the bearer token",
		Long: `Sign in with your university email. The token is printed and saved so
later commands use it automatically. Use --register to create an account.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := bufio.NewReader(cmd.InOrStdin())
			var err error
			if email == "" {
				if email, err = prompt(cmd.ErrOrStderr(), in, "Email: "); err != nil {
					return err
				}
			}
			if password == "" {
				if password, err = readPassword(cmd.ErrOrStderr(), in); err != nil {
					return err
				}
			}

			log, closeLog, err := g.logger(false)
			if err != nil {
				return err
			}
			defer closeLog()
			// Credentials replace whatever token was saved before.
			client := chatsdk.New(g.server, chatsdk.WithLogger(log), chatsdk.WithUserAgent("askuni-chat/"+version))

			var user chatsdk.User
			if register {
				user, err = client.Register(cmd.Context(), email, password, name)
			} else {
				user, err = client.Login(cmd.Context(), email, password)
			}
			if err != nil {
				var apiErr *chatsdk.APIError
				if errors.As(err, &apiErr) && apiErr.Unauthorized() {
					return errors.New("invalid email or password")
				}
				return err
			}

			if !noSave {
				path, err := saveToken(client.Token())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Signed in as %s. Token saved to %s\n", user.Email, path)
			}
			fmt.Fprintln(cmd.OutOrStdout(), client.Token())
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when omitted)")
	cmd.Flags().BoolVar(&register, "register", false, "create the account first")
	cmd.Flags().StringVar(&name, "name", "", "display name for --register")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "print the token without saving it")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := removeToken(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "Signed out.")
			return nil
		},
	}
}

func prompt(w io.Writer, in *bufio.Reader, label string) (string, error) {
	fmt.Fprint(w, label)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	return strings.TrimSpace(line), nil
}

// readPassword reads without echo on a terminal, or a plain line otherwise.
func readPassword(w io.Writer, in *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return prompt(w, in, "Password: ")
	}
	fmt.Fprint(w, "Password: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}
