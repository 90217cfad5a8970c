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
)

func newLoginCommand(ctx *commandContext) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Log in and store the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := newPrompter(cmd)
			if password == "" {
				p, err := prompt.password("Password: ")
				if err != nil {
					return err
				}
				password = p
			}

			s, err := ctx.openShelf(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.close()

			// The notifier has already printed the server's reason.
			if err := s.panel.Login(cmd.Context(), args[0], password); err != nil {
				return errors.New("login failed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	return cmd
}

func newRegisterCommand(ctx *commandContext) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "register <username>",
		Short: "Create an account and log in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			confirm := password
			if password == "" {
				prompt := newPrompter(cmd)
				p, err := prompt.password("Password: ")
				if err != nil {
					return err
				}
				c, err := prompt.password("Confirm password: ")
				if err != nil {
					return err
				}
				password, confirm = p, c
			}

			s, err := ctx.openShelf(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.panel.Register(cmd.Context(), args[0], password, confirm); err != nil {
				return errors.New("registration failed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered and logged in as %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted twice when omitted)")
	return cmd
}

func newLogoutCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openShelf(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.sessions.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newWhoamiCommand(ctx *commandContext) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openShelf(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.close()

			out := cmd.OutOrStdout()
			sess := s.sessions.Current()
			if sess == nil {
				fmt.Fprintln(out, "Not logged in")
				return nil
			}
			if !offline && !s.sessions.Validate(cmd.Context(), sess) {
				if err := s.sessions.Logout(); err != nil {
					return err
				}
				fmt.Fprintln(out, "Session expired, logged out")
				return nil
			}

			name := sess.Profile.DisplayName
			if name == "" || name == sess.Profile.Username {
				fmt.Fprintln(out, sess.Profile.Username)
			} else {
				fmt.Fprintf(out, "%s (%s)\n", sess.Profile.Username, name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Do not check the session with the server")
	return cmd
}

// prompter reads secrets from the terminal without echo, or line by line
// when input is redirected.
type prompter struct {
	in     io.Reader
	out    io.Writer
	reader *bufio.Reader
}

func newPrompter(cmd *cobra.Command) *prompter {
	return &prompter{in: cmd.InOrStdin(), out: cmd.ErrOrStderr()}
}

func (p *prompter) password(label string) (string, error) {
	fmt.Fprint(p.out, label)

	if f, ok := p.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}

	if p.reader == nil {
		p.reader = bufio.NewReader(p.in)
	}
	line, err := p.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
