// Package cli is the command-line front end over the session controller.
package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	"starterkit/internal/client/api"
	"starterkit/internal/client/config"
	"starterkit/internal/client/credstore"
	"starterkit/internal/client/pipeline"
	"starterkit/internal/client/session"
	"starterkit/internal/model"
)

var (
	// ErrUsage is returned for an unknown command or missing arguments.
	ErrUsage = errors.New("usage")
	// ErrNotLoggedIn is returned by commands that need a session.
	ErrNotLoggedIn = errors.New("not logged in")
)

const usage = `usage: client [-a url] [-t timeout] [-f file] <command>

commands:
  login <email>                 log in (password is prompted)
  register <name> <email>       create an account and log in
  me                            show the logged-in identity
  users                         list all users (admin)
  profile [-name N] [-email E]  change your name or email
  delete                        delete your account
  logout                        forget the stored session
`

type App struct {
	ctrl   *session.Controller
	api    *api.Client
	tty    *os.File
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer
}

// NewApp wires the credential file, pipeline and session controller.
func NewApp(cfg *config.Config, in io.Reader, out, errOut io.Writer, log *slog.Logger) *App {
	store := credstore.NewFileStore(cfg.CredentialFile)
	console := &console{w: errOut}
	p := pipeline.New(cfg.ServerURL, store,
		pipeline.WithTimeout(cfg.Timeout),
		pipeline.WithNotifier(console),
		pipeline.WithNavigator(console),
		pipeline.WithLogger(log),
	)
	client := api.New(p)
	app := &App{
		ctrl:   session.New(client, log),
		api:    client,
		in:     bufio.NewReader(in),
		out:    out,
		errOut: errOut,
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		app.tty = f
	}
	return app
}

// Run restores the stored session and executes one command.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(a.errOut, usage)
		return ErrUsage
	}

	a.ctrl.Init(ctx)

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return a.login(ctx, rest)
	case "register":
		return a.register(ctx, rest)
	case "me":
		return a.me()
	case "users":
		return a.users(ctx)
	case "profile":
		return a.profile(ctx, rest)
	case "delete":
		return a.requireSession(func() error { return a.ctrl.DeleteAccount(ctx) })
	case "logout":
		a.ctrl.Logout()
		return nil
	default:
		fmt.Fprint(a.errOut, usage)
		return fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}
}

func (a *App) login(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: login <email>", ErrUsage)
	}
	pw, err := a.password()
	if err != nil {
		return err
	}
	if err := a.ctrl.Login(ctx, api.Credentials{Email: args[0], Password: pw}); err != nil {
		return err
	}
	printUser(a.out, a.ctrl.Identity())
	return nil
}

func (a *App) register(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: register <name> <email>", ErrUsage)
	}
	pw, err := a.password()
	if err != nil {
		return err
	}
	err = a.ctrl.Register(ctx, api.Registration{Name: args[0], Email: args[1], Password: pw})
	if err != nil {
		printFieldErrors(a.errOut, err)
		return err
	}
	printUser(a.out, a.ctrl.Identity())
	return nil
}

func (a *App) me() error {
	return a.requireSession(func() error {
		printUser(a.out, a.ctrl.Identity())
		return nil
	})
}

func (a *App) users(ctx context.Context) error {
	return a.requireSession(func() error {
		ident := a.ctrl.Identity()
		if ident.Role != model.RoleAdmin {
			fmt.Fprintln(a.errOut, pipeline.MsgForbidden)
			return fmt.Errorf("role %q cannot list users", ident.Role)
		}
		users, err := a.api.ListUsers(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tROLE")
		for _, u := range users {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, u.Role)
		}
		return tw.Flush()
	})
}

func (a *App) profile(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("profile", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	name := fs.String("name", "", "new name")
	email := fs.String("email", "", "new email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var upd api.ProfileUpdate
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			upd.Name = name
		case "email":
			upd.Email = email
		}
	})
	if upd.Name == nil && upd.Email == nil {
		return fmt.Errorf("%w: profile [-name N] [-email E]", ErrUsage)
	}

	return a.requireSession(func() error {
		u, err := a.ctrl.UpdateProfile(ctx, upd)
		if err != nil {
			printFieldErrors(a.errOut, err)
			return err
		}
		printUser(a.out, u)
		return nil
	})
}

// requireSession is the CLI's route gate: fn runs only once the restored
// session is known to be authenticated.
func (a *App) requireSession(fn func() error) error {
	if !a.ctrl.IsAuthenticated() {
		fmt.Fprintln(a.errOut, "Not logged in. Run: client login <email>")
		return ErrNotLoggedIn
	}
	return fn()
}

func (a *App) password() (string, error) {
	if a.tty != nil {
		fmt.Fprint(a.errOut, "Enter password: ")
		pw, err := term.ReadPassword(int(a.tty.Fd()))
		fmt.Fprintln(a.errOut)
		if err != nil {
			return "", err
		}
		return string(pw), nil
	}

	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func printUser(w io.Writer, u *model.User) {
	if u == nil {
		return
	}
	fmt.Fprintf(w, "%s <%s>\nid:   %s\nrole: %s\n", u.Name, u.Email, u.ID, u.Role)
}

func printFieldErrors(w io.Writer, err error) {
	var apiErr *pipeline.APIError
	if !errors.As(err, &apiErr) {
		return
	}
	for _, fe := range apiErr.Errors {
		fmt.Fprintf(w, "  %s: %s\n", fe.Field, fe.Message)
	}
}

// console prints notices to the terminal.
type console struct {
	w io.Writer
}

func (c *console) Success(msg string) { fmt.Fprintln(c.w, msg) }
func (c *console) Error(msg string)   { fmt.Fprintln(c.w, "error: "+msg) }
func (c *console) ToLogin()           { fmt.Fprintln(c.w, "Run: client login <email>") }
