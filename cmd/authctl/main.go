// Command authctl drives an authcore client from the shell: login with the MFA
// step, session inspection, MFA enrollment and role listing. serve-fake runs
// the in-process identity backend for local use.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/joho/godotenv"
)

const usage = `usage: authctl [flags] <command> [args]

commands:
  login <email>           log in; prints the MFA token when a second factor is required
  verify <token> <code>   complete an MFA challenge
  logout                  revoke and forget the stored session
  me                      print the current user
  can <permission>        exit 0 when the current user holds permission
  roles                   list roles
  assign-role <user> <id> move a user to a role
  mfa-setup               enroll a TOTP authenticator
  mfa-disable             turn MFA off (prompts for the password)
  serve-fake              run the in-process identity backend

flags:
`

type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	getenv func(string) (string, bool)

	lines *bufio.Reader
}

func main() {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "notice: .env not loaded: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr, getenv: os.LookupEnv}
	os.Exit(c.run(ctx, os.Args[1:]))
}

type options struct {
	configPath string
	baseURL    string
	redisAddr  string
	password   string
	logLevel   string
	addr       string
	withRedis  bool
}

func (c *cli) run(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("authctl", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	fs.Usage = func() {
		fmt.Fprint(c.stderr, usage)
		fs.PrintDefaults()
	}

	var opts options
	fs.StringVar(&opts.configPath, "config", "", "TOML configuration file")
	fs.StringVar(&opts.baseURL, "base-url", "", "backend base URL, overrides config")
	fs.StringVar(&opts.redisAddr, "redis", "", "persist the session in Redis at this address")
	fs.StringVar(&opts.password, "password", "", "password for login and mfa-disable; prompted when empty")
	fs.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&opts.addr, "addr", "127.0.0.1:8000", "serve-fake listen address")
	fs.BoolVar(&opts.withRedis, "with-redis", false, "serve-fake also starts an in-memory Redis")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	cfg, err := c.loadConfig(opts)
	if err != nil {
		fmt.Fprintf(c.stderr, "config: %v\n", err)
		return 2
	}
	logger := logging.NewWithWriter(c.stderr, cfg.Log.Level, cfg.Log.Format)
	ctx = logging.IntoContext(ctx, logger)

	if cmd == "serve-fake" {
		return c.serveFake(ctx, logger, opts)
	}

	client, err := authcore.New().WithConfig(cfg).WithLogger(logger).Build()
	if err != nil {
		fmt.Fprintf(c.stderr, "build client: %v\n", err)
		return 2
	}
	defer client.Close()

	if _, err := client.Restore(ctx); err != nil {
		logger.Warn("restore session", slog.Any("err", err))
	}

	switch cmd {
	case "login":
		err = c.login(ctx, client, opts, rest)
	case "verify":
		err = c.verify(ctx, client, rest)
	case "logout":
		client.Logout(ctx)
		fmt.Fprintln(c.stdout, "logged out")
	case "me":
		err = c.me(ctx, client)
	case "can":
		return c.can(ctx, client, rest)
	case "roles":
		err = c.roles(ctx, client)
	case "assign-role":
		err = c.assignRole(ctx, client, rest)
	case "mfa-setup":
		err = c.mfaSetup(ctx, client)
	case "mfa-disable":
		err = c.mfaDisable(ctx, client, opts)
	default:
		fmt.Fprintf(c.stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}
	if err != nil {
		fmt.Fprintf(c.stderr, "%s: %v (%s)\n", cmd, err, authcore.KindOf(err))
		return 1
	}
	return 0
}

// loadConfig layers defaults, the TOML file, AUTHCORE_* variables and flags.
func (c *cli) loadConfig(opts options) (authcore.Config, error) {
	cfg := authcore.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := authcore.LoadConfigFile(opts.configPath)
		if err != nil {
			return authcore.Config{}, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnvFrom(c.getenv); err != nil {
		return authcore.Config{}, err
	}
	if opts.baseURL != "" {
		cfg.Backend.BaseURL = opts.baseURL
	}
	if opts.redisAddr != "" {
		cfg.Store.Backend = authcore.StoreRedis
		cfg.Store.RedisAddr = opts.redisAddr
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	return cfg, nil
}
