package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/authtest"
	"github.com/alicebob/miniredis/v2"
)

var errUsage = errors.New("wrong number of arguments")

func (c *cli) login(ctx context.Context, client *authcore.Client, opts options, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: login <email>", errUsage)
	}
	pw, err := c.password(opts)
	if err != nil {
		return err
	}
	res, err := client.Login(ctx, args[0], pw)
	if err != nil {
		return err
	}
	switch r := res.(type) {
	case authcore.TokenPair:
		fmt.Fprintln(c.stdout, "logged in")
	case authcore.MFAChallenge:
		fmt.Fprintln(c.stdout, "mfa required; run: authctl verify <token> <code>")
		fmt.Fprintln(c.stdout, r.TempToken)
	}
	return nil
}

func (c *cli) verify(ctx context.Context, client *authcore.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: verify <token> <code>", errUsage)
	}
	if err := client.Flow().ResumeChallenge(args[0]); err != nil {
		return err
	}
	if _, err := client.VerifyMFA(ctx, args[1]); err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, "logged in")
	return nil
}

func (c *cli) me(ctx context.Context, client *authcore.Client) error {
	u, err := client.Me(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(u)
}

func (c *cli) can(ctx context.Context, client *authcore.Client, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(c.stderr, "usage: authctl can <permission>")
		return 2
	}
	if _, err := client.Me(ctx); err != nil {
		fmt.Fprintf(c.stderr, "can: %v (%s)\n", err, authcore.KindOf(err))
		return 2
	}
	if client.Can(args[0]) {
		fmt.Fprintln(c.stdout, "yes")
		return 0
	}
	fmt.Fprintln(c.stdout, "no")
	return 1
}

func (c *cli) roles(ctx context.Context, client *authcore.Client) error {
	roles, err := client.Roles().List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDISPLAY\tSYSTEM\tPERMISSIONS\tUSERS")
	for _, r := range roles {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%d\t%d\n",
			r.ID, r.Name, r.DisplayName, r.IsSystemRole, r.PermissionCount, r.UserCount)
	}
	return tw.Flush()
}

func (c *cli) assignRole(ctx context.Context, client *authcore.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: assign-role <user-id> <role-id>", errUsage)
	}
	roleID, err := parseRoleID(args[1])
	if err != nil {
		return err
	}
	if err := client.Roles().AssignUserRole(ctx, args[0], roleID); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "user %s now has role %d\n", args[0], roleID)
	return nil
}

func (c *cli) mfaSetup(ctx context.Context, client *authcore.Client) error {
	u, err := client.Me(ctx)
	if err != nil {
		return err
	}
	e := client.NewEnrollment(func() {
		fmt.Fprintln(c.stdout, "mfa enabled")
	})
	if _, err := e.Start(ctx); err != nil {
		return err
	}
	defer e.Abort()

	key, err := e.OTPKey(u.Email)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, "add this key to your authenticator:")
	fmt.Fprintln(c.stdout, key.String())
	if err := e.ConfirmScanned(); err != nil {
		return err
	}

	for {
		code, err := c.readLine("Code: ")
		if err != nil {
			return err
		}
		err = e.Verify(ctx, code)
		if err == nil {
			break
		}
		// Bad codes are retried; anything else ends the enrollment.
		if !authcore.IsKind(err, authcore.KindValidation) && !authcore.IsKind(err, authcore.KindAuthentication) {
			return err
		}
		if code == "" {
			return err
		}
		fmt.Fprintf(c.stderr, "%v; try again\n", err)
	}

	fmt.Fprintln(c.stdout, "backup codes, store them now:")
	for _, bc := range e.BackupCodes() {
		fmt.Fprintln(c.stdout, "  "+bc)
	}
	return e.Acknowledge(ctx)
}

func (c *cli) mfaDisable(ctx context.Context, client *authcore.Client, opts options) error {
	pw, err := c.password(opts)
	if err != nil {
		return err
	}
	if err := client.DisableMFA(ctx, pw); err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, "mfa disabled")
	return nil
}

// serveFake runs the authtest backend until ctx is cancelled.
func (c *cli) serveFake(ctx context.Context, logger *slog.Logger, opts options) int {
	srv, err := authtest.NewServer()
	if err != nil {
		fmt.Fprintf(c.stderr, "serve-fake: %v\n", err)
		return 1
	}

	if opts.withRedis {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(c.stderr, "serve-fake: start redis: %v\n", err)
			return 1
		}
		defer mr.Close()
		fmt.Fprintf(c.stdout, "redis: %s\n", mr.Addr())
	}

	fmt.Fprintf(c.stdout, "backend: http://%s%s\n", opts.addr, authtest.APIPrefix)
	fmt.Fprintf(c.stdout, "accounts (password %q):\n", authtest.Password)
	for _, email := range []string{authtest.UserEmail, authtest.MFAEmail, authtest.SuperuserEmail} {
		fmt.Fprintln(c.stdout, "  "+email)
	}
	fmt.Fprintf(c.stdout, "mfa secret for %s: %s\n", authtest.MFAEmail, authtest.MFASecret)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(opts.addr) }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("serve-fake stopped", slog.Any("err", err))
			return 1
		}
		return 0
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("serve-fake shutdown", slog.Any("err", err))
		return 1
	}
	logger.Info("serve-fake stopped", slog.String("addr", opts.addr))
	return 0
}

func parseRoleID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid role id %q", s)
	}
	return id, nil
}
