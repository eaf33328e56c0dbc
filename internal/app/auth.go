package app

import (
	"context"
	"fmt"
	"strings"
)

// Login validates the form fields, exchanges them for tokens, and persists
// the credential triple.
func Login(ctx context.Context, opts Options, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return fmt.Errorf("email and password are required")
	}
	e, err := bootstrap(opts)
	if err != nil {
		return err
	}
	if err := e.client.Login(ctx, email, password); err != nil {
		return err
	}
	e.log.WithField("identity", email).Info("logged in")
	return nil
}

// Register creates a new account. The password must be confirmed, matching
// the registration form's checks.
func Register(ctx context.Context, opts Options, email, password, confirm string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return fmt.Errorf("email and password are required")
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}
	e, err := bootstrap(opts)
	if err != nil {
		return err
	}
	return e.client.Register(ctx, email, password)
}

// Logout clears the stored credential.
func Logout(opts Options) error {
	e, err := bootstrap(opts)
	if err != nil {
		return err
	}
	return e.creds.Clear()
}
