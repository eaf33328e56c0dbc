package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/govisionhq/lens/internal/app"
)

const usage = `lens - govision detection client

Usage:
  lens login -email <email> -password <password>
  lens register -email <email> -password <password> -confirm <password>
  lens logout
  lens upload [flags] <file> [<file>...]
  lens export [flags] <job-id>

Upload flags:
  -config <path>   override config path
  -poll <seconds>  poll interval
  -jobs <n>        upload concurrency
  -out <dir>       artifact output directory
  -no-export       disable automatic export of annotated images
  -no-ui           run headless and print a summary table
`

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "login":
		err = runLogin(ctx, os.Args[2:])
	case "register":
		err = runRegister(ctx, os.Args[2:])
	case "logout":
		err = runLogout(os.Args[2:])
	case "upload":
		err = runUpload(ctx, os.Args[2:])
	case "export":
		err = runExport(ctx, os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "lens: unknown command %q\n\n%s", os.Args[1], usage)
		return 2
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "lens: %v\n", err)
		return 1
	}
	return 0
}

func runLogin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	configPath := fs.String("config", "", "override config path")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	_ = fs.Parse(args)

	opts := app.Options{ConfigPath: *configPath}
	if err := app.Login(ctx, opts, *email, *password); err != nil {
		return err
	}
	fmt.Printf("logged in as %s\n", *email)
	return nil
}

func runRegister(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	configPath := fs.String("config", "", "override config path")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	confirm := fs.String("confirm", "", "confirm password")
	_ = fs.Parse(args)

	opts := app.Options{ConfigPath: *configPath}
	if err := app.Register(ctx, opts, *email, *password, *confirm); err != nil {
		return err
	}
	fmt.Println("account created; log in with 'lens login'")
	return nil
}

func runLogout(args []string) error {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	configPath := fs.String("config", "", "override config path")
	_ = fs.Parse(args)

	if err := app.Logout(app.Options{ConfigPath: *configPath}); err != nil {
		return err
	}
	fmt.Println("logged out")
	return nil
}

func runUpload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	opts := uploadOptions(fs)
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("no files given")
	}
	return app.RunUpload(ctx, *opts, fs.Args())
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	opts := uploadOptions(fs)
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("export expects exactly one job id")
	}
	return app.RunExport(ctx, *opts, fs.Arg(0))
}

func uploadOptions(fs *flag.FlagSet) *app.Options {
	opts := &app.Options{}
	fs.StringVar(&opts.ConfigPath, "config", "", "override config path")
	fs.IntVar(&opts.PollEvery, "poll", 0, "poll interval in seconds")
	fs.IntVar(&opts.Concurrency, "jobs", 0, "upload concurrency")
	fs.StringVar(&opts.OutputDir, "out", "", "artifact output directory")
	fs.BoolVar(&opts.NoExport, "no-export", false, "disable automatic export")
	fs.BoolVar(&opts.NoUI, "no-ui", false, "run headless")
	return opts
}
