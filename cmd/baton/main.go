package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"baton/internal/config"
	"baton/internal/host"
	"baton/internal/logging"
	"baton/internal/notify"
	"baton/internal/runtime"
)

var (
	version  = "0.1.0"
	cfgFile  string
	model    string
	workDir  string
	headless bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "baton [instruction]",
		Short: "Agent that builds small web projects from plain instructions",
		Long: `Baton turns natural-language instructions into project files. It talks to
an LLM backend, writes and patches files in a workspace, runs vetted
commands, and previews the result.

Interactive by default; pass --headless with an instruction for one-shot
use.`,
		Args: cobra.ArbitraryArgs,
		RunE: run,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/baton/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "backend model override")
	rootCmd.PersistentFlags().StringVar(&workDir, "workdir", "", "workspace directory (default is the current directory)")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", false, "submit the instruction, print the reply and exit")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("baton version %s\n", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		writeConfigTemplate()
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg.Version = version
	if model != "" {
		cfg.Backend.Model = model
	}

	if workDir == "" {
		workDir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}
	}

	// Logs go to a file under the config dir; stdout belongs to the UI.
	level := logging.ParseLevel(cfg.Logging.Level)
	if err := logging.EnableFileLogging(config.Dir(), level); err != nil {
		fmt.Fprintln(os.Stderr, "file logging disabled:", err)
	}
	defer logging.Close()

	rt, err := runtime.New(cfg, workDir, headless)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rt.Start(ctx); err != nil {
		return err
	}

	if headless {
		defer rt.Shutdown()
		return runHeadless(rt, strings.Join(args, " "))
	}

	err = host.New(rt, workDir).Run()
	rt.Shutdown()
	return err
}

// writeConfigTemplate creates the default config file on first run, so a
// user chasing a missing-key error has a file to fill in.
func writeConfigTemplate() {
	path := config.DefaultPath()
	if _, err := os.Stat(path); err == nil || !os.IsNotExist(err) {
		return
	}
	if err := config.DefaultConfig().Save(path); err != nil {
		fmt.Fprintln(os.Stderr, "could not write default config:", err)
	}
}

// runHeadless submits one instruction and streams the reply to stdout.
// Gated commands are denied: there is no terminal to ask on.
func runHeadless(rt *runtime.Runtime, instruction string) error {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return errors.New("headless mode needs an instruction argument")
	}

	if _, err := rt.Submit(runtime.Submission{Text: instruction}); err != nil {
		return err
	}

	for n := range rt.Notifications() {
		switch n.Kind {
		case notify.KindStreamToken:
			fmt.Print(n.Token.Text)
		case notify.KindArtifactCreated:
			fmt.Fprintf(os.Stderr, "wrote %s (%d bytes)\n", n.Artifact.Path, n.Artifact.Bytes)
		case notify.KindConfirmRequest:
			fmt.Fprintf(os.Stderr, "denied gated command: %s\n", n.Confirm.Description)
			if err := rt.Confirm(n.Confirm.ID, false, false); err != nil {
				logging.Warn("headless deny failed", "id", n.Confirm.ID, "error", err)
			}
		case notify.KindDone:
			fmt.Println()
			return nil
		case notify.KindError:
			return errors.New(n.Failure.Message)
		case notify.KindAborted:
			return errors.New("aborted")
		}
	}
	return nil
}
