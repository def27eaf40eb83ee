// Command simstudent drives simulated students against a proctor server.
// Each student runs the real client stack and replays a behaviour script.
// Usage: go run ./cmd/simstudent -server http://localhost:8080 -students 5 -scenario ladder
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/raysh454/proctor/internal/cli"
	"github.com/raysh454/proctor/internal/config"
	"github.com/raysh454/proctor/internal/interfaces"
	"github.com/raysh454/proctor/internal/logging"
	"github.com/raysh454/proctor/internal/sim"
	"github.com/raysh454/proctor/internal/webclient"
)

func main() {
	args, err := cli.ParseSimArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid arguments: %v", err)
	}
	sc, err := sim.Lookup(args.Scenario)
	if err != nil {
		log.Fatalf("Invalid arguments: %v", err)
	}

	cfg, err := config.Load(args.ConfigPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	logger, err := logging.New(cfg.Log.Format, "simstudent", cfg.Log.Level)
	if err != nil {
		log.Fatalf("Logger error: %v", err)
	}

	wcfg := webclient.DefaultConfig()
	wcfg.BaseURL = args.Server
	wcfg.AuthToken = args.Token
	wcfg.UserAgent = "proctor-simstudent"
	client, err := webclient.NewNetHTTPClient(wcfg, logger, nil)
	if err != nil {
		log.Fatalf("Client error: %v", err)
	}
	defer client.Close()

	if args.QueueDir != "" {
		if err := os.MkdirAll(args.QueueDir, 0o755); err != nil {
			log.Fatalf("Queue dir: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if args.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, args.Timeout)
		defer cancel()
	}

	orch := sim.NewOrchestrator(cfg.Agent, sim.Deps{
		Transport: client,
		NewSubscriber: func() interfaces.Subscriber {
			return webclient.NewWSSubscriber(wcfg, cfg.Agent.Reconnect, logger)
		},
		QueueDir: args.QueueDir,
	}, logger)

	fmt.Printf("Running %d student(s) through %q against %s\n", args.Students, sc.Name, args.Server)
	for i := 1; i <= args.Students; i++ {
		studentID := fmt.Sprintf("sim-%03d", i)
		if _, err := orch.StartStudentJob(ctx, args.ExamID, studentID, sc); err != nil {
			log.Fatalf("Start %s: %v", studentID, err)
		}
	}
	if err := orch.Wait(ctx); err != nil {
		_ = orch.Shutdown(context.Background())
	}

	failed := 0
	fmt.Println()
	fmt.Printf("%-10s %-38s %-10s %-11s %s\n", "STUDENT", "SESSION", "JOB", "STATUS", "STRIKES")
	for _, j := range orch.ListJobs() {
		fmt.Printf("%-10s %-38s %-10s %-11s %d\n", j.StudentID, j.SessionID, j.Status, j.FinalStatus, j.Strikes)
		if j.Status == sim.JobFailed {
			failed++
			fmt.Printf("           error: %s\n", j.Error)
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}
