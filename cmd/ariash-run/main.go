// Command ariash-run is a small interactive front-end over pkg/job,
// demonstrating the six-channel process fabric end to end: spawn jobs in
// the foreground or background, move them between states, and inspect
// their buffered output.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/alternative-intelligence-cp/aria-shell/pkg/job"
	"github.com/alternative-intelligence-cp/aria-shell/pkg/process"
	"github.com/alternative-intelligence-cp/aria-shell/pkg/ptyutil"
	"github.com/alternative-intelligence-cp/aria-shell/pkg/tap"
)

func main() {
	app := &cli.App{
		Name:        "ariash-run",
		Usage:       "interactive job-control shell over the hex-stream process fabric",
		Description: "Spawns commands through pkg/job, exercising the six-channel I/O fabric, the cooperative drainers, and job-control state transitions.",
		Version:     "0.1.0",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "pick",
				Usage: "launch the interactive job picker instead of the line-oriented REPL",
			},
		},
		Action: func(c *cli.Context) error {
			mgr := newManager()
			if c.Bool("pick") {
				return runPicker(mgr)
			}
			return runREPL(mgr)
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ariash-run:", err)
		os.Exit(1)
	}
}

func newManager() *job.Manager {
	var arbiter *ptyutil.Arbiter
	if tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0); err == nil {
		if a, aerr := ptyutil.NewArbiter(tty); aerr == nil {
			// Baseline the shell's own terminal mode before any job ever
			// takes the foreground, so RestoreMode always has something
			// to hand back to.
			_ = a.SaveMode()
			arbiter = a
		}
	}
	return job.NewManager(arbiter, func(j *job.Job, from, to job.State) {
		tap.Logger(context.Background()).Info("job state change",
			"job_id", j.ID, "from", from.String(), "to", to.String())
	})
}

// runREPL implements a tiny command language: run/bg spawn, fg/bgcmd
// move a job, jobs lists the table, kill terminates, quit exits.
func runREPL(mgr *job.Manager) error {
	fmt.Println("ariash-run: type 'help' for commands")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("ariash> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "help":
			printHelp()
		case "quit", "exit":
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := mgr.Shutdown(ctx)
			cancel()
			return err
		case "run":
			spawnFromFields(mgr, fields[1:], true)
		case "bg":
			spawnFromFields(mgr, fields[1:], false)
		case "jobs":
			printJobs(mgr)
		case "fg":
			withJobID(fields, func(id int) { report(mgr.ToForeground(id)) })
		case "bgcmd":
			withJobID(fields, func(id int) { report(mgr.ToBackground(id)) })
		case "stop":
			withJobID(fields, func(id int) { report(mgr.Stop(id)) })
		case "wait":
			withJobID(fields, func(id int) {
				code, err := mgr.Wait(id, 0)
				if err != nil {
					fmt.Println("error:", err)
					return
				}
				fmt.Println("exit code:", code)
			})
		case "logs":
			printLogs(fields[1:])
		case "kill":
			withJobID(fields, func(id int) { report(mgr.Terminate(id)) })
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

func spawnFromFields(mgr *job.Manager, args []string, fg bool) {
	if len(args) == 0 {
		fmt.Println("usage: run|bg <path> [args...]")
		return
	}
	j, err := mgr.Spawn(context.Background(), process.Config{Path: args[0], Args: args[1:]}, fg)
	if err != nil {
		fmt.Println("spawn failed:", err)
		return
	}
	fmt.Printf("[%d] pid %d %s\n", j.ID, j.PID(), j.State())
}

func withJobID(fields []string, fn func(id int)) {
	if len(fields) < 2 {
		fmt.Println("usage:", fields[0], "<job id>")
		return
	}
	id, err := strconv.Atoi(fields[1])
	if err != nil {
		fmt.Println("invalid job id:", fields[1])
		return
	}
	fn(id)
}

func report(err error) {
	if err != nil {
		fmt.Println("error:", err)
	}
}

// printLogs prints the most recent buffered log entries, optionally
// filtered to a single job's ID: "logs <job id>" or "logs" for everything.
func printLogs(args []string) {
	var jobID int
	if len(args) > 0 {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Println("invalid job id:", args[0])
			return
		}
		jobID = id
	}
	for _, e := range tap.GetLogBuffer().Snapshot(50, slog.LevelDebug, jobID, "") {
		fmt.Printf("%s [%s] %s %v\n", e.Time.Format("15:04:05.000"), e.LevelStr, e.Message, e.Attrs)
	}
}

func printJobs(mgr *job.Manager) {
	for _, j := range mgr.Jobs() {
		fmt.Printf("[%d] pid %d %-10s %s\n", j.ID, j.PID(), j.State(), j.Config.Path)
	}
}

func printHelp() {
	fmt.Println(`commands:
  run <path> [args...]   spawn in the foreground
  bg <path> [args...]    spawn in the background
  jobs                   list jobs
  fg <id>                bring a job to the foreground
  bgcmd <id>             send a job to the background
  stop <id>              suspend a job (SIGTSTP to its process group)
  wait <id>              block until a job terminates, print its exit code
  logs [id]              show recent log entries, optionally filtered to one job
  kill <id>              terminate a job
  quit                   shut down all jobs and exit`)
}
