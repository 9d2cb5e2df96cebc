// sessionctl is an operator tool for inspecting and exporting the
// trading guard's session documents.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/tradoai/agentguard/internal/config"
	"github.com/tradoai/agentguard/internal/logging"
	"github.com/tradoai/agentguard/internal/session"
	"github.com/tradoai/agentguard/pkg/reporting"
)

const usage = `Usage: sessionctl [-dir <session-dir>] <command> [args]

Commands:
  list                     List all sessions
  show <session-id>        Print one session in full
  export <session-id> <out.xlsx>
                           Export a session ledger to Excel
  delete <session-id>      Delete a session document
`

func main() {
	dir := flag.String("dir", "", "Session directory (default: SESSION_DIR or ./sessions)")
	envFile := flag.String("env", ".env", "Environment file path")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load(*envFile)
	cfg := config.Load()
	if *dir == "" {
		*dir = cfg.SessionDir
	}

	logger := logging.New(logging.Config{Level: "warn", Console: true})
	mgr, err := session.NewManager(*dir, logger)
	if err != nil {
		fatalf("open session directory: %v", err)
	}

	console := reporting.NewConsoleReporter(os.Stdout)

	switch cmd := flag.Arg(0); cmd {
	case "list":
		runList(mgr, console)
	case "show":
		requireArgs(2, "show <session-id>")
		runShow(mgr, console, flag.Arg(1))
	case "export":
		requireArgs(3, "export <session-id> <out.xlsx>")
		runExport(mgr, flag.Arg(1), flag.Arg(2))
	case "delete":
		requireArgs(2, "delete <session-id>")
		if err := mgr.DeleteSession(flag.Arg(1)); err != nil {
			fatalf("delete session: %v", err)
		}
		fmt.Printf("Session %s deleted\n", flag.Arg(1))
	default:
		fatalf("unknown command %q\n\n%s", cmd, usage)
	}
}

func runList(mgr *session.Manager, console *reporting.ConsoleReporter) {
	ids, err := mgr.ListSessions()
	if err != nil {
		fatalf("list sessions: %v", err)
	}
	if len(ids) == 0 {
		fmt.Println("No sessions found")
		return
	}

	states := make([]session.State, 0, len(ids))
	for _, id := range ids {
		st, err := loadState(mgr, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: skipping %s: %v\n", id, err)
			continue
		}
		states = append(states, st)
	}
	console.PrintSessionList(states)
}

func runShow(mgr *session.Manager, console *reporting.ConsoleReporter, id string) {
	st, err := loadState(mgr, id)
	if err != nil {
		fatalf("load session: %v", err)
	}
	console.PrintSessionSummary(st)
}

func runExport(mgr *session.Manager, id, path string) {
	st, err := loadState(mgr, id)
	if err != nil {
		fatalf("load session: %v", err)
	}
	if err := reporting.NewExcelReporter().WriteSessionXLSX(st, path); err != nil {
		fatalf("export session: %v", err)
	}
	fmt.Printf("Session %s exported to %s\n", id, path)
}

func loadState(mgr *session.Manager, id string) (session.State, error) {
	if err := mgr.LoadSession(id); err != nil {
		return session.State{}, err
	}
	st, err := mgr.Snapshot()
	if err != nil {
		return session.State{}, err
	}
	return *st, nil
}

func requireArgs(n int, form string) {
	if flag.NArg() < n {
		fatalf("usage: sessionctl %s", form)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
