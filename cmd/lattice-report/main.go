// lattice-report is the ops CLI: schema migrations and quick run queries
// against an analysis database.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/quantem-data/lattice.report/internal/latticedb"
)

func main() {
	dbPath := flag.String("db", "lattice.db", "Path to database file")
	migrationsDir := flag.String("migrations", "migrations", "Path to migrations directory")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printHelp()
		os.Exit(1)
	}

	switch args[0] {
	case "migrate":
		latticedb.RunMigrateCommand(args[1:], *dbPath, *migrationsDir)

	case "runs":
		listRuns(*dbPath)

	case "help":
		printHelp()

	default:
		fmt.Printf("Unknown command: %s\n\n", args[0])
		printHelp()
		os.Exit(1)
	}
}

func listRuns(dbPath string) {
	db, err := latticedb.NewDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	runs, err := db.ListRuns(50)
	if err != nil {
		log.Fatalf("Failed to list runs: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tCREATED\tSUBLATTICE\tSTATUS\tSOURCE")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.RunID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Sublattice, r.Status, r.SourcePath)
	}
	w.Flush()
}

func printHelp() {
	fmt.Println("Usage: lattice-report [options] <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  migrate <action>   Manage schema migrations (up, down, status, force)")
	fmt.Println("  runs               List recent analysis runs")
	fmt.Println("  help               Show this help message")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --db <path>            Path to database file (default: lattice.db)")
	fmt.Println("  --migrations <path>    Path to migrations directory (default: migrations)")
}
