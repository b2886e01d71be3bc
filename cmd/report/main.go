// Command report renders an HTML report for a persisted study.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/helios-labs/moonlander/internal/report"
	"github.com/helios-labs/moonlander/internal/store"
	"github.com/helios-labs/moonlander/internal/version"
)

func main() {
	dbPath := flag.String("db", "studies.db", "Study database path")
	studyID := flag.String("study", "", "Study ID to report on")
	name := flag.String("name", "", "Report on the latest study with this name")
	out := flag.String("out", "report.html", "Output HTML file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if *studyID == "" && *name == "" {
		fmt.Fprintln(os.Stderr, "one of -study or -name is required")
		os.Exit(1)
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	id := *studyID
	if id == "" {
		study, err := st.LatestStudy(*name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lookup error: %v\n", err)
			os.Exit(1)
		}
		if study == nil {
			fmt.Fprintf(os.Stderr, "no study named %q\n", *name)
			os.Exit(1)
		}
		id = study.ID
	}

	r, err := report.NewStudyReport(st, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "report error: %v\n", err)
		os.Exit(1)
	}

	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "output error: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	if err := r.Render(f); err != nil {
		fmt.Fprintf(os.Stderr, "render error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s for study %s (%d trials)\n", *out, r.Study.Name, len(r.Trials))
}
