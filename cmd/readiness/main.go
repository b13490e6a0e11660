// Package main is the deployment readiness checker. It exits non-zero when
// any release-blocking finding is present.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"gopilot/internal/readiness"
)

func main() {
	root := flag.String("root", ".", "Project root to validate")
	jsonOut := flag.Bool("json", false, "Emit the report as JSON")
	flag.Parse()

	report, err := readiness.New(*root).Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, "readiness check failed:", err)
		os.Exit(2)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintln(os.Stderr, "failed to encode report:", err)
			os.Exit(2)
		}
	} else {
		printText(report)
	}

	if report.HasErrors() {
		os.Exit(1)
	}
}

func printText(report *readiness.Report) {
	if len(report.Findings) == 0 {
		fmt.Printf("ok: %d files checked, no findings\n", report.CheckedFiles)
		return
	}
	for _, f := range report.Findings {
		fmt.Printf("%-7s %s [%s] %s\n", f.Severity, f.File, f.Check, f.Message)
	}
	fmt.Printf("%d files checked, %d findings\n", report.CheckedFiles, len(report.Findings))
}
