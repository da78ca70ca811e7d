package main

import (
	"fmt"
	"os"

	"dmrelay/internal/probe"

	"github.com/spf13/cobra"
)

func diagnoseCmd() *cobra.Command {
	var formatReceiver string
	var outPath string
	var apply bool

	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Run connectivity and format diagnostics",
		Long: `Runs the reachability battery against the backend and, when a probe
receiver is given, trials every send payload shape with a synthetic
message. The resulting report can be exported to a file, and with --apply
the verified-working shapes are promoted in the candidate order and local
mode is cleared if the backend proved reachable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report := a.diagnostics.Run(cmd.Context(), probe.Options{
				FormatReceiver: formatReceiver,
				Role:           a.session.Role(),
			})

			fmt.Printf("Backend reachable: %v\n", report.Summary.BackendReachable)
			if report.Connectivity != nil {
				for _, test := range report.Connectivity.Tests {
					status := "FAIL"
					detail := test.Error
					if test.OK {
						status = "OK"
						detail = fmt.Sprintf("%d in %dms", *test.HTTPStatus, test.LatencyMs)
					}
					fmt.Printf("  [%s] %-12s %s\n", status, test.Name, detail)
				}
			}

			if formatReceiver != "" {
				fmt.Printf("Working send formats: %d of %d trialed\n",
					report.Summary.WorkingFormats, len(report.FormatTests))
				for _, desc := range report.SuccessfulFormats {
					fmt.Printf("  - %s\n", desc)
				}
			}

			if outPath != "" {
				data, exportErr := probe.ExportJSON(report)
				if exportErr != nil {
					return exportErr
				}
				if writeErr := os.WriteFile(outPath, data, 0600); writeErr != nil {
					return writeErr
				}
				fmt.Printf("Report written to %s\n", outPath)
			}

			if apply {
				a.catalog.ApplyReport(report)
				if report.Connectivity != nil && report.Connectivity.BackendReachable {
					if clearErr := a.session.ClearLocalMode(report.Connectivity); clearErr != nil {
						a.logger.Warnf("Could not clear local mode: %v", clearErr)
					}
				}
				fmt.Println("Candidate order updated from report.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&formatReceiver, "probe-receiver", "", "receiver for format discovery (sends real test messages)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the full JSON report to a file")
	cmd.Flags().BoolVar(&apply, "apply", false, "reorder candidates from the report and clear local mode if reachable")
	return cmd
}
