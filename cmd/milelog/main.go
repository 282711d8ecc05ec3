package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/milelog/milelog/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "milelog",
	Short: "Tamper-evident trip ledger CLI",
	Long: `milelog is the command-line interface for the milelog trip ledger.

Every trip mutation is an append-only, hash-chained ledger entry. Trips are
never edited in place: amendments and voids are new entries linking back to
the prior state, and the whole history stays verifiable.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".milelog"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.milelog/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "milelog server URL (default http://localhost:8080)")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(tripCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(versionCmd)
}

// apiClient builds a client carrying the stored session token, if any.
func apiClient() *client.Client {
	opts := []client.Option{}
	if token := viper.GetString("token"); token != "" {
		opts = append(opts, client.WithToken(token))
	}
	return client.New(serverURL, opts...)
}

// saveToken persists the session token to the config file for later runs.
func saveToken(token string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	dir := filepath.Join(home, ".milelog")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	viper.Set("token", token)
	viper.Set("server_url", serverURL)
	return viper.WriteConfigAs(filepath.Join(dir, "config.yaml"))
}

// ── login ────────────────────────────────────────────────────────────────────

var loginEmail string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate and store a session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if loginEmail == "" {
			return fmt.Errorf("--email is required")
		}
		fmt.Print("Password: ")
		reader := bufio.NewReader(os.Stdin)
		pw, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		pw = strings.TrimRight(pw, "\r\n")

		c := client.New(serverURL)
		s, err := c.Login(context.Background(), loginEmail, pw)
		if err != nil {
			return err
		}
		if err := saveToken(s.Token); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		fmt.Printf("logged in as %s\n", s.User.Email)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
}

// ── trip ─────────────────────────────────────────────────────────────────────

var tripCmd = &cobra.Command{
	Use:   "trip",
	Short: "Create, amend, void and list trips",
}

var (
	tripDate    string
	tripOrigin  string
	tripDest    string
	tripKM      float64
	tripPurpose string
	tripProject string
	tripVehicle string
	tripNotes   string
)

var tripAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record a new trip",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := apiClient().CreateTrip(context.Background(), client.TripRecord{
			Date:        tripDate,
			Origin:      tripOrigin,
			Destination: tripDest,
			DistanceKM:  tripKM,
			Purpose:     tripPurpose,
			ProjectID:   tripProject,
			Vehicle:     tripVehicle,
			Notes:       tripNotes,
		})
		if err != nil {
			return err
		}
		fmt.Printf("recorded trip %s (entry #%d, hash %s)\n", e.TripID, e.Seq, short(e.Hash))
		return nil
	},
}

var (
	amendReason string
	amendFields map[string]string
)

var tripAmendCmd = &cobra.Command{
	Use:   "amend <trip-id>",
	Short: "Amend a trip, recording what changed and why",
	Long: `Amend appends a correction entry for the trip. Only the fields passed
via --set change; the entry records the previous values and the reason:

  milelog trip amend 550e8400-... --set distance_km=42.5 --reason "odometer correction"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(amendFields) == 0 {
			return fmt.Errorf("at least one --set field=value is required")
		}
		patch := make(map[string]any, len(amendFields))
		for k, v := range amendFields {
			if k == "distance_km" {
				f, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return fmt.Errorf("distance_km must be a number: %q", v)
				}
				patch[k] = f
				continue
			}
			patch[k] = v
		}

		e, err := apiClient().AmendTrip(context.Background(), args[0], patch, amendReason)
		if err != nil {
			return err
		}
		fmt.Printf("amended trip %s (entry #%d, changed %v)\n", e.TripID, e.Seq, e.ChangedFields)
		return nil
	},
}

var voidReason string

var tripVoidCmd = &cobra.Command{
	Use:   "void <trip-id>",
	Short: "Void a trip without deleting its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := apiClient().VoidTrip(context.Background(), args[0], voidReason)
		if err != nil {
			return err
		}
		fmt.Printf("voided trip %s (entry #%d)\n", e.TripID, e.Seq)
		return nil
	},
}

var tripListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the current state of all live trips",
	RunE: func(cmd *cobra.Command, args []string) error {
		trips, err := apiClient().ListTrips(context.Background())
		if err != nil {
			return err
		}
		if len(trips) == 0 {
			fmt.Println("no trips")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TRIP ID\tDATE\tROUTE\tKM\tPURPOSE")
		for _, t := range trips {
			fmt.Fprintf(w, "%s\t%s\t%s → %s\t%.1f\t%s\n",
				t.TripID, t.Record.Date, t.Record.Origin, t.Record.Destination,
				t.Record.DistanceKM, t.Record.Purpose)
		}
		return w.Flush()
	},
}

var tripHistoryCmd = &cobra.Command{
	Use:   "history <trip-id>",
	Short: "Show every ledger entry that touched a trip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := apiClient().TripHistory(context.Background(), args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tOPERATION\tCHANGED\tREASON\tHASH")
		for _, e := range entries {
			changed := "-"
			if len(e.ChangedFields) > 0 {
				changed = fmt.Sprintf("%v", e.ChangedFields)
			}
			reason := e.Reason
			if reason == "" {
				reason = "-"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", e.Seq, e.Operation, changed, reason, short(e.Hash))
		}
		return w.Flush()
	},
}

func init() {
	tripAddCmd.Flags().StringVar(&tripDate, "date", "", "trip date (YYYY-MM-DD)")
	tripAddCmd.Flags().StringVar(&tripOrigin, "from", "", "origin")
	tripAddCmd.Flags().StringVar(&tripDest, "to", "", "destination")
	tripAddCmd.Flags().Float64Var(&tripKM, "km", 0, "distance in kilometres")
	tripAddCmd.Flags().StringVar(&tripPurpose, "purpose", "", "business purpose")
	tripAddCmd.Flags().StringVar(&tripProject, "project", "", "project id")
	tripAddCmd.Flags().StringVar(&tripVehicle, "vehicle", "", "vehicle")
	tripAddCmd.Flags().StringVar(&tripNotes, "notes", "", "free-form notes")

	tripAmendCmd.Flags().StringToStringVar(&amendFields, "set", nil, "field=value to change (repeatable)")
	tripAmendCmd.Flags().StringVar(&amendReason, "reason", "", "why the trip is being amended (required)")

	tripVoidCmd.Flags().StringVar(&voidReason, "reason", "", "why the trip is being voided (required)")

	tripCmd.AddCommand(tripAddCmd)
	tripCmd.AddCommand(tripAmendCmd)
	tripCmd.AddCommand(tripVoidCmd)
	tripCmd.AddCommand(tripListCmd)
	tripCmd.AddCommand(tripHistoryCmd)
}

// ── import ───────────────────────────────────────────────────────────────────

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Bulk-import trips from a CSV file",
	Long: `Import appends one create entry per CSV row, all sharing a batch id,
then records a batch summary. Required columns: date, origin, destination,
distance_km, purpose. If a row fails mid-run the rows before it remain valid
ledger history and the batch is flagged partial.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		res, err := apiClient().ImportCSV(context.Background(), filepath.Base(args[0]), f)
		if err != nil {
			return err
		}
		fmt.Printf("imported %d trip(s)\n", res.Imported)
		if res.FailedRow > 0 {
			fmt.Printf("stopped at row %d: %s (batch flagged partial)\n", res.FailedRow, res.Failure)
		}
		return nil
	},
}

// ── verify ───────────────────────────────────────────────────────────────────

var (
	verifyFrom int64
	verifyTo   int64
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the integrity of your ledger chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := apiClient().Verify(context.Background(), verifyFrom, verifyTo)
		if err != nil {
			return err
		}
		if result.Valid {
			fmt.Printf("chain OK: %d entries verified\n", result.Entries)
			return nil
		}
		fmt.Printf("CHAIN BROKEN at entry %d\n", *result.BrokenAt)
		fmt.Printf("  expected %s\n", result.Expected)
		fmt.Printf("  actual   %s\n", result.Actual)
		return fmt.Errorf("ledger verification failed")
	},
}

func init() {
	verifyCmd.Flags().Int64Var(&verifyFrom, "from", 0, "first sequence number to verify (0 = genesis)")
	verifyCmd.Flags().Int64Var(&verifyTo, "to", 0, "last sequence number to verify (0 = head)")
}

// ── report ───────────────────────────────────────────────────────────────────

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate and audit signed trip reports",
}

var (
	reportStart   string
	reportEnd     string
	reportProject string
	reportJSON    bool
)

var reportGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a signed report for a period",
	RunE: func(cmd *cobra.Command, args []string) error {
		if reportStart == "" || reportEnd == "" {
			return fmt.Errorf("--start and --end are required")
		}
		r, err := apiClient().GenerateReport(context.Background(), reportStart, reportEnd, reportProject)
		if err != nil {
			return err
		}
		if reportJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(r)
		}
		fmt.Printf("report %s\n", r.ID)
		fmt.Printf("  period      %s to %s\n", r.StartDate, r.EndDate)
		fmt.Printf("  total km    %.1f\n", r.TotalDistance)
		fmt.Printf("  chain range %s .. %s\n", short(r.FirstTripHash), short(r.LastTripHash))
		fmt.Printf("  signature   %s\n", short(r.Signature))
		return nil
	},
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		reports, err := apiClient().ListReports(context.Background())
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			fmt.Println("no reports")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPERIOD\tKM\tGENERATED")
		for _, r := range reports {
			fmt.Fprintf(w, "%s\t%s to %s\t%.1f\t%s\n",
				r.ID, r.StartDate, r.EndDate, r.TotalDistance,
				r.GeneratedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var reportAuditCmd = &cobra.Command{
	Use:   "audit <report-id>",
	Short: "Re-verify a stored report against the live ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := apiClient().AuditReport(context.Background(), args[0])
		if err != nil {
			return err
		}
		if !result.Tampered {
			fmt.Println("audit OK: report matches the current ledger")
			return nil
		}
		fmt.Println("AUDIT FAILED: ledger no longer matches the report")
		fmt.Printf("  signature valid: %v\n", result.SignatureValid)
		return fmt.Errorf("report audit failed")
	},
}

func init() {
	reportGenerateCmd.Flags().StringVar(&reportStart, "start", "", "period start (YYYY-MM-DD)")
	reportGenerateCmd.Flags().StringVar(&reportEnd, "end", "", "period end (YYYY-MM-DD)")
	reportGenerateCmd.Flags().StringVar(&reportProject, "project", "", "restrict to one project id")
	reportGenerateCmd.Flags().BoolVar(&reportJSON, "json", false, "print the full report as JSON")

	reportCmd.AddCommand(reportGenerateCmd)
	reportCmd.AddCommand(reportListCmd)
	reportCmd.AddCommand(reportAuditCmd)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("milelog %s\n", version)
	},
}

// short truncates long hashes and signatures for terminal output.
func short(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:16] + "…"
}
