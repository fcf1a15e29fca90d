package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/cloudvigil/cloudvigil/internal/awsauth"
	"github.com/cloudvigil/cloudvigil/internal/config"
	"github.com/cloudvigil/cloudvigil/internal/report"
	"github.com/cloudvigil/cloudvigil/internal/scaling"
	"github.com/cloudvigil/cloudvigil/internal/scan"
	"github.com/cloudvigil/cloudvigil/internal/store"
)

// Build-time variables set by GoReleaser
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "scan":
		runScan(os.Args[2:])
	case "report":
		runReport(os.Args[2:])
	case "policies":
		runPolicies(os.Args[2:])
	case "version":
		fmt.Printf("cloudvigil %s (commit %s, built %s)\n", version, commit, date)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`cloudvigil - AWS security scanning engine

Usage:
  cloudvigil scan [flags]      run a scan against one account
  cloudvigil report [flags]    show a stored scan and its findings
  cloudvigil policies          list the scaling policies
  cloudvigil version           print version information

Scan flags:
  -config PATH        configuration file (default: standard locations)
  -org ID             organization identifier
  -account ID         AWS account identifier
  -regions LIST       comma-separated region override
  -scan-type TYPE     full or incremental (default full)
  -access-key ID      static access key (with -secret-key)
  -secret-key KEY     static secret key
  -session-token TOK  optional session token
  -role-arn ARN       role to assume instead of static keys
  -external-id ID     external ID for the role assumption
  -output FORMAT      table or json (default table)

Report flags:
  -config PATH        configuration file
  -scan ID            scan identifier to show
  -output FORMAT      table or json (default table)
`)
}

func runScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file")
	org := fs.String("org", "", "organization identifier")
	account := fs.String("account", "", "AWS account identifier")
	regions := fs.String("regions", "", "comma-separated region override")
	scanType := fs.String("scan-type", "full", "full or incremental")
	accessKey := fs.String("access-key", "", "static access key")
	secretKey := fs.String("secret-key", "", "static secret key")
	sessionToken := fs.String("session-token", "", "session token")
	roleARN := fs.String("role-arn", "", "role to assume")
	externalID := fs.String("external-id", "", "external ID for the role")
	output := fs.String("output", "table", "table or json")
	fs.Parse(args)

	if *account == "" {
		log.Fatal("scan: -account is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer st.Close()

	req := scan.Request{
		OrganizationID: *org,
		AccountID:      *account,
		CloudProvider:  "aws",
		ScanType:       *scanType,
		Credential: awsauth.StoredCredential{
			AccessKeyID:     *accessKey,
			SecretAccessKey: *secretKey,
			SessionToken:    *sessionToken,
			RoleARN:         *roleARN,
			ExternalID:      *externalID,
		},
	}
	if *regions != "" {
		for _, r := range strings.Split(*regions, ",") {
			if r = strings.TrimSpace(r); r != "" {
				req.Regions = append(req.Regions, r)
			}
		}
	}

	engine := scan.NewEngine(cfg, st)
	res, err := engine.RunScan(context.Background(), req)
	if err != nil {
		log.Fatalf("scan failed: %v", err)
	}

	if *output == "json" {
		printJSON(res)
		return
	}
	printResult(res)
}

func runReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file")
	scanID := fs.String("scan", "", "scan identifier")
	output := fs.String("output", "table", "table or json")
	fs.Parse(args)

	if *scanID == "" {
		log.Fatal("report: -scan is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}
	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	rec, err := st.GetScan(ctx, *scanID)
	if err != nil {
		log.Fatalf("loading scan %s: %v", *scanID, err)
	}
	findings, err := st.FindingsByScan(ctx, *scanID)
	if err != nil {
		log.Fatalf("loading findings: %v", err)
	}

	if *output == "json" {
		printJSON(map[string]interface{}{"scan": rec, "findings": findings})
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "Scan:\t%s\n", rec.ID)
	fmt.Fprintf(w, "Account:\t%s\n", rec.AccountID)
	fmt.Fprintf(w, "Status:\t%s\n", rec.Status)
	fmt.Fprintf(w, "Started:\t%s\n", rec.StartedAt.Format(time.RFC3339))
	if rec.CompletedAt != nil {
		fmt.Fprintf(w, "Completed:\t%s\n", rec.CompletedAt.Format(time.RFC3339))
	}
	if rec.Error != "" {
		fmt.Fprintf(w, "Error:\t%s\n", rec.Error)
	}
	w.Flush()

	fmt.Println()
	printFindings(findings)
}

func runPolicies(args []string) {
	manager := scaling.NewManager(scaling.DefaultPolicies())
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "POLICY\tRESOURCE\tTRIGGERS\tCOOLDOWN\tENABLED")
	for _, p := range scaling.DefaultPolicies() {
		stored, err := manager.Policy(p.ID)
		if err != nil {
			continue
		}
		var triggers []string
		for _, t := range stored.Triggers {
			triggers = append(triggers, fmt.Sprintf("%s(%s) %s %.2g over %s",
				t.Metric, t.Aggregation, t.Operator, t.Threshold, t.Duration))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n",
			stored.ID, stored.ResourceType, strings.Join(triggers, "; "),
			stored.CooldownPeriod, stored.Enabled)
	}
	w.Flush()
}

func printResult(res *scan.Result) {
	rep := res.Report
	titler := cases.Title(language.English)

	fmt.Printf("Scan %s completed\n\n", res.ScanID)

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "SEVERITY\tCOUNT")
	fmt.Fprintf(w, "%s\t%d\n", titler.String(string(report.SeverityCritical)), rep.Summary.Critical)
	fmt.Fprintf(w, "%s\t%d\n", titler.String(string(report.SeverityHigh)), rep.Summary.High)
	fmt.Fprintf(w, "%s\t%d\n", titler.String(string(report.SeverityMedium)), rep.Summary.Medium)
	fmt.Fprintf(w, "%s\t%d\n", titler.String(string(report.SeverityLow)), rep.Summary.Low)
	fmt.Fprintf(w, "Total\t%d\n", rep.Summary.Total)
	w.Flush()

	if rep.IsFirstScan {
		fmt.Println("\nFirst scan for this account; nothing to compare against.")
	} else if rep.Comparison != nil {
		c := rep.Comparison
		fmt.Printf("\nCompared to the previous scan: %d new, %d resolved, %d persistent (%+.1f%% weighted change)\n",
			len(c.NewFindings), len(c.ResolvedFindings), c.PersistentCount, c.ChangePercentage)
	}

	for _, a := range res.Alarms {
		fmt.Printf("ALARM [P%d] %s: %s\n", a.Priority, a.Type, a.Message)
	}

	if res.FailedChecks > 0 {
		fmt.Printf("\n%d checks failed; results are best-effort.\n", res.FailedChecks)
	}
	fmt.Printf("\nScanned %d service-regions in %s (%d findings).\n",
		res.Metrics.ServicesScanned, res.Metrics.TotalDuration.Round(time.Millisecond), res.Metrics.TotalFindings)
}

func printFindings(findings []report.Finding) {
	if len(findings) == 0 {
		fmt.Println("No findings.")
		return
	}
	titler := cases.Title(language.English)
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "SEVERITY\tSERVICE\tREGION\tRESOURCE\tTITLE\tRESOLVED")
	for _, f := range findings {
		resolved := ""
		if f.ResolvedAt != nil {
			resolved = f.ResolvedAt.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			titler.String(string(f.Severity)), f.Service, f.Region, f.ResourceID, f.Title, resolved)
	}
	w.Flush()
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("encoding output: %v", err)
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgresStore(cfg.Store.DSN)
	default:
		return store.NewDuckDBStore(cfg.Store.Path)
	}
}
