// wsctl is the operator CLI for workspaced. Most commands talk to a
// running daemon over its ops HTTP API; validate runs locally so a
// workspace document can be checked before any daemon exists.
//
// Exit codes: 0 success (including partial success with per-project
// errors), 2 validation or request errors, 1 everything else.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/workspaced/internal/faults"
	"github.com/fyrsmithlabs/workspaced/internal/indexer"
	"github.com/fyrsmithlabs/workspaced/internal/query"
	"github.com/fyrsmithlabs/workspaced/internal/search"
	"github.com/fyrsmithlabs/workspaced/internal/workspace"
)

var version = "dev"

var (
	serverURL string

	rootCmd = &cobra.Command{
		Use:     "wsctl",
		Short:   "Control a running workspaced daemon",
		Long:    "wsctl drives the workspaced ops API: search, indexing, cache control and stats.",
		Version: version,

		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "workspaced ops server URL")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(statsCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
	cacheCmd.AddCommand(cachePrecomputeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(faults.ExitCode(err))
	}
}

// ----- HTTP plumbing -----

// apiError mirrors the faultError body of internal/server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}

// decodeFailure turns a non-2xx response into an error whose exit code
// matches the server's classification: 400 means the caller got it wrong.
func decodeFailure(status int, body []byte) error {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Message == "" {
		return fmt.Errorf("server returned %d: %s", status, strings.TrimSpace(string(body)))
	}
	category := faults.CategoryInternal
	switch status {
	case http.StatusBadRequest:
		category = faults.CategoryRequest
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		category = faults.CategoryExternal
	}
	return faults.New(category, faults.Code(apiErr.Code), "%s", apiErr.Message)
}

func postJSON(path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := httpClient().Post(serverURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w (is workspaced running?)", serverURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return decodeFailure(resp.StatusCode, data)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func getJSON(path string, out any) error {
	resp, err := httpClient().Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w (is workspaced running?)", serverURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return decodeFailure(resp.StatusCode, data)
	}
	return json.Unmarshal(data, out)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ----- validate -----

var validateSkipPaths bool

var validateCmd = &cobra.Command{
	Use:   "validate <workspace.yaml>",
	Short: "Validate a workspace document without loading it",
	Long: `Validate parses and checks a workspace document locally.

Examples:
  wsctl validate ~/workspace.yaml
  wsctl validate --skip-path-check drafts/workspace.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, warnings, err := workspace.LoadFile(args[0])
		if err != nil {
			return err
		}
		if err := workspace.Validate(ws, workspace.ValidateOptions{SkipPathCheck: validateSkipPaths}); err != nil {
			return err
		}
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
		fmt.Printf("%s is valid: %d projects, %d relationships\n",
			args[0], len(ws.Projects), len(ws.Relationships))
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateSkipPaths, "skip-path-check", false, "do not require project paths to exist")
}

// ----- search -----

var (
	searchProject   string
	searchScope     string
	searchLimit     int
	searchDeps      bool
	searchThreshold float64
	searchExplain   bool
	searchJSON      bool
	searchLanguages []string
	searchExclude   []string
	searchDirs      []string
	searchMinScore  float64
	searchAfter     string
	searchBefore    string
)

// parseFilterDate accepts a bare date or a full RFC 3339 timestamp.
func parseFilterDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD or RFC 3339)", s)
	}
	return t, nil
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a semantic search across the workspace",
	Long: `Search runs one semantic query through the daemon.

Examples:
  wsctl search "jwt refresh" --project api
  wsctl search "retry with backoff" --project api --scope dependencies
  wsctl search "database migrations" --scope workspace --limit 20 --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := search.Request{
			Query:               strings.Join(args, " "),
			Scope:               search.Scope(strings.ToUpper(searchScope)),
			ProjectID:           searchProject,
			Limit:               searchLimit,
			IncludeDependencies: searchDeps,
			SimilarityThreshold: searchThreshold,
			Explain:             searchExplain,
		}
		req.Filters.Languages = searchLanguages
		req.Filters.ExcludePatterns = searchExclude
		req.Filters.Directories = searchDirs
		req.Filters.MinScore = searchMinScore

		var err error
		if req.Filters.DateFrom, err = parseFilterDate(searchAfter); err != nil {
			return err
		}
		if req.Filters.DateTo, err = parseFilterDate(searchBefore); err != nil {
			return err
		}

		var resp search.Response
		if err := postJSON("/v1/search", req, &resp); err != nil {
			return err
		}
		if searchJSON {
			return printJSON(resp)
		}
		printSearchResponse(&resp)
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVarP(&searchProject, "project", "p", "", "focus project id")
	searchCmd.Flags().StringVarP(&searchScope, "scope", "s", "project", "search scope: project, dependencies, workspace, related")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum results (0 uses the server default)")
	searchCmd.Flags().BoolVar(&searchDeps, "transitive", false, "include transitive dependencies in dependency scope")
	searchCmd.Flags().Float64Var(&searchThreshold, "threshold", 0, "minimum similarity score")
	searchCmd.Flags().BoolVar(&searchExplain, "explain", false, "include per-signal score breakdowns")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print the raw response")
	searchCmd.Flags().StringSliceVar(&searchLanguages, "lang", nil, "filter by language")
	searchCmd.Flags().StringSliceVar(&searchExclude, "exclude", nil, "glob patterns to exclude")
	searchCmd.Flags().StringSliceVar(&searchDirs, "dir", nil, "restrict results to directories (relative to the project root)")
	searchCmd.Flags().Float64Var(&searchMinScore, "min-score", 0, "drop results below this raw similarity")
	searchCmd.Flags().StringVar(&searchAfter, "modified-after", "", "only files modified on or after this date")
	searchCmd.Flags().StringVar(&searchBefore, "modified-before", "", "only files modified on or before this date")
}

func printSearchResponse(resp *search.Response) {
	if resp.Warning != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", resp.Warning)
	}
	for _, pe := range resp.Errors {
		fmt.Fprintf(os.Stderr, "warning: project %s skipped: %s\n", pe.ProjectID, pe.Message)
	}
	if len(resp.Results) == 0 {
		fmt.Println("No results.")
		return
	}
	for i, r := range resp.Results {
		fmt.Printf("%2d. [%.3f] %s  %s:%d-%d\n", i+1, r.FinalScore, r.ProjectID, r.FilePath, r.LineStart, r.LineEnd)
		for _, line := range strings.Split(strings.TrimRight(r.Snippet, "\n"), "\n") {
			fmt.Printf("      %s\n", line)
		}
		if len(r.Signals) > 0 {
			fmt.Print("      signals:")
			for name, sig := range r.Signals {
				fmt.Printf(" %s=%.3f", name, sig.Contribution)
			}
			fmt.Println()
		}
	}
	fmt.Fprintf(os.Stderr, "\n%d results from %d projects in %dms (cache hit: %v)\n",
		len(resp.Results), resp.Metrics.ProjectsSearched, resp.Metrics.TotalTimeMS, resp.Metrics.CacheHit)
}

// ----- classify -----

var classifyJSON bool

var classifyCmd = &cobra.Command{
	Use:   "classify <query>",
	Short: "Classify a query without searching",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := map[string]string{"query": strings.Join(args, " ")}
		var parsed query.ParsedQuery
		if err := postJSON("/v1/query/classify", payload, &parsed); err != nil {
			return err
		}
		if classifyJSON {
			return printJSON(parsed)
		}
		fmt.Printf("intent:     %s (confidence %.2f)\n", parsed.Intent, parsed.Confidence)
		fmt.Printf("normalized: %s\n", parsed.Normalized)
		if len(parsed.Keywords) > 0 {
			fmt.Printf("keywords:   %s\n", strings.Join(parsed.Keywords, ", "))
		}
		if len(parsed.ExpandedTerms) > 0 {
			fmt.Printf("expanded:   %s\n", strings.Join(parsed.ExpandedTerms, ", "))
		}
		for _, e := range parsed.Entities {
			fmt.Printf("entity:     %s (%s)\n", e.Value, e.Type)
		}
		fmt.Printf("budget:     %d tokens\n", parsed.TokenBudget)
		return nil
	},
}

func init() {
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "print the raw response")
}

// ----- index -----

var (
	indexProject     string
	indexPath        string
	indexDir         string
	indexAll         bool
	indexNoRecursive bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Enqueue indexing work on the daemon",
	Long: `Index enqueues files for (re)indexing.

Examples:
  wsctl index --all
  wsctl index --project api
  wsctl index --project api --path /work/api/internal/auth/token.go
  wsctl index --project api --dir /work/api/internal --no-recursive`,
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive := !indexNoRecursive
		payload := map[string]any{
			"all":        indexAll,
			"project_id": indexProject,
			"path":       indexPath,
			"dir":        indexDir,
			"recursive":  &recursive,
		}
		var report indexer.WalkReport
		if err := postJSON("/v1/index", payload, &report); err != nil {
			return err
		}
		fmt.Printf("enqueued %d files (%d skipped)\n", report.Enqueued, report.Skipped)
		for _, e := range report.Errors {
			fmt.Fprintf(os.Stderr, "warning: %s\n", e)
		}
		return nil
	},
}

func init() {
	indexCmd.Flags().StringVarP(&indexProject, "project", "p", "", "project id")
	indexCmd.Flags().StringVar(&indexPath, "path", "", "index a single file")
	indexCmd.Flags().StringVar(&indexDir, "dir", "", "index a directory (defaults to the project root)")
	indexCmd.Flags().BoolVar(&indexAll, "all", false, "index every enabled project")
	indexCmd.Flags().BoolVar(&indexNoRecursive, "no-recursive", false, "do not descend into subdirectories")
}

// ----- cache -----

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Query cache control",
}

var (
	invalidateAll     bool
	invalidateProject string
	invalidateFile    string
	invalidatePattern string
)

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Drop cached query results",
	Long: `Invalidate drops cache entries by file, glob pattern, project, or all.

Examples:
  wsctl cache invalidate --project api --file /work/api/internal/auth/token.go
  wsctl cache invalidate --pattern 'api:internal/auth/**'
  wsctl cache invalidate --project api
  wsctl cache invalidate --all`,
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := map[string]any{
			"all":        invalidateAll,
			"project_id": invalidateProject,
			"file":       invalidateFile,
			"pattern":    invalidatePattern,
		}
		var resp struct {
			Invalidated int `json:"invalidated"`
		}
		if err := postJSON("/v1/cache/invalidate", payload, &resp); err != nil {
			return err
		}
		if resp.Invalidated < 0 {
			fmt.Println("cache cleared")
		} else {
			fmt.Printf("invalidated %d entries\n", resp.Invalidated)
		}
		return nil
	},
}

var (
	precomputeProject  string
	precomputeScope    string
	precomputeTTLHours int
)

var cachePrecomputeCmd = &cobra.Command{
	Use:   "precompute <query>",
	Short: "Run a search and park the results in the long-lived tier",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := map[string]any{
			"query":      strings.Join(args, " "),
			"scope":      strings.ToUpper(precomputeScope),
			"project_id": precomputeProject,
			"ttl_hours":  precomputeTTLHours,
		}
		var resp struct {
			Results int    `json:"results"`
			Warning string `json:"warning"`
		}
		if err := postJSON("/v1/cache/precompute", payload, &resp); err != nil {
			return err
		}
		if resp.Warning != "" {
			fmt.Fprintf(os.Stderr, "warning: %s\n", resp.Warning)
		}
		fmt.Printf("precomputed %d results (ttl %dh)\n", resp.Results, precomputeTTLHours)
		return nil
	},
}

func init() {
	cacheInvalidateCmd.Flags().BoolVar(&invalidateAll, "all", false, "drop every cache entry")
	cacheInvalidateCmd.Flags().StringVarP(&invalidateProject, "project", "p", "", "drop entries touching a project")
	cacheInvalidateCmd.Flags().StringVar(&invalidateFile, "file", "", "drop entries touching a file (needs --project)")
	cacheInvalidateCmd.Flags().StringVar(&invalidatePattern, "pattern", "", "drop entries matching a project:glob pattern")

	cachePrecomputeCmd.Flags().StringVarP(&precomputeProject, "project", "p", "", "focus project id")
	cachePrecomputeCmd.Flags().StringVarP(&precomputeScope, "scope", "s", "project", "search scope")
	cachePrecomputeCmd.Flags().IntVar(&precomputeTTLHours, "ttl-hours", 24, "lifetime of the precomputed entry")
}

// ----- stats -----

var (
	statsJSON     bool
	statsWatch    bool
	statsInterval time.Duration
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show component statistics",
	Long: `Stats fetches the daemon's component snapshot.

Examples:
  wsctl stats
  wsctl stats --json
  wsctl stats --watch --interval 2s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if statsWatch {
			return runDashboard(serverURL, statsInterval)
		}
		var snapshot map[string]json.RawMessage
		if err := getJSON("/v1/stats", &snapshot); err != nil {
			return err
		}
		if statsJSON {
			return printJSON(snapshot)
		}
		printStats(snapshot)
		return nil
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print the raw snapshot")
	statsCmd.Flags().BoolVar(&statsWatch, "watch", false, "live dashboard")
	statsCmd.Flags().DurationVar(&statsInterval, "interval", 2*time.Second, "dashboard refresh interval")
}

func printStats(snapshot map[string]json.RawMessage) {
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		raw := snapshot[name]
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "  ", "  "); err != nil {
			buf.Write(raw)
		}
		fmt.Printf("%s:\n  %s\n", name, buf.String())
	}
}
