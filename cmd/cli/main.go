package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"exercise-runner/internal/config"
	"exercise-runner/internal/editor"
	"exercise-runner/internal/execution"
	"exercise-runner/internal/grading"
	"exercise-runner/internal/runtime"
	"exercise-runner/internal/submission"
)

var (
	serverURL  string
	apiKey     string
	configPath string
	language   string
	local      bool
	testsFile  string
	exerciseID string
	userID     string
	theme      string
	fontSize   int

	// exitCode is set by commands whose outcome is a failure but not an error.
	exitCode int
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "exercise-cli",
		Short:        "CLI client for exercise-runner",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&serverURL, "server", envOr("EXERCISE_SERVER", "http://localhost:8080"), "Server URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("EXERCISE_API_KEY"), "API key")
	root.PersistentFlags().StringVar(&configPath, "config", envOr("CONFIG_PATH", "configs/config.yaml"), "Config file for --local runs")

	// Run code
	runCmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Run code once (reads stdin without a file)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().StringVarP(&language, "language", "l", "", "Language (python, sql; detected from the file extension)")
	runCmd.Flags().BoolVar(&local, "local", false, "Run in-process instead of calling the server")
	root.AddCommand(runCmd)

	// Run tests
	testCmd := &cobra.Command{
		Use:   "test [file]",
		Short: "Run code against an exercise's checks or a tests file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTest,
	}
	testCmd.Flags().StringVarP(&language, "language", "l", "", "Language (python, sql; detected from the file extension)")
	testCmd.Flags().StringVarP(&exerciseID, "exercise", "e", "", "Exercise ID whose checks to run")
	testCmd.Flags().StringVarP(&testsFile, "tests", "t", "", "YAML file with a list of checks")
	testCmd.Flags().BoolVar(&local, "local", false, "Run in-process instead of calling the server")
	root.AddCommand(testCmd)

	// Grade and submit
	submitCmd := &cobra.Command{
		Use:   "submit <exercise-id> [file]",
		Short: "Grade code against an exercise and record the attempt",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runSubmit,
	}
	submitCmd.Flags().StringVarP(&userID, "user", "u", os.Getenv("EXERCISE_USER"), "User ID sent in the user header")
	root.AddCommand(submitCmd)

	// Reveal a hint
	hintCmd := &cobra.Command{
		Use:   "hint <hint-id>",
		Short: "Reveal a hint, paying its XP cost the first time",
		Args:  cobra.ExactArgs(1),
		RunE:  runHint,
	}
	hintCmd.Flags().StringVarP(&userID, "user", "u", os.Getenv("EXERCISE_USER"), "User ID sent in the user header")
	root.AddCommand(hintCmd)

	// Editor setup
	editorCmd := &cobra.Command{
		Use:   "editor <language>",
		Short: "Print the editor setup bundle for a language",
		Args:  cobra.ExactArgs(1),
		RunE:  runEditor,
	}
	editorCmd.Flags().StringVar(&theme, "theme", editor.DefaultTheme, "Editor theme")
	editorCmd.Flags().IntVar(&fontSize, "font-size", editor.DefaultFontSize, "Editor font size")
	root.AddCommand(editorCmd)

	// Health check
	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  runHealth,
	})

	// List executions
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recent executions",
		RunE:  runList,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
	os.Exit(exitCode)
}

func runRun(cmd *cobra.Command, args []string) error {
	code, kind, err := readSource(args)
	if err != nil {
		return err
	}

	var res execution.Result
	if local {
		exec, closeFn, err := localExecutor()
		if err != nil {
			return err
		}
		defer closeFn()
		res = exec.Run(cmd.Context(), kind, code)
	} else if err := doJSON(http.MethodPost, "/run", map[string]string{"language": string(kind), "code": code}, &res); err != nil {
		return err
	}

	printResult(os.Stdout, res)
	if !res.Success {
		exitCode = 1
	}
	return nil
}

func runTest(cmd *cobra.Command, args []string) error {
	code, kind, err := readSource(args)
	if err != nil {
		return err
	}

	var tests []grading.TestCase
	if testsFile != "" {
		data, err := os.ReadFile(filepath.Clean(testsFile))
		if err != nil {
			return fmt.Errorf("reading tests file: %w", err)
		}
		if err := yaml.Unmarshal(data, &tests); err != nil {
			return fmt.Errorf("parsing tests file: %w", err)
		}
	}
	if exerciseID == "" && len(tests) == 0 {
		return fmt.Errorf("either --exercise or --tests is required")
	}

	var report grading.Report
	if local {
		if exerciseID != "" {
			return fmt.Errorf("--exercise needs the server; use --tests with --local")
		}
		exec, closeFn, err := localExecutor()
		if err != nil {
			return err
		}
		defer closeFn()
		report = grading.NewGrader(exec, nil).Run(cmd.Context(), kind, code, tests)
	} else {
		report, err = remoteTests(kind, code, tests, exerciseID)
		if err != nil {
			return err
		}
	}

	printReport(os.Stdout, report)
	if !report.Success || !report.AllPassed {
		exitCode = 1
	}
	return nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	id := args[0]
	code, kind, err := readSource(args[1:])
	if err != nil {
		return err
	}
	if userID == "" {
		return fmt.Errorf("--user is required")
	}

	report, err := remoteTests(kind, code, nil, id)
	if err != nil {
		return err
	}
	printReport(os.Stdout, report)

	ctx := cmd.Context()
	client, err := portalClient(ctx)
	if err != nil {
		return err
	}

	exerciseType := "PYTHON"
	if kind == runtime.KindSQL {
		exerciseType = "SQL"
	}
	resp := client.Submit(ctx, id, exerciseType, code, report.Success && report.AllPassed, report.Score())
	printSubmission(os.Stdout, resp)
	if !resp.Success() {
		exitCode = 1
	}
	return nil
}

func runHint(cmd *cobra.Command, args []string) error {
	if userID == "" {
		return fmt.Errorf("--user is required")
	}
	ctx := cmd.Context()
	client, err := portalClient(ctx)
	if err != nil {
		return err
	}
	resp := client.UseHint(ctx, args[0])
	printHint(os.Stdout, resp)
	if !resp.Success() {
		exitCode = 1
	}
	return nil
}

// portalClient returns a submission client acting as --user, holding a
// fresh CSRF cookie.
func portalClient(ctx context.Context) (*submission.Client, error) {
	jar, _ := cookiejar.New(nil)
	client := submission.NewClient(serverURL, submission.WithHTTPClient(&http.Client{
		Jar:       jar,
		Timeout:   30 * time.Second,
		Transport: headerTransport{"X-User-ID": userID},
	}))
	if err := client.FetchCSRF(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func runEditor(_ *cobra.Command, args []string) error {
	m := editor.NewManager(editor.NewBuffer, editor.WithAppearance(theme, fontSize))
	formatted, err := json.MarshalIndent(m.Config(args[0]), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(formatted))
	return nil
}

func runHealth(_ *cobra.Command, _ []string) error {
	var result map[string]any
	if err := doJSON(http.MethodGet, "/health", nil, &result); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))
	return nil
}

func runList(_ *cobra.Command, _ []string) error {
	var result any
	if err := doJSON(http.MethodGet, "/executions", nil, &result); err != nil {
		return err
	}
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))
	return nil
}

func remoteTests(kind runtime.Kind, code string, tests []grading.TestCase, exercise string) (grading.Report, error) {
	var report grading.Report
	body := map[string]any{
		"language":    string(kind),
		"code":        code,
		"tests":       tests,
		"exercise_id": exercise,
	}
	if err := doJSON(http.MethodPost, "/tests", body, &report); err != nil {
		return grading.Report{}, err
	}
	return report, nil
}

// readSource reads code from the file in args or stdin and settles the
// language from the flag or the file extension.
func readSource(args []string) (string, runtime.Kind, error) {
	var (
		data []byte
		err  error
	)
	lang := language
	if len(args) > 0 {
		data, err = os.ReadFile(filepath.Clean(args[0]))
		if err != nil {
			return "", "", fmt.Errorf("reading file: %w", err)
		}
		if lang == "" {
			switch ext := filepath.Ext(args[0]); ext {
			case ".py":
				lang = "python"
			case ".sql":
				lang = "sql"
			default:
				return "", "", fmt.Errorf("cannot detect language for extension %q, use --language flag", ext)
			}
		}
	} else {
		data, err = io.ReadAll(os.Stdin)
		if err != nil {
			return "", "", fmt.Errorf("reading stdin: %w", err)
		}
	}
	if lang == "" {
		lang = "python"
	}

	kind, err := runtime.ParseKind(lang)
	if err != nil {
		return "", "", err
	}
	return string(data), kind, nil
}

func localExecutor() (*execution.Executor, func(), error) {
	cfg := config.DefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		if cfg, err = config.Load(configPath); err != nil {
			return nil, nil, err
		}
	}
	session := runtime.NewSession(
		runtime.PythonConfig{Command: cfg.Python.Command, Env: cfg.Python.Env, StartTimeout: cfg.Python.StartTimeout},
		runtime.SQLConfig{Driver: cfg.SQL.Driver, DSN: cfg.SQL.DSN},
	)
	exec := execution.NewExecutor(session, execution.WithTimeout(cfg.Python.ExecTimeout))
	return exec, func() { _ = session.Close() }, nil
}

func doJSON(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 70*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, serverURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("server returned %d: %s (%s)", resp.StatusCode, apiErr.Error, apiErr.Code)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// headerTransport sets fixed headers on every request.
type headerTransport map[string]string

func (h headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	for k, v := range h {
		r.Header.Set(k, v)
	}
	return http.DefaultTransport.RoundTrip(r)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
