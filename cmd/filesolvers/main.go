package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const apiPrefix = "/v1/filesolvers"

type client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

func newClient(baseURL, token string) *client {
	return &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *client) do(req *http.Request) (int, []byte, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, nil
}

func (c *client) request(method, path string, body any) (int, []byte, error) {
	var buf io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.baseURL+apiPrefix+path, buf)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req)
}

// call runs a JSON request behind a spinner and decodes a 2xx body into out.
func (c *client) call(method, path string, body any, out any, label string) error {
	spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
	spin.Suffix = " " + label
	spin.Writer = os.Stderr
	spin.Start()
	status, resp, err := c.request(method, path, body)
	spin.Stop()
	if err != nil {
		return err
	}
	if status >= 300 {
		return apiError(status, resp)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(resp, out)
}

func apiError(status int, body []byte) error {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		if e.Message != "" {
			return fmt.Errorf("%s (%d): %s", e.Error, status, e.Message)
		}
		return fmt.Errorf("%s (%d)", e.Error, status)
	}
	return fmt.Errorf("error (%d): %s", status, strings.TrimSpace(string(body)))
}

func main() {
	baseURL := getenv("FILESOLVERS_BASE_URL", "http://localhost:8080")
	token := getenv("FILESOLVERS_TOKEN", "")
	profileName := getenv("FILESOLVERS_PROFILE", "")
	ui := newUI()

	root := &cobra.Command{
		Use:   "filesolvers",
		Short: "FileSolvers CLI",
		Long:  "FileSolvers CLI for posting bounties, submitting files and settling rewards.",
	}
	root.SetHelpTemplate(helpTemplate(ui))
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&baseURL, "base-url", baseURL, "Base URL for FileSolvers")
	root.PersistentFlags().StringVar(&token, "token", token, "Bearer token")
	root.PersistentFlags().StringVar(&profileName, "profile", profileName, "Config profile")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, _, _ := loadConfig()
		active := resolveProfileName(profileName, cfg)
		prof := cfg.Profiles[active]
		flags := cmd.Flags()
		if !flags.Changed("base-url") && strings.TrimSpace(os.Getenv("FILESOLVERS_BASE_URL")) == "" && prof.BaseURL != "" {
			baseURL = prof.BaseURL
		}
		if !flags.Changed("token") && strings.TrimSpace(os.Getenv("FILESOLVERS_TOKEN")) == "" && prof.Token != "" {
			token = prof.Token
		}
		if profileName == "" {
			profileName = active
		}
		return nil
	}

	newAPI := func() (*client, error) {
		if strings.TrimSpace(token) == "" {
			return nil, errors.New("token is required (run `filesolvers auth set` or pass --token)")
		}
		return newClient(baseURL, token), nil
	}

	root.AddCommand(initCmd(&profileName, ui))
	root.AddCommand(authCmd(&profileName, ui))
	root.AddCommand(requestCmd(newAPI, ui))
	root.AddCommand(fileCmd(newAPI, ui))
	root.AddCommand(accountCmd(newAPI, ui))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

func helpTemplate(ui *ui) string {
	title := ui.title("filesolvers")
	return fmt.Sprintf(`%s: CLI for the FileSolvers request ledger

Usage:
  {{.UseLine}}

Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

Config:
  %s

Examples:
  filesolvers init
  filesolvers request create --description "1998 budget scan" --formats pdf,docx --reward 0.1 --expires-in 72h
  filesolvers file submit 0 ./budget.pdf --description "full scan"
  filesolvers request winner 0 --file 0
  filesolvers account balance

`, title, configPath())
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
