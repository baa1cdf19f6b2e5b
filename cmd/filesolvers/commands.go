package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/falconandrea/FileSolvers/pkg/domain"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type apiFactory func() (*client, error)

type balanceResp struct {
	Address      string        `json:"address"`
	Balance      domain.Amount `json:"balance"`
	BalanceEther string        `json:"balanceEther"`
}

func requestCmd(newAPI apiFactory, ui *ui) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Request operations",
	}

	var (
		description string
		formats     string
		reward      string
		expiresIn   time.Duration
		expiresAt   string
	)
	create := &cobra.Command{
		Use:     "create",
		Short:   "Create a request and escrow its reward",
		Example: `filesolvers request create --description "1998 budget scan" --formats pdf,docx --reward 0.1 --expires-in 72h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPI()
			if err != nil {
				return err
			}
			exp := expiresAt
			if exp == "" {
				if expiresIn <= 0 {
					return errors.New("--expires-in or --expires-at is required")
				}
				exp = time.Now().Add(expiresIn).UTC().Format(time.RFC3339)
			}
			body := map[string]any{
				"description":     description,
				"acceptedFormats": splitList(formats),
				"rewardEther":     reward,
				"expirationDate":  exp,
			}
			var out domain.Request
			if err := c.call(http.MethodPost, "/requests", body, &out, "Creating request..."); err != nil {
				return err
			}
			fmt.Printf("%s Request %d created, %s escrowed until %s\n",
				ui.ok("[OK]"), out.ID, out.Reward.FormatEther(), out.ExpirationDate.Local().Format(time.RFC1123))
			return nil
		},
	}
	create.Flags().StringVar(&description, "description", "", "What file is being requested")
	create.Flags().StringVar(&formats, "formats", "", "Comma-separated accepted formats")
	create.Flags().StringVar(&reward, "reward", "", "Reward in ether, e.g. 0.1")
	create.Flags().DurationVar(&expiresIn, "expires-in", 0, "Time until the request closes")
	create.Flags().StringVar(&expiresAt, "expires-at", "", "Closing time (RFC3339)")

	var (
		openOnly bool
		order    string
		limit    int
		offset   int
		mine     bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPI()
			if err != nil {
				return err
			}
			q := url.Values{}
			if openOnly {
				q.Set("includeClosed", "false")
			}
			if order != "" {
				q.Set("order", order)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}
			path := "/requests"
			if mine {
				path = "/requests/mine"
			}
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			var out struct {
				Requests []domain.Request `json:"requests"`
			}
			if err := c.call(http.MethodGet, path, nil, &out, "Fetching requests..."); err != nil {
				return err
			}
			if len(out.Requests) == 0 {
				fmt.Println(ui.dim("no requests"))
				return nil
			}
			for _, r := range out.Requests {
				printRequestLine(ui, &r)
			}
			return nil
		},
	}
	list.Flags().BoolVar(&openOnly, "open", false, "Hide closed requests")
	list.Flags().StringVar(&order, "order", "", "asc or desc")
	list.Flags().IntVar(&limit, "limit", 0, "Page size")
	list.Flags().IntVar(&offset, "offset", 0, "Page offset")
	list.Flags().BoolVar(&mine, "mine", false, "Only requests I created")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a request and its submissions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPI()
			if err != nil {
				return err
			}
			var r domain.Request
			if err := c.call(http.MethodGet, "/requests/"+url.PathEscape(args[0]), nil, &r, "Fetching request..."); err != nil {
				return err
			}
			printRequestLine(ui, &r)
			fmt.Printf("  %s %s\n", ui.dim("description:"), r.Description)
			fmt.Printf("  %s %s\n", ui.dim("formats:"), strings.Join(r.AcceptedFormats, ", "))
			for _, f := range r.Files {
				marker := " "
				if r.HasWinner() && r.WinnerFileID == f.ID {
					marker = ui.ok("★")
				}
				fmt.Printf("  %s #%d %s (%s) by %s %s\n", marker, f.ID, f.FileName, f.Format, f.Author, ui.dim(humanize.Time(f.CreationDate)))
			}
			return nil
		},
	}

	var fileID int
	winner := &cobra.Command{
		Use:   "winner <id>",
		Short: "Choose the winning file and pay out the reward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPI()
			if err != nil {
				return err
			}
			var r domain.Request
			if err := c.call(http.MethodPost, "/requests/"+url.PathEscape(args[0])+"/winner", map[string]any{"fileId": fileID}, &r, "Settling reward..."); err != nil {
				return err
			}
			fmt.Printf("%s %s paid to %s\n", ui.ok("[OK]"), r.Reward.FormatEther(), r.Winner)
			return nil
		},
	}
	winner.Flags().IntVar(&fileID, "file", 0, "Winning file id")

	withdraw := &cobra.Command{
		Use:   "withdraw <id>",
		Short: "Reclaim the reward of a request nobody answered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPI()
			if err != nil {
				return err
			}
			var r domain.Request
			if err := c.call(http.MethodPost, "/requests/"+url.PathEscape(args[0])+"/withdraw", nil, &r, "Withdrawing reward..."); err != nil {
				return err
			}
			fmt.Printf("%s %s refunded\n", ui.ok("[OK]"), r.Reward.FormatEther())
			return nil
		},
	}

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Close every expired request",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPI()
			if err != nil {
				return err
			}
			var out struct {
				Closed int     `json:"closed"`
				IDs    []int64 `json:"ids"`
			}
			if err := c.call(http.MethodPost, "/requests/sweep", nil, &out, "Closing expired requests..."); err != nil {
				return err
			}
			fmt.Printf("%s Closed %d request(s) %v\n", ui.ok("[OK]"), out.Closed, out.IDs)
			return nil
		},
	}

	cmd.AddCommand(create, list, get, winner, withdraw, sweep)
	return cmd
}

func fileCmd(newAPI apiFactory, ui *ui) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file",
		Short: "Submission operations",
	}

	var (
		description string
		format      string
	)
	submit := &cobra.Command{
		Use:     "submit <request-id> <path>",
		Short:   "Upload a file and submit it to a request",
		Example: `filesolvers file submit 0 ./budget.pdf --description "full scan"`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPI()
			if err != nil {
				return err
			}
			path := args[1]
			if format == "" {
				format = strings.TrimPrefix(filepath.Ext(path), ".")
			}
			address, err := uploadFile(c, path)
			if err != nil {
				return err
			}
			body := map[string]any{
				"fileName":       filepath.Base(path),
				"format":         format,
				"description":    description,
				"contentAddress": address,
			}
			var sub domain.Submission
			if err := c.call(http.MethodPost, "/requests/"+url.PathEscape(args[0])+"/files", body, &sub, "Submitting file..."); err != nil {
				return err
			}
			fmt.Printf("%s File #%d submitted to request %s\n", ui.ok("[OK]"), sub.ID, args[0])
			fmt.Printf("  %s %s\n", ui.dim("content:"), address)
			return nil
		},
	}
	submit.Flags().StringVar(&description, "description", "", "Submission description")
	submit.Flags().StringVar(&format, "format", "", "Format tag (defaults to the file extension)")

	var output string
	download := &cobra.Command{
		Use:   "download <content-address>",
		Short: "Download submitted content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPI()
			if err != nil {
				return err
			}
			req, err := http.NewRequest(http.MethodGet, c.baseURL+apiPrefix+"/content/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}
			if c.token != "" {
				req.Header.Set("Authorization", "Bearer "+c.token)
			}
			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 300 {
				b, _ := io.ReadAll(resp.Body)
				return apiError(resp.StatusCode, b)
			}
			if output == "" {
				output = strings.TrimPrefix(args[0], "sha256:")
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()
			bar := progressbar.DefaultBytes(resp.ContentLength, "downloading")
			n, err := io.Copy(io.MultiWriter(f, bar), resp.Body)
			if err != nil {
				return err
			}
			fmt.Printf("%s Saved %s to %s\n", ui.ok("[OK]"), humanize.Bytes(uint64(n)), output)
			return nil
		},
	}
	download.Flags().StringVarP(&output, "output", "o", "", "Output path")

	cmd.AddCommand(submit, download)
	return cmd
}

// uploadFile streams path as a multipart upload and returns its content address.
func uploadFile(c *client, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return "", err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	bar := progressbar.DefaultBytes(st.Size(), "uploading "+humanize.Bytes(uint64(st.Size())))
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(io.MultiWriter(part, bar), f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequest(http.MethodPost, c.baseURL+apiPrefix+"/content", pr)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	status, resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	if status >= 300 {
		return "", apiError(status, resp)
	}
	var ref struct {
		ContentAddress string `json:"contentAddress"`
	}
	if err := json.Unmarshal(resp, &ref); err != nil {
		return "", err
	}
	return ref.ContentAddress, nil
}

func accountCmd(newAPI apiFactory, ui *ui) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Balance and funding operations",
	}

	balance := &cobra.Command{
		Use:   "balance [address]",
		Short: "Show an account balance (yours by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPI()
			if err != nil {
				return err
			}
			path := "/accounts/me"
			if len(args) == 1 {
				path = "/accounts/" + url.PathEscape(args[0])
			}
			var out balanceResp
			if err := c.call(http.MethodGet, path, nil, &out, "Fetching balance..."); err != nil {
				return err
			}
			fmt.Printf("%s %s %s\n", ui.title(out.Address), out.BalanceEther, ui.dim("("+humanize.BigComma(out.Balance.Big())+" units)"))
			return nil
		},
	}

	var amount string
	deposit := &cobra.Command{
		Use:   "deposit <address>",
		Short: "Credit an account (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPI()
			if err != nil {
				return err
			}
			var out balanceResp
			if err := c.call(http.MethodPost, "/admin/accounts/"+url.PathEscape(args[0])+"/deposit", map[string]any{"amountEther": amount}, &out, "Depositing..."); err != nil {
				return err
			}
			fmt.Printf("%s %s now holds %s\n", ui.ok("[OK]"), out.Address, out.BalanceEther)
			return nil
		},
	}
	deposit.Flags().StringVar(&amount, "amount", "", "Amount in ether")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show ledger totals (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPI()
			if err != nil {
				return err
			}
			var out domain.LedgerStats
			if err := c.call(http.MethodGet, "/admin/stats", nil, &out, "Fetching stats..."); err != nil {
				return err
			}
			fmt.Printf("%s: %s | %s: %s | %s: %s\n",
				ui.info("REQUESTS"), humanize.Comma(out.Requests),
				ui.ok("ACTIVE"), humanize.Comma(out.Active),
				ui.warn("ESCROWED"), out.Escrowed.FormatEther(),
			)
			return nil
		},
	}

	cmd.AddCommand(balance, deposit, stats)
	return cmd
}

func printRequestLine(ui *ui, r *domain.Request) {
	status := r.Status()
	var tag string
	switch status {
	case domain.StatusActive:
		tag = ui.ok(string(status))
	case domain.StatusClosed:
		tag = ui.warn(string(status))
	default:
		tag = ui.dim(string(status))
	}
	deadline := "closes " + humanize.Time(r.ExpirationDate)
	if r.IsDone {
		deadline = "closed " + humanize.Time(r.ExpirationDate)
	}
	fmt.Printf("#%-4d %-8s %s  %s  %d file(s)  %s\n", r.ID, tag, r.Reward.FormatEther(), r.Author, len(r.Files), ui.dim(deadline))
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
