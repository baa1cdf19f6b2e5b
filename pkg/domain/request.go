package domain

import (
	"encoding"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Address is a caller identity as supplied by the authentication layer.
type Address string

// EscrowAccount holds every escrowed reward until it is paid out or refunded.
const EscrowAccount Address = "@escrow"

// NewAddress trims and lower-cases a raw identity. Identities starting with
// "@" are reserved for ledger accounts and are rejected (returned empty).
func NewAddress(raw string) Address {
	a := strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(a, "@") {
		return ""
	}
	return Address(a)
}

func (a Address) IsZero() bool { return a == "" }

type RequestStatus string

const (
	StatusActive   RequestStatus = "ACTIVE"
	StatusClosed   RequestStatus = "CLOSED"
	StatusPaid     RequestStatus = "PAID"
	StatusRefunded RequestStatus = "REFUNDED"
)

var (
	_ encoding.TextMarshaler = RequestStatus("")
	_ encoding.TextMarshaler = Address("")
)

func (s RequestStatus) MarshalText() ([]byte, error) { return []byte(string(s)), nil }
func (a Address) MarshalText() ([]byte, error)       { return []byte(string(a)), nil }

type Request struct {
	ID              int64        `json:"id"`
	Author          Address      `json:"author"`
	Description     string       `json:"description"`
	AcceptedFormats []string     `json:"acceptedFormats"`
	Reward          Amount       `json:"reward"`
	CreationDate    time.Time    `json:"creationDate"`
	ExpirationDate  time.Time    `json:"expirationDate"`
	IsDone          bool         `json:"isDone"`
	Winner          Address      `json:"winner,omitempty"`
	WinnerFileID    int          `json:"winnerFileId"` // meaningful only when Winner is set
	RewardWithdrawn bool         `json:"rewardWithdrawn"`
	Files           []Submission `json:"files"`

	participants map[Address]struct{}
}

type Submission struct {
	ID             int       `json:"id"`
	Author         Address   `json:"author"`
	FileName       string    `json:"fileName"`
	Format         string    `json:"format"`
	Description    string    `json:"description"`
	ContentAddress string    `json:"contentAddress"`
	CreationDate   time.Time `json:"creationDate"`
}

// Transfer moves value between two ledger accounts. Stores apply it in the
// same atomic unit as the request write that produced it.
type Transfer struct {
	From   Address `json:"from"`
	To     Address `json:"to"`
	Amount Amount  `json:"amount"`
}

type CreateRequestInput struct {
	Description     string
	AcceptedFormats []string
	Reward          Amount
	ExpirationDate  time.Time
}

type SubmissionInput struct {
	FileName       string
	Format         string
	Description    string
	ContentAddress string
}

// NormalizeFormat lower-cases a format tag and strips a leading dot.
func NormalizeFormat(f string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(f)), ".")
}

// NewRequest validates a creation call. The returned request has no ID yet;
// the store assigns it.
func NewRequest(author Address, in CreateRequestInput, now time.Time) (*Request, error) {
	if author.IsZero() {
		return nil, Errorf(KindMissingParams, "author is required")
	}
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return nil, Errorf(KindMissingParams, "description is required")
	}
	formats := normalizeFormats(in.AcceptedFormats)
	if len(formats) == 0 {
		return nil, Errorf(KindMissingParams, "at least one accepted format is required")
	}
	if in.Reward.Sign() <= 0 {
		return nil, Errorf(KindAmountLessThanZero, "reward must be greater than zero")
	}
	if !in.ExpirationDate.After(now) {
		return nil, Errorf(KindWrongExpirationDate, "expiration date must be in the future")
	}
	return &Request{
		Author:          author,
		Description:     desc,
		AcceptedFormats: formats,
		Reward:          in.Reward,
		CreationDate:    now.UTC(),
		ExpirationDate:  in.ExpirationDate.UTC(),
		Files:           []Submission{},
	}, nil
}

func normalizeFormats(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, f := range in {
		f = NormalizeFormat(f)
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// EscrowTransfer is the deposit taken from the author at creation.
func (r *Request) EscrowTransfer() Transfer {
	return Transfer{From: r.Author, To: EscrowAccount, Amount: r.Reward}
}

func (r *Request) FilesCount() int { return len(r.Files) }

func (r *Request) HasWinner() bool { return !r.Winner.IsZero() }

// Expired reports whether the deadline has passed at now.
func (r *Request) Expired(now time.Time) bool { return now.After(r.ExpirationDate) }

func (r *Request) Status() RequestStatus {
	switch {
	case !r.IsDone:
		return StatusActive
	case r.HasWinner():
		return StatusPaid
	case r.RewardWithdrawn:
		return StatusRefunded
	default:
		return StatusClosed
	}
}

// CloseIfExpired flips IsDone once the deadline has passed. It reports
// whether this call performed the transition.
func (r *Request) CloseIfExpired(now time.Time) bool {
	if r.IsDone || !r.Expired(now) {
		return false
	}
	r.IsDone = true
	return true
}

func (r *Request) AcceptsFormat(format string) bool {
	format = NormalizeFormat(format)
	if format == "" {
		return false
	}
	for _, f := range r.AcceptedFormats {
		if f == format {
			return true
		}
	}
	return false
}

// HasParticipated reports whether addr already submitted to this request.
func (r *Request) HasParticipated(addr Address) bool {
	if r.participants == nil || len(r.participants) != len(r.Files) {
		r.participants = make(map[Address]struct{}, len(r.Files))
		for _, f := range r.Files {
			r.participants[f.Author] = struct{}{}
		}
	}
	_, ok := r.participants[addr]
	return ok
}

// AddSubmission appends a candidate file from submitter.
func (r *Request) AddSubmission(submitter Address, in SubmissionInput, now time.Time) (*Submission, error) {
	if r.IsDone {
		return nil, Errorf(KindRequestClosed, "request %d is closed", r.ID)
	}
	if submitter.IsZero() {
		return nil, Errorf(KindMissingParams, "submitter is required")
	}
	if submitter == r.Author {
		return nil, Errorf(KindYouCantParticipate, "the author cannot submit to their own request")
	}
	if r.HasParticipated(submitter) {
		return nil, Errorf(KindAlreadyParticipated, "%s already submitted to request %d", submitter, r.ID)
	}
	name := strings.TrimSpace(in.FileName)
	if name == "" {
		return nil, Errorf(KindMissingParams, "fileName is required")
	}
	if !r.AcceptsFormat(in.Format) {
		return nil, Errorf(KindWrongFormat, "format %q is not accepted (accepted: %s)", in.Format, strings.Join(r.AcceptedFormats, ", "))
	}
	sub := Submission{
		ID:             len(r.Files),
		Author:         submitter,
		FileName:       name,
		Format:         NormalizeFormat(in.Format),
		Description:    strings.TrimSpace(in.Description),
		ContentAddress: strings.TrimSpace(in.ContentAddress),
		CreationDate:   now.UTC(),
	}
	r.Files = append(r.Files, sub)
	r.participants[submitter] = struct{}{}
	return &sub, nil
}

// SelectWinner records the winning submission and returns the payout.
func (r *Request) SelectWinner(caller Address, fileID int) (Transfer, error) {
	if !r.IsDone {
		return Transfer{}, Errorf(KindRequestNotClosed, "request %d is still active", r.ID)
	}
	if caller != r.Author {
		return Transfer{}, Errorf(KindYouAreNotTheAuthor, "only the author can choose a winner")
	}
	if len(r.Files) == 0 {
		return Transfer{}, Errorf(KindNoParticipants, "request %d has no submissions", r.ID)
	}
	if fileID < 0 || fileID >= len(r.Files) {
		return Transfer{}, Errorf(KindFileNotFound, "file %d not found in request %d", fileID, r.ID)
	}
	if r.HasWinner() {
		return Transfer{}, Errorf(KindAlreadyHaveAWinner, "request %d already has a winner", r.ID)
	}
	winner := r.Files[fileID].Author
	r.Winner = winner
	r.WinnerFileID = fileID
	return Transfer{From: EscrowAccount, To: winner, Amount: r.Reward}, nil
}

// Withdraw refunds an unclaimed reward to the author.
func (r *Request) Withdraw(caller Address) (Transfer, error) {
	if !r.IsDone {
		return Transfer{}, Errorf(KindRequestNotClosed, "request %d is still active", r.ID)
	}
	if caller != r.Author {
		return Transfer{}, Errorf(KindYouAreNotTheAuthor, "only the author can withdraw the reward")
	}
	if len(r.Files) > 0 {
		return Transfer{}, Errorf(KindHaveToChooseWinner, "request %d has submissions, choose a winner", r.ID)
	}
	if r.RewardWithdrawn {
		return Transfer{}, Errorf(KindAlreadyWithdraw, "reward of request %d already withdrawn", r.ID)
	}
	r.RewardWithdrawn = true
	return Transfer{From: EscrowAccount, To: r.Author, Amount: r.Reward}, nil
}

// MarshalJSON adds the derived filesCount and status fields.
func (r Request) MarshalJSON() ([]byte, error) {
	type plain Request
	if r.Files == nil {
		r.Files = []Submission{}
	}
	return json.Marshal(struct {
		plain
		FilesCount int           `json:"filesCount"`
		Status     RequestStatus `json:"status"`
	}{plain(r), len(r.Files), r.Status()})
}

// Clone returns a deep copy safe to mutate.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	c.AcceptedFormats = append([]string(nil), r.AcceptedFormats...)
	c.Files = append(make([]Submission, 0, len(r.Files)), r.Files...)
	c.participants = nil
	return &c
}
