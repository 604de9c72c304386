package usecase

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"

	"itchdl/internal/domain"
)

// Exit codes of one invocation
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitFatal   = 2
)

// TitleIssue is one title that did not fully succeed
type TitleIssue struct {
	ID       domain.ContentID
	Title    string
	URL      string
	Kind     domain.OutcomeKind
	Reason   string
	Failures []domain.FileFailure
}

// ExternalLink is an off-platform download the user has to fetch by hand
type ExternalLink struct {
	ID    domain.ContentID
	Title string
	URL   string
}

// Report summarizes a finished ledger
type Report struct {
	Titles       int
	Success      int
	Partial      int
	Failed       int
	ExternalOnly int
	Skipped      int

	// File level counts
	Attempted  int
	Downloaded int
	Present    int
	FailedFile int
	Bytes      int64

	Issues        []TitleIssue
	ExternalLinks []ExternalLink
}

// BuildReport aggregates outcomes. It has no side effects.
func BuildReport(outcomes []domain.Outcome) *Report {
	r := &Report{Titles: len(outcomes)}

	for _, o := range outcomes {
		switch o.Kind {
		case domain.OutcomeSuccess:
			r.Success++
		case domain.OutcomePartialFailure:
			r.Partial++
		case domain.OutcomeExternalOnly:
			r.ExternalOnly++
		case domain.OutcomeSkipped:
			r.Skipped++
		default:
			r.Failed++
		}

		r.Attempted += o.Attempted
		r.Downloaded += o.Downloaded
		r.Present += o.Present
		r.FailedFile += len(o.Failures)
		r.Bytes += o.Bytes

		if o.Kind != domain.OutcomeSuccess && o.Kind != domain.OutcomeExternalOnly {
			r.Issues = append(r.Issues, TitleIssue{
				ID:       o.ID,
				Title:    o.Title,
				URL:      o.URL,
				Kind:     o.Kind,
				Reason:   o.Reason,
				Failures: o.Failures,
			})
		}

		for _, link := range o.ExternalURLs {
			r.ExternalLinks = append(r.ExternalLinks, ExternalLink{ID: o.ID, Title: o.Title, URL: link})
		}
	}

	return r
}

// OK reports whether every title was downloaded in full or only has
// external links
func (r *Report) OK() bool {
	return r.Partial == 0 && r.Failed == 0 && r.Skipped == 0
}

// ExitCode maps the report to the process exit status
func (r *Report) ExitCode() int {
	if r.OK() {
		return ExitOK
	}
	return ExitFailure
}

// Render writes the human readable summary
func (r *Report) Render(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Download complete: %s\n", english.Plural(r.Titles, "title", ""))
	fmt.Fprintf(&b, "  success: %d  partial: %d  failed: %d  external only: %d  skipped: %d\n",
		r.Success, r.Partial, r.Failed, r.ExternalOnly, r.Skipped)
	fmt.Fprintf(&b, "  files: %s attempted, %s downloaded, %s already present, %s failed, %s written\n",
		humanize.Comma(int64(r.Attempted)), humanize.Comma(int64(r.Downloaded)),
		humanize.Comma(int64(r.Present)), humanize.Comma(int64(r.FailedFile)),
		humanize.Bytes(uint64(max(r.Bytes, 0))))

	if len(r.Issues) > 0 {
		b.WriteString("\nProblems:\n")
		for _, issue := range r.Issues {
			fmt.Fprintf(&b, "- %s: %s", label(issue.ID, issue.Title), strings.ReplaceAll(issue.Kind.String(), "_", " "))
			if issue.Reason != "" {
				fmt.Fprintf(&b, " (%s)", issue.Reason)
			}
			b.WriteString("\n")
			for _, f := range issue.Failures {
				fmt.Fprintf(&b, "    - %s\n", failureText(f))
			}
		}
	}

	if len(r.ExternalLinks) > 0 {
		b.WriteString("\nExternal downloads (fetch manually):\n")
		for _, link := range r.ExternalLinks {
			fmt.Fprintf(&b, "- %s: %s\n", label(link.ID, link.Title), link.URL)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (r *Report) String() string {
	var b strings.Builder
	r.Render(&b)
	return b.String()
}

func label(id domain.ContentID, title string) string {
	if title == "" || title == id.Game() {
		return id.String()
	}
	return fmt.Sprintf("%s (%s)", id, title)
}
