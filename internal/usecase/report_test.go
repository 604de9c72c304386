package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"itchdl/internal/domain"
)

func sampleOutcomes() []domain.Outcome {
	return []domain.Outcome{
		{ID: "a/one", Title: "One", Kind: domain.OutcomeSuccess, Paths: []string{"a/one/files/x.zip"},
			Attempted: 1, Downloaded: 1, Bytes: 1500000},
		{ID: "b/two", Title: "Two", Kind: domain.OutcomePartialFailure, Paths: []string{"b/two/files/y.zip"},
			Failures:  []domain.FileFailure{{UploadID: 9, Filename: "z.zip", Reason: "not found: z"}},
			Attempted: 2, Present: 1},
		{ID: "c/three", Title: "three", Kind: domain.OutcomeExternalOnly,
			ExternalURLs: []string{"https://drive.example.com/three"}},
		{ID: "d/four", Kind: domain.OutcomeSkipped, Reason: "access denied: https://d.itch.io/four"},
		{ID: "e/five", Kind: domain.OutcomeFailed, Reason: "fetch https://e.itch.io/five: status 500"},
	}
}

func TestBuildReport(t *testing.T) {
	report := BuildReport(sampleOutcomes())

	assert.Equal(t, 5, report.Titles)
	assert.Equal(t, 1, report.Success)
	assert.Equal(t, 1, report.Partial)
	assert.Equal(t, 1, report.ExternalOnly)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, 1, report.Present)
	assert.Equal(t, 1, report.FailedFile)
	assert.Equal(t, int64(1500000), report.Bytes)
	assert.Len(t, report.Issues, 3)
	assert.Equal(t, []ExternalLink{{ID: "c/three", Title: "three", URL: "https://drive.example.com/three"}}, report.ExternalLinks)

	assert.False(t, report.OK())
	assert.Equal(t, ExitFailure, report.ExitCode())
}

func TestReport_OK(t *testing.T) {
	report := BuildReport([]domain.Outcome{
		{ID: "a/one", Kind: domain.OutcomeSuccess},
		{ID: "b/two", Kind: domain.OutcomeExternalOnly, ExternalURLs: []string{"https://x.example"}},
	})

	assert.True(t, report.OK())
	assert.Equal(t, ExitOK, report.ExitCode())
	assert.Empty(t, report.Issues)
}

func TestReport_Render(t *testing.T) {
	text := BuildReport(sampleOutcomes()).String()

	assert.Contains(t, text, "Download complete: 5 titles")
	assert.Contains(t, text, "success: 1  partial: 1  failed: 1  external only: 1  skipped: 1")
	assert.Contains(t, text, "3 attempted, 1 downloaded, 1 already present, 1 failed, 1.5 MB written")
	assert.Contains(t, text, "- b/two (Two): partial failure\n    - z.zip (upload 9): not found: z")
	assert.Contains(t, text, "- d/four: skipped (access denied: https://d.itch.io/four)")
	assert.Contains(t, text, "External downloads (fetch manually):\n- c/three: https://drive.example.com/three")
}

func TestReport_RenderEmpty(t *testing.T) {
	text := BuildReport(nil).String()

	assert.Contains(t, text, "Download complete: 0 titles")
	assert.NotContains(t, text, "Problems")
	assert.NotContains(t, text, "External downloads")
}
