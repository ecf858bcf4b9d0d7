package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rcliao/clip-memory/internal/analyzer"
	"github.com/rcliao/clip-memory/internal/model"
)

const reportRule = "==============================================================="

// ReportMeta is printed in the analysis file header.
type ReportMeta struct {
	Title string
	URL   string
}

// AnalyzeContent analyses text and writes the report into the scope's
// directory. Blank text returns immediately without a model call. Only an OK
// analysis produces a file; otherwise path is empty and analysis holds the
// user-facing message.
func (p *Pipeline) AnalyzeContent(ctx context.Context, scope *Scope, text string, segments []model.Segment, meta ReportMeta) (analysis, path string, status analyzer.Status) {
	if strings.TrimSpace(text) == "" {
		return "", "", analyzer.StatusEmpty
	}

	res := p.analyzer.Analyze(ctx, text, segments)
	if res.Status != analyzer.StatusOK || strings.TrimSpace(res.Text) == "" {
		status = res.Status
		if status == analyzer.StatusOK {
			status = analyzer.StatusEmpty
		}
		return res.Text, "", status
	}

	path, err := p.writeReport(scope, res.Text, meta)
	if err != nil {
		p.log.WithError(err).Error("write analysis report")
		return res.Text, "", analyzer.StatusOK
	}
	scope.Track(path)
	return res.Text, path, analyzer.StatusOK
}

func (p *Pipeline) writeReport(scope *Scope, analysis string, meta ReportMeta) (string, error) {
	now := p.cfg.Now()
	name := fmt.Sprintf("Analysis_%s.txt", now.Format("20060102_150405"))
	path := filepath.Join(scope.Dir, name)

	var b strings.Builder
	b.WriteString(reportRule + "\n")
	b.WriteString("VIDEO CONTENT ANALYSIS\n")
	b.WriteString(reportRule + "\n")
	if meta.Title != "" {
		fmt.Fprintf(&b, "Title:     %s\n", meta.Title)
	}
	if meta.URL != "" {
		fmt.Fprintf(&b, "Source:    %s\n", meta.URL)
	}
	fmt.Fprintf(&b, "Generated: %s\n", now.Format("2006-01-02 15:04:05"))
	b.WriteString(reportRule + "\n\n")
	b.WriteString(analysis)
	b.WriteString("\n")

	if err := os.WriteFile(path, []byte(crlf(b.String())), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// crlf converts line endings to CRLF for Windows text viewers.
func crlf(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
