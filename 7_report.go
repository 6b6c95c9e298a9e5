package magnet

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

//go:embed templates/report.html
var htmlTemplate string

//go:embed templates/styles.css
var cssStyles string

const reportTitle = "Research Magnet Report"

// cell makes s safe to put in a markdown table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

// linkURL escapes the characters that end a markdown link destination.
var linkURL = strings.NewReplacer(" ", "%20", "(", "%28", ")", "%29", "<", "%3C", ">", "%3E", "|", "%7C").Replace

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

// RenderMarkdown writes a human readable report of an analysis.
func RenderMarkdown(a Analysis, generated time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", reportTitle)
	fmt.Fprintf(&b, "*Generated %s: %d items, %d clusters (%s), %d ms*\n\n",
		generated.UTC().Format("2 January 2006 15:04 MST"),
		len(a.Items), len(a.Clusters), a.Algorithm, a.ProcessingTimeMs)

	b.WriteString("## Top problems\n\n")
	if len(a.Ranked) == 0 {
		b.WriteString("No items.\n\n")
	} else {
		b.WriteString("| # | Score | Title | Cluster | Engagement z | Neg. sentiment | Question | Pain | Density | Decay |\n")
		b.WriteString("|---|---|---|---|---|---|---|---|---|---|\n")
		for i, r := range a.Ranked {
			title := cell(r.Title)
			if title == "" {
				title = "(untitled)"
			}
			if r.URL != "" {
				title = fmt.Sprintf("[%s](%s)", title, linkURL(r.URL))
			}
			fmt.Fprintf(&b, "| %d | %.3f | %s | %d | %.3f | %.3f | %g | %g | %.3f | %.3f |\n",
				i+1, r.ProblemScore, title, r.ClusterID,
				r.Why.EngagementZ, r.Why.NegSentiment, r.Why.IsQuestion, r.Why.PainMarkers,
				r.Why.ClusterDensity, r.Why.TimeDecay)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Cluster trends\n\n")
	if len(a.Trends) == 0 {
		b.WriteString("No clustered items.\n\n")
	}
	for _, t := range a.Trends {
		fmt.Fprintf(&b, "### Cluster %d: %s\n\n", t.ClusterID, t.Trend)
		fmt.Fprintf(&b, "- Last bucket: %d items (short SMA %.3f, long SMA %.3f)\n", t.LastCount, t.SMAShort, t.SMALong)
		if t.Size > 0 {
			fmt.Fprintf(&b, "- Size: %d\n", t.Size)
		}
		fmt.Fprintf(&b, "- Keywords: %s\n", joinOrDash(t.TopKeywords))
		for _, rep := range t.Representatives {
			fmt.Fprintf(&b, "  - %s\n", cell(rep))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// RenderHTML converts a markdown report into a standalone HTML page.
func RenderHTML(markdown string, generated time.Time) (string, error) {
	// Drop the leading title; the template renders its own header.
	markdown = strings.TrimPrefix(markdown, "# "+reportTitle+"\n")

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Table,
			extension.Linkify,
			extension.Strikethrough,
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown to HTML: %w", err)
	}

	tmpl, err := template.New("report").Parse(htmlTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML template: %w", err)
	}

	data := struct {
		Title string
		Date  string
		Body  template.HTML
		CSS   template.CSS
	}{
		Title: reportTitle,
		Date:  generated.UTC().Format("2 January 2006"),
		Body:  template.HTML(buf.String()),
		CSS:   template.CSS(cssStyles),
	}

	var result bytes.Buffer
	if err := tmpl.Execute(&result, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return result.String(), nil
}
