package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/keagan/storyreel/internal/pipeline"
	"github.com/keagan/storyreel/internal/runstore"
	"github.com/keagan/storyreel/pkg/util"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205"))

	sectionStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	failedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	dimmedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))

	labelStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244")).
		Width(12)
)

func printRunSummary(w io.Writer, res *pipeline.RunResult, finalVideo string) {
	if res == nil {
		return
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Run " + res.RunID))
	b.WriteString("\n\n")

	for _, s := range res.Scenes {
		line := fmt.Sprintf("%3d  %-28s", s.Scene.SceneID, truncate(s.Scene.Title, 28))
		if s.Err != nil {
			b.WriteString(failedStyle.Render(line + "  " + s.Err.Error()))
		} else {
			detail := fmt.Sprintf("%ds requested", s.RequestedSeconds)
			if s.TargetSeconds > 0 {
				detail += ", retimed to " + util.FormatSeconds(s.TargetSeconds)
			}
			b.WriteString(okStyle.Render(line) + "  " + dimmedStyle.Render(detail))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	summary := fmt.Sprintf("%d/%d scenes ok", len(res.Scenes)-res.Failed(), len(res.Scenes))
	if res.Failed() > 0 {
		b.WriteString(failedStyle.Render(summary))
	} else {
		b.WriteString(okStyle.Render(summary))
	}

	switch {
	case finalVideo != "":
		b.WriteString("\n" + labelStyle.Render("video") + finalVideo)
	case res.OutputPath != "":
		b.WriteString("\n" + labelStyle.Render("video") + res.OutputPath)
	case len(res.ClipPaths) > 0:
		b.WriteString("\n" + labelStyle.Render("clips"))
		b.WriteString(strings.Join(res.ClipPaths, "\n"+labelStyle.Render("")))
	default:
		b.WriteString("\n" + dimmedStyle.Render("no output produced"))
	}

	fmt.Fprintln(w, sectionStyle.Render(b.String()))
}

func renderProbe(path string, seconds float64, streams string, hasAudio bool) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(path))
	b.WriteString("\n" + labelStyle.Render("duration") + util.FormatSeconds(seconds))
	if streams != "" {
		b.WriteString("\n" + labelStyle.Render("video") + streams)
	}
	audio := "none"
	if hasAudio {
		audio = "yes"
	}
	b.WriteString("\n" + labelStyle.Render("audio") + audio)
	return b.String()
}

func renderRunList(runs []runstore.Record) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Recent runs"))
	b.WriteString("\n")

	for _, r := range runs {
		status := okStyle.Render(fmt.Sprintf("%-6s", r.Status))
		if r.Status == runstore.StatusFailed {
			status = failedStyle.Render(fmt.Sprintf("%-6s", r.Status))
		}
		fmt.Fprintf(&b, "\n%s  %s  %s  %2d scenes  %s",
			dimmedStyle.Render(r.StartedAt.Local().Format("2006-01-02 15:04")),
			r.ID,
			status,
			r.SceneCount,
			truncate(r.Storyboard, 40),
		)
	}
	return sectionStyle.Render(b.String())
}

func renderRunDetail(rec *runstore.Record) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Run " + rec.ID))
	b.WriteString("\n" + labelStyle.Render("storyboard") + rec.Storyboard)
	if rec.StylePreset != "" {
		b.WriteString("\n" + labelStyle.Render("style") + rec.StylePreset)
	}
	b.WriteString("\n" + labelStyle.Render("status") + rec.Status)
	b.WriteString("\n" + labelStyle.Render("took") + rec.FinishedAt.Sub(rec.StartedAt).Round(time.Second).String())
	if rec.OutputPath != "" {
		b.WriteString("\n" + labelStyle.Render("output") + rec.OutputPath)
	}
	if rec.Error != "" {
		b.WriteString("\n" + labelStyle.Render("error") + failedStyle.Render(rec.Error))
	}
	b.WriteString("\n")

	for _, s := range rec.Scenes {
		line := fmt.Sprintf("\n%3d  %-28s  %2ds", s.SceneID, truncate(s.Title, 28), s.RequestedSeconds)
		if s.Error != "" {
			b.WriteString(failedStyle.Render(line + "  " + s.Error))
			continue
		}
		b.WriteString(line)
		if s.ClipPath != "" {
			b.WriteString("  " + dimmedStyle.Render(s.ClipPath))
		}
	}
	return sectionStyle.Render(b.String())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
