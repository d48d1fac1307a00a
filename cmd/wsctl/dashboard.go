package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/workspaced/internal/cache"
	"github.com/fyrsmithlabs/workspaced/internal/indexer"
	"github.com/fyrsmithlabs/workspaced/internal/invalidator"
)

const (
	sparkWidth  = 30
	sparkHeight = 3
	historyLen  = 30
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("46")).
		Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	badStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// statsSample is one poll of the daemon.
type statsSample struct {
	ready   string
	cache   cache.Stats
	indexer indexer.Stats
	inval   invalidator.Stats
	extra   []string // component names we do not render in detail
}

type dashModel struct {
	serverURL  string
	interval   time.Duration
	lastUpdate time.Time
	sample     statsSample
	err        error
	quitting   bool

	hitRatioHistory []float64
	queueHistory    []float64
	indexedHistory  []float64
	lastIndexed     uint64

	hitProgress progress.Model
}

func newDashModel(serverURL string, interval time.Duration) dashModel {
	return dashModel{
		serverURL: serverURL,
		interval:  interval,
		hitProgress: progress.New(
			progress.WithGradient("#ff0000", "#00ff00"),
			progress.WithWidth(40),
		),
	}
}

// runDashboard runs the live stats view until the user quits.
func runDashboard(serverURL string, interval time.Duration) error {
	p := tea.NewProgram(newDashModel(serverURL, interval))
	_, err := p.Run()
	return err
}

type dashTickMsg time.Time
type dashStatsMsg statsSample
type dashErrMsg error

func dashTick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return dashTickMsg(t)
	})
}

func fetchSample(serverURL string) tea.Cmd {
	return func() tea.Msg {
		client := &http.Client{Timeout: 5 * time.Second}

		sample := statsSample{ready: "unknown"}
		if resp, err := client.Get(serverURL + "/readyz"); err == nil {
			var ready struct {
				Status string `json:"status"`
			}
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if json.Unmarshal(body, &ready) == nil && ready.Status != "" {
				sample.ready = ready.Status
			}
		}

		resp, err := client.Get(serverURL + "/v1/stats")
		if err != nil {
			return dashErrMsg(err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return dashErrMsg(err)
		}

		var snapshot map[string]json.RawMessage
		if err := json.Unmarshal(body, &snapshot); err != nil {
			return dashErrMsg(err)
		}
		for name, raw := range snapshot {
			switch name {
			case "cache":
				_ = json.Unmarshal(raw, &sample.cache)
			case "indexer":
				_ = json.Unmarshal(raw, &sample.indexer)
			case "invalidator":
				_ = json.Unmarshal(raw, &sample.inval)
			default:
				sample.extra = append(sample.extra, name)
			}
		}
		sort.Strings(sample.extra)
		return dashStatsMsg(sample)
	}
}

func pushHistory(history []float64, v float64) []float64 {
	history = append(history, v)
	if len(history) > historyLen {
		history = history[1:]
	}
	return history
}

func renderSpark(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparkWidth, "no data"))
	}
	spark := sparkline.New(sparkWidth, sparkHeight)
	for _, v := range data {
		spark.Push(v)
	}
	return sparkStyle.Render(spark.View())
}

func hitRatio(s cache.Stats) float64 {
	hits := s.L1.Hits + s.L2.Hits + s.L3.Hits
	total := hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

func readyBadge(status string) string {
	switch status {
	case "ready":
		return okStyle.Render("✓ READY")
	case "degraded":
		return warnStyle.Render("⚠ DEGRADED")
	default:
		return badStyle.Render("✗ " + status)
	}
}

func (m dashModel) Init() tea.Cmd {
	return tea.Batch(dashTick(m.interval), fetchSample(m.serverURL))
}

func (m dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchSample(m.serverURL)
		}

	case dashTickMsg:
		return m, tea.Batch(dashTick(m.interval), fetchSample(m.serverURL))

	case dashStatsMsg:
		sample := statsSample(msg)
		m.hitRatioHistory = pushHistory(m.hitRatioHistory, hitRatio(sample.cache)*100)
		m.queueHistory = pushHistory(m.queueHistory, float64(sample.indexer.QueueDepth))
		delta := float64(0)
		if sample.indexer.FilesIndexed >= m.lastIndexed {
			delta = float64(sample.indexer.FilesIndexed - m.lastIndexed)
		}
		m.indexedHistory = pushHistory(m.indexedHistory, delta)
		m.lastIndexed = sample.indexer.FilesIndexed
		m.sample = sample
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case dashErrMsg:
		m.err = error(msg)
		return m, nil
	}
	return m, nil
}

func (m dashModel) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m dashModel) renderError() string {
	header := headerStyle.Render(" workspaced Stats ")
	var content string
	content += "\n"
	content += badStyle.Render("⚠ Cannot reach the daemon") + "\n\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.serverURL) + "\n"
	content += dimStyle.Render("Error: ") + badStyle.Render(m.err.Error()) + "\n\n"
	content += dimStyle.Render("Is workspaced running with its ops server enabled?") + "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"
	return containerStyle.Render(header + "\n" + content)
}

func (m dashModel) renderDashboard() string {
	var content string

	lastUpdateStr := "never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("15:04:05")
	}
	content += headerStyle.Render(" workspaced Stats ") + "\n"
	content += fmt.Sprintf("%s   %s %s\n",
		readyBadge(m.sample.ready),
		dimStyle.Render("updated"),
		valueStyle.Render(lastUpdateStr))

	// Cache
	ratio := hitRatio(m.sample.cache)
	content += "\n" + sectionStyle.Render("┃ Query Cache") + "\n"
	content += labelStyle.Render("  Hit ratio: ") +
		m.hitProgress.ViewAs(ratio) +
		" " + dimStyle.Render(fmt.Sprintf("%.0f%%", ratio*100)) +
		"   " + renderSpark(m.hitRatioHistory) + "\n"
	content += labelStyle.Render("  L1: ") +
		valueStyle.Render(fmt.Sprintf("%d/%d", m.sample.cache.L1.Hits, m.sample.cache.L1.Hits+m.sample.cache.L1.Misses)) +
		dimStyle.Render(fmt.Sprintf("  %d evictions, %s", m.sample.cache.L1.Evictions, formatBytes(m.sample.cache.L1.Bytes))) + "\n"
	content += labelStyle.Render("  L2: ") +
		valueStyle.Render(fmt.Sprintf("%d hits", m.sample.cache.L2.Hits)) +
		dimStyle.Render(fmt.Sprintf("  %.2fms avg", m.sample.cache.L2.AvgLatencyMS)) +
		labelStyle.Render("   L3: ") +
		valueStyle.Render(fmt.Sprintf("%d hits", m.sample.cache.L3.Hits)) +
		dimStyle.Render(fmt.Sprintf("  %.2fms avg", m.sample.cache.L3.AvgLatencyMS)) + "\n"

	// Indexer
	content += "\n" + sectionStyle.Render("┃ Indexer") + "\n"
	content += labelStyle.Render("  Indexed: ") +
		valueStyle.Render(fmt.Sprintf("%d files", m.sample.indexer.FilesIndexed)) +
		dimStyle.Render(fmt.Sprintf("  (%d deleted)", m.sample.indexer.FilesDeleted)) +
		"   " + renderSpark(m.indexedHistory) + "\n"
	content += labelStyle.Render("  Queue: ") +
		valueStyle.Render(fmt.Sprintf("%d", m.sample.indexer.QueueDepth)) +
		"                " + renderSpark(m.queueHistory) + "\n"
	if n := len(m.sample.indexer.ErrorsByProject); n > 0 {
		content += labelStyle.Render("  Errors: ")
		names := make([]string, 0, n)
		for id := range m.sample.indexer.ErrorsByProject {
			names = append(names, id)
		}
		sort.Strings(names)
		for _, id := range names {
			content += warnStyle.Render(fmt.Sprintf(" %s=%d", id, m.sample.indexer.ErrorsByProject[id]))
		}
		content += "\n"
	}

	// Invalidator
	content += "\n" + sectionStyle.Render("┃ Invalidator") + "\n"
	content += labelStyle.Render("  Tracked: ") +
		valueStyle.Render(fmt.Sprintf("%d files", m.sample.inval.TrackedFiles)) +
		dimStyle.Render(fmt.Sprintf(" in %d projects", m.sample.inval.TrackedProjects)) + "\n"
	content += labelStyle.Render("  Invalidated: ") +
		valueStyle.Render(fmt.Sprintf("%d entries", m.sample.inval.Invalidated)) +
		dimStyle.Render(fmt.Sprintf("  %d batches, %d pending", m.sample.inval.BatchesProcessed, m.sample.inval.PendingDebounce)) + "\n"

	if len(m.sample.extra) > 0 {
		content += "\n" + dimStyle.Render(fmt.Sprintf("  other components: %v (use wsctl stats --json)", m.sample.extra)) + "\n"
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("auto: %v", m.interval))
	content += "\n" + footer

	return containerStyle.Render(content)
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
