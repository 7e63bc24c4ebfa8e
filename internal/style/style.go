package style

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/williamhogman/sparkmesh/internal/types"
)

var (
	// Colors
	Primary = lipgloss.Color("#76B900")
	Green   = lipgloss.Color("#10B981")
	Red     = lipgloss.Color("#EF4444")
	Yellow  = lipgloss.Color("#F59E0B")
	Cyan    = lipgloss.Color("#06B6D4")
	Dim     = lipgloss.Color("#6B7280")
	White   = lipgloss.Color("#F9FAFB")

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary).
		MarginBottom(1)

	Bold    = lipgloss.NewStyle().Bold(true).Foreground(White)
	DimText = lipgloss.NewStyle().Foreground(Dim)

	Healthy   = lipgloss.NewStyle().Foreground(Green).Bold(true)
	Unhealthy = lipgloss.NewStyle().Foreground(Red).Bold(true)
	Warning   = lipgloss.NewStyle().Foreground(Yellow)
	Running   = lipgloss.NewStyle().Foreground(Cyan)

	DotHealthy   = Healthy.Render("●")
	DotUnhealthy = Unhealthy.Render("●")
	DotWarning   = Warning.Render("●")
	DotDim       = DimText.Render("●")

	RoleBadge = lipgloss.NewStyle().Padding(0, 1).Bold(true).Foreground(Cyan)

	TableHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary).
			PaddingRight(2)

	ErrorBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Red).
			Foreground(Red).
			Padding(0, 1).
			MarginTop(1)

	SuccessBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Green).
			Foreground(Green).
			Padding(0, 1).
			MarginTop(1)

	Key = lipgloss.NewStyle().Foreground(Dim).Width(14)
	Val = lipgloss.NewStyle().Foreground(White)
)

// StatusDot renders a pass/fail indicator
func StatusDot(ok bool) string {
	if ok {
		return DotHealthy
	}
	return DotUnhealthy
}

// PhaseDot renders the indicator for a phase status
func PhaseDot(status types.PhaseStatus) string {
	switch status {
	case types.PhaseStatusSucceeded:
		return DotHealthy
	case types.PhaseStatusPartial:
		return DotWarning
	case types.PhaseStatusFailed:
		return DotUnhealthy
	case types.PhaseStatusRunning:
		return Running.Render("●")
	default:
		return DotDim
	}
}

// OutcomeText colors a node outcome
func OutcomeText(o types.Outcome) string {
	switch o {
	case types.OutcomeSuccess:
		return Healthy.Render(string(o))
	case types.OutcomeFailed:
		return Unhealthy.Render(string(o))
	case types.OutcomeRunning:
		return Running.Render(string(o))
	default:
		return DimText.Render(string(o))
	}
}

// HealthDot renders the indicator for a node health status
func HealthDot(s types.HealthStatus) string {
	switch s {
	case types.HealthHealthy:
		return DotHealthy
	case types.HealthDegraded:
		return DotWarning
	case types.HealthUnhealthy:
		return DotUnhealthy
	default:
		return DotDim
	}
}

// KV renders an aligned key/value line
func KV(key, val string) string {
	return Key.Render(key) + Val.Render(val)
}
