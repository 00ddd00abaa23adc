package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"github.com/fjod/go_cart/cart-engine/internal/service"
)

var (
	accent  = lipgloss.Color("#D97706")
	fg      = lipgloss.Color("#E8E6E3")
	dim     = lipgloss.Color("#6B7280")
	success = lipgloss.Color("#22C55E")
	danger  = lipgloss.Color("#EF4444")
	warning = lipgloss.Color("#F59E0B")
	info    = lipgloss.Color("#8B949E")
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(fg)
	dimStyle    = lipgloss.NewStyle().Foreground(dim)
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 2)

	outcomeColors = map[domain.OutcomeType]lipgloss.Color{
		domain.OutcomeSuccess: success,
		domain.OutcomeWarning: warning,
		domain.OutcomeError:   danger,
		domain.OutcomeInfo:    info,
	}
)

func RenderOutcome(o domain.Outcome) string {
	style := lipgloss.NewStyle().Bold(true).Foreground(outcomeColors[o.Type])
	var b strings.Builder
	b.WriteString(style.Render(fmt.Sprintf("[%s] %s", o.Type, o.Title)))
	b.WriteString("\n")
	b.WriteString(o.Message)
	if o.Detail != "" {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(o.Detail))
	}
	return b.String()
}

func RenderResult(res *service.Result) string {
	var b strings.Builder
	b.WriteString(boxStyle.Render(RenderOutcome(res.Outcome)))
	b.WriteString("\n")
	for _, o := range res.Outcomes {
		b.WriteString("  ")
		b.WriteString(RenderOutcome(o))
		b.WriteString("\n")
	}
	if !res.Delta.IsZero() {
		b.WriteString(dimStyle.Render(fmt.Sprintf("stock delta: sale %+d, rental %+d", res.Delta.Sale, res.Delta.Rental)))
		b.WriteString("\n")
	}
	if res.Aggregate != nil {
		b.WriteString("\n")
		b.WriteString(RenderAggregate(res.Aggregate))
	}
	return b.String()
}

func RenderAggregate(agg *domain.Aggregate) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%s %s", agg.Kind.Label(), agg.AggregateID)))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  (%s, %d items)", agg.Status, agg.ItemCount)))
	b.WriteString("\n")

	if len(agg.Items) == 0 {
		b.WriteString(dimStyle.Render("  empty"))
		b.WriteString("\n")
		return b.String()
	}

	for _, item := range agg.Items {
		name := item.ProductSnapshot.Name
		if item.VariantSnapshot.Title != "" {
			name = fmt.Sprintf("%s (%s)", name, item.VariantSnapshot.Title)
		}
		b.WriteString(fmt.Sprintf("  %s %s\n",
			titleStyle.Render(fmt.Sprintf("%3d × %s", item.Quantity, name)),
			dimStyle.Render(fmt.Sprintf("[%s] %s", item.Tier, item.CartItemKey)),
		))
		b.WriteString(fmt.Sprintf("        %s each, %s incl. VAT\n",
			item.LineTotals.UnitPriceExcl.StringFixed(2),
			item.LineTotals.FinalIncl.StringFixed(2),
		))
	}

	t := agg.Totals
	b.WriteString("\n")
	writeTotal(&b, "Subtotal", t.SubtotalExcl.StringFixed(2))
	if !t.SaleSavingsExcl.IsZero() {
		writeTotal(&b, "Sale savings", t.SaleSavingsExcl.StringFixed(2))
	}
	if !t.DepositTotalExcl.IsZero() {
		writeTotal(&b, "Deposits", t.DepositTotalExcl.StringFixed(2))
	}
	writeTotal(&b, "VAT", t.VatTotal.StringFixed(2))
	writeTotal(&b, "Total excl.", t.FinalExcl.StringFixed(2))
	b.WriteString(fmt.Sprintf("  %-14s %s\n", "Total incl.", titleStyle.Render(t.FinalIncl.StringFixed(2))))
	return b.String()
}

func writeTotal(b *strings.Builder, label, amount string) {
	b.WriteString(fmt.Sprintf("  %-14s %s\n", label, amount))
}
