package bot

import (
	"context"
	"fmt"
	"strings"
)

func (d *Dispatcher) menu(_ context.Context, ev Event, _ []string) (*Reply, error) {
	rules := d.svc.Pairing.Rules()

	var b strings.Builder
	b.WriteString("Daily pairing\n")
	b.WriteString("/pair - draw today's partner\n")
	b.WriteString("/partner - show today's partner\n")
	fmt.Fprintf(&b, "/breakup - break up (former partners cool down for %d hours, at most %d breakups a day)\n",
		int(rules.DefaultCooling.Hours()), rules.MaxDailyBreakups)
	b.WriteString("/block <user id> [all|here|<group id>] [oneway] - never be paired with someone\n")
	b.WriteString("/unblock <user id> [scope] - remove a block\n")
	b.WriteString("/blocks - list your blocks\n")

	if d.svc.Advanced.IsEnabled(ev.GroupID) {
		b.WriteString("\nAdvanced\n")
		fmt.Fprintf(&b, "/wish <user> - choose an unpaired partner (%d per day)\n", rules.MaxDailyWishes)
		fmt.Fprintf(&b, "/rob <user> - take a paired member for yourself (%d per day)\n", rules.MaxDailyRob)
		fmt.Fprintf(&b, "/lock - protect your pairing from /rob, drawn side only (%d per day)\n", rules.MaxDailyLock)
	}

	if ev.IsAdmin {
		b.WriteString("\nAdministrators\n")
		if d.svc.Advanced.IsForced(ev.GroupID) {
			b.WriteString("Advanced features are enabled by configuration.\n")
		} else {
			b.WriteString("/advanced on|off - enable or disable advanced features\n")
		}
		b.WriteString("/reset -a|-p|-c|-b|-d|-e|-u|<group id> - reset stored data\n")
		b.WriteString("/ban <user id> - exclude a user from pairing\n")
		b.WriteString("/cooldown <hours> - set the breakup cooldown (1-720)\n")
	}

	return &Reply{Text: strings.TrimRight(b.String(), "\n")}, nil
}
