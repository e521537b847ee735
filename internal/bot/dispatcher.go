package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"

	"dailypair/internal/gateway"
	"dailypair/internal/models"
	"dailypair/internal/observability"
	"dailypair/internal/service"

	"go.opentelemetry.io/otel/attribute"
)

const (
	genericFailure = "Something went wrong, please try again later."
	adminOnly      = "Only group administrators can use this command."
	confirmCommand = "confirm"
)

// AvatarSource fetches avatars to attach to pairing replies.
type AvatarSource interface {
	Fetch(ctx context.Context, userID string) (*gateway.Avatar, error)
}

// Services are the domain services commands run against.
type Services struct {
	Pairing  *service.PairingService
	Blocks   *service.BlocklistService
	Advanced *service.AdvancedService
	Admin    *service.AdminService
}

// Options control reply rendering.
type Options struct {
	MaxNameLength int
	ShowAvatar    bool
	Avatars       AvatarSource
}

type handlerFunc func(ctx context.Context, ev Event, args []string) (*Reply, error)

type command struct {
	run   handlerFunc
	admin bool
	usage string
}

// Dispatcher routes chat commands to the pairing services.
type Dispatcher struct {
	svc      Services
	opts     Options
	commands map[string]command
}

// NewDispatcher builds the command table.
func NewDispatcher(svc Services, opts Options) *Dispatcher {
	d := &Dispatcher{svc: svc, opts: opts}
	d.commands = map[string]command{
		"pair":     {run: d.draw, usage: "/pair"},
		"partner":  {run: d.query, usage: "/partner"},
		"breakup":  {run: d.breakup, usage: "/breakup"},
		"wish":     {run: d.wish, usage: "/wish <user id or @mention>"},
		"rob":      {run: d.rob, usage: "/rob <user id or @mention>"},
		"lock":     {run: d.lock, usage: "/lock"},
		"advanced": {run: d.advanced, admin: true, usage: "/advanced on|off"},
		"block":    {run: d.block, usage: "/block <user id> [all|here|<group id>] [oneway]"},
		"unblock":  {run: d.unblock, usage: "/unblock <user id> [all|here|<group id>]"},
		"blocks":   {run: d.listBlocks, usage: "/blocks"},
		"reset":    {run: d.reset, admin: true, usage: "/reset -a|-p|-c|-b|-d|-e|-u|<group id>"},
		"ban":      {run: d.ban, admin: true, usage: "/ban <user id>"},
		"cooldown": {run: d.cooldown, admin: true, usage: "/cooldown <hours>"},
		"menu":     {run: d.menu, usage: "/menu"},
	}
	return d
}

// Handle runs the command in ev. It returns nil when ev is not a command.
// Panics and internal errors become a generic reply.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) (reply *Reply) {
	name, args := parseCommand(ev.Text)
	cmd, ok := d.commands[name]
	if strings.TrimSpace(ev.Text) == service.ConfirmPhrase {
		// The phrase is only a command for users with a live enable request.
		if !d.svc.Advanced.HasPending(ev.GroupID, ev.UserID) {
			return nil
		}
		name, cmd, ok = confirmCommand, command{run: d.confirm}, true
	}
	if !ok {
		return nil
	}

	span, ctx := observability.NewSpan(ctx, "bot."+name)
	span.AddAttributes(
		attribute.String("group.id", ev.GroupID),
		attribute.String("user.id", ev.UserID),
	)
	defer span.End()

	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			observability.GlobalLogger.ErrorContext(ctx, "command panicked",
				slog.String("command", name),
				slog.String("group_id", ev.GroupID),
				slog.String("user_id", ev.UserID),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
			outcome = "panic"
			reply = &Reply{Text: genericFailure}
		}
		observability.CommandsTotal.WithLabelValues(name, outcome).Inc()
	}()

	if cmd.admin && !ev.IsAdmin {
		outcome = models.CodeUnauthorized
		return &Reply{Text: adminOnly}
	}

	reply, err := cmd.run(ctx, ev, args)
	if err != nil {
		span.SetError(err)
		outcome = models.ErrorCode(err)
		return d.renderError(ctx, name, ev, err)
	}
	return reply
}

const notPairedText = "You have not been paired today. Send /pair to draw a partner."

func (d *Dispatcher) renderError(ctx context.Context, name string, ev Event, err error) *Reply {
	var appErr *models.AppError
	if !errors.As(err, &appErr) || appErr.Code == models.CodeInternal {
		observability.GlobalLogger.ErrorContext(ctx, "command failed",
			slog.String("command", name),
			slog.String("group_id", ev.GroupID),
			slog.String("user_id", ev.UserID),
			slog.String("error", err.Error()),
		)
		return &Reply{Text: genericFailure}
	}

	if appErr.Code == models.CodeNotFound {
		switch name {
		case "partner", "breakup", "lock":
			return &Reply{Text: notPairedText}
		case "wish", "rob":
			return &Reply{Text: "That user is not a member of this group."}
		}
	}
	if appErr.Code == models.CodeUpstream {
		observability.GlobalLogger.WarnContext(ctx, "gateway unavailable",
			slog.String("command", name),
			slog.String("error", err.Error()),
		)
	}
	return &Reply{Text: appErr.Message}
}

func (d *Dispatcher) usage(name string) error {
	return models.NewValidationError("Usage: " + d.commands[name].usage)
}

func (d *Dispatcher) requester(ev Event) service.Requester {
	return service.Requester{
		GroupID: ev.GroupID,
		User:    models.DisplayIdentity{Name: ev.SenderName, ID: ev.UserID},
		SelfID:  ev.SelfID,
	}
}

func (d *Dispatcher) draw(ctx context.Context, ev Event, _ []string) (*Reply, error) {
	res, err := d.svc.Pairing.Draw(ctx, d.requester(ev))
	if err != nil {
		return nil, err
	}
	if res.Existing {
		return d.withAvatar(ctx, res.Partner, "You are already paired today. Your partner is "+d.name(res.Partner)+"."), nil
	}
	return d.withAvatar(ctx, res.Partner, "Your partner today is "+d.name(res.Partner)+"!"), nil
}

func (d *Dispatcher) query(ctx context.Context, ev Event, _ []string) (*Reply, error) {
	res, err := d.svc.Pairing.Query(ctx, ev.GroupID, ev.UserID)
	if err != nil {
		return nil, err
	}
	text := "Your partner today is " + d.name(res.Partner) + "."
	if res.Locked {
		text += " The pairing is locked."
	}
	return d.withAvatar(ctx, res.Partner, text), nil
}

func (d *Dispatcher) breakup(ctx context.Context, ev Event, _ []string) (*Reply, error) {
	res, err := d.svc.Pairing.Breakup(ctx, ev.GroupID, ev.UserID)
	if err != nil {
		return nil, err
	}
	return &Reply{Text: fmt.Sprintf(
		"You broke up with %s. You cannot be drawn together for the next %d hours. Breakups left today: %d.",
		d.name(res.FormerPartner), int(res.Cooling.Hours()), res.Remaining)}, nil
}

func (d *Dispatcher) wish(ctx context.Context, ev Event, args []string) (*Reply, error) {
	target := ev.target(args)
	if target == "" {
		return nil, d.usage("wish")
	}
	res, err := d.svc.Pairing.Wish(ctx, d.requester(ev), target)
	if err != nil {
		return nil, err
	}
	return d.withAvatar(ctx, res.Partner, "Wish granted! Your partner today is "+d.name(res.Partner)+"."), nil
}

func (d *Dispatcher) rob(ctx context.Context, ev Event, args []string) (*Reply, error) {
	target := ev.target(args)
	if target == "" {
		return nil, d.usage("rob")
	}
	res, err := d.svc.Pairing.Rob(ctx, d.requester(ev), target)
	if err != nil {
		return nil, err
	}
	return d.withAvatar(ctx, res.Partner, fmt.Sprintf(
		"You took %s away from %s. Your partner today is %s.",
		d.name(res.Partner), d.name(res.Displaced), d.name(res.Partner))), nil
}

func (d *Dispatcher) lock(ctx context.Context, ev Event, _ []string) (*Reply, error) {
	res, err := d.svc.Pairing.Lock(ctx, ev.GroupID, ev.UserID)
	if err != nil {
		return nil, err
	}
	return &Reply{Text: "Your pairing with " + d.name(res.Partner) + " is now locked and cannot be robbed today."}, nil
}

func (d *Dispatcher) advanced(ctx context.Context, ev Event, args []string) (*Reply, error) {
	if len(args) != 1 {
		return nil, d.usage("advanced")
	}
	switch strings.ToLower(args[0]) {
	case "on":
		deadline, err := d.svc.Advanced.RequestEnable(ev.GroupID, ev.UserID, ev.Session)
		if err != nil {
			return nil, err
		}
		return &Reply{Text: fmt.Sprintf(
			"Advanced features let members choose (/wish), take (/rob) and protect (/lock) partners. "+
				"To enable them, send exactly the following sentence before %s:\n%s",
			deadline.Format("15:04:05"), service.ConfirmPhrase)}, nil
	case "off":
		if d.svc.Advanced.IsForced(ev.GroupID) {
			return nil, models.NewValidationError("Advanced features are enabled by configuration and cannot be turned off here.")
		}
		if err := d.svc.Advanced.Disable(ctx, ev.GroupID); err != nil {
			return nil, err
		}
		return &Reply{Text: "Advanced features are now disabled in this group."}, nil
	}
	return nil, d.usage("advanced")
}

func (d *Dispatcher) confirm(ctx context.Context, ev Event, _ []string) (*Reply, error) {
	if err := d.svc.Advanced.Confirm(ctx, ev.GroupID, ev.UserID); err != nil {
		return nil, err
	}
	return &Reply{Text: "Advanced features are now enabled in this group. Send /menu to see the new commands."}, nil
}

// scopeArg maps "all", "here" or a group id to a block scope.
func scopeArg(ev Event, arg string) (string, bool) {
	switch strings.ToLower(arg) {
	case "", models.ScopeAll:
		return models.ScopeAll, true
	case "here":
		return ev.GroupID, true
	}
	return arg, isNumeric(arg)
}

func (d *Dispatcher) block(ctx context.Context, ev Event, args []string) (*Reply, error) {
	target := ev.target(args)
	if target == "" {
		return nil, d.usage("block")
	}
	rest := args
	if len(rest) > 0 && strings.TrimPrefix(rest[0], "@") == target {
		rest = rest[1:]
	}
	scope, twoWay := models.ScopeAll, true
	for _, a := range rest {
		if strings.EqualFold(a, "oneway") {
			twoWay = false
			continue
		}
		s, ok := scopeArg(ev, a)
		if !ok {
			return nil, d.usage("block")
		}
		scope = s
	}

	created, err := d.svc.Blocks.AddBlock(ctx, ev.UserID, target, scope, twoWay)
	if err != nil {
		return nil, err
	}
	verb := "Blocked"
	if !created {
		verb = "Updated the block on"
	}
	return &Reply{Text: fmt.Sprintf("%s %s (%s). You will not be paired with each other.", verb, target, describeScope(scope))}, nil
}

func (d *Dispatcher) unblock(ctx context.Context, ev Event, args []string) (*Reply, error) {
	target := ev.target(args)
	if target == "" {
		return nil, d.usage("unblock")
	}
	scope := ""
	if len(args) > 1 {
		s, ok := scopeArg(ev, args[1])
		if !ok {
			return nil, d.usage("unblock")
		}
		scope = s
	}
	if !d.svc.Blocks.RemoveBlock(ctx, ev.UserID, target, scope) {
		return nil, models.NewValidationError(fmt.Sprintf("You have no block on %s.", target))
	}
	return &Reply{Text: fmt.Sprintf("Removed your block on %s.", target)}, nil
}

func (d *Dispatcher) listBlocks(_ context.Context, ev Event, _ []string) (*Reply, error) {
	entries := d.svc.Blocks.ListBlocks(ev.UserID)
	if len(entries) == 0 {
		return &Reply{Text: "Your blocklist is empty."}, nil
	}
	var b strings.Builder
	b.WriteString("Your blocklist:")
	for i, e := range entries {
		direction := "both ways"
		if !e.TwoWay {
			direction = "one way"
		}
		fmt.Fprintf(&b, "\n%d. %s, %s, %s", i+1, e.BlockedUser, describeScope(e.Scope), direction)
	}
	return &Reply{Text: b.String()}, nil
}

func describeScope(scope string) string {
	if scope == models.ScopeAll {
		return "all groups"
	}
	return "group " + scope
}

func (d *Dispatcher) reset(ctx context.Context, ev Event, args []string) (*Reply, error) {
	if len(args) != 1 {
		return nil, d.usage("reset")
	}
	what, err := d.svc.Admin.Reset(ctx, ev.GroupID, args[0])
	if err != nil {
		return nil, err
	}
	return &Reply{Text: "Reset " + what + "."}, nil
}

func (d *Dispatcher) ban(ctx context.Context, ev Event, args []string) (*Reply, error) {
	target := ev.target(args)
	if target == "" {
		return nil, d.usage("ban")
	}
	if err := d.svc.Admin.Ban(ctx, target); err != nil {
		return nil, err
	}
	return &Reply{Text: fmt.Sprintf("User %s is now excluded from pairing.", target)}, nil
}

func (d *Dispatcher) cooldown(_ context.Context, _ Event, args []string) (*Reply, error) {
	if len(args) != 1 {
		return nil, d.usage("cooldown")
	}
	hours, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, d.usage("cooldown")
	}
	if err := d.svc.Admin.SetCooldownHours(hours); err != nil {
		return nil, err
	}
	return &Reply{Text: fmt.Sprintf("Former partners now cool down for %d hours after a breakup.", hours)}, nil
}

func (d *Dispatcher) name(id models.DisplayIdentity) string {
	return id.Format(d.opts.MaxNameLength)
}

// withAvatar attaches the partner's avatar, or a placeholder line when it cannot be fetched.
func (d *Dispatcher) withAvatar(ctx context.Context, partner models.DisplayIdentity, text string) *Reply {
	reply := &Reply{Text: text}
	if !d.opts.ShowAvatar || d.opts.Avatars == nil {
		return reply
	}
	avatar, err := d.opts.Avatars.Fetch(ctx, partner.ID)
	if err != nil {
		observability.GlobalLogger.DebugContext(ctx, "avatar unavailable",
			slog.String("user_id", partner.ID),
			slog.String("error", err.Error()),
		)
		reply.Text += "\n[avatar unavailable]"
		return reply
	}
	reply.Image = avatar.Data
	reply.ImageMIME = avatar.MIME
	return reply
}
