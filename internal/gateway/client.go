// Package gateway talks to the chat host's HTTP gateway for group rosters,
// member details and avatars.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"dailypair/internal/models"
	"dailypair/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

// LookupStatus tags the outcome of a member lookup.
type LookupStatus int

const (
	LookupFound LookupStatus = iota
	// LookupNotFound means a gateway answered that the user is not in the group.
	LookupNotFound
	// LookupTransient means no gateway gave a usable answer.
	LookupTransient
)

func (s LookupStatus) String() string {
	switch s {
	case LookupFound:
		return "found"
	case LookupNotFound:
		return "not_found"
	default:
		return "transient_error"
	}
}

// MemberLookup is the result of LookupMember.
type MemberLookup struct {
	Status LookupStatus
	Member models.Member
	Err    error
}

// Client calls a list of equivalent gateway hosts.
type Client struct {
	hosts  []string
	http   *http.Client
	cursor atomic.Uint64
}

// NewClient returns a client for hosts (host:port) with a per-request timeout.
func NewClient(hosts []string, timeout time.Duration) *Client {
	return &Client{
		hosts: hosts,
		http:  &http.Client{Timeout: timeout},
	}
}

// Hosts returns the configured host list.
func (c *Client) Hosts() []string {
	return append([]string(nil), c.hosts...)
}

type wireMember struct {
	UserID   json.Number `json:"user_id"`
	Nickname string      `json:"nickname"`
	Card     string      `json:"card"`
}

func (w wireMember) member() models.Member {
	return models.Member{UserID: w.UserID.String(), Nickname: w.Nickname, Card: w.Card}
}

type rosterResponse struct {
	Status string       `json:"status"`
	Data   []wireMember `json:"data"`
}

type memberResponse struct {
	Status  string     `json:"status"`
	Message string     `json:"message"`
	Wording string     `json:"wording"`
	Data    wireMember `json:"data"`
}

// GroupMembers fetches the roster of groupID. Hosts are tried in list order and
// the first non-empty roster wins.
func (c *Client) GroupMembers(ctx context.Context, groupID string) ([]models.Member, error) {
	span, ctx := observability.NewSpan(ctx, "gateway.GroupMembers", observability.ClientSpan())
	defer span.End()
	span.AddAttributes(attribute.String("group_id", groupID))

	var lastErr error
	for _, host := range c.hosts {
		var resp rosterResponse
		err := c.post(ctx, host, "get_group_member_list", map[string]any{"group_id": wireID(groupID)}, &resp)
		if err != nil {
			observability.GatewayRequests.WithLabelValues("get_group_member_list", "error").Inc()
			lastErr = fmt.Errorf("%s: %w", host, err)
			continue
		}
		if len(resp.Data) == 0 {
			observability.GatewayRequests.WithLabelValues("get_group_member_list", "empty").Inc()
			lastErr = fmt.Errorf("%s: empty roster", host)
			continue
		}
		observability.GatewayRequests.WithLabelValues("get_group_member_list", "ok").Inc()

		members := make([]models.Member, 0, len(resp.Data))
		for _, m := range resp.Data {
			if m.UserID == "" {
				continue
			}
			members = append(members, m.member())
		}
		return members, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no gateway hosts configured")
	}
	span.SetError(lastErr)
	return nil, lastErr
}

// LookupMember resolves one member, rotating through hosts starting at the
// client's cursor until a host finds the user or every host has been tried.
func (c *Client) LookupMember(ctx context.Context, groupID, userID string) MemberLookup {
	span, ctx := observability.NewSpan(ctx, "gateway.LookupMember", observability.ClientSpan())
	defer span.End()
	span.AddAttributes(attribute.String("group_id", groupID), attribute.String("user_id", userID))

	result := MemberLookup{Status: LookupTransient, Err: errors.New("no gateway hosts configured")}
	sawNotFound := false

	for range c.hosts {
		host := c.next()
		lookup := c.lookupOn(ctx, host, groupID, userID)
		observability.GatewayRequests.WithLabelValues("get_group_member_info", lookup.Status.String()).Inc()

		switch lookup.Status {
		case LookupFound:
			return lookup
		case LookupNotFound:
			sawNotFound = true
		}
		result = lookup
	}

	if sawNotFound {
		result.Status = LookupNotFound
	}
	span.SetError(result.Err)
	return result
}

func (c *Client) next() string {
	i := c.cursor.Add(1) - 1
	return c.hosts[i%uint64(len(c.hosts))]
}

func (c *Client) lookupOn(ctx context.Context, host, groupID, userID string) MemberLookup {
	var resp memberResponse
	payload := map[string]any{
		"group_id": wireID(groupID),
		"user_id":  wireID(userID),
		"no_cache": false,
	}
	if err := c.post(ctx, host, "get_group_member_info", payload, &resp); err != nil {
		return MemberLookup{Status: LookupTransient, Err: fmt.Errorf("%s: %w", host, err)}
	}

	switch resp.Status {
	case "ok":
		m := resp.Data.member()
		if m.UserID == "" {
			m.UserID = userID
		}
		if m.Nickname == "" && m.Card == "" {
			return MemberLookup{Status: LookupTransient, Err: fmt.Errorf("%s: member without nickname", host)}
		}
		return MemberLookup{Status: LookupFound, Member: m}
	case "failed":
		msg := resp.Message + " " + resp.Wording
		if isNotMemberMessage(msg) {
			return MemberLookup{Status: LookupNotFound, Err: fmt.Errorf("%s: %s", host, strings.TrimSpace(msg))}
		}
		return MemberLookup{Status: LookupTransient, Err: fmt.Errorf("%s: %s", host, strings.TrimSpace(msg))}
	default:
		return MemberLookup{Status: LookupTransient, Err: fmt.Errorf("%s: unexpected status %q", host, resp.Status)}
	}
}

func isNotMemberMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(msg, "不存在") || strings.Contains(lower, "not exist") || strings.Contains(lower, "not found")
}

func (c *Client) post(ctx context.Context, host, action string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+host+"/"+action, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s returned %s", action, resp.Status)
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, 8<<20))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", action, err)
	}
	return nil
}

// wireID sends numeric ids as JSON numbers, which is what the gateway expects.
func wireID(id string) any {
	if id == "" {
		return id
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return id
		}
	}
	return json.Number(id)
}
