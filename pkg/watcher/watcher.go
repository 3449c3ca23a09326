// Package watcher polls Connect's mailbox directory for subscription changes
// and re-announces them to the gateway. Ported from original_source's
// voice_mode/connect/watcher.py.
package watcher

import (
	"context"
	"sort"
	"time"

	"github.com/voicemode/voicemode/pkg/mailbox"
	"github.com/voicemode/voicemode/pkg/vmlog"
)

// ChangeType classifies one mailbox-state transition between polls.
type ChangeType string

const (
	Added        ChangeType = "added"
	Removed      ChangeType = "removed"
	Subscribed   ChangeType = "subscribed"
	Unsubscribed ChangeType = "unsubscribed"
	Changed      ChangeType = "changed"
)

// Change is one detected mailbox transition.
type Change struct {
	Type ChangeType
	Name string
}

// GatewayClient is the subset of a Connect client the watcher needs to
// re-announce mailbox changes. Satisfied by *connect.Client.
type GatewayClient interface {
	IsConnected() bool
	SendCapabilitiesUpdate(ctx context.Context) error
}

// DiffSnapshots compares two mailbox.UserManager.Snapshot results and
// returns the changes sorted by name within each change type, matching
// original_source's diff_user_state.
func DiffSnapshots(prev, curr map[string]mailbox.SnapshotEntry) []Change {
	var changes []Change

	var added, removed, common []string
	for name := range curr {
		if _, ok := prev[name]; !ok {
			added = append(added, name)
		} else {
			common = append(common, name)
		}
	}
	for name := range prev {
		if _, ok := curr[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(common)

	for _, name := range added {
		changes = append(changes, Change{Type: Added, Name: name})
	}
	for _, name := range removed {
		changes = append(changes, Change{Type: Removed, Name: name})
	}
	for _, name := range common {
		p, c := prev[name], curr[name]
		if p == c {
			continue
		}
		switch {
		case c.Subscribed && !p.Subscribed:
			changes = append(changes, Change{Type: Subscribed, Name: name})
		case p.Subscribed && !c.Subscribed:
			changes = append(changes, Change{Type: Unsubscribed, Name: name})
		default:
			changes = append(changes, Change{Type: Changed, Name: name})
		}
	}
	return changes
}

// Watch polls manager for mailbox changes every pollInterval and re-announces
// to client whenever the snapshot differs from the previous poll. onChange,
// if non-nil, is invoked for every detected Change (e.g. to echo status
// lines to a CLI). Runs until ctx is cancelled; transient snapshot or
// announce errors are logged and never stop the loop.
func Watch(ctx context.Context, client GatewayClient, manager *mailbox.UserManager, pollInterval time.Duration, logger vmlog.Logger, onChange func(Change)) error {
	logger = vmlog.OrDefault(logger)

	prev, err := manager.Snapshot()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			curr, err := manager.Snapshot()
			if err != nil {
				logger.Debug("watcher: snapshot error (non-fatal)", "error", err)
				continue
			}

			changes := DiffSnapshots(prev, curr)
			if len(changes) == 0 {
				continue
			}

			for _, ch := range changes {
				if onChange != nil {
					onChange(ch)
				}
			}

			if client != nil && client.IsConnected() {
				if err := client.SendCapabilitiesUpdate(ctx); err != nil {
					logger.Debug("watcher: capabilities update failed (non-fatal)", "error", err)
				} else {
					logger.Info("watcher: announced mailbox changes to gateway", "user_count", len(curr))
				}
			}

			prev = curr
		}
	}
}
