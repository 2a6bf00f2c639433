package sundaebus

import (
	"context"
	"sort"
	"sync"
)

// Directory holds channel membership. A channel exists while it has at least
// one member.
type Directory struct {
	mu       sync.RWMutex
	channels map[string][]string
}

func NewDirectory() *Directory {
	return &Directory{channels: make(map[string][]string)}
}

// Add inserts identity into channel, creating the channel if needed. It
// reports whether membership changed.
func (d *Directory) Add(channelID, identity string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	members := d.channels[channelID]
	for _, m := range members {
		if m == identity {
			return false
		}
	}
	d.channels[channelID] = append(members, identity)
	return true
}

// Remove deletes identity from channel, destroying the channel once empty.
// Removing a non-member is a no-op.
func (d *Directory) Remove(channelID, identity string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	members, ok := d.channels[channelID]
	if !ok {
		return false
	}
	for i, m := range members {
		if m != identity {
			continue
		}
		members = append(members[:i:i], members[i+1:]...)
		if len(members) == 0 {
			delete(d.channels, channelID)
		} else {
			d.channels[channelID] = members
		}
		return true
	}
	return false
}

// Channels returns every channel identity belongs to, with its members in
// insertion order.
func (d *Directory) Channels(identity string) map[string][]string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := map[string][]string{}
	for channelID, members := range d.channels {
		for _, m := range members {
			if m == identity {
				result[channelID] = append([]string(nil), members...)
				break
			}
		}
	}
	return result
}

// ChannelIDs returns the sorted ids of a Channels result.
func ChannelIDs(channels map[string][]string) []string {
	ids := make([]string, 0, len(channels))
	for id := range channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of channels with at least one member.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.channels)
}

// Membership is the request/response surface over the directory. Every
// mutating call notifies affected connections, whether or not membership
// actually changed.
type Membership struct {
	Directory *Directory
	Notifier  *Notifier
}

func (m *Membership) AddMember(ctx context.Context, channelID, identity string) error {
	if err := validateMembership(channelID, identity); err != nil {
		return err
	}
	m.Directory.Add(channelID, identity)
	m.Notifier.Notify(ctx, channelID, identity)
	return nil
}

func (m *Membership) RemoveMember(ctx context.Context, channelID, identity string) error {
	if err := validateMembership(channelID, identity); err != nil {
		return err
	}
	m.Directory.Remove(channelID, identity)
	m.Notifier.Notify(ctx, channelID, identity)
	return nil
}

func (m *Membership) GetChannels(_ context.Context, identity string) (map[string][]string, error) {
	if err := ValidateIdentifier("identity", identity); err != nil {
		return nil, err
	}
	return m.Directory.Channels(identity), nil
}

func validateMembership(channelID, identity string) error {
	if err := ValidateIdentifier("channel", channelID); err != nil {
		return err
	}
	return ValidateIdentifier("identity", identity)
}
