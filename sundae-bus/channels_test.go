package sundaebus

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/tj/assert"
)

func TestMembership(t *testing.T) {
	ctx := context.Background()
	newMembership := func() (*Membership, *Registry) {
		r := NewRegistry()
		return &Membership{
			Directory: NewDirectory(),
			Notifier:  &Notifier{Registry: r, Logger: zerolog.Nop()},
		}, r
	}

	t.Run("add member notifies observers once", func(t *testing.T) {
		m, r := newMembership()
		observer := &recorder{id: "o"}
		bystander := &recorder{id: "x"}
		r.Observe(observer, "bob")
		r.Observe(bystander, "carol")

		err := m.AddMember(ctx, "team", "bob")
		assert.Nil(t, err)

		channels, err := m.GetChannels(ctx, "bob")
		assert.Nil(t, err)
		assert.Equal(t, map[string][]string{"team": {"bob"}}, channels)
		assert.Equal(t, 1, observer.refreshCount())
		assert.Equal(t, 0, bystander.refreshCount())
	})

	t.Run("channel subscribers are notified", func(t *testing.T) {
		m, r := newMembership()
		both := &recorder{id: "both"}
		sub := &recorder{id: "sub"}
		r.Observe(both, "bob")
		r.Subscribe(both, "team")
		r.Subscribe(sub, "team")

		assert.Nil(t, m.AddMember(ctx, "team", "bob"))
		assert.Equal(t, 1, both.refreshCount())
		assert.Equal(t, 1, sub.refreshCount())
	})

	t.Run("members keep insertion order and are unique", func(t *testing.T) {
		m, _ := newMembership()
		assert.Nil(t, m.AddMember(ctx, "team", "bob"))
		assert.Nil(t, m.AddMember(ctx, "team", "alice"))
		assert.Nil(t, m.AddMember(ctx, "team", "bob"))
		assert.Nil(t, m.AddMember(ctx, "solo", "alice"))

		channels, err := m.GetChannels(ctx, "alice")
		assert.Nil(t, err)
		assert.Equal(t, map[string][]string{
			"team": {"bob", "alice"},
			"solo": {"alice"},
		}, channels)
		assert.Equal(t, []string{"solo", "team"}, ChannelIDs(m.Directory.Channels("alice")))
	})

	t.Run("remove destroys empty channels", func(t *testing.T) {
		m, r := newMembership()
		observer := &recorder{id: "o"}
		r.Observe(observer, "bob")

		assert.Nil(t, m.AddMember(ctx, "team", "bob"))
		assert.Nil(t, m.AddMember(ctx, "team", "alice"))
		assert.Nil(t, m.RemoveMember(ctx, "team", "carol"))
		assert.Nil(t, m.RemoveMember(ctx, "team", "bob"))

		channels, err := m.GetChannels(ctx, "alice")
		assert.Nil(t, err)
		assert.Equal(t, map[string][]string{"team": {"alice"}}, channels)

		assert.Nil(t, m.RemoveMember(ctx, "team", "alice"))
		channels, err = m.GetChannels(ctx, "alice")
		assert.Nil(t, err)
		assert.Len(t, channels, 0)
		assert.Equal(t, 2, observer.refreshCount())
	})

	t.Run("failed refresh drops the connection", func(t *testing.T) {
		m, r := newMembership()
		gone := &recorder{id: "gone", err: ErrConnectionGone}
		r.Observe(gone, "bob")

		assert.Nil(t, m.AddMember(ctx, "team", "bob"))
		assert.Len(t, r.Observers("bob"), 0)
	})

	t.Run("invalid identifiers are rejected", func(t *testing.T) {
		m, _ := newMembership()
		assert.NotNil(t, m.AddMember(ctx, "te|am", "bob"))
		assert.NotNil(t, m.RemoveMember(ctx, "team", ""))
		_, err := m.GetChannels(ctx, "")
		assert.NotNil(t, err)
	})
}
