package sundaegql

import (
	"context"

	sundaebus "github.com/SundaeSwap-finance/sundae-bus/sundae-bus"
)

// MembershipResolver resolves the membership schema against the bus's
// membership directory.
type MembershipResolver struct {
	config     *BaseConfig
	membership *sundaebus.Membership
}

var _ Resolver = (*MembershipResolver)(nil)

func NewMembershipResolver(config BaseConfig, membership *sundaebus.Membership) *MembershipResolver {
	return &MembershipResolver{
		config:     &config,
		membership: membership,
	}
}

func (r *MembershipResolver) Schema() string {
	return MergeSchemas(MembershipSchema, Common)
}

func (r *MembershipResolver) Config() *BaseConfig {
	return r.config
}

type Channel struct {
	ID      string
	Members []string
}

func (r *MembershipResolver) Channels(ctx context.Context, args struct{ Identity string }) ([]*Channel, error) {
	channels, err := r.membership.GetChannels(ctx, args.Identity)
	if err != nil {
		return nil, err
	}

	ids := sundaebus.ChannelIDs(channels)
	result := make([]*Channel, 0, len(ids))
	for _, id := range ids {
		result = append(result, &Channel{ID: id, Members: channels[id]})
	}
	return result, nil
}

func (r *MembershipResolver) ChannelMap(ctx context.Context, args struct{ Identity string }) (JSON, error) {
	channels, err := r.membership.GetChannels(ctx, args.Identity)
	if err != nil {
		return JSON{}, err
	}
	return JSON{Data: channels}, nil
}

type memberArgs struct {
	Channel  string
	Identity string
}

func (r *MembershipResolver) AddMember(ctx context.Context, args memberArgs) (bool, error) {
	if err := r.membership.AddMember(ctx, args.Channel, args.Identity); err != nil {
		return false, err
	}
	return true, nil
}

func (r *MembershipResolver) RemoveMember(ctx context.Context, args memberArgs) (bool, error) {
	if err := r.membership.RemoveMember(ctx, args.Channel, args.Identity); err != nil {
		return false, err
	}
	return true, nil
}
