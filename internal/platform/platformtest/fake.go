// Package platformtest provides an in-memory platform session for tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/arkadian/voicelounge/internal/platform"
)

// FakeSession implements platform.Session against in-memory state. All
// methods are safe for concurrent use.
type FakeSession struct {
	mu        sync.Mutex
	nextID    int64
	channels  map[int64]*platform.Channel
	members   map[int64]platform.Member
	locations map[int64]int64 // member id -> channel id (0 = disconnected)

	// FailWith, when set for an operation name, makes that operation return
	// the error without touching state.
	FailWith map[string]error

	Disconnected []int64
	Deleted      []int64
	Moves        map[int64][]int64
}

// NewFakeSession builds an empty fake guild.
func NewFakeSession() *FakeSession {
	return &FakeSession{
		nextID:    1000,
		channels:  make(map[int64]*platform.Channel),
		members:   make(map[int64]platform.Member),
		locations: make(map[int64]int64),
		FailWith:  make(map[string]error),
		Moves:     make(map[int64][]int64),
	}
}

func (f *FakeSession) fail(op string) error {
	if err, ok := f.FailWith[op]; ok && err != nil {
		return err
	}
	return nil
}

// AddMember registers a guild member.
func (f *FakeSession) AddMember(m platform.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[m.ID] = m
}

// AddChannel registers a pre-existing channel and returns it.
func (f *FakeSession) AddChannel(ch platform.Channel) *platform.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	cpy := ch
	f.channels[ch.ID] = &cpy
	return &cpy
}

// Place puts a member into a channel without going through MoveMember,
// simulating a gateway-observed join.
func (f *FakeSession) Place(memberID, channelID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locations[memberID] = channelID
}

// Location reports the channel a member currently occupies.
func (f *FakeSession) Location(memberID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locations[memberID]
}

// HasChannel reports whether the channel still exists.
func (f *FakeSession) HasChannel(channelID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.channels[channelID]
	return ok
}

// Channel implements platform.Session.
func (f *FakeSession) Channel(_ context.Context, channelID int64) (*platform.Channel, error) {
	if err := f.fail("Channel"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.channels[channelID]
	if !ok {
		return nil, platform.NewError(platform.KindNotFound, "channel", fmt.Errorf("channel %d", channelID))
	}
	cpy := *ch
	cpy.Overwrites = append([]platform.Overwrite(nil), ch.Overwrites...)
	return &cpy, nil
}

// CreateChannel implements platform.Session.
func (f *FakeSession) CreateChannel(_ context.Context, input platform.CreateChannelInput) (*platform.Channel, error) {
	if err := f.fail("CreateChannel"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	ch := &platform.Channel{
		ID:         f.nextID,
		Name:       input.Name,
		CategoryID: input.CategoryID,
		Bitrate:    input.Bitrate,
		Overwrites: append([]platform.Overwrite(nil), input.Overwrites...),
	}
	f.channels[ch.ID] = ch
	return ch, nil
}

// DeleteChannel implements platform.Session.
func (f *FakeSession) DeleteChannel(_ context.Context, channelID int64, _ string) error {
	if err := f.fail("DeleteChannel"); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.channels[channelID]; !ok {
		return platform.NewError(platform.KindNotFound, "delete channel", fmt.Errorf("channel %d", channelID))
	}
	delete(f.channels, channelID)
	f.Deleted = append(f.Deleted, channelID)
	return nil
}

// SetOverwrite implements platform.Session.
func (f *FakeSession) SetOverwrite(_ context.Context, channelID int64, ow platform.Overwrite) error {
	if err := f.fail("SetOverwrite"); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.channels[channelID]
	if !ok {
		return platform.NewError(platform.KindNotFound, "set overwrite", fmt.Errorf("channel %d", channelID))
	}

	for i := range ch.Overwrites {
		if ch.Overwrites[i].TargetID == ow.TargetID && ch.Overwrites[i].Kind == ow.Kind {
			if ow.Allow == 0 && ow.Deny == 0 {
				ch.Overwrites = append(ch.Overwrites[:i], ch.Overwrites[i+1:]...)
			} else {
				ch.Overwrites[i] = ow
			}
			return nil
		}
	}
	if ow.Allow != 0 || ow.Deny != 0 {
		ch.Overwrites = append(ch.Overwrites, ow)
	}
	return nil
}

// MoveMember implements platform.Session.
func (f *FakeSession) MoveMember(_ context.Context, memberID, channelID int64) error {
	if err := f.fail("MoveMember"); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.channels[channelID]; !ok {
		return platform.NewError(platform.KindNotFound, "move member", fmt.Errorf("channel %d", channelID))
	}
	f.locations[memberID] = channelID
	f.Moves[memberID] = append(f.Moves[memberID], channelID)
	return nil
}

// Disconnect implements platform.Session.
func (f *FakeSession) Disconnect(_ context.Context, memberID int64) error {
	if err := f.fail("Disconnect"); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.locations[memberID] = 0
	f.Disconnected = append(f.Disconnected, memberID)
	return nil
}

// ChannelMembers implements platform.Session.
func (f *FakeSession) ChannelMembers(_ context.Context, channelID int64) ([]platform.Member, error) {
	if err := f.fail("ChannelMembers"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.channels[channelID]; !ok {
		return nil, platform.NewError(platform.KindNotFound, "channel members", fmt.Errorf("channel %d", channelID))
	}

	var out []platform.Member
	for memberID, loc := range f.locations {
		if loc != channelID {
			continue
		}
		if m, ok := f.members[memberID]; ok {
			out = append(out, m)
		} else {
			out = append(out, platform.Member{ID: memberID})
		}
	}
	return out, nil
}

// Member implements platform.Session.
func (f *FakeSession) Member(_ context.Context, memberID int64) (*platform.Member, error) {
	if err := f.fail("Member"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.members[memberID]
	if !ok {
		return nil, platform.NewError(platform.KindNotFound, "member", fmt.Errorf("member %d", memberID))
	}
	cpy := m
	return &cpy, nil
}

var _ platform.Session = (*FakeSession)(nil)
