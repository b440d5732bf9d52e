package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/arkadian/voicelounge/internal/platform"
	apperrors "github.com/arkadian/voicelounge/pkg/errors"
	"github.com/arkadian/voicelounge/pkg/logger"
	"github.com/arkadian/voicelounge/pkg/metrics"
)

// PermissionEngine computes and applies tri-state permission values for one
// owner's channel. The live channel overwrite is mutated first; the stored
// mirror is only committed once the platform accepted the change.
type PermissionEngine struct {
	session    platform.Session
	store      *PermissionStore
	policy     *TierPolicy
	resolver   PremiumResolver
	everyoneID int64
	log        *zap.Logger
}

// NewPermissionEngine constructs a PermissionEngine. everyoneID is the
// guild's everyone pseudo-target. resolver may be nil; when set it answers
// tier lookups for owners whose role list did not arrive with the command.
func NewPermissionEngine(session platform.Session, store *PermissionStore, policy *TierPolicy, everyoneID int64, resolver PremiumResolver) (*PermissionEngine, error) {
	if session == nil {
		return nil, errors.New("permission engine: session is required")
	}
	if store == nil {
		return nil, errors.New("permission engine: store is required")
	}
	if policy == nil {
		return nil, errors.New("permission engine: tier policy is required")
	}
	if everyoneID == 0 {
		return nil, errors.New("permission engine: everyone id is required")
	}

	return &PermissionEngine{
		session:    session,
		store:      store,
		policy:     policy,
		resolver:   resolver,
		everyoneID: everyoneID,
		log:        logger.WithModule("permissions"),
	}, nil
}

// EveryoneID exposes the everyone pseudo-target id.
func (e *PermissionEngine) EveryoneID() int64 { return e.everyoneID }

// DetermineNewValue resolves the next tri-state value for a permission.
//
//   - toggle: a truthy current value flips to unset for the moderator
//     permission and to an explicit deny for everything else; a falsy or
//     unset current value flips to allow.
//   - explicit: "+" yields allow; "-" yields unset for the moderator
//     permission and deny for everything else.
//   - neither: the moderator permission resolves to defaultTrue; every other
//     permission inherits the inverse of the everyone target's effective
//     value, so an owner can open a globally closed permission for one user.
//     An unset or allowed everyone value resolves to deny; an explicit
//     everyone deny resolves to allow.
func DetermineNewValue(current *bool, perm platform.Permission, explicit *bool, defaultTrue bool, toggle bool, everyone func() *bool) *bool {
	boolPtr := func(v bool) *bool { return &v }

	if toggle {
		if current != nil && *current {
			if perm == platform.PermModerator {
				return nil
			}
			return boolPtr(false)
		}
		return boolPtr(true)
	}

	if explicit != nil {
		if *explicit {
			return boolPtr(true)
		}
		if perm == platform.PermModerator {
			return nil
		}
		return boolPtr(false)
	}

	if perm == platform.PermModerator {
		return boolPtr(defaultTrue)
	}

	var ev *bool
	if everyone != nil {
		ev = everyone()
	}
	if ev != nil && !*ev {
		return boolPtr(true)
	}
	return boolPtr(false)
}

// ApplyInput describes one permission mutation request.
type ApplyInput struct {
	Channel     *platform.Channel
	Owner       platform.Member
	TargetID    int64
	Perm        platform.Permission
	Explicit    *bool
	Toggle      bool
	DefaultTrue bool
}

// ApplyResult reports the outcome of a mutation.
type ApplyResult struct {
	NewValue *bool
}

// Apply computes the new value, pushes the overwrite to the platform and
// mirrors it into the store. Guards reject invariant violations before any
// mutation; a platform failure aborts the store mirror.
func (e *PermissionEngine) Apply(ctx context.Context, in ApplyInput) (*ApplyResult, error) {
	ctx = ensureContext(ctx)

	if in.Channel == nil {
		return nil, errors.New("permission engine: channel is required")
	}
	bit := in.Perm.Bit()
	if bit == 0 {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown permission %q", in.Perm))
	}

	isEveryone := in.TargetID == e.everyoneID
	if isEveryone && in.Perm == platform.PermModerator {
		metrics.PermissionMutations.WithLabelValues("rejected").Inc()
		return nil, apperrors.ErrEveryoneModerator
	}

	kind := platform.OverwriteMember
	if isEveryone {
		kind = platform.OverwriteRole
	}

	existing, _ := in.Channel.Overwrite(in.TargetID, kind)
	existing.TargetID = in.TargetID
	existing.Kind = kind
	current := in.Perm.Value(existing)

	newValue := DetermineNewValue(current, in.Perm, in.Explicit, in.DefaultTrue, in.Toggle, func() *bool {
		ow, ok := in.Channel.Overwrite(e.everyoneID, platform.OverwriteRole)
		if !ok {
			return nil
		}
		return in.Perm.Value(ow)
	})

	if in.Perm == platform.PermModerator && newValue != nil && *newValue {
		if err := e.checkModeratorCap(ctx, in.Channel, in.TargetID, in.Owner); err != nil {
			metrics.PermissionMutations.WithLabelValues("rejected").Inc()
			return nil, err
		}
	}

	ow := existing
	switch {
	case newValue == nil:
		ow.Allow &^= bit
		ow.Deny &^= bit
	case *newValue:
		ow.Allow |= bit
		ow.Deny &^= bit
	default:
		ow.Deny |= bit
		ow.Allow &^= bit
	}

	if err := e.session.SetOverwrite(ctx, in.Channel.ID, ow); err != nil {
		metrics.PermissionMutations.WithLabelValues("error").Inc()
		e.log.Warn("overwrite rejected by platform",
			zap.Int64("channel_id", in.Channel.ID),
			zap.Int64("target_id", in.TargetID),
			zap.String("permission", string(in.Perm)),
			zap.Error(err))
		return nil, apperrors.ErrPlatformFailure.WithInternal(err)
	}

	// Keep the channel snapshot coherent for follow-up mutations in the
	// same command.
	replaceOverwrite(in.Channel, ow)

	var storeErr error
	switch {
	case newValue == nil:
		storeErr = e.store.ClearBits(ctx, in.Owner.ID, in.TargetID, bit)
	case *newValue:
		_, storeErr = e.store.Upsert(ctx, in.Owner.ID, in.TargetID, bit, 0, e.everyoneID)
	default:
		_, storeErr = e.store.Upsert(ctx, in.Owner.ID, in.TargetID, 0, bit, e.everyoneID)
	}
	if storeErr != nil {
		metrics.PermissionMutations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("permission engine: mirror: %w", storeErr)
	}

	metrics.PermissionMutations.WithLabelValues("applied").Inc()
	return &ApplyResult{NewValue: newValue}, nil
}

// checkModeratorCap rejects a new moderator grant once the owner's tier
// limit is reached. Re-granting an existing moderator does not count. An
// owner arriving without a role list is resolved through the premium
// resolver before being treated as tierless.
func (e *PermissionEngine) checkModeratorCap(ctx context.Context, channel *platform.Channel, targetID int64, owner platform.Member) error {
	if platform.LevelOf(channel, targetID) == platform.LevelMod {
		return nil
	}

	limit := e.policy.ModLimit(owner.Roles)
	if limit <= 0 && len(owner.Roles) == 0 && e.resolver != nil {
		if tier, err := e.resolver.PremiumTier(ctx, owner.ID); err == nil && tier != nil {
			limit = tier.Moderators
		}
	}
	if platform.ModeratorCount(channel) >= limit {
		return apperrors.ErrModeratorLimit
	}
	return nil
}

// Reset clears every member overwrite except the owner's and deletes the
// owner's stored rows. Used by the channel reset command.
func (e *PermissionEngine) Reset(ctx context.Context, channel *platform.Channel, ownerID int64) error {
	ctx = ensureContext(ctx)

	if channel == nil {
		return errors.New("permission engine: channel is required")
	}

	for _, ow := range channel.Overwrites {
		if ow.Kind != platform.OverwriteMember || ow.TargetID == ownerID {
			continue
		}
		cleared := platform.Overwrite{TargetID: ow.TargetID, Kind: ow.Kind}
		if err := e.session.SetOverwrite(ctx, channel.ID, cleared); err != nil {
			return apperrors.ErrPlatformFailure.WithInternal(err)
		}
	}

	if err := e.store.RemoveAll(ctx, ownerID); err != nil {
		return fmt.Errorf("permission engine: reset: %w", err)
	}
	return nil
}

func replaceOverwrite(channel *platform.Channel, ow platform.Overwrite) {
	for i := range channel.Overwrites {
		if channel.Overwrites[i].TargetID == ow.TargetID && channel.Overwrites[i].Kind == ow.Kind {
			if ow.Allow == 0 && ow.Deny == 0 {
				channel.Overwrites = append(channel.Overwrites[:i], channel.Overwrites[i+1:]...)
			} else {
				channel.Overwrites[i] = ow
			}
			return
		}
	}
	if ow.Allow != 0 || ow.Deny != 0 {
		channel.Overwrites = append(channel.Overwrites, ow)
	}
}
