package app

import "github.com/dkeye/AvatarCall/internal/domain"

// SinkRole names the slot a sink fills in a participant's tile.
type SinkRole string

const (
	RoleCamera SinkRole = "camera"
	RoleScreen SinkRole = "screen"
	RoleAudio  SinkRole = "audio"
)

// PlanAttachments decides which handle feeds each of the given sink roles.
// A nil handle means the sink must be detached. The result depends only on
// the participant's current tracks and the roles present.
func PlanAttachments(p domain.Participant, roles []SinkRole) map[SinkRole]domain.MediaHandle {
	has := make(map[SinkRole]bool, len(roles))
	for _, r := range roles {
		has[r] = true
	}

	camera, cameraOK := p.PlayableTrack(domain.TrackVideo)
	screen, screenOK := p.PlayableTrack(domain.TrackScreenVideo)
	audio, audioOK := p.PlayableTrack(domain.TrackAudio)

	plan := make(map[SinkRole]domain.MediaHandle, len(has))
	if has[RoleCamera] {
		switch {
		case screenOK && !has[RoleScreen]:
			plan[RoleCamera] = screen.Handle
		case cameraOK:
			plan[RoleCamera] = camera.Handle
		default:
			plan[RoleCamera] = nil
		}
	}
	if has[RoleScreen] {
		plan[RoleScreen] = nil
		if screenOK {
			plan[RoleScreen] = screen.Handle
		}
	}
	if has[RoleAudio] {
		plan[RoleAudio] = nil
		if audioOK {
			plan[RoleAudio] = audio.Handle
		}
	}
	return plan
}
