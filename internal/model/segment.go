package model

import (
	"fmt"
	"strings"
)

// Segment selects which user profiles a send targets.
type Segment int

const (
	SegmentAll Segment = iota
	SegmentMembers
	SegmentNonMembers
	SegmentUser
)

// Role values stored on user profiles.
const (
	RoleMember    = "member"
	RoleNonMember = "non-member"
)

// ParseSegment maps the external spellings ("All", "members", "non-members",
// "NonMembers", "User", ...) onto a Segment. An empty value means everyone.
func ParseSegment(raw string) (Segment, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "", "_", "", " ", "").Replace(key)
	switch key {
	case "", "all", "everyone":
		return SegmentAll, nil
	case "members", "member":
		return SegmentMembers, nil
	case "nonmembers", "nonmember":
		return SegmentNonMembers, nil
	case "user":
		return SegmentUser, nil
	}
	return SegmentAll, fmt.Errorf("unknown segment %q", raw)
}

// String returns the canonical segment name.
func (s Segment) String() string {
	switch s {
	case SegmentAll:
		return "all"
	case SegmentMembers:
		return "members"
	case SegmentNonMembers:
		return "non-members"
	case SegmentUser:
		return "user"
	}
	return fmt.Sprintf("segment(%d)", int(s))
}

// Role returns the profile role a role-filtered segment matches.
func (s Segment) Role() (string, bool) {
	switch s {
	case SegmentMembers:
		return RoleMember, true
	case SegmentNonMembers:
		return RoleNonMember, true
	}
	return "", false
}

// Target is a resolved audience selection.
type Target struct {
	Segment Segment
	UserIDs []string
}

// TargetFor builds a Target from the raw request fields. An explicit user id
// list takes precedence over the segment.
func TargetFor(segment, userID string, userIDs []string) (Target, error) {
	ids := make([]string, 0, len(userIDs)+1)
	for _, id := range userIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		return Target{Segment: SegmentUser, UserIDs: ids}, nil
	}
	seg, err := ParseSegment(segment)
	if err != nil {
		return Target{}, err
	}
	if seg == SegmentUser {
		userID = strings.TrimSpace(userID)
		if userID == "" {
			return Target{}, fmt.Errorf("segment %q requires a user id", segment)
		}
		return Target{Segment: SegmentUser, UserIDs: []string{userID}}, nil
	}
	return Target{Segment: seg}, nil
}
