// Package audience turns a notification target into deliverable endpoints.
package audience

import (
	"context"
	"errors"
	"fmt"

	"github.com/labcompare/push-scheduler/internal/model"
	"github.com/labcompare/push-scheduler/internal/storage"
	"go.uber.org/zap"
)

// Recipient is one user and the endpoints assigned to them.
type Recipient struct {
	UserID    string
	Endpoints []string
}

// Audience is the outcome of a resolution. Err is set when any part of the
// lookup failed; the recipients that did resolve are still usable.
type Audience struct {
	Recipients []Recipient
	Err        error
}

// Endpoints returns the union of every recipient endpoint.
func (a Audience) Endpoints() EndpointSet {
	set := EndpointSet{}
	for _, r := range a.Recipients {
		for _, endpoint := range r.Endpoints {
			set.Add(endpoint)
		}
	}
	return set
}

// Empty reports whether there is nobody to deliver to.
func (a Audience) Empty() bool {
	return len(a.Recipients) == 0
}

// Resolver reads user profiles to build audiences.
type Resolver struct {
	users storage.UserStore
	log   *zap.Logger
}

// NewResolver builds a Resolver.
func NewResolver(users storage.UserStore, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{users: users, log: log.Named("audience")}
}

// Resolve never returns an error directly: failures are logged and reported
// through Audience.Err with whatever could be resolved.
func (r *Resolver) Resolve(ctx context.Context, target model.Target) Audience {
	var (
		profiles []*model.UserProfile
		err      error
	)
	switch target.Segment {
	case model.SegmentAll:
		profiles, err = r.users.ListUsers(ctx, "")
	case model.SegmentMembers, model.SegmentNonMembers:
		role, _ := target.Segment.Role()
		profiles, err = r.users.ListUsers(ctx, role)
	case model.SegmentUser:
		profiles, err = r.byIDs(ctx, target.UserIDs)
	default:
		err = fmt.Errorf("unsupported segment %s", target.Segment)
	}
	if err != nil {
		r.log.Warn("audience resolution failed",
			zap.Stringer("segment", target.Segment),
			zap.Int("userIds", len(target.UserIDs)),
			zap.Error(err))
		if target.Segment != model.SegmentUser {
			return Audience{Err: err}
		}
	}
	return Audience{Recipients: collect(profiles), Err: err}
}

// byIDs queries the store in MaxBatchIDs chunks and merges the results. A
// failed chunk is skipped; the joined error is returned alongside the rest.
func (r *Resolver) byIDs(ctx context.Context, ids []string) ([]*model.UserProfile, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, errors.New("no user ids given")
	}
	if len(ids) == 1 {
		p, err := r.users.GetUser(ctx, ids[0])
		if err != nil {
			return nil, fmt.Errorf("get user %s: %w", ids[0], err)
		}
		return []*model.UserProfile{p}, nil
	}
	var (
		profiles []*model.UserProfile
		errs     []error
	)
	for _, chunk := range Chunk(ids, storage.MaxBatchIDs) {
		found, err := r.users.GetUsersByIDs(ctx, chunk)
		if err != nil {
			errs = append(errs, fmt.Errorf("users %v: %w", chunk, err))
			continue
		}
		profiles = append(profiles, found...)
	}
	return profiles, errors.Join(errs...)
}

// Chunk splits ids into consecutive groups of at most size.
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// collect assigns each endpoint to the first profile that owns it, so that
// shared endpoints are only delivered once. Users left with no endpoints are
// dropped.
func collect(profiles []*model.UserProfile) []Recipient {
	seen := EndpointSet{}
	var out []Recipient
	for _, p := range profiles {
		if p == nil {
			continue
		}
		var endpoints []string
		for _, endpoint := range p.Endpoints() {
			if seen.Add(endpoint) {
				endpoints = append(endpoints, endpoint)
			}
		}
		if len(endpoints) > 0 {
			out = append(out, Recipient{UserID: p.ID, Endpoints: endpoints})
		}
	}
	return out
}
