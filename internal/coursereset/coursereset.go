// Package coursereset purges a user's course-side state when a program
// allocation is reset.
package coursereset

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/platform"
)

// PurgeHandler removes one activity module's user data from the courses.
type PurgeHandler func(ctx context.Context, userID int64, courseIDs []int64) error

// PrivacyProvider is a module's bulk deletion entry point.
type PrivacyProvider interface {
	DeleteUserData(ctx context.Context, userID int64, courseIDs []int64) error
}

// PrivacyFunc adapts a function to PrivacyProvider.
type PrivacyFunc func(ctx context.Context, userID int64, courseIDs []int64) error

func (f PrivacyFunc) DeleteUserData(ctx context.Context, userID int64, courseIDs []int64) error {
	return f(ctx, userID, courseIDs)
}

// DefaultPurgeModules have dedicated purge handlers.
var DefaultPurgeModules = []string{"assign", "quiz", "lesson", "scorm", "h5pactivity"}

// DefaultLegacyModules expose a privacy provider that is known to fail.
var DefaultLegacyModules = []string{"assignment"}

type Resetter struct {
	enrolments platform.Enrolments
	modules    platform.Modules
	purge      map[string]PurgeHandler
	privacy    map[string]PrivacyProvider
	legacy     map[string]bool
	logger     *slog.Logger
}

// New returns a Resetter with purge handlers for DefaultPurgeModules, the
// platform deletion as the privacy provider of every other module and
// DefaultLegacyModules skipped.
func New(enrolments platform.Enrolments, modules platform.Modules, logger *slog.Logger) *Resetter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Resetter{
		enrolments: enrolments,
		modules:    modules,
		purge:      make(map[string]PurgeHandler),
		privacy:    make(map[string]PrivacyProvider),
		legacy:     make(map[string]bool),
		logger:     logger,
	}
	for _, mod := range DefaultPurgeModules {
		r.RegisterPurge(mod, r.moduleDeleter(mod))
	}
	for _, mod := range DefaultLegacyModules {
		r.legacy[mod] = true
	}
	return r
}

func (r *Resetter) moduleDeleter(modname string) PurgeHandler {
	return func(ctx context.Context, userID int64, courseIDs []int64) error {
		return r.modules.DeleteUserData(ctx, modname, userID, courseIDs)
	}
}

func (r *Resetter) RegisterPurge(modname string, h PurgeHandler) {
	r.purge[modname] = h
}

// RegisterPrivacy overrides the privacy provider of a module.
func (r *Resetter) RegisterPrivacy(modname string, p PrivacyProvider) {
	r.privacy[modname] = p
}

// SkipLegacy marks a module whose privacy provider must not be called.
func (r *Resetter) SkipLegacy(modname string) {
	r.legacy[modname] = true
}

// Purge applies the course side of rt to the user's courses. Tiers below
// standard do nothing here. Unenrolment always precedes the module
// purge, which precedes the completion purge.
func (r *Resetter) Purge(ctx context.Context, rt domain.ResetType, userID int64, courseIDs []int64) error {
	if rt < domain.ResetStandard || len(courseIDs) == 0 {
		return nil
	}
	courseIDs = append([]int64(nil), courseIDs...)
	sort.Slice(courseIDs, func(i, j int) bool { return courseIDs[i] < courseIDs[j] })

	if err := r.enrolments.UnenrolFromCourses(ctx, userID, courseIDs); err != nil {
		return fmt.Errorf("unenrolling user %d: %w", userID, err)
	}

	installed, err := r.modules.ListInstalled(ctx)
	if err != nil {
		return fmt.Errorf("listing installed modules: %w", err)
	}
	for _, mod := range installed {
		h, ok := r.purge[mod]
		if !ok {
			continue
		}
		if err := h(ctx, userID, courseIDs); err != nil {
			return fmt.Errorf("purging %s: %w", mod, err)
		}
	}

	if err := r.modules.DeleteCompletions(ctx, userID, courseIDs); err != nil {
		return fmt.Errorf("purging completions: %w", err)
	}

	if rt == domain.ResetFull {
		for _, mod := range installed {
			if _, ok := r.purge[mod]; ok {
				continue
			}
			r.privacyDelete(ctx, mod, userID, courseIDs)
		}
	}
	return nil
}

// privacyDelete runs one module's privacy provider. Failures are logged.
func (r *Resetter) privacyDelete(ctx context.Context, mod string, userID int64, courseIDs []int64) {
	if r.legacy[mod] {
		r.logger.DebugContext(ctx, "skipping legacy privacy provider", "module", mod)
		return
	}
	p, ok := r.privacy[mod]
	if !ok {
		p = PrivacyFunc(r.moduleDeleter(mod))
	}
	defer func() {
		if v := recover(); v != nil {
			r.logger.WarnContext(ctx, "privacy provider panicked", "module", mod, "user_id", userID, "panic", v)
		}
	}()
	if err := p.DeleteUserData(ctx, userID, courseIDs); err != nil {
		r.logger.WarnContext(ctx, "privacy provider failed", "module", mod, "user_id", userID, "error", err)
	}
}
