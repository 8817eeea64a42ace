package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"channelmap/internal/mapping"
	"channelmap/internal/store"
)

// Repository is the slice of the store the reconciler reads and mutates.
type Repository interface {
	FindStreamByName(ctx context.Context, realmID int64, name string) (store.Stream, bool, error)
	DeleteStreamRecipients(ctx context.Context, streamID int64) (int64, error)
}

// Transactor runs fn with a Repository bound to one transaction that commits
// only when fn returns nil.
type Transactor interface {
	WithTx(ctx context.Context, fn func(repo Repository) error) error
}

// Assignment is one resolved (group, stream) pair from the mapping.
type Assignment struct {
	Group   string
	Stream  store.Stream
	Options Options
}

// GroupApplier brings a stream's membership in line with one group. It runs
// inside the reconcile transaction; an error aborts and rolls back the run.
type GroupApplier interface {
	ApplyGroup(ctx context.Context, repo Repository, a Assignment) error
}

type Options struct {
	// RemoveObsoleteMembership is carried through to the GroupApplier. The
	// reconciler itself does not act on it.
	RemoveObsoleteMembership      bool
	RemoveAllIndividualMembership bool
}

type Report struct {
	ChannelsReset       int
	RecipientsDeleted   int64
	AssignmentsResolved int
	MissingChannels     []string
}

type Service struct {
	Tx      Transactor
	Applier GroupApplier
	Logger  *slog.Logger
	Now     func() time.Time
}

func NewService(st *store.Store, logger *slog.Logger) *Service {
	return &Service{
		Tx:     storeTransactor{st: st},
		Logger: logger,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run reconciles the realm's channel membership against m in a single
// transaction. Nothing is committed when an error is returned.
func (s *Service) Run(ctx context.Context, realm store.Realm, opts Options, m mapping.Mapping) (report Report, err error) {
	logger := s.logger().With("realm", realm.StringID)
	started := s.now()

	logger.Info("channel_mapping_update_started",
		"realm_name", realm.Name,
		"groups", len(m),
		"remove_obsolete_membership", opts.RemoveObsoleteMembership,
		"remove_all_individual_membership", opts.RemoveAllIndividualMembership,
	)

	defer func() {
		if p := recover(); p != nil {
			logger.Error("channel_mapping_update_failed", "panic", p, "stack", string(debug.Stack()))
			panic(p)
		}
	}()

	err = s.Tx.WithTx(ctx, func(repo Repository) error {
		r := &run{
			repo:    repo,
			applier: s.Applier,
			logger:  logger,
			realm:   realm,
			opts:    opts,
			streams: make(map[string]store.Stream),
			missing: make(map[string]struct{}),
		}
		if err := r.reconcile(ctx, m); err != nil {
			return err
		}
		report = r.report
		return nil
	})
	if err != nil {
		logger.Error("channel_mapping_update_failed", "error", err)
		return Report{}, fmt.Errorf("reconcile channel mapping for realm %s: %w", realm.StringID, err)
	}

	logger.Info("channel_mapping_update_finished",
		"channels_reset", report.ChannelsReset,
		"recipients_deleted", report.RecipientsDeleted,
		"assignments_resolved", report.AssignmentsResolved,
		"missing_channels", len(report.MissingChannels),
		"elapsed", s.now().Sub(started),
	)
	return report, nil
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}

// run holds the state of one reconcile transaction.
type run struct {
	repo    Repository
	applier GroupApplier
	logger  *slog.Logger
	realm   store.Realm
	opts    Options

	streams map[string]store.Stream
	missing map[string]struct{}
	report  Report
}

func (r *run) reconcile(ctx context.Context, m mapping.Mapping) error {
	if r.opts.RemoveAllIndividualMembership {
		for _, name := range m.ChannelNames() {
			stream, ok, err := r.lookup(ctx, name)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			deleted, err := r.repo.DeleteStreamRecipients(ctx, stream.ID)
			if err != nil {
				return err
			}
			r.report.ChannelsReset++
			r.report.RecipientsDeleted += deleted
			r.logger.Debug("stream_membership_reset", "stream", name, "recipients_deleted", deleted)
		}
	}

	for _, group := range m.Groups() {
		for _, name := range m[group] {
			stream, ok, err := r.lookup(ctx, name)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			r.report.AssignmentsResolved++
			if r.applier == nil {
				r.logger.Debug("group_membership_not_applied", "group", group, "stream", name)
				continue
			}
			a := Assignment{Group: group, Stream: stream, Options: r.opts}
			if err := r.applier.ApplyGroup(ctx, r.repo, a); err != nil {
				return fmt.Errorf("apply group %q to stream %q: %w", group, name, err)
			}
		}
	}
	return nil
}

// lookup resolves a channel name once per run. A missing channel is warned
// about the first time it is seen and skipped afterwards.
func (r *run) lookup(ctx context.Context, name string) (store.Stream, bool, error) {
	if stream, ok := r.streams[name]; ok {
		return stream, true, nil
	}
	if _, ok := r.missing[name]; ok {
		return store.Stream{}, false, nil
	}

	stream, ok, err := r.repo.FindStreamByName(ctx, r.realm.ID, name)
	if err != nil {
		return store.Stream{}, false, err
	}
	if !ok {
		r.missing[name] = struct{}{}
		r.report.MissingChannels = append(r.report.MissingChannels, name)
		r.logger.Warn("stream_not_found_skipping", "stream", name)
		return store.Stream{}, false, nil
	}
	r.streams[name] = stream
	return stream, true, nil
}

type storeTransactor struct {
	st *store.Store
}

func (t storeTransactor) WithTx(ctx context.Context, fn func(repo Repository) error) error {
	return t.st.WithTx(ctx, func(tx *store.Store) error {
		return fn(tx)
	})
}
