package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/channelworks/partner-sync-api/internal/models"
	"github.com/channelworks/partner-sync-api/internal/remote"
	"github.com/channelworks/partner-sync-api/pkg/config"
	appErrors "github.com/channelworks/partner-sync-api/pkg/errors"
)

type enrollmentFetcher interface {
	FetchUserEnrollments(ctx context.Context, userID string) ([]remote.LMSEnrollment, error)
	FetchCourses(ctx context.Context) ([]remote.LMSCourse, error)
}

type enrollmentUserStore interface {
	ListActive(ctx context.Context) ([]models.LmsUser, error)
	ListForEnrollmentSync(ctx context.Context, staleBefore time.Time) ([]models.LmsUser, error)
	SetEnrollmentSynced(ctx context.Context, id string, at time.Time) error
}

type enrollmentStore interface {
	UpsertByTranscript(ctx context.Context, enrollment *models.Enrollment) error
}

type courseStore interface {
	Upsert(ctx context.Context, course *models.Course) error
	ListIDs(ctx context.Context) ([]string, error)
}

// EnrollmentSyncService mirrors per-user course transcripts. Transcript
// fetches fan out over a bounded worker pool, with results applied in input
// order so reruns produce identical audit numbers.
type EnrollmentSyncService struct {
	lms         enrollmentFetcher
	users       enrollmentUserStore
	enrollments enrollmentStore
	courses     courseStore
	runs        syncRunRecorder
	metrics     *MetricsService
	progress    *ProgressBroadcaster
	logger      *zap.Logger

	concurrency    int
	abortThreshold int
	staleness      time.Duration
}

func NewEnrollmentSyncService(lms enrollmentFetcher, users enrollmentUserStore, enrollments enrollmentStore, courses courseStore, runs syncRunRecorder, cfg config.SyncConfig, metrics *MetricsService, progress *ProgressBroadcaster, logger *zap.Logger) *EnrollmentSyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &EnrollmentSyncService{
		lms:            lms,
		users:          users,
		enrollments:    enrollments,
		courses:        courses,
		runs:           runs,
		metrics:        metrics,
		progress:       progress,
		logger:         logger,
		concurrency:    concurrency,
		abortThreshold: cfg.ErrorAbortThreshold,
		staleness:      cfg.EnrollmentStaleness,
	}
}

type transcriptResult struct {
	userID      string
	enrollments []remote.LMSEnrollment
	err         error
}

// Sync refreshes transcripts. Full mode covers every active user;
// incremental mode covers users never synced, active since their last
// transcript sync, stale beyond the staleness window, or recently added to
// a partner group.
func (s *EnrollmentSyncService) Sync(ctx context.Context, groupID string, mode models.SyncMode, session *SessionCache) (models.SyncStats, error) {
	if mode != models.SyncModeFull {
		mode = models.SyncModeIncremental
	}
	stats := models.SyncStats{Type: models.SyncTypeEnrollments, Mode: mode}
	run := &models.SyncRun{GroupID: groupID, Type: models.SyncTypeEnrollments, Mode: mode}
	if err := s.runs.Create(ctx, run); err != nil {
		return stats, appErrors.From(appErrors.ErrInternal, err)
	}
	started := time.Now()

	knownCourses, err := s.mirrorCourses(ctx, session)
	if err != nil {
		_ = s.runs.Fail(ctx, run.ID, err.Error())
		s.metrics.ObserveSyncRun(models.SyncTypeEnrollments, mode, models.SyncRunStatusFailed, time.Since(started))
		return stats, appErrors.From(appErrors.ErrUpstream, err)
	}

	var users []models.LmsUser
	if mode == models.SyncModeFull {
		users, err = s.users.ListActive(ctx)
	} else {
		users, err = s.users.ListForEnrollmentSync(ctx, time.Now().Add(-s.staleness))
	}
	if err != nil {
		_ = s.runs.Fail(ctx, run.ID, err.Error())
		s.metrics.ObserveSyncRun(models.SyncTypeEnrollments, mode, models.SyncRunStatusFailed, time.Since(started))
		return stats, appErrors.From(appErrors.ErrInternal, err)
	}
	stats.Fetched = len(users)

	var successes int
	aborted := false

	// Users are processed in batches of pool size: each batch fetches in
	// parallel, then results are applied sequentially in input order.
	for offset := 0; offset < len(users) && !aborted; offset += s.concurrency {
		end := offset + s.concurrency
		if end > len(users) {
			end = len(users)
		}
		batch := users[offset:end]

		results := make([]transcriptResult, len(batch))
		var wg sync.WaitGroup
		for i, user := range batch {
			wg.Add(1)
			go func(i int, userID string) {
				defer wg.Done()
				enrollments, err := s.lms.FetchUserEnrollments(ctx, userID)
				results[i] = transcriptResult{userID: userID, enrollments: enrollments, err: err}
			}(i, user.ID)
		}
		wg.Wait()

		now := time.Now()
		for _, result := range results {
			switch {
			case remote.IsNotFound(result.err):
				// Learner deleted between the user pass and now. Count it and
				// advance the cursor so the id stops being retried.
				stats.UsersNotFound++
				if err := s.users.SetEnrollmentSynced(ctx, result.userID, now); err != nil {
					stats.RecordError(fmt.Sprintf("user %s: %v", result.userID, err))
				}
			case result.err != nil:
				stats.RecordError(fmt.Sprintf("user %s: %v", result.userID, result.err))
			default:
				if err := s.applyTranscript(ctx, result, knownCourses, &stats); err != nil {
					stats.RecordError(fmt.Sprintf("user %s: %v", result.userID, err))
					continue
				}
				if err := s.users.SetEnrollmentSynced(ctx, result.userID, now); err != nil {
					stats.RecordError(fmt.Sprintf("user %s: %v", result.userID, err))
					continue
				}
				successes++
			}
		}

		if stats.Failed > s.abortThreshold && stats.Failed > successes {
			aborted = true
		}

		if s.progress != nil {
			s.progress.Publish(ProgressEvent{
				GroupID: groupID,
				Type:    models.SyncTypeEnrollments,
				Stage:   "transcripts",
				Current: end,
				Total:   len(users),
			})
		}
	}

	if aborted {
		msg := fmt.Sprintf("aborted after %d errors against %d successes", stats.Failed, successes)
		_ = s.runs.Fail(ctx, run.ID, msg)
		s.metrics.ObserveSyncRun(models.SyncTypeEnrollments, mode, models.SyncRunStatusFailed, time.Since(started))
		s.logger.Error("enrollment sync aborted",
			zap.Int("errors", stats.Failed),
			zap.Int("successes", successes))
		return stats, appErrors.New("SYNC_ABORTED", http.StatusBadGateway, msg)
	}

	detail, _ := json.Marshal(stats)
	if err := s.runs.Complete(ctx, run.ID, stats, detail); err != nil {
		s.logger.Error("failed to record enrollment run completion", zap.Error(err))
	}
	s.metrics.ObserveSyncRun(models.SyncTypeEnrollments, mode, models.SyncRunStatusCompleted, time.Since(started))
	s.metrics.AddSyncRows(models.SyncTypeEnrollments, "upserted", stats.Created+stats.Updated)
	s.logger.Info("enrollment sync finished",
		zap.String("mode", string(mode)),
		zap.Int("users", stats.Fetched),
		zap.Int("transcripts", stats.Created+stats.Updated),
		zap.Int("users_not_found", stats.UsersNotFound),
		zap.Int("failed", stats.Failed))
	return stats, nil
}

// mirrorCourses upserts the course catalog and returns the set of known ids.
// The catalog is cached for the session so repeated chains skip the fetch.
func (s *EnrollmentSyncService) mirrorCourses(ctx context.Context, session *SessionCache) (map[string]struct{}, error) {
	catalog, ok := session.Courses()
	if !ok {
		var err error
		catalog, err = s.lms.FetchCourses(ctx)
		if err != nil {
			return nil, err
		}
		session.SetCourses(catalog)
	}

	known := make(map[string]struct{}, len(catalog))
	for _, course := range catalog {
		if err := s.courses.Upsert(ctx, &models.Course{
			ID:     course.ID,
			Name:   course.Name,
			Code:   course.Code,
			Active: true,
		}); err != nil {
			return nil, err
		}
		known[course.ID] = struct{}{}
	}
	return known, nil
}

func (s *EnrollmentSyncService) applyTranscript(ctx context.Context, result transcriptResult, knownCourses map[string]struct{}, stats *models.SyncStats) error {
	for _, row := range result.enrollments {
		if _, ok := knownCourses[row.CourseID]; !ok {
			// Transcript references a course the catalog fetch missed, most
			// likely retired. Mirror a minimal inactive row so the foreign
			// key holds.
			if err := s.courses.Upsert(ctx, &models.Course{
				ID:     row.CourseID,
				Name:   row.CourseName,
				Code:   row.CourseCode,
				Active: false,
			}); err != nil {
				return err
			}
			knownCourses[row.CourseID] = struct{}{}
		}

		enrollment := &models.Enrollment{
			TranscriptID: row.ID,
			UserID:       result.userID,
			CourseID:     row.CourseID,
			Status:       models.StatusForProgress(row.Percent, row.CompletedAt),
			Percent:      row.Percent,
			Score:        row.Score,
			EnrolledAt:   row.EnrolledAt,
			CompletedAt:  row.CompletedAt,
			ExpiresAt:    row.ExpiresAt,
		}
		if err := s.enrollments.UpsertByTranscript(ctx, enrollment); err != nil {
			return err
		}
		stats.Updated++
	}
	return nil
}
