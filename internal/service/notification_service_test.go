package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-registrar/internal/models"
	appErrors "github.com/noah-isme/sma-adp-registrar/pkg/errors"
	"github.com/noah-isme/sma-adp-registrar/pkg/jobs"
)

func newTestNotifications(db *memDB, cacheSvc *CacheService) (*NotificationService, *MetricsService) {
	metrics := NewMetricsService()
	return NewNotificationService(memNotifications{db: db}, cacheSvc, metrics, validator.New(), zap.NewNop(), time.Minute), metrics
}

func TestNotificationServiceSendValidation(t *testing.T) {
	svc, _ := newTestNotifications(newMemDB(), nil)
	ctx := context.Background()

	cases := []SendNotificationRequest{
		{RecipientType: "PARENT", Title: "t", Message: "m"},
		{RecipientType: "STUDENT", Title: "", Message: "m"},
		{RecipientType: "STUDENT", Title: "t", Message: "   "},
		{RecipientType: "ALL", RecipientID: "stu-1", Title: "t", Message: "m"},
	}
	for _, req := range cases {
		_, err := svc.Send(ctx, "teacher-1", req)
		assert.True(t, errors.Is(err, appErrors.ErrSend), "%+v", req)
	}
}

func TestNotificationServiceSendNormalisesBroadcast(t *testing.T) {
	db := newMemDB()
	svc, metrics := newTestNotifications(db, nil)

	n, err := svc.Send(context.Background(), "teacher-1", SendNotificationRequest{RecipientType: "student", RecipientID: "0", Title: "Quiz", Message: "Quiz on Friday"})
	require.NoError(t, err)
	assert.Equal(t, models.RecipientStudent, n.RecipientType)
	assert.True(t, n.Broadcast())
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.notifications.WithLabelValues("STUDENT")))
}

func TestNotificationServiceFeedMatching(t *testing.T) {
	db := newMemDB()
	svc, _ := newTestNotifications(db, nil)
	ctx := context.Background()
	send := func(rt, rid, title string) {
		_, err := svc.Send(ctx, "admin-1", SendNotificationRequest{RecipientType: rt, RecipientID: rid, Title: title, Message: title + " body"})
		require.NoError(t, err)
	}
	send("ALL", "", "everyone")
	send("STUDENT", "", "all students")
	send("STUDENT", "stu-1", "only stu-1")
	send("STUDENT", "stu-2", "only stu-2")
	send("INSTRUCTOR", "", "all instructors")

	feed, err := svc.FetchRecentForUser(ctx, "stu-1", models.RoleStudent, 0)
	require.NoError(t, err)
	titles := make([]string, len(feed))
	for i, n := range feed {
		titles[i] = n.Title
	}
	assert.ElementsMatch(t, []string{"everyone", "all students", "only stu-1"}, titles)

	feed, err = svc.FetchRecentForUser(ctx, "teacher-1", models.RoleTeacher, 0)
	require.NoError(t, err)
	assert.Len(t, feed, 2)

	feed, err = svc.FetchRecentForUser(ctx, "admin-1", models.RoleAdmin, 0)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, "everyone", feed[0].Title)
}

func TestNotificationServiceDedup(t *testing.T) {
	db := newMemDB()
	svc, _ := newTestNotifications(db, nil)
	store := memNotifications{db: db}
	at := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)

	store.insertRaw(models.Notification{ID: "n-1", RecipientType: models.RecipientAll, Title: "Exam", Message: "Room B201", CreatedAt: at})
	store.insertRaw(models.Notification{ID: "n-1", RecipientType: models.RecipientAll, Title: "Exam", Message: "Room B201", CreatedAt: at})
	store.insertRaw(models.Notification{ID: "n-2", RecipientType: models.RecipientAll, Title: "Exam", Message: "Room B201", CreatedAt: at})
	store.insertRaw(models.Notification{ID: "n-3", RecipientType: models.RecipientAll, Title: "Exam", Message: "Room B201", CreatedAt: at.Add(time.Minute)})

	feed, err := svc.FetchRecentForUser(context.Background(), "stu-1", models.RoleStudent, 10)
	require.NoError(t, err)
	require.Len(t, feed, 2)
	assert.Equal(t, "n-3", feed[0].ID)
	assert.Equal(t, "n-1", feed[1].ID)
}

func TestNotificationServiceLimitBounds(t *testing.T) {
	db := newMemDB()
	svc, _ := newTestNotifications(db, nil)
	store := memNotifications{db: db}
	base := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 130; i++ {
		store.insertRaw(models.Notification{
			ID:            "n-" + time.Duration(i).String(),
			RecipientType: models.RecipientAll,
			Title:         "t",
			Message:       time.Duration(i).String(),
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		})
	}

	feed, err := svc.FetchRecentForUser(context.Background(), "stu-1", models.RoleStudent, 0)
	require.NoError(t, err)
	assert.Len(t, feed, defaultNotificationLimit)

	feed, err = svc.FetchRecentForUser(context.Background(), "stu-1", models.RoleStudent, 500)
	require.NoError(t, err)
	assert.Len(t, feed, maxNotificationLimit)
	assert.True(t, feed[0].CreatedAt.After(feed[1].CreatedAt))
}

func TestNotificationServiceFetchFailureIsAnError(t *testing.T) {
	db := newMemDB()
	db.notificationsErr = errors.New("db down")
	svc, _ := newTestNotifications(db, nil)

	feed, err := svc.FetchRecentForUser(context.Background(), "stu-1", models.RoleStudent, 10)
	require.Error(t, err)
	assert.Nil(t, feed)
	assert.True(t, appErrors.IsInternal(err))
}

func TestNotificationServiceFeedCacheInvalidatedOnSend(t *testing.T) {
	db := newMemDB()
	metrics := NewMetricsService()
	cacheSvc := NewCacheService(newMemoryCache(), metrics, time.Minute, zap.NewNop(), true)
	svc := NewNotificationService(memNotifications{db: db}, cacheSvc, metrics, nil, nil, time.Minute)
	ctx := context.Background()

	feed, err := svc.FetchRecentForUser(ctx, "stu-1", models.RoleStudent, 10)
	require.NoError(t, err)
	assert.Empty(t, feed)

	_, err = svc.Send(ctx, "admin-1", SendNotificationRequest{RecipientType: "ALL", Title: "Hello", Message: "World"})
	require.NoError(t, err)

	feed, err = svc.FetchRecentForUser(ctx, "stu-1", models.RoleStudent, 10)
	require.NoError(t, err)
	assert.Len(t, feed, 1)
}

func TestNotificationServiceGradesFinalizedJobIsIdempotent(t *testing.T) {
	db := newMemDB()
	svc, _ := newTestNotifications(db, nil)
	ctx := context.Background()
	job := jobs.Job{Type: JobGradesFinalized, Payload: GradesFinalizedPayload{
		SectionID:  "sec-1",
		CourseCode: "CS101",
		SenderID:   "teacher-1",
		Grades: []StudentGrade{
			{EnrollmentID: "enr-1", StudentID: "stu-1", Letter: "A"},
			{EnrollmentID: "enr-2", StudentID: "stu-2", Letter: "B-"},
		},
	}}

	require.NoError(t, svc.HandleGradesFinalized(ctx, job))
	require.NoError(t, svc.HandleGradesFinalized(ctx, job))

	feed, err := svc.FetchRecentForUser(ctx, "stu-1", models.RoleStudent, 10)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Contains(t, feed[0].Message, "is A.")

	err = svc.HandleGradesFinalized(ctx, jobs.Job{Type: JobGradesFinalized, Payload: "bogus"})
	assert.Error(t, err)
}
