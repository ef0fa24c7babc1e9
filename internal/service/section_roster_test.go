package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sma-adp-registrar/pkg/errors"
)

func TestSectionRosterReserveUntilFull(t *testing.T) {
	db := newMemDB()
	db.addSection(sectionFixture("sec-1", "CS101", "MWF 09:00-10:00", 2))
	roster := NewSectionRoster(memSections{db: db}, nil)
	ctx := context.Background()

	require.NoError(t, roster.TryReserveSeat(ctx, "sec-1"))
	require.NoError(t, roster.TryReserveSeat(ctx, "sec-1"))

	err := roster.TryReserveSeat(ctx, "sec-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrCapacityExceeded))
	assert.Contains(t, err.Error(), "2/2")
	assert.Equal(t, 2, db.section("sec-1").EnrolledCount)
}

func TestSectionRosterConcurrentReservationsNeverOversell(t *testing.T) {
	db := newMemDB()
	db.addSection(sectionFixture("sec-1", "CS101", "MWF 09:00-10:00", 5))
	roster := NewSectionRoster(memSections{db: db}, nil)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, full int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := roster.TryReserveSeat(context.Background(), "sec-1")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, appErrors.ErrCapacityExceeded) {
				full++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, ok)
	assert.Equal(t, 35, full)
	assert.Equal(t, 5, db.section("sec-1").EnrolledCount)
}

func TestSectionRosterReleaseFloorsAtZero(t *testing.T) {
	db := newMemDB()
	db.addSection(sectionFixture("sec-1", "CS101", "MWF 09:00-10:00", 1))
	roster := NewSectionRoster(memSections{db: db}, nil)
	ctx := context.Background()

	require.NoError(t, roster.TryReserveSeat(ctx, "sec-1"))
	require.NoError(t, roster.ReleaseSeat(ctx, "sec-1"))
	require.NoError(t, roster.ReleaseSeat(ctx, "sec-1"))
	assert.Equal(t, 0, db.section("sec-1").EnrolledCount)
}

func TestSectionRosterMissingSection(t *testing.T) {
	roster := NewSectionRoster(memSections{db: newMemDB()}, nil)
	ctx := context.Background()

	err := roster.TryReserveSeat(ctx, "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	err = roster.AssignInstructor(ctx, "missing", "teacher-9")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestSectionRosterAssignInstructor(t *testing.T) {
	db := newMemDB()
	db.addSection(sectionFixture("sec-1", "CS101", "MWF 09:00-10:00", 1))
	roster := NewSectionRoster(memSections{db: db}, nil)
	ctx := context.Background()

	require.NoError(t, roster.AssignInstructor(ctx, "sec-1", "teacher-9"))
	section, err := roster.Get(ctx, "sec-1")
	require.NoError(t, err)
	require.NotNil(t, section.InstructorID)
	assert.Equal(t, "teacher-9", *section.InstructorID)

	require.NoError(t, roster.AssignInstructor(ctx, "sec-1", ""))
	section, err = roster.Get(ctx, "sec-1")
	require.NoError(t, err)
	assert.False(t, section.HasInstructor())
}
