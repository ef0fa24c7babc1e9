package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-adp-registrar/internal/models"
)

var sectionRowColumns = []string{"id", "course_code", "course_title", "credits", "day_time", "room", "capacity", "enrolled_count", "instructor_id", "semester", "year"}

func TestSectionRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM sections s WHERE s.id = $1")).
		WithArgs("sec-1").
		WillReturnRows(sqlmock.NewRows(sectionRowColumns).
			AddRow("sec-1", "CS101", "Intro to CS", 3, "MWF 09:00-10:00", "B201", 30, 12, "t-1", "GANJIL", 2025))

	section, err := repo.FindByID(context.Background(), "sec-1")
	require.NoError(t, err)
	assert.Equal(t, "CS101", section.CourseCode)
	assert.Equal(t, 18, section.SeatsAvailable())
	require.NotNil(t, section.InstructorID)
	assert.Equal(t, "t-1", *section.InstructorID)
}

func TestSectionRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM sections s WHERE s.id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestSectionRepositoryIncrementEnrolled(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	stmt := regexp.QuoteMeta("UPDATE sections SET enrolled_count = enrolled_count + 1 WHERE id = $1 AND enrolled_count < capacity")
	mock.ExpectExec(stmt).WithArgs("sec-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(stmt).WithArgs("sec-1").WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.IncrementEnrolled(context.Background(), "sec-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.IncrementEnrolled(context.Background(), "sec-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSectionRepositoryDecrementEnrolled(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("GREATEST(enrolled_count - 1, 0)")).
		WithArgs("sec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.DecrementEnrolled(context.Background(), "sec-1"))
}

func TestSectionRepositoryUpdateInstructor(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sections SET instructor_id = $2 WHERE id = $1")).
		WithArgs("sec-1", "t-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sections SET instructor_id = $2 WHERE id = $1")).
		WithArgs("ghost", nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.UpdateInstructor(context.Background(), "sec-1", strPtr("t-2")))
	err := repo.UpdateInstructor(context.Background(), "ghost", nil)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestSectionRepositoryListActiveByStudent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	mock.ExpectQuery("JOIN enrollments e ON e.section_id = s.id").
		WithArgs("stu-1", models.EnrollmentStatusActive).
		WillReturnRows(sqlmock.NewRows(sectionRowColumns).
			AddRow("sec-1", "CS101", "Intro to CS", 3, "MWF 09:00-10:00", "B201", 30, 12, nil, "GANJIL", 2025))

	sections, err := repo.ListActiveByStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.False(t, sections[0].HasInstructor())
}

func TestSectionRepositoryListActiveStudentIDs(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT student_id FROM enrollments WHERE section_id = $1 AND status = $2")).
		WithArgs("sec-1", models.EnrollmentStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}).AddRow("stu-1").AddRow("stu-2"))

	ids, err := repo.ListActiveStudentIDs(context.Background(), "sec-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"stu-1", "stu-2"}, ids)
}
