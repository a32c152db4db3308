package sqlxrepos_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjsfi/lms/core"
	"github.com/sjsfi/lms/core/access"
	"github.com/sjsfi/lms/core/enrolment"
	"github.com/sjsfi/lms/core/subject"
	"github.com/sjsfi/lms/core/user"
	"github.com/sjsfi/lms/storage/database"
	sqlxrepos "github.com/sjsfi/lms/storage/database/sqlx"
	"github.com/sjsfi/lms/tests"
)

// openDB connects to the database configured for the TEST env, when LMS_TEST_DATABASE is set.
func openDB(t *testing.T) *sqlx.DB {
	if os.Getenv("LMS_TEST_DATABASE") == "" {
		t.Skip("LMS_TEST_DATABASE not set")
	}
	ctx := context.Background()
	conf := core.NewTestConfig()
	require.NoError(t, database.CreateIfNotExist(ctx, conf))
	db, err := database.Open(ctx, conf)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db.DB))
	_, err = db.ExecContext(ctx, `TRUNCATE lms_user, subject CASCADE`)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type repos struct {
	users      user.Repository
	subjects   subject.Repository
	enrolments enrolment.Repository
}

func setup(t *testing.T) repos {
	db := openDB(t)
	return repos{
		users:      sqlxrepos.NewUserRepository(db),
		subjects:   sqlxrepos.NewSubjectRepository(db),
		enrolments: sqlxrepos.NewEnrolmentRepository(db),
	}
}

func TestUserRepository(t *testing.T) {
	r := setup(t)
	ctx := context.Background()

	usr := testutil.CreateUser(t, r.users, "Juan", "juan@sjsfi.edu.ph", "password1", access.RoleStudent, true)
	assert.NoError(t, usr.CheckPassword("password1"))

	_, err := r.users.CreateUser(ctx, user.User{Name: "Dup", Email: "juan@sjsfi.edu.ph", CreatedAt: time.Now(), UpdatedAt: time.Now()})
	assert.Equal(t, user.ErrEmailExists, err)

	_, err = r.users.GetUserByID(ctx, "not-a-uuid")
	assert.Equal(t, user.ErrNotFound, err)

	profile := testutil.ActiveProfile("Juan Dela Cruz", "juan@sjsfi.edu.ph")
	got, err := r.users.SetUserProfile(ctx, usr.ID, profile, time.Now())
	require.NoError(t, err)
	assert.Equal(t, profile, got.Profile)

	got, err = r.users.SetUserRole(ctx, usr.ID, access.RoleFaculty, time.Now())
	require.NoError(t, err)
	assert.Equal(t, access.RoleFaculty, got.Role)

	testutil.CreateUser(t, r.users, "Admin", "admin@sjsfi.edu.ph", "", access.RoleAdmin, false)
	users, err := r.users.FilterUsers(ctx, user.QueryFilter{Search: "SJSFI", Roles: []string{"admin"}})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "admin@sjsfi.edu.ph", users[0].Email)
}

func TestEnrolmentRepository_CreateEnrolment(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	enrolments := r.enrolments

	teacher := testutil.CreateUser(t, r.users, "Teacher", "teacher@sjsfi.edu.ph", "", access.RoleFaculty, true)
	student := testutil.CreateStudent(t, r.users, "Juan", "juan@sjsfi.edu.ph", testutil.ActiveProfile("Juan", "juan@sjsfi.edu.ph"))
	inst := testutil.CreateInstance(t, r.subjects, "MATH", teacher.ID, 4821)

	e := enrolment.Enrolment{
		UserID: student.ID, InstanceID: inst.ID, FullName: "Juan", Email: "juan@sjsfi.edu.ph",
		GradeLevel: "7", Status: "active", CreatedAt: time.Now(),
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		conflict int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := enrolments.CreateEnrolment(ctx, e)
			mu.Lock()
			defer mu.Unlock()
			switch err {
			case nil:
				created++
			case enrolment.ErrAlreadyEnrolled:
				conflict++
			default:
				t.Errorf("CreateEnrolment() unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
	assert.Equal(t, 7, conflict)

	exists, err := enrolments.EnrolmentExists(ctx, student.ID, inst.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	e.InstanceID = "0b7c7a4e-6c43-4f55-9a36-0d5d4a1f0000"
	_, err = enrolments.CreateEnrolment(ctx, e)
	assert.Equal(t, subject.ErrInstanceNotFound, err)

	list, err := enrolments.QueryEnrolled(ctx, student.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "MATH subject", list[0].Instance.SubjectName)
	assert.Equal(t, 4821, list[0].Instance.EnrolmentCode)

	require.NoError(t, enrolments.MarkNewContent(ctx, inst.ID))
	list, _ = enrolments.QueryEnrolled(ctx, student.ID)
	assert.True(t, list[0].Enrolment.HasNewContent)
	require.NoError(t, enrolments.ClearNewContent(ctx, student.ID, inst.ID))
	assert.Equal(t, enrolment.ErrNotEnrolled, enrolments.ClearNewContent(ctx, teacher.ID, inst.ID))
}

func TestSubjectRepository_requirements(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	now := time.Now()

	teacher := testutil.CreateUser(t, r.users, "Teacher", "teacher@sjsfi.edu.ph", "", access.RoleFaculty, true)
	student := testutil.CreateUser(t, r.users, "Juan", "juan@sjsfi.edu.ph", "", access.RoleStudent, true)
	inst := testutil.CreateInstance(t, r.subjects, "SCI", teacher.ID, 1234)

	_, err := r.subjects.CreateSubject(ctx, subject.Subject{Name: "Again", Code: "SCI", CreatedAt: now})
	assert.Equal(t, subject.ErrCodeExists, err)

	create := func(typ string) subject.Requirement {
		req, err := r.subjects.CreateRequirement(ctx, subject.Requirement{
			InstanceID: inst.ID, Title: typ, ScoreBase: 10, Type: typ, CreatedByID: teacher.ID, CreatedAt: now,
		})
		require.NoError(t, err)
		return req
	}
	q1, a1, q2 := create(subject.TypeQuiz), create(subject.TypeAssignment), create(subject.TypeQuiz)
	assert.Equal(t, 1, q1.Number)
	assert.Equal(t, 1, a1.Number)
	assert.Equal(t, 2, q2.Number)

	reqs, err := r.subjects.QueryRequirements(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	assert.Equal(t, []string{a1.ID, q1.ID, q2.ID}, []string{reqs[0].ID, reqs[1].ID, reqs[2].ID})

	// deleting a requirement frees no number
	act1, act2 := create(subject.TypeActivity), create(subject.TypeActivity)
	require.NoError(t, r.subjects.DeleteRequirement(ctx, act1.ID))
	act3 := create(subject.TypeActivity)
	assert.Equal(t, 2, act2.Number)
	assert.Equal(t, 3, act3.Number)

	sub, err := r.subjects.UpsertSubmission(ctx, subject.Submission{
		RequirementID: q1.ID, UserID: student.ID, Title: "v1", CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	again, err := r.subjects.UpsertSubmission(ctx, subject.Submission{
		RequirementID: q1.ID, UserID: student.ID, Title: "v2", CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, sub.ID, again.ID)
	assert.Equal(t, "v2", again.Title)

	graded, err := r.subjects.GradeSubmission(ctx, sub.ID, 8, "ok", now)
	require.NoError(t, err)
	assert.True(t, graded.Graded)
	require.NotNil(t, graded.Score)
	assert.Equal(t, 8, *graded.Score)

	_, err = r.subjects.UpsertSubmission(ctx, subject.Submission{
		RequirementID: q1.ID, UserID: student.ID, Title: "v3", CreatedAt: now, UpdatedAt: now,
	})
	assert.Equal(t, subject.ErrAlreadyGraded, err)

	require.NoError(t, r.subjects.DeleteRequirement(ctx, q1.ID))
	_, err = r.subjects.GetSubmissionByID(ctx, sub.ID)
	assert.Equal(t, subject.ErrSubmissionNotFound, err)
	assert.Equal(t, subject.ErrRequirementNotFound, r.subjects.DeleteRequirement(ctx, "lol"))
}
