// Package inmemdb holds in-memory repositories, used by tests and local runs without postgres.
// They enforce the same uniqueness constraints as the SQL schema.
package inmemdb

import (
	"sync"

	"github.com/sjsfi/lms/core/enrolment"
	"github.com/sjsfi/lms/core/subject"
	"github.com/sjsfi/lms/core/user"
)

// DB is a set of tables behind a single lock, so that cross-table reads stay consistent.
type DB struct {
	mutex sync.RWMutex

	users        map[string]*user.User
	subjects     map[string]*subject.Subject
	instances    map[string]*subject.Instance
	requirements map[string]*subject.Requirement
	submissions  map[string]*subject.Submission
	enrolments   map[string]*enrolment.Enrolment // by enrolmentKey
}

func Open() *DB {
	return &DB{
		users:        make(map[string]*user.User),
		subjects:     make(map[string]*subject.Subject),
		instances:    make(map[string]*subject.Instance),
		requirements: make(map[string]*subject.Requirement),
		submissions:  make(map[string]*subject.Submission),
		enrolments:   make(map[string]*enrolment.Enrolment),
	}
}

// Reset empties every table.
func (db *DB) Reset() {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	db.users = make(map[string]*user.User)
	db.subjects = make(map[string]*subject.Subject)
	db.instances = make(map[string]*subject.Instance)
	db.requirements = make(map[string]*subject.Requirement)
	db.submissions = make(map[string]*subject.Submission)
	db.enrolments = make(map[string]*enrolment.Enrolment)
}

func enrolmentKey(userID, instanceID string) string {
	return userID + "/" + instanceID
}
