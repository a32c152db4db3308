package inmemdb

import (
	"context"
	"net/mail"
	"sort"

	"github.com/google/uuid"

	"github.com/sjsfi/lms/core/enrolment"
	"github.com/sjsfi/lms/core/subject"
)

type enrolmentRepository struct {
	db *DB
}

var (
	_ enrolment.Repository = (*enrolmentRepository)(nil) // interface compliance check
	_ subject.Enrolments   = (*enrolmentRepository)(nil)
)

func NewEnrolmentRepository(db *DB) *enrolmentRepository {
	return &enrolmentRepository{db: db}
}

func (repo *enrolmentRepository) EnrolmentExists(_ context.Context, userID, instanceID string) (bool, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	_, ok := repo.db.enrolments[enrolmentKey(userID, instanceID)]
	return ok, nil
}

func (repo *enrolmentRepository) CreateEnrolment(_ context.Context, e enrolment.Enrolment) (enrolment.Enrolment, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.instances[e.InstanceID]; !ok {
		return enrolment.Enrolment{}, subject.ErrInstanceNotFound
	}
	key := enrolmentKey(e.UserID, e.InstanceID)
	if _, ok := repo.db.enrolments[key]; ok {
		return enrolment.Enrolment{}, enrolment.ErrAlreadyEnrolled
	}
	e.ID = uuid.New().String()
	repo.db.enrolments[key] = &e
	return e, nil
}

func (repo *enrolmentRepository) QueryEnrolled(_ context.Context, userID string) ([]enrolment.EnrolledInstance, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	list := make([]enrolment.EnrolledInstance, 0)
	for _, e := range repo.db.enrolments {
		if e.UserID != userID {
			continue
		}
		inst, ok := repo.db.instances[e.InstanceID]
		if !ok {
			continue
		}
		d := subject.InstanceDetail{Instance: *inst}
		if subj, ok := repo.db.subjects[inst.SubjectID]; ok {
			d.SubjectName = subj.Name
			d.SubjectCode = subj.Code
		}
		list = append(list, enrolment.EnrolledInstance{Enrolment: *e, Instance: d})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Enrolment.CreatedAt.After(list[j].Enrolment.CreatedAt)
	})
	return list, nil
}

func (repo *enrolmentRepository) ClearNewContent(_ context.Context, userID, instanceID string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	e, ok := repo.db.enrolments[enrolmentKey(userID, instanceID)]
	if !ok {
		return enrolment.ErrNotEnrolled
	}
	e.HasNewContent = false
	return nil
}

func (repo *enrolmentRepository) MarkNewContent(_ context.Context, instanceID string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, e := range repo.db.enrolments {
		if e.InstanceID == instanceID {
			e.HasNewContent = true
		}
	}
	return nil
}

func (repo *enrolmentRepository) QueryEnrolledAddresses(_ context.Context, instanceID string) ([]mail.Address, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	addrs := make([]mail.Address, 0)
	for _, e := range repo.db.enrolments {
		if e.InstanceID == instanceID {
			addrs = append(addrs, mail.Address{Name: e.FullName, Address: e.Email})
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Address < addrs[j].Address })
	return addrs, nil
}
