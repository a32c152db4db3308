package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sjsfi/lms/core/subject"
)

type subjectRepository struct {
	db *DB
}

var _ subject.Repository = (*subjectRepository)(nil) // interface compliance check

func NewSubjectRepository(db *DB) *subjectRepository {
	return &subjectRepository{db: db}
}

// Subjects

func (repo *subjectRepository) CreateSubject(_ context.Context, subj subject.Subject) (subject.Subject, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, s := range repo.db.subjects {
		if s.Code == subj.Code {
			return subject.Subject{}, subject.ErrCodeExists
		}
	}
	subj.ID = uuid.New().String()
	repo.db.subjects[subj.ID] = &subj
	return subj, nil
}

func (repo *subjectRepository) QuerySubjects(_ context.Context) ([]subject.Subject, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	subjs := make([]subject.Subject, 0, len(repo.db.subjects))
	for _, s := range repo.db.subjects {
		subjs = append(subjs, *s)
	}
	sort.Slice(subjs, func(i, j int) bool { return subjs[i].Name < subjs[j].Name })
	return subjs, nil
}

func (repo *subjectRepository) GetSubject(_ context.Context, id string) (subject.Subject, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if s, ok := repo.db.subjects[id]; ok {
		return *s, nil
	}
	return subject.Subject{}, subject.ErrSubjectNotFound
}

func (repo *subjectRepository) DeleteSubject(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.subjects[id]; !ok {
		return subject.ErrSubjectNotFound
	}
	delete(repo.db.subjects, id)
	for instID, inst := range repo.db.instances {
		if inst.SubjectID == id {
			repo.deleteInstance(instID)
		}
	}
	return nil
}

// deleteInstance cascades like the foreign keys do. The write lock must be held.
func (repo *subjectRepository) deleteInstance(id string) {
	delete(repo.db.instances, id)
	for key, e := range repo.db.enrolments {
		if e.InstanceID == id {
			delete(repo.db.enrolments, key)
		}
	}
	for reqID, req := range repo.db.requirements {
		if req.InstanceID == id {
			repo.deleteRequirement(reqID)
		}
	}
}

func (repo *subjectRepository) deleteRequirement(id string) {
	delete(repo.db.requirements, id)
	for subID, sub := range repo.db.submissions {
		if sub.RequirementID == id {
			delete(repo.db.submissions, subID)
		}
	}
}

// Instances

func (repo *subjectRepository) CreateInstance(_ context.Context, inst subject.Instance) (subject.Instance, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.subjects[inst.SubjectID]; !ok {
		return subject.Instance{}, subject.ErrSubjectNotFound
	}
	inst.ID = uuid.New().String()
	repo.db.instances[inst.ID] = &inst
	return inst, nil
}

func (repo *subjectRepository) GetInstance(_ context.Context, id string) (subject.Instance, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if inst, ok := repo.db.instances[id]; ok {
		return *inst, nil
	}
	return subject.Instance{}, subject.ErrInstanceNotFound
}

func (repo *subjectRepository) detail(inst subject.Instance) subject.InstanceDetail {
	d := subject.InstanceDetail{Instance: inst}
	if subj, ok := repo.db.subjects[inst.SubjectID]; ok {
		d.SubjectName = subj.Name
		d.SubjectCode = subj.Code
	}
	return d
}

func (repo *subjectRepository) GetInstanceDetail(_ context.Context, id string) (subject.InstanceDetail, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if inst, ok := repo.db.instances[id]; ok {
		return repo.detail(*inst), nil
	}
	return subject.InstanceDetail{}, subject.ErrInstanceNotFound
}

func (repo *subjectRepository) queryInstances(keep func(inst *subject.Instance) bool) []subject.InstanceDetail {
	insts := make([]subject.InstanceDetail, 0)
	for _, inst := range repo.db.instances {
		if keep(inst) {
			insts = append(insts, repo.detail(*inst))
		}
	}
	sort.Slice(insts, func(i, j int) bool { return insts[i].CreatedAt.After(insts[j].CreatedAt) })
	return insts
}

func (repo *subjectRepository) QueryInstancesByCreator(_ context.Context, creatorID string) ([]subject.InstanceDetail, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	return repo.queryInstances(func(inst *subject.Instance) bool {
		return inst.CreatedByID == creatorID
	}), nil
}

func (repo *subjectRepository) QueryAvailableInstances(_ context.Context, userID string) ([]subject.InstanceDetail, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	return repo.queryInstances(func(inst *subject.Instance) bool {
		_, enrolled := repo.db.enrolments[enrolmentKey(userID, inst.ID)]
		return inst.EnrollmentOpen && !enrolled
	}), nil
}

func (repo *subjectRepository) UpdateInstance(_ context.Context, inst subject.Instance) (subject.Instance, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.instances[inst.ID]; !ok {
		return subject.Instance{}, subject.ErrInstanceNotFound
	}
	repo.db.instances[inst.ID] = &inst
	return inst, nil
}

// Requirements

func (repo *subjectRepository) CreateRequirement(_ context.Context, req subject.Requirement) (subject.Requirement, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.instances[req.InstanceID]; !ok {
		return subject.Requirement{}, subject.ErrInstanceNotFound
	}
	last := 0
	for _, r := range repo.db.requirements {
		if r.InstanceID == req.InstanceID && r.Type == req.Type && r.Number > last {
			last = r.Number
		}
	}
	req.ID = uuid.New().String()
	req.Number = last + 1
	repo.db.requirements[req.ID] = &req
	return req, nil
}

func (repo *subjectRepository) GetRequirement(_ context.Context, id string) (subject.Requirement, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if req, ok := repo.db.requirements[id]; ok {
		return *req, nil
	}
	return subject.Requirement{}, subject.ErrRequirementNotFound
}

func (repo *subjectRepository) QueryRequirements(_ context.Context, instanceID string) ([]subject.Requirement, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	reqs := make([]subject.Requirement, 0)
	for _, r := range repo.db.requirements {
		if r.InstanceID == instanceID {
			reqs = append(reqs, *r)
		}
	}
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].Type != reqs[j].Type {
			return reqs[i].Type < reqs[j].Type
		}
		return reqs[i].Number < reqs[j].Number
	})
	return reqs, nil
}

func (repo *subjectRepository) UpdateRequirement(_ context.Context, req subject.Requirement) (subject.Requirement, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.requirements[req.ID]; !ok {
		return subject.Requirement{}, subject.ErrRequirementNotFound
	}
	repo.db.requirements[req.ID] = &req
	return req, nil
}

func (repo *subjectRepository) DeleteRequirement(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.requirements[id]; !ok {
		return subject.ErrRequirementNotFound
	}
	repo.deleteRequirement(id)
	return nil
}

// Submissions

func (repo *subjectRepository) UpsertSubmission(_ context.Context, sub subject.Submission) (subject.Submission, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.requirements[sub.RequirementID]; !ok {
		return subject.Submission{}, subject.ErrRequirementNotFound
	}
	for _, s := range repo.db.submissions {
		if s.RequirementID == sub.RequirementID && s.UserID == sub.UserID {
			if s.Graded {
				return subject.Submission{}, subject.ErrAlreadyGraded
			}
			s.Title = sub.Title
			s.Content = sub.Content
			s.FilePath = sub.FilePath
			s.UpdatedAt = sub.UpdatedAt
			return *s, nil
		}
	}
	sub.ID = uuid.New().String()
	repo.db.submissions[sub.ID] = &sub
	return sub, nil
}

func (repo *subjectRepository) GetSubmission(_ context.Context, requirementID, userID string) (subject.Submission, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, s := range repo.db.submissions {
		if s.RequirementID == requirementID && s.UserID == userID {
			return *s, nil
		}
	}
	return subject.Submission{}, subject.ErrSubmissionNotFound
}

func (repo *subjectRepository) GetSubmissionByID(_ context.Context, id string) (subject.Submission, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if s, ok := repo.db.submissions[id]; ok {
		return *s, nil
	}
	return subject.Submission{}, subject.ErrSubmissionNotFound
}

func (repo *subjectRepository) QuerySubmissions(_ context.Context, requirementID string) ([]subject.Submission, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	subs := make([]subject.Submission, 0)
	for _, s := range repo.db.submissions {
		if s.RequirementID == requirementID {
			subs = append(subs, *s)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.Before(subs[j].CreatedAt) })
	return subs, nil
}

func (repo *subjectRepository) GradeSubmission(_ context.Context, id string, score int, feedback string, at time.Time) (subject.Submission, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	s, ok := repo.db.submissions[id]
	if !ok {
		return subject.Submission{}, subject.ErrSubmissionNotFound
	}
	s.Graded = true
	s.Score = &score
	s.Feedback = feedback
	s.UpdatedAt = at
	return *s, nil
}
