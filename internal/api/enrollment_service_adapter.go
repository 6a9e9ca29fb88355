package api

import "github.com/openreach/trialconsent/internal/services"

type enrollmentStoreAdapter struct {
	store Store
}

func newEnrollmentStoreAdapter(store Store) services.EnrollmentStore {
	return &enrollmentStoreAdapter{store: store}
}

func (a *enrollmentStoreAdapter) GetStudy(id string) (*services.Study, error) {
	return toServiceStudy(a.store.GetStudy(id)), nil
}

func (a *enrollmentStoreAdapter) UpdateStudy(st *services.Study) error {
	return a.store.UpdateStudy(fromServiceStudy(st))
}

func (a *enrollmentStoreAdapter) AddParticipant(p *services.Participant) error {
	return a.store.AddParticipant(&Participant{ID: p.ID, SelfToken: p.SelfToken, CreatedAt: p.CreatedAt})
}

func (a *enrollmentStoreAdapter) GetParticipant(id string) (*services.Participant, error) {
	p := a.store.GetParticipant(id)
	if p == nil {
		return nil, nil
	}
	return &services.Participant{ID: p.ID, SelfToken: p.SelfToken, CreatedAt: p.CreatedAt}, nil
}

func (a *enrollmentStoreAdapter) GetEnrollment(studyID, participantID string) (*services.Enrollment, error) {
	e := a.store.GetEnrollment(studyID, participantID)
	if e == nil {
		return nil, nil
	}
	return &services.Enrollment{StudyID: e.StudyID, ParticipantID: e.ParticipantID, CreatedAt: e.CreatedAt}, nil
}

func (a *enrollmentStoreAdapter) AddEnrollment(e *services.Enrollment) error {
	return a.store.AddEnrollment(&Enrollment{StudyID: e.StudyID, ParticipantID: e.ParticipantID, CreatedAt: e.CreatedAt})
}

func (a *enrollmentStoreAdapter) DeleteEnrollment(studyID, participantID string) (bool, error) {
	return a.store.DeleteEnrollment(studyID, participantID), nil
}

func (a *enrollmentStoreAdapter) ListEnrollments(studyID string) ([]*services.Enrollment, error) {
	rows := a.store.ListEnrollments(studyID)
	out := make([]*services.Enrollment, 0, len(rows))
	for _, e := range rows {
		out = append(out, &services.Enrollment{StudyID: e.StudyID, ParticipantID: e.ParticipantID, CreatedAt: e.CreatedAt})
	}
	return out, nil
}

var _ services.EnrollmentStore = (*enrollmentStoreAdapter)(nil)
