package api

import "github.com/openreach/trialconsent/internal/services"

func toServiceStudy(st *Study) *services.Study {
	if st == nil {
		return nil
	}
	return &services.Study{
		ID:                   st.ID,
		Slug:                 st.Slug,
		OwnerID:              st.OwnerID,
		Title:                st.Title,
		Summary:              st.Summary,
		Purpose:              st.Purpose,
		Contact:              st.Contact,
		Status:               st.Status,
		JoinCode:             st.JoinCode,
		RetentionDefaultDays: st.RetentionDefaultDays,
		CreatedAt:            st.CreatedAt,
	}
}

func fromServiceStudy(st *services.Study) *Study {
	if st == nil {
		return nil
	}
	return &Study{
		ID:                   st.ID,
		Slug:                 st.Slug,
		OwnerID:              st.OwnerID,
		Title:                st.Title,
		Summary:              st.Summary,
		Purpose:              st.Purpose,
		Contact:              st.Contact,
		Status:               st.Status,
		JoinCode:             st.JoinCode,
		RetentionDefaultDays: st.RetentionDefaultDays,
		CreatedAt:            st.CreatedAt,
	}
}

func toServiceCategory(c *DataCategory) *services.DataCategory {
	if c == nil {
		return nil
	}
	return &services.DataCategory{
		ID:            c.ID,
		StudyID:       c.StudyID,
		Name:          c.Name,
		Description:   c.Description,
		Required:      c.Required,
		RetentionDays: c.RetentionDays,
		CreatedAt:     c.CreatedAt,
	}
}

func fromServiceCategory(c *services.DataCategory) *DataCategory {
	if c == nil {
		return nil
	}
	return &DataCategory{
		ID:            c.ID,
		StudyID:       c.StudyID,
		Name:          c.Name,
		Description:   c.Description,
		Required:      c.Required,
		RetentionDays: c.RetentionDays,
		CreatedAt:     c.CreatedAt,
	}
}

func toServiceCategories(cats []*DataCategory) []*services.DataCategory {
	out := make([]*services.DataCategory, 0, len(cats))
	for _, c := range cats {
		out = append(out, toServiceCategory(c))
	}
	return out
}

func toServiceConsent(c *Consent) *services.Consent {
	if c == nil {
		return nil
	}
	return &services.Consent{
		ID:            c.ID,
		StudyID:       c.StudyID,
		ParticipantID: c.ParticipantID,
		Version:       c.Version,
		Granted:       c.Granted,
		WithdrawnAt:   c.WithdrawnAt,
		ReceiptHash:   c.ReceiptHash,
		ReceiptJSON:   c.ReceiptJSON,
		CreatedAt:     c.CreatedAt,
	}
}

func toServiceConsents(cs []*Consent) []*services.Consent {
	out := make([]*services.Consent, 0, len(cs))
	for _, c := range cs {
		out = append(out, toServiceConsent(c))
	}
	return out
}

func toServiceAudit(e *AuditEntry) *services.AuditEntry {
	if e == nil {
		return nil
	}
	return &services.AuditEntry{
		ID:        e.ID,
		StudyID:   e.StudyID,
		ActorRole: e.ActorRole,
		ActorID:   e.ActorID,
		Action:    e.Action,
		Details:   e.Details,
		PrevHash:  e.PrevHash,
		EntryHash: e.EntryHash,
		CreatedAt: e.CreatedAt,
	}
}

func fromServiceAudit(e *services.AuditEntry) *AuditEntry {
	if e == nil {
		return nil
	}
	return &AuditEntry{
		ID:        e.ID,
		StudyID:   e.StudyID,
		ActorRole: e.ActorRole,
		ActorID:   e.ActorID,
		Action:    e.Action,
		Details:   e.Details,
		PrevHash:  e.PrevHash,
		EntryHash: e.EntryHash,
		CreatedAt: e.CreatedAt,
	}
}
