package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelworks/partner-sync-api/internal/service"
	appErrors "github.com/channelworks/partner-sync-api/pkg/errors"
)

type offboardingServiceStub struct {
	contactErr      error
	partnerErr      error
	batch           service.BatchResult
	contactCalls    []string
	partnerCalls    []string
	batchCalls      [][]string
	partnerContacts []string
}

func (s *offboardingServiceStub) OffboardContact(ctx context.Context, contactID string) error {
	s.contactCalls = append(s.contactCalls, contactID)
	return s.contactErr
}

func (s *offboardingServiceStub) OffboardContacts(ctx context.Context, contactIDs []string) service.BatchResult {
	s.batchCalls = append(s.batchCalls, contactIDs)
	return s.batch
}

func (s *offboardingServiceStub) OffboardPartner(ctx context.Context, partnerID string) error {
	s.partnerCalls = append(s.partnerCalls, partnerID)
	return s.partnerErr
}

func (s *offboardingServiceStub) OffboardPartners(ctx context.Context, partnerIDs []string) service.BatchResult {
	s.partnerCalls = append(s.partnerCalls, partnerIDs...)
	return s.batch
}

func (s *offboardingServiceStub) OffboardPartnerContacts(ctx context.Context, partnerID string) (service.BatchResult, error) {
	s.partnerContacts = append(s.partnerContacts, partnerID)
	return s.batch, nil
}

func TestOffboardContactReturnsNoContent(t *testing.T) {
	svc := &offboardingServiceStub{}
	h := NewOffboardingHandler(svc, nil)

	c, w := newSyncTestContext(t, http.MethodPost, "/api/v1/offboarding/contacts/c-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "c-1"}}

	h.OffboardContact(c)
	c.Writer.WriteHeaderNow()

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"c-1"}, svc.contactCalls)
}

func TestOffboardContactUnknownID(t *testing.T) {
	svc := &offboardingServiceStub{contactErr: appErrors.ErrNotFound}
	h := NewOffboardingHandler(svc, nil)

	c, w := newSyncTestContext(t, http.MethodPost, "/api/v1/offboarding/contacts/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}

	h.OffboardContact(c)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestOffboardContactBatch(t *testing.T) {
	svc := &offboardingServiceStub{batch: service.BatchResult{Succeeded: 2, Failed: 1}}
	h := NewOffboardingHandler(svc, nil)

	body := []byte(`{"ids":["c-1","c-2","c-3"]}`)
	c, w := newSyncTestContext(t, http.MethodPost, "/api/v1/offboarding/contacts", body)

	h.OffboardContactBatch(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, svc.batchCalls, 1)
	assert.Equal(t, []string{"c-1", "c-2", "c-3"}, svc.batchCalls[0])
	assert.Contains(t, w.Body.String(), `"succeeded":2`)
}

func TestOffboardContactBatchRejectsEmptyList(t *testing.T) {
	svc := &offboardingServiceStub{}
	h := NewOffboardingHandler(svc, nil)

	body := []byte(`{"ids":[]}`)
	c, w := newSyncTestContext(t, http.MethodPost, "/api/v1/offboarding/contacts", body)

	h.OffboardContactBatch(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.batchCalls)
}

func TestOffboardPartnerAlone(t *testing.T) {
	svc := &offboardingServiceStub{}
	h := NewOffboardingHandler(svc, nil)

	c, w := newSyncTestContext(t, http.MethodPost, "/api/v1/offboarding/partners/p-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "p-1"}}

	h.OffboardPartner(c)
	c.Writer.WriteHeaderNow()

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"p-1"}, svc.partnerCalls)
	assert.Empty(t, svc.partnerContacts)
}

func TestOffboardPartnerBatch(t *testing.T) {
	svc := &offboardingServiceStub{batch: service.BatchResult{Succeeded: 2}}
	h := NewOffboardingHandler(svc, nil)

	body := []byte(`{"ids":["p-1","p-2"]}`)
	c, w := newSyncTestContext(t, http.MethodPost, "/api/v1/offboarding/partners", body)

	h.OffboardPartnerBatch(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"p-1", "p-2"}, svc.partnerCalls)
}

func TestOffboardPartnerWithContacts(t *testing.T) {
	svc := &offboardingServiceStub{batch: service.BatchResult{Succeeded: 4}}
	h := NewOffboardingHandler(svc, nil)

	c, w := newSyncTestContext(t, http.MethodPost, "/api/v1/offboarding/partners/p-1?contacts=true", nil)
	c.Params = gin.Params{{Key: "id", Value: "p-1"}}

	h.OffboardPartner(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"p-1"}, svc.partnerContacts)
	assert.Equal(t, []string{"p-1"}, svc.partnerCalls)
	assert.Contains(t, w.Body.String(), `"succeeded":4`)
}
