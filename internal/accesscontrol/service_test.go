package accesscontrol

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Journal,AuditPublisher

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"certreg/internal/accesscontrol/metrics"
	"certreg/internal/accesscontrol/mocks"
	"certreg/internal/accesscontrol/models"
	id "certreg/pkg/domain"
	dErrors "certreg/pkg/domain-errors"
	audit "certreg/pkg/platform/audit"
	"certreg/pkg/requestcontext"
)

const (
	admin    = id.Identity("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	orgA     = id.Identity("0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359")
	orgB     = id.Identity("0xdbf03b407c01e7cd3cbea99509d93f8dddc8c6fb")
	stranger = id.Identity("0xd1220a0cf47c7b9be7a2e6ba89f429762e7b9adb")
)

var fixedNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type ServiceSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	journal   *mocks.MockJournal
	publisher *mocks.MockAuditPublisher
	metrics   *metrics.Metrics
	service   *Service
	ctx       context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.journal = mocks.NewMockJournal(s.ctrl)
	s.publisher = mocks.NewMockAuditPublisher(s.ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())

	svc, err := New(admin,
		WithJournal(s.journal),
		WithAuditPublisher(s.publisher),
		WithMetrics(s.metrics),
	)
	s.Require().NoError(err)
	s.service = svc
	s.ctx = requestcontext.WithTime(context.Background(), fixedNow)
}

func (s *ServiceSuite) TestNew() {
	s.Run("rejects null administrator", func() {
		_, err := New(id.ZeroIdentity)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidIdentity))

		_, err = New("")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidIdentity))
	})

	s.Run("owner is fixed", func() {
		s.Equal(admin, s.service.Owner())
	})
}

func (s *ServiceSuite) TestApprove() {
	s.Run("admin approval is journaled then applied", func() {
		want := models.ApprovalChange{Organization: orgA, Approved: true, Actor: admin, At: fixedNow}
		gomock.InOrder(
			s.journal.EXPECT().AppendApproval(gomock.Any(), want).Return(nil),
			s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, e audit.Event) error {
					s.Equal(string(audit.EventOrganizationApproved), e.Action)
					s.Equal(orgA.String(), e.Subject)
					s.Equal(admin.String(), e.ActorID)
					return nil
				}),
		)

		s.Require().NoError(s.service.Approve(s.ctx, admin, orgA))
		s.True(s.service.IsApproved(orgA))
		s.Equal(1, s.service.ApprovedCount())

		status := s.service.Organization(orgA)
		s.Equal(fixedNow, status.ChangedAt)
		s.Equal(admin, status.ChangedBy)
		s.Equal(1.0, promtest.ToFloat64(s.metrics.ApprovedOrganizations))
	})

	s.Run("approving again is a no-op and not journaled", func() {
		s.Require().NoError(s.service.Approve(s.ctx, admin, orgA))
		s.True(s.service.IsApproved(orgA))
		s.Equal(1.0, promtest.ToFloat64(s.metrics.ApprovalChanges.WithLabelValues("approve")))
	})
}

func (s *ServiceSuite) TestUnauthorized() {
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e audit.Event) error {
			s.Equal(string(audit.EventUnauthorizedAttempt), e.Action)
			s.Equal("denied", e.Decision)
			return nil
		}).Times(4)

	s.Run("non-admin cannot approve", func() {
		err := s.service.Approve(s.ctx, stranger, orgA)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		s.False(s.service.IsApproved(orgA))
	})

	s.Run("non-admin cannot revoke", func() {
		err := s.service.Revoke(s.ctx, stranger, orgA)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("unauthorized takes precedence over invalid identity", func() {
		err := s.service.Approve(s.ctx, stranger, id.ZeroIdentity)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("anonymous caller is unauthorized", func() {
		err := s.service.Approve(s.ctx, "", orgA)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Equal(4.0, promtest.ToFloat64(s.metrics.Unauthorized))
}

func (s *ServiceSuite) TestInvalidIdentity() {
	err := s.service.Approve(s.ctx, admin, id.ZeroIdentity)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidIdentity))

	err = s.service.Revoke(s.ctx, admin, "")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidIdentity))
}

func (s *ServiceSuite) TestRevoke() {
	s.journal.EXPECT().AppendApproval(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	s.Require().NoError(s.service.Approve(s.ctx, admin, orgA))
	s.Require().NoError(s.service.Revoke(s.ctx, admin, orgA))
	s.False(s.service.IsApproved(orgA))
	s.Equal(0, s.service.ApprovedCount())

	s.Run("revoking an unapproved organization is a no-op", func() {
		s.Require().NoError(s.service.Revoke(s.ctx, admin, orgA))
		s.Require().NoError(s.service.Revoke(s.ctx, admin, orgB))
	})
}

func (s *ServiceSuite) TestJournalFailureLeavesStateUnchanged() {
	s.journal.EXPECT().AppendApproval(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

	err := s.service.Approve(s.ctx, admin, orgA)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.False(s.service.IsApproved(orgA))
	s.Equal(0, s.service.ApprovedCount())
}

func (s *ServiceSuite) TestAuditFailureDoesNotFailTheOperation() {
	s.journal.EXPECT().AppendApproval(gomock.Any(), gomock.Any()).Return(nil)
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("sink down"))

	s.Require().NoError(s.service.Approve(s.ctx, admin, orgA))
	s.True(s.service.IsApproved(orgA))
}

func (s *ServiceSuite) TestRestore() {
	s.Run("replays changes without journaling", func() {
		s.Require().NoError(s.service.Restore(models.ApprovalChange{Organization: orgA, Approved: true, Actor: admin, At: fixedNow}))
		s.Require().NoError(s.service.Restore(models.ApprovalChange{Organization: orgB, Approved: true, Actor: admin, At: fixedNow}))
		s.Require().NoError(s.service.Restore(models.ApprovalChange{Organization: orgA, Approved: false, Actor: admin, At: fixedNow}))

		s.False(s.service.IsApproved(orgA))
		s.True(s.service.IsApproved(orgB))
		s.Equal(1, s.service.ApprovedCount())
	})

	s.Run("rejects changes made by someone else", func() {
		err := s.service.Restore(models.ApprovalChange{Organization: orgA, Approved: true, Actor: stranger, At: fixedNow})
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func TestConcurrentApprovalsAreLinearizable(t *testing.T) {
	svc, err := New(admin)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = svc.Approve(ctx, admin, orgA)
			} else {
				_ = svc.Revoke(ctx, admin, orgA)
			}
			_ = svc.IsApproved(orgA)
		}(i)
	}
	wg.Wait()

	_ = svc.Approve(ctx, admin, orgB)
	if got := svc.ApprovedCount(); got < 1 || got > 2 {
		t.Fatalf("approved count out of range: %d", got)
	}
}

func (s *ServiceSuite) TestCancelledRequestStillJournals() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	s.journal.EXPECT().AppendApproval(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ models.ApprovalChange) error {
			return ctx.Err()
		})
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

	s.Require().NoError(s.service.Approve(ctx, admin, orgA))
	s.True(s.service.IsApproved(orgA))
}

func (s *ServiceSuite) TestRejectedChangeLogsAuditFailure() {
	var buf bytes.Buffer
	svc, err := New(admin,
		WithJournal(s.journal),
		WithAuditPublisher(s.publisher),
		WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))),
	)
	s.Require().NoError(err)
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("sink down"))

	err = svc.Revoke(s.ctx, stranger, orgA)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Contains(buf.String(), "audit publish failed")
	s.Contains(buf.String(), "sink down")
}
