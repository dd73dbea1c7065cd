package service

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/holee9/plm-system-web-sub001/internal/plm/apperror"
	"github.com/holee9/plm-system-web-sub001/internal/plm/entity"
	"github.com/holee9/plm-system-web-sub001/internal/plm/repository"
	"github.com/holee9/plm-system-web-sub001/internal/plm/testutil"
)

func setupChangeOrderTest(t *testing.T) (*gorm.DB, *ChangeOrderService) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	svc := NewChangeOrderService(repos.ChangeOrder, repos.Part, repos.Project, repos.User, repos.BOM, testutil.SetupTestRedis())

	testutil.SeedTestUser(t, db, "requester", "Rita Requester", "rita@test.com")
	testutil.SeedTestUser(t, db, "approver-1", "Adam Approver", "adam@test.com")
	testutil.SeedTestUser(t, db, "approver-2", "Beth Approver", "beth@test.com")
	testutil.SeedTestProject(t, db, "proj-001", "PRJ-001", "Test Project", "requester")
	testutil.SeedTestPart(t, db, "part-001", "proj-001", "PN-1000", "Main Assembly", "requester")
	return db, svc
}

func newOrderRequest(approvers ...string) *CreateChangeOrderRequest {
	return &CreateChangeOrderRequest{
		ProjectID:       "proj-001",
		Type:            entity.ChangeOrderTypeECN,
		Title:           "Replace fastener on main assembly",
		Description:     "Switch M3 screws to M4 for improved torque retention.",
		Reason:          "Field failures under vibration",
		ApproverIDs:     approvers,
		AffectedPartIDs: []string{"part-001"},
	}
}

func TestChangeOrderCreateAssignsSequentialNumbers(t *testing.T) {
	_, svc := setupChangeOrderTest(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, "requester", newOrderRequest("approver-1"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if first.Number != "001" {
		t.Errorf("first ECN should be 001, got %s", first.Number)
	}
	if first.Status != entity.ChangeOrderStatusDraft {
		t.Errorf("new order should be draft, got %s", first.Status)
	}
	if first.Priority != entity.ChangeOrderPriorityMedium {
		t.Errorf("priority should default to medium, got %s", first.Priority)
	}

	second, err := svc.Create(ctx, "requester", newOrderRequest("approver-1"))
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	if second.Number != "002" {
		t.Errorf("second ECN should be 002, got %s", second.Number)
	}

	// ECR numbering runs independently of ECN
	req := newOrderRequest("approver-1")
	req.Type = entity.ChangeOrderTypeECR
	ecr, err := svc.Create(ctx, "requester", req)
	if err != nil {
		t.Fatalf("ECR create failed: %v", err)
	}
	if ecr.Number != "001" {
		t.Errorf("first ECR should be 001, got %s", ecr.Number)
	}
}

func TestChangeOrderCreateValidation(t *testing.T) {
	_, svc := setupChangeOrderTest(t)
	ctx := context.Background()

	var validationErr *apperror.ValidationError

	req := newOrderRequest("approver-1")
	req.Type = "XYZ"
	if _, err := svc.Create(ctx, "requester", req); !errors.As(err, &validationErr) {
		t.Errorf("bad type should fail validation, got %v", err)
	}

	req = newOrderRequest("approver-1")
	req.Title = "shrt"
	if _, err := svc.Create(ctx, "requester", req); !errors.As(err, &validationErr) {
		t.Errorf("short title should fail validation, got %v", err)
	}

	req = newOrderRequest("approver-1")
	req.Description = "too short"
	if _, err := svc.Create(ctx, "requester", req); !errors.As(err, &validationErr) {
		t.Errorf("short description should fail validation, got %v", err)
	}

	req = newOrderRequest()
	if _, err := svc.Create(ctx, "requester", req); !errors.As(err, &validationErr) {
		t.Errorf("empty approver list should fail validation, got %v", err)
	}

	req = newOrderRequest("approver-1", "approver-1")
	if _, err := svc.Create(ctx, "requester", req); !errors.As(err, &validationErr) {
		t.Errorf("duplicate approvers should fail validation, got %v", err)
	}

	var notFoundErr *apperror.NotFoundError
	req = newOrderRequest("ghost")
	if _, err := svc.Create(ctx, "requester", req); !errors.As(err, &notFoundErr) {
		t.Errorf("unknown approver should be not found, got %v", err)
	}
}

// Full happy path: draft -> submitted -> in_review -> approved -> implemented,
// with every step leaving exactly one audit entry.
func TestChangeOrderFullWorkflow(t *testing.T) {
	_, svc := setupChangeOrderTest(t)
	ctx := context.Background()

	order, err := svc.Create(ctx, "requester", newOrderRequest("approver-1", "approver-2"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	order, err = svc.Submit(ctx, order.ID, "requester")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if order.Status != entity.ChangeOrderStatusSubmitted {
		t.Fatalf("expected submitted, got %s", order.Status)
	}

	order, err = svc.AcceptForReview(ctx, order.ID, "approver-1")
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if order.Status != entity.ChangeOrderStatusInReview {
		t.Fatalf("expected in_review, got %s", order.Status)
	}

	// First approval: still in review
	order, err = svc.Review(ctx, order.ID, "approver-1", &ReviewRequest{Status: "approved", Comment: "LGTM"})
	if err != nil {
		t.Fatalf("first review failed: %v", err)
	}
	if order.Status != entity.ChangeOrderStatusInReview {
		t.Fatalf("one of two approvals should stay in_review, got %s", order.Status)
	}
	if order.ApprovalProgress == nil || order.ApprovalProgress.Approved != 1 || order.ApprovalProgress.Pending != 1 {
		t.Errorf("unexpected progress: %+v", order.ApprovalProgress)
	}

	// Second approval: consensus reached
	order, err = svc.Review(ctx, order.ID, "approver-2", &ReviewRequest{Status: "approved"})
	if err != nil {
		t.Fatalf("second review failed: %v", err)
	}
	if order.Status != entity.ChangeOrderStatusApproved {
		t.Fatalf("all approvals in should mean approved, got %s", order.Status)
	}

	order, err = svc.Implement(ctx, order.ID, "requester", strPtr("part-001-rev-a"))
	if err != nil {
		t.Fatalf("implement failed: %v", err)
	}
	if order.Status != entity.ChangeOrderStatusImplemented {
		t.Fatalf("expected implemented, got %s", order.Status)
	}
	if order.ImplementedAt == nil {
		t.Error("implemented_at should be set")
	}
	if order.ImplementedRevisionID == nil || *order.ImplementedRevisionID != "part-001-rev-a" {
		t.Errorf("implemented_revision_id should record the applied revision, got %v", order.ImplementedRevisionID)
	}

	audit, err := svc.GetAuditTrail(ctx, order.ID)
	if err != nil {
		t.Fatalf("audit trail failed: %v", err)
	}
	// submit, accept, review, review, implement
	if len(audit) != 5 {
		t.Fatalf("expected 5 audit entries, got %d", len(audit))
	}
	if audit[0].FromStatus != entity.ChangeOrderStatusDraft || audit[0].ToStatus != entity.ChangeOrderStatusSubmitted {
		t.Errorf("first audit entry should be draft -> submitted, got %s -> %s", audit[0].FromStatus, audit[0].ToStatus)
	}
	if audit[4].ToStatus != entity.ChangeOrderStatusImplemented {
		t.Errorf("last audit entry should end implemented, got %s", audit[4].ToStatus)
	}
}

func TestChangeOrderRejectionShortCircuits(t *testing.T) {
	_, svc := setupChangeOrderTest(t)
	ctx := context.Background()

	order, err := svc.Create(ctx, "requester", newOrderRequest("approver-1", "approver-2"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.Submit(ctx, order.ID, "requester"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := svc.AcceptForReview(ctx, order.ID, "approver-1"); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	// One rejection decides the order even with another approver pending
	order, err = svc.Review(ctx, order.ID, "approver-1", &ReviewRequest{Status: "rejected", Comment: "wrong torque spec"})
	if err != nil {
		t.Fatalf("reject review failed: %v", err)
	}
	if order.Status != entity.ChangeOrderStatusRejected {
		t.Fatalf("single rejection should reject the order, got %s", order.Status)
	}

	// Pending approver can no longer review
	var stateErr *apperror.StateError
	_, err = svc.Review(ctx, order.ID, "approver-2", &ReviewRequest{Status: "approved"})
	if !errors.As(err, &stateErr) {
		t.Fatalf("review after rejection should be a state error, got %v", err)
	}

	// Resubmit resets all approver decisions to pending
	order, err = svc.Submit(ctx, order.ID, "requester")
	if err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}
	if order.Status != entity.ChangeOrderStatusSubmitted {
		t.Fatalf("expected submitted after resubmit, got %s", order.Status)
	}
	for _, a := range order.Approvers {
		if a.Status != entity.ApproverStatusPending {
			t.Errorf("approver %s should be reset to pending, got %s", a.ApproverID, a.Status)
		}
	}
}

func TestChangeOrderRejectRequiresComment(t *testing.T) {
	_, svc := setupChangeOrderTest(t)
	ctx := context.Background()

	order, _ := svc.Create(ctx, "requester", newOrderRequest("approver-1"))
	svc.Submit(ctx, order.ID, "requester")
	svc.AcceptForReview(ctx, order.ID, "approver-1")

	var validationErr *apperror.ValidationError
	_, err := svc.Review(ctx, order.ID, "approver-1", &ReviewRequest{Status: "rejected", Comment: "   "})
	if !errors.As(err, &validationErr) {
		t.Fatalf("rejection without comment should fail validation, got %v", err)
	}
}

func TestChangeOrderReviewAccessControl(t *testing.T) {
	_, svc := setupChangeOrderTest(t)
	ctx := context.Background()

	order, _ := svc.Create(ctx, "requester", newOrderRequest("approver-1"))
	svc.Submit(ctx, order.ID, "requester")
	svc.AcceptForReview(ctx, order.ID, "approver-1")

	// Requester is not an approver on this order
	var accessErr *apperror.AccessError
	_, err := svc.Review(ctx, order.ID, "requester", &ReviewRequest{Status: "approved"})
	if !errors.As(err, &accessErr) {
		t.Fatalf("non-approver review should be an access error, got %v", err)
	}

	// Approver cannot vote twice
	if _, err := svc.Review(ctx, order.ID, "approver-1", &ReviewRequest{Status: "approved"}); err != nil {
		t.Fatalf("first vote failed: %v", err)
	}
	var stateErr *apperror.StateError
	_, err = svc.Review(ctx, order.ID, "approver-1", &ReviewRequest{Status: "approved"})
	if !errors.As(err, &stateErr) {
		t.Fatalf("double vote should be a state error, got %v", err)
	}
}

func TestChangeOrderDraftOnlyGuards(t *testing.T) {
	_, svc := setupChangeOrderTest(t)
	ctx := context.Background()

	order, _ := svc.Create(ctx, "requester", newOrderRequest("approver-1"))

	// Only the requester may submit
	var accessErr *apperror.AccessError
	if _, err := svc.Submit(ctx, order.ID, "approver-1"); !errors.As(err, &accessErr) {
		t.Errorf("non-requester submit should be an access error, got %v", err)
	}

	svc.Submit(ctx, order.ID, "requester")

	// After submission: no update, no delete, no approver changes
	var stateErr *apperror.StateError
	_, err := svc.Update(ctx, order.ID, "requester", &UpdateChangeOrderRequest{Title: strPtr("New title here")})
	if !errors.As(err, &stateErr) {
		t.Errorf("update after submit should be a state error, got %v", err)
	}
	if err := svc.Delete(ctx, order.ID, "requester"); !errors.As(err, &stateErr) {
		t.Errorf("delete after submit should be a state error, got %v", err)
	}
	if _, err := svc.AddApprover(ctx, order.ID, "requester", "approver-2"); !errors.As(err, &stateErr) {
		t.Errorf("adding approver after submit should be a state error, got %v", err)
	}

	// Terminal state cannot move
	if _, err := svc.Implement(ctx, order.ID, "requester", nil); !errors.As(err, &stateErr) {
		t.Errorf("implement from submitted should be a state error, got %v", err)
	}
}

func TestChangeOrderApproverManagement(t *testing.T) {
	_, svc := setupChangeOrderTest(t)
	ctx := context.Background()

	order, _ := svc.Create(ctx, "requester", newOrderRequest("approver-1"))

	order, err := svc.AddApprover(ctx, order.ID, "requester", "approver-2")
	if err != nil {
		t.Fatalf("add approver failed: %v", err)
	}
	if len(order.Approvers) != 2 {
		t.Fatalf("expected 2 approvers, got %d", len(order.Approvers))
	}

	// Duplicate add is rejected
	var validationErr *apperror.ValidationError
	if _, err := svc.AddApprover(ctx, order.ID, "requester", "approver-2"); !errors.As(err, &validationErr) {
		t.Errorf("duplicate approver should fail validation, got %v", err)
	}

	order, err = svc.RemoveApprover(ctx, order.ID, "requester", "approver-2")
	if err != nil {
		t.Fatalf("remove approver failed: %v", err)
	}
	if len(order.Approvers) != 1 {
		t.Fatalf("expected 1 approver after removal, got %d", len(order.Approvers))
	}
}

func TestChangeOrderImpactAnalysis(t *testing.T) {
	db, svc := setupChangeOrderTest(t)
	ctx := context.Background()

	// part-001 is used by two assemblies
	testutil.SeedTestPart(t, db, "part-asm1", "proj-001", "PN-ASM1", "Assembly One", "requester")
	testutil.SeedTestPart(t, db, "part-asm2", "proj-001", "PN-ASM2", "Assembly Two", "requester")
	testutil.SeedBOMItem(t, db, "e1", "proj-001", "part-asm1", "part-001", "1", 1, "requester")
	testutil.SeedBOMItem(t, db, "e2", "proj-001", "part-asm2", "part-001", "2", 1, "requester")

	order, err := svc.Create(ctx, "requester", newOrderRequest("approver-1"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	other, err := svc.Create(ctx, "requester", newOrderRequest("approver-1"))
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}

	result, err := svc.PerformImpactAnalysis(ctx, order.ID)
	if err != nil {
		t.Fatalf("impact analysis failed: %v", err)
	}
	if len(result.AffectedParts) != 1 {
		t.Fatalf("expected 1 affected part, got %d", len(result.AffectedParts))
	}
	if result.AffectedParts[0].WhereUsedCount != 2 {
		t.Errorf("part-001 is used by 2 assemblies, got %d", result.AffectedParts[0].WhereUsedCount)
	}

	// The other order shares part-001, so it shows up as related
	foundOther := false
	for _, related := range result.RelatedChangeOrders {
		if related.ID == other.ID {
			foundOther = true
		}
		if related.ID == order.ID {
			t.Error("impact analysis must not list the order itself")
		}
	}
	if !foundOther {
		t.Error("order sharing an affected part should be listed as related")
	}
}

func TestChangeOrderStatistics(t *testing.T) {
	_, svc := setupChangeOrderTest(t)
	ctx := context.Background()

	order, _ := svc.Create(ctx, "requester", newOrderRequest("approver-1"))
	svc.Create(ctx, "requester", newOrderRequest("approver-1"))
	svc.Submit(ctx, order.ID, "requester")

	stats, err := svc.GetProjectStatistics(ctx, "proj-001")
	if err != nil {
		t.Fatalf("statistics failed: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("expected 2 orders, got %d", stats.Total)
	}
	if stats.ByStatus[entity.ChangeOrderStatusDraft] != 1 || stats.ByStatus[entity.ChangeOrderStatusSubmitted] != 1 {
		t.Errorf("unexpected status counts: %v", stats.ByStatus)
	}
	if stats.ByType[entity.ChangeOrderTypeECN] != 2 {
		t.Errorf("unexpected type counts: %v", stats.ByType)
	}
}

func TestChangeOrderListFilters(t *testing.T) {
	_, svc := setupChangeOrderTest(t)
	ctx := context.Background()

	urgent := newOrderRequest("approver-1")
	urgent.Title = "Urgent fastener change on assembly"
	urgent.Priority = entity.ChangeOrderPriorityUrgent
	urgentOrder, err := svc.Create(ctx, "requester", urgent)
	if err != nil {
		t.Fatalf("create urgent failed: %v", err)
	}

	low := newOrderRequest("approver-1")
	low.Title = "Low priority label artwork update"
	low.Priority = entity.ChangeOrderPriorityLow
	if _, err := svc.Create(ctx, "requester", low); err != nil {
		t.Fatalf("create low failed: %v", err)
	}

	result, err := svc.List(ctx, "proj-001", 1, 20, map[string]interface{}{
		"priority": entity.ChangeOrderPriorityUrgent,
	})
	if err != nil {
		t.Fatalf("list by priority failed: %v", err)
	}
	if result.Total != 1 || len(result.Items) != 1 {
		t.Fatalf("expected exactly one urgent order, got total=%d items=%d", result.Total, len(result.Items))
	}
	if result.Items[0].ID != urgentOrder.ID {
		t.Errorf("wrong order returned: %s", result.Items[0].ID)
	}

	result, err = svc.List(ctx, "proj-001", 1, 20, map[string]interface{}{
		"priority": entity.ChangeOrderPriorityUrgent,
		"status":   entity.ChangeOrderStatusDraft,
	})
	if err != nil {
		t.Fatalf("list by priority+status failed: %v", err)
	}
	if result.Total != 1 {
		t.Errorf("combined filters should still match the urgent draft, got %d", result.Total)
	}

	result, err = svc.List(ctx, "proj-001", 1, 20, map[string]interface{}{
		"priority": entity.ChangeOrderPriorityHigh,
	})
	if err != nil {
		t.Fatalf("list by high priority failed: %v", err)
	}
	if result.Total != 0 {
		t.Errorf("no high priority orders exist, got %d", result.Total)
	}
}

func TestChangeOrderTitleLengthCountsRunes(t *testing.T) {
	_, svc := setupChangeOrderTest(t)
	ctx := context.Background()

	// Five CJK characters satisfy the five-character title minimum even
	// though they encode to fifteen bytes.
	req := newOrderRequest("approver-1")
	req.Title = "更换主装配件"
	req.Description = "将M3螺丝更换为M4以提高抗振性能"
	if _, err := svc.Create(ctx, "requester", req); err != nil {
		t.Fatalf("CJK title and description should be accepted: %v", err)
	}

	// Four CJK characters are twelve bytes but still too short a title.
	var valErr *apperror.ValidationError
	short := newOrderRequest("approver-1")
	short.Title = "更换螺丝"
	if _, err := svc.Create(ctx, "requester", short); !errors.As(err, &valErr) {
		t.Fatalf("four-character title should fail validation, got %v", err)
	}
}
